// ABOUTME: Keyword-based voting-type classification for poll options
// ABOUTME: Pluggable Classifier strategy with a Russian/English default lexicon

package decision

import (
	"strings"

	"github.com/veche-bot/veche/internal/store"
)

// Classifier derives a poll's voting semantics from its option texts.
// The classification is a heuristic over a language-specific lexicon, so it is
// an injected strategy rather than a hard-coded rule set.
type Classifier interface {
	// Classify returns the voting type for the given options.
	Classify(options []string) store.VotingType

	// AffirmativeIndex returns the index of the affirmative option, or false
	// when no option matches the affirmative keyword class.
	AffirmativeIndex(options []string) (int, bool)
}

// Lexicon holds the keyword classes used by KeywordClassifier. All entries
// are matched against normalized (lower-cased, punctuation-stripped) options.
type Lexicon struct {
	Affirmative []string
	Negative    []string
	Abstaining  []string
}

// DefaultLexicon covers the Russian vocabulary the bot was built around plus
// common English equivalents.
func DefaultLexicon() Lexicon {
	return Lexicon{
		Affirmative: []string{
			"за", "да", "поддерживаю", "согласен", "согласна", "одобряю", "подходит",
			"yes", "aye", "for", "approve", "agree",
		},
		Negative: []string{
			"против", "нет", "не поддерживаю", "не согласен", "не согласна", "не подходит",
			"no", "nay", "against", "reject", "disagree",
		},
		Abstaining: []string{
			"воздержался", "воздержалась", "воздержаться", "воздержусь", "воздерживаюсь",
			"abstain", "abstained", "pass",
		},
	}
}

// KeywordClassifier classifies options by matching their normalized text and
// tokens against fixed keyword sets.
type KeywordClassifier struct {
	affirmative map[string]struct{}
	negative    map[string]struct{}
	abstaining  map[string]struct{}
}

// NewKeywordClassifier builds a classifier from the given lexicon.
func NewKeywordClassifier(lex Lexicon) *KeywordClassifier {
	return &KeywordClassifier{
		affirmative: toSet(lex.Affirmative),
		negative:    toSet(lex.Negative),
		abstaining:  toSet(lex.Abstaining),
	}
}

func toSet(words []string) map[string]struct{} {
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[normalizeOption(w)] = struct{}{}
	}
	return set
}

// normalizeOption case-folds an option and strips surrounding whitespace and
// trailing punctuation.
func normalizeOption(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.TrimRight(s, "!?.,;: ")
}

type keywordClass int

const (
	classNone keywordClass = iota
	classAffirmative
	classNegative
	classAbstaining
)

// classify returns the keyword class of a single normalized option. The whole
// option is matched first; failing that, any single token may match, so
// "да, согласен" still counts as affirmative.
func (c *KeywordClassifier) classifyOption(normalized string) keywordClass {
	candidates := append([]string{normalized}, strings.Fields(normalized)...)
	for _, candidate := range candidates {
		candidate = strings.TrimRight(candidate, "!?.,;:")
		if _, ok := c.affirmative[candidate]; ok {
			return classAffirmative
		}
		if _, ok := c.negative[candidate]; ok {
			return classNegative
		}
		if _, ok := c.abstaining[candidate]; ok {
			return classAbstaining
		}
	}
	return classNone
}

// Classify applies the classification rules in priority order:
//
//  1. exactly 2 options matching affirmative+negative: binary
//  2. exactly 3 options matching affirmative+negative+abstaining: approval
//  3. more than 3 options: choice, unconditionally
//  4. fallback: all three classes matched anywhere: approval;
//     affirmative+negative matched: binary; anything else: choice
func (c *KeywordClassifier) Classify(options []string) store.VotingType {
	normalized := normalizeDedupe(options)

	matched := make(map[keywordClass]bool)
	classes := make([]keywordClass, len(normalized))
	for i, opt := range normalized {
		classes[i] = c.classifyOption(opt)
		matched[classes[i]] = true
	}

	if len(normalized) == 2 && matched[classAffirmative] && matched[classNegative] {
		return store.VotingBinary
	}
	if len(normalized) == 3 && matched[classAffirmative] && matched[classNegative] && matched[classAbstaining] {
		return store.VotingApproval
	}
	if len(normalized) > 3 {
		return store.VotingChoice
	}
	if matched[classAffirmative] && matched[classNegative] && matched[classAbstaining] {
		return store.VotingApproval
	}
	if matched[classAffirmative] && matched[classNegative] {
		return store.VotingBinary
	}
	return store.VotingChoice
}

// AffirmativeIndex returns the index (in the original option order) of the
// first option matching the affirmative class.
func (c *KeywordClassifier) AffirmativeIndex(options []string) (int, bool) {
	for i, opt := range options {
		if c.classifyOption(normalizeOption(opt)) == classAffirmative {
			return i, true
		}
	}
	return 0, false
}

// normalizeDedupe normalizes all options and drops duplicates, preserving order.
func normalizeDedupe(options []string) []string {
	seen := make(map[string]struct{}, len(options))
	var out []string
	for _, opt := range options {
		n := normalizeOption(opt)
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}

var _ Classifier = (*KeywordClassifier)(nil)

// ABOUTME: Variable extraction and substitution for poll templates
// ABOUTME: Handles {name} placeholders with a lossy [name] fallback for unresolved variables

package template

import (
	"regexp"
	"sort"
)

// variablePattern matches a {name} span of 1-30 characters: letters in any
// script, digits, underscore, hyphen, dot and space. Braces cannot nest, so a
// variable name may not itself contain '{' or '}'.
var variablePattern = regexp.MustCompile(`\{([\p{L}\p{N}_\-. ]{1,30})\}`)

// ExtractVariables returns the sorted, de-duplicated set of variable names
// referenced in text.
func ExtractVariables(text string) []string {
	matches := variablePattern.FindAllStringSubmatch(text, -1)
	seen := make(map[string]struct{}, len(matches))
	var names []string
	for _, m := range matches {
		name := m[1]
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Substitute replaces each {name} placeholder that has a value in values.
// Placeholders left unresolved are rendered as [name] rather than left raw or
// treated as an error; callers depend on this lossy fallback.
func Substitute(text string, values map[string]string) string {
	return variablePattern.ReplaceAllStringFunc(text, func(match string) string {
		name := variablePattern.FindStringSubmatch(match)[1]
		if value, ok := values[name]; ok {
			return value
		}
		return "[" + name + "]"
	})
}

// HasUnresolved reports whether text still contains a {name} placeholder.
func HasUnresolved(text string) bool {
	return variablePattern.MatchString(text)
}

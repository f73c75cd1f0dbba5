// ABOUTME: Decision engine owning poll lifecycle, vote recording and outcome computation
// ABOUTME: Validates and creates polls, upserts votes, auto-closes on cap, computes status

package decision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/veche-bot/veche/internal/dedupe"
	"github.com/veche-bot/veche/internal/store"
)

var (
	// ErrPollClosed is returned when a vote arrives for a closed poll
	ErrPollClosed = errors.New("poll is closed")

	// ErrForbidden is returned when the actor lacks the required permission
	ErrForbidden = errors.New("insufficient permissions")

	// ErrAlreadyClosed reports an idempotent close of an already-closed poll.
	// It is a conflict to surface, not a failure.
	ErrAlreadyClosed = errors.New("poll already closed")
)

// ValidationError carries a user-facing reason for rejecting an input.
// It is surfaced to the actor verbatim and never retried.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

// Store defines what the engine needs from persistence.
type Store interface {
	GetUser(ctx context.Context, id string) (*store.User, error)
	CreatePoll(ctx context.Context, p *store.Poll) error
	GetPoll(ctx context.Context, id string) (*store.Poll, error)
	ClosePoll(ctx context.Context, id string) (bool, error)
	CloseExpiredPolls(ctx context.Context, olderThan time.Time) ([]string, error)
	FindRecentPoll(ctx context.Context, creatorID, question string, since time.Time) (*store.Poll, error)
	CacheDecision(ctx context.Context, pollID string, status store.DecisionStatus) (*store.Poll, error)
	UpsertVote(ctx context.Context, v *store.Vote) error
	CountDistinctVoters(ctx context.Context, pollID string) (int, error)
	VoteCounts(ctx context.Context, pollID string) (map[int]int, error)
	IncrementTemplateUsage(ctx context.Context, name string) error
}

// MembershipChecker confirms channel membership for voters whose stored
// permission alone is not enough. A nil checker confirms nobody.
type MembershipChecker interface {
	IsMember(ctx context.Context, chatID, userID string) (bool, error)
}

// Limits bounds poll inputs.
type Limits struct {
	MaxQuestionLen   int
	MaxOptionLen     int
	MaxOptions       int
	DefaultThreshold int
	DuplicateWindow  time.Duration
}

// DefaultLimits mirror the configured defaults.
func DefaultLimits() Limits {
	return Limits{
		MaxQuestionLen:   300,
		MaxOptionLen:     100,
		MaxOptions:       10,
		DefaultThreshold: 50,
		DuplicateWindow:  time.Hour,
	}
}

// Engine owns poll lifecycle and decision computation. Decision status is
// always recomputed from a fresh read of the vote rows; nothing here caches
// mutable vote state.
type Engine struct {
	store      Store
	classifier Classifier
	duplicates *dedupe.Cache
	members    MembershipChecker
	limits     Limits
	logger     *slog.Logger
}

// New creates a decision engine. classifier and duplicates are required;
// members may be nil when the transport cannot confirm membership.
func New(st Store, classifier Classifier, duplicates *dedupe.Cache, members MembershipChecker, limits Limits, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:      st,
		classifier: classifier,
		duplicates: duplicates,
		members:    members,
		limits:     limits,
		logger:     logger.With("component", "decision"),
	}
}

// CreatePollRequest carries the inputs for a new poll.
type CreatePollRequest struct {
	Question     string
	Options      []string
	CreatorID    string
	ChatID       string
	Threshold    int              // 0 means the configured default
	Cap          int              // 0 means unlimited
	VotingType   store.VotingType // empty means classify from options
	NonAnonymous bool
	TemplateUsed string
}

// CreatePoll validates the request, classifies its voting semantics when no
// explicit type is given, and persists the poll.
func (e *Engine) CreatePoll(ctx context.Context, req CreatePollRequest) (*store.Poll, error) {
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return nil, &ValidationError{Reason: "Вопрос не может быть пустым"}
	}
	if len([]rune(question)) > e.limits.MaxQuestionLen {
		return nil, &ValidationError{Reason: fmt.Sprintf("Вопрос слишком длинный (макс. %d символов)", e.limits.MaxQuestionLen)}
	}
	if len(req.Options) < 2 {
		return nil, &ValidationError{Reason: "Нужно минимум 2 варианта ответа"}
	}
	if len(req.Options) > e.limits.MaxOptions {
		return nil, &ValidationError{Reason: fmt.Sprintf("Максимум %d вариантов", e.limits.MaxOptions)}
	}
	options := make([]string, len(req.Options))
	for i, opt := range req.Options {
		opt = strings.TrimSpace(opt)
		if opt == "" {
			return nil, &ValidationError{Reason: "Варианты ответов не могут быть пустыми"}
		}
		if len([]rune(opt)) > e.limits.MaxOptionLen {
			return nil, &ValidationError{Reason: fmt.Sprintf("Вариант слишком длинный (макс. %d символов)", e.limits.MaxOptionLen)}
		}
		options[i] = opt
	}

	threshold := req.Threshold
	if threshold == 0 {
		threshold = e.limits.DefaultThreshold
	}
	if threshold < 1 || threshold > 100 {
		return nil, &ValidationError{Reason: "Порог должен быть от 1 до 100"}
	}
	if req.Cap < 0 {
		return nil, &ValidationError{Reason: "Лимит участников не может быть отрицательным"}
	}

	// Duplicate suppression: same creator, identical question, within the
	// window. The in-memory cache is the fast path; the store query covers
	// questions posted before a restart.
	dupKey := dedupe.Key(req.CreatorID, question)
	if e.duplicates.SeenOrRecord(dupKey) {
		return nil, &ValidationError{Reason: "Вы уже создавали такой опрос недавно"}
	}
	if _, err := e.store.FindRecentPoll(ctx, req.CreatorID, question, time.Now().Add(-e.limits.DuplicateWindow)); err == nil {
		return nil, &ValidationError{Reason: "Вы уже создавали такой опрос недавно"}
	} else if !errors.Is(err, store.ErrNotFound) {
		e.duplicates.Forget(dupKey)
		return nil, fmt.Errorf("checking duplicate poll: %w", err)
	}

	votingType := req.VotingType
	if votingType == "" {
		votingType = e.classifier.Classify(options)
	}

	poll := &store.Poll{
		ID:             uuid.NewString(),
		Question:       question,
		Options:        options,
		ChatID:         req.ChatID,
		CreatorID:      req.CreatorID,
		Status:         store.PollStatusActive,
		Threshold:      threshold,
		Cap:            req.Cap,
		VotingType:     votingType,
		NonAnonymous:   req.NonAnonymous,
		DecisionStatus: store.DecisionPending,
		TemplateUsed:   req.TemplateUsed,
		CreatedAt:      time.Now(),
	}
	if err := e.store.CreatePoll(ctx, poll); err != nil {
		e.duplicates.Forget(dupKey)
		return nil, fmt.Errorf("creating poll: %w", err)
	}
	if req.TemplateUsed != "" {
		if err := e.store.IncrementTemplateUsage(ctx, req.TemplateUsed); err != nil {
			e.logger.Warn("incrementing template usage failed", "template", req.TemplateUsed, "error", err)
		}
	}

	e.logger.Info("poll created",
		"id", poll.ID, "creator", poll.CreatorID, "voting_type", poll.VotingType,
		"threshold", poll.Threshold, "cap", poll.Cap)
	return poll, nil
}

// Outcome is the computed decision state of a poll.
type Outcome struct {
	Status      store.DecisionStatus
	Number      *int    // assigned on the first non-pending status, stable afterwards
	Share       float64 // winning/affirmative share of the base, in percent
	TotalVoters int
}

// VoteResult reports the effect of a recorded vote.
type VoteResult struct {
	Poll        *store.Poll
	Outcome     Outcome
	ClosedByCap bool
}

// CastVote records (or replaces) the voter's choice and recomputes the
// decision. When the vote reaches the participant cap, the poll is closed as a
// side effect of the same call.
//
// Returns store.ErrNotFound, ErrPollClosed, ErrForbidden or a ValidationError.
func (e *Engine) CastVote(ctx context.Context, pollID, voterID, displayName string, optionIndex int) (*VoteResult, error) {
	poll, err := e.store.GetPoll(ctx, pollID)
	if err != nil {
		return nil, err
	}
	if !poll.Active() {
		return nil, ErrPollClosed
	}
	if optionIndex < 0 || optionIndex >= len(poll.Options) {
		return nil, &ValidationError{Reason: "Такого варианта нет"}
	}

	if err := e.authorizeVoter(ctx, poll, voterID); err != nil {
		return nil, err
	}

	if err := e.store.UpsertVote(ctx, &store.Vote{
		PollID:      pollID,
		VoterID:     voterID,
		OptionIndex: optionIndex,
		DisplayName: displayName,
		VotedAt:     time.Now(),
	}); err != nil {
		return nil, fmt.Errorf("recording vote: %w", err)
	}

	total, err := e.store.CountDistinctVoters(ctx, pollID)
	if err != nil {
		return nil, fmt.Errorf("counting voters: %w", err)
	}

	closedByCap := false
	if poll.Cap > 0 && total >= poll.Cap {
		// The store update is conditional on status, so a re-trigger is a no-op.
		closed, err := e.store.ClosePoll(ctx, pollID)
		if err != nil {
			return nil, fmt.Errorf("closing poll at cap: %w", err)
		}
		closedByCap = closed
		if closed {
			e.logger.Info("poll closed by participant cap", "id", pollID, "cap", poll.Cap)
		}
	}

	outcome, poll, err := e.CheckDecisionStatus(ctx, pollID)
	if err != nil {
		return nil, err
	}
	return &VoteResult{Poll: poll, Outcome: *outcome, ClosedByCap: closedByCap}, nil
}

// authorizeVoter rejects voters below the minimum permission that also cannot
// be confirmed as channel members.
func (e *Engine) authorizeVoter(ctx context.Context, poll *store.Poll, voterID string) error {
	user, err := e.store.GetUser(ctx, voterID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("looking up voter: %w", err)
	}
	if user != nil && user.Permission.AtLeast(store.PermissionUse) {
		return nil
	}
	if e.members != nil {
		member, err := e.members.IsMember(ctx, poll.ChatID, voterID)
		if err != nil {
			return fmt.Errorf("confirming membership: %w", err)
		}
		if member {
			return nil
		}
	}
	return ErrForbidden
}

// ClosePoll closes a poll on behalf of its creator or an admin and finalizes
// the decision status. Closing an already-closed poll returns ErrAlreadyClosed.
func (e *Engine) ClosePoll(ctx context.Context, pollID, actorID string) (*store.Poll, error) {
	poll, err := e.store.GetPoll(ctx, pollID)
	if err != nil {
		return nil, err
	}

	actor, err := e.store.GetUser(ctx, actorID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("looking up actor: %w", err)
	}
	isAdmin := actor != nil && actor.Permission.AtLeast(store.PermissionAdmin)
	if poll.CreatorID != actorID && !isAdmin {
		return nil, ErrForbidden
	}

	closed, err := e.store.ClosePoll(ctx, pollID)
	if err != nil {
		return nil, err
	}
	if !closed {
		return nil, ErrAlreadyClosed
	}

	_, poll, err = e.CheckDecisionStatus(ctx, pollID)
	if err != nil {
		return nil, err
	}
	return poll, nil
}

// CheckDecisionStatus computes the poll's decision from a fresh read of the
// vote rows. The first transition to accepted or rejected caches the status
// and assigns the next sequential decision number; afterwards the cached
// verdict is returned unchanged (the decision is monotone-stable).
func (e *Engine) CheckDecisionStatus(ctx context.Context, pollID string) (*Outcome, *store.Poll, error) {
	poll, err := e.store.GetPoll(ctx, pollID)
	if err != nil {
		return nil, nil, err
	}

	total, err := e.store.CountDistinctVoters(ctx, pollID)
	if err != nil {
		return nil, nil, fmt.Errorf("counting voters: %w", err)
	}

	if poll.DecisionStatus != store.DecisionPending {
		return &Outcome{
			Status:      poll.DecisionStatus,
			Number:      poll.DecisionNumber,
			TotalVoters: total,
		}, poll, nil
	}

	counts, err := e.store.VoteCounts(ctx, pollID)
	if err != nil {
		return nil, nil, fmt.Errorf("reading vote counts: %w", err)
	}

	status, share := e.evaluate(poll, counts, total)
	if status == store.DecisionPending {
		return &Outcome{Status: status, Share: share, TotalVoters: total}, poll, nil
	}

	poll, err = e.store.CacheDecision(ctx, pollID, status)
	if err != nil {
		return nil, nil, fmt.Errorf("caching decision: %w", err)
	}
	e.logger.Info("decision reached",
		"id", pollID, "status", status, "number", derefOr(poll.DecisionNumber, 0), "share", share)
	return &Outcome{Status: status, Number: poll.DecisionNumber, Share: share, TotalVoters: total}, poll, nil
}

// evaluate applies the threshold rules for the poll's voting type.
//
// The rounding tolerance is deliberately asymmetric: binary polls compare the
// affirmative share strictly against the threshold, while approval and choice
// polls allow a 0.5-point tolerance. The asymmetry is preserved as documented
// behavior pending product clarification.
func (e *Engine) evaluate(poll *store.Poll, counts map[int]int, total int) (store.DecisionStatus, float64) {
	if total == 0 {
		return store.DecisionPending, 0
	}

	base := total
	if poll.Cap > 0 {
		base = poll.Cap
	}
	closed := !poll.Active()
	// No verdict is final below three distinct voters unless the poll is
	// closed. This keeps a lone early vote from deciding the question.
	final := total >= 3 || closed
	threshold := float64(poll.Threshold)

	votingType := poll.VotingType
	affIdx, haveAff := e.classifier.AffirmativeIndex(poll.Options)
	if (votingType == store.VotingBinary || votingType == store.VotingApproval) && !haveAff {
		// An explicitly typed poll whose options defeat the lexicon degrades
		// to plurality semantics.
		votingType = store.VotingChoice
	}

	switch votingType {
	case store.VotingBinary, store.VotingApproval:
		affVotes := counts[affIdx]
		share := float64(affVotes) / float64(base) * 100

		tolerance := 0.0
		if votingType == store.VotingApproval {
			tolerance = 0.5
		}
		if share >= threshold-tolerance && final {
			return store.DecisionAccepted, share
		}

		maxOther := 0
		for idx, n := range counts {
			if idx != affIdx && n > maxOther {
				maxOther = n
			}
		}
		if maxOther > affVotes && final {
			return store.DecisionRejected, share
		}
		return store.DecisionPending, share

	default: // choice
		best := 0
		for _, n := range counts {
			if n > best {
				best = n
			}
		}
		share := float64(best) / float64(base) * 100
		if !final {
			return store.DecisionPending, share
		}
		if share >= threshold-0.5 {
			return store.DecisionAccepted, share
		}
		return store.DecisionRejected, share
	}
}

// CloseExpired closes active polls older than maxAge and finalizes their
// decisions. Intended to run from the periodic sweep; failures on individual
// polls are logged and do not abort the rest.
func (e *Engine) CloseExpired(ctx context.Context, maxAge time.Duration) (int, error) {
	ids, err := e.store.CloseExpiredPolls(ctx, time.Now().Add(-maxAge))
	if err != nil {
		return 0, fmt.Errorf("closing expired polls: %w", err)
	}
	for _, id := range ids {
		if _, _, err := e.CheckDecisionStatus(ctx, id); err != nil {
			e.logger.Error("finalizing expired poll failed", "id", id, "error", err)
		}
	}
	return len(ids), nil
}

func derefOr(p *int, fallback int) int {
	if p == nil {
		return fallback
	}
	return *p
}

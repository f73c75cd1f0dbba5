// ABOUTME: Action token parser turning callback strings into typed variants
// ABOUTME: Strict allow-list; free-form tokens are rejected at the boundary

package bot

import (
	"errors"
	"regexp"
	"strconv"
	"strings"
)

// ErrBadAction is returned for tokens outside the allow-list.
var ErrBadAction = errors.New("invalid action token")

// Action is one of the closed set of button payloads the bot accepts.
type Action interface {
	isAction()
}

type CreateSimpleAction struct{}
type CreateTemplateAction struct{}
type NewTemplateAction struct{}

// UseTemplateAction instantiates the named template.
type UseTemplateAction struct {
	Name string
}

// CancelAction aborts a template instantiation session.
type CancelAction struct {
	SessionID string
}

// VoteAction records a vote for one option of a poll.
type VoteAction struct {
	PollID      string
	OptionIndex int
}

// ClosePollAction closes a poll on the actor's behalf.
type ClosePollAction struct {
	PollID string
}

// EditThresholdAction starts the threshold edit flow for a template.
type EditThresholdAction struct {
	Template string
}

func (CreateSimpleAction) isAction()   {}
func (CreateTemplateAction) isAction() {}
func (NewTemplateAction) isAction()    {}
func (UseTemplateAction) isAction()    {}
func (CancelAction) isAction()         {}
func (VoteAction) isAction()           {}
func (ClosePollAction) isAction()      {}
func (EditThresholdAction) isAction()  {}

var (
	templateNameRe = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
	uuidRe         = regexp.MustCompile(`^[a-f0-9-]{36}$`)
)

const maxTokenLen = 100

// ParseAction validates a raw token against the allow-list and returns its
// typed form. Anything else, including overlong tokens, is ErrBadAction.
func ParseAction(token string) (Action, error) {
	if token == "" || len(token) > maxTokenLen {
		return nil, ErrBadAction
	}

	switch token {
	case "create_simple":
		return CreateSimpleAction{}, nil
	case "create_template":
		return CreateTemplateAction{}, nil
	case "new_template":
		return NewTemplateAction{}, nil
	}

	kind, rest, ok := strings.Cut(token, ":")
	if !ok {
		return nil, ErrBadAction
	}
	switch kind {
	case "use":
		if !templateNameRe.MatchString(rest) {
			return nil, ErrBadAction
		}
		return UseTemplateAction{Name: rest}, nil
	case "cancel":
		if !uuidRe.MatchString(rest) {
			return nil, ErrBadAction
		}
		return CancelAction{SessionID: rest}, nil
	case "threshold":
		if !templateNameRe.MatchString(rest) {
			return nil, ErrBadAction
		}
		return EditThresholdAction{Template: rest}, nil
	case "close":
		if !uuidRe.MatchString(rest) {
			return nil, ErrBadAction
		}
		return ClosePollAction{PollID: rest}, nil
	case "vote":
		pollID, idxStr, ok := strings.Cut(rest, ":")
		if !ok || !uuidRe.MatchString(pollID) {
			return nil, ErrBadAction
		}
		idx, err := strconv.Atoi(idxStr)
		if err != nil || idx < 0 {
			return nil, ErrBadAction
		}
		return VoteAction{PollID: pollID, OptionIndex: idx}, nil
	default:
		return nil, ErrBadAction
	}
}

// ABOUTME: Per-user conversational state machine for poll and template authoring
// ABOUTME: One transition per text input; invalid input re-prompts without advancing

package wizard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/veche-bot/veche/internal/decision"
	"github.com/veche-bot/veche/internal/store"
	"github.com/veche-bot/veche/internal/template"
)

// Wizard states. Stored verbatim in the session row; a user with no session
// row is idle.
const (
	StateWaitingPollQuestion     = "waiting_poll_question"
	StateWaitingPollOptions      = "waiting_poll_options"
	StateWaitingTemplateName     = "waiting_template_name"
	StateWaitingTemplateQuestion = "waiting_template_question"
	StateWaitingTemplateOptions  = "waiting_template_options"
	StateWaitingVariableValue    = "waiting_variable_value"
	StateWaitingThreshold        = "waiting_threshold"
	StateWaitingCap              = "waiting_cap"
)

var templateNamePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{3,50}$`)

// payload is the wizard-defined JSON carried in the session row.
type payload struct {
	Question         string   `json:"question,omitempty"`
	TemplateName     string   `json:"template_name,omitempty"`
	TemplateQuestion string   `json:"template_question,omitempty"`
	Options          []string `json:"options,omitempty"`
	TargetTemplate   string   `json:"target_template,omitempty"`
	SessionID        string   `json:"session_id,omitempty"`
	ChatID           string   `json:"chat_id,omitempty"`
}

// Store defines what the wizard needs from persistence.
type Store interface {
	GetSession(ctx context.Context, userID string) (*store.Session, error)
	PutSession(ctx context.Context, s *store.Session) error
	DeleteSession(ctx context.Context, userID string) error
	DeleteIdleSessions(ctx context.Context, cutoff time.Time) (int, error)
	EnforceSessionCap(ctx context.Context, max int) (int, error)

	CreateTemplateSession(ctx context.Context, s *store.TemplateSession) error
	GetTemplateSession(ctx context.Context, id string) (*store.TemplateSession, error)
	GetTemplateSessionByUser(ctx context.Context, userID string) (*store.TemplateSession, error)
	UpdateTemplateSession(ctx context.Context, s *store.TemplateSession) error
	DeleteTemplateSession(ctx context.Context, id string) error
	DeleteIdleTemplateSessions(ctx context.Context, cutoff time.Time) (int, error)

	GetTemplate(ctx context.Context, name string) (*store.Template, error)
	CreateTemplate(ctx context.Context, t *store.Template) error
	SetTemplateThreshold(ctx context.Context, name string, threshold int) error
}

// PollCreator commits finished poll drafts. Satisfied by decision.Engine.
type PollCreator interface {
	CreatePoll(ctx context.Context, req decision.CreatePollRequest) (*store.Poll, error)
}

// Reply is the wizard's answer to one input or action.
type Reply struct {
	Text         string          // user-facing prompt or confirmation
	Poll         *store.Poll     // set when the transition created a poll
	Template     *store.Template // set when the transition saved a template
	CancelAction string          // action token offered alongside the prompt
	Done         bool            // the wizard finished and the session is cleared
}

// Service drives the per-user authoring state machine. All state lives in the
// store; the service itself is stateless and safe for concurrent use.
type Service struct {
	store  Store
	polls  PollCreator
	limits Limits
	logger *slog.Logger
}

// Limits bounds wizard inputs.
type Limits struct {
	MaxQuestionLen int
	MaxOptions     int
}

// DefaultLimits mirror the configured defaults.
func DefaultLimits() Limits {
	return Limits{MaxQuestionLen: 300, MaxOptions: 10}
}

func New(st Store, polls PollCreator, limits Limits, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: st, polls: polls, limits: limits, logger: logger.With("component", "wizard")}
}

// discard drops any in-progress session. Starting a wizard while another is
// active replaces it without confirmation; the loss is logged for diagnosis.
func (s *Service) discard(ctx context.Context, userID string) error {
	sess, err := s.store.GetSession(ctx, userID)
	switch {
	case errors.Is(err, store.ErrNotFound):
	case err != nil:
		return fmt.Errorf("loading session: %w", err)
	default:
		s.logger.Debug("replacing in-progress session", "user", userID, "state", sess.State)
		if err := s.store.DeleteSession(ctx, userID); err != nil && !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("deleting session: %w", err)
		}
	}
	// Template sessions are keyed on their own id; look them up by user so an
	// orphan is dropped even when the wizard row is gone or its payload is
	// unreadable.
	ts, err := s.store.GetTemplateSessionByUser(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("loading template session: %w", err)
	}
	if err := s.store.DeleteTemplateSession(ctx, ts.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("deleting template session: %w", err)
	}
	return nil
}

func (s *Service) put(ctx context.Context, userID, state string, p payload) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encoding session payload: %w", err)
	}
	return s.store.PutSession(ctx, &store.Session{
		UserID:    userID,
		State:     state,
		Payload:   raw,
		UpdatedAt: time.Now(),
	})
}

// StartSimplePoll begins the two-step question/options flow.
func (s *Service) StartSimplePoll(ctx context.Context, userID, chatID string) (*Reply, error) {
	if err := s.discard(ctx, userID); err != nil {
		return nil, err
	}
	if err := s.put(ctx, userID, StateWaitingPollQuestion, payload{ChatID: chatID}); err != nil {
		return nil, err
	}
	return &Reply{Text: "📝 Введите вопрос для опроса:"}, nil
}

// StartNewTemplate begins the template authoring flow.
func (s *Service) StartNewTemplate(ctx context.Context, userID, chatID string) (*Reply, error) {
	if err := s.discard(ctx, userID); err != nil {
		return nil, err
	}
	if err := s.put(ctx, userID, StateWaitingTemplateName, payload{ChatID: chatID}); err != nil {
		return nil, err
	}
	return &Reply{Text: "📝 Введите название шаблона (3-50 символов: буквы, цифры, _ -):"}, nil
}

// StartThresholdEdit begins editing the named template's decision threshold.
func (s *Service) StartThresholdEdit(ctx context.Context, userID, chatID, templateName string) (*Reply, error) {
	tmpl, err := s.store.GetTemplate(ctx, templateName)
	if errors.Is(err, store.ErrNotFound) {
		return &Reply{Text: "❌ Шаблон не найден", Done: true}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading template: %w", err)
	}
	if err := s.discard(ctx, userID); err != nil {
		return nil, err
	}
	if err := s.put(ctx, userID, StateWaitingThreshold, payload{TargetTemplate: tmpl.Name, ChatID: chatID}); err != nil {
		return nil, err
	}
	return &Reply{Text: fmt.Sprintf("📝 Текущий порог шаблона '%s': %d%%. Введите новый порог (1-100):", tmpl.Name, tmpl.Threshold)}, nil
}

// StartTemplateUse instantiates the named template. Templates without
// variables create a poll immediately; otherwise variable collection starts
// in template-declared order.
func (s *Service) StartTemplateUse(ctx context.Context, userID, chatID, templateName string) (*Reply, error) {
	tmpl, err := s.store.GetTemplate(ctx, templateName)
	if errors.Is(err, store.ErrNotFound) {
		return &Reply{Text: "❌ Шаблон не найден", Done: true}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading template: %w", err)
	}

	if err := s.discard(ctx, userID); err != nil {
		return nil, err
	}

	if len(tmpl.Variables) == 0 {
		return s.commitTemplatePoll(ctx, userID, chatID, tmpl, nil)
	}

	ts := &store.TemplateSession{
		ID:           uuid.NewString(),
		UserID:       userID,
		TemplateName: tmpl.Name,
		Variables:    tmpl.Variables,
		Values:       map[string]string{},
		ChatID:       chatID,
		CreatedAt:    time.Now(),
	}
	if err := s.store.CreateTemplateSession(ctx, ts); err != nil {
		return nil, fmt.Errorf("creating template session: %w", err)
	}
	if err := s.put(ctx, userID, StateWaitingVariableValue, payload{SessionID: ts.ID, ChatID: chatID}); err != nil {
		return nil, err
	}
	return &Reply{
		Text:         fmt.Sprintf("📝 Введите значение для переменной {%s}:", ts.NextVariable()),
		CancelAction: "cancel:" + ts.ID,
	}, nil
}

// Cancel aborts the template session and clears the user's wizard state.
func (s *Service) Cancel(ctx context.Context, userID, sessionID string) (*Reply, error) {
	if err := s.store.DeleteTemplateSession(ctx, sessionID); err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("deleting template session: %w", err)
	}
	if err := s.store.DeleteSession(ctx, userID); err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	return &Reply{Text: "Отменено", Done: true}, nil
}

// HandleText advances the user's wizard by exactly one transition. A nil
// reply means no wizard is active and the input is not the wizard's to handle.
func (s *Service) HandleText(ctx context.Context, userID, chatID, text string) (*Reply, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}

	sess, err := s.store.GetSession(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading session: %w", err)
	}

	var p payload
	if len(sess.Payload) > 0 {
		if err := json.Unmarshal(sess.Payload, &p); err != nil {
			// Unreadable state is unrecoverable; reset rather than loop.
			s.logger.Warn("dropping corrupt session payload", "user", userID, "error", err)
			return s.Cancel(ctx, userID, "")
		}
	}

	switch sess.State {
	case StateWaitingPollQuestion:
		return s.onPollQuestion(ctx, userID, p, text)
	case StateWaitingPollOptions:
		return s.onPollOptions(ctx, userID, chatID, p, text)
	case StateWaitingTemplateName:
		return s.onTemplateName(ctx, userID, p, text)
	case StateWaitingTemplateQuestion:
		return s.onTemplateQuestion(ctx, userID, p, text)
	case StateWaitingTemplateOptions:
		return s.onTemplateOptions(ctx, userID, p, text)
	case StateWaitingCap:
		return s.onTemplateCap(ctx, userID, p, text)
	case StateWaitingVariableValue:
		return s.onVariableValue(ctx, userID, chatID, p, text)
	case StateWaitingThreshold:
		return s.onThreshold(ctx, userID, p, text)
	default:
		s.logger.Warn("unknown session state, resetting", "user", userID, "state", sess.State)
		return s.Cancel(ctx, userID, "")
	}
}

func (s *Service) onPollQuestion(ctx context.Context, userID string, p payload, text string) (*Reply, error) {
	if len([]rune(text)) > s.limits.MaxQuestionLen {
		return &Reply{Text: fmt.Sprintf("❌ Вопрос слишком длинный (макс. %d символов). Попробуйте ещё раз:", s.limits.MaxQuestionLen)}, nil
	}
	p.Question = text
	if err := s.put(ctx, userID, StateWaitingPollOptions, p); err != nil {
		return nil, err
	}
	return &Reply{Text: "📝 Введите варианты ответов через запятую:"}, nil
}

func (s *Service) onPollOptions(ctx context.Context, userID, chatID string, p payload, text string) (*Reply, error) {
	options := splitOptions(text)
	if len(options) < 2 {
		return &Reply{Text: "❌ Нужно минимум 2 варианта ответа. Введите варианты через запятую:"}, nil
	}

	target := p.ChatID
	if target == "" {
		target = chatID
	}
	poll, err := s.polls.CreatePoll(ctx, decision.CreatePollRequest{
		Question:  p.Question,
		Options:   options,
		CreatorID: userID,
		ChatID:    target,
	})
	var verr *decision.ValidationError
	if errors.As(err, &verr) {
		return &Reply{Text: "❌ " + verr.Reason}, nil
	}
	if err != nil {
		return nil, err
	}

	if err := s.store.DeleteSession(ctx, userID); err != nil {
		return nil, err
	}
	return &Reply{Text: "✅ Опрос создан!", Poll: poll, Done: true}, nil
}

func (s *Service) onTemplateName(ctx context.Context, userID string, p payload, text string) (*Reply, error) {
	if !templateNamePattern.MatchString(text) {
		return &Reply{Text: "❌ Название должно содержать 3-50 символов (буквы, цифры, _ -). Попробуйте ещё раз:"}, nil
	}
	if _, err := s.store.GetTemplate(ctx, text); err == nil {
		return &Reply{Text: fmt.Sprintf("❌ Шаблон '%s' уже существует. Введите другое название:", text)}, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("checking template name: %w", err)
	}
	p.TemplateName = text
	if err := s.put(ctx, userID, StateWaitingTemplateQuestion, p); err != nil {
		return nil, err
	}
	return &Reply{Text: "📝 Введите вопрос шаблона (используйте {X}, {Y} для переменных):"}, nil
}

func (s *Service) onTemplateQuestion(ctx context.Context, userID string, p payload, text string) (*Reply, error) {
	if len([]rune(text)) > s.limits.MaxQuestionLen {
		return &Reply{Text: fmt.Sprintf("❌ Вопрос слишком длинный (макс. %d символов). Попробуйте ещё раз:", s.limits.MaxQuestionLen)}, nil
	}
	p.TemplateQuestion = text
	if err := s.put(ctx, userID, StateWaitingTemplateOptions, p); err != nil {
		return nil, err
	}
	return &Reply{Text: "📝 Введите варианты ответов через запятую:"}, nil
}

func (s *Service) onTemplateOptions(ctx context.Context, userID string, p payload, text string) (*Reply, error) {
	options := splitOptions(text)
	if len(options) < 2 {
		return &Reply{Text: "❌ Нужно минимум 2 варианта ответа. Введите варианты через запятую:"}, nil
	}
	if len(options) > s.limits.MaxOptions {
		return &Reply{Text: fmt.Sprintf("❌ Максимум %d вариантов. Введите варианты через запятую:", s.limits.MaxOptions)}, nil
	}
	p.Options = options
	if err := s.put(ctx, userID, StateWaitingCap, p); err != nil {
		return nil, err
	}
	return &Reply{Text: "📝 Введите лимит участников (0 — без лимита):"}, nil
}

func (s *Service) onTemplateCap(ctx context.Context, userID string, p payload, text string) (*Reply, error) {
	limit, err := strconv.Atoi(text)
	if err != nil || limit < 0 {
		return &Reply{Text: "❌ Введите целое число не меньше 0:"}, nil
	}

	tmpl := &store.Template{
		Name:        p.TemplateName,
		Question:    p.TemplateQuestion,
		Options:     p.Options,
		Description: "Пользовательский шаблон",
		Variables:   template.ExtractVariables(p.TemplateQuestion),
		Threshold:   50,
		Cap:         limit,
		OwnerID:     userID,
		CreatedAt:   time.Now(),
	}
	if err := s.store.CreateTemplate(ctx, tmpl); err != nil {
		if errors.Is(err, store.ErrDuplicateTemplate) {
			if derr := s.store.DeleteSession(ctx, userID); derr != nil {
				return nil, derr
			}
			return &Reply{Text: "❌ Шаблон с таким названием уже существует", Done: true}, nil
		}
		return nil, fmt.Errorf("saving template: %w", err)
	}
	if err := s.store.DeleteSession(ctx, userID); err != nil {
		return nil, err
	}
	return &Reply{Text: fmt.Sprintf("✅ Шаблон '%s' создан!", tmpl.Name), Template: tmpl, Done: true}, nil
}

func (s *Service) onVariableValue(ctx context.Context, userID, chatID string, p payload, text string) (*Reply, error) {
	ts, err := s.store.GetTemplateSession(ctx, p.SessionID)
	if errors.Is(err, store.ErrNotFound) {
		// Session swept out from under the user; reset cleanly.
		if derr := s.store.DeleteSession(ctx, userID); derr != nil {
			return nil, derr
		}
		return &Reply{Text: "❌ Сессия истекла. Начните заново.", Done: true}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading template session: %w", err)
	}

	variable := ts.NextVariable()
	if variable == "" {
		// Should have committed on the previous transition; recover.
		return s.finishTemplateSession(ctx, userID, ts)
	}
	if ts.Values == nil {
		ts.Values = map[string]string{}
	}
	ts.Values[variable] = text
	ts.CurrentIndex++
	if err := s.store.UpdateTemplateSession(ctx, ts); err != nil {
		return nil, fmt.Errorf("updating template session: %w", err)
	}

	if next := ts.NextVariable(); next != "" {
		return &Reply{
			Text:         fmt.Sprintf("📝 Введите значение для переменной {%s}:", next),
			CancelAction: "cancel:" + ts.ID,
		}, nil
	}
	return s.finishTemplateSession(ctx, userID, ts)
}

func (s *Service) finishTemplateSession(ctx context.Context, userID string, ts *store.TemplateSession) (*Reply, error) {
	tmpl, err := s.store.GetTemplate(ctx, ts.TemplateName)
	if err != nil {
		return nil, fmt.Errorf("loading template: %w", err)
	}
	if err := s.store.DeleteTemplateSession(ctx, ts.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	return s.commitTemplatePoll(ctx, userID, ts.ChatID, tmpl, ts.Values)
}

// commitTemplatePoll substitutes collected values and creates the poll.
// Unresolved variables render as bracketed names rather than failing.
func (s *Service) commitTemplatePoll(ctx context.Context, userID, chatID string, tmpl *store.Template, values map[string]string) (*Reply, error) {
	question := template.Substitute(tmpl.Question, values)
	options := make([]string, len(tmpl.Options))
	for i, opt := range tmpl.Options {
		options[i] = template.Substitute(opt, values)
	}

	poll, err := s.polls.CreatePoll(ctx, decision.CreatePollRequest{
		Question:     question,
		Options:      options,
		CreatorID:    userID,
		ChatID:       chatID,
		Threshold:    tmpl.Threshold,
		Cap:          tmpl.Cap,
		NonAnonymous: tmpl.NonAnonymous,
		TemplateUsed: tmpl.Name,
	})
	var verr *decision.ValidationError
	if errors.As(err, &verr) {
		if derr := s.store.DeleteSession(ctx, userID); derr != nil && !errors.Is(derr, store.ErrNotFound) {
			return nil, derr
		}
		return &Reply{Text: "❌ " + verr.Reason, Done: true}, nil
	}
	if err != nil {
		return nil, err
	}
	if err := s.store.DeleteSession(ctx, userID); err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	return &Reply{Text: "✅ Опрос создан!", Poll: poll, Done: true}, nil
}

func (s *Service) onThreshold(ctx context.Context, userID string, p payload, text string) (*Reply, error) {
	threshold, err := strconv.Atoi(text)
	if err != nil || threshold < 1 || threshold > 100 {
		return &Reply{Text: "❌ Порог должен быть числом от 1 до 100. Попробуйте ещё раз:"}, nil
	}
	if err := s.store.SetTemplateThreshold(ctx, p.TargetTemplate, threshold); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			if derr := s.store.DeleteSession(ctx, userID); derr != nil {
				return nil, derr
			}
			return &Reply{Text: "❌ Шаблон не найден", Done: true}, nil
		}
		return nil, fmt.Errorf("updating threshold: %w", err)
	}
	if err := s.store.DeleteSession(ctx, userID); err != nil {
		return nil, err
	}
	return &Reply{Text: fmt.Sprintf("✅ Порог шаблона '%s' теперь %d%%", p.TargetTemplate, threshold), Done: true}, nil
}

// SweepIdle expires stale wizard and template sessions and enforces the
// global session cap. Intended to run from the periodic cleanup loop.
func (s *Service) SweepIdle(ctx context.Context, idleFor time.Duration, maxSessions int) error {
	cutoff := time.Now().Add(-idleFor)
	n, err := s.store.DeleteIdleSessions(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("sweeping sessions: %w", err)
	}
	m, err := s.store.DeleteIdleTemplateSessions(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("sweeping template sessions: %w", err)
	}
	pruned := 0
	if maxSessions > 0 {
		pruned, err = s.store.EnforceSessionCap(ctx, maxSessions)
		if err != nil {
			return fmt.Errorf("enforcing session cap: %w", err)
		}
	}
	if n+m+pruned > 0 {
		s.logger.Info("session sweep", "idle", n, "template", m, "capped", pruned)
	}
	return nil
}

func splitOptions(text string) []string {
	parts := strings.Split(text, ",")
	options := parts[:0]
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			options = append(options, part)
		}
	}
	return options
}

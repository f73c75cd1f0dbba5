// ABOUTME: Event router dispatching inbound text, actions and inline queries
// ABOUTME: Flood guard and user upsert run before every dispatch

package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/veche-bot/veche/internal/decision"
	"github.com/veche-bot/veche/internal/ratelimit"
	"github.com/veche-bot/veche/internal/render"
	"github.com/veche-bot/veche/internal/store"
	"github.com/veche-bot/veche/internal/wizard"
)

// Sender delivers outbound messages through the transport and reports the
// transport's id for the sent message, when it has one.
type Sender interface {
	Send(ctx context.Context, chatID, text string, actions []render.Action) (messageID string, err error)
}

// InlineResult is a renderable answer to an inline query.
type InlineResult struct {
	ID          string
	Title       string
	Description string
	Text        string
}

// Handler routes all inbound events. Every event passes the flood guard and
// upserts the user before dispatch; panics in a handler are recovered and
// answered with a generic error so one bad event cannot take the bot down.
type Handler struct {
	store    store.Store
	engine   *decision.Engine
	wizard   *wizard.Service
	renderer *render.Renderer
	limiter  *ratelimit.Limiter
	sender   Sender
	logger   *slog.Logger
}

func NewHandler(st store.Store, engine *decision.Engine, wiz *wizard.Service, renderer *render.Renderer, limiter *ratelimit.Limiter, sender Sender, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		store:    st,
		engine:   engine,
		wizard:   wiz,
		renderer: renderer,
		limiter:  limiter,
		sender:   sender,
		logger:   logger.With("component", "bot"),
	}
}

// admit runs the shared preamble: flood guard, then user upsert. It returns
// the user, or nil when the event must be dropped (already answered where
// appropriate). Event recording is left to the dispatch site: gated commands
// record through Allow, everything else through Observe, so a single event is
// never counted twice.
func (h *Handler) admit(ctx context.Context, userID, username, chatID string) (*store.User, error) {
	if h.limiter.Flooding(userID) {
		h.logger.Warn("flood guard tripped", "user", userID)
		return nil, h.send(ctx, chatID, "⚠️ Слишком много сообщений. Подождите немного.", nil)
	}

	user, err := h.store.UpsertUser(ctx, userID, username)
	if err != nil {
		return nil, fmt.Errorf("upserting user: %w", err)
	}
	return user, nil
}

// recoverPanic converts a handler panic into a logged error and a generic
// user-facing message.
func (h *Handler) recoverPanic(ctx context.Context, chatID string, err *error) {
	if r := recover(); r != nil {
		h.logger.Error("handler panic", "panic", r)
		*err = h.send(ctx, chatID, "❌ Произошла ошибка. Попробуйте позже.", nil)
	}
}

// OnTextInput handles a plain text message: commands first, then the wizard.
func (h *Handler) OnTextInput(ctx context.Context, userID, username, chatID, text string) (err error) {
	defer h.recoverPanic(ctx, chatID, &err)

	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	user, err := h.admit(ctx, userID, username, chatID)
	if err != nil || user == nil {
		return err
	}

	if strings.HasPrefix(text, "/") {
		return h.onCommand(ctx, user, chatID, text)
	}

	h.limiter.Observe(userID)
	reply, err := h.wizard.HandleText(ctx, userID, chatID, text)
	if err != nil {
		return h.reportError(ctx, chatID, "handling wizard input", err)
	}
	if reply == nil {
		// not in a wizard; nothing for us in free text
		return nil
	}
	return h.sendReply(ctx, chatID, reply)
}

func (h *Handler) onCommand(ctx context.Context, user *store.User, chatID, text string) error {
	command, _, _ := strings.Cut(text, " ")
	if command != "/create" {
		h.limiter.Observe(user.ID)
	}
	switch command {
	case "/start":
		return h.send(ctx, chatID, h.renderer.Welcome(user.ID, user.Permission), nil)

	case "/create":
		if !user.Permission.AtLeast(store.PermissionUse) {
			return h.send(ctx, chatID, "❌ Недостаточно прав", nil)
		}
		if !h.limiter.Allow(user.ID) {
			return h.send(ctx, chatID, "⏳ Лимит запросов исчерпан. Попробуйте позже.", nil)
		}
		menu, actions := h.renderer.CreateMenu()
		return h.send(ctx, chatID, menu, actions)

	case "/templates":
		templates, err := h.store.ListTemplates(ctx)
		if err != nil {
			return h.reportError(ctx, chatID, "listing templates", err)
		}
		list, actions := h.renderer.TemplateList(templates)
		return h.send(ctx, chatID, list, actions)

	case "/status":
		active, total, err := h.store.CountPolls(ctx)
		if err != nil {
			return h.reportError(ctx, chatID, "counting polls", err)
		}
		users, err := h.store.CountUsers(ctx)
		if err != nil {
			return h.reportError(ctx, chatID, "counting users", err)
		}
		return h.send(ctx, chatID, h.renderer.Status(active, total, users), nil)

	case "/help":
		return h.send(ctx, chatID, h.renderer.Help(), nil)

	default:
		return h.send(ctx, chatID, "❓ Неизвестная команда. /help для справки.", nil)
	}
}

// OnAction handles a button press. The token is parsed against the allow-list
// before anything else happens with it.
func (h *Handler) OnAction(ctx context.Context, userID, username, chatID, token string) (err error) {
	defer h.recoverPanic(ctx, chatID, &err)

	action, parseErr := ParseAction(token)
	if parseErr != nil {
		h.logger.Warn("rejected action token", "user", userID, "token", token)
		return h.send(ctx, chatID, "❌ Неверные данные", nil)
	}

	user, err := h.admit(ctx, userID, username, chatID)
	if err != nil || user == nil {
		return err
	}
	h.limiter.Observe(userID)

	switch a := action.(type) {
	case CreateSimpleAction:
		reply, err := h.wizard.StartSimplePoll(ctx, userID, chatID)
		if err != nil {
			return h.reportError(ctx, chatID, "starting poll wizard", err)
		}
		return h.sendReply(ctx, chatID, reply)

	case CreateTemplateAction:
		templates, err := h.store.ListTemplates(ctx)
		if err != nil {
			return h.reportError(ctx, chatID, "listing templates", err)
		}
		list, actions := h.renderer.TemplateList(templates)
		return h.send(ctx, chatID, list, actions)

	case NewTemplateAction:
		reply, err := h.wizard.StartNewTemplate(ctx, userID, chatID)
		if err != nil {
			return h.reportError(ctx, chatID, "starting template wizard", err)
		}
		return h.sendReply(ctx, chatID, reply)

	case UseTemplateAction:
		reply, err := h.wizard.StartTemplateUse(ctx, userID, chatID, a.Name)
		if err != nil {
			return h.reportError(ctx, chatID, "using template", err)
		}
		return h.sendReply(ctx, chatID, reply)

	case CancelAction:
		reply, err := h.wizard.Cancel(ctx, userID, a.SessionID)
		if err != nil {
			return h.reportError(ctx, chatID, "cancelling session", err)
		}
		return h.sendReply(ctx, chatID, reply)

	case EditThresholdAction:
		if !h.canEditTemplate(ctx, user, a.Template) {
			return h.send(ctx, chatID, "❌ Недостаточно прав", nil)
		}
		reply, err := h.wizard.StartThresholdEdit(ctx, userID, chatID, a.Template)
		if err != nil {
			return h.reportError(ctx, chatID, "editing threshold", err)
		}
		return h.sendReply(ctx, chatID, reply)

	case VoteAction:
		return h.onVote(ctx, user, chatID, a)

	case ClosePollAction:
		return h.onClose(ctx, user, chatID, a)

	default:
		return h.send(ctx, chatID, "❌ Неверные данные", nil)
	}
}

// canEditTemplate allows template edits to the owner or an admin.
func (h *Handler) canEditTemplate(ctx context.Context, user *store.User, name string) bool {
	if user.Permission.AtLeast(store.PermissionAdmin) {
		return true
	}
	tmpl, err := h.store.GetTemplate(ctx, name)
	if err != nil {
		return false
	}
	return tmpl.OwnerID == user.ID
}

func (h *Handler) onVote(ctx context.Context, user *store.User, chatID string, a VoteAction) error {
	displayName := user.Username
	if displayName == "" {
		displayName = user.ID
	}
	res, err := h.engine.CastVote(ctx, a.PollID, user.ID, displayName, a.OptionIndex)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return h.send(ctx, chatID, "❌ Опрос не найден", nil)
	case errors.Is(err, decision.ErrPollClosed):
		return h.send(ctx, chatID, "🔒 Опрос уже закрыт", nil)
	case errors.Is(err, decision.ErrForbidden):
		return h.send(ctx, chatID, "❌ Недостаточно прав для голосования", nil)
	}
	var verr *decision.ValidationError
	if errors.As(err, &verr) {
		return h.send(ctx, chatID, "❌ "+verr.Reason, nil)
	}
	if err != nil {
		return h.reportError(ctx, chatID, "recording vote", err)
	}
	return h.sendPollCard(ctx, chatID, res.Poll)
}

func (h *Handler) onClose(ctx context.Context, user *store.User, chatID string, a ClosePollAction) error {
	poll, err := h.engine.ClosePoll(ctx, a.PollID, user.ID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return h.send(ctx, chatID, "❌ Опрос не найден", nil)
	case errors.Is(err, decision.ErrForbidden):
		return h.send(ctx, chatID, "❌ Закрыть опрос может только автор или администратор", nil)
	case errors.Is(err, decision.ErrAlreadyClosed):
		return h.send(ctx, chatID, "🔒 Опрос уже закрыт", nil)
	case err != nil:
		return h.reportError(ctx, chatID, "closing poll", err)
	}
	return h.sendPollCard(ctx, chatID, poll)
}

// OnInlineSearch parses "question? opt|opt|..." and creates the poll
// immediately, answering with a renderable result. Queries that do not parse
// answer nothing.
func (h *Handler) OnInlineSearch(ctx context.Context, userID, username, query string) (res *InlineResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("inline handler panic", "panic", r)
			res, err = nil, nil
		}
	}()

	user, err := h.admit(ctx, userID, username, userID)
	if err != nil || user == nil {
		return nil, err
	}
	h.limiter.Observe(userID)

	questionPart, optionsPart, ok := strings.Cut(query, "?")
	if !ok || !strings.Contains(optionsPart, "|") {
		return nil, nil
	}
	question := strings.TrimSpace(questionPart) + "?"
	var options []string
	for _, opt := range strings.Split(optionsPart, "|") {
		if opt = strings.TrimSpace(opt); opt != "" {
			options = append(options, opt)
		}
	}

	poll, err := h.engine.CreatePoll(ctx, decision.CreatePollRequest{
		Question:  question,
		Options:   options,
		CreatorID: userID,
		ChatID:    userID, // inline polls live in the requester's scope until placed
	})
	var verr *decision.ValidationError
	if errors.As(err, &verr) {
		h.logger.Debug("inline query rejected", "user", userID, "reason", verr.Reason)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("creating inline poll: %w", err)
	}

	preview := strings.Join(options, ", ")
	if len(options) > 3 {
		preview = strings.Join(options[:3], ", ") + "..."
	}
	return &InlineResult{
		ID:          poll.ID,
		Title:       "📊 " + question,
		Description: "Варианты: " + preview,
		Text: h.renderer.PollCard(render.PollView{
			Poll:   poll,
			Counts: map[int]int{},
		}),
	}, nil
}

// sendPollCard re-reads vote state and sends the refreshed card with its
// vote and close buttons.
func (h *Handler) sendPollCard(ctx context.Context, chatID string, poll *store.Poll) error {
	counts, err := h.store.VoteCounts(ctx, poll.ID)
	if err != nil {
		return h.reportError(ctx, chatID, "reading vote counts", err)
	}
	total, err := h.store.CountDistinctVoters(ctx, poll.ID)
	if err != nil {
		return h.reportError(ctx, chatID, "counting voters", err)
	}
	votes, err := h.store.ListVotes(ctx, poll.ID)
	if err != nil {
		return h.reportError(ctx, chatID, "listing votes", err)
	}
	voters := make(map[int][]string)
	for _, v := range votes {
		name := v.DisplayName
		if name == "" {
			name = v.VoterID
		}
		voters[v.OptionIndex] = append(voters[v.OptionIndex], name)
	}

	card := h.renderer.PollCard(render.PollView{
		Poll:        poll,
		Counts:      counts,
		TotalVoters: total,
		Voters:      voters,
	})
	var actions []render.Action
	if poll.Active() {
		actions = h.renderer.PollActions(poll)
	}
	msgID, err := h.sender.Send(ctx, chatID, card, actions)
	if err != nil {
		return err
	}
	// Track which transport message carries the current card.
	if msgID != "" {
		if err := h.store.SetPollMessage(ctx, poll.ID, chatID, msgID); err != nil {
			h.logger.Warn("recording poll message failed", "poll", poll.ID, "error", err)
		}
	}
	return nil
}

func (h *Handler) sendReply(ctx context.Context, chatID string, reply *wizard.Reply) error {
	if reply == nil {
		return nil
	}
	if reply.Poll != nil {
		if err := h.send(ctx, chatID, reply.Text, nil); err != nil {
			return err
		}
		return h.sendPollCard(ctx, chatID, reply.Poll)
	}
	var actions []render.Action
	if reply.CancelAction != "" {
		actions = []render.Action{{Label: "❌ Отмена", Token: reply.CancelAction}}
	}
	return h.send(ctx, chatID, reply.Text, actions)
}

// send delivers a message when the transport message id is not needed.
func (h *Handler) send(ctx context.Context, chatID, text string, actions []render.Action) error {
	_, err := h.sender.Send(ctx, chatID, text, actions)
	return err
}

// reportError logs the cause and answers with a generic message; internal
// details never reach the chat.
func (h *Handler) reportError(ctx context.Context, chatID, what string, err error) error {
	h.logger.Error(what, "error", err)
	return h.send(ctx, chatID, "❌ Произошла ошибка. Попробуйте позже.", nil)
}

// ABOUTME: Matrix bridge connecting the homeserver sync loop to the bot handlers
// ABOUTME: Renders action buttons as a numbered legend; bare-number replies select them

package matrix

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/veche-bot/veche/internal/render"
)

// Handlers is the bot surface the bridge feeds events into.
type Handlers interface {
	OnTextInput(ctx context.Context, userID, username, chatID, text string) error
	OnAction(ctx context.Context, userID, username, chatID, token string) error
}

const (
	networkTimeout = 10 * time.Second
	sendTimeout    = 30 * time.Second

	// sendRetries bounds retry attempts for transient send failures.
	sendRetries  = 3
	retryBackoff = 500 * time.Millisecond
)

// Bridge runs the Matrix sync loop and routes messages into the bot. Matrix
// has no inline buttons, so offered actions are rendered as a numbered legend
// under the message; a reply consisting of a bare number picks the
// corresponding action.
type Bridge struct {
	config  *Config
	matrix  *mautrix.Client
	handler Handlers
	logger  *slog.Logger

	// pending actions per room, replaced whenever a message with actions
	// is sent there
	pending sync.Map // roomID string -> []string action tokens

	ctx    context.Context
	cancel context.CancelFunc
}

// NewBridge creates a Matrix bridge for the configured homeserver.
func NewBridge(cfg *Config, handler Handlers, logger *slog.Logger) (*Bridge, error) {
	client, err := mautrix.NewClient(cfg.Matrix.Homeserver, id.UserID(cfg.Matrix.UserID), cfg.Matrix.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("creating matrix client: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		config:  cfg,
		matrix:  client,
		handler: handler,
		logger:  logger.With("component", "matrix"),
	}, nil
}

// SetHandler wires the bot surface into the bridge. The bridge is also the
// bot's outbound sender, so the two are constructed before being linked.
// Must be called before Run.
func (b *Bridge) SetHandler(h Handlers) {
	b.handler = h
}

// Run starts the sync loop and blocks until the context is cancelled.
func (b *Bridge) Run(ctx context.Context) error {
	b.logger.Info("starting matrix bridge",
		"homeserver", b.config.Matrix.Homeserver,
		"user_id", b.config.Matrix.UserID,
	)

	b.ctx, b.cancel = context.WithCancel(ctx)
	defer b.cancel()

	syncer, ok := b.matrix.Syncer.(*mautrix.DefaultSyncer)
	if !ok {
		return fmt.Errorf("unexpected syncer type: %T", b.matrix.Syncer)
	}
	syncer.OnEventType(event.EventMessage, b.handleMessageEvent)

	syncErr := make(chan error, 1)
	go func() {
		syncErr <- b.matrix.SyncWithContext(b.ctx)
	}()

	b.logger.Info("matrix bridge running")

	select {
	case <-ctx.Done():
		b.logger.Info("shutting down matrix bridge")
		b.cancel()
		return nil
	case err := <-syncErr:
		return fmt.Errorf("matrix sync failed: %w", err)
	}
}

func (b *Bridge) handleMessageEvent(ctx context.Context, evt *event.Event) {
	if evt.Sender == id.UserID(b.config.Matrix.UserID) {
		return
	}
	content, ok := evt.Content.Parsed.(*event.MessageEventContent)
	if !ok || content.MsgType != event.MsgText {
		return
	}

	roomID := evt.RoomID.String()
	body := strings.TrimSpace(content.Body)

	if !b.isRoomAllowed(roomID) {
		b.logger.Debug("ignoring message from non-allowed room", "room", roomID)
		return
	}

	if prefix := b.config.Bridge.CommandPrefix; prefix != "" && !strings.HasPrefix(body, "/") {
		if !strings.HasPrefix(body, prefix) {
			return
		}
		body = strings.TrimSpace(strings.TrimPrefix(body, prefix))
	}
	if body == "" {
		return
	}

	// Process off the sync loop; the bridge context keeps shutdown graceful.
	go b.process(b.ctx, evt.RoomID, evt.Sender, body)
}

func (b *Bridge) process(ctx context.Context, roomID id.RoomID, sender id.UserID, body string) {
	userID := sender.String()
	username := sender.Localpart()
	room := roomID.String()

	if b.config.Bridge.TypingIndicator {
		b.setTyping(roomID, true)
		defer b.setTyping(roomID, false)
	}

	// A bare number selects from the room's pending action legend.
	if token, ok := b.resolveNumberedReply(room, body); ok {
		if err := b.handler.OnAction(ctx, userID, username, room, token); err != nil {
			b.logger.Error("action handling failed", "room", room, "error", err)
		}
		return
	}

	if err := b.handler.OnTextInput(ctx, userID, username, room, body); err != nil {
		b.logger.Error("text handling failed", "room", room, "error", err)
	}
}

// resolveNumberedReply maps a bare-number reply onto the room's pending
// actions. The legend stays valid until the next message with actions
// replaces it, so users can vote repeatedly from the same card.
func (b *Bridge) resolveNumberedReply(room, body string) (string, bool) {
	n, err := strconv.Atoi(body)
	if err != nil || n < 1 {
		return "", false
	}
	v, ok := b.pending.Load(room)
	if !ok {
		return "", false
	}
	tokens := v.([]string)
	if n > len(tokens) {
		return "", false
	}
	return tokens[n-1], true
}

func (b *Bridge) isRoomAllowed(roomID string) bool {
	if len(b.config.Bridge.AllowedRooms) == 0 {
		return true
	}
	for _, allowed := range b.config.Bridge.AllowedRooms {
		if allowed == roomID {
			return true
		}
	}
	return false
}

// Send delivers a message to a room and returns its event id, appending the
// action legend when actions are offered. Formatted HTML is attempted first;
// if the homeserver rejects it the plain markdown text is sent instead.
// Transient failures retry with backoff up to sendRetries.
func (b *Bridge) Send(ctx context.Context, chatID, text string, actions []render.Action) (string, error) {
	body := text
	if len(actions) > 0 {
		var legend strings.Builder
		legend.WriteString("\n\nОтветьте номером:\n")
		tokens := make([]string, len(actions))
		for i, a := range actions {
			fmt.Fprintf(&legend, "%d) %s\n", i+1, a.Label)
			tokens[i] = a.Token
		}
		body += legend.String()
		b.pending.Store(chatID, tokens)
	}

	content := &event.MessageEventContent{
		MsgType: event.MsgText,
		Body:    body,
	}
	if html, ok := render.ToHTML(body); ok {
		content.Format = event.FormatHTML
		content.FormattedBody = html
	}

	roomID := id.RoomID(chatID)
	var lastErr error
	for attempt := 0; attempt < sendRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(retryBackoff << (attempt - 1)):
			}
		}

		sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
		resp, err := b.matrix.SendMessageEvent(sendCtx, roomID, event.EventMessage, content)
		cancel()
		if err == nil {
			return resp.EventID.String(), nil
		}
		lastErr = err

		// Formatting rejection is not transient: degrade to plain text and
		// keep retrying with the simpler payload.
		if content.Format != "" {
			b.logger.Warn("formatted send rejected, falling back to plain text",
				"room", chatID, "error", err)
			content.Format = ""
			content.FormattedBody = ""
			continue
		}
		b.logger.Warn("send failed, retrying", "room", chatID, "attempt", attempt+1, "error", err)
	}
	return "", fmt.Errorf("sending to %s after %d attempts: %w", chatID, sendRetries, lastErr)
}

// IsMember reports whether the user is currently joined to the room. Used by
// the decision engine to admit voters without a stored permission.
func (b *Bridge) IsMember(ctx context.Context, chatID, userID string) (bool, error) {
	reqCtx, cancel := context.WithTimeout(ctx, networkTimeout)
	defer cancel()

	members, err := b.matrix.JoinedMembers(reqCtx, id.RoomID(chatID))
	if err != nil {
		return false, fmt.Errorf("fetching room members: %w", err)
	}
	_, ok := members.Joined[id.UserID(userID)]
	return ok, nil
}

const typingTimeout = 30 * time.Second

func (b *Bridge) setTyping(roomID id.RoomID, typing bool) {
	var timeout time.Duration
	if typing {
		timeout = typingTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), networkTimeout)
	defer cancel()
	if _, err := b.matrix.UserTyping(ctx, roomID, typing, timeout); err != nil {
		b.logger.Debug("failed to set typing indicator", "room", roomID.String(), "error", err)
	}
}

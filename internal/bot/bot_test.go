// ABOUTME: Handler tests over the real store, engine and wizard with a fake sender
// ABOUTME: Covers commands, actions, voting, flooding and inline queries

package bot

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veche-bot/veche/internal/decision"
	"github.com/veche-bot/veche/internal/dedupe"
	"github.com/veche-bot/veche/internal/ratelimit"
	"github.com/veche-bot/veche/internal/render"
	"github.com/veche-bot/veche/internal/store"
	"github.com/veche-bot/veche/internal/wizard"
)

type sentMessage struct {
	ChatID  string
	Text    string
	Actions []render.Action
}

type fakeSender struct {
	mu       sync.Mutex
	messages []sentMessage
}

func (f *fakeSender) Send(_ context.Context, chatID, text string, actions []render.Action) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, sentMessage{ChatID: chatID, Text: text, Actions: actions})
	return fmt.Sprintf("evt-%d", len(f.messages)), nil
}

func (f *fakeSender) last(t *testing.T) sentMessage {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.messages)
	return f.messages[len(f.messages)-1]
}

type openMembers struct{}

func (openMembers) IsMember(_ context.Context, _, _ string) (bool, error) { return true, nil }

func setupTestHandler(t *testing.T) (*Handler, *fakeSender, store.Store) {
	t.Helper()

	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	dup := dedupe.New(time.Hour, 100)
	t.Cleanup(dup.Close)

	limiter := ratelimit.New(time.Hour, 10, 1000, time.Minute, nil)
	t.Cleanup(limiter.Close)

	eng := decision.New(st, decision.NewKeywordClassifier(decision.DefaultLexicon()),
		dup, openMembers{}, decision.DefaultLimits(), nil)
	wiz := wizard.New(st, eng, wizard.DefaultLimits(), nil)
	renderer := render.New(render.Prefs{ShowVoteCounts: true, ShowDecisionStatus: true})

	sender := &fakeSender{}
	return NewHandler(st, eng, wiz, renderer, limiter, sender, nil), sender, st
}

func TestStartCommand(t *testing.T) {
	h, sender, _ := setupTestHandler(t)

	require.NoError(t, h.OnTextInput(context.Background(), "alice", "alice", "room1", "/start"))
	msg := sender.last(t)
	assert.Contains(t, msg.Text, "Добро пожаловать")
	assert.Contains(t, msg.Text, "alice")
}

func TestUnknownCommand(t *testing.T) {
	h, sender, _ := setupTestHandler(t)

	require.NoError(t, h.OnTextInput(context.Background(), "alice", "alice", "room1", "/frobnicate"))
	assert.Contains(t, sender.last(t).Text, "Неизвестная команда")
}

func TestCreateFlowEndToEnd(t *testing.T) {
	h, sender, _ := setupTestHandler(t)
	ctx := context.Background()

	require.NoError(t, h.OnTextInput(ctx, "alice", "alice", "room1", "/create"))
	menu := sender.last(t)
	require.Len(t, menu.Actions, 3)

	require.NoError(t, h.OnAction(ctx, "alice", "alice", "room1", "create_simple"))
	assert.Contains(t, sender.last(t).Text, "вопрос")

	require.NoError(t, h.OnTextInput(ctx, "alice", "alice", "room1", "Принять предложение?"))
	assert.Contains(t, sender.last(t).Text, "варианты")

	require.NoError(t, h.OnTextInput(ctx, "alice", "alice", "room1", "За, Против"))
	card := sender.last(t)
	assert.Contains(t, card.Text, "Принять предложение?")
	// two vote buttons and a close button
	require.Len(t, card.Actions, 3)
	assert.Contains(t, card.Actions[0].Token, "vote:")
}

func TestCreateRequiresPermission(t *testing.T) {
	h, sender, st := setupTestHandler(t)
	ctx := context.Background()

	// first contact registers with "use"; demote before the command
	_, err := st.UpsertUser(ctx, "bob", "bob")
	require.NoError(t, err)
	require.NoError(t, st.SetPermission(ctx, "bob", store.PermissionNone))

	require.NoError(t, h.OnTextInput(ctx, "bob", "bob", "room1", "/create"))
	assert.Contains(t, sender.last(t).Text, "Недостаточно прав")
}

func TestCreateRateLimited(t *testing.T) {
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	dup := dedupe.New(time.Hour, 100)
	t.Cleanup(dup.Close)

	// zero budget: the first gated command is already over the limit
	limiter := ratelimit.New(time.Hour, 0, 1000, time.Minute, nil)
	t.Cleanup(limiter.Close)

	eng := decision.New(st, decision.NewKeywordClassifier(decision.DefaultLexicon()),
		dup, openMembers{}, decision.DefaultLimits(), nil)
	wiz := wizard.New(st, eng, wizard.DefaultLimits(), nil)
	sender := &fakeSender{}
	h := NewHandler(st, eng, wiz, render.New(render.Prefs{}), limiter, sender, nil)

	require.NoError(t, h.OnTextInput(context.Background(), "alice", "alice", "room1", "/create"))
	assert.Contains(t, sender.last(t).Text, "Лимит запросов")
}

func TestFloodGuard(t *testing.T) {
	h, sender, _ := setupTestHandler(t)
	ctx := context.Background()

	// more than 3 recorded events inside 10s trips the short flood window
	for i := 0; i < 4; i++ {
		require.NoError(t, h.OnTextInput(ctx, "alice", "alice", "room1", "привет"))
	}
	require.NoError(t, h.OnTextInput(ctx, "alice", "alice", "room1", "ещё одно"))
	assert.Contains(t, sender.last(t).Text, "Слишком много сообщений")
}

func TestBadActionToken(t *testing.T) {
	h, sender, _ := setupTestHandler(t)

	require.NoError(t, h.OnAction(context.Background(), "alice", "alice", "room1", "drop everything"))
	assert.Contains(t, sender.last(t).Text, "Неверные данные")
}

func TestVoteActionUpdatesCard(t *testing.T) {
	h, sender, st := setupTestHandler(t)
	ctx := context.Background()

	poll, err := h.engine.CreatePoll(ctx, decision.CreatePollRequest{
		Question: "Голосуем?", Options: []string{"За", "Против"},
		CreatorID: "alice", ChatID: "room1",
	})
	require.NoError(t, err)

	require.NoError(t, h.OnAction(ctx, "bob", "Боб", "room1", "vote:"+poll.ID+":0"))
	card := sender.last(t)
	assert.Contains(t, card.Text, "1. За — 1")
	assert.Contains(t, card.Text, "Проголосовало: 1")

	// the vote landed with the display name
	votes, err := st.ListVotes(ctx, poll.ID)
	require.NoError(t, err)
	require.Len(t, votes, 1)
	assert.Equal(t, "Боб", votes[0].DisplayName)

	// the card's transport message is remembered on the poll
	updated, err := st.GetPoll(ctx, poll.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, updated.MessageID)
}

func TestVoteActionUnknownPoll(t *testing.T) {
	h, sender, _ := setupTestHandler(t)

	token := "vote:0f8fad5b-d9cb-469f-a165-70867728950e:0"
	require.NoError(t, h.OnAction(context.Background(), "bob", "bob", "room1", token))
	assert.Contains(t, sender.last(t).Text, "Опрос не найден")
}

func TestCloseActionPermissions(t *testing.T) {
	h, sender, _ := setupTestHandler(t)
	ctx := context.Background()

	poll, err := h.engine.CreatePoll(ctx, decision.CreatePollRequest{
		Question: "Закроем?", Options: []string{"Да", "Нет"},
		CreatorID: "alice", ChatID: "room1",
	})
	require.NoError(t, err)

	require.NoError(t, h.OnAction(ctx, "mallory", "mallory", "room1", "close:"+poll.ID))
	assert.Contains(t, sender.last(t).Text, "только автор")

	require.NoError(t, h.OnAction(ctx, "alice", "alice", "room1", "close:"+poll.ID))
	card := sender.last(t)
	assert.Contains(t, card.Text, "Опрос закрыт")
	// closed polls carry no buttons
	assert.Empty(t, card.Actions)
}

func TestTemplatesCommandOffersUse(t *testing.T) {
	h, sender, st := setupTestHandler(t)
	ctx := context.Background()

	require.NoError(t, store.SeedDefaultTemplates(ctx, st))
	require.NoError(t, h.OnTextInput(ctx, "alice", "alice", "room1", "/templates"))

	msg := sender.last(t)
	assert.Contains(t, msg.Text, "Доступные шаблоны")
	require.NotEmpty(t, msg.Actions)
	assert.Contains(t, msg.Actions[0].Token, "use:")
}

func TestStatusCommand(t *testing.T) {
	h, sender, _ := setupTestHandler(t)
	ctx := context.Background()

	_, err := h.engine.CreatePoll(ctx, decision.CreatePollRequest{
		Question: "Есть активный?", Options: []string{"Да", "Нет"},
		CreatorID: "alice", ChatID: "room1",
	})
	require.NoError(t, err)

	require.NoError(t, h.OnTextInput(ctx, "alice", "alice", "room1", "/status"))
	msg := sender.last(t)
	assert.Contains(t, msg.Text, "Активных: 1")
}

func TestInlineSearchCreatesPoll(t *testing.T) {
	h, _, st := setupTestHandler(t)
	ctx := context.Background()

	res, err := h.OnInlineSearch(ctx, "alice", "alice", "Пойдём в кино? Да|Нет")
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Contains(t, res.Title, "Пойдём в кино?")
	assert.Contains(t, res.Description, "Да, Нет")

	poll, err := st.GetPoll(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"Да", "Нет"}, poll.Options)
}

func TestInlineSearchMalformed(t *testing.T) {
	h, _, _ := setupTestHandler(t)

	res, err := h.OnInlineSearch(context.Background(), "alice", "alice", "просто текст")
	require.NoError(t, err)
	assert.Nil(t, res)
}

func TestFreeTextOutsideWizardIgnored(t *testing.T) {
	h, sender, _ := setupTestHandler(t)

	require.NoError(t, h.OnTextInput(context.Background(), "alice", "alice", "room1", "привет всем"))
	sender.mu.Lock()
	defer sender.mu.Unlock()
	assert.Empty(t, sender.messages)
}

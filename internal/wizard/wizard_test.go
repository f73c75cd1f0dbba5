// ABOUTME: Tests for the authoring state machine over a real store and engine
// ABOUTME: Covers poll flow, template flow, variable collection and sweeps

package wizard

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veche-bot/veche/internal/decision"
	"github.com/veche-bot/veche/internal/dedupe"
	"github.com/veche-bot/veche/internal/store"
)

type openMembers struct{}

func (openMembers) IsMember(_ context.Context, _, _ string) (bool, error) { return true, nil }

func setupTestWizard(t *testing.T) (*Service, store.Store) {
	t.Helper()

	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	dup := dedupe.New(time.Hour, 100)
	t.Cleanup(dup.Close)

	eng := decision.New(st, decision.NewKeywordClassifier(decision.DefaultLexicon()),
		dup, openMembers{}, decision.DefaultLimits(), nil)
	return New(st, eng, DefaultLimits(), nil), st
}

func TestSimplePollFlow(t *testing.T) {
	svc, _ := setupTestWizard(t)
	ctx := context.Background()

	reply, err := svc.StartSimplePoll(ctx, "alice", "room1")
	require.NoError(t, err)
	assert.Contains(t, reply.Text, "вопрос")

	reply, err = svc.HandleText(ctx, "alice", "room1", "Принять предложение?")
	require.NoError(t, err)
	assert.Contains(t, reply.Text, "варианты")

	reply, err = svc.HandleText(ctx, "alice", "room1", "За, Против")
	require.NoError(t, err)
	assert.True(t, reply.Done)
	require.NotNil(t, reply.Poll)
	assert.Equal(t, "Принять предложение?", reply.Poll.Question)
	assert.Equal(t, []string{"За", "Против"}, reply.Poll.Options)
	assert.Equal(t, store.VotingBinary, reply.Poll.VotingType)

	// session cleared: further text is not the wizard's
	reply, err = svc.HandleText(ctx, "alice", "room1", "что-то ещё")
	require.NoError(t, err)
	assert.Nil(t, reply)
}

func TestInvalidOptionsReprompt(t *testing.T) {
	svc, _ := setupTestWizard(t)
	ctx := context.Background()

	_, err := svc.StartSimplePoll(ctx, "alice", "room1")
	require.NoError(t, err)
	_, err = svc.HandleText(ctx, "alice", "room1", "Вопрос?")
	require.NoError(t, err)

	// a single option does not advance the machine
	reply, err := svc.HandleText(ctx, "alice", "room1", "Единственный")
	require.NoError(t, err)
	assert.Contains(t, reply.Text, "❌")
	assert.False(t, reply.Done)

	reply, err = svc.HandleText(ctx, "alice", "room1", "Да, Нет")
	require.NoError(t, err)
	assert.True(t, reply.Done)
	assert.NotNil(t, reply.Poll)
}

func TestOverlongQuestionReprompt(t *testing.T) {
	svc, _ := setupTestWizard(t)
	ctx := context.Background()

	_, err := svc.StartSimplePoll(ctx, "alice", "room1")
	require.NoError(t, err)

	long := make([]rune, 301)
	for i := range long {
		long[i] = 'я'
	}
	reply, err := svc.HandleText(ctx, "alice", "room1", string(long))
	require.NoError(t, err)
	assert.Contains(t, reply.Text, "❌")

	// still in the question state
	reply, err = svc.HandleText(ctx, "alice", "room1", "Короткий вопрос?")
	require.NoError(t, err)
	assert.Contains(t, reply.Text, "варианты")
}

func TestTemplateCreationFlow(t *testing.T) {
	svc, st := setupTestWizard(t)
	ctx := context.Background()

	_, err := svc.StartNewTemplate(ctx, "alice", "room1")
	require.NoError(t, err)

	// bad name re-prompts
	reply, err := svc.HandleText(ctx, "alice", "room1", "им")
	require.NoError(t, err)
	assert.Contains(t, reply.Text, "❌")

	_, err = svc.HandleText(ctx, "alice", "room1", "weekly_meet")
	require.NoError(t, err)
	_, err = svc.HandleText(ctx, "alice", "room1", "Вопрос по {Тема} от {Дата}?")
	require.NoError(t, err)
	_, err = svc.HandleText(ctx, "alice", "room1", "За, Против")
	require.NoError(t, err)

	reply, err = svc.HandleText(ctx, "alice", "room1", "0")
	require.NoError(t, err)
	assert.True(t, reply.Done)
	require.NotNil(t, reply.Template)

	saved, err := st.GetTemplate(ctx, "weekly_meet")
	require.NoError(t, err)
	assert.Equal(t, []string{"Дата", "Тема"}, saved.Variables)
	assert.Equal(t, 50, saved.Threshold)
	assert.Equal(t, "alice", saved.OwnerID)
}

func TestTemplateNameCollisionReprompt(t *testing.T) {
	svc, st := setupTestWizard(t)
	ctx := context.Background()

	require.NoError(t, st.CreateTemplate(ctx, &store.Template{
		Name: "taken", Question: "q?", Options: []string{"a", "b"}, Threshold: 50,
	}))

	_, err := svc.StartNewTemplate(ctx, "alice", "room1")
	require.NoError(t, err)

	reply, err := svc.HandleText(ctx, "alice", "room1", "taken")
	require.NoError(t, err)
	assert.Contains(t, reply.Text, "уже существует")

	reply, err = svc.HandleText(ctx, "alice", "room1", "fresh_name")
	require.NoError(t, err)
	assert.Contains(t, reply.Text, "вопрос шаблона")
}

func TestTemplateUseCollectsVariablesInOrder(t *testing.T) {
	svc, _ := setupTestWizard(t)
	ctx := context.Background()

	// author the template first
	_, err := svc.StartNewTemplate(ctx, "alice", "room1")
	require.NoError(t, err)
	for _, input := range []string{"topic_vote", "Вопрос по {Тема} от {Дата}?", "За, Против", "0"} {
		_, err = svc.HandleText(ctx, "alice", "room1", input)
		require.NoError(t, err)
	}

	reply, err := svc.StartTemplateUse(ctx, "bob", "room1", "topic_vote")
	require.NoError(t, err)
	// variable list is sorted, so Дата comes first
	assert.Contains(t, reply.Text, "{Дата}")
	assert.NotEmpty(t, reply.CancelAction)

	reply, err = svc.HandleText(ctx, "bob", "room1", "01.01")
	require.NoError(t, err)
	assert.Contains(t, reply.Text, "{Тема}")

	reply, err = svc.HandleText(ctx, "bob", "room1", "Бюджет")
	require.NoError(t, err)
	assert.True(t, reply.Done)
	require.NotNil(t, reply.Poll)
	assert.Equal(t, "Вопрос по Бюджет от 01.01?", reply.Poll.Question)
	assert.Equal(t, "topic_vote", reply.Poll.TemplateUsed)
}

func TestTemplateUseWithoutVariablesCreatesImmediately(t *testing.T) {
	svc, st := setupTestWizard(t)
	ctx := context.Background()

	require.NoError(t, st.CreateTemplate(ctx, &store.Template{
		Name: "plain", Question: "Согласны?", Options: []string{"Да", "Нет"},
		Threshold: 60, Cap: 5, NonAnonymous: true,
	}))

	reply, err := svc.StartTemplateUse(ctx, "bob", "room1", "plain")
	require.NoError(t, err)
	assert.True(t, reply.Done)
	require.NotNil(t, reply.Poll)
	assert.Equal(t, 60, reply.Poll.Threshold)
	assert.Equal(t, 5, reply.Poll.Cap)
	assert.True(t, reply.Poll.NonAnonymous)

	// usage counter ticked
	tmpl, err := st.GetTemplate(ctx, "plain")
	require.NoError(t, err)
	assert.Equal(t, 1, tmpl.UsageCount)
}

func TestTemplateUseUnknown(t *testing.T) {
	svc, _ := setupTestWizard(t)

	reply, err := svc.StartTemplateUse(context.Background(), "bob", "room1", "ghost")
	require.NoError(t, err)
	assert.Contains(t, reply.Text, "не найден")
	assert.True(t, reply.Done)
}

func TestCancelAbortsCollection(t *testing.T) {
	svc, st := setupTestWizard(t)
	ctx := context.Background()

	require.NoError(t, st.CreateTemplate(ctx, &store.Template{
		Name: "vars", Question: "Что по {Задача}?", Options: []string{"Да", "Нет"},
		Variables: []string{"Задача"}, Threshold: 50,
	}))

	reply, err := svc.StartTemplateUse(ctx, "bob", "room1", "vars")
	require.NoError(t, err)
	sessionID := reply.CancelAction[len("cancel:"):]

	reply, err = svc.Cancel(ctx, "bob", sessionID)
	require.NoError(t, err)
	assert.True(t, reply.Done)

	// text afterwards is no longer the wizard's
	reply, err = svc.HandleText(ctx, "bob", "room1", "значение")
	require.NoError(t, err)
	assert.Nil(t, reply)
}

func TestStartingWizardReplacesPrevious(t *testing.T) {
	svc, _ := setupTestWizard(t)
	ctx := context.Background()

	_, err := svc.StartSimplePoll(ctx, "alice", "room1")
	require.NoError(t, err)
	_, err = svc.HandleText(ctx, "alice", "room1", "Первый вопрос?")
	require.NoError(t, err)

	// starting a new wizard silently discards the in-progress one
	_, err = svc.StartNewTemplate(ctx, "alice", "room1")
	require.NoError(t, err)

	reply, err := svc.HandleText(ctx, "alice", "room1", "brand_new")
	require.NoError(t, err)
	assert.Contains(t, reply.Text, "вопрос шаблона")
}

func TestStartingWizardDropsOrphanTemplateSession(t *testing.T) {
	svc, st := setupTestWizard(t)
	ctx := context.Background()

	require.NoError(t, st.CreateTemplate(ctx, &store.Template{
		Name: "vars", Question: "Что по {Задача}?", Options: []string{"Да", "Нет"},
		Variables: []string{"Задача"}, Threshold: 50,
	}))
	_, err := svc.StartTemplateUse(ctx, "bob", "room1", "vars")
	require.NoError(t, err)

	// mangle the wizard row so the template session id is unreachable
	// through the payload
	require.NoError(t, st.PutSession(ctx, &store.Session{
		UserID: "bob", State: StateWaitingVariableValue, Payload: []byte("{broken"),
	}))

	_, err = svc.StartSimplePoll(ctx, "bob", "room1")
	require.NoError(t, err)
	_, err = st.GetTemplateSessionByUser(ctx, "bob")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestThresholdEditFlow(t *testing.T) {
	svc, st := setupTestWizard(t)
	ctx := context.Background()

	require.NoError(t, st.CreateTemplate(ctx, &store.Template{
		Name: "budget", Question: "Бюджет?", Options: []string{"За", "Против"}, Threshold: 50,
	}))

	reply, err := svc.StartThresholdEdit(ctx, "alice", "room1", "budget")
	require.NoError(t, err)
	assert.Contains(t, reply.Text, "50%")

	// out-of-range re-prompts
	reply, err = svc.HandleText(ctx, "alice", "room1", "150")
	require.NoError(t, err)
	assert.Contains(t, reply.Text, "❌")

	reply, err = svc.HandleText(ctx, "alice", "room1", "66")
	require.NoError(t, err)
	assert.True(t, reply.Done)

	tmpl, err := st.GetTemplate(ctx, "budget")
	require.NoError(t, err)
	assert.Equal(t, 66, tmpl.Threshold)
}

func TestHandleTextIdleUser(t *testing.T) {
	svc, _ := setupTestWizard(t)

	reply, err := svc.HandleText(context.Background(), "nobody", "room1", "привет")
	require.NoError(t, err)
	assert.Nil(t, reply)
}

func TestSweepIdle(t *testing.T) {
	svc, st := setupTestWizard(t)
	ctx := context.Background()

	_, err := svc.StartSimplePoll(ctx, "alice", "room1")
	require.NoError(t, err)

	// nothing is idle yet
	require.NoError(t, svc.SweepIdle(ctx, time.Hour, 10))
	_, err = st.GetSession(ctx, "alice")
	require.NoError(t, err)

	// a cutoff in the future sweeps everything
	require.NoError(t, svc.SweepIdle(ctx, -time.Minute, 10))
	_, err = st.GetSession(ctx, "alice")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

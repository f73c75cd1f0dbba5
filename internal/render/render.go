// ABOUTME: Presentation adapter producing user-facing markdown and action lists
// ABOUTME: Converts markdown to HTML via goldmark with a plain-text degradation path

package render

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/yuin/goldmark"

	"github.com/veche-bot/veche/internal/store"
)

// Prefs control optional parts of the poll card.
type Prefs struct {
	ShowAuthor         bool
	ShowDate           bool
	ShowVoteCounts     bool
	ShowVoterNames     bool
	ShowDecisionStatus bool
}

// Action is a button the transport may offer: a label and the opaque token
// routed back through the bot's action handler.
type Action struct {
	Label string
	Token string
}

// Renderer builds all user-facing text. Output is markdown; rich transports
// convert it with ToHTML, plain transports send it as-is.
type Renderer struct {
	prefs Prefs
}

func New(prefs Prefs) *Renderer {
	return &Renderer{prefs: prefs}
}

// PollView is everything the card needs, read fresh from the store.
type PollView struct {
	Poll        *store.Poll
	Counts      map[int]int
	TotalVoters int
	Voters      map[int][]string // display names per option index
}

// PollCard renders the poll with numbered options, counts and decision state.
func (r *Renderer) PollCard(v PollView) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🗳️ **%s**\n\n", v.Poll.Question)

	meta := false
	if r.prefs.ShowAuthor && v.Poll.CreatorID != "" {
		fmt.Fprintf(&b, "👤 Автор: %s\n", v.Poll.CreatorID)
		meta = true
	}
	if r.prefs.ShowDate && !v.Poll.CreatedAt.IsZero() {
		fmt.Fprintf(&b, "📅 Создан: %s\n", v.Poll.CreatedAt.Format("02.01.2006 15:04"))
		meta = true
	}
	if meta {
		b.WriteString("\n")
	}

	for i, opt := range v.Poll.Options {
		fmt.Fprintf(&b, "%d. %s", i+1, opt)
		if r.prefs.ShowVoteCounts {
			fmt.Fprintf(&b, " — %d", v.Counts[i])
		}
		b.WriteString("\n")
		// Non-anonymous polls always name their voters.
		if r.prefs.ShowVoterNames || v.Poll.NonAnonymous {
			if names := v.Voters[i]; len(names) > 0 {
				fmt.Fprintf(&b, "   _%s_\n", strings.Join(names, ", "))
			}
		}
	}

	fmt.Fprintf(&b, "\n👥 Проголосовало: %d", v.TotalVoters)
	if v.Poll.Cap > 0 {
		fmt.Fprintf(&b, " из %d", v.Poll.Cap)
	}
	b.WriteString("\n")

	if !v.Poll.Active() {
		b.WriteString("🔒 Опрос закрыт\n")
	}
	if r.prefs.ShowDecisionStatus {
		b.WriteString(r.decisionLine(v.Poll))
	}
	return b.String()
}

func (r *Renderer) decisionLine(p *store.Poll) string {
	switch p.DecisionStatus {
	case store.DecisionAccepted:
		if p.DecisionNumber != nil {
			return fmt.Sprintf("✅ Решение №%d: принято (порог %d%%)\n", *p.DecisionNumber, p.Threshold)
		}
		return fmt.Sprintf("✅ Принято (порог %d%%)\n", p.Threshold)
	case store.DecisionRejected:
		if p.DecisionNumber != nil {
			return fmt.Sprintf("❌ Решение №%d: отклонено\n", *p.DecisionNumber)
		}
		return "❌ Отклонено\n"
	default:
		return fmt.Sprintf("⏳ Решение не принято (порог %d%%)\n", p.Threshold)
	}
}

// PollActions returns one vote button per option plus the close button.
func (r *Renderer) PollActions(p *store.Poll) []Action {
	actions := make([]Action, 0, len(p.Options)+1)
	for i, opt := range p.Options {
		actions = append(actions, Action{
			Label: fmt.Sprintf("%d. %s", i+1, opt),
			Token: fmt.Sprintf("vote:%s:%d", p.ID, i),
		})
	}
	actions = append(actions, Action{Label: "🔒 Закрыть опрос", Token: "close:" + p.ID})
	return actions
}

// CreateMenu is the /create prompt with its three entry points.
func (r *Renderer) CreateMenu() (string, []Action) {
	return "🗳️ Выберите тип опроса:", []Action{
		{Label: "📝 Простой опрос", Token: "create_simple"},
		{Label: "📋 Из шаблона", Token: "create_template"},
		{Label: "➕ Новый шаблон", Token: "new_template"},
	}
}

// TemplateList renders the first ten templates with their usage counters.
func (r *Renderer) TemplateList(templates []*store.Template) (string, []Action) {
	if len(templates) == 0 {
		return "📋 Шаблоны не найдены", nil
	}

	var b strings.Builder
	b.WriteString("📋 Доступные шаблоны:\n\n")
	shown := templates
	if len(shown) > 10 {
		shown = shown[:10]
	}
	actions := make([]Action, 0, len(shown))
	for _, t := range shown {
		fmt.Fprintf(&b, "• **%s**\n  %s\n  Варианты: %s\n", t.Name, t.Question, strings.Join(t.Options, ", "))
		if len(t.Variables) > 0 {
			fmt.Fprintf(&b, "  Переменные: %s\n", strings.Join(t.Variables, ", "))
		}
		fmt.Fprintf(&b, "  Использований: %d\n\n", t.UsageCount)
		actions = append(actions, Action{Label: "📋 " + t.Name, Token: "use:" + t.Name})
	}
	if len(templates) > 10 {
		fmt.Fprintf(&b, "... и ещё %d шаблонов\n", len(templates)-10)
	}
	return b.String(), actions
}

// Welcome is the /start reply.
func (r *Renderer) Welcome(userID string, perm store.Permission) string {
	return fmt.Sprintf(`🎉 Добро пожаловать в Veche!

Я помогу вам создавать опросы и принимать решения.

📋 Доступные команды:
/start - это сообщение
/create - создать новый опрос
/templates - список шаблонов
/status - статус опросов
/help - справка

👤 Ваш ID: %s
🔑 Права: %s`, userID, perm)
}

// Status is the /status reply.
func (r *Renderer) Status(active, total, users int) string {
	return fmt.Sprintf(`📊 Статистика опросов:

🟢 Активных: %d
📈 Всего: %d
👥 Пользователей: %d`, active, total, users)
}

// Help is the /help reply.
func (r *Renderer) Help() string {
	return `📖 Справка по Veche

🗳️ Создание опросов:
• /create - создать опрос
• Простой опрос - введите вопрос и варианты
• Шаблон - выберите готовый шаблон
• Новый шаблон - создайте свой шаблон

📋 Управление:
• /templates - список шаблонов
• /status - статистика
• /help - эта справка

🔧 Шаблоны поддерживают переменные:
• {X}, {Y} - заменяются на ваши значения
• Пример: "Встреча {Дата} в {Время}?"

💡 Голосование:
• Один голос на участника, повторный голос заменяет прежний
• Решение фиксируется при достижении порога`
}

// ToHTML converts markdown to HTML for rich transports. ok is false when
// conversion failed and the caller should degrade to the plain markdown text.
func ToHTML(markdown string) (string, bool) {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(markdown), &buf); err != nil {
		return "", false
	}
	return buf.String(), true
}

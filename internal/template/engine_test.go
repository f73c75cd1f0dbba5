// ABOUTME: Tests for template variable extraction and substitution
// ABOUTME: Validates unicode names, dedup/sort ordering and the [name] fallback

package template

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractVariables(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{
			name: "latin single letter",
			text: "Встреча {X} в {Y}?",
			want: []string{"X", "Y"},
		},
		{
			name: "cyrillic names",
			text: "Вопрос по {Тема} от {Дата}?",
			want: []string{"Дата", "Тема"},
		},
		{
			name: "deduplicated and sorted",
			text: "{b} {a} {b} {a}",
			want: []string{"a", "b"},
		},
		{
			name: "digits punctuation and spaces allowed",
			text: "{var_1} {due-date} {v.2} {two words}",
			want: []string{"due-date", "two words", "v.2", "var_1"},
		},
		{
			name: "no variables",
			text: "просто текст",
			want: nil,
		},
		{
			name: "empty braces ignored",
			text: "{} {X}",
			want: []string{"X"},
		},
		{
			name: "over 30 chars ignored",
			text: "{abcdefghijklmnopqrstuvwxyz0123456789}",
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractVariables(tt.text))
		})
	}
}

func TestSubstitute_AllResolved(t *testing.T) {
	text := "Вопрос по {Тема} от {Дата}?"
	got := Substitute(text, map[string]string{"Тема": "Бюджет", "Дата": "01.01"})
	assert.Equal(t, "Вопрос по Бюджет от 01.01?", got)
}

func TestSubstitute_UnresolvedFallsBackToBrackets(t *testing.T) {
	text := "Выделить {X} рублей на {Y}?"
	got := Substitute(text, map[string]string{"X": "1000"})
	assert.Equal(t, "Выделить 1000 рублей на [Y]?", got)
	assert.False(t, HasUnresolved(got))
}

func TestSubstitute_RoundTrip(t *testing.T) {
	text := "Встреча {Дата} в {Время}, зал {Зал}"
	values := make(map[string]string)
	for _, v := range ExtractVariables(text) {
		values[v] = "{" + v + "}" // identity fill
	}
	// Filling every extracted variable with its own placeholder reproduces the text
	assert.Equal(t, text, Substitute(text, values))
}

func TestSubstitute_ValueIsNotRescanned(t *testing.T) {
	// A substituted value containing a placeholder-looking span stays literal
	got := Substitute("{a}", map[string]string{"a": "{b}"})
	assert.Equal(t, "{b}", got)
}

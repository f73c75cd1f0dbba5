// ABOUTME: Tests for the action token allow-list parser
// ABOUTME: Valid tokens produce typed variants; everything else is rejected

package bot

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testUUID = "0f8fad5b-d9cb-469f-a165-70867728950e"

func TestParseActionValid(t *testing.T) {
	cases := []struct {
		token string
		want  Action
	}{
		{"create_simple", CreateSimpleAction{}},
		{"create_template", CreateTemplateAction{}},
		{"new_template", NewTemplateAction{}},
		{"use:weekly_meet", UseTemplateAction{Name: "weekly_meet"}},
		{"cancel:" + testUUID, CancelAction{SessionID: testUUID}},
		{"vote:" + testUUID + ":2", VoteAction{PollID: testUUID, OptionIndex: 2}},
		{"close:" + testUUID, ClosePollAction{PollID: testUUID}},
		{"threshold:budget", EditThresholdAction{Template: "budget"}},
	}
	for _, tc := range cases {
		t.Run(tc.token, func(t *testing.T) {
			got, err := ParseAction(tc.token)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestParseActionRejected(t *testing.T) {
	tokens := []string{
		"",
		"unknown",
		"use:",
		"use:имя",                     // non-latin template name
		"use:../../etc/passwd",        // path-ish injection
		"cancel:notauuid",             // wrong cancel id shape
		"vote:" + testUUID,            // missing option index
		"vote:" + testUUID + ":x",     // non-numeric index
		"vote:" + testUUID + ":-1",    // negative index
		"vote:short:0",                // bad poll id
		"close:short",                 // bad poll id
		"drop table polls",            // free-form
		"create_simple; rm -rf /",     // trailing garbage
		strings.Repeat("a", 101),      // overlong
		"vote:" + testUUID + ":1:9",   // extra segment
	}
	for _, token := range tokens {
		t.Run(token, func(t *testing.T) {
			_, err := ParseAction(token)
			assert.ErrorIs(t, err, ErrBadAction)
		})
	}
}

// ABOUTME: Tests for bridge config loading, validation and env expansion
// ABOUTME: Also covers the numbered-reply legend resolution

package matrix

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "matrix.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
[matrix]
homeserver = "https://matrix.example.org"
user_id = "@veche:example.org"
access_token = "syt_secret"

[bridge]
allowed_rooms = ["!room:example.org"]
command_prefix = "!veche"
typing_indicator = true

[logging]
level = "debug"
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "https://matrix.example.org", cfg.Matrix.Homeserver)
	assert.Equal(t, "@veche:example.org", cfg.Matrix.UserID)
	assert.Equal(t, []string{"!room:example.org"}, cfg.Bridge.AllowedRooms)
	assert.True(t, cfg.Bridge.TypingIndicator)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadConfigExpandsEnv(t *testing.T) {
	t.Setenv("VECHE_TEST_TOKEN", "syt_from_env")
	path := writeConfig(t, `
[matrix]
homeserver = "https://matrix.example.org"
user_id = "@veche:example.org"
access_token = "${VECHE_TEST_TOKEN}"
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "syt_from_env", cfg.Matrix.AccessToken)
}

func TestLoadConfigValidation(t *testing.T) {
	cases := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			"missing homeserver",
			"[matrix]\nuser_id = \"@v:e.org\"\naccess_token = \"t\"\n",
			"homeserver is required",
		},
		{
			"missing user id",
			"[matrix]\nhomeserver = \"https://e.org\"\naccess_token = \"t\"\n",
			"user_id is required",
		},
		{
			"bare user id",
			"[matrix]\nhomeserver = \"https://e.org\"\nuser_id = \"veche\"\naccess_token = \"t\"\n",
			"full Matrix ID",
		},
		{
			"missing token",
			"[matrix]\nhomeserver = \"https://e.org\"\nuser_id = \"@v:e.org\"\n",
			"access_token is required",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tc.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.toml"))
	assert.Error(t, err)
}

func TestResolveNumberedReply(t *testing.T) {
	b := &Bridge{}
	b.pending.Store("!room:e.org", []string{"vote:p:0", "vote:p:1", "close:p"})

	token, ok := b.resolveNumberedReply("!room:e.org", "2")
	require.True(t, ok)
	assert.Equal(t, "vote:p:1", token)

	_, ok = b.resolveNumberedReply("!room:e.org", "4")
	assert.False(t, ok)
	_, ok = b.resolveNumberedReply("!room:e.org", "0")
	assert.False(t, ok)
	_, ok = b.resolveNumberedReply("!room:e.org", "не число")
	assert.False(t, ok)
	_, ok = b.resolveNumberedReply("!other:e.org", "1")
	assert.False(t, ok)
}

func TestIsRoomAllowed(t *testing.T) {
	open := &Bridge{config: &Config{}}
	assert.True(t, open.isRoomAllowed("!any:e.org"))

	restricted := &Bridge{config: &Config{
		Bridge: BridgeConfig{AllowedRooms: []string{"!one:e.org"}},
	}}
	assert.True(t, restricted.isRoomAllowed("!one:e.org"))
	assert.False(t, restricted.isRoomAllowed("!two:e.org"))
}

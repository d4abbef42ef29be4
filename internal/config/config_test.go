package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_YAMLThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "chat.yaml")
	yml := `
server_addr: ":9000"
history_limit: 50
feed:
  driver: redis
storage:
  bucket: avatars
session:
  user_id: u-yaml
`
	require.NoError(t, os.WriteFile(path, []byte(yml), 0o600))
	t.Setenv("APP_ENV", "production")
	t.Setenv("CONFIG_PATH", path)
	t.Setenv("CHAT_USER_ID", "u-env")
	t.Setenv("READ_TIMEOUT", "3")

	cfg := Load()

	assert.Equal(t, ":9000", cfg.ServerAddr)
	assert.Equal(t, 50, cfg.HistoryLimit)
	assert.Equal(t, FeedRedis, cfg.Feed.Driver)
	assert.Equal(t, "avatars", cfg.Storage.Bucket)
	assert.Equal(t, "u-env", cfg.Session.UserID)
	assert.Equal(t, 3*time.Second, cfg.ReadTimeout)
	assert.Equal(t, int64(5<<20), cfg.Storage.MaxUploadSize)
}

func TestFromYAML_Normalizes(t *testing.T) {
	yc := defaults()
	yc.Feed.Driver = "carrier-pigeon"
	yc.HistoryLimit = -1
	yc.Storage.Bucket = ""

	cfg := fromYAML(yc)

	assert.Equal(t, FeedPostgres, cfg.Feed.Driver)
	assert.Equal(t, 200, cfg.HistoryLimit)
	assert.Equal(t, "chat-images", cfg.Storage.Bucket)
	assert.Equal(t, 10, cfg.DBMaxConnections())
}

func TestParseEnvLine(t *testing.T) {
	tests := []struct {
		line    string
		key     string
		val     string
		matched bool
	}{
		{"DATABASE_URL=postgres://x", "DATABASE_URL", "postgres://x", true},
		{`CHAT_EMAIL="me@example.com"`, "CHAT_EMAIL", "me@example.com", true},
		{"  # comment", "", "", false},
		{"=nokey", "", "", false},
		{"", "", "", false},
	}
	for _, tt := range tests {
		key, val, ok := parseEnvLine(tt.line)
		assert.Equal(t, tt.matched, ok, tt.line)
		assert.Equal(t, tt.key, key, tt.line)
		assert.Equal(t, tt.val, val, tt.line)
	}
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "medichat.db", cfg.Database.Path)
	assert.Equal(t, "openai", cfg.Answer.Provider)
	assert.Equal(t, 60*time.Second, cfg.Answer.Timeout)
	assert.Equal(t, 24*time.Hour, cfg.Auth.TokenTTL)
	assert.Equal(t, "s3cret", cfg.Auth.JWTSecret)
	assert.False(t, cfg.Tracing.Enabled)
}

func TestLoadConfigFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  addr: ":9000"
auth:
  jwt_secret: from-file
database:
  driver: memory
answer:
  provider: offline
  timeout: 5s
openai:
  model: gpt-4o
`), 0o600))

	t.Setenv("SERVER_ADDR", ":9100")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("TELEGRAM_TOKEN", "123:abc")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, ":9100", cfg.Server.Addr)
	assert.Equal(t, "from-file", cfg.Auth.JWTSecret)
	assert.Equal(t, "memory", cfg.Database.Driver)
	assert.Equal(t, "offline", cfg.Answer.Provider)
	assert.Equal(t, 5*time.Second, cfg.Answer.Timeout)
	assert.Equal(t, "gpt-4o", cfg.OpenAI.Model)
	assert.Equal(t, "sk-test", cfg.OpenAI.APIKey)
	assert.Equal(t, "123:abc", cfg.Telegram.Token)
}

func TestLoadConfigDatabaseURL(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("DATABASE_URL", "postgres://medi:pw@db.internal:6543/medichat?sslmode=require")

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, DatabaseConfig{
		Driver:   "postgres",
		Host:     "db.internal",
		Port:     6543,
		User:     "medi",
		Password: "pw",
		DBName:   "medichat",
		SSLMode:  "require",
	}, cfg.Database)
}

func TestLoadConfigRejects(t *testing.T) {
	t.Run("missing secret", func(t *testing.T) {
		t.Setenv("JWT_SECRET", "")
		_, err := LoadConfig("")
		assert.ErrorContains(t, err, "JWT_SECRET")
	})

	t.Run("unknown driver", func(t *testing.T) {
		t.Setenv("JWT_SECRET", "s3cret")
		t.Setenv("DATABASE_DRIVER", "mongo")
		_, err := LoadConfig("")
		assert.ErrorContains(t, err, "mongo")
	})

	t.Run("bad database url", func(t *testing.T) {
		t.Setenv("JWT_SECRET", "s3cret")
		t.Setenv("DATABASE_URL", "mysql://x@y/z")
		_, err := LoadConfig("")
		assert.ErrorContains(t, err, "DATABASE_URL")
	})
}

package config

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestFromEnvDefaults(t *testing.T) {
	cfg, err := FromEnv(envMap(nil))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, "localhost:6379", cfg.RedisAddr)
	assert.Equal(t, DefaultHistoryTTL, cfg.HistoryTTL)
	assert.Empty(t, cfg.EncryptionKey)
	assert.Empty(t, cfg.AllowedOrigins)
	assert.ErrorIs(t, cfg.Validate(), ErrMissingDSN)
}

func TestFromEnvDecodesKey(t *testing.T) {
	cfg, err := FromEnv(envMap(map[string]string{
		"DB_DSN":              "postgres://x",
		"JWT_SECRET":          "s",
		"CHAT_ENCRYPTION_KEY": strings.Repeat("ab", 32),
		"HISTORY_TTL":         "90s",
		"LLM_BASE_URL":        "http://llm.local/",
	}))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Len(t, cfg.EncryptionKey, KeySize)
	assert.False(t, cfg.EphemeralKey)
	assert.Equal(t, 90*time.Second, cfg.HistoryTTL)
	assert.Equal(t, "http://llm.local", cfg.LLMBaseURL)
}

func TestFromEnvRejectsShortKey(t *testing.T) {
	_, err := FromEnv(envMap(map[string]string{"CHAT_ENCRYPTION_KEY": "abcd"}))
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestMissingKeyFailsValidation(t *testing.T) {
	cfg, err := FromEnv(envMap(map[string]string{"DB_DSN": "d", "JWT_SECRET": "s"}))
	require.NoError(t, err)
	assert.ErrorIs(t, cfg.Validate(), ErrMissingKey)
}

func TestEphemeralKeyOptIn(t *testing.T) {
	cfg, err := FromEnv(envMap(map[string]string{
		"DB_DSN":             "d",
		"JWT_SECRET":         "s",
		"CHAT_EPHEMERAL_KEY": "true",
	}))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	assert.True(t, cfg.EphemeralKey)
	assert.Len(t, cfg.EncryptionKey, KeySize)
}

func TestFromEnvAllowedOrigins(t *testing.T) {
	cfg, err := FromEnv(envMap(map[string]string{
		"ALLOWED_ORIGINS": " https://chat.example.com/ ,, http://localhost:3000",
	}))
	require.NoError(t, err)
	assert.Equal(t, []string{"https://chat.example.com", "http://localhost:3000"}, cfg.AllowedOrigins)
}

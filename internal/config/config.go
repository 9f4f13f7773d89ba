package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	DefaultHistoryTTL = 5 * time.Minute
	KeySize           = 32
)

var (
	ErrMissingDSN       = errors.New("DB_DSN is not set")
	ErrMissingJWTSecret = errors.New("JWT_SECRET is not set")
	ErrMissingKey       = errors.New("CHAT_ENCRYPTION_KEY is not set (set CHAT_EPHEMERAL_KEY=true to use a throwaway key)")
	ErrInvalidKey       = errors.New("CHAT_ENCRYPTION_KEY must be 64 hex characters (32 bytes)")
)

type Config struct {
	Addr      string
	LogMode   string
	DBDSN     string
	JWTSecret string
	RedisAddr string

	EncryptionKey []byte
	// EphemeralKey is true when EncryptionKey was generated at startup.
	// Anything encrypted with it is unreadable after a restart.
	EphemeralKey bool

	LLMBaseURL string
	LLMAPIKey  string
	LLMModel   string

	HistoryTTL time.Duration

	// AllowedOrigins lists browser origins that may open the websocket.
	// Empty means same-origin only; "*" allows any.
	AllowedOrigins []string
}

// Load reads an optional .env file and then the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from a lookup function so tests can avoid the real environment.
func FromEnv(getenv func(string) string) (*Config, error) {
	cfg := &Config{
		Addr:       orDefault(getenv("ADDR"), ":8080"),
		LogMode:    orDefault(getenv("LOG_MODE"), "dev"),
		DBDSN:      strings.TrimSpace(getenv("DB_DSN")),
		JWTSecret:  strings.TrimSpace(getenv("JWT_SECRET")),
		RedisAddr:  orDefault(getenv("REDIS_ADDR"), "localhost:6379"),
		LLMBaseURL: strings.TrimRight(orDefault(getenv("LLM_BASE_URL"), "https://api.openai.com"), "/"),
		LLMAPIKey:  strings.TrimSpace(getenv("LLM_API_KEY")),
		LLMModel:   orDefault(getenv("LLM_MODEL"), "gpt-4o-mini"),
		HistoryTTL: DefaultHistoryTTL,
	}

	if v := strings.TrimSpace(getenv("HISTORY_TTL")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("HISTORY_TTL: %w", err)
		}
		cfg.HistoryTTL = d
	}

	for _, o := range strings.Split(getenv("ALLOWED_ORIGINS"), ",") {
		if o = strings.TrimSpace(o); o != "" {
			cfg.AllowedOrigins = append(cfg.AllowedOrigins, strings.TrimRight(o, "/"))
		}
	}

	rawKey := strings.TrimSpace(getenv("CHAT_ENCRYPTION_KEY"))
	switch {
	case rawKey != "":
		key, err := hex.DecodeString(rawKey)
		if err != nil || len(key) != KeySize {
			return nil, ErrInvalidKey
		}
		cfg.EncryptionKey = key
	case boolEnv(getenv("CHAT_EPHEMERAL_KEY")):
		key := make([]byte, KeySize)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("generate ephemeral key: %w", err)
		}
		cfg.EncryptionKey = key
		cfg.EphemeralKey = true
	}

	return cfg, nil
}

// Validate fails fast on anything the server cannot start without.
func (c *Config) Validate() error {
	if c.DBDSN == "" {
		return ErrMissingDSN
	}
	if c.JWTSecret == "" {
		return ErrMissingJWTSecret
	}
	if len(c.EncryptionKey) == 0 {
		return ErrMissingKey
	}
	if len(c.EncryptionKey) != KeySize {
		return ErrInvalidKey
	}
	return nil
}

func orDefault(v, def string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return def
	}
	return v
}

func boolEnv(v string) bool {
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	return err == nil && b
}

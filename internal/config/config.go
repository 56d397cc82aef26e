// Package config loads worker configuration from the process environment,
// optionally seeded from a .env file for local development.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every recognized option from spec.md §6 plus worker-only
// tuning knobs that have no bearing on the HTTP API.
type Config struct {
	DatabaseURL string
	SecretKey   string

	AccessTokenExpireMinutes int

	TelegramAPIID   int
	TelegramAPIHash string
	BotToken        string

	SMTPServer    string
	SMTPPort      int
	SMTPUser      string
	SMTPPassword  string
	EmailsFrom    string
	InviteCode    string

	SupervisorTick   time.Duration
	LivenessTimeout  time.Duration
	DedupCacheSize   int
	RuleCacheTTL     time.Duration
	SyncedChatsLimit int

	LogLevel string
	LogJSON  bool
}

// Load reads configuration from the environment. If a .env file exists in
// the working directory it is loaded first (without overriding variables
// already set in the real environment).
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		DatabaseURL:              os.Getenv("DATABASE_URL"),
		SecretKey:                os.Getenv("SECRET_KEY"),
		AccessTokenExpireMinutes: envInt("ACCESS_TOKEN_EXPIRE_MINUTES", 30),
		TelegramAPIID:            envInt("TELEGRAM_API_ID", 0),
		TelegramAPIHash:          os.Getenv("TELEGRAM_API_HASH"),
		BotToken:                 os.Getenv("BOT_TOKEN"),
		SMTPServer:               os.Getenv("SMTP_SERVER"),
		SMTPPort:                 envInt("SMTP_PORT", 587),
		SMTPUser:                 os.Getenv("SMTP_USER"),
		SMTPPassword:             os.Getenv("SMTP_PASSWORD"),
		EmailsFrom:               os.Getenv("EMAILS_FROM_EMAIL"),
		InviteCode:               os.Getenv("INVITE"),
		SupervisorTick:           envSeconds("SUPERVISOR_TICK_SECONDS", 5),
		LivenessTimeout:          envSeconds("LIVENESS_TIMEOUT_SECONDS", 5),
		DedupCacheSize:           envInt("DEDUP_CACHE_SIZE", 5000),
		RuleCacheTTL:             envSeconds("RULE_CACHE_TTL_SECONDS", 3),
		SyncedChatsLimit:         envInt("SYNCED_CHATS_LIMIT", 50),
		LogLevel:                 envOr("LOG_LEVEL", "info"),
		LogJSON:                  envOr("LOG_FORMAT", "json") == "json",
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	return cfg, nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envSeconds(key string, defSeconds int) time.Duration {
	return time.Duration(envInt(key, defSeconds)) * time.Second
}

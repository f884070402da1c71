package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Port          int
	NatsURL       string
	NatsToken     string
	DatabaseURL   string
	LogLevel      string
	SlackBotToken string
	SlackChannel  string

	Reddit    RedditConfig
	Expansion ExpansionConfig
}

// RedditConfig holds API credentials. When any of the OAuth fields is empty
// the client falls back to the public .json endpoints.
type RedditConfig struct {
	ClientID     string
	ClientSecret string
	Username     string
	Password     string
	UserAgent    string
}

// Authenticated reports whether a full OAuth2 password grant is configured.
func (r RedditConfig) Authenticated() bool {
	return r.ClientID != "" && r.ClientSecret != "" && r.Username != "" && r.Password != ""
}

// ExpansionConfig holds the engine knobs.
type ExpansionConfig struct {
	Workers        int
	MaxRequests    int // 0 = unlimited
	MaxComments    int // 0 = unlimited
	RatePerMinute  int
	RateBurst      int
	RequestTimeout time.Duration
	MaxTimeouts    int
	MaxAttempts    int
	IncludeDeleted bool
}

const defaultUserAgent = "threadqa/1.0 (comment tree Q&A extractor)"

func Load() Config {
	return Config{
		Port:          envInt("THREADQA_PORT", 8760),
		NatsURL:       envStr("NATS_URL", ""),
		NatsToken:     envStr("NATS_TOKEN", ""),
		DatabaseURL:   envStr("DATABASE_URL", ""),
		LogLevel:      envStr("LOG_LEVEL", "info"),
		SlackBotToken: envStr("SLACK_BOT_TOKEN", ""),
		SlackChannel:  envStr("SLACK_CHANNEL", ""),
		Reddit: RedditConfig{
			ClientID:     envStr("REDDIT_CLIENT_ID", ""),
			ClientSecret: envStr("REDDIT_CLIENT_SECRET", ""),
			Username:     envStr("REDDIT_USERNAME", ""),
			Password:     envStr("REDDIT_PASSWORD", ""),
			UserAgent:    envStr("REDDIT_USER_AGENT", defaultUserAgent),
		},
		Expansion: ExpansionConfig{
			Workers:        envInt("THREADQA_WORKERS", 2),
			MaxRequests:    envInt("THREADQA_MAX_REQUESTS", 0),
			MaxComments:    envInt("THREADQA_MAX_COMMENTS", 0),
			RatePerMinute:  envInt("THREADQA_RATE_PER_MINUTE", 60),
			RateBurst:      envInt("THREADQA_RATE_BURST", 60),
			RequestTimeout: envDuration("THREADQA_REQUEST_TIMEOUT", 30*time.Second),
			MaxTimeouts:    envInt("THREADQA_MAX_TIMEOUTS", 3),
			MaxAttempts:    envInt("THREADQA_MAX_ATTEMPTS", 5),
			IncludeDeleted: envBool("THREADQA_INCLUDE_DELETED", false),
		},
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	VerifyNone   = "none"
	VerifyClaims = "claims"
	VerifyRemote = "remote"
)

type Config struct {
	HTTPPort          int
	APIBaseURL        string
	APITimeout        time.Duration
	DBPath            string
	AuthSecret        string
	SessionMaxAge     time.Duration
	SessionVerify     string
	CookieSecure      bool
	ShowLoadErrors    bool
	LogLevel          slog.Level
	SubmissionEnabled bool
	SubmissionPort    int
}

func Load() Config {
	return Config{
		HTTPPort:          getEnvInt("HTTP_PORT", 3030),
		APIBaseURL:        strings.TrimRight(getEnvString("API_BASE_URL", "http://localhost:8080/api"), "/"),
		APITimeout:        getEnvDuration("API_TIMEOUT", 0),
		DBPath:            getEnvString("DB_PATH", ""),
		AuthSecret:        getEnvString("AUTH_SECRET", ""),
		SessionMaxAge:     getEnvDuration("SESSION_MAX_AGE", 30*24*time.Hour),
		SessionVerify:     getEnvChoice("SESSION_VERIFY", VerifyNone, VerifyNone, VerifyClaims, VerifyRemote),
		CookieSecure:      getEnvBool("COOKIE_SECURE", false),
		ShowLoadErrors:    getEnvBool("SHOW_LOAD_ERRORS", false),
		LogLevel:          getEnvLevel("LOG_LEVEL", slog.LevelInfo),
		SubmissionEnabled: getEnvBool("SUBMISSION_ENABLED", false),
		SubmissionPort:    getEnvInt("SUBMISSION_PORT", 2587),
	}
}

func getEnvString(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		parsed, err := strconv.Atoi(strings.TrimSpace(value))
		if err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		parsed, err := strconv.ParseBool(strings.TrimSpace(value))
		if err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		parsed, err := time.ParseDuration(strings.TrimSpace(value))
		if err == nil && parsed >= 0 {
			return parsed
		}
	}
	return fallback
}

// getEnvChoice returns the lowercased value of key when it is one of allowed.
func getEnvChoice(key, fallback string, allowed ...string) string {
	value := strings.ToLower(getEnvString(key, fallback))
	for _, choice := range allowed {
		if value == choice {
			return value
		}
	}
	return fallback
}

func getEnvLevel(key string, fallback slog.Level) slog.Level {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(value))); err != nil {
		return fallback
	}
	return level
}

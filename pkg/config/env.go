// Package config provides environment helpers and the gateway's runtime configuration.
package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// EnvOr returns the environment variable value or a fallback default.
func EnvOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// EnvOrInt returns an integer environment variable or a fallback default.
// Logs a warning if the value is set but not parseable.
func EnvOrInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("invalid integer env var, using fallback", "key", key, "value", v, "fallback", fallback)
		return fallback
	}
	return n
}

// EnvOrBool parses true/false style values (strconv.ParseBool).
func EnvOrBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		slog.Warn("invalid boolean env var, using fallback", "key", key, "value", v, "fallback", fallback)
		return fallback
	}
	return b
}

// EnvOrDuration accepts Go duration strings ("30s") or a bare number of seconds.
func EnvOrDuration(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	slog.Warn("invalid duration env var, using fallback", "key", key, "value", v, "fallback", fallback)
	return fallback
}

// LoadDotEnv loads .env and then .env.<APP_ENV> from dir into the process
// environment. Variables already set in the environment win over .env, while
// the APP_ENV file overrides .env. Missing files are skipped.
func LoadDotEnv(dir string) []string {
	var loaded []string
	base := joinDir(dir, ".env")
	if _, err := os.Stat(base); err == nil {
		if err := godotenv.Load(base); err != nil {
			slog.Warn("could not load env file", "path", base, "error", err)
		} else {
			loaded = append(loaded, base)
		}
	}

	if appEnv := os.Getenv("APP_ENV"); appEnv != "" {
		overlay := joinDir(dir, ".env."+appEnv)
		if _, err := os.Stat(overlay); err == nil {
			if err := godotenv.Overload(overlay); err != nil {
				slog.Warn("could not load env file", "path", overlay, "error", err)
			} else {
				loaded = append(loaded, overlay)
			}
		}
	}
	return loaded
}

func joinDir(dir, name string) string {
	if dir == "" || dir == "." {
		return name
	}
	return strings.TrimRight(dir, "/") + "/" + name
}

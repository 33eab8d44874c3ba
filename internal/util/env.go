package util

import (
	"log/slog"
	"os"
	"strings"
)

// ParseBool interprets the flag spellings accepted in PlanPipe's environment:
// true/1/yes/on and false/0/no/off, case-insensitive. ok is false for anything else.
func ParseBool(raw string) (value, ok bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "true", "1", "yes", "on":
		return true, true
	case "false", "0", "no", "off":
		return false, true
	}
	return false, false
}

// ParseBoolEnv reads key as a boolean. Unset or unrecognized values yield fallback.
func ParseBoolEnv(key string, fallback bool) bool {
	raw, set := os.LookupEnv(key)
	if !set || strings.TrimSpace(raw) == "" {
		return fallback
	}
	v, ok := ParseBool(raw)
	if !ok {
		slog.Warn("util.ParseBoolEnv: unrecognized boolean, using fallback", "key", key, "value", raw, "fallback", fallback)
		return fallback
	}
	return v
}

// GetEnvDefault returns the trimmed value of key, or fallback when unset or blank.
func GetEnvDefault(key, fallback string) string {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return fallback
}

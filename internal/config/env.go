package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// EnvPrefix namespaces every environment override read by Load.
const EnvPrefix = "FACECAM_"

func lookupEnv(key string) (string, bool) {
	v, ok := os.LookupEnv(EnvPrefix + key)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

func GetStringEnv(key, fallback string) string {
	if v, ok := lookupEnv(key); ok {
		return v
	}
	return fallback
}

func GetBoolEnv(key string, fallback bool) bool {
	if v, ok := lookupEnv(key); ok {
		if parsed, err := strconv.ParseBool(v); err == nil {
			return parsed
		}
	}
	return fallback
}

func GetIntEnv(key string, fallback int) int {
	if v, ok := lookupEnv(key); ok {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return fallback
}

func GetInt64Env(key string, fallback int64) int64 {
	if v, ok := lookupEnv(key); ok {
		if parsed, err := strconv.ParseInt(v, 10, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func GetDurationEnv(key string, fallback time.Duration) time.Duration {
	if v, ok := lookupEnv(key); ok {
		if parsed, err := time.ParseDuration(v); err == nil {
			return parsed
		}
	}
	return fallback
}

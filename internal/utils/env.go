package utils

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

func GetEnv(key, defaultValue string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return defaultValue
}

func GetEnvInt(key string, defaultValue int) int {
	raw := GetEnv(key, "")
	if raw == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		log.Printf("⚠️  Invalid integer for %s=%q, using default %d", key, raw, defaultValue)
		return defaultValue
	}
	return value
}

func GetEnvInt64(key string, defaultValue int64) int64 {
	raw := GetEnv(key, "")
	if raw == "" {
		return defaultValue
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		log.Printf("⚠️  Invalid integer for %s=%q, using default %d", key, raw, defaultValue)
		return defaultValue
	}
	return value
}

func GetEnvBool(key string, defaultValue bool) bool {
	raw := strings.TrimSpace(GetEnv(key, ""))
	if raw == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		log.Printf("⚠️  Invalid boolean for %s=%q, using default %v", key, raw, defaultValue)
		return defaultValue
	}
	return value
}

func GetEnvDuration(key string, defaultValue time.Duration) time.Duration {
	raw := GetEnv(key, "")
	if raw == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		log.Printf("⚠️  Invalid duration for %s=%q, using default %v", key, raw, defaultValue)
		return defaultValue
	}
	return value
}

// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/ManuGH/codecshift/internal/log"
)

// Environment parsers. Unset variables fall back silently; malformed
// values warn and fall back so a typo cannot take the controller down.

func sensitiveKey(key string) bool {
	k := strings.ToLower(key)
	for _, marker := range []string{"token", "password", "key", "secret"} {
		if strings.Contains(k, marker) {
			return true
		}
	}
	return false
}

// ParseString reads key from the environment, logging the source.
// Secret-bearing values are never logged.
func ParseString(key, defaultValue string) string {
	logger := log.WithComponent("config")
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return defaultValue
	}
	ev := logger.Debug().Str("key", key).Str("source", "environment")
	if sensitiveKey(key) {
		ev.Bool("sensitive", true).Msg("using environment variable")
	} else {
		ev.Str("value", value).Msg("using environment variable")
	}
	return value
}

// ParseInt reads an integer; malformed values warn and use the default.
func ParseInt(key string, defaultValue int) int {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return defaultValue
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		logger := log.WithComponent("config")
		logger.Warn().
			Str("key", key).Str("value", v).Int("default", defaultValue).
			Msg("not an integer, using default")
		return defaultValue
	}
	return i
}

// ParseBool accepts true/false, 1/0 and yes/no, case-insensitive.
func ParseBool(key string, defaultValue bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return defaultValue
	}
	switch strings.ToLower(v) {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	}
	logger := log.WithComponent("config")
	logger.Warn().
		Str("key", key).Str("value", v).Bool("default", defaultValue).
		Msg("not a boolean, using default")
	return defaultValue
}

// ParseFloat reads a float64; malformed values warn and use the default.
func ParseFloat(key string, defaultValue float64) float64 {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return defaultValue
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		logger := log.WithComponent("config")
		logger.Warn().
			Str("key", key).Str("value", v).Float64("default", defaultValue).
			Msg("not a number, using default")
		return defaultValue
	}
	return f
}

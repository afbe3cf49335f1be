// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("API_KEY", "k")

	cfg, err := NewLoader("", "2.1.0").Load()
	require.NoError(t, err)

	assert.Equal(t, "/data/codecshift.db", cfg.DBPath)
	assert.Equal(t, ":5000", cfg.APIListenAddr)
	assert.True(t, cfg.AuthEnabled)
	assert.True(t, cfg.MetricsEnabled)
	assert.Equal(t, "2.1.0", cfg.Version)
}

func TestLoadPrecedenceEnvOverFile(t *testing.T) {
	path := writeConfigFile(t, "dbPath: /from/file.db\napiListenAddr: \":8000\"\napiKey: filekey\n")
	t.Setenv("DB_PATH", "/from/env.db")

	cfg, err := NewLoader(path, "2.1.0").Load()
	require.NoError(t, err)

	assert.Equal(t, "/from/env.db", cfg.DBPath)
	assert.Equal(t, ":8000", cfg.APIListenAddr)
	assert.Equal(t, "filekey", cfg.APIKey)
}

func TestLoadRequiresAPIKeyOutsideDevMode(t *testing.T) {
	t.Setenv("API_KEY", "")
	_, err := NewLoader("", "2.1.0").Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "API_KEY")

	t.Setenv("DEVMODE", "true")
	_, err = NewLoader("", "2.1.0").Load()
	require.NoError(t, err)
}

func TestLoadDecodesLocalPassword(t *testing.T) {
	t.Setenv("API_KEY", "k")
	t.Setenv("LOCAL_PASSWORD", base64.StdEncoding.EncodeToString([]byte("swordfish")))

	cfg, err := NewLoader("", "2.1.0").Load()
	require.NoError(t, err)
	assert.Equal(t, "swordfish", cfg.LocalPassword)
}

func TestValidateRejectsIncompleteOIDC(t *testing.T) {
	t.Setenv("API_KEY", "k")
	t.Setenv("OIDC_ENABLED", "true")

	_, err := NewLoader("", "2.1.0").Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "OIDC")
}

func TestParseHelpers(t *testing.T) {
	t.Setenv("CS_TEST_BOOL", "yes")
	assert.True(t, ParseBool("CS_TEST_BOOL", false))

	t.Setenv("CS_TEST_BOOL", "banana")
	assert.True(t, ParseBool("CS_TEST_BOOL", true))

	t.Setenv("CS_TEST_INT", "42")
	assert.Equal(t, 42, ParseInt("CS_TEST_INT", 7))

	t.Setenv("CS_TEST_INT", "nope")
	assert.Equal(t, 7, ParseInt("CS_TEST_INT", 7))

	t.Setenv("CS_TEST_FLOAT", "0.25")
	assert.Equal(t, 0.25, ParseFloat("CS_TEST_FLOAT", 1.0))

	assert.Equal(t, "fallback", ParseString("CS_TEST_UNSET", "fallback"))
}

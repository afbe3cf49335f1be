// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package config loads controller configuration with precedence ENV > file > defaults.
package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// AppConfig is the resolved controller configuration.
type AppConfig struct {
	// Database
	DBPath string `yaml:"dbPath"`

	// Shared worker secret; every worker call must present it.
	APIKey string `yaml:"apiKey"`

	// Operator auth
	AuthEnabled       bool   `yaml:"authEnabled"`
	OIDCEnabled       bool   `yaml:"oidcEnabled"`
	OIDCIssuerURL     string `yaml:"oidcIssuerUrl"`
	OIDCClientID      string `yaml:"oidcClientId"`
	OIDCClientSecret  string `yaml:"oidcClientSecret"`
	OIDCSSLVerify     bool   `yaml:"oidcSslVerify"`
	OIDCProviderName  string `yaml:"oidcProviderName"`
	LocalLoginEnabled bool   `yaml:"localLoginEnabled"`
	LocalUser         string `yaml:"localUser"`
	LocalPassword     string `yaml:"-"` // decoded from base64, never serialised

	// Outbound providers
	ArrSSLVerify bool `yaml:"arrSslVerify"`

	// Runtime
	Timezone string `yaml:"tz"`
	DevMode  bool   `yaml:"devMode"`

	// Paths
	BackupDir string `yaml:"backupDir"`

	// Listeners
	APIListenAddr  string `yaml:"apiListenAddr"`
	MetricsEnabled bool   `yaml:"metricsEnabled"`
	MetricsAddr    string `yaml:"metricsAddr"`

	// Telemetry
	TracingEnabled  bool    `yaml:"tracingEnabled"`
	TracingExporter string  `yaml:"tracingExporter"`
	TracingEndpoint string  `yaml:"tracingEndpoint"`
	TracingSampling float64 `yaml:"tracingSampling"`

	// Logging
	LogLevel   string `yaml:"logLevel"`
	LogService string `yaml:"logService"`

	// Version is injected by the caller, not configured.
	Version string `yaml:"-"`
}

// fileConfig mirrors AppConfig for the optional YAML file; a pointer type per
// field distinguishes "absent" from zero value.
type fileConfig struct {
	DBPath            *string  `yaml:"dbPath"`
	APIKey            *string  `yaml:"apiKey"`
	AuthEnabled       *bool    `yaml:"authEnabled"`
	OIDCEnabled       *bool    `yaml:"oidcEnabled"`
	OIDCIssuerURL     *string  `yaml:"oidcIssuerUrl"`
	OIDCClientID      *string  `yaml:"oidcClientId"`
	OIDCClientSecret  *string  `yaml:"oidcClientSecret"`
	OIDCSSLVerify     *bool    `yaml:"oidcSslVerify"`
	OIDCProviderName  *string  `yaml:"oidcProviderName"`
	LocalLoginEnabled *bool    `yaml:"localLoginEnabled"`
	LocalUser         *string  `yaml:"localUser"`
	ArrSSLVerify      *bool    `yaml:"arrSslVerify"`
	Timezone          *string  `yaml:"tz"`
	DevMode           *bool    `yaml:"devMode"`
	BackupDir         *string  `yaml:"backupDir"`
	APIListenAddr     *string  `yaml:"apiListenAddr"`
	MetricsEnabled    *bool    `yaml:"metricsEnabled"`
	MetricsAddr       *string  `yaml:"metricsAddr"`
	TracingEnabled    *bool    `yaml:"tracingEnabled"`
	TracingExporter   *string  `yaml:"tracingExporter"`
	TracingEndpoint   *string  `yaml:"tracingEndpoint"`
	TracingSampling   *float64 `yaml:"tracingSampling"`
	LogLevel          *string  `yaml:"logLevel"`
	LogService        *string  `yaml:"logService"`
}

// Loader resolves configuration with precedence ENV > file > defaults.
type Loader struct {
	path    string
	version string
}

// NewLoader creates a configuration loader. path may be empty (ENV + defaults only).
func NewLoader(path, version string) *Loader {
	return &Loader{path: path, version: version}
}

// Load resolves the effective configuration.
func (l *Loader) Load() (AppConfig, error) {
	cfg := defaults()
	cfg.Version = l.version

	if l.path != "" {
		fc, err := readFile(l.path)
		if err != nil {
			return AppConfig{}, err
		}
		applyFile(&cfg, fc)
	}

	applyEnv(&cfg)

	if err := Validate(cfg); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}

func defaults() AppConfig {
	return AppConfig{
		DBPath:          "/data/codecshift.db",
		AuthEnabled:     true,
		OIDCSSLVerify:   true,
		ArrSSLVerify:    true,
		BackupDir:       "/data/backups",
		APIListenAddr:   ":5000",
		MetricsEnabled:  true,
		MetricsAddr:     ":9090",
		TracingExporter: "http",
		TracingSampling: 1.0,
		LogLevel:        "info",
		LogService:      "codecshift",
	}
}

func readFile(path string) (*fileConfig, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path comes from operator config
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read config file %s: %w", path, err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}
	return &fc, nil
}

func applyFile(cfg *AppConfig, fc *fileConfig) {
	if fc == nil {
		return
	}
	if fc.DBPath != nil {
		cfg.DBPath = *fc.DBPath
	}
	if fc.APIKey != nil {
		cfg.APIKey = *fc.APIKey
	}
	if fc.AuthEnabled != nil {
		cfg.AuthEnabled = *fc.AuthEnabled
	}
	if fc.OIDCEnabled != nil {
		cfg.OIDCEnabled = *fc.OIDCEnabled
	}
	if fc.OIDCIssuerURL != nil {
		cfg.OIDCIssuerURL = *fc.OIDCIssuerURL
	}
	if fc.OIDCClientID != nil {
		cfg.OIDCClientID = *fc.OIDCClientID
	}
	if fc.OIDCClientSecret != nil {
		cfg.OIDCClientSecret = *fc.OIDCClientSecret
	}
	if fc.OIDCSSLVerify != nil {
		cfg.OIDCSSLVerify = *fc.OIDCSSLVerify
	}
	if fc.OIDCProviderName != nil {
		cfg.OIDCProviderName = *fc.OIDCProviderName
	}
	if fc.LocalLoginEnabled != nil {
		cfg.LocalLoginEnabled = *fc.LocalLoginEnabled
	}
	if fc.LocalUser != nil {
		cfg.LocalUser = *fc.LocalUser
	}
	if fc.ArrSSLVerify != nil {
		cfg.ArrSSLVerify = *fc.ArrSSLVerify
	}
	if fc.Timezone != nil {
		cfg.Timezone = *fc.Timezone
	}
	if fc.DevMode != nil {
		cfg.DevMode = *fc.DevMode
	}
	if fc.BackupDir != nil {
		cfg.BackupDir = *fc.BackupDir
	}
	if fc.APIListenAddr != nil {
		cfg.APIListenAddr = *fc.APIListenAddr
	}
	if fc.MetricsEnabled != nil {
		cfg.MetricsEnabled = *fc.MetricsEnabled
	}
	if fc.MetricsAddr != nil {
		cfg.MetricsAddr = *fc.MetricsAddr
	}
	if fc.TracingEnabled != nil {
		cfg.TracingEnabled = *fc.TracingEnabled
	}
	if fc.TracingExporter != nil {
		cfg.TracingExporter = *fc.TracingExporter
	}
	if fc.TracingEndpoint != nil {
		cfg.TracingEndpoint = *fc.TracingEndpoint
	}
	if fc.TracingSampling != nil {
		cfg.TracingSampling = *fc.TracingSampling
	}
	if fc.LogLevel != nil {
		cfg.LogLevel = *fc.LogLevel
	}
	if fc.LogService != nil {
		cfg.LogService = *fc.LogService
	}
}

func applyEnv(cfg *AppConfig) {
	cfg.DBPath = ParseString("DB_PATH", cfg.DBPath)
	cfg.APIKey = ParseString("API_KEY", cfg.APIKey)
	cfg.AuthEnabled = ParseBool("AUTH_ENABLED", cfg.AuthEnabled)
	cfg.OIDCEnabled = ParseBool("OIDC_ENABLED", cfg.OIDCEnabled)
	cfg.OIDCIssuerURL = ParseString("OIDC_ISSUER_URL", cfg.OIDCIssuerURL)
	cfg.OIDCClientID = ParseString("OIDC_CLIENT_ID", cfg.OIDCClientID)
	cfg.OIDCClientSecret = ParseString("OIDC_CLIENT_SECRET", cfg.OIDCClientSecret)
	cfg.OIDCSSLVerify = ParseBool("OIDC_SSL_VERIFY", cfg.OIDCSSLVerify)
	cfg.OIDCProviderName = ParseString("OIDC_PROVIDER_NAME", cfg.OIDCProviderName)
	cfg.LocalLoginEnabled = ParseBool("LOCAL_LOGIN_ENABLED", cfg.LocalLoginEnabled)
	cfg.LocalUser = ParseString("LOCAL_USER", cfg.LocalUser)
	cfg.ArrSSLVerify = ParseBool("ARR_SSL_VERIFY", cfg.ArrSSLVerify)
	cfg.Timezone = ParseString("TZ", cfg.Timezone)
	cfg.DevMode = ParseBool("DEVMODE", cfg.DevMode)
	cfg.BackupDir = ParseString("BACKUP_DIR", cfg.BackupDir)
	cfg.APIListenAddr = ParseString("LISTEN_ADDR", cfg.APIListenAddr)
	cfg.MetricsEnabled = ParseBool("METRICS_ENABLED", cfg.MetricsEnabled)
	cfg.MetricsAddr = ParseString("METRICS_ADDR", cfg.MetricsAddr)
	cfg.TracingEnabled = ParseBool("TRACING_ENABLED", cfg.TracingEnabled)
	cfg.TracingExporter = ParseString("TRACING_EXPORTER", cfg.TracingExporter)
	cfg.TracingEndpoint = ParseString("TRACING_ENDPOINT", cfg.TracingEndpoint)
	cfg.TracingSampling = ParseFloat("TRACING_SAMPLING", cfg.TracingSampling)
	cfg.LogLevel = ParseString("LOG_LEVEL", cfg.LogLevel)

	// LOCAL_PASSWORD arrives base64-encoded; decode once at the boundary.
	if raw, ok := os.LookupEnv("LOCAL_PASSWORD"); ok && raw != "" {
		if decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(raw)); err == nil {
			cfg.LocalPassword = string(decoded)
		} else {
			// Treat undecodable values as literal to avoid locking operators out.
			cfg.LocalPassword = raw
		}
	}
}

// Validate rejects configurations that cannot serve safely.
func Validate(cfg AppConfig) error {
	if cfg.DBPath == "" {
		return fmt.Errorf("config: DB_PATH must not be empty")
	}
	if cfg.APIKey == "" && !cfg.DevMode {
		return fmt.Errorf("config: API_KEY is required (set DEVMODE=true to run without worker auth)")
	}
	if cfg.OIDCEnabled {
		if cfg.OIDCIssuerURL == "" || cfg.OIDCClientID == "" {
			return fmt.Errorf("config: OIDC_ENABLED requires OIDC_ISSUER_URL and OIDC_CLIENT_ID")
		}
	}
	if cfg.LocalLoginEnabled && cfg.LocalUser == "" {
		return fmt.Errorf("config: LOCAL_LOGIN_ENABLED requires LOCAL_USER")
	}
	if cfg.TracingEnabled && cfg.TracingEndpoint == "" {
		return fmt.Errorf("config: TRACING_ENABLED requires TRACING_ENDPOINT")
	}
	return nil
}

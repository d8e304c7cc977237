// Package config provides centralized configuration management for the application.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ErrMissingConfig is returned when required configuration values are absent.
var ErrMissingConfig = errors.New("missing required configuration")

const (
	defaultListenAddr        = ":8080"
	defaultTimeoutSeconds    = 60
	defaultBatchConcurrency  = 4
	defaultReportConcurrency = 8
	defaultLogLevel          = "info"
)

// Config holds all configuration parameters for the application.
type Config struct {
	TFS    TFSConfig
	Server ServerConfig
	Log    LogConfig
}

// TFSConfig holds TFS / Azure DevOps specific configuration.
type TFSConfig struct {
	BaseURL string
	Project string
	PAT     string
	// Token is an OAuth bearer token; used instead of PAT when set.
	Token            string
	Insecure         bool
	Timeout          time.Duration
	BatchConcurrency int
}

// ServerConfig holds HTTP API configuration.
type ServerConfig struct {
	ListenAddr        string
	ReportConcurrency int
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string
	Format string
	// Dir enables a daily log file in this directory in addition to stderr.
	Dir string
}

// LoadConfig loads configuration from environment variables and, when path
// is not empty, from a YAML or JSON config file. Environment variables take
// precedence over file values.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Map specific environment variables
	v.BindEnv("tfs.base_url", "TFS_BASE_URL")
	v.BindEnv("tfs.project", "TFS_PROJECT")
	v.BindEnv("tfs.pat", "TFS_PAT")
	v.BindEnv("tfs.token", "TFS_TOKEN")
	v.BindEnv("tfs.insecure", "TFS_INSECURE")
	v.BindEnv("tfs.timeout", "TIMEOUT")
	v.BindEnv("tfs.batch_concurrency", "BATCH_CONCURRENCY")
	v.BindEnv("server.listen_addr", "LISTEN_ADDR")
	v.BindEnv("server.report_concurrency", "REPORT_CONCURRENCY")
	v.BindEnv("log.level", "LOG_LEVEL")
	v.BindEnv("log.format", "LOG_FORMAT")
	v.BindEnv("log.dir", "LOG_DIR")

	v.SetDefault("tfs.timeout", defaultTimeoutSeconds)
	v.SetDefault("tfs.batch_concurrency", defaultBatchConcurrency)
	v.SetDefault("server.listen_addr", defaultListenAddr)
	v.SetDefault("server.report_concurrency", defaultReportConcurrency)
	v.SetDefault("log.level", defaultLogLevel)
	v.SetDefault("log.format", "text")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	timeout := v.GetInt("tfs.timeout")
	if timeout <= 0 {
		timeout = defaultTimeoutSeconds
	}

	config := &Config{
		TFS: TFSConfig{
			BaseURL:          strings.TrimRight(v.GetString("tfs.base_url"), "/"),
			Project:          v.GetString("tfs.project"),
			PAT:              v.GetString("tfs.pat"),
			Token:            v.GetString("tfs.token"),
			Insecure:         v.GetBool("tfs.insecure"),
			Timeout:          time.Duration(timeout) * time.Second,
			BatchConcurrency: positiveOr(v.GetInt("tfs.batch_concurrency"), defaultBatchConcurrency),
		},
		Server: ServerConfig{
			ListenAddr:        v.GetString("server.listen_addr"),
			ReportConcurrency: positiveOr(v.GetInt("server.report_concurrency"), defaultReportConcurrency),
		},
		Log: LogConfig{
			Level:  strings.ToLower(v.GetString("log.level")),
			Format: strings.ToLower(v.GetString("log.format")),
			Dir:    v.GetString("log.dir"),
		},
	}

	return config, nil
}

// ValidateTFSConfig ensures the values needed to talk to TFS are present.
func ValidateTFSConfig(config *Config) error {
	var missingVars []string

	if config.TFS.BaseURL == "" {
		missingVars = append(missingVars, "TFS_BASE_URL")
	}
	if config.TFS.Project == "" {
		missingVars = append(missingVars, "TFS_PROJECT")
	}
	if config.TFS.PAT == "" && config.TFS.Token == "" {
		missingVars = append(missingVars, "TFS_PAT or TFS_TOKEN")
	}

	if len(missingVars) > 0 {
		return fmt.Errorf("%w: missing required environment variables: %v", ErrMissingConfig, missingVars)
	}

	return nil
}

// Redacted returns a copy of the config with secrets masked.
func (c Config) Redacted() Config {
	if c.TFS.PAT != "" {
		c.TFS.PAT = "***"
	}
	if c.TFS.Token != "" {
		c.TFS.Token = "***"
	}
	return c
}

func positiveOr(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

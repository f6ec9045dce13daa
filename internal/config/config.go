package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/alvmarrod/retrospect/internal/extract"
	"github.com/alvmarrod/retrospect/internal/snapshot"
	"github.com/alvmarrod/retrospect/internal/wayback"
	"github.com/sirupsen/logrus"
)

// Registry backends
const (
	RegistrySQLite = "sqlite"
	RegistryMemory = "memory"
)

// Config holds all runtime configuration parameters
type Config struct {
	TargetURL         string   `json:"target_url"`
	UserAgent         string   `json:"user_agent"`
	YearsAgo          int      `json:"years_ago"`
	DaysInterval      int      `json:"days_interval"`
	OutputDir         string   `json:"output_dir"`
	SearchEnabled     bool     `json:"search_enabled"`
	Extensions        []string `json:"extensions"`
	MatchType         string   `json:"match_type"`
	ExtractMode       string   `json:"extract_mode"`
	IndexURL          string   `json:"index_url"`
	ArchiveURL        string   `json:"archive_url"`
	RawContent        bool     `json:"raw_content"`
	RequestTimeoutMs  int      `json:"request_timeout_ms"`
	RequestsPerSecond float64  `json:"requests_per_second"`
	MaxBodyBytes      int      `json:"max_body_bytes"`
	Registry          string   `json:"registry"`
	CorpusName        string   `json:"corpus_name"`
	MetricsPath       string   `json:"metrics_path"`
	LogLevel          string   `json:"log_level"`
}

// Default returns the configuration used when no file is given
func Default() *Config {
	cfg := &Config{
		YearsAgo:     10,
		DaysInterval: 30,
	}
	applyDefaults(cfg)
	return cfg
}

// LoadConfig reads configuration from a JSON file over the defaults.
// An empty path yields the defaults. Call Validate once overrides are applied.
func LoadConfig(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	decoder := json.NewDecoder(file)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	// Apply defaults for values emptied by the file
	applyDefaults(cfg)

	return cfg, nil
}

// Validate checks that required fields are present and values are sensible
func (cfg *Config) Validate() error {
	if err := validate(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// applyDefaults sets default values for unspecified fields
func applyDefaults(cfg *Config) {
	if cfg.UserAgent == "" {
		cfg.UserAgent = "Mozilla/5.0"
	}
	if cfg.OutputDir == "" {
		cfg.OutputDir = "."
	}
	if len(cfg.Extensions) == 0 {
		cfg.Extensions = append([]string(nil), snapshot.DefaultExtensions...)
	}
	if cfg.MatchType == "" {
		cfg.MatchType = string(wayback.MatchDomain)
	}
	if cfg.ExtractMode == "" {
		cfg.ExtractMode = string(extract.ModeDetailed)
	}
	if cfg.IndexURL == "" {
		cfg.IndexURL = wayback.DefaultIndexURL
	}
	if cfg.ArchiveURL == "" {
		cfg.ArchiveURL = wayback.DefaultArchiveURL
	}
	if cfg.RequestTimeoutMs == 0 {
		cfg.RequestTimeoutMs = 30000
	}
	if cfg.RequestsPerSecond == 0 {
		cfg.RequestsPerSecond = 1
	}
	if cfg.MaxBodyBytes == 0 {
		cfg.MaxBodyBytes = 10 * 1024 * 1024
	}
	if cfg.Registry == "" {
		cfg.Registry = RegistrySQLite
	}
	if cfg.CorpusName == "" {
		cfg.CorpusName = extract.DefaultCorpusName
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "metrics.json"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
}

// validate checks that required fields are present and values are sensible
func validate(cfg *Config) error {
	if strings.TrimSpace(cfg.TargetURL) == "" {
		return fmt.Errorf("target_url is required")
	}
	if cfg.YearsAgo < 0 {
		return fmt.Errorf("years_ago must be >= 0")
	}
	if cfg.DaysInterval < 0 {
		return fmt.Errorf("days_interval must be >= 0")
	}
	if cfg.RequestTimeoutMs < 1000 {
		return fmt.Errorf("request_timeout_ms must be >= 1000")
	}
	if cfg.MaxBodyBytes < 0 {
		return fmt.Errorf("max_body_bytes must be >= 0")
	}
	if _, err := wayback.ParseMatchType(cfg.MatchType); err != nil {
		return err
	}
	if _, err := extract.ParseMode(cfg.ExtractMode); err != nil {
		return err
	}
	if _, err := snapshot.NormalizeExtensions(cfg.Extensions); err != nil {
		return err
	}
	if cfg.Registry != RegistrySQLite && cfg.Registry != RegistryMemory {
		return fmt.Errorf("registry must be %q or %q", RegistrySQLite, RegistryMemory)
	}
	if _, err := logrus.ParseLevel(cfg.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	return nil
}

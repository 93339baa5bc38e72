// Package config handles process configuration and environment loading.
package config

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Config holds the read-only process configuration: the project directory
// layout, the year list, and ambient settings. It is constructed once at
// startup and passed into each pipeline stage; nothing reads the
// environment after load.
type Config struct {
	RootDir      string // project root; other directories default relative to it
	RawDir       string // unmodified source data
	CleanedDir   string // per-year cleaned outputs
	ReferenceDir string // lookup/reference tables

	Years        []int // ordered year identifiers for per-year batches
	SnapshotYear int   // single year for snapshot builds (default: last of Years)

	HistoryDBPath string // SQLite run-history file
	DuckDBPath    string // DuckDB analytical store ("" = in-memory)
	LogLevel      string // debug, info, warn, error (default "info")

	// Warnings collects non-fatal findings during load. They are logged by
	// the caller once the logger exists.
	Warnings []string
}

// SlogLevel maps the LogLevel string to an slog.Level.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// LoadFromEnv loads configuration from PMT_* environment variables,
// applying defaults for anything unset.
func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		RootDir:       os.Getenv("PMT_ROOT"),
		RawDir:        os.Getenv("PMT_RAW_DIR"),
		CleanedDir:    os.Getenv("PMT_CLEANED_DIR"),
		ReferenceDir:  os.Getenv("PMT_REFERENCE_DIR"),
		HistoryDBPath: os.Getenv("PMT_HISTORY_DB"),
		DuckDBPath:    os.Getenv("PMT_DUCKDB_PATH"),
		LogLevel:      os.Getenv("PMT_LOG_LEVEL"),
	}

	if v := os.Getenv("PMT_YEARS"); v != "" {
		years, err := ParseYears(v)
		if err != nil {
			return nil, fmt.Errorf("PMT_YEARS: %w", err)
		}
		cfg.Years = years
	}
	if v := os.Getenv("PMT_SNAPSHOT_YEAR"); v != "" {
		y, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return nil, fmt.Errorf("PMT_SNAPSHOT_YEAR: %w", err)
		}
		cfg.SnapshotYear = y
	}

	// Defaults
	if cfg.RootDir == "" {
		cfg.RootDir = "."
	}
	if cfg.RawDir == "" {
		cfg.RawDir = filepath.Join(cfg.RootDir, "raw")
	}
	if cfg.CleanedDir == "" {
		cfg.CleanedDir = filepath.Join(cfg.RootDir, "cleaned")
	}
	if cfg.ReferenceDir == "" {
		cfg.ReferenceDir = filepath.Join(cfg.RootDir, "reference")
	}
	if cfg.HistoryDBPath == "" {
		cfg.HistoryDBPath = filepath.Join(cfg.RootDir, "pmt_history.sqlite")
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if len(cfg.Years) == 0 {
		cfg.Warnings = append(cfg.Warnings, "PMT_YEARS not set — jobs run on the snapshot year only")
	}
	if cfg.SnapshotYear == 0 && len(cfg.Years) > 0 {
		cfg.SnapshotYear = cfg.Years[len(cfg.Years)-1]
	}

	return cfg, nil
}

// ParseYears parses a comma-separated, ordered list of years.
func ParseYears(s string) ([]int, error) {
	parts := strings.Split(s, ",")
	years := make([]int, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		y, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid year %q", p)
		}
		years = append(years, y)
	}
	if len(years) == 0 {
		return nil, fmt.Errorf("empty year list")
	}
	return years, nil
}

// LoadDotEnv reads a .env file and sets any variables not already in the
// environment. Lines must be KEY=VALUE; comments (#) and blanks are skipped.
func LoadDotEnv(path string) error {
	f, err := os.Open(path) //nolint:gosec // path is caller-controlled
	if err != nil {
		if os.IsNotExist(err) {
			return nil // .env not found is not an error
		}
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close() //nolint:errcheck

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = stripQuotes(strings.TrimSpace(value))
		if os.Getenv(key) == "" {
			if err := os.Setenv(key, value); err != nil {
				return fmt.Errorf("setenv %s: %w", key, err)
			}
		}
	}
	return scanner.Err()
}

// stripQuotes removes matching surrounding double or single quotes.
func stripQuotes(s string) string {
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}

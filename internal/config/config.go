// Package config loads snippetrun settings from the environment.
package config

import (
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
)

const (
	defaultListenAddr     = ":8080"
	defaultDBPath         = "snippetrun.db"
	defaultLogFormat      = FormatJSON
	defaultMaxConcurrency = 4
	defaultTimeout        = 30 * time.Second
	defaultProbeTimeout   = 3 * time.Second

	EnvListenAddr     = "SNIPPETRUN_LISTEN_ADDR"
	EnvDBPath         = "SNIPPETRUN_DB_PATH"
	EnvLogLevel       = "SNIPPETRUN_LOG_LEVEL"
	EnvLogFormat      = "SNIPPETRUN_LOG_FORMAT"
	EnvMaxConcurrency = "SNIPPETRUN_MAX_CONCURRENCY"
	EnvDefaultTimeout = "SNIPPETRUN_DEFAULT_TIMEOUT"
	EnvProbeTimeout   = "SNIPPETRUN_PROBE_TIMEOUT"
	EnvWorkspaceRoot  = "SNIPPETRUN_WORKSPACE_ROOT"
	EnvCatalog        = "SNIPPETRUN_CATALOG"
	EnvNATSURL        = "SNIPPETRUN_NATS_URL"
	EnvPackageDir     = "SNIPPETRUN_PACKAGE_DIR"
)

// Log formats.
const (
	FormatJSON = "json"
	FormatText = "text"
)

// Config holds application configuration loaded from environment variables.
type Config struct {
	ListenAddr     string
	DBPath         string
	LogLevel       slog.Level
	LogFormat      string
	MaxConcurrency int
	DefaultTimeout time.Duration
	ProbeTimeout   time.Duration
	WorkspaceRoot  string // empty selects a directory under os.TempDir
	CatalogPath    string // optional TOML or YAML runtime catalog overrides
	NATSURL        string // empty disables the NATS responder
	PackageDir     string // empty selects a directory under the user cache dir
}

// LoadDotEnv loads variables from a .env file without overriding ones
// already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// Load reads configuration from environment variables with sensible defaults.
// Malformed numeric or duration values fall back to their defaults.
func Load() Config {
	cfg := Config{
		ListenAddr:     defaultListenAddr,
		DBPath:         defaultDBPath,
		LogLevel:       slog.LevelInfo,
		LogFormat:      defaultLogFormat,
		MaxConcurrency: defaultMaxConcurrency,
		DefaultTimeout: defaultTimeout,
		ProbeTimeout:   defaultProbeTimeout,
	}

	if v := os.Getenv(EnvListenAddr); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv(EnvDBPath); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.LogLevel = ParseLogLevel(v)
	}
	if v := os.Getenv(EnvLogFormat); v != "" {
		cfg.LogFormat = parseLogFormat(v)
	}
	if v := os.Getenv(EnvMaxConcurrency); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxConcurrency = n
		}
	}
	if v := os.Getenv(EnvDefaultTimeout); v != "" {
		if d, ok := parseDuration(v); ok {
			cfg.DefaultTimeout = d
		}
	}
	if v := os.Getenv(EnvProbeTimeout); v != "" {
		if d, ok := parseDuration(v); ok {
			cfg.ProbeTimeout = d
		}
	}
	cfg.WorkspaceRoot = os.Getenv(EnvWorkspaceRoot)
	cfg.CatalogPath = os.Getenv(EnvCatalog)
	cfg.NATSURL = os.Getenv(EnvNATSURL)
	cfg.PackageDir = os.Getenv(EnvPackageDir)

	return cfg
}

// parseDuration accepts Go durations ("45s") or bare milliseconds ("45000").
func parseDuration(s string) (time.Duration, bool) {
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		if ms <= 0 {
			return 0, false
		}
		return time.Duration(ms) * time.Millisecond, true
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return 0, false
	}
	return d, true
}

// ParseLogLevel maps a level name to its slog level, defaulting to info.
func ParseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func parseLogFormat(s string) string {
	if strings.EqualFold(s, FormatText) {
		return FormatText
	}
	return FormatJSON
}

// NewLogger creates a structured logger writing to w at the given level.
// FormatText selects a human-readable colored handler; anything else JSON.
func NewLogger(w io.Writer, level slog.Level, format string) *slog.Logger {
	if format == FormatText {
		return slog.New(tint.NewHandler(w, &tint.Options{
			Level:      level,
			TimeFormat: time.TimeOnly,
			NoColor:    color.NoColor,
		}))
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}

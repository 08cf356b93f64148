package config

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

var allEnv = []string{
	EnvListenAddr, EnvDBPath, EnvLogLevel, EnvLogFormat, EnvMaxConcurrency,
	EnvDefaultTimeout, EnvProbeTimeout, EnvWorkspaceRoot, EnvCatalog, EnvNATSURL, EnvPackageDir,
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range allEnv {
		t.Setenv(k, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg := Load()

	if cfg.ListenAddr != defaultListenAddr {
		t.Errorf("ListenAddr = %q, want %q", cfg.ListenAddr, defaultListenAddr)
	}
	if cfg.DBPath != defaultDBPath {
		t.Errorf("DBPath = %q, want %q", cfg.DBPath, defaultDBPath)
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Errorf("LogLevel = %v, want %v", cfg.LogLevel, slog.LevelInfo)
	}
	if cfg.LogFormat != FormatJSON {
		t.Errorf("LogFormat = %q, want %q", cfg.LogFormat, FormatJSON)
	}
	if cfg.MaxConcurrency != defaultMaxConcurrency {
		t.Errorf("MaxConcurrency = %d, want %d", cfg.MaxConcurrency, defaultMaxConcurrency)
	}
	if cfg.DefaultTimeout != 30*time.Second || cfg.ProbeTimeout != 3*time.Second {
		t.Errorf("timeouts = %v / %v, want 30s / 3s", cfg.DefaultTimeout, cfg.ProbeTimeout)
	}
	if cfg.WorkspaceRoot != "" || cfg.CatalogPath != "" || cfg.NATSURL != "" || cfg.PackageDir != "" {
		t.Errorf("optional settings populated: %+v", cfg)
	}
}

func TestLoadFromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvListenAddr, ":9090")
	t.Setenv(EnvDBPath, "/tmp/test.db")
	t.Setenv(EnvLogLevel, "debug")
	t.Setenv(EnvLogFormat, "TEXT")
	t.Setenv(EnvMaxConcurrency, "16")
	t.Setenv(EnvDefaultTimeout, "45s")
	t.Setenv(EnvProbeTimeout, "1500")
	t.Setenv(EnvWorkspaceRoot, "/var/tmp/ws")
	t.Setenv(EnvPackageDir, "/var/cache/snippetrun")
	t.Setenv(EnvCatalog, "/etc/snippetrun/runtimes.toml")
	t.Setenv(EnvNATSURL, "nats://localhost:4222")

	cfg := Load()

	if cfg.ListenAddr != ":9090" {
		t.Errorf("ListenAddr = %q, want %q", cfg.ListenAddr, ":9090")
	}
	if cfg.DBPath != "/tmp/test.db" {
		t.Errorf("DBPath = %q, want %q", cfg.DBPath, "/tmp/test.db")
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Errorf("LogLevel = %v, want %v", cfg.LogLevel, slog.LevelDebug)
	}
	if cfg.LogFormat != FormatText {
		t.Errorf("LogFormat = %q, want %q", cfg.LogFormat, FormatText)
	}
	if cfg.MaxConcurrency != 16 {
		t.Errorf("MaxConcurrency = %d, want 16", cfg.MaxConcurrency)
	}
	if cfg.DefaultTimeout != 45*time.Second {
		t.Errorf("DefaultTimeout = %v, want 45s", cfg.DefaultTimeout)
	}
	if cfg.ProbeTimeout != 1500*time.Millisecond {
		t.Errorf("ProbeTimeout = %v, want 1.5s", cfg.ProbeTimeout)
	}
	if cfg.WorkspaceRoot != "/var/tmp/ws" || cfg.CatalogPath != "/etc/snippetrun/runtimes.toml" || cfg.NATSURL != "nats://localhost:4222" ||
		cfg.PackageDir != "/var/cache/snippetrun" {
		t.Errorf("optional settings = %+v", cfg)
	}
}

func TestLoadIgnoresMalformedValues(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvMaxConcurrency, "-3")
	t.Setenv(EnvDefaultTimeout, "soon")
	t.Setenv(EnvProbeTimeout, "0")

	cfg := Load()
	if cfg.MaxConcurrency != defaultMaxConcurrency {
		t.Errorf("MaxConcurrency = %d, want default", cfg.MaxConcurrency)
	}
	if cfg.DefaultTimeout != defaultTimeout || cfg.ProbeTimeout != defaultProbeTimeout {
		t.Errorf("timeouts = %v / %v, want defaults", cfg.DefaultTimeout, cfg.ProbeTimeout)
	}
}

func TestLoadDotEnv(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("SNIPPETRUN_DB_PATH=/data/history.db\n"), 0o644); err != nil {
		t.Fatalf("write .env: %v", err)
	}
	// godotenv never overrides variables that are already set, even to "".
	os.Unsetenv(EnvDBPath)

	if err := LoadDotEnv(path); err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}
	t.Cleanup(func() { os.Unsetenv(EnvDBPath) })

	if got := Load().DBPath; got != "/data/history.db" {
		t.Errorf("DBPath = %q, want value from .env", got)
	}

	if err := LoadDotEnv(filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Errorf("missing .env should be ignored, got %v", err)
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"invalid", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := ParseLogLevel(tt.input); got != tt.want {
				t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestNewLoggerJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, slog.LevelInfo, FormatJSON)

	logger.Debug("hidden")
	logger.Info("execution finished", "execution_id", "01J")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log output is not a single JSON line: %v\n%s", err, buf.String())
	}
	if entry["msg"] != "execution finished" || entry["execution_id"] != "01J" {
		t.Errorf("entry = %v", entry)
	}
}

func TestNewLoggerText(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, slog.LevelDebug, FormatText)

	logger.Debug("probing runtimes", "catalog", 14)

	out := buf.String()
	if !strings.Contains(out, "probing runtimes") || !strings.Contains(out, "catalog=") {
		t.Errorf("text output = %q", out)
	}
}

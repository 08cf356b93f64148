package runtimes_test

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/Wangjien/snippetsHub/internal/runtimes"
)

// writeScript creates an executable shell script and returns its path.
func writeScript(t *testing.T, name, body string) string {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

// fixedLookPath resolves only the names in paths.
func fixedLookPath(paths map[string]string) func(string) (string, error) {
	return func(name string) (string, error) {
		if p, ok := paths[name]; ok {
			return p, nil
		}
		return "", errors.New("not found")
	}
}

func TestCommandProberAvailable(t *testing.T) {
	script := writeScript(t, "fakelang", "echo ''; echo 'fakelang 1.2.3'; echo 'extra'")
	p := runtimes.NewCommandProber(time.Second)
	p.LookPath = fixedLookPath(map[string]string{"fakelang": script})

	ri := p.Probe(context.Background(), runtimes.Entry{
		Language: "fake", Name: "Fake", Command: "fakelang", VersionFlag: "--version", Extension: "fk",
	})
	if !ri.Available {
		t.Fatal("expected runtime to be available")
	}
	if ri.Version != "fakelang 1.2.3" {
		t.Errorf("Version = %q, want %q", ri.Version, "fakelang 1.2.3")
	}
	if ri.Command != "fakelang" {
		t.Errorf("Command = %q, want catalog name %q", ri.Command, "fakelang")
	}
}

func TestCommandProberNonZeroExitStillAvailable(t *testing.T) {
	script := writeScript(t, "grumpy", "echo 'grumpy 0.1' >&2; exit 1")
	p := runtimes.NewCommandProber(time.Second)
	p.LookPath = fixedLookPath(map[string]string{"grumpy": script})

	ri := p.Probe(context.Background(), runtimes.Entry{
		Language: "grumpy", Command: "grumpy", VersionFlag: "-version", Extension: "g",
	})
	if !ri.Available || ri.Version != "grumpy 0.1" {
		t.Errorf("Probe = {Available:%v Version:%q}, want {true grumpy 0.1}", ri.Available, ri.Version)
	}
}

func TestCommandProberHangIsUnavailable(t *testing.T) {
	script := writeScript(t, "hang", "exec sleep 10")
	p := runtimes.NewCommandProber(200 * time.Millisecond)
	p.LookPath = fixedLookPath(map[string]string{"hang": script})

	start := time.Now()
	ri := p.Probe(context.Background(), runtimes.Entry{
		Language: "hang", Command: "hang", VersionFlag: "--version", Extension: "h",
	})
	if ri.Available {
		t.Error("hung probe should mark runtime unavailable")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("probe took %v, want bounded by its timeout", elapsed)
	}
}

func TestCommandProberMissingCommands(t *testing.T) {
	script := writeScript(t, "javaish", "echo 'v1'")

	tests := []struct {
		name  string
		paths map[string]string
	}{
		{"run command missing", map[string]string{}},
		{"compiler missing", map[string]string{"javaish": script}},
		{"compiled run command missing", map[string]string{"javaish": script, "javaishc": script}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := runtimes.NewCommandProber(time.Second)
			p.LookPath = fixedLookPath(tt.paths)
			ri := p.Probe(context.Background(), runtimes.Entry{
				Language: "javaish", Command: "javaish", VersionFlag: "-v", Extension: "j",
				Compile: &runtimes.CompileEntry{Command: "javaishc", RunCommand: "javaishvm"},
			})
			if ri.Available {
				t.Error("expected unavailable runtime")
			}
		})
	}
}

func TestCommandProberDefaultTimeout(t *testing.T) {
	p := runtimes.NewCommandProber(0)
	if p.Timeout != runtimes.DefaultProbeTimeout {
		t.Errorf("Timeout = %v, want %v", p.Timeout, runtimes.DefaultProbeTimeout)
	}
}

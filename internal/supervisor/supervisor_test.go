package supervisor_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Wangjien/snippetsHub/internal/model"
	"github.com/Wangjien/snippetsHub/internal/supervisor"
)

func newTestSupervisor(t *testing.T) *supervisor.Supervisor {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	return supervisor.New(slog.New(slog.NewTextHandler(io.Discard, nil)), 500*time.Millisecond)
}

func shell(script string) []string {
	return []string{"sh", "-c", script}
}

func TestRunCapturesOutputAndExitCode(t *testing.T) {
	sup := newTestSupervisor(t)

	res, err := sup.Run(context.Background(), supervisor.Spec{
		Argv:    shell("echo out; echo err >&2; exit 3"),
		Timeout: 5 * time.Second,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Outcome != model.OutcomeCompleted {
		t.Errorf("Outcome = %q, want %q", res.Outcome, model.OutcomeCompleted)
	}
	if res.ExitCode != 3 {
		t.Errorf("ExitCode = %d, want 3", res.ExitCode)
	}
	if string(res.Stdout) != "out\n" || string(res.Stderr) != "err\n" {
		t.Errorf("output = %q / %q", res.Stdout, res.Stderr)
	}
	if !res.Spawned || res.PID == 0 {
		t.Errorf("Spawned = %v, PID = %d", res.Spawned, res.PID)
	}
}

func TestRunTimeoutKeepsPartialOutput(t *testing.T) {
	sup := newTestSupervisor(t)
	timeout := 300 * time.Millisecond

	res, err := sup.Run(context.Background(), supervisor.Spec{
		Argv:    shell("echo partial; exec sleep 5"),
		Timeout: timeout,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Outcome != model.OutcomeTimedOut {
		t.Errorf("Outcome = %q, want %q", res.Outcome, model.OutcomeTimedOut)
	}
	if res.ExitCode != model.ExitCodeTerminated {
		t.Errorf("ExitCode = %d, want %d", res.ExitCode, model.ExitCodeTerminated)
	}
	if string(res.Stdout) != "partial\n" {
		t.Errorf("Stdout = %q, want %q", res.Stdout, "partial\n")
	}
	if res.Duration < timeout || res.Duration > timeout+time.Second {
		t.Errorf("Duration = %v, want within a second above %v", res.Duration, timeout)
	}
}

func TestRunTimeoutKillsProcessGroup(t *testing.T) {
	sup := newTestSupervisor(t)

	start := time.Now()
	res, err := sup.Run(context.Background(), supervisor.Spec{
		Argv:    shell("sleep 30 & sleep 30"),
		Timeout: 200 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Outcome != model.OutcomeTimedOut {
		t.Errorf("Outcome = %q, want %q", res.Outcome, model.OutcomeTimedOut)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Run took %v; background child kept it alive", elapsed)
	}
}

func TestRunEndsWhenLeaderExits(t *testing.T) {
	sup := newTestSupervisor(t)

	start := time.Now()
	res, err := sup.Run(context.Background(), supervisor.Spec{
		Argv:    shell("echo hi; sleep 30 &"),
		Timeout: 5 * time.Second,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Outcome != model.OutcomeCompleted {
		t.Errorf("Outcome = %q, want %q", res.Outcome, model.OutcomeCompleted)
	}
	if res.ExitCode != 0 {
		t.Errorf("ExitCode = %d, want 0", res.ExitCode)
	}
	if string(res.Stdout) != "hi\n" {
		t.Errorf("Stdout = %q, want %q", res.Stdout, "hi\n")
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Errorf("Run took %v; background child held the output open", elapsed)
	}
}

func TestRunCancelled(t *testing.T) {
	sup := newTestSupervisor(t)
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)

	res, err := sup.Run(ctx, supervisor.Spec{
		Argv:    shell("exec sleep 10"),
		Timeout: 10 * time.Second,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Outcome != model.OutcomeCancelled {
		t.Errorf("Outcome = %q, want %q", res.Outcome, model.OutcomeCancelled)
	}
	if res.ExitCode != model.ExitCodeTerminated {
		t.Errorf("ExitCode = %d, want %d", res.ExitCode, model.ExitCodeTerminated)
	}
}

func TestRunCancelledBeforeSpawn(t *testing.T) {
	sup := newTestSupervisor(t)
	marker := filepath.Join(t.TempDir(), "ran")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := sup.Run(ctx, supervisor.Spec{Argv: shell("touch " + marker)})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Outcome != model.OutcomeCancelled || res.Spawned {
		t.Errorf("Run = {Outcome:%q Spawned:%v}, want cancelled and not spawned", res.Outcome, res.Spawned)
	}
	if _, err := os.Stat(marker); !errors.Is(err, os.ErrNotExist) {
		t.Error("process ran despite pre-cancelled context")
	}
}

func TestRunSpawnFailed(t *testing.T) {
	sup := newTestSupervisor(t)

	_, err := sup.Run(context.Background(), supervisor.Spec{Argv: []string{"/nonexistent/snippetrun-runtime"}})
	if !errors.Is(err, model.ErrSpawnFailed) {
		t.Errorf("error = %v, want ErrSpawnFailed", err)
	}

	_, err = sup.Run(context.Background(), supervisor.Spec{})
	if !errors.Is(err, model.ErrInternal) {
		t.Errorf("empty argv error = %v, want ErrInternal", err)
	}
}

func TestRunSignalExitCode(t *testing.T) {
	sup := newTestSupervisor(t)

	res, err := sup.Run(context.Background(), supervisor.Spec{
		Argv:    shell("kill -TERM $$"),
		Timeout: 5 * time.Second,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Outcome != model.OutcomeCompleted {
		t.Errorf("Outcome = %q, want %q", res.Outcome, model.OutcomeCompleted)
	}
	if res.ExitCode != 128+15 {
		t.Errorf("ExitCode = %d, want %d", res.ExitCode, 128+15)
	}
}

func TestRunEnvIsAdditive(t *testing.T) {
	sup := newTestSupervisor(t)

	res, err := sup.Run(context.Background(), supervisor.Spec{
		Argv:    shell(`echo "$SNIPPET_GREETING"; test -n "$PATH" && echo path-ok`),
		Env:     map[string]string{"SNIPPET_GREETING": "hi"},
		Timeout: 5 * time.Second,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if string(res.Stdout) != "hi\npath-ok\n" {
		t.Errorf("Stdout = %q", res.Stdout)
	}
}

func TestRunStdinAndDir(t *testing.T) {
	sup := newTestSupervisor(t)
	dir := t.TempDir()
	input := filepath.Join(dir, "stdin.txt")
	if err := os.WriteFile(input, []byte("from-stdin"), 0o600); err != nil {
		t.Fatalf("write stdin: %v", err)
	}

	res, err := sup.Run(context.Background(), supervisor.Spec{
		Argv:      shell("cat; echo; pwd"),
		Dir:       dir,
		StdinPath: input,
		Timeout:   5 * time.Second,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := "from-stdin\n" + dir + "\n"
	if string(res.Stdout) != want {
		t.Errorf("Stdout = %q, want %q", res.Stdout, want)
	}
}

func TestRunNoStdinSeesEOF(t *testing.T) {
	sup := newTestSupervisor(t)

	res, err := sup.Run(context.Background(), supervisor.Spec{
		Argv:    shell("cat; echo done"),
		Timeout: 5 * time.Second,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Outcome != model.OutcomeCompleted || string(res.Stdout) != "done\n" {
		t.Errorf("Run = {Outcome:%q Stdout:%q}", res.Outcome, res.Stdout)
	}
}

func TestRunDrainsBothStreamsConcurrently(t *testing.T) {
	sup := newTestSupervisor(t)
	if _, err := exec.LookPath("head"); err != nil {
		t.Skip("head not available")
	}

	// Each stream is far larger than a pipe buffer.
	res, err := sup.Run(context.Background(), supervisor.Spec{
		Argv:    shell("head -c 1000000 /dev/zero >&2; head -c 1000000 /dev/zero"),
		Timeout: 10 * time.Second,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Outcome != model.OutcomeCompleted {
		t.Fatalf("Outcome = %q, want completed", res.Outcome)
	}
	if len(res.Stdout) != 1000000 || len(res.Stderr) != 1000000 {
		t.Errorf("captured %d/%d bytes, want 1000000 each", len(res.Stdout), len(res.Stderr))
	}
}

func TestRunLineSinkAndOnStart(t *testing.T) {
	sup := newTestSupervisor(t)

	var mu sync.Mutex
	lines := map[string][]string{}
	var started int

	res, err := sup.Run(context.Background(), supervisor.Spec{
		Argv:    shell("echo one; echo two; echo oops >&2; printf tail"),
		Timeout: 5 * time.Second,
		Sink: func(stream, line string) {
			mu.Lock()
			defer mu.Unlock()
			lines[stream] = append(lines[stream], line)
		},
		OnStart: func(pid int) { started = pid },
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := strings.Join(lines[supervisor.StreamStdout], "|"); got != "one|two|tail" {
		t.Errorf("stdout lines = %q, want %q", got, "one|two|tail")
	}
	if got := strings.Join(lines[supervisor.StreamStderr], "|"); got != "oops" {
		t.Errorf("stderr lines = %q, want %q", got, "oops")
	}
	if started != res.PID {
		t.Errorf("OnStart pid = %d, want %d", started, res.PID)
	}
}

func TestRunWithMemoryLimit(t *testing.T) {
	sup := newTestSupervisor(t)

	res, err := sup.Run(context.Background(), supervisor.Spec{
		Argv:        shell("echo ok"),
		MemoryBytes: 256 << 20,
		Timeout:     5 * time.Second,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.ExitCode != 0 || string(res.Stdout) != "ok\n" {
		t.Errorf("Run = {ExitCode:%d Stdout:%q}", res.ExitCode, res.Stdout)
	}
}

func TestRunMemoryLimitExceeded(t *testing.T) {
	if !supervisor.MemoryLimitSupported {
		t.Skip("memory limits not enforced on this platform")
	}
	sup := newTestSupervisor(t)
	if _, err := exec.LookPath("awk"); err != nil {
		t.Skip("awk not available")
	}

	// Doubling a string up to 1GiB cannot fit under 64MiB. The short sleep
	// lets the limit land before awk is started.
	res, err := sup.Run(context.Background(), supervisor.Spec{
		Argv:        shell(`sleep 0.2; awk 'BEGIN { s = "x"; while (length(s) < 1073741824) s = s s; print "fits" }'`),
		MemoryBytes: 64 << 20,
		Timeout:     30 * time.Second,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Outcome != model.OutcomeCompleted {
		t.Errorf("Outcome = %q, want %q", res.Outcome, model.OutcomeCompleted)
	}
	if res.ExitCode == 0 || strings.Contains(string(res.Stdout), "fits") {
		t.Errorf("Run = {ExitCode:%d Stdout:%q}, want an abnormal exit", res.ExitCode, res.Stdout)
	}
}

func TestParseMemoryLimit(t *testing.T) {
	tests := []struct {
		in      string
		want    uint64
		wantErr bool
	}{
		{"", 0, false},
		{"512m", 512 << 20, false},
		{"1g", 1 << 30, false},
		{"1G", 1 << 30, false},
		{"64k", 64 << 10, false},
		{"256MiB", 256 << 20, false},
		{"1 GB", 1000 * 1000 * 1000, false},
		{"1048576", 1 << 20, false},
		{"lots", 0, true},
		{"0", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := supervisor.ParseMemoryLimit(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseMemoryLimit(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseMemoryLimit(%q) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}

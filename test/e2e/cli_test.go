package e2e

import (
	"encoding/json"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

func runCLI(t *testing.T, stdin string, args ...string) (stdout, stderr string, code int) {
	t.Helper()
	cmd := exec.Command(getBinary(t), args...)
	cmd.Env = testEnv(t)
	cmd.Dir = t.TempDir()
	cmd.Stdin = strings.NewReader(stdin)
	var out, errb lockedBuffer
	cmd.Stdout = &out
	cmd.Stderr = &errb

	err := cmd.Run()
	var exitErr *exec.ExitError
	switch {
	case err == nil:
	case errors.As(err, &exitErr):
		code = exitErr.ExitCode()
	default:
		t.Fatalf("run %v: %v", args, err)
	}
	return out.String(), errb.String(), code
}

func TestCLIRunInlineCode(t *testing.T) {
	stdout, _, code := runCLI(t, "", "run", "-l", "posix", "-c", "echo inline")
	if code != 0 {
		t.Errorf("exit code = %d, want 0", code)
	}
	if stdout != "inline\n" {
		t.Errorf("stdout = %q, want %q", stdout, "inline\n")
	}
}

func TestCLIRunFileInfersLanguage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "script.psh")
	if err := os.WriteFile(path, []byte("echo from-file; exit 7\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	stdout, _, code := runCLI(t, "", "run", path)
	if stdout != "from-file\n" {
		t.Errorf("stdout = %q", stdout)
	}
	if code != 7 {
		t.Errorf("exit code = %d, want 7", code)
	}
}

func TestCLIRunCodeFromStdinJSON(t *testing.T) {
	stdout, _, code := runCLI(t, "echo piped >&2", "run", "--json", "-l", "psh")
	if code != 0 {
		t.Errorf("exit code = %d, want 0", code)
	}
	var out struct {
		Success bool   `json:"success"`
		Stderr  string `json:"stderr"`
	}
	if err := json.Unmarshal([]byte(stdout), &out); err != nil {
		t.Fatalf("decode %q: %v", stdout, err)
	}
	if !out.Success || out.Stderr != "piped\n" {
		t.Errorf("result = %+v", out)
	}
}

func TestCLIRunTimeout(t *testing.T) {
	_, _, code := runCLI(t, "", "run", "-l", "posix", "-t", "300ms", "-c", "sleep 30")
	if code != 124 {
		t.Errorf("exit code = %d, want 124", code)
	}
}

func TestCLIRuntimes(t *testing.T) {
	stdout, _, code := runCLI(t, "", "runtimes", "--available")
	if code != 0 {
		t.Fatalf("exit code = %d, want 0", code)
	}
	if !strings.Contains(stdout, "posix") {
		t.Errorf("runtimes output missing posix:\n%s", stdout)
	}
}

// Package e2e builds the snippetrun binary and drives it as a user would.
package e2e

import (
	"bytes"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

const (
	startupTimeout = 20 * time.Second
	pollInterval   = 100 * time.Millisecond
)

// shellCatalog adds a /bin/sh runtime so the tests need no toolchains.
const shellCatalog = `
[[runtimes]]
language = "posix"
name = "POSIX shell"
command = "sh"
extension = "psh"
aliases = ["psh"]
timeout_ms = 5000
`

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (lb *lockedBuffer) Write(p []byte) (int, error) {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	return lb.buf.Write(p)
}

func (lb *lockedBuffer) String() string {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	return lb.buf.String()
}

type serverProc struct {
	cmd    *exec.Cmd
	output *lockedBuffer
	url    string
}

var (
	builtBinary string
	buildOnce   sync.Once
	buildErr    error
)

func getBinary(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping end-to-end test in short mode")
	}
	if _, err := exec.LookPath("go"); err != nil {
		t.Skip("go toolchain not available")
	}
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	buildOnce.Do(func() {
		dir, err := os.MkdirTemp("", "snippetrun-e2e-*")
		if err != nil {
			buildErr = err
			return
		}
		binary := filepath.Join(dir, "snippetrun")
		cmd := exec.Command("go", "build", "-o", binary, "./cmd/snippetrun")
		cmd.Dir = findRepoRoot(t)
		out, err := cmd.CombinedOutput()
		if err != nil {
			buildErr = fmt.Errorf("go build failed: %w\n%s", err, out)
			return
		}
		builtBinary = binary
	})
	if buildErr != nil {
		t.Fatal(buildErr)
	}
	return builtBinary
}

func findRepoRoot(t *testing.T) string {
	t.Helper()
	dir, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			t.Fatal("could not find repo root")
		}
		dir = parent
	}
}

// testEnv returns an environment pointing snippetrun at private scratch
// space and the shell catalog.
func testEnv(t *testing.T) []string {
	t.Helper()
	dir := t.TempDir()
	catalog := filepath.Join(dir, "runtimes.toml")
	if err := os.WriteFile(catalog, []byte(shellCatalog), 0o644); err != nil {
		t.Fatalf("write catalog: %v", err)
	}
	return append(os.Environ(),
		"SNIPPETRUN_CATALOG="+catalog,
		"SNIPPETRUN_WORKSPACE_ROOT="+filepath.Join(dir, "ws"),
		"SNIPPETRUN_DB_PATH="+filepath.Join(dir, "history.db"),
		"SNIPPETRUN_LOG_LEVEL=info",
		"SNIPPETRUN_NATS_URL=",
	)
}

func startServer(t *testing.T, binary string) *serverProc {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("find free port: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	output := &lockedBuffer{}
	cmd := exec.Command(binary, "serve")
	cmd.Env = append(testEnv(t), "SNIPPETRUN_LISTEN_ADDR="+addr)
	cmd.Dir = t.TempDir()
	cmd.Stdout = output
	cmd.Stderr = output

	if err := cmd.Start(); err != nil {
		t.Fatalf("start server: %v", err)
	}

	sp := &serverProc{cmd: cmd, output: output, url: "http://" + addr}
	t.Cleanup(func() {
		cmd.Process.Kill()
		cmd.Wait()
	})

	deadline := time.Now().Add(startupTimeout)
	for time.Now().Before(deadline) {
		resp, err := http.Get(sp.url + "/healthz")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return sp
			}
		}
		time.Sleep(pollInterval)
	}
	t.Fatalf("server did not become ready within %v\noutput:\n%s", startupTimeout, output.String())
	return nil
}

package runtimes

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"
	"time"

	"github.com/Wangjien/snippetsHub/internal/model"
)

// DefaultProbeTimeout bounds a single version query.
const DefaultProbeTimeout = 3 * time.Second

// unknownVersion is reported when a runtime answers its version flag with no
// usable output.
const unknownVersion = "unknown"

// Prober checks whether a catalog entry is usable on this host.
type Prober interface {
	Probe(ctx context.Context, e Entry) model.RuntimeInfo
}

// CommandProber looks commands up on PATH and runs the version flag.
type CommandProber struct {
	Timeout  time.Duration
	LookPath func(file string) (string, error)
}

// NewCommandProber returns a prober using exec.LookPath and the given
// per-probe timeout. A non-positive timeout selects DefaultProbeTimeout.
func NewCommandProber(timeout time.Duration) *CommandProber {
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	return &CommandProber{Timeout: timeout, LookPath: exec.LookPath}
}

// Probe never fails: a missing command, a hung version query or a failed
// spawn all yield an unavailable RuntimeInfo.
func (p *CommandProber) Probe(ctx context.Context, e Entry) model.RuntimeInfo {
	info := e.info()

	path, err := p.LookPath(e.Command)
	if err != nil {
		return info
	}
	if e.Compile != nil {
		if _, err := p.LookPath(e.Compile.Command); err != nil {
			return info
		}
		if e.Compile.RunCommand != "" {
			if _, err := p.LookPath(e.Compile.RunCommand); err != nil {
				return info
			}
		}
	}

	if e.VersionFlag == "" {
		info.Version = unknownVersion
		info.Available = true
		return info
	}

	version, ok := p.queryVersion(ctx, path, e.VersionFlag)
	if !ok {
		return info
	}
	info.Version = version
	info.Available = true
	return info
}

// queryVersion runs "<path> <flag>" and returns the first non-empty output
// line. ok is false when the query hung or could not be started; a non-zero
// exit still counts as a live runtime.
func (p *CommandProber) queryVersion(ctx context.Context, path, flag string) (string, bool) {
	ctx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, path, flag)
	cmd.WaitDelay = p.Timeout
	out, err := cmd.CombinedOutput()
	if ctx.Err() != nil {
		return "", false
	}
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return "", false
		}
	}
	return firstLine(out), true
}

func firstLine(out []byte) string {
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			return line
		}
	}
	return unknownVersion
}

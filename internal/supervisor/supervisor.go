// Package supervisor spawns one process, drains its output streams
// concurrently, and forcibly terminates it when its timeout fires or its
// context is cancelled.
package supervisor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Wangjien/snippetsHub/internal/model"
)

// DefaultKillGrace is how long Run waits for output to drain after killing a
// process group before it closes the pipes itself.
const DefaultKillGrace = 2 * time.Second

// Stream names passed to a LineSink.
const (
	StreamStdout = "stdout"
	StreamStderr = "stderr"
)

// LineSink receives every complete output line (without its newline) as it
// is produced. It is called from two goroutines and must be safe for
// concurrent use.
type LineSink func(stream, line string)

// Spec describes one process to run.
type Spec struct {
	Argv        []string
	Dir         string
	Env         map[string]string // added to os.Environ, overriding duplicates
	StdinPath   string            // empty means no stdin
	Timeout     time.Duration     // zero means no timer
	MemoryBytes uint64            // zero means no limit
	Sink        LineSink
	OnStart     func(pid int)
}

// Result is the raw outcome of a supervised process.
type Result struct {
	Outcome  model.Outcome
	ExitCode int
	Stdout   []byte
	Stderr   []byte
	Duration time.Duration
	PID      int
	// Spawned is false when Run returned before a process was started.
	Spawned bool
}

// Supervisor runs processes. The zero value is not usable; call New.
type Supervisor struct {
	logger    *slog.Logger
	killGrace time.Duration
}

// New creates a Supervisor. A non-positive killGrace selects
// DefaultKillGrace.
func New(logger *slog.Logger, killGrace time.Duration) *Supervisor {
	if killGrace <= 0 {
		killGrace = DefaultKillGrace
	}
	return &Supervisor{logger: logger, killGrace: killGrace}
}

// Run spawns spec.Argv and blocks until the process has terminated and both
// output streams are fully drained. A context cancelled before spawn yields
// OutcomeCancelled with Spawned false. The returned error is non-nil only
// when the process could not be started or supervised; timeouts and
// cancellations are reported through Result.Outcome.
func (s *Supervisor) Run(ctx context.Context, spec Spec) (Result, error) {
	if len(spec.Argv) == 0 {
		return Result{}, model.NewError(model.KindInternal, "supervise", errors.New("empty command line"))
	}
	if ctx.Err() != nil {
		return Result{Outcome: model.OutcomeCancelled, ExitCode: model.ExitCodeTerminated}, nil
	}

	cmd := exec.Command(spec.Argv[0], spec.Argv[1:]...)
	cmd.Dir = spec.Dir
	cmd.Env = mergeEnv(os.Environ(), withPWD(spec.Env, spec.Dir))
	setProcessGroup(cmd)

	if spec.StdinPath != "" {
		stdin, err := os.Open(spec.StdinPath)
		if err != nil {
			return Result{}, model.NewError(model.KindIO, "open stdin", err)
		}
		defer stdin.Close()
		cmd.Stdin = stdin
	}

	// Plain pipes keep cmd.Wait independent of the drains, so the leader's
	// exit is observed even when a background child still holds the write end.
	outR, outW, err := os.Pipe()
	if err != nil {
		return Result{}, model.NewError(model.KindInternal, "stdout pipe", err)
	}
	defer outR.Close()
	errR, errW, err := os.Pipe()
	if err != nil {
		outW.Close()
		return Result{}, model.NewError(model.KindInternal, "stderr pipe", err)
	}
	defer errR.Close()
	cmd.Stdout = outW
	cmd.Stderr = errW

	start := time.Now()
	err = cmd.Start()
	outW.Close()
	errW.Close()
	if err != nil {
		return Result{}, model.NewError(model.KindSpawnFailed, "spawn "+spec.Argv[0], err)
	}
	pid := cmd.Process.Pid

	if spec.MemoryBytes > 0 {
		if err := applyMemoryLimit(pid, spec.MemoryBytes); err != nil {
			s.logger.Debug("memory limit not applied", "pid", pid, "error", err)
		}
	}
	if spec.OnStart != nil {
		spec.OnStart(pid)
	}

	var outBuf, errBuf bytes.Buffer
	var drains errgroup.Group
	drains.Go(func() error { return drain(outR, &outBuf, StreamStdout, spec.Sink) })
	drains.Go(func() error { return drain(errR, &errBuf, StreamStderr, spec.Sink) })
	drained := make(chan struct{})
	go func() {
		_ = drains.Wait()
		close(drained)
	}()

	var waitErr error
	exited := make(chan struct{})
	go func() {
		waitErr = cmd.Wait()
		close(exited)
	}()

	var timeout <-chan time.Time
	if spec.Timeout > 0 {
		timer := time.NewTimer(spec.Timeout)
		defer timer.Stop()
		timeout = timer.C
	}

	outcome := model.OutcomeCompleted
	select {
	case <-exited:
	case <-timeout:
		outcome = model.OutcomeTimedOut
	case <-ctx.Done():
		outcome = model.OutcomeCancelled
	}

	// The run ends with its leader. Whatever is left of the group is killed
	// either way; on completion that is only stray background children.
	if err := killProcessGroup(cmd.Process); err != nil && outcome != model.OutcomeCompleted {
		s.logger.Warn("kill process group failed", "pid", pid, "error", err)
	}
	<-exited
	select {
	case <-drained:
	case <-time.After(s.killGrace):
		// A descendant outside the group still holds the pipes.
		s.logger.Warn("output still open after exit, closing pipes", "pid", pid)
		outR.Close()
		errR.Close()
		<-drained
	}

	res := Result{
		Outcome:  outcome,
		Stdout:   outBuf.Bytes(),
		Stderr:   errBuf.Bytes(),
		Duration: time.Since(start),
		PID:      pid,
		Spawned:  true,
	}
	if outcome != model.OutcomeCompleted {
		res.ExitCode = model.ExitCodeTerminated
		return res, nil
	}

	res.ExitCode = exitCode(cmd.ProcessState)
	if waitErr != nil && cmd.ProcessState == nil {
		return res, model.NewError(model.KindInternal, "wait", waitErr)
	}
	return res, nil
}

// drain copies r into buf, forwarding complete lines to sink.
func drain(r io.Reader, buf *bytes.Buffer, stream string, sink LineSink) error {
	var w io.Writer = buf
	var lw *lineWriter
	if sink != nil {
		lw = &lineWriter{stream: stream, sink: sink}
		w = io.MultiWriter(buf, lw)
	}
	_, err := io.Copy(w, r)
	if lw != nil {
		lw.Flush()
	}
	if errors.Is(err, os.ErrClosed) {
		return nil
	}
	return err
}

// mergeEnv returns base with overrides applied, keeping the last value for
// each key.
func mergeEnv(base []string, overrides map[string]string) []string {
	if len(overrides) == 0 {
		return base
	}
	keys := make([]string, 0, len(overrides))
	for k := range overrides {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]string, 0, len(base)+len(keys))
	for _, kv := range base {
		k, _, _ := cutEnv(kv)
		if _, ok := overrides[k]; ok {
			continue
		}
		out = append(out, kv)
	}
	for _, k := range keys {
		out = append(out, fmt.Sprintf("%s=%s", k, overrides[k]))
	}
	return out
}

// withPWD adds PWD=dir unless the caller set PWD explicitly.
func withPWD(env map[string]string, dir string) map[string]string {
	if dir == "" {
		return env
	}
	if _, ok := env["PWD"]; ok {
		return env
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return env
	}
	out := make(map[string]string, len(env)+1)
	for k, v := range env {
		out[k] = v
	}
	out["PWD"] = abs
	return out
}

func cutEnv(kv string) (string, string, bool) {
	for i := 1; i < len(kv); i++ {
		if kv[i] == '=' {
			return kv[:i], kv[i+1:], true
		}
	}
	return kv, "", false
}

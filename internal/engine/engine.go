package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"golang.org/x/sync/semaphore"

	"github.com/Wangjien/snippetsHub/internal/model"
	"github.com/Wangjien/snippetsHub/internal/store"
	"github.com/Wangjien/snippetsHub/internal/supervisor"
	"github.com/Wangjien/snippetsHub/internal/workspace"
)

// DefaultTimeout applies when neither the request nor the runtime sets one.
const DefaultTimeout = 30 * time.Second

// DefaultMaxConcurrency is the admission pool size when none is configured.
const DefaultMaxConcurrency = 4

var (
	// ErrSessionNotFound is returned by Stop for an unknown or finished execution.
	ErrSessionNotFound = errors.New("execution is not running")
	// ErrNoHistory is returned by Submit when the engine has no store.
	ErrNoHistory = errors.New("execution history is not configured")
)

// Resolver maps a language tag to an installed runtime.
type Resolver interface {
	Resolve(ctx context.Context, language string) (model.RuntimeInfo, error)
}

// Config tunes an Engine.
type Config struct {
	MaxConcurrency int
	DefaultTimeout time.Duration
	KillGrace      time.Duration
	// PackageDir is the root of the per-language package install
	// directories. Empty selects DefaultPackageDir.
	PackageDir string
}

// Engine coordinates executions.
type Engine struct {
	resolver   Resolver
	workspaces *workspace.Provisioner
	supervisor *supervisor.Supervisor
	store      store.Store // nil disables history
	logger     *slog.Logger
	broker     *LogBroker

	slots          *semaphore.Weighted
	defaultTimeout time.Duration
	sessions       *xsync.MapOf[string, *session]
	packageDir     string
	installLocks   *xsync.MapOf[string, *semaphore.Weighted]

	// mu guards closed against live.Add racing Shutdown's live.Wait.
	mu       sync.RWMutex
	closed   bool
	live     sync.WaitGroup
	baseCtx  context.Context
	shutdown context.CancelFunc
}

// NewEngine creates an execution engine. st may be nil, in which case
// executions are not recorded and Submit is unavailable.
func NewEngine(cfg Config, resolver Resolver, ws *workspace.Provisioner, st store.Store, logger *slog.Logger) *Engine {
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = DefaultMaxConcurrency
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = DefaultTimeout
	}
	if cfg.PackageDir == "" {
		cfg.PackageDir = DefaultPackageDir()
	}
	baseCtx, cancel := context.WithCancel(context.Background())
	return &Engine{
		resolver:       resolver,
		workspaces:     ws,
		supervisor:     supervisor.New(logger, cfg.KillGrace),
		store:          st,
		logger:         logger,
		broker:         NewLogBroker(),
		slots:          semaphore.NewWeighted(int64(cfg.MaxConcurrency)),
		defaultTimeout: cfg.DefaultTimeout,
		sessions:       xsync.NewMapOf[string, *session](),
		packageDir:     cfg.PackageDir,
		installLocks:   xsync.NewMapOf[string, *semaphore.Weighted](),
		baseCtx:        baseCtx,
		shutdown:       cancel,
	}
}

// Broker returns the engine's log broker for live subscription.
func (e *Engine) Broker() *LogBroker {
	return e.broker
}

// Execute runs code with the runtime for language and blocks until the
// process has terminated. Timed-out and cancelled runs return the partial
// result together with a TimedOut or Cancelled error.
func (e *Engine) Execute(ctx context.Context, code, language string, opts model.ExecutionOptions) (model.ExecutionResult, error) {
	return e.ExecuteWithID(ctx, model.NewID(), code, language, opts)
}

// ExecuteWithID is Execute with a caller-chosen execution ID, which Stop and
// the history store use to address the run. The language is resolved before
// anything is recorded or provisioned.
func (e *Engine) ExecuteWithID(ctx context.Context, id, code, language string, opts model.ExecutionOptions) (model.ExecutionResult, error) {
	rt, err := e.prepare(ctx, language)
	if e.store != nil {
		if cerr := e.store.CreateExecution(context.WithoutCancel(ctx), e.newRecord(id, code, language, opts)); cerr != nil {
			e.logger.Error("failed to record execution", "execution_id", id, "error", cerr)
		}
	}
	if err != nil {
		e.finish(id, model.RuntimeInfo{}, nil, model.ExecutionResult{}, err)
		e.broker.Close(id)
		return model.ExecutionResult{}, err
	}
	return e.run(ctx, id, rt, code, opts)
}

// Submit resolves the language, records a pending execution and runs it in
// the background. The returned record is a copy; poll the store for its
// progress. An unknown language is rejected without recording anything.
func (e *Engine) Submit(ctx context.Context, code, language string, opts model.ExecutionOptions) (*model.Execution, error) {
	if e.store == nil {
		return nil, ErrNoHistory
	}
	rt, err := e.prepare(ctx, language)
	if err != nil {
		return nil, err
	}

	rec := e.newRecord(model.NewID(), code, language, opts)
	if err := e.store.CreateExecution(ctx, rec); err != nil {
		return nil, fmt.Errorf("create execution: %w", err)
	}

	if !e.enter() {
		err := errShuttingDown()
		e.finish(rec.ID, model.RuntimeInfo{}, nil, model.ExecutionResult{}, err)
		return nil, err
	}
	go func() {
		defer e.live.Done()
		_, _ = e.execute(e.baseCtx, rec.ID, rt, code, opts)
	}()

	out := *rec
	return &out, nil
}

// prepare validates the language and resolves its runtime.
func (e *Engine) prepare(ctx context.Context, language string) (model.RuntimeInfo, error) {
	if strings.TrimSpace(language) == "" {
		return model.RuntimeInfo{}, model.NewError(model.KindInvalidRequest, "execute", errors.New("language is required"))
	}
	return e.resolver.Resolve(ctx, language)
}

// Stop cancels a queued or running execution. The process is killed and the
// execution finishes as cancelled.
func (e *Engine) Stop(id string) error {
	s, ok := e.sessions.Load(id)
	if !ok {
		return ErrSessionNotFound
	}
	s.cancel()
	return nil
}

// Running lists live executions, oldest first.
func (e *Engine) Running() []SessionInfo {
	var out []SessionInfo
	e.sessions.Range(func(_ string, s *session) bool {
		out = append(out, s.snapshot())
		return true
	})
	slices.SortFunc(out, func(a, b SessionInfo) int {
		return a.QueuedAt.Compare(b.QueuedAt)
	})
	return out
}

// Shutdown refuses new executions, cancels every live one, and waits for
// their cleanup to finish or ctx to expire.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	e.shutdown()

	done := make(chan struct{})
	go func() {
		e.live.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for executions: %w", ctx.Err())
	}
}

// Wait blocks until all in-flight executions complete.
func (e *Engine) Wait() {
	e.live.Wait()
}

func (e *Engine) enter() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return false
	}
	e.live.Add(1)
	return true
}

func errShuttingDown() error {
	return model.NewError(model.KindCancelled, "admit", errors.New("engine is shutting down"))
}

// run executes synchronously on behalf of a caller.
func (e *Engine) run(ctx context.Context, id string, rt model.RuntimeInfo, code string, opts model.ExecutionOptions) (model.ExecutionResult, error) {
	if !e.enter() {
		err := errShuttingDown()
		e.finish(id, rt, nil, model.ExecutionResult{}, err)
		return model.ExecutionResult{}, err
	}
	defer e.live.Done()
	return e.execute(ctx, id, rt, code, opts)
}

// execute is the per-session pipeline for a resolved runtime: admit,
// provision, compile, run, assemble. The deferred cleanup is the only place
// resources are released.
func (e *Engine) execute(ctx context.Context, id string, rt model.RuntimeInfo, code string, opts model.ExecutionOptions) (result model.ExecutionResult, err error) {
	logger := e.logger.With("execution_id", id, "language", rt.Language)
	var startedAt *time.Time
	defer e.broker.Close(id)
	defer func() {
		e.finish(id, rt, startedAt, result, err)
	}()

	timeout := e.timeoutFor(rt, opts)
	memLimit := opts.MemoryLimit
	if memLimit == "" {
		memLimit = rt.DefaultMemoryLimit
	}
	memBytes, err := supervisor.ParseMemoryLimit(memLimit)
	if err != nil {
		return result, model.NewError(model.KindInvalidRequest, "execute", err)
	}

	sctx, cancel := context.WithCancel(ctx)
	stopOnShutdown := context.AfterFunc(e.baseCtx, cancel)
	sess := &session{
		cancel: cancel,
		info: SessionInfo{
			ID:       id,
			Language: rt.Language,
			State:    SessionQueued,
			QueuedAt: time.Now().UTC(),
		},
	}
	e.sessions.Store(id, sess)

	var (
		ws       *workspace.Workspace
		acquired bool
	)
	defer func() {
		if ws != nil {
			if derr := e.workspaces.Dispose(ws); derr != nil {
				logger.Error("failed to dispose workspace", "dir", ws.Dir, "error", derr)
			}
		}
		if acquired {
			e.slots.Release(1)
		}
		e.sessions.Delete(id)
		stopOnShutdown()
		cancel()
	}()

	queuedExecutions.Inc()
	waitStart := time.Now()
	err = e.slots.Acquire(sctx, 1)
	queuedExecutions.Dec()
	admissionWait.Observe(time.Since(waitStart).Seconds())
	if err != nil {
		return result, model.NewError(model.KindCancelled, "admit", err)
	}
	acquired = true
	if sctx.Err() != nil {
		return result, model.NewError(model.KindCancelled, "admit", sctx.Err())
	}

	sess.admitted()
	now := time.Now().UTC()
	startedAt = &now
	if e.store != nil {
		if serr := e.store.UpdateExecutionStatus(context.Background(), id, model.StatusRunning); serr != nil {
			logger.Error("failed to transition to running", "error", serr)
		}
	}

	ws, err = e.workspaces.Provision(code, rt, opts)
	if err != nil {
		return result, err
	}

	deadline := time.Now().Add(timeout)
	var compileTime time.Duration
	if rt.Compile != nil {
		res, cerr := e.supervisor.Run(sctx, supervisor.Spec{
			Argv:    compileArgv(rt, ws),
			Dir:     ws.Dir,
			Env:     opts.Env,
			Timeout: time.Until(deadline),
			Sink:    e.sink(id, logger),
			OnStart: sess.spawned,
		})
		if cerr != nil {
			return result, cerr
		}
		if res.Outcome != model.OutcomeCompleted || res.ExitCode != 0 {
			result = assemble(res, 0)
			return result, outcomeError(res, "compile "+rt.Language, timeout)
		}
		compileTime = res.Duration
		if time.Until(deadline) <= 0 {
			result = model.ExecutionResult{ExitCode: model.ExitCodeTerminated, DurationMS: compileTime.Milliseconds()}
			return result, model.NewError(model.KindTimedOut, "run "+rt.Language,
				fmt.Errorf("compile step used the whole %s budget", timeout))
		}
	}

	spec := supervisor.Spec{
		Argv:        runArgv(rt, ws, opts.Args),
		Dir:         ws.WorkDir,
		Env:         opts.Env,
		StdinPath:   ws.InputPath,
		Timeout:     time.Until(deadline),
		MemoryBytes: memBytes,
		Sink:        e.sink(id, logger),
		OnStart: func(pid int) {
			liveProcesses.Inc()
			sess.spawned(pid)
		},
	}
	res, err := e.supervisor.Run(sctx, spec)
	if res.Spawned {
		liveProcesses.Dec()
	}
	if err != nil {
		return result, err
	}
	executionDuration.WithLabelValues(rt.Language).Observe((res.Duration + compileTime).Seconds())

	result = assemble(res, compileTime)
	logger.Info("execution finished",
		"outcome", res.Outcome,
		"exit_code", result.ExitCode,
		"duration_ms", result.DurationMS,
	)
	return result, outcomeError(res, "run "+rt.Language, timeout)
}

// outcomeError turns a forced termination into its typed error.
func outcomeError(res supervisor.Result, op string, timeout time.Duration) error {
	switch res.Outcome {
	case model.OutcomeTimedOut:
		return model.NewError(model.KindTimedOut, op, fmt.Errorf("exceeded %s", timeout))
	case model.OutcomeCancelled:
		return model.NewError(model.KindCancelled, op, nil)
	}
	return nil
}

func (e *Engine) timeoutFor(rt model.RuntimeInfo, opts model.ExecutionOptions) time.Duration {
	switch {
	case opts.Timeout > 0:
		return opts.Timeout
	case rt.DefaultTimeout > 0:
		return rt.DefaultTimeout
	default:
		return e.defaultTimeout
	}
}

// sink persists and publishes each output line.
func (e *Engine) sink(id string, logger *slog.Logger) supervisor.LineSink {
	var seq atomic.Int64
	return func(stream, line string) {
		n := int(seq.Add(1) - 1)
		if e.store != nil {
			if err := e.store.InsertLogLine(context.Background(), id, n, stream, line); err != nil {
				logger.Error("failed to persist log line", "seq", n, "error", err)
			}
		}
		e.broker.Publish(id, OutputLine{Seq: n, Stream: stream, Line: line})
	}
}

func (e *Engine) newRecord(id, code, language string, opts model.ExecutionOptions) *model.Execution {
	sum := sha256.Sum256([]byte(code))
	rec := &model.Execution{
		ID:        id,
		Status:    model.StatusPending,
		Language:  language,
		CodeHash:  hex.EncodeToString(sum[:]),
		CreatedAt: time.Now().UTC(),
	}
	if opts.Timeout > 0 {
		ms := opts.Timeout.Milliseconds()
		rec.TimeoutMS = &ms
	}
	return rec
}

// finish records the final state of an execution and updates metrics. rt is
// the zero value when resolution never succeeded.
func (e *Engine) finish(id string, rt model.RuntimeInfo, startedAt *time.Time, result model.ExecutionResult, err error) {
	status := statusFor(err)
	label := rt.Language
	if label == "" {
		label = "unresolved"
	}
	executionsTotal.WithLabelValues(label, status).Inc()
	if e.store == nil {
		return
	}

	now := time.Now().UTC()
	rec := &model.Execution{
		ID:             id,
		Status:         status,
		RuntimeVersion: rt.Version,
		Success:        result.Success,
		Stdout:         result.Stdout,
		Stderr:         result.Stderr,
		StartedAt:      startedAt,
		FinishedAt:     &now,
	}
	if err != nil {
		rec.Error = err.Error()
	}
	if startedAt != nil {
		exit := result.ExitCode
		dur := result.DurationMS
		rec.ExitCode = &exit
		rec.DurationMS = &dur
	}
	if uerr := e.store.UpdateExecution(context.Background(), rec); uerr != nil {
		e.logger.Error("failed to record execution result", "execution_id", id, "error", uerr)
	}
}

func statusFor(err error) string {
	switch model.KindOf(err) {
	case "":
		return model.StatusCompleted
	case model.KindTimedOut:
		return model.StatusTimedOut
	case model.KindCancelled:
		return model.StatusCancelled
	default:
		return model.StatusFailed
	}
}

// compileArgv expands the runtime's compile template for ws.
func compileArgv(rt model.RuntimeInfo, ws *workspace.Workspace) []string {
	r := placeholders(rt, ws)
	argv := []string{rt.Compile.Command}
	for _, a := range rt.Compile.Args {
		argv = append(argv, r.Replace(a))
	}
	return argv
}

// runArgv builds the command line that runs the snippet.
func runArgv(rt model.RuntimeInfo, ws *workspace.Workspace, args []string) []string {
	var argv []string
	switch {
	case rt.Compile == nil:
		argv = append([]string{rt.Command}, rt.RunArgs...)
		argv = append(argv, ws.SourcePath)
	case rt.Compile.RunCommand != "":
		r := placeholders(rt, ws)
		argv = []string{rt.Compile.RunCommand}
		for _, a := range rt.Compile.RunArgs {
			argv = append(argv, r.Replace(a))
		}
	default:
		argv = []string{artifactPath(rt, ws)}
	}
	return append(argv, args...)
}

func placeholders(rt model.RuntimeInfo, ws *workspace.Workspace) *strings.Replacer {
	return strings.NewReplacer(
		"{src}", ws.SourcePath,
		"{out}", artifactPath(rt, ws),
		"{dir}", ws.Dir,
	)
}

func artifactPath(rt model.RuntimeInfo, ws *workspace.Workspace) string {
	name := "main"
	if rt.Compile != nil && rt.Compile.Output != "" {
		name = rt.Compile.Output
	}
	return filepath.Join(ws.Dir, name)
}

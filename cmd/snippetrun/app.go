package main

import (
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/Wangjien/snippetsHub/internal/config"
	"github.com/Wangjien/snippetsHub/internal/engine"
	"github.com/Wangjien/snippetsHub/internal/runtimes"
	"github.com/Wangjien/snippetsHub/internal/store"
	"github.com/Wangjien/snippetsHub/internal/supervisor"
	"github.com/Wangjien/snippetsHub/internal/workspace"
)

// app holds the components shared by every subcommand.
type app struct {
	logger     *slog.Logger
	catalog    runtimes.Catalog
	registry   *runtimes.Registry
	workspaces *workspace.Provisioner
	engine     *engine.Engine
}

type appOptions struct {
	logOut io.Writer
	// format overrides --log-format when set.
	format string
	// minLevel raises the configured log level.
	minLevel slog.Level
	store    store.Store
}

func newApp(cmd *cli.Command, opts appOptions) (*app, error) {
	level := config.ParseLogLevel(cmd.String("log-level"))
	if level < opts.minLevel {
		level = opts.minLevel
	}
	format := cmd.String("log-format")
	if opts.format != "" {
		format = opts.format
	}
	logger := config.NewLogger(opts.logOut, level, format)

	catalog := runtimes.DefaultCatalog()
	if path := cmd.String("catalog"); path != "" {
		var err error
		if catalog, err = runtimes.BuildCatalog(path); err != nil {
			return nil, fmt.Errorf("load runtime catalog: %w", err)
		}
	}

	ws, err := workspace.New(cmd.String("workspace-root"), logger)
	if err != nil {
		return nil, fmt.Errorf("prepare workspace root: %w", err)
	}

	reg := runtimes.NewRegistry(catalog, runtimes.NewCommandProber(cmd.Duration("probe-timeout")), logger)
	eng := engine.NewEngine(engine.Config{
		MaxConcurrency: cmd.Int("max-concurrency"),
		DefaultTimeout: cmd.Duration("default-timeout"),
		KillGrace:      supervisor.DefaultKillGrace,
		PackageDir:     cmd.String("package-dir"),
	}, reg, ws, opts.store, logger)

	return &app{
		logger:     logger,
		catalog:    catalog,
		registry:   reg,
		workspaces: ws,
		engine:     eng,
	}, nil
}

// drainTimeout bounds how long shutdown waits for live executions.
const drainTimeout = 15 * time.Second

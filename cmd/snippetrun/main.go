// Command snippetrun executes code snippets with locally installed runtimes
// and serves them over HTTP, MCP and NATS.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	"github.com/Wangjien/snippetsHub/internal/config"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := config.LoadDotEnv(".env"); err != nil {
		fmt.Fprintf(os.Stderr, "snippetrun: load .env: %v\n", err)
		os.Exit(1)
	}
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand(cfg).Run(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "snippetrun: %v\n", err)
		stop()
		os.Exit(1)
	}
}

// newRootCommand builds the command tree. Flag defaults come from cfg, which
// already reflects the environment and any .env file.
func newRootCommand(cfg config.Config) *cli.Command {
	return &cli.Command{
		Name:    "snippetrun",
		Usage:   "run code snippets with the language runtimes installed on this host",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "log-level", Value: cfg.LogLevel.String(), Usage: "debug, info, warn or error"},
			&cli.StringFlag{Name: "log-format", Value: cfg.LogFormat, Usage: "json or text"},
			&cli.StringFlag{Name: "catalog", Value: cfg.CatalogPath, Usage: "TOML or YAML file with runtime overrides"},
			&cli.StringFlag{Name: "workspace-root", Value: cfg.WorkspaceRoot, Usage: "directory for per-execution scratch dirs"},
			&cli.StringFlag{Name: "package-dir", Value: cfg.PackageDir, Usage: "directory package installs run in, one subdirectory per language"},
			&cli.IntFlag{Name: "max-concurrency", Value: cfg.MaxConcurrency, Usage: "executions allowed to run at once"},
			&cli.DurationFlag{Name: "default-timeout", Value: cfg.DefaultTimeout, Usage: "timeout for runtimes without their own"},
			&cli.DurationFlag{Name: "probe-timeout", Value: cfg.ProbeTimeout, Usage: "limit on each runtime version probe"},
		},
		Commands: []*cli.Command{
			serveCommand(cfg),
			runCommand(),
			runtimesCommand(),
			installCommand(),
			mcpCommand(),
		},
	}
}

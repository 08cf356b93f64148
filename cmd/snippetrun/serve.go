package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/nats-io/nats.go"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"github.com/Wangjien/snippetsHub/internal/api"
	"github.com/Wangjien/snippetsHub/internal/config"
	"github.com/Wangjien/snippetsHub/internal/natsrpc"
	"github.com/Wangjien/snippetsHub/internal/store"
)

func serveCommand(cfg config.Config) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "serve the HTTP API, and the NATS responder when a NATS URL is set",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "listen", Value: cfg.ListenAddr, Usage: "HTTP listen address"},
			&cli.StringFlag{Name: "db", Value: cfg.DBPath, Usage: "SQLite execution history path"},
			&cli.StringFlag{Name: "nats-url", Value: cfg.NATSURL, Usage: "NATS server URL; empty disables the responder"},
			&cli.BoolFlag{Name: "keep-workspaces", Usage: "do not remove scratch dirs left by a previous run"},
		},
		Action: runServe,
	}
}

func runServe(ctx context.Context, cmd *cli.Command) error {
	db, err := store.NewSQLiteStore(cmd.String("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	a, err := newApp(cmd, appOptions{logOut: os.Stdout, store: db})
	if err != nil {
		return err
	}
	a.logger.Info("snippetrun: starting",
		"version", version,
		"listen_addr", cmd.String("listen"),
		"db_path", cmd.String("db"),
		"workspace_root", a.workspaces.Root(),
	)

	if !cmd.Bool("keep-workspaces") {
		n, err := a.workspaces.Prune()
		if err != nil {
			a.logger.Warn("failed to prune stale workspaces", "error", err)
		} else if n > 0 {
			a.logger.Info("pruned stale workspaces", "count", n)
		}
	}

	// Probe once up front so the first request does not pay for discovery.
	avail := a.registry.Available(ctx)
	a.logger.Info("runtimes available", "count", len(avail), "languages", a.registry.Languages(ctx).ToSlice())

	g, gctx := errgroup.WithContext(ctx)

	srv := api.NewServer(cmd.String("listen"), db, a.registry, a.engine, a.logger)
	g.Go(func() error {
		return srv.Run(gctx)
	})

	if url := cmd.String("nats-url"); url != "" {
		nc, err := nats.Connect(url,
			nats.Name("snippetrun"),
			nats.MaxReconnects(-1),
			nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
				if err != nil {
					a.logger.Warn("nats disconnected", "error", err)
				}
			}),
			nats.ReconnectHandler(func(c *nats.Conn) {
				a.logger.Info("nats reconnected", "url", c.ConnectedUrl())
			}),
		)
		if err != nil {
			return fmt.Errorf("connect to nats: %w", err)
		}
		defer nc.Close()

		responder := natsrpc.NewResponder(a.engine, a.logger)
		g.Go(func() error {
			return responder.Serve(gctx, nc)
		})
	}

	runErr := g.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), drainTimeout)
	defer cancel()
	if err := a.engine.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("executions still running at exit", "error", err)
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	a.logger.Info("snippetrun: stopped")
	return nil
}

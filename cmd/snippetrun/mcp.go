package main

import (
	"context"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/Wangjien/snippetsHub/internal/config"
	"github.com/Wangjien/snippetsHub/internal/mcpserver"
)

func mcpCommand() *cli.Command {
	return &cli.Command{
		Name:  "mcp",
		Usage: "serve snippet execution as MCP tools over stdio",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			// stdout carries the protocol; logs go to stderr.
			a, err := newApp(cmd, appOptions{logOut: os.Stderr, format: config.FormatText})
			if err != nil {
				return err
			}
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), drainTimeout)
				defer cancel()
				_ = a.engine.Shutdown(shutdownCtx)
			}()

			server := mcpserver.NewServer(version, a.engine, a.registry, a.logger)
			return mcpserver.Run(ctx, server)
		},
	}
}

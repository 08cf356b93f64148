package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/Wangjien/snippetsHub/internal/config"
	"github.com/Wangjien/snippetsHub/internal/model"
)

func installCommand() *cli.Command {
	return &cli.Command{
		Name:      "install",
		Usage:     "install a package with a runtime's package manager",
		ArgsUsage: "<language> <package>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "version", Usage: "package version; the newest release when omitted"},
			&cli.DurationFlag{Name: "timeout", Aliases: []string{"t"}, Usage: "wall-clock limit, e.g. 2m"},
			&cli.BoolFlag{Name: "json", Usage: "print the result as JSON"},
		},
		Action: installPackage,
	}
}

type installOutput struct {
	model.InstallResult
	Error string          `json:"error,omitempty"`
	Kind  model.ErrorKind `json:"kind,omitempty"`
}

func installPackage(ctx context.Context, cmd *cli.Command) error {
	if cmd.Args().Len() != 2 {
		return errors.New("install takes a language and a package")
	}
	a, err := newApp(cmd, appOptions{logOut: os.Stderr, format: config.FormatText, minLevel: slog.LevelWarn})
	if err != nil {
		return err
	}

	req := model.InstallRequest{
		Language:  cmd.Args().Get(0),
		Package:   cmd.Args().Get(1),
		Version:   cmd.String("version"),
		TimeoutMS: cmd.Duration("timeout").Milliseconds(),
	}
	result, instErr := a.engine.Install(ctx, req)

	if cmd.Bool("json") {
		out := installOutput{InstallResult: result}
		if instErr != nil {
			out.Error = instErr.Error()
			out.Kind = model.KindOf(instErr)
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(out); err != nil {
			return fmt.Errorf("encode result: %w", err)
		}
	} else {
		fmt.Fprint(os.Stdout, result.Stdout)
		fmt.Fprint(os.Stderr, result.Stderr)
		printSummary(os.Stderr, installSummary(result), instErr)
	}

	return exitError(installSummary(result), instErr)
}

// installSummary views an install as a run for the shared summary and exit
// status helpers.
func installSummary(r model.InstallResult) model.ExecutionResult {
	return model.ExecutionResult{
		Success:    r.Success,
		ExitCode:   r.ExitCode,
		DurationMS: r.DurationMS,
	}
}

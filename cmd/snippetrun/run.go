package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"

	"github.com/fatih/color"
	"github.com/urfave/cli/v3"

	"github.com/Wangjien/snippetsHub/internal/config"
	"github.com/Wangjien/snippetsHub/internal/model"
)

// Process exit codes for runs the supervisor ended, matching timeout(1) and
// the shell's SIGINT convention.
const (
	exitTimedOut  = 124
	exitCancelled = 130
)

func runCommand() *cli.Command {
	return &cli.Command{
		Name:      "run",
		Usage:     "execute a snippet from a file, --code or stdin",
		ArgsUsage: "[file] [-- program args...]",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "language", Aliases: []string{"l"}, Usage: "language tag or alias; inferred from the file extension when omitted"},
			&cli.StringFlag{Name: "code", Aliases: []string{"c"}, Usage: "snippet source text"},
			&cli.DurationFlag{Name: "timeout", Aliases: []string{"t"}, Usage: "wall-clock limit, e.g. 5s"},
			&cli.StringFlag{Name: "memory", Aliases: []string{"m"}, Usage: "best-effort memory ceiling, e.g. 256m"},
			&cli.StringSliceFlag{Name: "env", Aliases: []string{"e"}, Usage: "KEY=VALUE added to the program environment"},
			&cli.StringFlag{Name: "input", Aliases: []string{"i"}, Usage: "file fed to the program's stdin"},
			&cli.StringFlag{Name: "workdir", Usage: "working directory for the program"},
			&cli.BoolFlag{Name: "json", Usage: "print the result as JSON"},
			&cli.BoolFlag{Name: "verbose", Aliases: []string{"v"}, Usage: "log engine activity to stderr"},
		},
		Action: runSnippet,
	}
}

type runOutput struct {
	Language string `json:"language"`
	model.ExecutionResult
	Error string          `json:"error,omitempty"`
	Kind  model.ErrorKind `json:"kind,omitempty"`
}

func runSnippet(ctx context.Context, cmd *cli.Command) error {
	minLevel := slog.LevelWarn
	if cmd.Bool("verbose") {
		minLevel = slog.LevelDebug
	}
	a, err := newApp(cmd, appOptions{logOut: os.Stderr, format: config.FormatText, minLevel: minLevel})
	if err != nil {
		return err
	}

	file, args := splitRunArgs(cmd.Args().Slice())
	code, err := readCode(cmd.String("code"), file, os.Stdin)
	if err != nil {
		return err
	}

	language := cmd.String("language")
	if language == "" {
		lang, ok := a.catalog.LanguageForFile(file)
		if !ok {
			return errors.New("--language is required when it cannot be inferred from a file extension")
		}
		language = lang
	}

	env, err := parseEnv(cmd.StringSlice("env"))
	if err != nil {
		return err
	}
	opts := model.ExecutionOptions{
		Timeout:     cmd.Duration("timeout"),
		MemoryLimit: cmd.String("memory"),
		Args:        args,
		Env:         env,
		WorkingDir:  cmd.String("workdir"),
	}
	if path := cmd.String("input"); path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read input: %w", err)
		}
		in := string(b)
		opts.Input = &in
	}

	result, execErr := a.engine.Execute(ctx, code, language, opts)

	if cmd.Bool("json") {
		out := runOutput{Language: language, ExecutionResult: result}
		if execErr != nil {
			out.Error = execErr.Error()
			out.Kind = model.KindOf(execErr)
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(out); err != nil {
			return fmt.Errorf("encode result: %w", err)
		}
	} else {
		fmt.Fprint(os.Stdout, result.Stdout)
		fmt.Fprint(os.Stderr, result.Stderr)
		printSummary(os.Stderr, result, execErr)
	}

	return exitError(result, execErr)
}

// splitRunArgs separates the optional source file from program arguments.
// Everything after "--" is passed to the program.
func splitRunArgs(argv []string) (file string, args []string) {
	if i := slices.Index(argv, "--"); i >= 0 {
		args = argv[i+1:]
		argv = argv[:i]
	}
	if len(argv) > 0 {
		file = argv[0]
		args = append(argv[1:len(argv):len(argv)], args...)
	}
	return file, args
}

// readCode picks the snippet source: inline code, then file ("-" for stdin),
// then stdin.
func readCode(inline, file string, stdin io.Reader) (string, error) {
	switch {
	case inline != "":
		return inline, nil
	case file != "" && file != "-":
		b, err := os.ReadFile(file)
		if err != nil {
			return "", fmt.Errorf("read source: %w", err)
		}
		return string(b), nil
	default:
		b, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("read source from stdin: %w", err)
		}
		return string(b), nil
	}
}

func parseEnv(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	env := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid --env %q: want KEY=VALUE", p)
		}
		env[k] = v
	}
	return env, nil
}

func printSummary(w io.Writer, r model.ExecutionResult, err error) {
	switch {
	case err != nil:
		color.New(color.FgRed, color.Bold).Fprintf(w, "✗ %v\n", err)
	case r.Success:
		color.New(color.FgGreen).Fprintf(w, "✓ exit 0 in %dms\n", r.DurationMS)
	default:
		color.New(color.FgYellow).Fprintf(w, "✗ exit %d in %dms\n", r.ExitCode, r.DurationMS)
	}
}

// exitError maps the outcome of a run onto the CLI's exit status.
func exitError(r model.ExecutionResult, err error) error {
	switch model.KindOf(err) {
	case "":
		if r.ExitCode == 0 {
			return nil
		}
		code := r.ExitCode
		if code < 0 || code > 255 {
			code = 1
		}
		return cli.Exit("", code)
	case model.KindTimedOut:
		return cli.Exit("", exitTimedOut)
	case model.KindCancelled:
		return cli.Exit("", exitCancelled)
	default:
		return cli.Exit("", 1)
	}
}

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/urfave/cli/v3"

	"github.com/Wangjien/snippetsHub/internal/config"
	"github.com/Wangjien/snippetsHub/internal/model"
)

func runtimesCommand() *cli.Command {
	return &cli.Command{
		Name:  "runtimes",
		Usage: "list known runtimes and whether they are installed",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "available", Aliases: []string{"a"}, Usage: "only show installed runtimes"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			a, err := newApp(cmd, appOptions{logOut: os.Stderr, format: config.FormatText, minLevel: slog.LevelWarn})
			if err != nil {
				return err
			}
			list := a.registry.List(ctx)
			if cmd.Bool("available") {
				list = a.registry.Available(ctx)
			}
			return printRuntimes(os.Stdout, list)
		},
	}
}

// printRuntimes renders list as an aligned table. The coloured column is
// last so escape codes do not skew the alignment.
func printRuntimes(w io.Writer, list []model.RuntimeInfo) error {
	ok := color.New(color.FgGreen)
	missing := color.New(color.FgRed)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "LANGUAGE\tNAME\tCOMMAND\tALIASES\tVERSION")
	for _, rt := range list {
		aliases := strings.Join(rt.Aliases, ",")
		if aliases == "" {
			aliases = "-"
		}
		status := missing.Sprint("not installed")
		if rt.Available {
			status = ok.Sprint(rt.Version)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", rt.Language, rt.Name, rt.Command, aliases, status)
	}
	return tw.Flush()
}

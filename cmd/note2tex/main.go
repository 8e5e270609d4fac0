package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"
)

func main() {
	cmd := &cli.Command{
		Name:  "note2tex",
		Usage: "Turn handwritten pages into LaTeX documents",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "debug, info, warn or error",
				Value: "warn",
			},
		},
		Commands: []*cli.Command{
			assembleCommand(),
			migrateCommand(),
			userCommand(),
			submitCommand(),
			reprocessCommand(),
			rebuildCommand(),
			listCommand(),
			rateCommand(),
			accountCommand(),
			usageReportCommand(),
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

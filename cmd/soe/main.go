package main

import (
	"context"
	"os"

	cli "github.com/urfave/cli/v3"

	"github.com/soehq/soe/pkg/log"
)

func main() {
	cmd := &cli.Command{
		Name:                  "soe",
		EnableShellCompletion: true,
		Usage:                 "Run signal-driven workflow orchestrations",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Commands: []*cli.Command{
			runCommand(),
			resumeCommand(),
			workerCommand(),
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.WithModule("soe").Error("command failed", "error", err)
		os.Exit(1)
	}
}

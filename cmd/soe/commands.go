package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	cli "github.com/urfave/cli/v3"

	"github.com/soehq/soe/pkg/backends"
	"github.com/soehq/soe/pkg/eventbus"
	"github.com/soehq/soe/pkg/eventbus/kafka"
	"github.com/soehq/soe/pkg/log"
	"github.com/soehq/soe/pkg/orchestrator"
)

func runCommand() *cli.Command {
	flags := append(storageFlags(),
		&cli.StringFlag{
			Name:     "config",
			Aliases:  []string{"c"},
			Usage:    "Path to the workflow definition YAML",
			Sources:  cli.EnvVars("SOE_CONFIG"),
			Required: true,
		},
		&cli.StringFlag{
			Name:     "workflow",
			Aliases:  []string{"w"},
			Usage:    "Initial workflow name",
			Required: true,
		},
		&cli.StringSliceFlag{
			Name:     "signal",
			Aliases:  []string{"s"},
			Usage:    "Initial signal, repeatable",
			Required: true,
		},
		&cli.StringFlag{
			Name:  "context",
			Usage: "Initial context as a JSON object",
			Value: "{}",
		},
	)

	return &cli.Command{
		Name:  "run",
		Usage: "Start a new orchestration and run it to quiescence",
		Flags: flags,
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))
			logger := log.WithModule("soe-run")

			configData, err := os.ReadFile(command.String("config"))
			if err != nil {
				return fmt.Errorf("read config: %w", err)
			}

			var initialContext map[string]any
			if err := json.Unmarshal([]byte(command.String("context")), &initialContext); err != nil {
				return fmt.Errorf("--context must be a JSON object: %w", err)
			}

			engine, b, err := newEngine(ctx, command)
			if err != nil {
				return err
			}

			executionID, err := engine.Orchestrate(ctx, orchestrator.Request{
				ConfigYAML:          configData,
				InitialWorkflowName: command.String("workflow"),
				InitialSignals:      command.StringSlice("signal"),
				InitialContext:      initialContext,
			})
			if err != nil {
				return err
			}

			logger.InfoContext(ctx, "orchestration reached quiescence", "executionId", executionID)
			return printContext(ctx, command, b, executionID)
		},
	}
}

func resumeCommand() *cli.Command {
	flags := append(storageFlags(),
		&cli.StringFlag{
			Name:     "execution-id",
			Aliases:  []string{"e"},
			Usage:    "Execution to resume",
			Required: true,
		},
		&cli.StringSliceFlag{
			Name:     "signal",
			Aliases:  []string{"s"},
			Usage:    "Signal to broadcast, repeatable",
			Required: true,
		},
	)

	return &cli.Command{
		Name:  "resume",
		Usage: "Broadcast signals to an existing execution",
		Flags: flags,
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))
			logger := log.WithModule("soe-resume")

			engine, b, err := newEngine(ctx, command)
			if err != nil {
				return err
			}

			executionID := command.String("execution-id")
			if err := engine.BroadcastSignals(ctx, executionID, command.StringSlice("signal")); err != nil {
				return err
			}

			logger.InfoContext(ctx, "orchestration reached quiescence", "executionId", executionID)
			return printContext(ctx, command, b, executionID)
		},
	}
}

func workerCommand() *cli.Command {
	flags := append(storageFlags(),
		&cli.StringFlag{
			Name:    "event-bus",
			Usage:   "Signal transport (gochannel, kafka)",
			Value:   "gochannel",
			Sources: cli.EnvVars("SOE_EVENT_BUS"),
		},
		&cli.StringFlag{
			Name:    "kafka-brokers",
			Usage:   "Comma-separated kafka brokers",
			Sources: cli.EnvVars("KAFKA_BROKERS"),
		},
		&cli.StringFlag{
			Name:    "consumer-group",
			Usage:   "Kafka consumer group",
			Value:   "soe-worker",
			Sources: cli.EnvVars("SOE_CONSUMER_GROUP"),
		},
	)

	return &cli.Command{
		Name:  "worker",
		Usage: "Consume signal broadcasts from the event bus and resume executions",
		Flags: flags,
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))
			logger := log.WithModule("soe-worker")

			engine, _, err := newEngine(ctx, command)
			if err != nil {
				return err
			}

			var bus eventbus.Broadcaster
			switch command.String("event-bus") {
			case "gochannel":
				bus = eventbus.NewGoChannelBus()
			case "kafka":
				bus, err = kafka.NewBus(command.String("kafka-brokers"), command.String("consumer-group"))
				if err != nil {
					return err
				}
			default:
				return fmt.Errorf("unknown event bus %q", command.String("event-bus"))
			}
			defer func() {
				if err := bus.Close(); err != nil {
					logger.ErrorContext(ctx, "failed to close event bus", "error", err)
				}
			}()

			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := engine.AttachBus(ctx, bus); err != nil {
				return err
			}
			logger.InfoContext(ctx, "worker consuming signal broadcasts")
			<-ctx.Done()
			logger.Info("worker shutting down")
			return nil
		},
	}
}

// printContext writes the execution's final context to stdout as JSON.
func printContext(ctx context.Context, _ *cli.Command, b backends.Backends, executionID string) error {
	c, err := b.Context.GetContext(ctx, executionID)
	if err != nil {
		return err
	}
	out, err := json.MarshalIndent(map[string]any{
		"execution_id": executionID,
		"context":      c,
	}, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(os.Stdout, string(out))
	return err
}

package main

import (
	"context"
	"fmt"

	sdkanthropic "github.com/anthropics/anthropic-sdk-go"
	cli "github.com/urfave/cli/v3"

	"github.com/soehq/soe/pkg/backends"
	filebackend "github.com/soehq/soe/pkg/backends/file"
	"github.com/soehq/soe/pkg/backends/memory"
	redisbackend "github.com/soehq/soe/pkg/backends/redis"
	"github.com/soehq/soe/pkg/llm"
	"github.com/soehq/soe/pkg/llm/providers/anthropic"
	"github.com/soehq/soe/pkg/llm/providers/openai"
	"github.com/soehq/soe/pkg/orchestrator"
	"github.com/soehq/soe/pkg/otelhelper"
)

func storageFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "backend",
			Usage:   "Persistence backend (memory, file, redis)",
			Value:   "file",
			Sources: cli.EnvVars("SOE_BACKEND"),
		},
		&cli.StringFlag{
			Name:    "storage-dir",
			Usage:   "Storage directory for the file backend",
			Value:   "./orchestration_data",
			Sources: cli.EnvVars("SOE_STORAGE_DIR"),
		},
		&cli.StringFlag{
			Name:    "redis-url",
			Usage:   "Redis connection URL for the redis backend",
			Sources: cli.EnvVars("SOE_REDIS_URL"),
		},
		&cli.StringFlag{
			Name:    "provider",
			Usage:   "Model provider for llm and agent nodes (anthropic, openai)",
			Sources: cli.EnvVars("SOE_PROVIDER"),
		},
		&cli.StringFlag{
			Name:    "model",
			Usage:   "Default model id for the provider",
			Sources: cli.EnvVars("SOE_MODEL"),
		},
		&cli.BoolFlag{
			Name:    "tracing",
			Usage:   "Export traces over OTLP/HTTP",
			Sources: cli.EnvVars("SOE_TRACING"),
		},
	}
}

func newBackends(ctx context.Context, command *cli.Command) (backends.Backends, error) {
	var b backends.Backends
	var err error

	switch command.String("backend") {
	case "memory":
		b = memory.New()
	case "file":
		b, err = filebackend.New(command.String("storage-dir"))
		if err != nil {
			return b, err
		}
	case "redis":
		url := command.String("redis-url")
		if url == "" {
			return b, fmt.Errorf("--redis-url is required for the redis backend")
		}
		b, err = redisbackend.NewFromURL(url)
		if err != nil {
			return b, err
		}
	default:
		return b, fmt.Errorf("unknown backend %q", command.String("backend"))
	}

	if b.Telemetry == nil {
		b.Telemetry = memory.NewTelemetryBackend()
	}
	if command.Bool("tracing") {
		tracer, err := otelhelper.NewTracer(ctx, "soe")
		if err != nil {
			return b, fmt.Errorf("initialize tracing: %w", err)
		}
		b.Telemetry = otelhelper.NewTelemetryBackend(tracer)
	}
	return b, nil
}

func newModelCaller(command *cli.Command) (llm.CallFunc, error) {
	model := command.String("model")

	switch command.String("provider") {
	case "":
		return nil, nil
	case "anthropic":
		caller := anthropic.NewCaller(func(o *anthropic.Options) {
			if model != "" {
				o.Model = sdkanthropic.Model(model)
			}
		})
		return caller.Call, nil
	case "openai":
		caller := openai.NewCaller(func(o *openai.Options) {
			if model != "" {
				o.Model = model
			}
		})
		return caller.Call, nil
	default:
		return nil, fmt.Errorf("unknown provider %q", command.String("provider"))
	}
}

func newEngine(ctx context.Context, command *cli.Command) (*orchestrator.Engine, backends.Backends, error) {
	b, err := newBackends(ctx, command)
	if err != nil {
		return nil, b, err
	}
	caller, err := newModelCaller(command)
	if err != nil {
		return nil, b, err
	}

	var opts []orchestrator.Option
	if caller != nil {
		opts = append(opts, orchestrator.WithModelCaller(caller))
	}
	engine, err := orchestrator.New(b, opts...)
	return engine, b, err
}

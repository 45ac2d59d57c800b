// Command server runs the Dentalogic prediction API.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/nvr-ai/dentalogic/config"
	"github.com/nvr-ai/dentalogic/history"
	"github.com/nvr-ai/dentalogic/inference"
	"github.com/nvr-ai/dentalogic/inference/detectors"
	"github.com/nvr-ai/dentalogic/logging"
	"github.com/nvr-ai/dentalogic/profiler"
	"github.com/nvr-ai/dentalogic/server"
)

func main() {
	var (
		configPath = flag.String("config", "", "Path to a YAML configuration file")
		addr       = flag.String("addr", "", "Listen address, overrides server.addr")
		modelPath  = flag.String("model", "", "Path to the ONNX model, overrides model.model_path")
	)
	flag.Parse()

	if err := run(*configPath, *addr, *modelPath); err != nil {
		fmt.Fprintf(os.Stderr, "server: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, addr, modelPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if addr != "" {
		cfg.Server.Addr = addr
	}
	if modelPath != "" {
		cfg.Model.ModelPath = modelPath
	}

	logger, err := logging.New(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	prof := profiler.New(0)
	loader := detectors.NewLoader(func() (detectors.Predictor, error) {
		d, err := detectors.Open(cfg.Model,
			detectors.WithLogger(logger.With("component", "detector")),
			detectors.WithProfiler(prof))
		if err != nil {
			return nil, err
		}
		if err := d.WarmUp(ctx, cfg.Server.WarmUpRuns); err != nil {
			d.Close()
			return nil, err
		}
		return d, nil
	}, logger)
	defer func() {
		if err := loader.Close(); err != nil {
			logger.Error("closing model", "error", err)
		}
		if err := inference.DestroyEnvironment(); err != nil {
			logger.Error("destroying onnxruntime environment", "error", err)
		}
	}()

	// The model is retried on the first request when this fails.
	if _, err := loader.Get(ctx); err != nil {
		logger.Error("model not loaded at startup", "path", cfg.Model.ModelPath, "error", err)
	}

	srv := server.New(server.Options{
		Server:     cfg.Server,
		Annotation: cfg.Annotation,
		ModelPath:  cfg.Model.ModelPath,
	}, loader, history.NewStore(cfg.History.Capacity), prof, logger)

	logger.Info("starting "+server.ServiceName,
		slog.String("addr", cfg.Server.Addr),
		slog.String("model", cfg.Model.ModelPath),
		slog.String("provider", string(cfg.Model.Provider.Backend)))
	return srv.ListenAndServe(ctx)
}

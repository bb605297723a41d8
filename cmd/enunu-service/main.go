// main package for the enunu-service
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/book-expert/enunu-service/internal/config"
	"github.com/book-expert/enunu-service/internal/dispatch"
	"github.com/book-expert/enunu-service/internal/engine"
	"github.com/book-expert/enunu-service/internal/jobctx"
	"github.com/book-expert/enunu-service/internal/permissions"
	"github.com/book-expert/enunu-service/internal/pipeline"
	"github.com/book-expert/enunu-service/internal/server"
	"github.com/book-expert/enunu-service/internal/worker"
	"github.com/book-expert/logger"
	"github.com/nats-io/nats.go"
	"golang.org/x/sync/errgroup"
)

func setupLogger(logPath, fileName string) (*logger.Logger, error) {
	log, err := logger.New(logPath, fileName)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	return log, nil
}

// buildDispatcher wires the resolver, engine, stages and permission reset.
func buildDispatcher(cfg *config.Config, log *logger.Logger) (*dispatch.Dispatcher, error) {
	mode, err := cfg.Jobs.Mode()
	if err != nil {
		return nil, err
	}

	resolver := jobctx.NewResolver(cfg.Jobs.WorkRoot, cfg.Engine.VoiceRoot, cfg.Engine.DefaultVoiceDir)

	eng, err := engine.New(cfg.Engine.Binary, cfg.Engine.Args, cfg.Engine.Timeout(), log)
	if err != nil {
		return nil, fmt.Errorf("failed to create engine: %w", err)
	}

	stages := pipeline.New(resolver, eng, eng, log)
	resetter := permissions.New(mode, cfg.Jobs.OwnerUser, cfg.Jobs.OwnerGroup)

	return dispatch.New(stages, resolver, resetter, log), nil
}

func serve(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	dispatcher, err := buildDispatcher(cfg, log)
	if err != nil {
		return err
	}

	srv, err := server.New(cfg.Server.Endpoint, dispatcher, log)
	if err != nil {
		return err
	}

	defer func() {
		closeErr := srv.Close()
		if closeErr != nil {
			log.Error("Failed to close server: %v", closeErr)
		}
	}()

	var natsWorker *worker.NatsWorker

	if cfg.NATS.URL != "" {
		natsConnection, connectErr := nats.Connect(cfg.NATS.URL)
		if connectErr != nil {
			return fmt.Errorf("failed to connect to NATS at %s: %w", cfg.NATS.URL, connectErr)
		}
		defer natsConnection.Close()

		natsWorker, err = worker.NewNatsWorker(natsConnection, cfg.NATS.Subject, dispatcher, log)
		if err != nil {
			return err
		}
	}

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return srv.Run(groupCtx)
	})

	if natsWorker != nil {
		group.Go(func() error {
			return natsWorker.Run(groupCtx)
		})
	}

	return group.Wait()
}

func run() error {
	// 1. Create a temporary logger for the bootstrap process
	bootstrapLog, err := setupLogger(os.TempDir(), "enunu-service-bootstrap.log")
	if err != nil {
		// If bootstrap logger fails, we can only print to stderr
		fmt.Fprintf(os.Stderr, "FATAL: Failed to create bootstrap logger: %v\n", err)

		return err
	}

	bootstrapLog.Info("Bootstrap logger created.")

	// 2. Load configuration using the central configurator
	cfg, err := config.Load(bootstrapLog)
	if err != nil {
		bootstrapLog.Error("Failed to load configuration: %v", err)

		return fmt.Errorf("failed to load configuration: %w", err)
	}

	bootstrapLog.Info("Configuration loaded successfully.")

	// 3. Initialize the final logger based on the loaded configuration
	finalLog, err := setupLogger(cfg.Paths.BaseLogsDir, "enunu-service.log")
	if err != nil {
		bootstrapLog.Error("Failed to create final logger: %v", err)

		return fmt.Errorf("failed to create final logger: %w", err)
	}

	defer func() {
		closeErr := finalLog.Close()
		if closeErr != nil {
			fmt.Fprintf(os.Stderr, "error closing final logger: %v\n", closeErr)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	finalLog.System("Starting enunu-service on %s (work root %s)", cfg.Server.Endpoint, cfg.Jobs.WorkRoot)

	err = serve(ctx, cfg, finalLog)
	if err != nil {
		finalLog.Error("Service stopped with error: %v", err)

		return err
	}

	finalLog.System("enunu-service stopped")

	return nil
}

func main() {
	err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Service exited with error: %v\n", err)
		os.Exit(1)
	}
}

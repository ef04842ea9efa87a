package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/clms-dev/automation-be/internal/api/handler"
	"github.com/clms-dev/automation-be/internal/api/router"
	"github.com/clms-dev/automation-be/internal/automation/domain"
	"github.com/clms-dev/automation-be/internal/automation/executor"
	"github.com/clms-dev/automation-be/internal/automation/queue"
	"github.com/clms-dev/automation-be/internal/automation/scheduler"
	"github.com/clms-dev/automation-be/internal/automation/storage"
	"github.com/clms-dev/automation-be/internal/automation/sweeper"
	"github.com/clms-dev/automation-be/internal/config"
	"github.com/clms-dev/automation-be/shared/logger"
	"github.com/clms-dev/automation-be/shared/postgresql"
	"github.com/clms-dev/automation-be/shared/rabbitmq"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	defaultConfigPath := os.Getenv("AUTOMATION_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/automation-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	appLogger.Info("Starting automation service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	dbClient, err := initPostgreSQL(&cfg.Database, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer dbClient.Close()

	rabbitClient, err := initRabbitMQ(cfg, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
	}
	defer rabbitClient.Close()

	store := storage.New(dbClient.GetDB(), appLogger.Logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// A crash mid-execution can leave rows stuck in RUNNING.
	if _, err := store.ResetRunningJobs(ctx); err != nil {
		appLogger.Error("Failed to reset stale running jobs",
			slog.Any("error", err),
		)
	}

	if err := store.SeedJobs(ctx, seedsFromConfig(cfg)); err != nil {
		return fmt.Errorf("failed to seed jobs: %w", err)
	}

	// Work queue set
	broker := queue.NewAMQPBroker(rabbitClient)
	queueManager := queue.NewManager(broker, appLogger.Logger)
	for _, qc := range cfg.Automation.Queues {
		queueManager.Register(qc.Name, queue.Policy{
			Attempts: qc.Attempts,
			Backoff: queue.Backoff{
				Type:  queue.BackoffType(qc.BackoffType),
				Delay: qc.BackoffDelay,
			},
			KeepCompleted: qc.KeepCompleted,
			KeepFailed:    qc.KeepFailed,
			Concurrency:   qc.Concurrency,
			PrefetchCount: qc.PrefetchCount,
		})
	}

	// Executor with dispatch table and processors
	loc := cfg.Timezone()
	exec := executor.New(store, loc, appLogger.Logger)
	collab := executor.StubCollaborators(appLogger.Logger)
	if err := executor.RegisterDefaultHandlers(exec, queueManager, collab); err != nil {
		return fmt.Errorf("failed to register handlers: %w", err)
	}
	if err := executor.RegisterProcessors(queueManager, collab); err != nil {
		return fmt.Errorf("failed to register processors: %w", err)
	}
	queueManager.Subscribe(exec.HandleQueueEvent)

	// Cron scheduler
	sched := scheduler.New(store, exec, loc, appLogger.Logger)
	if _, err := sched.ScheduleAll(ctx); err != nil {
		return fmt.Errorf("failed to schedule jobs: %w", err)
	}
	sched.Start()

	if err := queueManager.Start(ctx); err != nil {
		return fmt.Errorf("failed to start work queues: %w", err)
	}

	// Retention sweeper
	sweep := sweeper.New(store, cfg.Automation.Retention.Window, cfg.Automation.Retention.SweepInterval, appLogger.Logger)

	// Admin HTTP surface
	apiRouter := router.SetupRouter(&handler.Dependencies{
		Logger:   appLogger.Logger,
		Executor: exec,
		Queues:   queueManager,
		Store:    store,
	})
	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      apiRouter,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := sweep.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	appLogger.Info("Automation service started successfully",
		slog.Int("port", cfg.Server.Port),
		slog.String("timezone", loc.String()),
	)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		appLogger.Info("Received signal, shutting down gracefully",
			slog.String("signal", sig.String()),
		)
	case <-gctx.Done():
		appLogger.Error("Background task failed, shutting down")
	}

	// Teardown order: timers first so no new work is scheduled, then queues,
	// then the HTTP surface; store and broker close via defers.
	sched.Shutdown()
	queueManager.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		appLogger.Warn("HTTP server shutdown error",
			slog.Any("error", err),
		)
	}

	cancel()
	if err := g.Wait(); err != nil {
		appLogger.Error("Background task error",
			slog.Any("error", err),
		)
	}

	appLogger.Info("Automation service shutdown complete")
	return nil
}

// initLogger initializes and configures the application logger
func initLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	return logger.New(&logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
	})
}

// initPostgreSQL initializes the PostgreSQL database client
func initPostgreSQL(cfg *config.DatabaseConfig, logger *slog.Logger) (*postgresql.Client, error) {
	return postgresql.NewClient(&postgresql.Config{
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Database,
		SSLMode:         cfg.SSLMode,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
	}, logger)
}

// initRabbitMQ initializes the RabbitMQ client with the queue topology
func initRabbitMQ(cfg *config.Config, logger *slog.Logger) (*rabbitmq.Client, error) {
	return rabbitmq.NewClient(&rabbitmq.Config{
		Host:          cfg.RabbitMQ.Host,
		Port:          cfg.RabbitMQ.Port,
		User:          cfg.RabbitMQ.User,
		Password:      cfg.RabbitMQ.Password,
		VHost:         cfg.RabbitMQ.VHost,
		Exchange:      cfg.RabbitMQ.Exchange,
		Queues:        cfg.QueueNames(),
		RetryAttempts: cfg.RabbitMQ.RetryAttempts,
		RetryInterval: cfg.RabbitMQ.RetryInterval,
		Heartbeat:     cfg.RabbitMQ.Heartbeat,
	}, logger)
}

func seedsFromConfig(cfg *config.Config) []storage.JobSeed {
	seeds := make([]storage.JobSeed, 0, len(cfg.Automation.Jobs))
	for _, j := range cfg.Automation.Jobs {
		seeds = append(seeds, storage.JobSeed{
			Name:     j.Name,
			Type:     domain.JobType(j.Type),
			Schedule: j.Schedule,
			Enabled:  j.Enabled,
			Config:   j.Config,
		})
	}
	return seeds
}

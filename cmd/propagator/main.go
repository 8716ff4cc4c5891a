package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/syntrixbase/propagator/internal/checkpoint"
	"github.com/syntrixbase/propagator/internal/config"
	"github.com/syntrixbase/propagator/internal/derived"
	"github.com/syntrixbase/propagator/internal/health"
	"github.com/syntrixbase/propagator/internal/logging"
	"github.com/syntrixbase/propagator/internal/propagate"
	"github.com/syntrixbase/propagator/internal/runner"
	mongosource "github.com/syntrixbase/propagator/internal/source/mongo"
	"github.com/syntrixbase/propagator/internal/supervisor"
)

func main() {
	os.Exit(run())
}

func run() int {
	defaultDir := os.Getenv("CONFIG_DIR")
	if defaultDir == "" {
		defaultDir = "config"
	}
	configDir := flag.String("config", defaultDir, "Directory holding config.yml and config.local.yml")
	flag.Parse()

	// 1. Load configuration; every problem here is fatal before any subscription
	cfg, err := config.LoadConfig(*configDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "propagator: %v\n", err)
		return 1
	}

	logger, err := logging.Initialize(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "propagator: %v\n", err)
		return 1
	}
	defer func() { _ = logging.Shutdown() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shard := cfg.Shard.Shard()
	checker := health.NewChecker(shard.String(), logger)
	logger = logger.With("instance", checker.InstanceID())
	logger.Info("Propagator starting",
		"shard", shard.String(),
		"database", cfg.Source.Database,
		"resume_backend", cfg.Resume.Backend)

	// 2. Connect and prepare the source
	startCtx, cancel := context.WithTimeout(ctx, cfg.Runner.SubscribeTimeout)
	defer cancel()

	client, err := mongosource.Connect(startCtx, cfg.Source.URI)
	if err != nil {
		logger.Error("Failed to connect to source", "error", err)
		return 1
	}
	defer func() {
		disconnectCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = client.Disconnect(disconnectCtx)
	}()
	db := client.Database(cfg.Source.Database)

	bindings := propagate.Bindings(derived.NewMongoStore(db), logger)
	for _, b := range bindings {
		if !b.PreImage {
			continue
		}
		changed, err := mongosource.EnsurePreAndPostImages(startCtx, db, b.Collection)
		if err != nil {
			logger.Error("Failed to enable document images", "collection", b.Collection, "error", err)
			return 1
		}
		if changed {
			logger.Info("Enabled pre- and post-images", "collection", b.Collection)
		}
	}

	store, closeStore, err := openResumeStore(startCtx, cfg.Resume, db, logger)
	if err != nil {
		logger.Error("Failed to open resume store", "backend", cfg.Resume.Backend, "error", err)
		return 1
	}
	defer closeStore()

	// 3. Build the streams
	sup, err := supervisor.New(shard, runnerConfig(cfg.Runner), mongosource.New(db, logger), store, bindings, supervisor.Options{
		Logger:  logger,
		Ready:   os.Stdout,
		Checker: checker,
	})
	if err != nil {
		logger.Error("Failed to build streams", "error", err)
		return 1
	}

	if cfg.Health.Address != "" {
		go func() {
			if err := health.StartServer(ctx, cfg.Health.Address, checker); err != nil {
				logger.Error("Health server error", "error", err)
			}
		}()
	}

	// 4. Run until a signal arrives or a stream fails to start
	if err := sup.Run(ctx); err != nil {
		return 1
	}
	logger.Info("Propagator stopped")
	return 0
}

func runnerConfig(c config.RunnerConfig) runner.Config {
	return runner.Config{
		LoadTimeout:      c.LoadTimeout,
		SubscribeTimeout: c.SubscribeTimeout,
		WriteTimeout:     c.WriteTimeout,
		SaveTimeout:      c.SaveTimeout,
		BackoffBase:      c.BackoffBase,
		BackoffMax:       c.BackoffMax,
	}
}

// openResumeStore returns the configured position store and a function
// releasing its resources.
func openResumeStore(ctx context.Context, cfg config.ResumeConfig, db *mongo.Database, logger *slog.Logger) (checkpoint.Store, func(), error) {
	switch cfg.Backend {
	case config.ResumeBackendMemory:
		logger.Warn("Resume positions are kept in memory and lost on restart")
		return checkpoint.NewMemoryStore(), func() {}, nil

	case config.ResumeBackendNATS:
		nc, err := nats.Connect(cfg.NATSURL, nats.Name("propagator"), nats.Timeout(5*time.Second))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to NATS: %w", err)
		}
		js, err := jetstream.New(nc)
		if err != nil {
			nc.Close()
			return nil, nil, fmt.Errorf("failed to create JetStream context: %w", err)
		}
		store, err := checkpoint.OpenNATSStore(ctx, js, cfg.Bucket, cfg.MaxRetries)
		if err != nil {
			nc.Close()
			return nil, nil, err
		}
		return store, func() { _ = nc.Drain() }, nil

	default:
		return checkpoint.NewMongoStore(db, cfg.Collection), func() {}, nil
	}
}

package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lewisedginton/sentio/internal/config"
	"github.com/lewisedginton/sentio/internal/generation"
	"github.com/lewisedginton/sentio/internal/memory_store"
	"github.com/lewisedginton/sentio/internal/prompt_catalog"
	"github.com/lewisedginton/sentio/internal/storage_manager"
	"github.com/lewisedginton/sentio/internal/workflow"
	"github.com/lewisedginton/sentio/pkg/logger"
	"github.com/lewisedginton/sentio/pkg/metrics"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file (optional, env vars override)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	l := logger.NewLogger(logger.Config{
		Level:   logger.ParseLevel(cfg.Logging.Level),
		Format:  cfg.Logging.Format,
		Service: cfg.Service.Name,
	})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	m := metrics.NewMetrics(l)
	if !cfg.Monitoring.MetricsDisabled {
		go func() {
			if err := m.Serve(ctx, cfg.Monitoring.MetricsPort); err != nil {
				l.Error("Metrics server stopped", logger.ErrorField(err))
			}
		}()
	}

	store, cleanup, err := buildStore(ctx, cfg, l)
	if err != nil {
		l.Error("Failed to initialize memory store", logger.ErrorField(err))
		os.Exit(1)
	}
	defer cleanup()

	if err := store.Ping(ctx); err != nil {
		l.Error("Memory store unreachable", logger.ErrorField(err))
		os.Exit(1)
	}

	catalog, err := loadCatalog(ctx, cfg.Service.PromptsPath)
	if err != nil {
		l.Error("Failed to load prompt catalog", logger.ErrorField(err))
		os.Exit(1)
	}
	l.Info("Prompt catalog loaded",
		logger.IntField("templates", len(catalog.Keys())),
		logger.StringField("path", cfg.Service.PromptsPath))

	client := generation.NewClient(generation.Config{
		APIKey:  cfg.Generation.APIKey,
		BaseURL: cfg.Generation.BaseURL,
		Defaults: generation.Params{
			Model:       cfg.Generation.Model,
			Temperature: cfg.Generation.Temperature,
			MaxTokens:   cfg.Generation.MaxTokens,
			TopP:        cfg.Generation.TopP,
		},
		RequestTimeout: cfg.Generation.Timeout,
		MaxAttempts:    cfg.Generation.MaxAttempts,
		BackoffBase:    cfg.Generation.BackoffBase,
		BackoffCap:     cfg.Generation.BackoffCap,
	}, l, m)

	sender := newConsoleSender(os.Stdout)
	orchestrator := workflow.New(workflow.Options{
		Store:     store,
		Catalog:   catalog,
		Generator: client,
		Sender:    sender,
		Config: workflow.Config{
			Deadline:                 cfg.Workflow.Deadline,
			PromptCategory:           cfg.Workflow.PromptCategory,
			PromptCostPerMillion:     cfg.Workflow.PromptCostPerMillion,
			CompletionCostPerMillion: cfg.Workflow.CompletionCostPerMillion,
		},
		Logger:  l,
		Metrics: m,
	})

	l.Info("Ready, reading messages from stdin",
		logger.StringField("format", "sender@example.com: message text"))

	source := newConsoleSource(os.Stdin)
	for {
		msg, err := source.Receive(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				break
			}
			l.Warn("Skipping malformed input", logger.ErrorField(err))
			continue
		}

		if _, err := orchestrator.Process(ctx, *msg); err != nil {
			l.Error("Message processing failed", logger.ErrorField(err))
		}
	}

	l.Info("Shutting down")
}

// buildStore selects the memory store backend from configuration.
func buildStore(ctx context.Context, cfg *config.AppConfig, l logger.Logger) (memory_store.Store, func(), error) {
	noop := func() {}

	switch cfg.Storage.Backend {
	case config.BackendFile:
		provider := storage_manager.NewLocalFileProvider(cfg.Storage.BaseDir)
		return memory_store.NewFileStore(memory_store.FileStoreConfig{Provider: provider, Logger: l}), noop, nil

	case config.BackendS3:
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, noop, err
		}
		client := storage_manager.NewAWSS3Client(s3.NewFromConfig(awsCfg))
		provider := storage_manager.NewS3FileProvider(cfg.Storage.Bucket, cfg.Storage.Prefix, client)
		return memory_store.NewFileStore(memory_store.FileStoreConfig{Provider: provider, Logger: l}), noop, nil

	case config.BackendPostgres:
		pool, err := pgxpool.New(ctx, cfg.Storage.DatabaseURL)
		if err != nil {
			return nil, noop, err
		}
		if err := memory_store.RunMigrations(pool, l); err != nil {
			pool.Close()
			return nil, noop, err
		}
		return memory_store.NewPostgresStore(pool, l), pool.Close, nil

	default:
		return nil, noop, errors.New("unknown storage backend " + cfg.Storage.Backend)
	}
}

// loadCatalog reads prompt definitions from a local path.
func loadCatalog(ctx context.Context, path string) (*prompt_catalog.Catalog, error) {
	dir, file := filepath.Split(path)
	if dir == "" {
		dir = "."
	}
	provider := storage_manager.NewLocalFileProvider(dir)
	return prompt_catalog.Load(ctx, provider, file)
}

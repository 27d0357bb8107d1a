package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/surveyor/internal/api"
	"github.com/MikeSquared-Agency/surveyor/internal/assistant"
	"github.com/MikeSquared-Agency/surveyor/internal/backfill"
	"github.com/MikeSquared-Agency/surveyor/internal/chunker"
	"github.com/MikeSquared-Agency/surveyor/internal/config"
	"github.com/MikeSquared-Agency/surveyor/internal/domain"
	"github.com/MikeSquared-Agency/surveyor/internal/embedding"
	"github.com/MikeSquared-Agency/surveyor/internal/extraction"
	"github.com/MikeSquared-Agency/surveyor/internal/hermes"
	"github.com/MikeSquared-Agency/surveyor/internal/llm"
	"github.com/MikeSquared-Agency/surveyor/internal/memory"
	"github.com/MikeSquared-Agency/surveyor/internal/prompt"
	"github.com/MikeSquared-Agency/surveyor/internal/retriever"
	"github.com/MikeSquared-Agency/surveyor/internal/store"
	"github.com/MikeSquared-Agency/surveyor/internal/store/memstore"
)

// chunkStore is everything the core asks of persistence.
type chunkStore interface {
	retriever.Store
	memory.Store
	backfill.Store
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	setupLogging(cfg.LogLevel)
	logger := slog.Default()

	slog.Info("surveyor starting", "port", cfg.Port)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	metric, err := domain.ParseMetric(cfg.VectorMetric)
	if err != nil {
		slog.Error("invalid vector metric", "error", err)
		os.Exit(1)
	}

	// Embeddings
	embedURL := cfg.OllamaHost
	if cfg.EmbeddingBackend == embedding.BackendOpenAI {
		embedURL = cfg.OpenAIBaseURL
	}
	embedder, err := embedding.New(embedding.Config{
		Backend:    cfg.EmbeddingBackend,
		BaseURL:    embedURL,
		APIKey:     cfg.OpenAIAPIKey,
		Model:      cfg.EmbeddingModel,
		Dimensions: cfg.EmbeddingDimensions,
		RateLimit:  cfg.EmbedRateLimit,
		Burst:      cfg.EmbedBurst,
	})
	if err != nil {
		slog.Error("failed to configure embeddings", "error", err)
		os.Exit(1)
	}
	slog.Info("embedding provider ready", "backend", cfg.EmbeddingBackend, "model", embedder.Model(), "dimensions", embedder.Dimensions())

	// Database
	var (
		db     chunkStore
		pinger api.Pinger
	)
	if cfg.DatabaseURL != "" {
		pg, err := store.New(ctx, cfg.DatabaseURL, metric)
		if err != nil {
			slog.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer pg.Close()
		if cfg.AutoMigrate {
			if err := pg.Migrate(ctx, embedder.Dimensions()); err != nil {
				slog.Error("failed to migrate database", "error", err)
				os.Exit(1)
			}
		}
		db, pinger = pg, pg
		slog.Info("database connected", "metric", metric)
	} else {
		db = memstore.New(metric)
		slog.Warn("DATABASE_URL not set, using in-memory store")
	}

	// Completion model
	llmURL, llmModel, llmKey := cfg.OllamaHost, cfg.LocalModel, ""
	if cfg.CompletionBackend == llm.BackendAnthropic {
		llmURL, llmModel, llmKey = cfg.AnthropicBaseURL, cfg.AnthropicModel, cfg.AnthropicAPIKey
	}
	model, err := llm.New(llm.Config{
		Backend: cfg.CompletionBackend,
		BaseURL: llmURL,
		APIKey:  llmKey,
		Model:   llmModel,
	})
	if err != nil {
		slog.Error("failed to configure completion backend", "error", err)
		os.Exit(1)
	}
	slog.Info("completion backend ready", "backend", cfg.CompletionBackend, "model", llmModel)

	limits := cfg.Limits
	ret := retriever.New(db, embedder, logger,
		retriever.WithChunker(chunker.New(
			chunker.WithMaxTokens(limits.Chunking.MaxTokens),
			chunker.WithOverlap(limits.Chunking.OverlapTokens),
		)),
		retriever.WithConcurrency(cfg.EmbedConcurrency),
		retriever.WithDedup(cfg.DedupThreshold),
	)
	mem := memory.NewManager(db, memory.NewSummarizer(model, limits.Memory, logger), limits.Memory, logger)
	builder := prompt.NewBuilder(limits.Prompt)

	// Extraction service (optional, documents can be ingested with inline text)
	var ext assistant.Extractor
	if cfg.ExtractionURL != "" {
		ext = extraction.New(cfg.ExtractionURL, extraction.MaxPages)
	}

	// NATS/Hermes (optional)
	var (
		hermesClient *hermes.Client
		publisher    assistant.Publisher
		connected    func() bool
	)
	if cfg.NatsURL != "" {
		hermesClient, err = hermes.NewClient(hermes.Config{URL: cfg.NatsURL, Token: cfg.NatsToken}, logger)
		if err != nil {
			slog.Error("failed to connect to NATS", "error", err)
			os.Exit(1)
		}
		defer hermesClient.Close()
		publisher, connected = hermesClient, hermesClient.Connected
		slog.Info("NATS connected", "url", cfg.NatsURL)
	} else {
		slog.Warn("NATS_URL not set, running without events")
	}

	asst := assistant.New(assistant.Config{
		Retriever:    ret,
		Memory:       mem,
		Builder:      builder,
		LLM:          model,
		Extractor:    ext,
		Publisher:    publisher,
		GuardLimits:  limits.Guard,
		SystemPrompt: cfg.SystemPrompt,
		Logger:       logger,
	})

	if hermesClient != nil {
		if err := hermesClient.Subscribe(hermes.SubjectDocumentExtracted, asst.HandleDocumentExtracted); err != nil {
			slog.Error("failed to subscribe to document events", "error", err)
			os.Exit(1)
		}
	}

	// HTTP API
	srv := api.NewServer(cfg.Port, cfg.APIToken, api.Deps{
		Assistant:   asst,
		Retriever:   ret,
		Memory:      mem,
		Builder:     builder,
		Backfill:    backfill.NewRunner(db, embedder, cfg.EmbedConcurrency, logger),
		Store:       pinger,
		Connected:   connected,
		GuardLimits: limits.Guard,
		Logger:      logger,

		MaxBodyBytes: int64(cfg.MaxUploadSizeMB) << 20,
	})
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start(ctx) }()

	// Announce registration
	if hermesClient != nil {
		if err := hermesClient.Publish(hermes.SubjectAgentRegistered, hermes.AgentRegistered{
			AgentID:        uuid.NewString(),
			Name:           "surveyor",
			Role:           "retrieval",
			Capabilities:   []string{"ingest", "retrieve", "bounded-context", "chat"},
			EmbeddingModel: embedder.Model(),
		}); err != nil {
			slog.Warn("failed to publish registration", "error", err)
		}
	}

	slog.Info("surveyor ready", "port", cfg.Port)

	select {
	case <-ctx.Done():
		slog.Info("shutting down")
		if err := <-errCh; err != nil {
			slog.Error("HTTP server shutdown error", "error", err)
		}
	case err := <-errCh:
		slog.Error("HTTP server error", "error", err)
		cancel()
	}
	slog.Info("surveyor stopped")
}

func setupLogging(level string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(handler))
}

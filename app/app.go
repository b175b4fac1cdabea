// Package app verdrahtet Konfiguration, Datenbank, Queue und Provider für die Binaries.
package app

import (
	"context"
	"fmt"

	"hn-digest/config"
	"hn-digest/providers"
	"hn-digest/providers/gemini"
	"hn-digest/providers/hackernews"
	"hn-digest/providers/mock"
	"hn-digest/providers/openai"
	"hn-digest/queue"
	"hn-digest/services"
	"hn-digest/storage"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// App hält die geteilten Verbindungen eines Prozesses.
type App struct {
	Config *config.Config
	Logger *zap.Logger
	Repo   *storage.Repository
	Redis  *redis.Client
	Broker *queue.Broker
}

// Open verbindet Datenbank und Redis und führt die Migration aus.
func Open(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	db, err := storage.OpenPostgres(cfg)
	if err != nil {
		return nil, fmt.Errorf("fehler beim verbinden mit der datenbank: %w", err)
	}
	repo := storage.NewRepository(db, logger)
	if err := repo.Migrate(ctx); err != nil {
		return nil, fmt.Errorf("fehler bei der migration: %w", err)
	}
	logger.Info("Datenbank verbunden und migriert.", zap.String("host", cfg.DBHost), zap.String("db", cfg.DBName))

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	broker := queue.NewBroker(rdb, queue.Options{
		Prefix:     cfg.QueuePrefix,
		Visibility: cfg.JobVisibility,
		Logger:     logger,
	})
	if err := broker.Ping(ctx); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis nicht erreichbar: %w", err)
	}
	logger.Info("Redis verbunden.", zap.String("addr", cfg.RedisAddr), zap.String("prefix", cfg.QueuePrefix))

	return &App{Config: cfg, Logger: logger, Repo: repo, Redis: rdb, Broker: broker}, nil
}

// Close schließt Redis und die Datenbankverbindung.
func (a *App) Close() {
	if err := a.Redis.Close(); err != nil {
		a.Logger.Warn("Redis konnte nicht geschlossen werden.", zap.Error(err))
	}
	if sqlDB, err := a.Repo.DB.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

// Orchestrator erstellt den Flow-Orchestrator auf dem Broker.
func (a *App) Orchestrator() *services.Orchestrator {
	return services.NewOrchestrator(a.Broker, a.Config, a.Logger)
}

// Pipeline erstellt die Harvest-Pipeline. Das S3-Archiv wird nur bei gesetztem Bucket angelegt.
func (a *App) Pipeline(ctx context.Context) (*services.Pipeline, error) {
	feed := hackernews.NewClient(a.Config, a.Logger)

	var archiver services.StoryArchiver
	if a.Config.ArchiveEnabled() {
		client, err := storage.NewS3Client(ctx, a.Config)
		if err != nil {
			return nil, fmt.Errorf("S3-Client konnte nicht erstellt werden: %w", err)
		}
		archiver = storage.NewArchiver(client, a.Config.ArchiveS3Bucket, a.Logger)
		a.Logger.Info("Rohdaten-Archiv aktiv.", zap.String("bucket", a.Config.ArchiveS3Bucket))
	}

	return services.NewPipeline(a.Config, feed,
		services.NewHarvester(feed, a.Config, a.Logger),
		services.NewExtractor(a.Config, a.Logger),
		a.Repo, a.Orchestrator(), archiver, a.Logger), nil
}

// JobRunner erstellt den Dispatcher für die Worker samt Provider-Ketten.
func (a *App) JobRunner(ctx context.Context) (*services.JobRunner, error) {
	mapChat, reduceChat, embedder, err := a.languageModels(ctx)
	if err != nil {
		return nil, err
	}
	return services.NewJobRunner(a.Broker, a.Repo,
		services.NewMapStage(mapChat, a.Logger),
		services.NewSynthesizer(reduceChat, embedder, a.Config.MinSignals, a.Logger),
		a.Logger), nil
}

// languageModels baut die Fallback-Ketten: Gemini primär, OpenAI-kompatibel sekundär.
// Map- und Reduce-Stufe bekommen eigene Ketten, damit Fallbacks pro Stufe gezählt werden.
func (a *App) languageModels(ctx context.Context) (mapChat, reduceChat providers.ChatProvider, embedder providers.Embedder, err error) {
	cfg := a.Config
	if cfg.MockLLM {
		a.Logger.Warn("MOCK_LLM aktiv: es werden keine Sprachmodelle aufgerufen.")
		m := &mock.Provider{Dimensions: cfg.EmbeddingDimensions}
		return m, m, m, nil
	}

	var chats []providers.ChatProvider
	var embedders []providers.Embedder
	if cfg.GeminiAPIKey != "" {
		g, err := gemini.NewClient(ctx, cfg, a.Logger)
		if err != nil {
			return nil, nil, nil, err
		}
		chats = append(chats, g)
		embedders = append(embedders, g)
	}
	if cfg.OpenAIAPIKey != "" {
		o := openai.NewClient(cfg, a.Logger)
		chats = append(chats, o)
		embedders = append(embedders, o)
	}
	if len(chats) == 0 {
		return nil, nil, nil, fmt.Errorf("%w: GEMINI_API_KEY oder OPENAI_API_KEY setzen (oder MOCK_LLM=true)", providers.ErrNoProvider)
	}

	mc := providers.NewChatChain(a.Logger, chats...)
	mc.OnFallback = services.CountFallback("map")
	rc := providers.NewChatChain(a.Logger, chats...)
	rc.OnFallback = services.CountFallback("reduce")
	ec := providers.NewEmbedChain(a.Logger, cfg.EmbeddingDimensions, embedders...)
	ec.OnFallback = services.CountFallback("embedding")

	names := make([]string, len(chats))
	for i, c := range chats {
		names[i] = c.Name()
	}
	a.Logger.Info("Sprachmodell-Provider geladen.", zap.Strings("providers", names))
	return mc, rc, ec, nil
}

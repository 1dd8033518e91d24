package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/quillback/mnemo/internal/analytics"
	"github.com/quillback/mnemo/internal/api"
	"github.com/quillback/mnemo/internal/config"
	"github.com/quillback/mnemo/internal/embedding"
	"github.com/quillback/mnemo/internal/events"
	"github.com/quillback/mnemo/internal/memory"
	"github.com/quillback/mnemo/internal/persona"
	"github.com/quillback/mnemo/internal/prompt"
	"github.com/quillback/mnemo/internal/provider"
	"github.com/quillback/mnemo/internal/recall"
	"github.com/quillback/mnemo/internal/vectorstore"
)

func main() {
	_ = godotenv.Load()

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	logger.Info("Starting mnemo...")

	// Load configuration
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "configs/mnemo.json"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Fatal("failed to load config", zap.String("path", cfgPath), zap.Error(err))
	}
	logger.Info("Config loaded", zap.String("path", cfgPath))

	// Initialize provider router
	router := provider.NewRouter(logger)
	var generator api.Generator
	for _, pc := range cfg.Providers {
		provCfg := provider.Config{
			ID: pc.ID, Type: pc.Type, Name: pc.Name,
			Endpoint: pc.Endpoint, APIKey: pc.APIKey,
		}
		switch pc.Type {
		case "ollama":
			op := provider.NewOllamaProvider(provCfg, logger)
			router.Register(op)
			if generator == nil {
				generator = op
			}
		case "openai":
			router.Register(provider.NewOpenAIProvider(provCfg, logger))
		default:
			logger.Warn("unknown provider type", zap.String("id", pc.ID), zap.String("type", pc.Type))
		}
	}

	// Persona registry
	personaCfgs := cfg.Personas
	var personas []*persona.Persona
	if len(personaCfgs) == 0 {
		personas = persona.Defaults()
		logger.Info("No personas configured, using built-in catalogue")
	} else {
		for _, pc := range personaCfgs {
			personas = append(personas, &persona.Persona{
				ID: pc.ID, Name: pc.Name, Model: pc.Model,
				EmbeddingModel: pc.EmbeddingModel,
				Temperature:    pc.Temperature, MaxTokens: pc.MaxTokens,
				SystemPrompt: pc.SystemPrompt,
			})
			if pc.Provider != "" {
				router.Bind(pc.ID, pc.Provider)
			}
			if len(pc.Fallbacks) > 0 {
				router.SetFallbacks(pc.ID, pc.Fallbacks)
			}
		}
	}
	registry, err := persona.NewRegistry(personas)
	if err != nil {
		logger.Fatal("invalid persona catalogue", zap.Error(err))
	}

	// Initialize memory persistence
	var store memory.Storage = memory.UnavailableStorage{}
	var pgStore *memory.Store
	var metricsStore api.MetricsStore
	if cfg.Database.Postgres.DSN != "" {
		ms, pgErr := memory.NewStore(cfg.Database.Postgres.DSN, logger)
		if pgErr != nil {
			logger.Warn("PostgreSQL unavailable, memories are buffer-only", zap.Error(pgErr))
		} else {
			if mErr := ms.Migrate(context.Background(), "migrations"); mErr != nil {
				logger.Fatal("migration failed", zap.Error(mErr))
			}
			pgStore = ms
			store = ms
			metricsStore = analytics.NewStore(ms.Pool(), logger)
		}
	}

	// Initialize event bus
	var sink memory.EventSink
	var bus *events.Bus
	if cfg.Database.Redis.URL != "" {
		b, busErr := events.NewBus(cfg.Database.Redis.URL, logger)
		if busErr != nil {
			logger.Warn("Redis unavailable, running without event publishing", zap.Error(busErr))
		} else {
			bus = b
			sink = b
		}
	}

	// Memory manager
	memCfg := memory.DefaultManagerConfig()
	if cfg.Memory.BufferCap > 0 {
		memCfg.BufferCap = cfg.Memory.BufferCap
	}
	if d := time.Duration(cfg.Memory.SweepInterval); d > 0 {
		memCfg.SweepInterval = d
	}
	if d := time.Duration(cfg.Memory.ArchiveAfter); d > 0 {
		memCfg.ArchiveAfter = d
		memCfg.ArchiveMaxImportance = cfg.Memory.ArchiveMaxImportance
	}
	manager := memory.NewManager(store, memCfg, nil, sink, logger)

	// Optional semantic recall over Qdrant
	var vectors *vectorstore.Client
	if cfg.Database.Qdrant.Enabled {
		vc, vErr := vectorstore.NewClient(vectorstore.Config{
			Host: cfg.Database.Qdrant.Host,
			Port: cfg.Database.Qdrant.Port,
		})
		if vErr != nil {
			logger.Warn("Qdrant unavailable, running without semantic recall", zap.Error(vErr))
		} else {
			embedder := embedding.New(embedding.Config{
				Provider:  cfg.Embedding.Provider,
				Endpoint:  cfg.Embedding.Endpoint,
				Model:     cfg.Embedding.Model,
				APIKey:    cfg.Embedding.APIKey,
				Dimension: cfg.Embedding.Dimension,
			})
			collection := cfg.Database.Qdrant.Collection
			if collection == "" {
				collection = "mnemo_memories"
			}
			idx, rErr := recall.New(context.Background(), embedder, vc, collection, logger)
			if rErr != nil {
				logger.Warn("semantic recall disabled", zap.Error(rErr))
				vc.Close()
			} else {
				vectors = vc
				manager.SetSemanticIndex(idx)
				logger.Info("Semantic recall enabled", zap.String("collection", collection))
			}
		}
	}

	// Background sweeps: consolidation, idle buffers, archival
	bgCtx, bgCancel := context.WithCancel(context.Background())
	manager.StartBackground(bgCtx)

	// Build HTTP handler
	tokenBudget := cfg.Memory.TokenBudget
	handler := api.NewHandler(manager, registry, router, prompt.NewBuilder(tokenBudget), generator, metricsStore, logger)

	// Start server
	port := fmt.Sprintf("%d", cfg.Server.Port)
	if port == "0" {
		port = "8080"
	}
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: handler.Router(),
	}

	go func() {
		logger.Info("mnemo listening", zap.String("port", port))
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down mnemo...")
	bgCancel()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	srv.Shutdown(ctx)
	if bus != nil {
		bus.Close()
	}
	if vectors != nil {
		vectors.Close()
	}
	if pgStore != nil {
		pgStore.Close()
	}
}

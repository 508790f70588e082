package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/httprate"

	"github.com/fedutinova/shopgen/internal/catalog"
	appconfig "github.com/fedutinova/shopgen/internal/config"
	"github.com/fedutinova/shopgen/internal/database"
	"github.com/fedutinova/shopgen/internal/gemini"
	"github.com/fedutinova/shopgen/internal/generation"
	"github.com/fedutinova/shopgen/internal/gpt"
	"github.com/fedutinova/shopgen/internal/leonardo"
	"github.com/fedutinova/shopgen/internal/memq"
	"github.com/fedutinova/shopgen/internal/orchestrator"
	"github.com/fedutinova/shopgen/internal/ratelimit"
	"github.com/fedutinova/shopgen/internal/redis"
	"github.com/fedutinova/shopgen/internal/registry"
	"github.com/fedutinova/shopgen/internal/repository"
	"github.com/fedutinova/shopgen/internal/scheduler"
	"github.com/fedutinova/shopgen/internal/server"
	"github.com/fedutinova/shopgen/internal/storage"
	httpapi "github.com/fedutinova/shopgen/internal/transport/http"
)

func main() {
	cfg := appconfig.Load()
	appconfig.InitLogger(cfg)
	slog.Info("starting shopgen", "addr", cfg.HTTPAddr, "workers", cfg.QueueWorkers)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	handlers := &httpapi.Handlers{Config: cfg}

	var history orchestrator.GenerationRecorder
	if cfg.DatabaseURL != "" {
		db, err := database.NewDB(ctx, cfg.DatabaseURL)
		if err != nil {
			slog.Error("failed to connect to database", "err", err)
			os.Exit(1)
		}
		defer db.Close()
		if err := db.EnsureSchema(ctx); err != nil {
			slog.Error("failed to apply schema", "err", err)
			os.Exit(1)
		}
		repo := repository.New(db)
		history = repo
		handlers.History = repo
		handlers.DB = db
	} else {
		slog.Info("DATABASE_URL not set, generation history disabled")
	}

	var counter httprate.LimitCounter = ratelimit.NewMemoryCounter()
	if cfg.RedisURL != "" {
		redisService, err := redis.New(cfg.RedisURL)
		if err != nil {
			slog.Error("failed to connect to Redis", "err", err)
			os.Exit(1)
		}
		defer redisService.Close()
		counter = ratelimit.NewRedisCounter(redisService, "shopgen:ratelimit")
		handlers.Redis = redisService
	}
	handlers.Limit = ratelimit.Middleware(cfg.RateLimitRequests, cfg.RateLimitWindow, counter)

	storageService, err := storage.NewStorage(ctx, cfg)
	if err != nil {
		slog.Error("failed to initialize storage", "err", err)
		os.Exit(1)
	}
	slog.Info("storage initialized", "type", storage.GetStorageType(cfg))
	handlers.Storage = storageService

	hooks := []orchestrator.Hook{
		orchestrator.StorageHook{Publisher: storage.NewPublisher(storageService, storage.WithPresignedURLs(cfg.StoragePresignTTL))},
	}
	if cfg.ShopifyAccessToken != "" {
		cat := catalog.NewClient(cfg.ShopifyAPIVersion, cfg.ShopifyAccessToken)
		hooks = append(hooks, orchestrator.CatalogHook{Catalog: cat})
		handlers.Catalog = cat
	} else {
		slog.Warn("SHOPIFY_ACCESS_TOKEN not set, catalog attach disabled")
	}

	available, err := registerModels(ctx, cfg)
	if err != nil {
		slog.Error("failed to initialize generation vendors", "err", err)
		os.Exit(1)
	}
	if len(available.Available()) == 0 {
		slog.Warn("no generation vendor configured; set OPENAI_API_KEY, GEMINI_API_KEY or LEONARDO_API_KEY")
	}

	jobs := registry.New(cfg.JobRetention)
	batches := orchestrator.NewBatchStore(jobs.Retention(), nil)

	q := memq.NewMemoryQueue(cfg.QueueBuf, cfg.JobMaxDuration)
	q.Start(cfg.QueueWorkers)
	handlers.Tasks = q

	orch := orchestrator.New(jobs, available, q, batches, orchestrator.Config{
		Poller:           orchestrator.NewPoller(cfg.PollInterval, cfg.PollMaxAttempts),
		DefaultStrength:  cfg.DefaultStrength,
		BatchConcurrency: cfg.BatchConcurrency,
		MaxBatchItems:    cfg.MaxBatchItems,
		ItemTimeout:      cfg.JobMaxDuration,
		Hooks:            hooks,
		History:          history,
	})
	handlers.Gen = orch

	sweeps := scheduler.New(cfg.SweepInterval)
	if err := sweeps.Add("jobs", jobs); err != nil {
		slog.Error("failed to schedule job sweep", "err", err)
		os.Exit(1)
	}
	if err := sweeps.Add("batches", batches); err != nil {
		slog.Error("failed to schedule batch sweep", "err", err)
		os.Exit(1)
	}
	sweeps.Start()

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      server.NewRouter(handlers),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  90 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	<-ch
	slog.Info("shutting down")

	shCtx, shCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shCancel()
	_ = srv.Shutdown(shCtx)
	sweeps.Stop(shCtx)
	// cancels every running job; each still records its failure
	_ = q.Close()
	cancel()
}

// registerModels maps each model selector to a vendor client, skipping
// vendors without an API key.
func registerModels(ctx context.Context, cfg appconfig.Config) (*generation.Models, error) {
	m := generation.NewModels()
	if cfg.OpenAIAPIKey != "" {
		m.Register("dalle3", gpt.NewClient(cfg.OpenAIAPIKey, cfg.OpenAIVision))
	}
	if cfg.GeminiAPIKey != "" {
		c, err := gemini.NewClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			return nil, err
		}
		m.Register("gemini", c)
	}
	if cfg.LeonardoAPIKey != "" {
		m.Register("leonardo", leonardo.NewClient(cfg.LeonardoBaseURL, cfg.LeonardoAPIKey, cfg.LeonardoModelID))
	}
	slog.Info("generation models registered", "models", m.Available())
	return m, nil
}

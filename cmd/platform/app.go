package main

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/ollama/ollama/api"
	"github.com/redis/go-redis/v9"

	"github.com/medsum/platform/internal/extraction"
	"github.com/medsum/platform/internal/generation"
	"github.com/medsum/platform/internal/insight"
	"github.com/medsum/platform/internal/prompts"
	"github.com/medsum/platform/internal/shared/config"
	"github.com/medsum/platform/internal/shared/events"
	"github.com/medsum/platform/internal/shared/logger"
	"github.com/medsum/platform/internal/storage"
)

// App holds all application dependencies
type App struct {
	Config *config.Config
	Log    *logger.Logger

	Stores *storage.Stores
	Events events.Publisher
	Redis  *redis.Client
	Queue  insight.Queue

	Coordinator *insight.Coordinator
	Aggregator  *insight.Aggregator
	Dispatcher  *insight.Dispatcher

	closers []func()
}

// newApp wires every component from cfg. Nothing talks to the model
// server until a pipeline runs.
func newApp(ctx context.Context, cfg *config.Config, log *logger.Logger, migrate bool) (_ *App, err error) {
	app := &App{Config: cfg, Log: log}
	defer func() {
		if err != nil {
			app.Close()
		}
	}()

	app.Stores, err = storage.Open(ctx, cfg, migrate, log)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	app.closers = append(app.closers, app.Stores.Close)

	app.Events = events.Noop{}
	if cfg.KurrentDB.Enabled {
		bus, err := events.NewBus(cfg.KurrentDB)
		if err != nil {
			return nil, err
		}
		app.Events = bus
		app.closers = append(app.closers, func() { bus.Close() })
		log.Info("KurrentDB event bus initialized", "host", cfg.KurrentDB.Host, "port", cfg.KurrentDB.Port)
	}

	if cfg.Queue.Driver == "redis" || cfg.Redis.FragmentsChannel != "" {
		app.Redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		app.closers = append(app.closers, func() { app.Redis.Close() })
	}

	switch cfg.Queue.Driver {
	case "redis":
		app.Queue = insight.NewRedisQueue(app.Redis, cfg.Queue.RedisKey, cfg.Queue.Capacity)
	default:
		app.Queue = insight.NewMemoryQueue(cfg.Queue.Capacity)
	}
	app.closers = append(app.closers, func() { app.Queue.Close() })

	set, err := prompts.Load(cfg.Prompts)
	if err != nil {
		return nil, err
	}

	ollama, err := newOllamaClient(cfg.Ollama.Host)
	if err != nil {
		return nil, err
	}

	extractor, err := app.newExtractor(ctx, ollama, set.Extraction)
	if err != nil {
		return nil, err
	}

	generator := generation.NewOllamaGenerator(generation.Config{
		Client:    ollama,
		Model:     cfg.Ollama.TextModel,
		KeepAlive: cfg.Ollama.KeepAlive,
		Logger:    log,
	})

	sink := insight.MultiSink{insight.NewLogSink(log)}
	if cfg.Redis.FragmentsChannel != "" {
		sink = append(sink, insight.NewRedisSink(app.Redis, cfg.Redis.FragmentsChannel))
	}

	app.Coordinator = insight.NewCoordinator(insight.CoordinatorConfig{
		Documents: app.Stores.Documents,
		Insights:  app.Stores.Insights,
		Extractor: extractor,
		Generator: generator,
		Prompt:    set.Insight,
		Sink:      sink,
		Events:    app.Events,
		Retry: insight.RetryPolicy{
			Enabled:     cfg.Insights.RetryFailed,
			MaxAttempts: cfg.Insights.MaxAttempts,
		},
		Logger: log,
	})

	app.Aggregator = insight.NewAggregator(insight.AggregatorConfig{
		Documents: app.Stores.Documents,
		Users:     app.Stores.Users,
		Generator: generator,
		Prompt:    set.PatientSummary,
		Sink:      sink,
		Events:    app.Events,
		Logger:    log,
	})

	app.Dispatcher = insight.NewDispatcher(app.Queue, app.Coordinator, cfg.Queue.Workers, log)

	return app, nil
}

func (a *App) newExtractor(ctx context.Context, client *api.Client, prompt string) (insight.Extractor, error) {
	cfg := a.Config.Extraction
	resolver := extraction.NewResolver(cfg.UploadsRoot)

	if cfg.Driver == "documentai" {
		ex, err := extraction.NewDocumentAIExtractor(ctx, extraction.DocumentAIConfig{
			ProjectID:   cfg.DocAIProject,
			Location:    cfg.DocAILoc,
			ProcessorID: cfg.DocAIProc,
		}, resolver, a.Log)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() { ex.Close() })
		return ex, nil
	}

	return extraction.NewVisionExtractor(extraction.VisionConfig{
		Client:    client,
		Model:     a.Config.Ollama.VisionModel,
		Prompt:    prompt,
		Renderer:  extraction.NewPdftoppmRenderer(cfg.PDFRenderer, cfg.PDFDPI, nil),
		Resolver:  resolver,
		KeepAlive: a.Config.Ollama.KeepAlive,
		Logger:    a.Log,
	}), nil
}

func newOllamaClient(host string) (*api.Client, error) {
	base, err := url.Parse(host)
	if err != nil {
		return nil, fmt.Errorf("invalid OLLAMA_HOST %q: %w", host, err)
	}
	return api.NewClient(base, http.DefaultClient), nil
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/BaSui01/patentflow/api"
	"github.com/BaSui01/patentflow/api/handlers"
	"github.com/BaSui01/patentflow/classify"
	"github.com/BaSui01/patentflow/config"
	"github.com/BaSui01/patentflow/internal/cache"
	"github.com/BaSui01/patentflow/internal/database"
	"github.com/BaSui01/patentflow/internal/metrics"
	"github.com/BaSui01/patentflow/internal/pool"
	"github.com/BaSui01/patentflow/internal/server"
	"github.com/BaSui01/patentflow/internal/state"
	"github.com/BaSui01/patentflow/llm"
	"github.com/BaSui01/patentflow/llm/embedding"
	"github.com/BaSui01/patentflow/llm/providers"
	"github.com/BaSui01/patentflow/taxonomy"
)

// Application 聚合服务的全部组件，Close 按依赖逆序释放。
type Application struct {
	Server *server.Manager

	cache *cache.Manager
	pool  *pool.Pool
	db    *database.Store
}

// buildApplication 按配置组装整个服务。
func buildApplication(cfg *config.Config, logger *zap.Logger) (*Application, error) {
	cacheManager, err := cache.NewManager(cache.Config{
		Addr:         cfg.Redis.Addr,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		DefaultTTL:   state.KeyTTL,
		MaxRetries:   3,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: 2,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
		return nil, fmt.Errorf("create database dir: %w", err)
	}
	db, err := database.Open(cfg.Database.Path, logger)
	if err != nil {
		return nil, err
	}

	registry := llm.NewRegistry()
	registry.Register(providers.NewOpenAIProvider(providers.Config{
		APIKey:  cfg.LLM.OpenAI.APIKey,
		BaseURL: cfg.LLM.OpenAI.BaseURL,
		Model:   cfg.LLM.OpenAI.Model,
		Timeout: cfg.LLM.OpenAI.Timeout,
	}, logger))
	registry.Register(providers.NewClaudeProvider(providers.Config{
		APIKey:  cfg.LLM.Claude.APIKey,
		BaseURL: cfg.LLM.Claude.BaseURL,
		Model:   cfg.LLM.Claude.Model,
		Timeout: cfg.LLM.Claude.Timeout,
	}, logger))
	registry.Register(providers.NewGeminiProvider(providers.Config{
		APIKey:  cfg.LLM.Gemini.APIKey,
		BaseURL: cfg.LLM.Gemini.BaseURL,
		Model:   cfg.LLM.Gemini.Model,
		Timeout: cfg.LLM.Gemini.Timeout,
	}, logger))
	registry.Register(providers.NewGrokProvider(providers.Config{
		APIKey:  cfg.LLM.Grok.APIKey,
		BaseURL: cfg.LLM.Grok.BaseURL,
		Model:   cfg.LLM.Grok.Model,
		Timeout: cfg.LLM.Grok.Timeout,
	}, logger))

	embedder := embedding.NewOpenAIProvider(embedding.OpenAIConfig{
		APIKey:  cfg.LLM.Embedding.APIKey,
		BaseURL: cfg.LLM.Embedding.BaseURL,
		Model:   cfg.LLM.Embedding.Model,
		Timeout: cfg.LLM.Embedding.Timeout,
	})

	taxonomies := taxonomy.NewAdapter(cacheManager, embedder, cfg.Pipeline.IndexDir, logger)

	rowStore, err := classify.NewRowStore(cfg.Pipeline.RowDir)
	if err != nil {
		return nil, err
	}
	artifacts, err := classify.NewArtifactWriter(cfg.Pipeline.ArtifactDir)
	if err != nil {
		return nil, err
	}

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.New(promRegistry)

	taskPool := pool.New(pool.Config{
		MaxWorkers: cfg.Pipeline.MaxWorkers,
		QueueSize:  cfg.Pipeline.QueueSize,
	})

	stateStore := state.NewStore(cacheManager, logger)
	coordinator := classify.NewCoordinator(registry, taxonomies, stateStore, rowStore, taskPool, artifacts, collector, logger)
	if name := cfg.Pipeline.ReasoningLLM; name != "" {
		reasoner, err := registry.ByName(name)
		if err != nil {
			return nil, fmt.Errorf("resolve reasoning llm: %w", err)
		}
		coordinator.UseReasoningBackend(reasoner)
	}

	routerHandlers := api.Handlers{
		Session:  handlers.NewSessionHandler(rowStore, taxonomies, logger),
		Pipeline: handlers.NewPipelineHandler(coordinator, registry, logger),
		Progress: handlers.NewProgressHandler(stateStore, logger),
		Results:  handlers.NewResultsHandler(stateStore, artifacts, db, registry, logger),
		Health:   handlers.NewHealthHandler(cacheManager, Version, logger),
	}
	router := Chain(api.NewRouter(routerHandlers, promRegistry),
		Recovery(logger),
		RequestLogger(logger),
	)

	srv := server.NewManager(router, server.Config{
		Addr:            cfg.Server.Addr,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		IdleTimeout:     cfg.Server.IdleTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}, logger)

	return &Application{
		Server: srv,
		cache:  cacheManager,
		pool:   taskPool,
		db:     db,
	}, nil
}

// Close 释放全部资源。
func (a *Application) Close() {
	a.pool.Close()
	if a.db != nil {
		_ = a.db.Close()
	}
	if a.cache != nil {
		_ = a.cache.Close()
	}
}

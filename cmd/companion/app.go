package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/zhouzirui/serenity/backend/internal/config"
	"github.com/zhouzirui/serenity/backend/internal/logging"
	"github.com/zhouzirui/serenity/backend/internal/model/settings"
	"github.com/zhouzirui/serenity/backend/internal/service/ai"
	"github.com/zhouzirui/serenity/backend/internal/service/chat"
	"github.com/zhouzirui/serenity/backend/internal/service/image"
	"github.com/zhouzirui/serenity/backend/internal/service/intent"
	"github.com/zhouzirui/serenity/backend/internal/service/news"
	"github.com/zhouzirui/serenity/backend/internal/storage"
)

// app holds the wired services shared by every subcommand.
type app struct {
	cfg     *config.Config
	log     *zap.Logger
	db      *storage.SQLite
	hub     *chat.Hub
	holder  *settings.Holder
	news    *news.Client
	manager *chat.Manager
}

func newApp(ctx context.Context, opts *rootOptions) (*app, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if opts.dbPath != "" {
		cfg.Storage.Path = opts.dbPath
	}

	logger, err := logging.New(opts.verbose)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, log: logger, hub: chat.NewHub()}

	var (
		kv     storage.KV
		images storage.ImageStore
	)
	if opts.ephemeral {
		mem := storage.NewMemory()
		kv, images = mem, mem.Images()
		logger.Info("using in-memory storage")
	} else {
		db, err := storage.OpenSQLite(cfg.Storage.Path)
		if err != nil {
			return nil, err
		}
		a.db = db
		kv, images = db, db.Images()
		logger.Info("storage opened", zap.String("path", cfg.Storage.Path))
	}

	store := storage.NewAdapter(kv, logger)
	a.holder = settings.NewHolder(chat.LoadSettings(store, logger))

	completer := a.buildCompleter(ctx)
	if cfg.Keys.OpenRouterKey(a.holder.Get()) == "" && cfg.Keys.Gemini == "" && !cfg.AI.ArkEnabled() {
		logger.Warn("no chat provider key configured; replies will ask for API keys",
			zap.Int("providers", completer.Len()))
	}

	imageClient := image.NewClient(
		cfg.Image.Endpoint(),
		func() string { return cfg.Keys.HuggingFaceKey(a.holder.Get()) },
		&http.Client{Timeout: cfg.Image.Timeout},
		cfg.Image.MinInterval,
	)

	a.news = news.NewClient(
		news.Config{
			URL:          cfg.News.URL,
			Language:     cfg.News.Language,
			Max:          cfg.News.Max,
			DefaultQuery: cfg.News.DefaultQuery,
		},
		func() string { return cfg.Keys.GNewsKey(a.holder.Get()) },
		func() time.Duration { return a.holder.Get().NewsWindow() },
		store,
		&http.Client{Timeout: cfg.News.Timeout},
		logger,
	)

	a.manager = chat.NewManager(chat.Deps{
		Store:      store,
		Images:     images,
		Settings:   a.holder,
		Completer:  completer,
		Classifier: intent.NewClassifier(completer, logger),
		Imager:     imageClient,
		News:       a.news,
		Events:     a.hub,
		Logger:     logger,
	})
	return a, nil
}

// buildCompleter assembles the provider fallback chain: OpenRouter, then
// Gemini, then Ark when configured.
func (a *app) buildCompleter(ctx context.Context) *ai.Chain {
	cfg := a.cfg
	httpClient := &http.Client{Timeout: cfg.AI.Timeout}

	chain := ai.NewChain(a.log)
	chain.Add("openrouter", ai.Retrying{Completer: ai.NewOpenRouter(
		ai.OpenRouterConfig{
			URL:     cfg.AI.OpenRouterURL,
			Model:   cfg.AI.OpenRouterModel,
			Referer: cfg.AI.Referer,
			Title:   cfg.AI.AppTitle,
		},
		func() string { return cfg.Keys.OpenRouterKey(a.holder.Get()) },
		httpClient,
	)})
	chain.Add("gemini", ai.Retrying{Completer: ai.NewGemini(
		cfg.AI.GeminiModel,
		func() string { return cfg.Keys.Gemini },
	)})

	if !cfg.AI.ArkEnabled() {
		a.log.Debug("Ark credentials not configured, skipping Ark fallback")
		return chain
	}
	chatModel, err := cfg.AI.NewArkChatModel(ctx)
	if err != nil {
		a.log.Warn("failed to initialize Ark chat model", zap.Error(err))
		return chain
	}
	ark, err := ai.NewArk(ctx, chatModel)
	if err != nil {
		a.log.Warn("failed to build Ark chain", zap.Error(err))
		return chain
	}
	chain.Add("ark", ark)
	return chain
}

func (a *app) Close() {
	if a.manager != nil {
		a.manager.Close()
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.log.Warn("failed to close storage", zap.Error(err))
		}
	}
	_ = a.log.Sync()
}

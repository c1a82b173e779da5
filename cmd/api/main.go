package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/studypilot/backend/internal/api"
	"github.com/studypilot/backend/internal/chat"
	"github.com/studypilot/backend/internal/knowledge"
	"github.com/studypilot/backend/internal/llm"
	"github.com/studypilot/backend/internal/metrics"
	"github.com/studypilot/backend/internal/middleware/ratelimit"
	"github.com/studypilot/backend/internal/middleware/validation"
	"github.com/studypilot/backend/internal/query"
	"github.com/studypilot/backend/internal/stats"
	"github.com/studypilot/backend/pkg/config"
	appLogger "github.com/studypilot/backend/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	err = appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()

	appLogger.Info("Starting Study Pilot API Server")

	metrics.Init()

	store := knowledge.Default()
	if cfg.Engine.KnowledgeFile != "" {
		store, err = knowledge.LoadFile(cfg.Engine.KnowledgeFile)
		if err != nil {
			appLogger.Fatal("Failed to load knowledge file",
				zap.String("path", cfg.Engine.KnowledgeFile),
				zap.Error(err),
			)
		}
	}

	engineCfg := query.DefaultConfig()
	engineCfg.DelayMin = time.Duration(cfg.Engine.DelayMinMS) * time.Millisecond
	engineCfg.DelayMax = time.Duration(cfg.Engine.DelayMaxMS) * time.Millisecond
	engineCfg.HistoryWindow = cfg.Engine.HistoryWindow
	engine := query.NewEngine(store, engineCfg)

	recorder, err := stats.Open(cfg)
	if err != nil {
		appLogger.Fatal("Failed to open statistics backend", zap.Error(err))
	}
	defer recorder.Close()

	sessions := chat.NewSessionStore(
		time.Duration(cfg.Session.TTLMinutes)*time.Minute,
		time.Duration(cfg.Session.CleanupMinutes)*time.Minute,
		cfg.Engine.HistoryWindow,
		cfg.Session.MaxActiveSessions,
	)

	opts := chat.Options{AllowedMIMETypes: cfg.Validation.AllowedMIMETypes}
	if cfg.LLM.Enabled() {
		opts.Cloud = llm.NewClient(llm.Config{
			APIKey:      cfg.LLM.APIKey,
			BaseURL:     cfg.LLM.BaseURL,
			Model:       cfg.LLM.Model,
			Temperature: cfg.LLM.Temperature,
			MaxTokens:   cfg.LLM.MaxTokens,
			Timeout:     time.Duration(cfg.LLM.TimeoutSec) * time.Second,
			MaxRetries:  cfg.LLM.MaxRetries,
		})
		appLogger.Info("Cloud answering enabled", zap.String("model", cfg.LLM.Model))
	} else {
		appLogger.Info("No API key configured, answering from the local knowledge base only")
	}

	service := chat.NewService(engine, sessions, recorder, opts)

	validator := validation.New(validation.Config{
		MaxQueryLength: cfg.Validation.MaxQueryLength,
		MaxAttachments: cfg.Validation.MaxAttachments,
		Logger:         appLogger.GetLogger(),
	})

	var limiter *ratelimit.RateLimiter
	if cfg.RateLimit.Enabled {
		limiter = ratelimit.New(ratelimit.Config{
			MaxRequestsPerMinute: cfg.RateLimit.MaxRequestsPerMinute,
			Logger:               appLogger.GetLogger(),
		})
	}

	app := api.NewApp(api.Deps{
		Service:        service,
		Store:          store,
		Recorder:       recorder,
		Validator:      validator,
		RateLimiter:    limiter,
		CloudEnabled:   opts.Cloud != nil,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Development:    cfg.Server.Development,
		ReadTimeout:    time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout:   time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:      cfg.Server.BodyLimit,
		AccessLog:      true,
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	appLogger.Info("Server starting", zap.String("address", addr))

	go func() {
		if err := app.Listen(addr); err != nil {
			appLogger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("Server shutting down gracefully...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.ShutdownWithContext(ctx); err != nil {
		appLogger.Error("Server shutdown failed", zap.Error(err))
	}
	service.Flush()

	appLogger.Info("Server stopped")
}

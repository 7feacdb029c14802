package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/xaenox/medichat/internal/answer"
	"github.com/xaenox/medichat/internal/auth"
	"github.com/xaenox/medichat/internal/bot"
	"github.com/xaenox/medichat/internal/chat"
	"github.com/xaenox/medichat/internal/controller"
	"github.com/xaenox/medichat/internal/events"
	"github.com/xaenox/medichat/internal/pkg/logger"
	"github.com/xaenox/medichat/internal/repository"
	"github.com/xaenox/medichat/internal/server"
	"github.com/xaenox/medichat/internal/storage"
	"github.com/xaenox/medichat/internal/tracer"
	"github.com/xaenox/medichat/internal/websocket"
	"github.com/xaenox/medichat/pkg/config"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the config file")
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		zap.NewExample().Fatal("Failed to load config", zap.Error(err), zap.String("path", *configPath))
	}

	// Initialize logger
	log, err := logger.New(logger.Config{
		Level:       cfg.Log.Level,
		File:        cfg.Log.File,
		MaxSizeMB:   10,
		MaxBackups:  5,
		MaxAgeDays:  30,
		Development: cfg.Log.Development,
	})
	if err != nil {
		zap.NewExample().Fatal("Failed to build logger", zap.Error(err))
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := tracer.Init(ctx, tracer.Config{
		Enabled:     cfg.Tracing.Enabled,
		Endpoint:    cfg.Tracing.Endpoint,
		ServiceName: "medichat",
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize tracer", zap.Error(err))
	}

	// Initialize storage
	store, err := openStorage(cfg.Database, log)
	if err != nil {
		log.Fatal("Failed to initialize storage", zap.Error(err))
	}

	// Initialize answer service
	var answerer answer.Answerer
	if cfg.Answer.Provider == "openai" && cfg.OpenAI.APIKey != "" {
		answerer = answer.NewOpenAIAnswerer(answer.OpenAIConfig{
			APIKey:      cfg.OpenAI.APIKey,
			BaseURL:     cfg.OpenAI.BaseURL,
			Model:       cfg.OpenAI.Model,
			MaxTokens:   cfg.OpenAI.MaxTokens,
			Temperature: cfg.OpenAI.Temperature,
		}, log)
		log.Info("Using OpenAI answers", zap.String("model", cfg.OpenAI.Model))
	} else {
		answerer = answer.NewOfflineAnswerer()
		log.Info("Using offline answers")
	}
	answerer = answer.WithTimeout(answerer, cfg.Answer.Timeout)

	tokens, err := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.TokenTTL)
	if err != nil {
		log.Fatal("Failed to initialize tokens", zap.Error(err))
	}

	bus := events.NewBus(log)
	stream, err := bus.Subscribe(ctx)
	if err != nil {
		log.Fatal("Failed to subscribe to session events", zap.Error(err))
	}
	hub := websocket.NewHub(log)
	go hub.Run(ctx, stream)

	repo := repository.New(store, log)
	chatService := chat.NewService(repo, answerer, log, chat.WithPublisher(bus))
	authService := auth.NewService(store, tokens, log)

	srv := server.New(server.Config{
		Addr:               cfg.Server.Addr,
		CorsAllowedOrigins: cfg.Server.CorsAllowedOrigins,
		ReadTimeout:        cfg.Server.ReadTimeout,
		WriteTimeout:       cfg.Server.WriteTimeout,
		Tracing:            cfg.Tracing.Enabled,
	}, server.Deps{
		Verifier: authService,
		Auth:     controller.NewAuthController(authService),
		Profile:  controller.NewProfileController(repo),
		Chat:     controller.NewChatController(repo, chatService, hub),
	}, log)

	errCh := make(chan error, 2)
	go func() {
		errCh <- srv.Run()
	}()

	if cfg.Telegram.Token != "" {
		b, err := bot.New(cfg.Telegram.Token, store, repo, chatService, log)
		if err != nil {
			log.Fatal("Failed to create bot", zap.Error(err))
		}
		go func() {
			errCh <- b.Start(ctx)
		}()
	}

	select {
	case <-ctx.Done():
		log.Info("Shutting down")
	case err := <-errCh:
		if err != nil {
			log.Error("Component stopped", zap.Error(err))
		}
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Failed to stop HTTP server", zap.Error(err))
	}
	if err := bus.Close(); err != nil {
		log.Error("Failed to close event bus", zap.Error(err))
	}
	if err := store.Close(); err != nil {
		log.Error("Failed to close storage", zap.Error(err))
	}
	if err := shutdownTracer(shutdownCtx); err != nil {
		log.Error("Failed to stop tracer", zap.Error(err))
	}
}

func openStorage(cfg config.DatabaseConfig, log *zap.Logger) (storage.Storage, error) {
	if cfg.Driver == "memory" {
		log.Info("Using in-memory storage")
		return storage.NewMemoryStorage(), nil
	}

	log.Info("Using SQL storage", zap.String("driver", cfg.Driver))
	return storage.NewSQLStorage(storage.DatabaseConfig{
		Driver:   cfg.Driver,
		Path:     cfg.Path,
		Host:     cfg.Host,
		Port:     cfg.Port,
		User:     cfg.User,
		Password: cfg.Password,
		DBName:   cfg.DBName,
		SSLMode:  cfg.SSLMode,
	}, log)
}

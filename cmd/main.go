package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/pelatih-ai/pelatih/server/adapters/tts"
	"github.com/pelatih-ai/pelatih/server/internal/api"
	"github.com/pelatih-ai/pelatih/server/internal/auth"
	"github.com/pelatih-ai/pelatih/server/internal/avatar"
	"github.com/pelatih-ai/pelatih/server/internal/config"
)

func main() {
	// Initialize logger
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	// Load environment variables from .env when present
	godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Invalid configuration", zap.Error(err))
	}

	// Create Echo instance
	e := echo.New()

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	// Initialize the text-to-speech adapter
	synthesizer, err := tts.NewMinimaxTTS(tts.NewMinimaxConfigFromEnv(), logger)
	if err != nil {
		logger.Fatal("Failed to initialize TTS adapter", zap.Error(err))
	}

	// Initialize the avatar session core
	interrupts := avatar.NewInterruptStore()
	manager := avatar.NewManager(cfg.AvatarServiceURL, interrupts, logger)
	pacer := avatar.NewPacer(manager, synthesizer, interrupts, logger)

	// Drain avatar speaking-state events for observability
	go func() {
		for event := range manager.Events() {
			logger.Info("Avatar speaking state changed",
				zap.String("sessionID", event.SessionID),
				zap.String("status", event.Status))
		}
	}()

	// Initialize API routes
	authenticator := auth.NewAuthenticator(cfg.JWTSecret)
	api.InitRoutes(e, cfg, manager, pacer, authenticator, logger)

	// Graceful shutdown
	go func() {
		if err := e.Start(":" + cfg.Port); err != nil && err != http.ErrServerClosed {
			logger.Fatal("shutting down the server", zap.Error(err))
		}
	}()

	logger.Info("Server started", zap.String("port", cfg.Port))

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("Server is shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.Shutdown(ctx); err != nil {
		logger.Fatal("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited")
}

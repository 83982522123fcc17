package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gitent/internal/api"
	"gitent/internal/config"
	"gitent/internal/engine"
	"gitent/internal/logging"

	"go.uber.org/zap"
)

func main() {
	// Load configuration
	cfg, err := config.Load(os.Getenv("GITENT_CONFIG"))
	if err != nil {
		log.Fatal("failed to load config:", err)
	}

	// Initialize logger
	logger, err := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatal("failed to initialize logger:", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	e := engine.New(cfg, logger.Logger)
	defer func() {
		if err := e.Close(); err != nil {
			logger.Error("closing sessions", zap.Error(err))
		}
	}()

	h := api.NewHandler(e, logger)

	switch cfg.Server.Transport {
	case "http":
		err = serveHTTP(ctx, cfg, h, logger)
	default:
		logger.Info("serving on stdio")
		// unblock the line reader on shutdown
		go func() {
			<-ctx.Done()
			os.Stdin.Close()
		}()
		err = h.Serve(ctx, os.Stdin, os.Stdout)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("server failed", zap.Error(err))
		os.Exit(1)
	}
}

func serveHTTP(ctx context.Context, cfg *config.Config, h *api.Handler, logger *logging.Logger) error {
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{Addr: addr, Handler: h.Routes()}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("shutdown", zap.Error(err))
		}
	}()

	logger.Info("starting server", zap.String("address", addr))
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

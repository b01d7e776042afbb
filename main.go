package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"order-fulfillment/app"
	"order-fulfillment/config"
)

const shutdownTimeout = 15 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Configuration error: %v", err)
	}
	gin.SetMode(gin.ReleaseMode)

	container, err := app.NewContainer(ctx, cfg)
	if err != nil {
		log.Fatalf("Service initialization failed: %v", err)
	}
	logger := container.Logger

	if err := container.StartConsumers(ctx); err != nil {
		logger.Error("Failed to start order consumer", zap.Error(err))
		container.Shutdown(context.Background())
		os.Exit(1)
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           container.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Order fulfillment service starting",
			zap.String("port", cfg.Port),
			zap.String("storage", cfg.StorageDriver),
			zap.String("broker", cfg.EventBroker),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server failed", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown failed", zap.Error(err))
	}
	container.Shutdown(shutdownCtx)
}

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"busticket/cmd/consumers/jobs"
	"busticket/internal/config"
	"busticket/internal/consumers"
	"busticket/internal/logger"
)

func main() {
	cfg := config.Load()
	logger.Init(cfg.LogLevel, cfg.LogFormat)
	log := logger.Get()

	log.Info("Starting consumers service...")

	// Override NATS client ID for consumers
	cfg.NATS.ClientID = "busticket-consumers"

	consumerService, err := consumers.NewConsumerService(cfg)
	if err != nil {
		logger.Fatal("Failed to create consumer service", "error", err)
	}

	if err := consumerService.Start(); err != nil {
		logger.Fatal("Failed to start consumers", "error", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	services := consumerService.Services()

	expiration := jobs.NewReservationExpirationJob(services.Settlement, cfg.ReservationExpiryInterval, cfg.Service.ExpiryBatchSize)
	expiration.Start(ctx)

	reconciliation := jobs.NewRefundReconciliationJob(services.Refunds, cfg.RefundReconcileInterval, cfg.Service.ExpiryBatchSize)
	reconciliation.Start(ctx)

	log.Info("Consumers service started successfully")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down consumers service...")

	expiration.Stop()
	reconciliation.Stop()
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := consumerService.Shutdown(shutdownCtx); err != nil {
		log.Error("Error during shutdown", "error", err)
	}

	log.Info("Consumers service stopped")
}

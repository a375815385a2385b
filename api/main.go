package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"log-guard/api/internal/handlers"
	"log-guard/api/internal/storage"
	"log-guard/internal/app"
	"log-guard/internal/utils"
)

func main() {
	var (
		configFile = flag.String("config", utils.DefaultConfigPath, "Configuration file path (YAML)")
		port       = flag.String("port", "", "API server port (overrides api.port)")
	)
	flag.Parse()

	config, err := utils.LoadConfig(*configFile)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *port != "" {
		config.API.Port = *port
	}

	logger, err := utils.NewLoggerFromConfig(config.Logging)
	if err != nil {
		logger.Warnf("File logging disabled: %v", err)
	}

	a, err := app.New(config, logger)
	if err != nil {
		logger.Fatalf("Failed to build engine: %v", err)
	}
	defer a.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := a.StartBackground(ctx); err != nil {
		logger.Warnf("Prometheus exporter disabled: %v", err)
	}

	hub := storage.NewStorage(5000, 1000, logger)
	go a.ForwardAlerts(ctx, hub.AddAlert)

	h := handlers.NewHandlers(a.Controller, hub, a.Memory, logger)
	router := handlers.NewRouter(h)

	addr := fmt.Sprintf(":%s", config.API.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
	}

	logger.Infof("API server starting on port %s", config.API.Port)

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan
		logger.Info("Shutting down API server...")
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Errorf("Server shutdown error: %v", err)
		}
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("Server failed: %v", err)
	}
}

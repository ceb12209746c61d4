package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"bankbridge/internal/shared/config"
	"bankbridge/internal/shared/telemetry"
)

const shutdownTimeout = 30 * time.Second

func main() {
	if err := run(); err != nil {
		log.Fatalf("Application error: %v", err)
	}
}

func run() error {
	startedAt := time.Now()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	if cfg.Telemetry.Enabled {
		shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
			ServiceName:  cfg.Telemetry.ServiceName,
			OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
			MetricsPort:  cfg.Telemetry.MetricsPort,
		})
		if err != nil {
			return err
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdownTelemetry(ctx); err != nil {
				log.Printf("Telemetry shutdown: %v", err)
			}
		}()
	}

	deps, err := NewDependencies(cfg, startedAt)
	if err != nil {
		return err
	}
	defer deps.Close()

	if deps.Tenants.Len() == 0 {
		log.Printf("Warning: no tenants configured (set %s<TENANT>_CLIENT_ID or TENANTS_FILE)", config.TenantEnvPrefix)
	}

	if deps.Scheduler != nil {
		deps.Scheduler.Start()
	} else {
		log.Println("Scheduler is disabled")
	}

	handler := SetupRoutes(deps, cfg)
	errc := make(chan error, 1)
	srv := StartServer(NewServerConfigFromConfig(handler, cfg), errc)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
	case err = <-errc:
		log.Printf("Server error: %v", err)
	}

	GracefulShutdown(srv, deps.Scheduler, shutdownTimeout)
	return err
}

package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/siqueiraa/kpublish/pkg/avro"
	"github.com/siqueiraa/kpublish/pkg/config"
	"github.com/siqueiraa/kpublish/pkg/kafka"
	"github.com/siqueiraa/kpublish/pkg/metrics"
	"github.com/siqueiraa/kpublish/pkg/publish"
	"github.com/siqueiraa/kpublish/pkg/server"
)

func runServe(ctx context.Context, configPath string) error {
	log.Println("[Engine] Starting kpublish...")

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	rec := metrics.NewRecorder()
	provider := kafka.NewProvider(kafka.NewFactory(cfg, rec), cfg.Producer.DialTimeout, rec)
	svc := publish.NewService(avro.NewConverter(), provider, rec, cfg.Log.Debug)
	e := server.New(svc, rec, cfg.Server, cfg.Log.Debug)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Printf("[Engine] Listening on %s (driver=%s)", cfg.Server.Addr, cfg.Producer.Driver)
		if err := e.Start(cfg.Server.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		log.Println("[Engine] Shutting down...")
	case err := <-errCh:
		if err != nil {
			_ = provider.Close()
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Printf("[Engine] HTTP shutdown: %v", err)
	}
	if err := provider.Close(); err != nil {
		log.Printf("[Engine] Failed to close producers: %v", err)
	}
	log.Println("[Engine] Stopped")
	return nil
}

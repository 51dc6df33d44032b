package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/siddharthggs/mediggs-sub000/internal/observability"
)

// serveMetrics exposes /metrics until ctx ends. An empty addr disables it.
func serveMetrics(ctx context.Context, addr string, metrics *observability.Metrics, logger *slog.Logger) error {
	if addr == "" {
		<-ctx.Done()
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting worker metrics server", slog.String("addr", addr))
		errCh <- server.ListenAndServe()
	}()
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

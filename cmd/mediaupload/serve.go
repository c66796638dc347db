package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/stefando/mediaupload/internal/api"
	"github.com/stefando/mediaupload/internal/metrics"
	"github.com/stefando/mediaupload/internal/upload"
)

// Serve runs the HTTP API until ctx is cancelled, then drains in-flight
// requests for up to server.shutdown_timeout.
func (r *Runner) Serve(ctx context.Context, cmd *cli.Command) error {
	cfg := r.config
	if port := cmd.Int("port"); port > 0 {
		cfg.Server.Port = port
	}

	m := metrics.New()
	svc, err := r.service(ctx, upload.WithRecorder(m))
	if err != nil {
		return err
	}

	router := api.NewRouter(svc, api.Options{
		Logger:       r.logger,
		Metrics:      m,
		MaxPartBytes: cfg.Upload.MaxPartBytes,
	})
	srv := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		r.logger.Info("server listening", "addr", srv.Addr, "bucket", cfg.Storage.Bucket)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server stopped: %w", err)
	case <-ctx.Done():
	}

	r.logger.Info("shutting down", "timeout", cfg.Server.ShutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}
	return <-errCh
}

package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"labos/pkg/domain"
)

const shutdownGrace = 10 * time.Second

// Serve runs the HTTP server until the context is cancelled, then
// drains in-flight requests.
func Serve(ctx context.Context, addr string, handler http.Handler, logger domain.Logger) error {
	if logger == nil {
		logger = domain.NopLogger{}
	}
	server := &http.Server{Addr: addr, Handler: handler}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http api listening", "addr", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http api: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("http api shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http api shutdown: %w", err)
	}
	return <-errCh
}

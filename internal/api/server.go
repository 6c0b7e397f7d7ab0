package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"checkin-go/internal/scanner"
)

// Serve runs an HTTP server on ln until ctx is done, then shuts it down.
func Serve(ctx context.Context, ln net.Listener, handler http.Handler, logger scanner.Logger) error {
	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("kiosk api listening", "addr", ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serving api: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down api: %w", err)
	}
	logger.Info("kiosk api stopped")
	return nil
}

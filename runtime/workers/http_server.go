package workers

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
)

// HTTPServerWorker serves app until ctx is canceled, then shuts it down
// within shutdownTimeout. A failing Listen is reported to the supervisor.
type HTTPServerWorker struct {
	log             *slog.Logger
	app             *fiber.App
	address         string
	shutdownTimeout time.Duration
}

func NewHTTPServerWorker(log *slog.Logger, app *fiber.App, address string, shutdownTimeout time.Duration) *HTTPServerWorker {
	return &HTTPServerWorker{log: log, app: app, address: address, shutdownTimeout: shutdownTimeout}
}

func (w *HTTPServerWorker) Run(ctx context.Context) error {
	errChan := make(chan error, 1)
	go func() {
		w.log.Info("Starting HTTP server", "address", w.address, "at", time.Now().UTC())
		errChan <- w.app.Listen(w.address)
	}()

	select {
	case <-ctx.Done():
		w.log.Info("Shutting down HTTP server...")
		if err := w.app.ShutdownWithTimeout(w.shutdownTimeout); err != nil {
			w.log.Warn("HTTP server shutdown incomplete", "error", err)
		}
		<-errChan
		return nil
	case err := <-errChan:
		if err == nil {
			return nil
		}
		return fmt.Errorf("http server error: %w", err)
	}
}

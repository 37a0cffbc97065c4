package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/dgallion1/quizgest/internal/api"
)

// Serve runs the HTTP service until ctx is cancelled, then drains the
// queue and shuts the listener down.
func (a *App) Serve(ctx context.Context) error {
	orch := a.NewOrchestrator()
	orch.Start(ctx)

	srv := api.NewServer(orch, a.Cache, a.Log, a.Config)
	httpServer := &http.Server{
		Addr:         ":" + a.Config.Port,
		Handler:      srv,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.Log.Info("starting quizgest", "port", a.Config.Port)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		orch.Stop()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	a.Log.Info("shutting down...")
	orch.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	return httpServer.Shutdown(shutdownCtx)
}

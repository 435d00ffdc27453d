package app

import (
	"context"

	"go.uber.org/zap"
)

// Shutdown gracefully shuts down the application. It is safe to call more than
// once; later calls are no-ops.
func (a *App) Shutdown() error {
	var err error
	a.once.Do(func() {
		err = a.shutdown()
	})
	return err
}

func (a *App) shutdown() error {
	a.logger.Info("application-shutting-down")

	a.healthChecker.SetReady(false)

	// Cancel context to signal all components
	a.cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer shutdownCancel()

	// Stop accepting requests first so nothing touches storage while it closes.
	err := a.httpServer.Shutdown(shutdownCtx)
	if err != nil {
		a.logger.Error("http-server-shutdown-error", zap.Error(err))
	}

	a.closeAll()

	a.logger.Info("application-shutdown-complete")

	return nil
}

func (a *App) closeAll() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.fn(); err != nil {
			a.logger.Error("component-close-error",
				zap.String("component", c.name),
				zap.Error(err))
		}
	}
	a.closers = nil
}

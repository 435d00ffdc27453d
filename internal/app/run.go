package app

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Run recovers interrupted operations, starts serving and blocks until a
// shutdown signal arrives or a component fails.
func (a *App) Run() error {
	a.logger.Info("application-starting",
		zap.String("storage-mode", a.cfg.StorageMode),
		zap.String("lock-mode", a.cfg.LockMode),
		zap.String("auth-mode", a.cfg.AuthMode),
		zap.String("archive-mode", a.cfg.ArchiveMode),
		zap.String("log-level", a.cfg.LogLevel))

	// Pending operations must be settled before new traffic can race them.
	_, err := a.controller.Recover(a.ctx)
	if err != nil {
		return fmt.Errorf("recover pending operations: %w", err)
	}

	sigCtx, stop := signal.NotifyContext(a.ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(sigCtx)

	g.Go(a.httpServer.Start)

	if a.cfg.RecoveryInterval > 0 {
		g.Go(func() error {
			a.runRecoveryLoop(gctx)
			return nil
		})
	}

	a.healthChecker.SetReady(true)
	a.logger.Info("application-ready", zap.String("http-addr", ":"+a.cfg.HTTPPort))

	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("shutdown-initiated", zap.Error(context.Cause(gctx)))
		return a.Shutdown()
	})

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// runRecoveryLoop periodically rolls forward operations left pending by a
// failed commit.
func (a *App) runRecoveryLoop(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.RecoveryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report, err := a.controller.Recover(ctx)
			if err != nil && ctx.Err() == nil {
				a.logger.Error("recovery-sweep-failed", zap.Error(err))
				continue
			}
			if report.Failed > 0 {
				a.logger.Warn("recovery-sweep-incomplete", zap.Int("failed", report.Failed))
			}
		}
	}
}

// Package app wires the market service together and runs it.
package app

import (
	"context"
	"sync"

	"github.com/mselser95/parimutuel/internal/custody"
	"github.com/mselser95/parimutuel/internal/market"
	"github.com/mselser95/parimutuel/internal/storage"
	"github.com/mselser95/parimutuel/pkg/config"
	"github.com/mselser95/parimutuel/pkg/events"
	"github.com/mselser95/parimutuel/pkg/healthprobe"
	"github.com/mselser95/parimutuel/pkg/httpserver"
	"go.uber.org/zap"
)

// App is the main application orchestrator.
type App struct {
	cfg           *config.Config
	logger        *zap.Logger
	healthChecker *healthprobe.HealthChecker
	httpServer    *httpserver.Server
	controller    *market.Controller
	store         storage.Store
	ledger        custody.Ledger
	hub           *events.Hub
	closers       []closer
	ctx           context.Context
	cancel        context.CancelFunc
	once          sync.Once
}

// closer releases a component on shutdown. Closers run in reverse setup order.
type closer struct {
	name string
	fn   func() error
}

// Controller exposes the wired market controller.
func (a *App) Controller() *market.Controller {
	return a.controller
}

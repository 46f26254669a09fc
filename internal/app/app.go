// Package app wires the process together: account store, credential
// file, persistence, the session supervisor and the operator API.
package app

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"killswitch/internal/config"
	"killswitch/internal/configstore"
	"killswitch/internal/logger"
	"killswitch/internal/service/supervisor"
	"killswitch/internal/store/eventlog"
	"killswitch/internal/store/mtmlog"
	"killswitch/internal/transport/http/admin"
)

type App struct {
	cfg     *config.Config
	store   *configstore.Store
	sup     *supervisor.Supervisor
	server  *admin.Server
	events  *eventlog.Store
	samples *mtmlog.Store
}

// NewApp builds the application object without starting anything.
func NewApp(cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.LogLevel)
	return buildAppWithWire(context.Background(), cfg)
}

// Supervisor exposes the session controller (used by tests and tooling).
func (a *App) Supervisor() *supervisor.Supervisor {
	if a == nil {
		return nil
	}
	return a.sup
}

// Run starts the operator API and every active account session, then
// blocks until ctx is cancelled and all sessions have stopped.
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	group, ctx := errgroup.WithContext(ctx)

	if a.server != nil {
		group.Go(func() error {
			if err := a.server.Start(ctx); err != nil {
				return fmt.Errorf("admin server error: %w", err)
			}
			return nil
		})
	}

	group.Go(func() error {
		a.startActiveSessions(ctx)
		<-ctx.Done()
		logger.Infof("shutting down, stopping sessions")
		a.sup.StopAll()
		a.closeStores()
		return nil
	})

	return group.Wait()
}

func (a *App) startActiveSessions(ctx context.Context) {
	snap := a.store.Snapshot()
	for _, id := range a.store.AccountIDs() {
		cfg := snap.Accounts[id]
		if !cfg.Active {
			logger.Infof("account %s inactive, not starting", id)
			continue
		}
		if err := a.sup.StartSession(ctx, id); err != nil {
			logger.Errorf("account %s failed to start: %v", id, err)
		}
	}
}

func (a *App) closeStores() {
	if a.events != nil {
		if err := a.events.Close(); err != nil {
			logger.Warnf("closing event log: %v", err)
		}
	}
	if a.samples != nil {
		if err := a.samples.Close(); err != nil {
			logger.Warnf("closing mtm log: %v", err)
		}
	}
}

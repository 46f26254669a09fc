// Package configwatch republishes hot-reloaded store snapshots into the
// account aggregate. The store itself validates and discards malformed
// edits, so everything arriving here is already well-formed.
package configwatch

import (
	"context"

	"killswitch/internal/account"
	"killswitch/internal/configstore"
	"killswitch/internal/logger"
)

type Service struct {
	state *account.State
	store *configstore.Store
}

func New(state *account.State, store *configstore.Store) *Service {
	return &Service{state: state, store: store}
}

// Run applies store snapshots for this account until the session ends.
// Snapshots are coalesced: only the newest pending one is applied.
func (s *Service) Run(ctx context.Context) {
	id := s.state.AccountID()
	updates := make(chan configstore.Snapshot, 1)
	unsubscribe := s.store.Subscribe(func(snap configstore.Snapshot) {
		for {
			select {
			case updates <- snap:
				return
			default:
				select {
				case <-updates:
				default:
				}
			}
		}
	})
	defer unsubscribe()

	var lastVersion int64
	for {
		select {
		case <-ctx.Done():
			logger.Infof("[config] %s: watcher exiting", id)
			return
		case snap := <-updates:
			if !s.state.SystemActive() {
				continue
			}
			if snap.Version <= lastVersion {
				continue
			}
			lastVersion = snap.Version
			cfg, ok := snap.Accounts[id]
			if !ok {
				logger.Warnf("[config] %s: account missing from store v%d, keeping previous config", id, snap.Version)
				continue
			}
			prev := s.state.Risk().MTMLimit
			s.state.ApplyConfig(cfg)
			next := s.state.Risk().MTMLimit
			if prev != next {
				logger.Warnf("[config] %s: mtm limit changed %.2f -> %.2f (store v%d)", id, prev, next, snap.Version)
			} else {
				logger.Infof("[config] %s: config reloaded (store v%d)", id, snap.Version)
			}
		}
	}
}

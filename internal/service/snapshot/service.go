// Package snapshot publishes the per-account state summary to disk on a
// fixed cadence for external observers (dashboards, scripts). Writes are
// temp-then-rename so a reader never sees a torn file.
package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"killswitch/internal/account"
	"killswitch/internal/logger"
)

type Service struct {
	state    *account.State
	dir      string
	interval time.Duration
}

func New(state *account.State, dir string, interval time.Duration) *Service {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Service{state: state, dir: dir, interval: interval}
}

func (s *Service) Run(ctx context.Context) {
	id := s.state.AccountID()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		if ctx.Err() != nil || !s.state.SystemActive() {
			logger.Infof("[snap] %s: publisher exiting", id)
			return
		}
		if err := s.publish(); err != nil {
			logger.Warnf("[snap] %s: publish failed: %v", id, err)
		}
		select {
		case <-ctx.Done():
		case <-ticker.C:
		}
	}
}

func (s *Service) publish() error {
	summary := s.state.Summary(time.Now())
	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("snapshot dir: %w", err)
	}

	final := filepath.Join(s.dir, fmt.Sprintf("%s.json", s.state.AccountID()))
	tmp, err := os.CreateTemp(s.dir, ".snapshot-*")
	if err != nil {
		return fmt.Errorf("temp snapshot: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, final)
}

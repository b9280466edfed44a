package storage

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/econeura/usage-guardian/pkg/model"
)

// Snapshotter is anything that can hand out its full state. *monitor.Monitor
// satisfies it.
type Snapshotter interface {
	Snapshot() model.Snapshot
}

// Syncer periodically writes a Snapshotter's state to a Storage.
type Syncer struct {
	store    Storage
	source   Snapshotter
	interval time.Duration
	logger   *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewSyncer creates a syncer that saves every interval.
func NewSyncer(store Storage, source Snapshotter, interval time.Duration, logger *slog.Logger) *Syncer {
	return &Syncer{
		store:    store,
		source:   source,
		interval: interval,
		logger:   logger,
	}
}

// Save writes the current state once.
func (s *Syncer) Save(ctx context.Context) error {
	snap := s.source.Snapshot()
	if err := s.store.SaveSnapshot(ctx, snap); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	s.logger.Debug("snapshot saved", "tenants", len(snap.Tenants))
	return nil
}

// Start saves on every tick until Stop is called or ctx is cancelled.
func (s *Syncer) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.run(ctx, s.done)
}

// Stop halts the loop and writes a final snapshot.
func (s *Syncer) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if done != nil {
		cancel()
		<-done
	}
	return s.Save(ctx)
}

func (s *Syncer) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			saveCtx, cancel := context.WithTimeout(ctx, s.interval)
			if err := s.Save(saveCtx); err != nil {
				s.logger.Error("periodic snapshot failed", "error", err)
			}
			cancel()
		}
	}
}

package backup

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/derpz-discord/math-tavern-bot/internal/store"
)

// Destination is a backup target (S3, local file).
type Destination interface {
	// Write stores the JSONL payload.
	Write(ctx context.Context, data []byte) error
}

// Scheduler runs periodic backups to one or more destinations.
type Scheduler struct {
	store        store.KeyValueStore
	destinations []Destination
	interval     time.Duration
	logger       *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates a scheduler that exports from the store to the given
// destinations at the specified interval.
func NewScheduler(s store.KeyValueStore, destinations []Destination, interval time.Duration, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		store:        s,
		destinations: destinations,
		interval:     interval,
		logger:       logger.With("component", "backup"),
	}
}

// Start begins periodic backups. It runs one immediately, then on each tick.
func (s *Scheduler) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(ctx)
	}()
}

// Stop cancels the scheduler and waits for the current backup (if any) to
// finish.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Scheduler) run(ctx context.Context) {
	s.RunOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce exports the store and writes the dump to every destination. A
// failing destination does not stop the others. The summary is logged at
// Info when every write succeeded, Warn when some failed and Error when all
// of them failed.
func (s *Scheduler) RunOnce(ctx context.Context) {
	var buf bytes.Buffer
	n, err := ExportJSONL(ctx, s.store, &buf)
	if err != nil {
		s.logger.Error("backup export failed", "err", err)
		return
	}
	data := buf.Bytes()

	failed := 0
	for i, dest := range s.destinations {
		if err := dest.Write(ctx, data); err != nil {
			failed++
			s.logger.Error("backup destination write failed", "destination", describe(i, dest), "err", err)
		}
	}

	attrs := []any{"destinations", len(s.destinations), "failed", failed, "records", n, "bytes", len(data)}
	switch {
	case failed == 0:
		s.logger.Info("backup completed", attrs...)
	case failed == len(s.destinations):
		s.logger.Error("backup failed on every destination", attrs...)
	default:
		s.logger.Warn("backup incomplete", attrs...)
	}
}

func describe(i int, dest Destination) string {
	if s, ok := dest.(fmt.Stringer); ok {
		return s.String()
	}
	return fmt.Sprintf("%d", i)
}

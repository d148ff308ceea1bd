// Package outbox drains pending synchronization jobs from the store
// into the vector index. The worker may run in-process next to the
// HTTP service or as the standalone outbox-worker binary.
package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/mnemon-ai/mnemon/internal/indexsync"
	"github.com/mnemon-ai/mnemon/internal/model"
	"github.com/mnemon-ai/mnemon/internal/store"
)

// Config controls batch size, polling cadence, and the retry budget.
type Config struct {
	BatchSize   int
	Interval    time.Duration
	MaxAttempts int
}

// Worker leases outbox rows and applies them through the synchronizer.
type Worker struct {
	st   store.Store
	sync *indexsync.Synchronizer
	cfg  Config
	log  zerolog.Logger
}

// NewWorker constructs a Worker from dependencies.
func NewWorker(st store.Store, sync *indexsync.Synchronizer, cfg Config, log zerolog.Logger) *Worker {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 2 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 10
	}
	return &Worker{st: st, sync: sync, cfg: cfg, log: log}
}

// Run starts the polling loop until ctx is canceled.
func (w *Worker) Run(ctx context.Context) error {
	w.log.Info().Int("batch", w.cfg.BatchSize).Dur("interval", w.cfg.Interval).Msg("outbox worker starting")
	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("outbox worker stopping")
			return ctx.Err()
		case <-ticker.C:
			if err := w.ProcessOnce(ctx); err != nil {
				// Log and continue; per-row backoff prevents hot-looping.
				w.log.Error().Err(err).Msg("outbox process cycle")
			}
		}
	}
}

// ProcessOnce drains one lease batch. Exported so the inline worker
// mode and tests can drive the loop directly.
func (w *Worker) ProcessOnce(ctx context.Context) error {
	jobs, err := w.st.Outbox().Lease(ctx, w.cfg.BatchSize)
	if err != nil {
		return err
	}
	for _, j := range jobs {
		if err := w.handle(ctx, j); err != nil {
			w.log.Warn().Err(err).Int64("id", j.ID).Str("op", j.Op).Int("attempts", j.Attempts).Msg("outbox job failed")
			if e := w.st.Outbox().MarkFailed(ctx, j.ID, w.cfg.MaxAttempts); e != nil {
				w.log.Error().Err(e).Int64("id", j.ID).Msg("markFailed error")
			}
			continue
		}
		if e := w.st.Outbox().MarkDone(ctx, j.ID); e != nil {
			w.log.Error().Err(e).Int64("id", j.ID).Msg("markDone error")
		}
	}
	return nil
}

// handle executes one outbox operation.
func (w *Worker) handle(ctx context.Context, j model.OutboxJob) error {
	switch j.Op {
	case store.OpSyncSession:
		var p store.SyncSessionPayload
		if err := json.Unmarshal(j.Payload, &p); err != nil {
			return fmt.Errorf("bad payload: %w", err)
		}
		// Re-reading the whole session keeps chunk windows stable, so
		// the derived chunk ids match earlier runs.
		msgs, err := w.st.Messages().ListSession(ctx, p.SessionID, p.ActorID, 0)
		if err != nil {
			return err
		}
		_, err = w.sync.SyncMessages(ctx, msgs)
		return err
	case store.OpDropSession:
		var p store.DropSessionPayload
		if err := json.Unmarshal(j.Payload, &p); err != nil {
			return fmt.Errorf("bad payload: %w", err)
		}
		return w.sync.RemoveSession(ctx, p.ActorID, p.SessionID)
	case store.OpDropMessages:
		var p store.DropMessagesPayload
		if err := json.Unmarshal(j.Payload, &p); err != nil {
			return fmt.Errorf("bad payload: %w", err)
		}
		return w.sync.RemoveForMessages(ctx, p.ActorID, p.MessageIDs)
	default:
		return fmt.Errorf("unknown op: %s", j.Op)
	}
}

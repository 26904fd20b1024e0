package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/mentorfy/ingestpipe/engine/domain"
	"github.com/mentorfy/ingestpipe/engine/store"
)

// Reaper is the Orphan Reaper (spec §4.9, C9): a periodic sweep of
// phases stuck in `processing` past their deadline. It is the backstop
// for a crashed worker that never wrote a terminal status. Grounded on
// the teacher's background-poll loops (ticker + context cancellation).
type Reaper struct {
	store    store.Store
	interval time.Duration
	log      *slog.Logger
}

// NewReaper builds a Reaper with the spec's five-minute sweep interval.
func NewReaper(st store.Store, log *slog.Logger) *Reaper {
	if log == nil {
		log = slog.Default()
	}
	return &Reaper{store: st, interval: 5 * time.Minute, log: log}
}

// Run sweeps on every tick until ctx is cancelled.
func (r *Reaper) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := r.Sweep(ctx); err != nil {
				r.log.Error("orphan sweep failed", "error", err)
			}
		}
	}
}

// Sweep fails every phase whose expected_completion_at has passed while
// it is still `processing`, and marks the owning job `failed` (spec
// §4.9). A phase row is never deleted or reused; this only writes its
// terminal status.
func (r *Reaper) Sweep(ctx context.Context) error {
	orphans, err := r.store.OrphanedPhases(ctx)
	if err != nil {
		return err
	}
	for _, phase := range orphans {
		if err := r.store.FailPhase(ctx, phase.ID, "TimeoutError", "phase exceeded expected_completion_at while processing"); err != nil {
			r.log.Error("reaper: fail phase", "phase_id", phase.ID, "error", err)
			continue
		}
		if err := r.store.UpdateJobStatus(ctx, phase.JobID, domain.JobFailed, true); err != nil {
			r.log.Error("reaper: fail job", "job_id", phase.JobID, "error", err)
			continue
		}
		r.log.Warn("reaped orphaned phase", "phase_id", phase.ID, "job_id", phase.JobID, "phase", phase.Phase)
	}
	return nil
}

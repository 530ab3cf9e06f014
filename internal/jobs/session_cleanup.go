package jobs

import (
	"context"
	"log"
	"time"

	"brokerbot/internal/services"
)

// SessionCleanupJob sweeps expired sessions out of storage on a fixed
// interval. The engine re-checks expiry under each session's lock, so a
// session that received a message after the sweep started is kept.
type SessionCleanupJob struct {
	memory   *services.MemoryService
	interval time.Duration
}

// NewSessionCleanupJob creates the sweeper. interval defaults to one hour.
func NewSessionCleanupJob(memory *services.MemoryService, interval time.Duration) *SessionCleanupJob {
	if interval <= 0 {
		interval = time.Hour
	}
	return &SessionCleanupJob{memory: memory, interval: interval}
}

func (j *SessionCleanupJob) Name() string            { return "session-cleanup" }
func (j *SessionCleanupJob) Interval() time.Duration { return j.interval }

// Run performs one sweep.
func (j *SessionCleanupJob) Run(ctx context.Context) error {
	removed, err := j.memory.CleanupExpiredSessions(ctx)
	if err != nil {
		return err
	}
	if removed > 0 {
		log.Printf("🧹 [CLEANUP] Removed %d expired session(s)", removed)
	}
	return nil
}

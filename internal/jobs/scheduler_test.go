package jobs

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

type countingJob struct {
	name     string
	interval time.Duration
	runs     atomic.Int64
}

func (j *countingJob) Name() string            { return j.name }
func (j *countingJob) Interval() time.Duration { return j.interval }
func (j *countingJob) Run(ctx context.Context) error {
	j.runs.Add(1)
	return nil
}

func TestSchedulerRunsAndStops(t *testing.T) {
	s := NewScheduler()
	job := &countingJob{name: "ticker", interval: 20 * time.Millisecond}
	s.Register(job)
	s.Start()

	time.Sleep(110 * time.Millisecond)
	s.Stop()

	runs := job.runs.Load()
	if runs < 2 {
		t.Errorf("job ran %d times in 110ms at a 20ms interval, want at least 2", runs)
	}

	// No further runs after Stop.
	time.Sleep(60 * time.Millisecond)
	if job.runs.Load() != runs {
		t.Error("job ran after Stop")
	}
}

func TestSchedulerRunNow(t *testing.T) {
	s := NewScheduler()
	job := &countingJob{name: "manual", interval: time.Hour}
	s.Register(job)

	if err := s.RunNow("manual"); err != nil {
		t.Fatalf("RunNow: %v", err)
	}
	if job.runs.Load() != 1 {
		t.Errorf("runs = %d, want 1", job.runs.Load())
	}
	if err := s.RunNow("absent"); err != nil {
		t.Errorf("RunNow on unknown job should be a no-op, got %v", err)
	}
}

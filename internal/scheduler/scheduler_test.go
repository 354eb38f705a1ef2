package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestAddJob(t *testing.T) {
	var mu sync.Mutex
	calls := 0

	sched := New(nil)
	err := sched.AddJob("export-digest", "@every 1s", func(context.Context) {
		mu.Lock()
		calls++
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("AddJob: %v", err)
	}

	if sched.JobCount() != 1 {
		t.Errorf("JobCount = %d", sched.JobCount())
	}

	// Start cron and wait for it to fire
	sched.cron.Start()
	time.Sleep(1500 * time.Millisecond)
	sched.cron.Stop()

	mu.Lock()
	defer mu.Unlock()
	if calls == 0 {
		t.Error("expected at least one call")
	}
}

func TestAddJobReplacesSameName(t *testing.T) {
	sched := New(nil)
	sched.AddJob("export-digest", "@every 1h", func(context.Context) {})
	sched.AddJob("export-digest", "@every 2h", func(context.Context) {})

	if sched.JobCount() != 1 {
		t.Errorf("JobCount = %d, want replacement", sched.JobCount())
	}
}

func TestInvalidSchedule(t *testing.T) {
	sched := New(nil)
	err := sched.AddJob("export-digest", "invalid-cron", func(context.Context) {})
	if err == nil {
		t.Error("expected error for invalid schedule")
	}
}

func TestRemoveJob(t *testing.T) {
	sched := New(nil)
	sched.AddJob("export-digest", "@every 1h", func(context.Context) {})
	sched.AddJob("snapshot-rebuild", "@every 2h", func(context.Context) {})

	if sched.JobCount() != 2 {
		t.Fatalf("JobCount = %d before remove", sched.JobCount())
	}

	sched.RemoveJob("export-digest")
	if sched.JobCount() != 1 {
		t.Errorf("JobCount = %d after remove", sched.JobCount())
	}
}

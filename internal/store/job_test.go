package store

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestSQLiteStore_EnqueueJobDedupe(t *testing.T) {
	s := newTestSQLiteStore(t)

	runAt := time.Now().Add(time.Minute)
	id1, err := s.EnqueueJob(JobKindFollowupReminder, runAt, `{"phone":"whatsapp:+5511999990000"}`, "followup:whatsapp:+5511999990000")
	if err != nil {
		t.Fatalf("EnqueueJob failed: %v", err)
	}
	id2, err := s.EnqueueJob(JobKindFollowupReminder, runAt.Add(time.Minute), `{"phone":"whatsapp:+5511999990000"}`, "followup:whatsapp:+5511999990000")
	if err != nil {
		t.Fatalf("EnqueueJob failed: %v", err)
	}
	if id1 != id2 {
		t.Errorf("Expected dedupe to return existing job ID, got %q and %q", id1, id2)
	}

	// Once canceled, the key is free again.
	if err := s.CancelJob(id1); err != nil {
		t.Fatalf("CancelJob failed: %v", err)
	}
	id3, err := s.EnqueueJob(JobKindFollowupReminder, runAt, `{}`, "followup:whatsapp:+5511999990000")
	if err != nil {
		t.Fatalf("EnqueueJob failed: %v", err)
	}
	if id3 == id1 {
		t.Error("Expected new job after cancel, got the canceled ID back")
	}
}

func TestSQLiteStore_ClaimDueJobs(t *testing.T) {
	s := newTestSQLiteStore(t)

	now := time.Now()
	dueID, err := s.EnqueueJob("kind_a", now.Add(-time.Second), `{}`, "")
	if err != nil {
		t.Fatalf("EnqueueJob failed: %v", err)
	}
	if _, err := s.EnqueueJob("kind_a", now.Add(time.Hour), `{}`, ""); err != nil {
		t.Fatalf("EnqueueJob failed: %v", err)
	}

	jobs, err := s.ClaimDueJobs(now, 10)
	if err != nil {
		t.Fatalf("ClaimDueJobs failed: %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("Expected 1 due job, got %d", len(jobs))
	}
	if jobs[0].ID != dueID {
		t.Errorf("Expected due job %q, got %q", dueID, jobs[0].ID)
	}
	if jobs[0].Status != JobStatusRunning {
		t.Errorf("Expected claimed job running, got %q", jobs[0].Status)
	}

	// Claimed jobs are not claimable again.
	again, err := s.ClaimDueJobs(now, 10)
	if err != nil {
		t.Fatalf("ClaimDueJobs failed: %v", err)
	}
	if len(again) != 0 {
		t.Errorf("Expected 0 jobs on second claim, got %d", len(again))
	}
}

func TestSQLiteStore_FailJobRetriesThenFailsPermanently(t *testing.T) {
	s := newTestSQLiteStore(t)

	id, err := s.EnqueueJob("kind_b", time.Now(), `{}`, "")
	if err != nil {
		t.Fatalf("EnqueueJob failed: %v", err)
	}

	// max_attempts is 3: two failures requeue, the third is permanent.
	for i := 1; i <= 3; i++ {
		if err := s.FailJob(id, "send failed", time.Now().Add(time.Minute)); err != nil {
			t.Fatalf("FailJob %d failed: %v", i, err)
		}
		job, err := s.GetJob(id)
		if err != nil {
			t.Fatalf("GetJob failed: %v", err)
		}
		if i < 3 {
			if job.Status != JobStatusQueued {
				t.Errorf("Attempt %d: expected requeue, got %q", i, job.Status)
			}
		} else {
			if job.Status != JobStatusFailed {
				t.Errorf("Attempt %d: expected permanent failure, got %q", i, job.Status)
			}
		}
		if job.Attempt != i {
			t.Errorf("Expected attempt %d, got %d", i, job.Attempt)
		}
		if job.LastError != "send failed" {
			t.Errorf("Expected last error recorded, got %q", job.LastError)
		}
	}
}

func TestSQLiteStore_CancelJobsByDedupeKey(t *testing.T) {
	s := newTestSQLiteStore(t)

	key := "followup:whatsapp:+5511988880000"
	id, err := s.EnqueueJob(JobKindFollowupReminder, time.Now().Add(time.Hour), `{}`, key)
	if err != nil {
		t.Fatalf("EnqueueJob failed: %v", err)
	}

	n, err := s.CancelJobsByDedupeKey(key)
	if err != nil {
		t.Fatalf("CancelJobsByDedupeKey failed: %v", err)
	}
	if n != 1 {
		t.Errorf("Expected 1 canceled job, got %d", n)
	}
	job, err := s.GetJob(id)
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if job.Status != JobStatusCanceled {
		t.Errorf("Expected canceled, got %q", job.Status)
	}

	// Cancel is idempotent and empty keys are no-ops.
	n, err = s.CancelJobsByDedupeKey(key)
	if err != nil {
		t.Fatalf("CancelJobsByDedupeKey failed: %v", err)
	}
	if n != 0 {
		t.Errorf("Expected 0 on repeat cancel, got %d", n)
	}
	n, err = s.CancelJobsByDedupeKey("")
	if err != nil {
		t.Fatalf("CancelJobsByDedupeKey failed: %v", err)
	}
	if n != 0 {
		t.Errorf("Expected 0 for empty key, got %d", n)
	}
}

func TestJobRunner_ExecutesDueJob(t *testing.T) {
	s := NewInMemoryStore()

	var executed int32
	runner := NewJobRunner(s, 20*time.Millisecond)
	runner.RegisterHandler("runner_test", func(ctx context.Context, payload string) error {
		atomic.AddInt32(&executed, 1)
		return nil
	})

	id, err := s.EnqueueJob("runner_test", time.Now().Add(-time.Second), `{}`, "")
	if err != nil {
		t.Fatalf("EnqueueJob failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	go runner.Run(ctx)

	deadline := time.Now().Add(400 * time.Millisecond)
	for atomic.LoadInt32(&executed) == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if got := atomic.LoadInt32(&executed); got != 1 {
		t.Fatalf("Expected 1 execution, got %d", got)
	}

	job, err := s.GetJob(id)
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if job.Status != JobStatusDone {
		t.Errorf("Expected done, got %q", job.Status)
	}
}

func TestJobRunner_RetriesFailedJob(t *testing.T) {
	s := NewInMemoryStore()

	var calls int32
	runner := NewJobRunner(s, 20*time.Millisecond)
	runner.RegisterHandler("flaky", func(ctx context.Context, payload string) error {
		if atomic.AddInt32(&calls, 1) == 1 {
			return errors.New("transient")
		}
		return nil
	})

	id, err := s.EnqueueJob("flaky", time.Now().Add(-time.Second), `{}`, "")
	if err != nil {
		t.Fatalf("EnqueueJob failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	go runner.Run(ctx)
	<-ctx.Done()

	// One failure with backoff: job should be requeued with attempt recorded,
	// not permanently failed.
	job, err := s.GetJob(id)
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if job.Status != JobStatusQueued {
		t.Errorf("Expected requeued after transient failure, got %q", job.Status)
	}
	if job.Attempt != 1 {
		t.Errorf("Expected attempt 1, got %d", job.Attempt)
	}
	if !job.RunAt.After(time.Now()) {
		t.Error("Expected backoff to push run_at into the future")
	}
}

func TestJobRunner_RecoverStaleJobs(t *testing.T) {
	s := newTestSQLiteStore(t)

	id, err := s.EnqueueJob("stale_test", time.Now().Add(-time.Hour), `{}`, "")
	if err != nil {
		t.Fatalf("EnqueueJob failed: %v", err)
	}
	// Claim it, then simulate a crash by never completing.
	if _, err := s.ClaimDueJobs(time.Now(), 10); err != nil {
		t.Fatalf("ClaimDueJobs failed: %v", err)
	}

	runner := NewJobRunner(s, time.Second)
	runner.staleThreshold = -time.Second // everything running counts as stale
	if err := runner.RecoverStaleJobs(); err != nil {
		t.Fatalf("RecoverStaleJobs failed: %v", err)
	}

	job, err := s.GetJob(id)
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if job.Status != JobStatusQueued {
		t.Errorf("Expected stale job requeued, got %q", job.Status)
	}
}

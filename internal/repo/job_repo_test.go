package repo

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/tbourn/chatflow-gateway/internal/domain"
)

func TestClaimJob_LeaseAndReclaim(t *testing.T) {
	db := newRepoDB(t)
	ctx := context.Background()

	j, err := EnqueueJob(ctx, db, domain.JobWebhookPayload, "conn", []byte(`{}`))
	if err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
	now := time.Now().UTC().Add(time.Second)

	got, err := ClaimJob(ctx, db, now, time.Minute)
	if err != nil || got == nil || got.ID != j.ID {
		t.Fatalf("ClaimJob = %+v, %v", got, err)
	}
	if got.Status != domain.JobProcessing || got.Attempts != 1 {
		t.Fatalf("claimed job = %+v", got)
	}
	if again, _ := ClaimJob(ctx, db, now, time.Minute); again != nil {
		t.Fatalf("leased job must not be claimable, got %+v", again)
	}
	// Lease expired: another worker may take it over.
	reclaimed, err := ClaimJob(ctx, db, now.Add(2*time.Minute), time.Minute)
	if err != nil || reclaimed == nil || reclaimed.Attempts != 2 {
		t.Fatalf("reclaim = %+v, %v", reclaimed, err)
	}
}

func TestFailAndCompleteJob(t *testing.T) {
	db := newRepoDB(t)
	ctx := context.Background()
	j, _ := EnqueueJob(ctx, db, domain.JobWebhookPayload, "", []byte(`{}`))
	now := time.Now().UTC().Add(time.Second)

	_, _ = ClaimJob(ctx, db, now, time.Minute)
	retry := now.Add(10 * time.Second)
	if err := FailJob(ctx, db, j.ID, "boom", &retry); err != nil {
		t.Fatalf("FailJob: %v", err)
	}
	if got, _ := ClaimJob(ctx, db, now.Add(5*time.Second), time.Minute); got != nil {
		t.Fatalf("job claimed before run_after")
	}
	got, _ := ClaimJob(ctx, db, retry, time.Minute)
	if got == nil || got.LastError != "boom" {
		t.Fatalf("retry claim = %+v", got)
	}
	if err := FailJob(ctx, db, j.ID, "fatal", nil); err != nil {
		t.Fatalf("FailJob terminal: %v", err)
	}
	if n, _ := CountJobs(ctx, db, domain.JobFailed); n != 1 {
		t.Fatalf("failed jobs = %d", n)
	}

	k, _ := EnqueueJob(ctx, db, domain.JobWebhookPayload, "", []byte(`{}`))
	_, _ = ClaimJob(ctx, db, now, time.Minute)
	if err := CompleteJob(ctx, db, k.ID); err != nil {
		t.Fatalf("CompleteJob: %v", err)
	}
	n, err := PurgeDoneJobs(ctx, db, time.Now().UTC().Add(time.Hour))
	if err != nil || n != 1 {
		t.Fatalf("PurgeDoneJobs = %d, %v", n, err)
	}
}

func TestClaimJob_ConcurrentWorkersClaimOnce(t *testing.T) {
	db := newRepoDB(t)
	ctx := context.Background()
	_, _ = EnqueueJob(ctx, db, domain.JobWebhookPayload, "", []byte(`{}`))
	now := time.Now().UTC().Add(time.Second)

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		claims int
	)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if j, err := ClaimJob(ctx, db, now, time.Minute); err == nil && j != nil {
				mu.Lock()
				claims++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if claims != 1 {
		t.Fatalf("claims = %d; want 1", claims)
	}
}

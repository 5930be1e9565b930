package jobstore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sabalioglu/ai-ugc/internal/domain"
)

func newJob(id, user string) *domain.Job {
	return &domain.Job{JobID: id, UserID: user, Status: domain.StatusPending, Duration: 8}
}

func TestMemoryCreateAndGet(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, newJob("job_1", "u1")))
	assert.ErrorIs(t, store.Create(ctx, newJob("job_1", "u1")), domain.ErrConflict)

	got, err := store.Get(ctx, "job_1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, got.Status)
	assert.NotEmpty(t, got.ID)

	got.Status = domain.StatusFailed
	again, _ := store.Get(ctx, "job_1")
	assert.Equal(t, domain.StatusPending, again.Status, "Get must return a copy")
}

func TestMemoryUpdateEnforcesGuard(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, newJob("job_1", "u1")))

	_, err := store.Update(ctx, "job_1", domain.Advance(domain.StatusProcessing, domain.StatusReadyForChar, 25, ""))
	assert.ErrorIs(t, err, domain.ErrStateConflict)

	job, err := store.Update(ctx, "job_1", domain.Advance(domain.StatusPending, domain.StatusProcessing, 10, "claimed"))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusProcessing, job.Status)

	_, err = store.Update(ctx, "job_1", domain.Patch{Status: domain.Ptr(domain.StatusPending)})
	assert.ErrorIs(t, err, domain.ErrStateConflict, "status must never move backward")

	_, err = store.Update(ctx, "missing", domain.Patch{})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestMemoryProgressNeverDecreases(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, newJob("job_1", "u1")))
	_, err := store.Update(ctx, "job_1", domain.Patch{Progress: domain.Ptr(8)})
	require.NoError(t, err)
	job, err := store.Update(ctx, "job_1", domain.Patch{Progress: domain.Ptr(3)})
	require.NoError(t, err)
	assert.Equal(t, 8, job.Progress)
}

func TestMemoryTerminalStatesAreFinal(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, newJob("job_1", "u1")))
	_, err := store.Update(ctx, "job_1", domain.Patch{Status: domain.Ptr(domain.StatusFailed)})
	require.NoError(t, err)
	for _, next := range []domain.Status{domain.StatusFailed, domain.StatusCompleted, domain.StatusProcessing} {
		_, err := store.Update(ctx, "job_1", domain.Patch{Status: domain.Ptr(next)})
		assert.ErrorIs(t, err, domain.ErrStateConflict, next)
	}
	// Slot writes carry no status and still land on a failed job.
	job, err := store.Update(ctx, "job_1", domain.Patch{VideoURLs: map[int]string{1: "v1"}})
	require.NoError(t, err)
	assert.Equal(t, "v1", job.VideoURLs[0])
}

func TestMemoryConcurrentAdvanceHasOneWinner(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, newJob("job_1", "u1")))

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Update(ctx, "job_1", domain.Advance(domain.StatusPending, domain.StatusProcessing, 10, ""))
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func TestMemoryListAndDelete(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"job_a", "job_b", "job_c"} {
		at := base.Add(time.Duration(i) * time.Minute)
		store.SetClock(func() time.Time { return at })
		require.NoError(t, store.Create(ctx, newJob(id, "u1")))
	}
	require.NoError(t, store.Create(ctx, newJob("job_other", "u2")))
	_, err := store.Update(ctx, "job_b", domain.Patch{Status: domain.Ptr(domain.StatusCompleted)})
	require.NoError(t, err)

	all, err := store.List(ctx, domain.ListFilter{UserID: "u1"})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "job_c", all[0].JobID)

	done, err := store.List(ctx, domain.ListFilter{UserID: "u1", Statuses: []domain.Status{domain.StatusCompleted}})
	require.NoError(t, err)
	require.Len(t, done, 1)
	assert.Equal(t, "job_b", done[0].JobID)

	limited, err := store.List(ctx, domain.ListFilter{UserID: "u1", Limit: 2})
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	assert.ErrorIs(t, store.Delete(ctx, "job_a", "u2"), domain.ErrNotFound)
	require.NoError(t, store.Delete(ctx, "job_a", "u1"))
	_, err = store.Get(ctx, "job_a")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestMemoryClaimStale(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()
	old := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	store.SetClock(func() time.Time { return old })
	require.NoError(t, store.Create(ctx, newJob("job_1", "u1")))
	require.NoError(t, store.Create(ctx, newJob("job_2", "u1")))
	_, err := store.Update(ctx, "job_2", domain.Patch{Status: domain.Ptr(domain.StatusFailed)})
	require.NoError(t, err)

	now := old.Add(time.Hour)
	store.SetClock(func() time.Time { return now })
	claimed, err := store.ClaimStale(ctx, []domain.Status{domain.StatusPending}, now.Add(-5*time.Minute), 10)
	require.NoError(t, err)
	require.Equal(t, []StaleJob{{JobID: "job_1", Status: domain.StatusPending}}, claimed)

	again, err := store.ClaimStale(ctx, []domain.Status{domain.StatusPending}, now.Add(-5*time.Minute), 10)
	require.NoError(t, err)
	assert.Empty(t, again, "a claimed job is touched and not returned twice")
}

func TestMemoryClaimUnrefunded(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()
	old := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	store.SetClock(func() time.Time { return old })
	for id, cost := range map[string]int{"job_owed": 30, "job_paid": 30, "job_free": 0, "job_live": 30} {
		job := newJob(id, "u1")
		job.CreditsCost = cost
		require.NoError(t, store.Create(ctx, job))
	}
	fail := func(id string, refunded int) {
		t.Helper()
		_, err := store.Update(ctx, id, domain.Patch{
			Status:          domain.Ptr(domain.StatusFailed),
			CreditsRefunded: domain.Ptr(refunded),
		})
		require.NoError(t, err)
	}
	fail("job_owed", 0)
	fail("job_paid", 30)
	fail("job_free", 0)

	now := old.Add(time.Hour)
	store.SetClock(func() time.Time { return now })
	claimed, err := store.ClaimUnrefunded(ctx, now.Add(-5*time.Minute), 10)
	require.NoError(t, err)
	require.Equal(t, []StaleJob{{JobID: "job_owed", Status: domain.StatusFailed}}, claimed)

	again, err := store.ClaimUnrefunded(ctx, now.Add(-5*time.Minute), 10)
	require.NoError(t, err)
	assert.Empty(t, again)
}

package jobstore

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sabalioglu/ai-ugc/internal/domain"
)

type changeRecorder struct {
	mu      sync.Mutex
	changes []domain.Change
}

func (r *changeRecorder) hook(ctx context.Context, c domain.Change) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, c)
}

func TestObservedEmitsChanges(t *testing.T) {
	rec := &changeRecorder{}
	store := NewObserved(NewMemory(), zerolog.Nop(), rec.hook)
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, newJob("job_1", "u1")))
	_, err := store.Update(ctx, "job_1", domain.Advance(domain.StatusPending, domain.StatusProcessing, 10, "claimed"))
	require.NoError(t, err)
	_, err = store.Update(ctx, "job_1", domain.Step(domain.StatusProcessing, 15, "analyzing"))
	require.NoError(t, err)
	_, err = store.Update(ctx, "job_1", domain.Patch{})
	require.NoError(t, err)
	require.NoError(t, store.Delete(ctx, "job_1", "u1"))

	require.Len(t, rec.changes, 4, "empty patches are not announced")

	created := rec.changes[0]
	assert.True(t, created.StatusChanged())
	assert.Equal(t, domain.StatusPending, created.Status)
	assert.Contains(t, created.Fields, "frame_url_1")

	claimed := rec.changes[1]
	assert.True(t, claimed.StatusChanged())
	assert.Equal(t, domain.StatusPending, claimed.Previous)
	assert.Equal(t, domain.StatusProcessing, claimed.Status)

	step := rec.changes[2]
	assert.False(t, step.StatusChanged())
	assert.JSONEq(t, `15`, string(step.Fields["progress_percentage"]))
	assert.JSONEq(t, `"analyzing"`, string(step.Fields["current_step"]))

	assert.True(t, rec.changes[3].Deleted)
	assert.False(t, rec.changes[3].StatusChanged())
}

func TestObservedPublishesStoredProgress(t *testing.T) {
	rec := &changeRecorder{}
	store := NewObserved(NewMemory(), zerolog.Nop(), rec.hook)
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, newJob("job_1", "u1")))
	_, err := store.Update(ctx, "job_1", domain.Patch{Progress: domain.Ptr(9)})
	require.NoError(t, err)
	_, err = store.Update(ctx, "job_1", domain.Patch{Progress: domain.Ptr(4), CurrentStep: domain.Ptr("x")})
	require.NoError(t, err)

	last := rec.changes[len(rec.changes)-1]
	var progress int
	require.NoError(t, json.Unmarshal(last.Fields["progress_percentage"], &progress))
	assert.Equal(t, 9, progress)
}

func TestObservedSkipsHooksOnRejectedWrite(t *testing.T) {
	rec := &changeRecorder{}
	store := NewObserved(NewMemory(), zerolog.Nop(), rec.hook)
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, newJob("job_1", "u1")))
	_, err := store.Update(ctx, "job_1", domain.Step(domain.StatusProcessing, 12, ""))
	assert.ErrorIs(t, err, domain.ErrStateConflict)
	assert.Len(t, rec.changes, 1)
}

package jobstore

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sabalioglu/ai-ugc/internal/domain"
	"github.com/sabalioglu/ai-ugc/internal/sqlinline"
)

type recordedCall struct {
	query string
	args  []any
}

type stubExecutor struct {
	calls    []recordedCall
	rows     map[string]pgx.Row
	execTag  pgconn.CommandTag
	execErr  error
	queryErr error
}

func (s *stubExecutor) Exec(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error) {
	s.calls = append(s.calls, recordedCall{query: query, args: args})
	return s.execTag, s.execErr
}

func (s *stubExecutor) QueryRow(ctx context.Context, query string, args ...any) pgx.Row {
	s.calls = append(s.calls, recordedCall{query: query, args: args})
	for prefix, row := range s.rows {
		if strings.Contains(query, prefix) {
			return row
		}
	}
	return errRow{err: pgx.ErrNoRows}
}

func (s *stubExecutor) Query(ctx context.Context, query string, args ...any) (pgx.Rows, error) {
	s.calls = append(s.calls, recordedCall{query: query, args: args})
	return nil, s.queryErr
}

type errRow struct{ err error }

func (r errRow) Scan(dest ...any) error { return r.err }

type insertRow struct {
	id  string
	at  time.Time
	err error
}

func (r insertRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	*dest[0].(*string) = r.id
	*dest[1].(*time.Time) = r.at
	*dest[2].(*time.Time) = r.at
	return nil
}

func TestBuildUpdateGuardsAndMonotonicProgress(t *testing.T) {
	patch := domain.Advance(domain.StatusProcessing, domain.StatusReadyForChar, 25, "analysis done")
	patch.FrameURLs = map[int]string{2: "https://cdn/frame2.png"}
	patch.Analysis = &domain.Analysis{}

	query, args, err := buildUpdate("job_1", patch)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(query, "--sql "), "query must keep its marker line")
	assert.Contains(t, query, `"progress_percentage" = greatest("progress_percentage", $4::int)`)
	assert.Contains(t, query, `"status" = $3::text`)
	assert.Contains(t, query, `"product_analysis" = $6::jsonb`)
	assert.Contains(t, query, `"frame_url_2" = $7::text`)
	assert.Contains(t, query, "updated_at = now()")

	require.Len(t, args, 7)
	assert.Equal(t, "job_1", args[0])
	assert.Equal(t, []string{"processing"}, args[1])
	assert.IsType(t, json.RawMessage{}, args[5])
}

func TestBuildUpdateUnguardedWriteHasNilSources(t *testing.T) {
	patch := domain.Patch{VideoURLs: map[int]string{1: "https://cdn/v1.mp4"}}
	_, args, err := buildUpdate("job_1", patch)
	require.NoError(t, err)
	assert.Nil(t, args[1])
}

func TestBuildUpdateEmptyPatchTouchesOnly(t *testing.T) {
	query, args, err := buildUpdate("job_1", domain.Patch{})
	require.NoError(t, err)
	assert.Contains(t, query, "set updated_at = now()\n")
	assert.Len(t, args, 2)
}

func TestBuildUpdateFailureAllowsEveryLiveSource(t *testing.T) {
	patch := domain.Patch{Status: domain.Ptr(domain.StatusFailed)}
	_, args, err := buildUpdate("job_1", patch)
	require.NoError(t, err)
	assert.Len(t, args[1], 6)
}

func TestPostgresCreateConflict(t *testing.T) {
	exec := &stubExecutor{rows: map[string]pgx.Row{
		"insert into video_jobs": insertRow{err: pgx.ErrNoRows},
	}}
	store := NewPostgres(exec)
	err := store.Create(context.Background(), &domain.Job{JobID: "job_1"})
	assert.ErrorIs(t, err, domain.ErrConflict)
}

func TestPostgresCreateFillsGeneratedFields(t *testing.T) {
	at := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	exec := &stubExecutor{rows: map[string]pgx.Row{
		"insert into video_jobs": insertRow{id: "7a0e", at: at},
	}}
	store := NewPostgres(exec)
	job := &domain.Job{JobID: "job_1", Status: domain.StatusPending}
	require.NoError(t, store.Create(context.Background(), job))
	assert.Equal(t, "7a0e", job.ID)
	assert.Equal(t, at, job.CreatedAt)
	require.Len(t, exec.calls, 1)
	assert.Equal(t, sqlinline.QInsertJob, exec.calls[0].query)
	assert.Equal(t, "pending", exec.calls[0].args[13])
}

func TestPostgresGetNotFound(t *testing.T) {
	store := NewPostgres(&stubExecutor{})
	_, err := store.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestPostgresUpdateRejectsOutOfRangeSlot(t *testing.T) {
	exec := &stubExecutor{}
	store := NewPostgres(exec)
	_, err := store.Update(context.Background(), "job_1", domain.Patch{FrameURLs: map[int]string{9: "x"}})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	assert.Empty(t, exec.calls)
}

func TestPostgresDeleteNotFound(t *testing.T) {
	exec := &stubExecutor{execTag: pgconn.NewCommandTag("DELETE 0")}
	store := NewPostgres(exec)
	err := store.Delete(context.Background(), "job_1", "user_1")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	exec.execTag = pgconn.NewCommandTag("DELETE 1")
	assert.NoError(t, store.Delete(context.Background(), "job_1", "user_1"))
}

func TestPostgresListPropagatesQueryError(t *testing.T) {
	boom := errors.New("boom")
	exec := &stubExecutor{queryErr: boom}
	store := NewPostgres(exec)
	_, err := store.List(context.Background(), domain.ListFilter{UserID: "u", Statuses: []domain.Status{domain.StatusCompleted}})
	assert.ErrorIs(t, err, boom)
	require.Len(t, exec.calls, 1)
	assert.Equal(t, []string{"completed"}, exec.calls[0].args[1])
	assert.Equal(t, defaultListLimit, exec.calls[0].args[2])
}

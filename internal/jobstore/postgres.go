package jobstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/lib/pq"

	"github.com/sabalioglu/ai-ugc/internal/domain"
	"github.com/sabalioglu/ai-ugc/internal/infra"
	"github.com/sabalioglu/ai-ugc/internal/sqlinline"
)

const defaultListLimit = 50

// StaleJob is a job the reconciler re-announces.
type StaleJob struct {
	JobID  string
	Status domain.Status
}

// Postgres implements domain.JobRepository on the video_jobs table.
type Postgres struct {
	sql infra.SQLExecutor
}

// NewPostgres creates a job store backed by PostgreSQL.
func NewPostgres(sql infra.SQLExecutor) *Postgres {
	return &Postgres{sql: sql}
}

// Create inserts a new job record and fills its generated fields.
func (s *Postgres) Create(ctx context.Context, job *domain.Job) error {
	row := s.sql.QueryRow(ctx, sqlinline.QInsertJob,
		job.JobID,
		job.UserID,
		job.UserEmail,
		job.ProductName,
		job.ProductDescription,
		job.TargetAudience,
		job.UGCStyle,
		job.Platform,
		job.Duration,
		job.AspectRatio,
		job.SceneCount,
		job.ProductImageURL,
		job.AudioURL,
		string(job.Status),
		job.Progress,
		job.CurrentStep,
		job.CreditsCost,
	)
	if err := row.Scan(&job.ID, &job.CreatedAt, &job.UpdatedAt); err != nil {
		if infra.IsNoRows(err) || infra.IsUniqueViolation(err) {
			return fmt.Errorf("%w: job %s already exists", domain.ErrConflict, job.JobID)
		}
		return err
	}
	return nil
}

// Get fetches a job by its public identifier.
func (s *Postgres) Get(ctx context.Context, jobID string) (*domain.Job, error) {
	job, err := scanJob(s.sql.QueryRow(ctx, sqlinline.QSelectJob, jobID))
	if err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return job, nil
}

// Update merges the patch in one statement. The status guard and the
// monotonic progress rule are evaluated by the database.
func (s *Postgres) Update(ctx context.Context, jobID string, patch domain.Patch) (*domain.Job, error) {
	if err := patch.Validate(); err != nil {
		return nil, err
	}
	query, args, err := buildUpdate(jobID, patch)
	if err != nil {
		return nil, err
	}
	job, err := scanJob(s.sql.QueryRow(ctx, query, args...))
	if err == nil {
		return job, nil
	}
	if !infra.IsNoRows(err) {
		return nil, err
	}
	current, getErr := s.Get(ctx, jobID)
	if getErr != nil {
		return nil, getErr
	}
	if checkErr := patch.Check(current.Status); checkErr != nil {
		return nil, checkErr
	}
	return nil, fmt.Errorf("%w: job %s changed concurrently", domain.ErrStateConflict, jobID)
}

// Delete permanently removes a job owned by userID.
func (s *Postgres) Delete(ctx context.Context, jobID, userID string) error {
	tag, err := s.sql.Exec(ctx, sqlinline.QDeleteJob, jobID, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// List returns a user's jobs, newest first.
func (s *Postgres) List(ctx context.Context, filter domain.ListFilter) ([]domain.Job, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	var statuses []string
	for _, st := range filter.Statuses {
		statuses = append(statuses, string(st))
	}
	rows, err := s.sql.Query(ctx, sqlinline.QListJobs, filter.UserID, statuses, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *job)
	}
	return out, rows.Err()
}

// ClaimStale touches and returns up to limit jobs in one of statuses whose
// last write is older than cutoff.
func (s *Postgres) ClaimStale(ctx context.Context, statuses []domain.Status, cutoff time.Time, limit int) ([]StaleJob, error) {
	names := make([]string, 0, len(statuses))
	for _, st := range statuses {
		names = append(names, string(st))
	}
	rows, err := s.sql.Query(ctx, sqlinline.QClaimStaleJobs, names, cutoff.UTC(), limit)
	if err != nil {
		return nil, err
	}
	return scanStale(rows)
}

// ClaimUnrefunded touches and returns up to limit failed jobs, last written
// before cutoff, that were charged but carry no recorded refund.
func (s *Postgres) ClaimUnrefunded(ctx context.Context, cutoff time.Time, limit int) ([]StaleJob, error) {
	rows, err := s.sql.Query(ctx, sqlinline.QClaimUnrefundedJobs, cutoff.UTC(), limit)
	if err != nil {
		return nil, err
	}
	return scanStale(rows)
}

func scanStale(rows pgx.Rows) ([]StaleJob, error) {
	defer rows.Close()

	var out []StaleJob
	for rows.Next() {
		var (
			id     string
			status string
		)
		if err := rows.Scan(&id, &status); err != nil {
			return nil, err
		}
		out = append(out, StaleJob{JobID: id, Status: domain.Status(status)})
	}
	return out, rows.Err()
}

func buildUpdate(jobID string, patch domain.Patch) (string, []any, error) {
	cols, err := patch.Columns()
	if err != nil {
		return "", nil, err
	}
	var sources []string
	if src := patch.Sources(); src != nil {
		sources = make([]string, 0, len(src))
		for _, st := range src {
			sources = append(sources, string(st))
		}
	}
	args := []any{jobID, sources}
	sets := make([]string, 0, len(cols)+1)
	for _, c := range cols {
		args = append(args, c.Value)
		name := pq.QuoteIdentifier(c.Name)
		ph := fmt.Sprintf("$%d%s", len(args), castFor(c.Value))
		if c.Monotonic {
			sets = append(sets, fmt.Sprintf("%s = greatest(%s, %s)", name, name, ph))
			continue
		}
		sets = append(sets, fmt.Sprintf("%s = %s", name, ph))
	}
	sets = append(sets, "updated_at = now()")
	return fmt.Sprintf(sqlinline.QUpdateJobTemplate, strings.Join(sets, ", "), sqlinline.JobColumns), args, nil
}

func castFor(v any) string {
	switch v.(type) {
	case json.RawMessage:
		return "::jsonb"
	case int:
		return "::int"
	case time.Time:
		return "::timestamptz"
	default:
		return "::text"
	}
}

func scanJob(row pgx.Row) (*domain.Job, error) {
	var (
		job                     domain.Job
		status                  string
		analysis, creator, plan []byte
	)
	dest := []any{
		&job.ID, &job.JobID, &job.UserID, &job.UserEmail, &job.ProductName, &job.ProductDescription,
		&job.TargetAudience, &job.UGCStyle, &job.Platform, &job.Duration, &job.AspectRatio, &job.SceneCount, &job.ProductImageURL,
		&status, &job.Progress, &job.CurrentStep, &analysis, &creator, &plan,
		&job.CharacterImageURL, &job.StartFrameURL, &job.EndFrameURL,
	}
	for i := range job.FrameURLs {
		dest = append(dest, &job.FrameURLs[i])
	}
	for i := range job.VideoURLs {
		dest = append(dest, &job.VideoURLs[i])
	}
	dest = append(dest,
		&job.AudioURL, &job.VideoURL, &job.ThumbnailURL, &job.ErrorMessage, &job.CreditsCost, &job.CreditsRefunded,
		&job.CreatedAt, &job.StartedAt, &job.CompletedAt, &job.UpdatedAt,
	)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	job.Status = domain.Status(status)
	if err := decodeDoc(analysis, &job.Analysis); err != nil {
		return nil, fmt.Errorf("decode product_analysis: %w", err)
	}
	if err := decodeDoc(creator, &job.Creator); err != nil {
		return nil, fmt.Errorf("decode character_model: %w", err)
	}
	if err := decodeDoc(plan, &job.Plan); err != nil {
		return nil, fmt.Errorf("decode video_segments: %w", err)
	}
	return &job, nil
}

func decodeDoc[T any](raw []byte, dst **T) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return err
	}
	*dst = &v
	return nil
}

var _ domain.JobRepository = (*Postgres)(nil)

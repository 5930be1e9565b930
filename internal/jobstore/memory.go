package jobstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sabalioglu/ai-ugc/internal/domain"
)

// Memory is an in-process job store used by tests and local runs without a
// database. It enforces the same guard rules as Postgres.
type Memory struct {
	mu   sync.Mutex
	jobs map[string]*domain.Job
	now  func() time.Time
}

func NewMemory() *Memory {
	return &Memory{jobs: map[string]*domain.Job{}, now: time.Now}
}

func (m *Memory) Create(ctx context.Context, job *domain.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[job.JobID]; ok {
		return fmt.Errorf("%w: job %s already exists", domain.ErrConflict, job.JobID)
	}
	now := m.now().UTC()
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	job.CreatedAt = now
	job.UpdatedAt = now
	m.jobs[job.JobID] = job.Clone()
	return nil
}

func (m *Memory) Get(ctx context.Context, jobID string) (*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return job.Clone(), nil
}

func (m *Memory) Update(ctx context.Context, jobID string, patch domain.Patch) (*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if err := patch.Check(job.Status); err != nil {
		return nil, err
	}
	patch.Apply(job, m.now())
	return job.Clone(), nil
}

func (m *Memory) Delete(ctx context.Context, jobID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok || job.UserID != userID {
		return domain.ErrNotFound
	}
	delete(m.jobs, jobID)
	return nil
}

func (m *Memory) List(ctx context.Context, filter domain.ListFilter) ([]domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	wanted := map[domain.Status]bool{}
	for _, s := range filter.Statuses {
		wanted[s] = true
	}
	var out []domain.Job
	for _, job := range m.jobs {
		if job.UserID != filter.UserID {
			continue
		}
		if len(wanted) > 0 && !wanted[job.Status] {
			continue
		}
		out = append(out, *job.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].JobID > out[j].JobID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ClaimStale mirrors Postgres.ClaimStale.
func (m *Memory) ClaimStale(ctx context.Context, statuses []domain.Status, cutoff time.Time, limit int) ([]StaleJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	wanted := map[domain.Status]bool{}
	for _, s := range statuses {
		wanted[s] = true
	}
	return m.claim(func(job *domain.Job) bool {
		return wanted[job.Status] && job.UpdatedAt.Before(cutoff)
	}, limit), nil
}

// ClaimUnrefunded mirrors Postgres.ClaimUnrefunded.
func (m *Memory) ClaimUnrefunded(ctx context.Context, cutoff time.Time, limit int) ([]StaleJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.claim(func(job *domain.Job) bool {
		return job.Status == domain.StatusFailed && job.CreditsCost > 0 && job.CreditsRefunded == 0 &&
			job.UpdatedAt.Before(cutoff)
	}, limit), nil
}

// claim touches the oldest matching jobs. Callers hold m.mu.
func (m *Memory) claim(match func(*domain.Job) bool, limit int) []StaleJob {
	var stale []*domain.Job
	for _, job := range m.jobs {
		if match(job) {
			stale = append(stale, job)
		}
	}
	sort.Slice(stale, func(i, j int) bool { return stale[i].UpdatedAt.Before(stale[j].UpdatedAt) })
	if limit > 0 && len(stale) > limit {
		stale = stale[:limit]
	}
	now := m.now().UTC()
	out := make([]StaleJob, 0, len(stale))
	for _, job := range stale {
		job.UpdatedAt = now
		out = append(out, StaleJob{JobID: job.JobID, Status: job.Status})
	}
	return out
}

// SetClock replaces the time source. Tests use it to age records.
func (m *Memory) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

var _ domain.JobRepository = (*Memory)(nil)

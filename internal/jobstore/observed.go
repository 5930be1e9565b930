package jobstore

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"github.com/sabalioglu/ai-ugc/internal/domain"
)

// ChangeHook receives every committed mutation. Hooks run on the caller's
// goroutine and must not block for long.
type ChangeHook func(ctx context.Context, change domain.Change)

// Observed wraps a repository and announces each committed write to hooks.
// Stage triggers and status push are both driven from here.
type Observed struct {
	domain.JobRepository
	hooks  []ChangeHook
	logger zerolog.Logger
	now    func() time.Time
}

// NewObserved decorates repo. Hooks are called in order.
func NewObserved(repo domain.JobRepository, logger zerolog.Logger, hooks ...ChangeHook) *Observed {
	return &Observed{JobRepository: repo, hooks: hooks, logger: logger, now: time.Now}
}

// AddHook appends a hook. It must be called before the store is shared.
func (o *Observed) AddHook(h ChangeHook) {
	o.hooks = append(o.hooks, h)
}

func (o *Observed) Create(ctx context.Context, job *domain.Job) error {
	if err := o.JobRepository.Create(ctx, job); err != nil {
		return err
	}
	fields, err := jobFields(job)
	if err != nil {
		o.logger.Warn().Err(err).Str("job_id", job.JobID).Msg("jobstore: encode created job")
	}
	o.emit(ctx, domain.Change{
		JobID:  job.JobID,
		UserID: job.UserID,
		Status: job.Status,
		Fields: fields,
	})
	return nil
}

func (o *Observed) Update(ctx context.Context, jobID string, patch domain.Patch) (*domain.Job, error) {
	job, err := o.JobRepository.Update(ctx, jobID, patch)
	if err != nil {
		return nil, err
	}
	if patch.IsEmpty() {
		return job, nil
	}
	fields, err := patch.Fields()
	if err != nil {
		o.logger.Warn().Err(err).Str("job_id", jobID).Msg("jobstore: encode patch fields")
		fields = map[string]json.RawMessage{}
	}
	// Progress is merged with greatest(), so publish what was stored.
	fields["status"], _ = json.Marshal(job.Status)
	fields["progress_percentage"], _ = json.Marshal(job.Progress)
	fields["updated_at"], _ = json.Marshal(job.UpdatedAt)

	previous := job.Status
	if _, ok := patch.StatusChange(); ok {
		previous = ""
		if patch.Expect != nil {
			previous = *patch.Expect
		}
	}
	o.emit(ctx, domain.Change{
		JobID:    jobID,
		UserID:   job.UserID,
		Status:   job.Status,
		Previous: previous,
		Fields:   fields,
	})
	return job, nil
}

func (o *Observed) Delete(ctx context.Context, jobID, userID string) error {
	if err := o.JobRepository.Delete(ctx, jobID, userID); err != nil {
		return err
	}
	o.emit(ctx, domain.Change{JobID: jobID, UserID: userID, Deleted: true})
	return nil
}

func (o *Observed) emit(ctx context.Context, change domain.Change) {
	change.Timestamp = o.now().UTC()
	for _, h := range o.hooks {
		h(ctx, change)
	}
}

func jobFields(job *domain.Job) (map[string]json.RawMessage, error) {
	raw, err := json.Marshal(job)
	if err != nil {
		return nil, err
	}
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	return fields, nil
}

var _ domain.JobRepository = (*Observed)(nil)

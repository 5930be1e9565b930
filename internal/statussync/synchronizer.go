// Package statussync keeps a client's view of one job current, preferring
// pushed changes and falling back to polling the store.
package statussync

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/sabalioglu/ai-ugc/internal/domain"
	"github.com/sabalioglu/ai-ugc/internal/infra"
)

// Mode tells the client how the current snapshot was obtained.
type Mode string

const (
	ModePush Mode = "push"
	ModePoll Mode = "poll"
)

// Fetcher loads the authoritative job record.
type Fetcher interface {
	Get(ctx context.Context, jobID string) (*domain.Job, error)
}

// Snapshot is the merged view delivered to the client.
type Snapshot struct {
	Job  *domain.Job
	Mode Mode
	// Overdue marks a job running longer than the client timeout. It is
	// never written back to the store.
	Overdue bool
}

type Options struct {
	// ActivityTimeout is how long push may stay silent before polling starts.
	ActivityTimeout time.Duration
	PollInterval    time.Duration
	ClientTimeout   time.Duration
	Logger          *infra.Logger
}

type Synchronizer struct {
	fetch  Fetcher
	bus    Bus
	opts   Options
	logger *infra.Logger
	now    func() time.Time
}

// New returns a synchronizer. A nil bus means every watch polls from the start.
func New(fetch Fetcher, bus Bus, opts Options) *Synchronizer {
	if opts.ActivityTimeout <= 0 {
		opts.ActivityTimeout = 30 * time.Second
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 3 * time.Second
	}
	if opts.ClientTimeout <= 0 {
		opts.ClientTimeout = 900 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = infra.DiscardLogger()
	}
	return &Synchronizer{fetch: fetch, bus: bus, opts: opts, logger: logger, now: time.Now}
}

// Watch emits snapshots of jobID until the job reaches completed or failed,
// ctx is done, or emit returns an error. A deleted job ends the watch with
// domain.ErrNotFound.
func (s *Synchronizer) Watch(ctx context.Context, jobID string, emit func(Snapshot) error) error {
	var changes <-chan domain.Change
	if s.bus != nil {
		ch, cancel, err := s.bus.Subscribe(ctx, jobID)
		if err != nil {
			s.logger.Warn().Err(err).Str("job_id", jobID).Msg("statussync: push unavailable, polling")
		} else {
			changes = ch
			defer cancel()
		}
	}

	// Subscribe before the first read so no change falls between them.
	job, err := s.fetch.Get(ctx, jobID)
	if err != nil {
		return err
	}
	mode := ModePoll
	if changes != nil {
		mode = ModePush
	}
	if err := emit(s.snapshot(job, mode)); err != nil {
		return err
	}
	if job.Status.IsTerminal() {
		return nil
	}

	idle := time.NewTimer(s.opts.ActivityTimeout)
	defer idle.Stop()
	var poll <-chan time.Time
	var ticker *time.Ticker
	startPolling := func() {
		if ticker == nil {
			ticker = time.NewTicker(s.opts.PollInterval)
			poll = ticker.C
		}
		mode = ModePoll
	}
	defer func() {
		if ticker != nil {
			ticker.Stop()
		}
	}()
	if changes == nil {
		startPolling()
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case change, ok := <-changes:
			if !ok {
				s.logger.Info().Str("job_id", jobID).Msg("statussync: push closed, polling")
				changes = nil
				startPolling()
				continue
			}
			if change.Deleted {
				return domain.ErrNotFound
			}
			if outdated(job, change) {
				s.logger.Debug().Str("job_id", jobID).Str("status", string(change.Status)).Msg("statussync: drop out-of-order change")
				continue
			}
			wasCompleted := job.Status == domain.StatusCompleted
			progress := job.Progress
			if err := job.MergeFields(change.Fields); err != nil {
				s.logger.Warn().Err(err).Str("job_id", jobID).Msg("statussync: merge change")
			}
			if change.Status != "" {
				job.Status = change.Status
			}
			if job.Progress < progress {
				job.Progress = progress
			}
			if job.Status == domain.StatusCompleted && !wasCompleted {
				// Push payloads carry only the touched columns.
				if full, err := s.fetch.Get(ctx, jobID); err == nil {
					job = full
				} else {
					s.logger.Warn().Err(err).Str("job_id", jobID).Msg("statussync: refetch completed job")
				}
			}
			if ticker != nil {
				ticker.Stop()
				ticker, poll = nil, nil
			}
			mode = ModePush
			resetTimer(idle, s.opts.ActivityTimeout)
			if err := emit(s.snapshot(job, mode)); err != nil {
				return err
			}
			if job.Status.IsTerminal() {
				return nil
			}

		case <-idle.C:
			s.logger.Debug().Str("job_id", jobID).Dur("silence", s.opts.ActivityTimeout).Msg("statussync: no push activity, polling")
			startPolling()

		case <-poll:
			fresh, err := s.fetch.Get(ctx, jobID)
			if errors.Is(err, domain.ErrNotFound) {
				return err
			}
			if err != nil {
				s.logger.Warn().Err(err).Str("job_id", jobID).Msg("statussync: poll failed")
				continue
			}
			if !changed(job, fresh) {
				continue
			}
			job = fresh
			if err := emit(s.snapshot(job, mode)); err != nil {
				return err
			}
			if job.Status.IsTerminal() {
				return nil
			}
		}
	}
}

func (s *Synchronizer) snapshot(job *domain.Job, mode Mode) Snapshot {
	overdue := !job.Status.IsTerminal() && !job.CreatedAt.IsZero() &&
		s.now().Sub(job.CreatedAt) > s.opts.ClientTimeout
	return Snapshot{Job: job.Clone(), Mode: mode, Overdue: overdue}
}

// outdated reports whether a pushed change is older than the snapshot. Buses
// may deliver out of order, so a change that moves the status backwards or
// was written before the snapshot's last update is stale. Failed may follow
// any status.
func outdated(job *domain.Job, change domain.Change) bool {
	if change.Status != "" && change.Status != domain.StatusFailed && change.Status.Rank() < job.Status.Rank() {
		return true
	}
	raw, ok := change.Fields["updated_at"]
	if !ok || job.UpdatedAt.IsZero() {
		return false
	}
	var at time.Time
	if err := json.Unmarshal(raw, &at); err != nil {
		return false
	}
	return at.Before(job.UpdatedAt)
}

func changed(prev, next *domain.Job) bool {
	return prev.Status != next.Status ||
		prev.Progress != next.Progress ||
		prev.CurrentStep != next.CurrentStep ||
		!prev.UpdatedAt.Equal(next.UpdatedAt)
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}

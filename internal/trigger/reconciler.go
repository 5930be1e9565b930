package trigger

import (
	"context"
	"slices"
	"time"

	"github.com/sabalioglu/ai-ugc/internal/domain"
	"github.com/sabalioglu/ai-ugc/internal/infra"
	"github.com/sabalioglu/ai-ugc/internal/jobstore"
)

// StaleClaimer claims jobs that have not been written for a while.
type StaleClaimer interface {
	ClaimStale(ctx context.Context, statuses []domain.Status, cutoff time.Time, limit int) ([]jobstore.StaleJob, error)
}

// UnrefundedClaimer claims failed jobs whose refund was never recorded.
type UnrefundedClaimer interface {
	ClaimUnrefunded(ctx context.Context, cutoff time.Time, limit int) ([]jobstore.StaleJob, error)
}

// Refunder settles the refund still owed to one failed job.
type Refunder interface {
	SettleRefund(ctx context.Context, jobID string) error
}

// ReconcilerOptions tunes the sweep loop.
type ReconcilerOptions struct {
	Statuses []domain.Status
	// Immediate statuses are claimed on every sweep regardless of age. A
	// worker without a queue uses it to pick up new pending jobs.
	Immediate  []domain.Status
	Interval   time.Duration
	StaleAfter time.Duration
	BatchSize  int
	Logger     *infra.Logger
}

// Reconciler re-publishes events for jobs resting in a trigger status longer
// than StaleAfter, recovering events lost between a commit and its delivery.
// Claiming touches the job, so each stale job is re-fired once per window.
type Reconciler struct {
	claimer StaleClaimer
	pub     Publisher
	opts    ReconcilerOptions
	logger  *infra.Logger
	now     func() time.Time

	owed     UnrefundedClaimer
	refunder Refunder
}

func NewReconciler(claimer StaleClaimer, pub Publisher, opts ReconcilerOptions) *Reconciler {
	if opts.Interval <= 0 {
		opts.Interval = 30 * time.Second
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = 5 * time.Minute
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 50
	}
	if len(opts.Immediate) > 0 {
		opts.Statuses = without(opts.Statuses, opts.Immediate)
	}
	logger := opts.Logger
	if logger == nil {
		logger = infra.DiscardLogger()
	}
	return &Reconciler{claimer: claimer, pub: pub, opts: opts, logger: logger, now: time.Now}
}

// WithRefunds makes every sweep also settle refunds lost after a job failed,
// for failed jobs unwritten for StaleAfter.
func (r *Reconciler) WithRefunds(owed UnrefundedClaimer, refunder Refunder) *Reconciler {
	r.owed, r.refunder = owed, refunder
	return r
}

// Run sweeps every Interval until ctx is done.
func (r *Reconciler) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.opts.Interval)
	defer ticker.Stop()
	for {
		if _, err := r.Sweep(ctx); err != nil && ctx.Err() == nil {
			r.logger.Error().Err(err).Msg("reconciler: sweep failed")
		}
		if _, err := r.SettleRefunds(ctx); err != nil && ctx.Err() == nil {
			r.logger.Error().Err(err).Msg("reconciler: refund sweep failed")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Sweep claims one batch of stale jobs and re-publishes their events.
func (r *Reconciler) Sweep(ctx context.Context) (int, error) {
	now := r.now()
	stale, err := r.claimer.ClaimStale(ctx, r.opts.Statuses, now.Add(-r.opts.StaleAfter), r.opts.BatchSize)
	if err != nil {
		return 0, err
	}
	if len(r.opts.Immediate) > 0 {
		fresh, err := r.claimer.ClaimStale(ctx, r.opts.Immediate, now.Add(time.Nanosecond), r.opts.BatchSize)
		if err != nil {
			return 0, err
		}
		stale = append(stale, fresh...)
	}
	fired := 0
	for _, job := range stale {
		ev := Event{JobID: job.JobID, Status: job.Status, At: r.now().UTC()}
		if err := r.pub.Publish(ctx, ev); err != nil {
			r.logger.Error().Err(err).Str("job_id", job.JobID).Msg("reconciler: publish failed")
			continue
		}
		fired++
		r.logger.Info().Str("job_id", job.JobID).Str("status", string(job.Status)).Msg("reconciler: re-fired stale job")
	}
	return fired, nil
}

// SettleRefunds claims one batch of failed jobs with an unrecorded refund and
// settles each. It returns how many were settled.
func (r *Reconciler) SettleRefunds(ctx context.Context) (int, error) {
	if r.owed == nil || r.refunder == nil {
		return 0, nil
	}
	owed, err := r.owed.ClaimUnrefunded(ctx, r.now().Add(-r.opts.StaleAfter), r.opts.BatchSize)
	if err != nil {
		return 0, err
	}
	settled := 0
	for _, job := range owed {
		if err := r.refunder.SettleRefund(ctx, job.JobID); err != nil {
			r.logger.Error().Err(err).Str("job_id", job.JobID).Msg("reconciler: refund still pending")
			continue
		}
		settled++
	}
	return settled, nil
}

func without(all, drop []domain.Status) []domain.Status {
	out := make([]domain.Status, 0, len(all))
	for _, s := range all {
		if !slices.Contains(drop, s) {
			out = append(out, s)
		}
	}
	return out
}

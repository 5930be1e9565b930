package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sabalioglu/ai-ugc/internal/domain"
	"github.com/sabalioglu/ai-ugc/internal/infra"
	"github.com/sabalioglu/ai-ugc/internal/providers/assembly"
	"github.com/sabalioglu/ai-ugc/internal/providers/genai"
	"github.com/sabalioglu/ai-ugc/internal/providers/task"
)

// LLM answers one structured-output prompt.
type LLM interface {
	Generate(ctx context.Context, req genai.Request) (string, error)
}

// Assembler concatenates segment videos into the final artifact.
type Assembler interface {
	Assemble(ctx context.Context, req assembly.Request) (string, error)
}

// ImageFetcher downloads an image so it can be attached to an LLM call.
type ImageFetcher func(ctx context.Context, url string) (genai.Image, error)

// Config holds the pipeline tunables.
type Config struct {
	ImageModel      string
	ShortVideoModel string
	LongVideoModel  string

	LongFormThreshold int
	SegmentSeconds    int

	// StageBudget bounds one handler invocation. Every poll window fits inside it.
	StageBudget time.Duration
	// ResumeAfter is how long an analysis claim may sit before another
	// invocation takes it over.
	ResumeAfter time.Duration
	// HeartbeatEvery throttles the updated_at touches issued while polling.
	HeartbeatEvery time.Duration
	// RefundAttempts and RefundBackoff bound the ledger retries of one refund.
	// Backoff doubles after each failed attempt.
	RefundAttempts int
	RefundBackoff  time.Duration

	CharacterPoll  task.Policy
	FramePoll      task.Policy
	ShortVideoPoll task.Policy
	LongVideoPoll  task.Policy
}

// ConfigFrom maps service configuration onto pipeline tunables.
func ConfigFrom(cfg *infra.Config) Config {
	policy := func(pc infra.PollConfig) task.Policy {
		return task.Policy{Interval: pc.Interval, MaxAttempts: pc.MaxAttempts}
	}
	return Config{
		ImageModel:        cfg.ImageModel,
		ShortVideoModel:   cfg.ShortVideoModel,
		LongVideoModel:    cfg.LongVideoModel,
		LongFormThreshold: cfg.LongFormThreshold,
		SegmentSeconds:    cfg.SegmentSeconds,
		StageBudget:       cfg.StageBudget,
		ResumeAfter:       cfg.ReconcileStaleAfter,
		HeartbeatEvery:    time.Minute,
		RefundAttempts:    4,
		RefundBackoff:     time.Second,
		CharacterPoll:     policy(cfg.CharacterPoll),
		FramePoll:         policy(cfg.FramePoll),
		ShortVideoPoll:    policy(cfg.ShortVideoPoll),
		LongVideoPoll:     policy(cfg.LongVideoPoll),
	}
}

// Deps are the collaborators every stage uses.
type Deps struct {
	Jobs       domain.JobRepository
	Ledger     domain.CreditLedger
	Tasks      task.Client
	LLM        LLM
	Assembler  Assembler
	FetchImage ImageFetcher
	Logger     *infra.Logger
}

// Pipeline runs the five stage handlers. It holds no per-job state; every
// handler reloads the job and coordinates only through the store.
type Pipeline struct {
	jobs      domain.JobRepository
	ledger    domain.CreditLedger
	tasks     task.Client
	llm       LLM
	assembler Assembler
	fetch     ImageFetcher
	cfg       Config
	logger    *infra.Logger
	now       func() time.Time
}

func New(deps Deps, cfg Config) *Pipeline {
	logger := deps.Logger
	if logger == nil {
		logger = infra.DiscardLogger()
	}
	if cfg.StageBudget <= 0 {
		cfg.StageBudget = time.Hour
	}
	if cfg.SegmentSeconds <= 0 {
		cfg.SegmentSeconds = 8
	}
	if cfg.LongFormThreshold <= 0 {
		cfg.LongFormThreshold = 12
	}
	if cfg.HeartbeatEvery <= 0 {
		cfg.HeartbeatEvery = time.Minute
	}
	if cfg.RefundAttempts < 1 {
		cfg.RefundAttempts = 4
	}
	if cfg.RefundBackoff <= 0 {
		cfg.RefundBackoff = time.Second
	}
	return &Pipeline{
		jobs:      deps.Jobs,
		ledger:    deps.Ledger,
		tasks:     deps.Tasks,
		llm:       deps.LLM,
		assembler: deps.Assembler,
		fetch:     deps.FetchImage,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}
}

// Stage is one handler bound to the status that triggers it.
type Stage struct {
	Name    string
	Trigger domain.Status
	Run     func(ctx context.Context, jobID string) error
}

// Stages lists the handlers in pipeline order. Analysis is also bound to
// processing so a stalled claim can be resumed.
func (p *Pipeline) Stages() []Stage {
	return []Stage{
		{Name: stageAnalysis, Trigger: domain.StatusPending, Run: p.Analyze},
		{Name: stageAnalysis, Trigger: domain.StatusProcessing, Run: p.Analyze},
		{Name: stageCharacter, Trigger: domain.StatusReadyForChar, Run: p.Character},
		{Name: stageFrames, Trigger: domain.StatusReadyForVideo, Run: p.Frames},
		{Name: stageSynthesis, Trigger: domain.StatusReadyForSynthesis, Run: p.Synthesize},
		{Name: stageAssembly, Trigger: domain.StatusReadyForAssembly, Run: p.Assemble},
	}
}

const (
	stageAnalysis  = "analysis"
	stageCharacter = "character"
	stageFrames    = "frames"
	stageSynthesis = "synthesis"
	stageAssembly  = "assembly"
)

// errSkip marks an invocation whose precondition did not hold.
var errSkip = errors.New("stage precondition not met")

// stageWork performs a stage on a loaded job. It returns the status the job
// was held in while working, used to guard the failure write.
type stageWork func(ctx context.Context, job *domain.Job) (domain.Status, error)

// run is the shared handler boundary. Precondition misses and lost races are
// no-ops; any other work error fails the job and refunds its credits. Only
// store errors and shutdown are returned to the caller.
func (p *Pipeline) run(ctx context.Context, stage, jobID string, work stageWork) error {
	start := p.now()
	outcome := outcomeSuccess
	defer func() {
		stageDuration.WithLabelValues(stage, outcome).Observe(time.Since(start).Seconds())
		stageRuns.WithLabelValues(stage, outcome).Inc()
	}()
	log := p.logger.With().Str("job_id", jobID).Str("stage", stage).Logger()

	stageCtx, cancel := context.WithTimeout(ctx, p.cfg.StageBudget)
	defer cancel()

	job, err := p.jobs.Get(stageCtx, jobID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			outcome = outcomeSkipped
			log.Warn().Msg("pipeline: job not found, skipping")
			return nil
		}
		outcome = outcomeError
		return fmt.Errorf("load job %s: %w", jobID, err)
	}

	working, workErr := work(stageCtx, job)
	switch {
	case workErr == nil:
		log.Info().Dur("elapsed", time.Since(start)).Msg("pipeline: stage completed")
		return nil
	case errors.Is(workErr, errSkip):
		outcome = outcomeSkipped
		log.Debug().Str("status", string(job.Status)).Msg("pipeline: job already in status, skipping")
		return nil
	case errors.Is(workErr, domain.ErrStateConflict):
		outcome = outcomeConflict
		log.Info().Err(workErr).Msg("pipeline: job moved on, dropping stage result")
		return nil
	case ctx.Err() != nil:
		outcome = outcomeInterrupted
		log.Warn().Err(workErr).Msg("pipeline: stage interrupted")
		return ctx.Err()
	}

	if errors.Is(workErr, context.DeadlineExceeded) {
		workErr = fmt.Errorf("%w: stage exceeded its %s budget", domain.ErrTimeout, p.cfg.StageBudget)
	}
	outcome = outcomeFailed
	log.Error().Err(workErr).Str("status", string(working)).Msg("pipeline: stage failed")
	p.fail(ctx, job, working, stage, workErr)
	return nil
}

// fail moves the job to failed and issues the single refund. The failed write
// is guarded by the working status so exactly one invocation wins it, and
// only the winner refunds.
func (p *Pipeline) fail(ctx context.Context, job *domain.Job, from domain.Status, stage string, cause error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	log := p.logger.With().Str("job_id", job.JobID).Str("stage", stage).Logger()

	failed, err := p.jobs.Update(ctx, job.JobID, domain.Patch{
		Expect:       domain.Ptr(from),
		Status:       domain.Ptr(domain.StatusFailed),
		CurrentStep:  domain.Ptr("Failed"),
		ErrorMessage: domain.Ptr(fmt.Sprintf("%s: %v", stage, cause)),
	})
	if err != nil {
		if errors.Is(err, domain.ErrStateConflict) {
			log.Info().Err(err).Msg("pipeline: failure already recorded elsewhere")
			return
		}
		log.Error().Err(err).Msg("pipeline: mark job failed")
		return
	}
	if err := p.refund(ctx, failed); err != nil {
		// The reconciler settles it later through SettleRefund.
		log.Error().Err(err).Msg("pipeline: refund left pending")
	}
}

// SettleRefund issues the refund still owed to a failed job: one whose
// credits were charged but whose refund was never recorded. Jobs in any other
// state, or already refunded, are left alone.
func (p *Pipeline) SettleRefund(ctx context.Context, jobID string) error {
	job, err := p.jobs.Get(ctx, jobID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load job %s: %w", jobID, err)
	}
	if job.Status != domain.StatusFailed || job.CreditsCost <= 0 || job.CreditsRefunded > 0 {
		return nil
	}
	p.logger.Warn().Str("job_id", jobID).Int("credits", job.CreditsCost).Msg("pipeline: settling unrecorded refund")
	return p.refund(ctx, job)
}

// refund returns the job's charge to the ledger and records it on the job.
// The ledger refunds a job at most once, so repeating a refund whose outcome
// was lost only records it.
func (p *Pipeline) refund(ctx context.Context, job *domain.Job) error {
	if job.CreditsCost <= 0 || p.ledger == nil {
		return nil
	}
	log := p.logger.With().Str("job_id", job.JobID).Int("credits", job.CreditsCost).Logger()

	var refunded bool
	backoff := p.cfg.RefundBackoff
	for attempt := 1; ; attempt++ {
		var err error
		refunded, err = p.ledger.Refund(ctx, job.UserID, job.JobID, job.CreditsCost)
		if err == nil {
			break
		}
		if attempt >= p.cfg.RefundAttempts {
			return fmt.Errorf("refund job %s after %d attempts: %w", job.JobID, attempt, err)
		}
		log.Warn().Err(err).Int("attempt", attempt).Dur("backoff", backoff).Msg("pipeline: refund failed, retrying")
		if err := sleepCtx(ctx, backoff); err != nil {
			return fmt.Errorf("refund job %s: %w", job.JobID, err)
		}
		backoff *= 2
	}
	if refunded {
		refundsTotal.Inc()
		log.Info().Msg("pipeline: credits refunded")
	}
	patch := domain.Patch{Expect: domain.Ptr(domain.StatusFailed), CreditsRefunded: domain.Ptr(job.CreditsCost)}
	if _, err := p.jobs.Update(ctx, job.JobID, patch); err != nil {
		return fmt.Errorf("record refund of job %s: %w", job.JobID, err)
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// step writes an in-stage progress update guarded by the working status.
func (p *Pipeline) step(ctx context.Context, jobID string, status domain.Status, progress int, text string) error {
	_, err := p.jobs.Update(ctx, jobID, domain.Step(status, progress, text))
	return err
}

// heartbeat touches the job at most every HeartbeatEvery while a poll loop
// waits, so the reconciler can tell a slow stage from a lost one.
type heartbeat struct {
	p      *Pipeline
	ctx    context.Context
	jobID  string
	status domain.Status

	mu   sync.Mutex
	last time.Time
}

func (p *Pipeline) newHeartbeat(ctx context.Context, jobID string, status domain.Status) *heartbeat {
	return &heartbeat{p: p, ctx: ctx, jobID: jobID, status: status, last: p.now()}
}

func (h *heartbeat) beat(int) {
	h.mu.Lock()
	now := h.p.now()
	if now.Sub(h.last) < h.p.cfg.HeartbeatEvery {
		h.mu.Unlock()
		return
	}
	h.last = now
	h.mu.Unlock()
	if _, err := h.p.jobs.Update(h.ctx, h.jobID, domain.Patch{Expect: domain.Ptr(h.status)}); err != nil {
		h.p.logger.Debug().Err(err).Str("job_id", h.jobID).Msg("pipeline: heartbeat")
	}
}

func (h *heartbeat) policy(base task.Policy) task.Policy {
	base.OnPoll = h.beat
	return base
}

func (p *Pipeline) segmentation(job *domain.Job) domain.Segmentation {
	return domain.Segment(job.Duration, p.cfg.LongFormThreshold, p.cfg.SegmentSeconds)
}

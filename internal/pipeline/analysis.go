package pipeline

import (
	"context"
	"fmt"

	"github.com/sabalioglu/ai-ugc/internal/domain"
	"github.com/sabalioglu/ai-ugc/internal/providers/prompt"
)

// Analyze runs the product analysis stage: pending/processing -> ready_for_char.
func (p *Pipeline) Analyze(ctx context.Context, jobID string) error {
	return p.run(ctx, stageAnalysis, jobID, p.analyze)
}

func (p *Pipeline) analyze(ctx context.Context, job *domain.Job) (domain.Status, error) {
	switch job.Status {
	case domain.StatusPending:
		now := p.now()
		claim := domain.Advance(domain.StatusPending, domain.StatusProcessing, 10, "Analyzing product image")
		claim.StartedAt = &now
		if _, err := p.jobs.Update(ctx, job.JobID, claim); err != nil {
			return domain.StatusPending, err
		}
	case domain.StatusProcessing:
		// Another invocation holds the claim unless it has gone quiet.
		if job.StartedAt != nil && p.now().Sub(*job.StartedAt) < p.cfg.ResumeAfter {
			return job.Status, errSkip
		}
		p.logger.Warn().Str("job_id", job.JobID).Msg("pipeline: resuming stalled analysis")
		now := p.now()
		claim := domain.Step(domain.StatusProcessing, 10, "Analyzing product image")
		claim.StartedAt = &now
		if _, err := p.jobs.Update(ctx, job.JobID, claim); err != nil {
			return domain.StatusProcessing, err
		}
	default:
		return job.Status, errSkip
	}
	const working = domain.StatusProcessing

	image, err := p.fetch(ctx, job.ProductImageURL)
	if err != nil {
		return working, fmt.Errorf("fetch product image: %w", err)
	}
	in := prompt.InputsFromJob(job)
	raw, err := p.llm.Generate(ctx, prompt.Analysis(in, image))
	if err != nil {
		return working, fmt.Errorf("product analysis: %w", err)
	}
	analysis, creator, err := prompt.ParseAnalysis(raw, in)
	if err != nil {
		return working, err
	}

	next := domain.Advance(working, domain.StatusReadyForChar, 25, "Product analyzed")
	next.Analysis = analysis
	next.Creator = creator
	_, err = p.jobs.Update(ctx, job.JobID, next)
	return working, err
}

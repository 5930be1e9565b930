package pipeline

import (
	"context"
	"fmt"

	"github.com/sabalioglu/ai-ugc/internal/domain"
	"github.com/sabalioglu/ai-ugc/internal/providers/prompt"
	"github.com/sabalioglu/ai-ugc/internal/providers/task"
)

// Character runs the character synthesis stage: ready_for_char -> ready_for_video.
func (p *Pipeline) Character(ctx context.Context, jobID string) error {
	return p.run(ctx, stageCharacter, jobID, p.character)
}

func (p *Pipeline) character(ctx context.Context, job *domain.Job) (domain.Status, error) {
	const working = domain.StatusReadyForChar
	if job.Status != working {
		return job.Status, errSkip
	}
	if job.Creator == nil {
		return working, fmt.Errorf("%w: job has no creator profile", domain.ErrInvalidInput)
	}
	if err := p.step(ctx, job.JobID, working, 30, "Designing creator"); err != nil {
		return working, err
	}

	in := prompt.InputsFromJob(job)
	raw, err := p.llm.Generate(ctx, prompt.Character(in, job.Analysis, job.Creator))
	if err != nil {
		return working, fmt.Errorf("character prompt: %w", err)
	}
	characterPrompt, err := prompt.ParseCharacterPrompt(raw)
	if err != nil {
		return working, err
	}
	if err := p.step(ctx, job.JobID, working, 35, "Generating creator image"); err != nil {
		return working, err
	}

	hb := p.newHeartbeat(ctx, job.JobID, working)
	h, url, err := task.Run(ctx, p.tasks, task.Request{
		Kind:        task.KindImage,
		Model:       p.cfg.ImageModel,
		Prompt:      characterPrompt,
		ImageURLs:   []string{job.ProductImageURL},
		AspectRatio: job.AspectRatio,
	}, hb.policy(p.cfg.CharacterPoll))
	if err != nil {
		return working, fmt.Errorf("character image: %w", err)
	}
	p.logger.Debug().Str("job_id", job.JobID).Str("task_id", h.ID).Msg("pipeline: character image ready")

	creator := *job.Creator
	creator.CharacterPrompt = characterPrompt
	next := domain.Advance(working, domain.StatusReadyForVideo, 45, "Creator ready")
	next.Creator = &creator
	next.CharacterImageURL = &url
	_, err = p.jobs.Update(ctx, job.JobID, next)
	return working, err
}

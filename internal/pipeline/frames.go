package pipeline

import (
	"context"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/sabalioglu/ai-ugc/internal/domain"
	"github.com/sabalioglu/ai-ugc/internal/providers/genai"
	"github.com/sabalioglu/ai-ugc/internal/providers/prompt"
	"github.com/sabalioglu/ai-ugc/internal/providers/task"
)

// Frames runs the scene strategy and frame synthesis stage:
// ready_for_video -> ready_for_synthesis.
func (p *Pipeline) Frames(ctx context.Context, jobID string) error {
	return p.run(ctx, stageFrames, jobID, p.frames)
}

func (p *Pipeline) frames(ctx context.Context, job *domain.Job) (domain.Status, error) {
	const working = domain.StatusReadyForVideo
	if job.Status != working {
		return job.Status, errSkip
	}
	if job.CharacterImageURL == "" {
		return working, fmt.Errorf("%w: job has no character image", domain.ErrInvalidInput)
	}
	seg := p.segmentation(job)
	if err := p.step(ctx, job.JobID, working, 50, fmt.Sprintf("Planning %d scenes", seg.Count)); err != nil {
		return working, err
	}

	in := prompt.InputsFromJob(job)
	raw, err := p.llm.Generate(ctx, prompt.Strategy(in, job.Analysis, job.Creator, seg))
	if err != nil {
		return working, fmt.Errorf("scene strategy: %w", err)
	}
	scenes, err := prompt.ParseStrategy(raw, seg)
	if err != nil {
		return working, err
	}

	urls, err := p.generateFrames(ctx, job, scenes)
	if err != nil {
		return working, err
	}
	if err := p.step(ctx, job.JobID, working, 65, "Writing scene script"); err != nil {
		return working, err
	}

	images := make([]genai.Image, len(urls))
	for i, u := range urls {
		if images[i], err = p.fetch(ctx, u); err != nil {
			return working, fmt.Errorf("fetch frame %d: %w", i+1, err)
		}
	}
	raw, err = p.llm.Generate(ctx, prompt.Script(in, seg, scenes, images))
	if err != nil {
		return working, fmt.Errorf("scene script: %w", err)
	}
	plan, err := prompt.ParseScript(raw, seg, scenes)
	if err != nil {
		return working, err
	}
	for i := range plan.Scenes {
		plan.Scenes[i].FrameURL = urls[i]
	}

	next := domain.Advance(working, domain.StatusReadyForSynthesis, 85, "Scenes ready")
	next.Plan = plan
	_, err = p.jobs.Update(ctx, job.JobID, next)
	return working, err
}

// generateFrames submits one image task per scene and polls them together.
// Each frame is persisted as soon as it lands, including when a sibling
// fails; the stage only succeeds when every frame does. Slots already filled
// by an earlier attempt are reused.
func (p *Pipeline) generateFrames(ctx context.Context, job *domain.Job, scenes []domain.Scene) ([]string, error) {
	const working = domain.StatusReadyForVideo
	n := len(scenes)
	urls := make([]string, n)
	var done atomic.Int32
	hb := p.newHeartbeat(ctx, job.JobID, working)

	var g errgroup.Group
	for i, scene := range scenes {
		i, scene := i, scene
		slot := i + 1
		if existing := job.FrameURLs[i]; existing != "" {
			urls[i] = existing
			done.Add(1)
			continue
		}
		g.Go(func() error {
			h, url, err := task.Run(ctx, p.tasks, task.Request{
				Kind:        task.KindImage,
				Model:       p.cfg.ImageModel,
				Prompt:      scene.ImagePrompt,
				ImageURLs:   []string{job.CharacterImageURL, job.ProductImageURL},
				AspectRatio: job.AspectRatio,
			}, hb.policy(p.cfg.FramePoll))
			if err != nil {
				return fmt.Errorf("frame %d: %w", slot, err)
			}
			urls[i] = url
			finished := int(done.Add(1))

			patch := domain.Step(working, 50+15*finished/n, fmt.Sprintf("Generated frame %d of %d", finished, n))
			patch.FrameURLs = map[int]string{slot: url}
			if slot == 1 {
				patch.StartFrameURL = &url
			}
			if slot == n {
				patch.EndFrameURL = &url
			}
			if _, err := p.jobs.Update(ctx, job.JobID, patch); err != nil {
				return fmt.Errorf("store frame %d: %w", slot, err)
			}
			p.logger.Debug().Str("job_id", job.JobID).Int("segment", slot).Str("task_id", h.ID).Msg("pipeline: frame stored")
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return urls, nil
}

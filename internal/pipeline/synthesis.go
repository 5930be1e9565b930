package pipeline

import (
	"context"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/sabalioglu/ai-ugc/internal/domain"
	"github.com/sabalioglu/ai-ugc/internal/providers/prompt"
	"github.com/sabalioglu/ai-ugc/internal/providers/task"
)

// Synthesize runs the scene video stage: ready_for_synthesis -> ready_for_assembly.
func (p *Pipeline) Synthesize(ctx context.Context, jobID string) error {
	return p.run(ctx, stageSynthesis, jobID, p.synthesize)
}

func (p *Pipeline) synthesize(ctx context.Context, job *domain.Job) (domain.Status, error) {
	const working = domain.StatusReadyForSynthesis
	if job.Status != working {
		return job.Status, errSkip
	}
	if job.Plan == nil || len(job.Plan.Scenes) == 0 {
		return working, fmt.Errorf("%w: job has no scene plan", domain.ErrInvalidInput)
	}
	if len(job.Plan.Scenes) > domain.MaxSegments {
		return working, fmt.Errorf("%w: %d scenes exceed %d video slots", domain.ErrInvalidInput, len(job.Plan.Scenes), domain.MaxSegments)
	}
	if job.StartFrameURL == "" {
		return working, fmt.Errorf("%w: job has no start frame", domain.ErrInvalidInput)
	}
	if err := p.step(ctx, job.JobID, working, 85, fmt.Sprintf("Generating %d video segments", len(job.Plan.Scenes))); err != nil {
		return working, err
	}

	var err error
	if job.Plan.Mode == domain.ModeLongForm {
		err = p.extendChain(ctx, job)
	} else {
		err = p.parallelClips(ctx, job)
	}
	if err != nil {
		return working, err
	}
	_, err = p.jobs.Update(ctx, job.JobID, domain.Advance(working, domain.StatusReadyForAssembly, 95, "Videos ready"))
	return working, err
}

// parallelClips generates every short-form segment at once, each anchored on
// the start frame.
func (p *Pipeline) parallelClips(ctx context.Context, job *domain.Job) error {
	scenes := job.Plan.Scenes
	n := len(scenes)
	var done atomic.Int32
	hb := p.newHeartbeat(ctx, job.JobID, domain.StatusReadyForSynthesis)

	var g errgroup.Group
	for i, scene := range scenes {
		scene := scene
		slot := i + 1
		if job.VideoURLs[i] != "" {
			done.Add(1)
			continue
		}
		g.Go(func() error {
			_, url, err := task.Run(ctx, p.tasks, task.Request{
				Kind:        task.KindVideo,
				Model:       p.cfg.ShortVideoModel,
				Prompt:      prompt.VideoPrompt(scene),
				ImageURLs:   []string{job.StartFrameURL},
				Duration:    scene.Duration,
				AspectRatio: job.AspectRatio,
			}, hb.policy(p.cfg.ShortVideoPoll))
			if err != nil {
				return fmt.Errorf("segment %d: %w", slot, err)
			}
			return p.storeSegment(ctx, job.JobID, slot, n, int(done.Add(1)), url, nil)
		})
	}
	return g.Wait()
}

// extendChain generates long-form segments strictly in order: the first from
// the start frame, each later one as an extension of the previous task. Each
// stored segment records its task id in the plan, so a rerun continues after
// the last segment that has both a video and a task id.
func (p *Pipeline) extendChain(ctx context.Context, job *domain.Job) error {
	plan := *job.Plan
	plan.Scenes = append([]domain.Scene(nil), job.Plan.Scenes...)
	n := len(plan.Scenes)
	hb := p.newHeartbeat(ctx, job.JobID, domain.StatusReadyForSynthesis)

	resume := 0
	for resume < n && job.VideoURLs[resume] != "" && plan.Scenes[resume].TaskID != "" {
		resume++
	}
	if resume > 0 {
		p.logger.Info().Str("job_id", job.JobID).Int("segments", resume).Msg("pipeline: resuming extension chain")
	}

	for i := resume; i < n; i++ {
		scene := plan.Scenes[i]
		slot := i + 1
		req := task.Request{
			Kind:        task.KindVideo,
			Model:       p.cfg.LongVideoModel,
			Prompt:      prompt.VideoPrompt(scene),
			Duration:    scene.Duration,
			AspectRatio: job.AspectRatio,
		}
		if i == 0 {
			req.ImageURLs = []string{job.StartFrameURL}
		} else {
			req.ExtendFrom = plan.Scenes[i-1].TaskID
		}
		h, url, err := task.Run(ctx, p.tasks, req, hb.policy(p.cfg.LongVideoPoll))
		if err != nil {
			return fmt.Errorf("segment %d: %w", slot, err)
		}
		plan.Scenes[i].TaskID = h.ID
		if err := p.storeSegment(ctx, job.JobID, slot, n, slot, url, &plan); err != nil {
			return err
		}
	}
	return nil
}

// storeSegment records a finished segment. A non-nil plan is written with it.
func (p *Pipeline) storeSegment(ctx context.Context, jobID string, slot, total, finished int, url string, plan *domain.ScenePlan) error {
	patch := domain.Step(domain.StatusReadyForSynthesis, 85+10*finished/total, fmt.Sprintf("Generated segment %d of %d", finished, total))
	patch.VideoURLs = map[int]string{slot: url}
	patch.Plan = plan
	if _, err := p.jobs.Update(ctx, jobID, patch); err != nil {
		return fmt.Errorf("store segment %d: %w", slot, err)
	}
	p.logger.Debug().Str("job_id", jobID).Int("segment", slot).Msg("pipeline: segment stored")
	return nil
}

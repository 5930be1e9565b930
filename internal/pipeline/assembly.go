package pipeline

import (
	"context"
	"fmt"

	"github.com/sabalioglu/ai-ugc/internal/domain"
	"github.com/sabalioglu/ai-ugc/internal/providers/assembly"
)

// Assemble runs the final stage: ready_for_assembly -> completed.
func (p *Pipeline) Assemble(ctx context.Context, jobID string) error {
	return p.run(ctx, stageAssembly, jobID, p.assemble)
}

func (p *Pipeline) assemble(ctx context.Context, job *domain.Job) (domain.Status, error) {
	const working = domain.StatusReadyForAssembly
	if job.Status != working {
		return job.Status, errSkip
	}
	videos, err := segmentVideos(job)
	if err != nil {
		return working, err
	}
	if err := p.step(ctx, job.JobID, working, 95, fmt.Sprintf("Assembling %d segments", len(videos))); err != nil {
		return working, err
	}

	url, err := p.assembler.Assemble(ctx, assembly.Request{
		JobID:    job.JobID,
		Videos:   videos,
		AudioURL: job.AudioURL,
	})
	if err != nil {
		return working, err
	}

	now := p.now()
	next := domain.Advance(working, domain.StatusCompleted, 100, "Completed")
	next.VideoURL = &url
	next.CompletedAt = &now
	if job.StartFrameURL != "" {
		next.ThumbnailURL = domain.Ptr(job.StartFrameURL)
	}
	_, err = p.jobs.Update(ctx, job.JobID, next)
	return working, err
}

// segmentVideos returns the slots 1..n of the scene plan in order, failing
// when any of them is missing.
func segmentVideos(job *domain.Job) ([]string, error) {
	n := domain.MaxSegments
	if job.Plan != nil && len(job.Plan.Scenes) > 0 {
		n = min(len(job.Plan.Scenes), domain.MaxSegments)
	} else if filled := job.VideoURLs.Filled(); len(filled) > 0 {
		return filled, nil
	}
	videos := make([]string, 0, n)
	for i := 0; i < n; i++ {
		if job.VideoURLs[i] == "" {
			return nil, fmt.Errorf("%w: segment %d has no video", domain.ErrAssemblyFailure, i+1)
		}
		videos = append(videos, job.VideoURLs[i])
	}
	return videos, nil
}

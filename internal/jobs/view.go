package jobs

import (
	"encoding/json"

	"github.com/sabalioglu/ai-ugc/internal/domain"
)

// View is the client representation of a job: the stored record plus the
// ordered scene videos and the coarse status.
type View struct {
	Job          *domain.Job
	SceneVideos  []string
	CoarseStatus string
	// Mode and Overdue are set on status stream events only.
	Mode    string
	Overdue bool
}

func NewView(job *domain.Job) View {
	return View{
		Job:          job,
		SceneVideos:  job.VideoURLs.Filled(),
		CoarseStatus: job.Status.Coarse(),
	}
}

func (v View) MarshalJSON() ([]byte, error) {
	raw, err := json.Marshal(v.Job)
	if err != nil {
		return nil, err
	}
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	fields["scene_videos"], _ = json.Marshal(v.SceneVideos)
	fields["coarse_status"], _ = json.Marshal(v.CoarseStatus)
	if v.Mode != "" {
		fields["sync_mode"], _ = json.Marshal(v.Mode)
		fields["overdue"], _ = json.Marshal(v.Overdue)
	}
	return json.Marshal(fields)
}

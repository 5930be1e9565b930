package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Status is the fine-grained pipeline cursor persisted on every job.
type Status string

const (
	StatusPending           Status = "pending"
	StatusProcessing        Status = "processing"
	StatusReadyForChar      Status = "ready_for_char"
	StatusReadyForVideo     Status = "ready_for_video"
	StatusReadyForSynthesis Status = "ready_for_synthesis"
	StatusReadyForAssembly  Status = "ready_for_assembly"
	StatusCompleted         Status = "completed"
	StatusFailed            Status = "failed"
)

// MaxSegments bounds the number of individually addressable frame and video slots.
const MaxSegments = 8

var statusRank = map[Status]int{
	StatusPending:           0,
	StatusProcessing:        1,
	StatusReadyForChar:      2,
	StatusReadyForVideo:     3,
	StatusReadyForSynthesis: 4,
	StatusReadyForAssembly:  5,
	StatusCompleted:         6,
}

// Band is the progress sub-range owned by a status.
type Band struct {
	Min int
	Max int
}

var statusBands = map[Status]Band{
	StatusPending:           {0, 10},
	StatusProcessing:        {10, 25},
	StatusReadyForChar:      {25, 45},
	StatusReadyForVideo:     {45, 85},
	StatusReadyForSynthesis: {85, 95},
	StatusReadyForAssembly:  {95, 100},
	StatusCompleted:         {100, 100},
	StatusFailed:            {0, 100},
}

// ParseStatus validates a persisted status value.
func ParseStatus(v string) (Status, error) {
	s := Status(v)
	if s == StatusFailed {
		return s, nil
	}
	if _, ok := statusRank[s]; !ok {
		return "", fmt.Errorf("%w: unknown status %q", ErrInvalidInput, v)
	}
	return s, nil
}

// Rank returns the position of the status in the forward order. Failed has no rank.
func (s Status) Rank() int {
	if r, ok := statusRank[s]; ok {
		return r
	}
	return -1
}

// IsTerminal reports whether no further transition is allowed.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanAdvanceTo reports whether moving from s to next respects the forward-only order.
// Failed is reachable from every non-terminal state; terminal states never move.
func (s Status) CanAdvanceTo(next Status) bool {
	if s.IsTerminal() {
		return false
	}
	if next == StatusFailed {
		return true
	}
	nr := next.Rank()
	return nr >= 0 && nr >= s.Rank()
}

// Band returns the progress range reserved for the status.
func (s Status) Band() Band {
	if b, ok := statusBands[s]; ok {
		return b
	}
	return Band{0, 100}
}

// Coarse collapses the internal cursor into the user-facing status.
func (s Status) Coarse() string {
	switch s {
	case StatusPending, StatusCompleted, StatusFailed:
		return string(s)
	default:
		return string(StatusProcessing)
	}
}

// ClampProgress keeps p inside the band of s.
func ClampProgress(s Status, p int) int {
	b := s.Band()
	if p < b.Min {
		return b.Min
	}
	if p > b.Max {
		return b.Max
	}
	return p
}

// Job is the persisted record of one video-generation request.
type Job struct {
	ID                 string          `json:"id"`
	JobID              string          `json:"job_id"`
	UserID             string          `json:"user_id"`
	UserEmail          string          `json:"user_email"`
	ProductName        string          `json:"product_name"`
	ProductDescription string          `json:"product_description"`
	TargetAudience     string          `json:"target_audience"`
	UGCStyle           string          `json:"ugc_style"`
	Platform           string          `json:"platform"`
	Duration           int             `json:"duration"`
	AspectRatio        string          `json:"aspect_ratio"`
	SceneCount         int             `json:"scene_count"`
	ProductImageURL    string          `json:"product_image_url"`
	Status             Status          `json:"status"`
	Progress           int             `json:"progress_percentage"`
	CurrentStep        string          `json:"current_step"`
	Analysis           *Analysis       `json:"product_analysis,omitempty"`
	Creator            *CreatorProfile `json:"character_model,omitempty"`
	Plan               *ScenePlan      `json:"video_segments,omitempty"`
	CharacterImageURL  string          `json:"character_image_url"`
	StartFrameURL      string          `json:"start_frame_url"`
	EndFrameURL        string          `json:"end_frame_url"`
	FrameURLs          Slots           `json:"-"`
	VideoURLs          Slots           `json:"-"`
	AudioURL           string          `json:"audio_url"`
	VideoURL           string          `json:"video_url"`
	ThumbnailURL       string          `json:"thumbnail_url"`
	ErrorMessage       string          `json:"error_message"`
	CreditsCost        int             `json:"credits_cost"`
	CreditsRefunded    int             `json:"credits_refunded"`
	CreatedAt          time.Time       `json:"created_at"`
	StartedAt          *time.Time      `json:"started_at"`
	CompletedAt        *time.Time      `json:"completed_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

// Slots holds per-segment URLs; index 0 is slot 1.
type Slots [MaxSegments]string

// Filled returns the non-empty slots in order.
func (s Slots) Filled() []string {
	out := make([]string, 0, MaxSegments)
	for _, v := range s {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

// FrameColumn names the persisted column for frame slot i (1-based).
func FrameColumn(i int) string { return fmt.Sprintf("frame_url_%d", i) }

// VideoColumn names the persisted column for video slot i (1-based).
func VideoColumn(i int) string { return fmt.Sprintf("video_url_%d", i) }

type plainJob Job

// MarshalJSON flattens the slot arrays into individually named fields so that
// push payloads and full records share the same keys.
func (j Job) MarshalJSON() ([]byte, error) {
	raw, err := json.Marshal(plainJob(j))
	if err != nil {
		return nil, err
	}
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	for i := 0; i < MaxSegments; i++ {
		fields[FrameColumn(i+1)], _ = json.Marshal(j.FrameURLs[i])
		fields[VideoColumn(i+1)], _ = json.Marshal(j.VideoURLs[i])
	}
	return json.Marshal(fields)
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (j *Job) UnmarshalJSON(data []byte) error {
	var p plainJob
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	for i := 0; i < MaxSegments; i++ {
		if raw, ok := fields[FrameColumn(i+1)]; ok {
			_ = json.Unmarshal(raw, &p.FrameURLs[i])
		}
		if raw, ok := fields[VideoColumn(i+1)]; ok {
			_ = json.Unmarshal(raw, &p.VideoURLs[i])
		}
	}
	*j = Job(p)
	return nil
}

// Clone returns a deep copy safe to hand to another goroutine.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	raw, err := json.Marshal(j)
	if err != nil {
		cp := *j
		return &cp
	}
	var out Job
	if err := json.Unmarshal(raw, &out); err != nil {
		cp := *j
		return &cp
	}
	return &out
}

// MergeFields overlays a partial field set onto the job. Keys absent from
// fields keep their current value.
func (j *Job) MergeFields(fields map[string]json.RawMessage) error {
	if len(fields) == 0 {
		return nil
	}
	raw, err := json.Marshal(j)
	if err != nil {
		return err
	}
	current := map[string]json.RawMessage{}
	if err := json.Unmarshal(raw, &current); err != nil {
		return err
	}
	for k, v := range fields {
		current[k] = v
	}
	merged, err := json.Marshal(current)
	if err != nil {
		return err
	}
	var next Job
	if err := json.Unmarshal(merged, &next); err != nil {
		return err
	}
	*j = next
	return nil
}

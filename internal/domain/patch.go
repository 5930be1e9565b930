package domain

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// Patch is a field-level partial update of a job. Nil fields are left untouched.
// Expect, when set, makes the whole patch conditional on the current status.
type Patch struct {
	Expect *Status

	Status            *Status
	Progress          *int
	CurrentStep       *string
	ErrorMessage      *string
	CreditsRefunded   *int
	Analysis          *Analysis
	Creator           *CreatorProfile
	Plan              *ScenePlan
	CharacterImageURL *string
	StartFrameURL     *string
	EndFrameURL       *string
	FrameURLs         map[int]string
	VideoURLs         map[int]string
	VideoURL          *string
	ThumbnailURL      *string
	StartedAt         *time.Time
	CompletedAt       *time.Time
}

// Column is one persisted field written by a patch.
type Column struct {
	Name  string
	Value any
	// Monotonic columns only ever grow (progress).
	Monotonic bool
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T { return &v }

// Step is shorthand for the status-preserving progress update every stage emits.
func Step(expect Status, progress int, step string) Patch {
	return Patch{
		Expect:      Ptr(expect),
		Progress:    Ptr(ClampProgress(expect, progress)),
		CurrentStep: Ptr(step),
	}
}

// Advance moves a job from one status to the next with the given progress and step text.
func Advance(from, to Status, progress int, step string) Patch {
	return Patch{
		Expect:      Ptr(from),
		Status:      Ptr(to),
		Progress:    Ptr(ClampProgress(to, progress)),
		CurrentStep: Ptr(step),
	}
}

// AllowedSources lists the statuses a job may be in for a write of next to apply.
func AllowedSources(next Status) []Status {
	var out []Status
	for s := range statusRank {
		if s.CanAdvanceTo(next) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Rank() < out[j].Rank() })
	return out
}

// Check verifies the patch may be applied to a job currently in status current.
func (p Patch) Check(current Status) error {
	if p.Expect != nil && *p.Expect != current {
		return fmt.Errorf("%w: expected %s, job is %s", ErrStateConflict, *p.Expect, current)
	}
	if p.Status != nil && !current.CanAdvanceTo(*p.Status) {
		return fmt.Errorf("%w: %s -> %s not allowed", ErrStateConflict, current, *p.Status)
	}
	return p.Validate()
}

// Validate checks the parts of the patch that do not depend on the stored job.
func (p Patch) Validate() error {
	for i := range p.FrameURLs {
		if i < 1 || i > MaxSegments {
			return fmt.Errorf("%w: frame slot %d out of range", ErrInvalidInput, i)
		}
	}
	for i := range p.VideoURLs {
		if i < 1 || i > MaxSegments {
			return fmt.Errorf("%w: video slot %d out of range", ErrInvalidInput, i)
		}
	}
	return nil
}

// Sources returns the statuses the job may be in for the patch to apply, or
// nil when the patch is unguarded.
func (p Patch) Sources() []Status {
	if p.Expect == nil && p.Status == nil {
		return nil
	}
	var candidates []Status
	if p.Expect != nil {
		candidates = []Status{*p.Expect}
	} else {
		candidates = AllowedSources(*p.Status)
	}
	out := make([]Status, 0, len(candidates))
	for _, s := range candidates {
		if p.Status == nil || s.CanAdvanceTo(*p.Status) {
			out = append(out, s)
		}
	}
	return out
}

// IsEmpty reports whether the patch writes no column.
func (p Patch) IsEmpty() bool {
	cols, _ := p.Columns()
	return len(cols) == 0
}

// StatusChange returns the status written by the patch, if any.
func (p Patch) StatusChange() (Status, bool) {
	if p.Status == nil {
		return "", false
	}
	return *p.Status, true
}

// Columns lists the persisted columns in a stable order. JSON documents are
// pre-encoded.
func (p Patch) Columns() ([]Column, error) {
	var cols []Column
	add := func(name string, v any) { cols = append(cols, Column{Name: name, Value: v}) }
	if p.Status != nil {
		add("status", string(*p.Status))
	}
	if p.Progress != nil {
		cols = append(cols, Column{Name: "progress_percentage", Value: *p.Progress, Monotonic: true})
	}
	if p.CurrentStep != nil {
		add("current_step", *p.CurrentStep)
	}
	if p.ErrorMessage != nil {
		add("error_message", *p.ErrorMessage)
	}
	if p.CreditsRefunded != nil {
		add("credits_refunded", *p.CreditsRefunded)
	}
	for _, doc := range []struct {
		name string
		v    any
		set  bool
	}{
		{"product_analysis", p.Analysis, p.Analysis != nil},
		{"character_model", p.Creator, p.Creator != nil},
		{"video_segments", p.Plan, p.Plan != nil},
	} {
		if !doc.set {
			continue
		}
		raw, err := json.Marshal(doc.v)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", doc.name, err)
		}
		add(doc.name, json.RawMessage(raw))
	}
	if p.CharacterImageURL != nil {
		add("character_image_url", *p.CharacterImageURL)
	}
	if p.StartFrameURL != nil {
		add("start_frame_url", *p.StartFrameURL)
	}
	if p.EndFrameURL != nil {
		add("end_frame_url", *p.EndFrameURL)
	}
	for _, i := range sortedSlots(p.FrameURLs) {
		add(FrameColumn(i), p.FrameURLs[i])
	}
	for _, i := range sortedSlots(p.VideoURLs) {
		add(VideoColumn(i), p.VideoURLs[i])
	}
	if p.VideoURL != nil {
		add("video_url", *p.VideoURL)
	}
	if p.ThumbnailURL != nil {
		add("thumbnail_url", *p.ThumbnailURL)
	}
	if p.StartedAt != nil {
		add("started_at", p.StartedAt.UTC())
	}
	if p.CompletedAt != nil {
		add("completed_at", p.CompletedAt.UTC())
	}
	return cols, nil
}

// Fields encodes the columns as a push payload keyed by column name.
func (p Patch) Fields() (map[string]json.RawMessage, error) {
	cols, err := p.Columns()
	if err != nil {
		return nil, err
	}
	out := make(map[string]json.RawMessage, len(cols))
	for _, c := range cols {
		if raw, ok := c.Value.(json.RawMessage); ok {
			out[c.Name] = raw
			continue
		}
		raw, err := json.Marshal(c.Value)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", c.Name, err)
		}
		out[c.Name] = raw
	}
	return out, nil
}

// Apply merges the patch into j. Callers are expected to have run Check.
func (p Patch) Apply(j *Job, now time.Time) {
	if p.Status != nil {
		j.Status = *p.Status
	}
	if p.Progress != nil && *p.Progress > j.Progress {
		j.Progress = *p.Progress
	}
	if p.CurrentStep != nil {
		j.CurrentStep = *p.CurrentStep
	}
	if p.ErrorMessage != nil {
		j.ErrorMessage = *p.ErrorMessage
	}
	if p.CreditsRefunded != nil {
		j.CreditsRefunded = *p.CreditsRefunded
	}
	if p.Analysis != nil {
		a := *p.Analysis
		j.Analysis = &a
	}
	if p.Creator != nil {
		c := *p.Creator
		c.SceneBreakdown = append([]SceneBeat(nil), p.Creator.SceneBreakdown...)
		j.Creator = &c
	}
	if p.Plan != nil {
		plan := ScenePlan{Mode: p.Plan.Mode, Scenes: append([]Scene(nil), p.Plan.Scenes...)}
		j.Plan = &plan
	}
	if p.CharacterImageURL != nil {
		j.CharacterImageURL = *p.CharacterImageURL
	}
	if p.StartFrameURL != nil {
		j.StartFrameURL = *p.StartFrameURL
	}
	if p.EndFrameURL != nil {
		j.EndFrameURL = *p.EndFrameURL
	}
	for i, v := range p.FrameURLs {
		j.FrameURLs[i-1] = v
	}
	for i, v := range p.VideoURLs {
		j.VideoURLs[i-1] = v
	}
	if p.VideoURL != nil {
		j.VideoURL = *p.VideoURL
	}
	if p.ThumbnailURL != nil {
		j.ThumbnailURL = *p.ThumbnailURL
	}
	if p.StartedAt != nil {
		t := p.StartedAt.UTC()
		j.StartedAt = &t
	}
	if p.CompletedAt != nil {
		t := p.CompletedAt.UTC()
		j.CompletedAt = &t
	}
	j.UpdatedAt = now.UTC()
}

func sortedSlots(m map[int]string) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}

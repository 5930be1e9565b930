package domain

import "encoding/json"

// Analysis is the structured result of the product analysis call.
type Analysis struct {
	Product    ProductAnalysis    `json:"product_analysis"`
	Production ProductionMetadata `json:"video_production_metadata"`
}

// ProductAnalysis describes what the model saw in the uploaded image.
type ProductAnalysis struct {
	ProductName         string   `json:"product_name"`
	Category            string   `json:"category"`
	KeyVisualFeatures   []string `json:"key_visual_features"`
	MaterialDescription string   `json:"material_description"`
	ColorPalette        []string `json:"color_palette"`
	BrandingText        string   `json:"branding_text"`
}

// ProductionMetadata carries platform hints for the ad.
type ProductionMetadata struct {
	Platform      string `json:"platform"`
	AspectRatio   string `json:"aspect_ratio"`
	SuggestedHook string `json:"suggested_hook"`
}

// CreatorProfile is the UGC creator persona and the initial scene breakdown.
// The descriptive sections are kept as the model returned them and are only
// ever fed back into later prompts.
type CreatorProfile struct {
	Demographics    json.RawMessage `json:"demographics,omitempty"`
	Appearance      json.RawMessage `json:"appearance,omitempty"`
	SceneSetting    json.RawMessage `json:"scene_setting,omitempty"`
	EnergyAndVibe   json.RawMessage `json:"energy_and_vibe,omitempty"`
	SceneBreakdown  []SceneBeat     `json:"scene_breakdown"`
	CharacterPrompt string          `json:"character_prompt,omitempty"`
}

// SceneBeat is one entry of the analysis-stage breakdown.
type SceneBeat struct {
	SceneNumber       int     `json:"scene_number"`
	TimeRange         string  `json:"time_range"`
	Duration          float64 `json:"duration"`
	Type              string  `json:"type"`
	Description       string  `json:"description"`
	Action            string  `json:"action"`
	ProductVisibility string  `json:"product_visibility"`
}

// Mode selects the segment synthesis algorithm.
type Mode string

const (
	ModeShortForm Mode = "short"
	ModeLongForm  Mode = "long"
)

// ScenePlan is the authoritative segment list consumed by frame and video synthesis.
type ScenePlan struct {
	Mode   Mode    `json:"mode"`
	Scenes []Scene `json:"scenes"`
}

// Scene is one segment of the output video.
type Scene struct {
	SceneNumber  int     `json:"scene_number"`
	TimeRange    string  `json:"time_range,omitempty"`
	Duration     float64 `json:"duration"`
	Type         string  `json:"type,omitempty"`
	Description  string  `json:"description,omitempty"`
	ImagePrompt  string  `json:"image_prompt,omitempty"`
	Emotion      string  `json:"emotion,omitempty"`
	StoryBeat    string  `json:"story_beat,omitempty"`
	MotionPrompt string  `json:"motion_prompt,omitempty"`
	Script       string  `json:"script,omitempty"`
	FrameURL     string  `json:"frame_url,omitempty"`
	// TaskID is the provider task that rendered the scene's video. Long-form
	// segments extend the previous scene's task.
	TaskID string `json:"task_id,omitempty"`
}

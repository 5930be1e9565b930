package prompt

import (
	"fmt"
	"strings"

	"github.com/sabalioglu/ai-ugc/internal/domain"
	"github.com/sabalioglu/ai-ugc/internal/providers/genai"
)

type scriptPayload struct {
	Scenes []scriptScene `json:"scenes"`
}

type scriptScene struct {
	SceneNumber  int     `json:"scene_number"`
	MotionPrompt string  `json:"motion_prompt"`
	Script       string  `json:"script"`
	Duration     float64 `json:"duration"`
}

// Script builds the vision pass over the generated frames. frames must be in
// segment order.
func Script(in Inputs, seg domain.Segmentation, scenes []domain.Scene, frames []genai.Image) genai.Request {
	sb := &strings.Builder{}
	fmt.Fprintf(sb, "You are a professional UGC video scriptwriter. Analyze these %d sequential images and write one continuous, authentic, conversational story across %d clips for %s.\n\n", seg.Count, seg.Count, coalesce(in.ProductName, "the product"))
	if seg.Mode == domain.ModeLongForm {
		fmt.Fprintf(sb, "Scene 1 is the base video. Scenes 2 to %d are extensions: each motion prompt must describe how the action continues from the end of the previous scene with perfect visual and character continuity.\n", seg.Count)
	} else {
		sb.WriteString("Each clip is generated independently from the first frame, so every motion prompt must stand on its own.\n")
	}
	sb.WriteString("\nStory beats so far:\n")
	for _, s := range scenes {
		fmt.Fprintf(sb, "%d. %s (%s)\n", s.SceneNumber, coalesce(s.StoryBeat, s.ImagePrompt), s.Emotion)
	}
	sb.WriteString("\n")
	sb.WriteString(contentRules)
	sb.WriteString("\n\nRespond strictly with JSON, without markdown fences: ")
	sb.WriteString(`{"scenes":[{"scene_number":number,"motion_prompt":string,"script":string,"duration":number}]}`)

	return genai.Request{
		Purpose:  "script",
		Prompt:   sb.String(),
		Images:   frames,
		Fallback: scriptFallback(in, seg, scenes),
	}
}

// ParseScript merges motion prompts and dialogue into the strategy scenes and
// returns the authoritative plan. Long-form segments keep the fixed segment
// length the extension chain requires.
func ParseScript(raw string, seg domain.Segmentation, scenes []domain.Scene) (*domain.ScenePlan, error) {
	payload, err := parseModelPayload[scriptPayload](raw)
	if err != nil {
		return nil, rejected("script", err)
	}
	if len(payload.Scenes) < len(scenes) {
		return nil, rejected("script", fmt.Errorf("got %d scenes, want %d", len(payload.Scenes), len(scenes)))
	}
	plan := &domain.ScenePlan{Mode: seg.Mode, Scenes: make([]domain.Scene, len(scenes))}
	for i, base := range scenes {
		src := payload.Scenes[i]
		base.MotionPrompt = coalesce(src.MotionPrompt, base.StoryBeat, base.ImagePrompt)
		base.Script = strings.TrimSpace(src.Script)
		if seg.Mode == domain.ModeShortForm && src.Duration > 0 {
			base.Duration = src.Duration
		}
		plan.Scenes[i] = base
	}
	return plan, nil
}

func scriptFallback(in Inputs, seg domain.Segmentation, scenes []domain.Scene) string {
	name := coalesce(in.ProductName, "this")
	payload := scriptPayload{Scenes: make([]scriptScene, len(scenes))}
	for i, s := range scenes {
		payload.Scenes[i] = scriptScene{
			SceneNumber:  i + 1,
			MotionPrompt: fmt.Sprintf("Slow push-in as the creator turns %s toward the camera and smiles", name),
			Script:       fmt.Sprintf("Okay, let me show you why %s is staying in my routine.", name),
			Duration:     s.Duration,
		}
	}
	return mustJSON(payload)
}

// VideoPrompt is the motion prompt sent to the video model for one scene.
// Dialogue is appended so the model can lip-sync the creator.
func VideoPrompt(s domain.Scene) string {
	motion := coalesce(s.MotionPrompt, s.StoryBeat, s.ImagePrompt)
	if s.Script == "" {
		return motion
	}
	return fmt.Sprintf("%s\nThe creator says: %q", motion, s.Script)
}

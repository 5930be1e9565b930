package prompt

import (
	"errors"
	"fmt"
	"strings"

	"github.com/sabalioglu/ai-ugc/internal/domain"
	"github.com/sabalioglu/ai-ugc/internal/providers/genai"
)

type strategyPayload struct {
	Scenes []strategyScene `json:"scenes"`
}

type strategyScene struct {
	SceneNumber       int    `json:"scene_number"`
	PromptForImageGen string `json:"promptForImageGen"`
	Emotion           string `json:"emotion"`
	Narrative         struct {
		StoryBeat string `json:"storyBeat"`
	} `json:"narrative"`
}

// Strategy builds the scene strategy call producing one frame prompt per segment.
func Strategy(in Inputs, analysis *domain.Analysis, creator *domain.CreatorProfile, seg domain.Segmentation) genai.Request {
	name := in.ProductName
	if analysis != nil {
		name = coalesce(analysis.Product.ProductName, name)
	}
	sb := &strings.Builder{}
	fmt.Fprintf(sb, "You are an elite UGC scriptwriter. Craft a compelling %d-scene narrative that sells %s to %s.\n\n", seg.Count, coalesce(name, "the product"), label(in.TargetAudience))
	sb.WriteString("Scene 1 is the hook or problem, the middle scenes develop the story, the final scene shows the result with the product prominent.\n")
	fmt.Fprintf(sb, "Generate exactly %d scenes. Each scene needs a hyper detailed image generation prompt that keeps the same creator, outfit and setting.\n\n", seg.Count)
	sb.WriteString(contentRules)
	if creator != nil {
		sb.WriteString("\n\nCreator profile:\n")
		sb.WriteString(mustJSON(creator))
	}
	sb.WriteString("\n\nRespond strictly with JSON, without markdown fences: ")
	sb.WriteString(`{"scenes":[{"scene_number":number,"promptForImageGen":string,"emotion":string,"narrative":{"storyBeat":string}}]}`)

	return genai.Request{
		Purpose:  "strategy",
		Prompt:   sb.String(),
		Fallback: strategyFallback(in, seg),
	}
}

// ParseStrategy returns exactly seg.Count scenes. Extra scenes are dropped;
// missing scenes or empty frame prompts reject the answer.
func ParseStrategy(raw string, seg domain.Segmentation) ([]domain.Scene, error) {
	payload, err := parseModelPayload[strategyPayload](raw)
	if err != nil {
		return nil, rejected("strategy", err)
	}
	if len(payload.Scenes) < seg.Count {
		return nil, rejected("strategy", fmt.Errorf("got %d scenes, want %d", len(payload.Scenes), seg.Count))
	}
	scenes := make([]domain.Scene, seg.Count)
	var start float64
	for i := range scenes {
		src := payload.Scenes[i]
		if strings.TrimSpace(src.PromptForImageGen) == "" {
			return nil, rejected("strategy", errors.New("scene without promptForImageGen"))
		}
		d := seg.Durations[i]
		scenes[i] = domain.Scene{
			SceneNumber: i + 1,
			TimeRange:   formatSeconds(start) + " - " + formatSeconds(start+d),
			Duration:    d,
			ImagePrompt: strings.TrimSpace(src.PromptForImageGen),
			Emotion:     src.Emotion,
			StoryBeat:   src.Narrative.StoryBeat,
		}
		start += d
	}
	return scenes, nil
}

var fallbackEmotions = []string{"Frustrated", "Curious", "Surprised", "Confident", "Delighted"}

func strategyFallback(in Inputs, seg domain.Segmentation) string {
	name := coalesce(in.ProductName, "the product")
	payload := strategyPayload{Scenes: make([]strategyScene, seg.Count)}
	for i := range payload.Scenes {
		s := &payload.Scenes[i]
		s.SceneNumber = i + 1
		s.Emotion = fallbackEmotions[i%len(fallbackEmotions)]
		s.PromptForImageGen = fmt.Sprintf("Scene %d of %d: the same creator in the same setting holds %s toward the camera, %s expression, natural light, aspect ratio %s",
			i+1, seg.Count, name, strings.ToLower(s.Emotion), coalesce(in.AspectRatio, "9:16"))
		s.Narrative.StoryBeat = fmt.Sprintf("Beat %d: %s", i+1, name)
	}
	return mustJSON(payload)
}

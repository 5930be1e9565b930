package prompt

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/sabalioglu/ai-ugc/internal/domain"
	"github.com/sabalioglu/ai-ugc/internal/providers/genai"
)

// Inputs are the user-supplied job parameters every prompt starts from.
type Inputs struct {
	ProductName        string
	ProductDescription string
	TargetAudience     string
	UGCStyle           string
	Platform           string
	Duration           int
	AspectRatio        string
}

// InputsFromJob extracts the prompt inputs from a job record.
func InputsFromJob(j *domain.Job) Inputs {
	return Inputs{
		ProductName:        j.ProductName,
		ProductDescription: j.ProductDescription,
		TargetAudience:     j.TargetAudience,
		UGCStyle:           j.UGCStyle,
		Platform:           j.Platform,
		Duration:           j.Duration,
		AspectRatio:        j.AspectRatio,
	}
}

type analysisPayload struct {
	Product    domain.ProductAnalysis    `json:"product_analysis"`
	Creator    creatorPayload            `json:"ugc_creator_profile"`
	Production domain.ProductionMetadata `json:"video_production_metadata"`
}

type creatorPayload struct {
	Demographics   json.RawMessage    `json:"demographics,omitempty"`
	Appearance     json.RawMessage    `json:"appearance,omitempty"`
	SceneSetting   json.RawMessage    `json:"scene_setting,omitempty"`
	EnergyAndVibe  json.RawMessage    `json:"energy_and_vibe,omitempty"`
	SceneBreakdown []domain.SceneBeat `json:"scene_breakdown"`
}

const analysisSchema = `{
  "product_analysis": {"product_name": string, "category": string, "key_visual_features": string[], "material_description": string, "color_palette": string[], "branding_text": string},
  "ugc_creator_profile": {
    "demographics": {"gender": string, "age_range": string, "ethnicity": string, "location_context": string},
    "appearance": {"style": string, "hair": string, "outfit": string, "accessories": string},
    "scene_setting": {"primary_location": string, "lighting": string, "background_elements": string[]},
    "energy_and_vibe": {"energy_level": string, "emotional_tone": string},
    "scene_breakdown": [{"scene_number": number, "time_range": string, "duration": number, "type": string, "description": string, "action": string, "product_visibility": string}]
  },
  "video_production_metadata": {"platform": string, "aspect_ratio": string, "suggested_hook": string}
}`

// contentRules constrain every generated action. They are enforced only by instruction.
const contentRules = `CONTENT RULES (mandatory):
- Never show the creator eating, drinking, swallowing, tasting or bringing the product to the mouth.
- Allowed actions: holding the product, pointing at labels or features, gesturing with the product in hand or on a surface, demonstrating packaging size or cap, placing the product in the scene.
- Prefer showing and telling over consuming.`

// Analysis builds the product analysis and creator profile call.
func Analysis(in Inputs, image genai.Image) genai.Request {
	scenes := domain.SceneCount(in.Duration)
	sb := &strings.Builder{}
	sb.WriteString("You are an expert UGC content strategist and AI video director. Analyze the attached product image and produce a UGC creator profile optimized for a social media video ad.\n\n")
	fmt.Fprintf(sb, "Product name: %s\nProduct description: %s\nTarget audience: %s\nUGC style: %s\nPlatform: %s\nVideo length: %d seconds\nAspect ratio: %s\n\n",
		in.ProductName, coalesce(in.ProductDescription, "n/a"), label(in.TargetAudience), label(in.UGCStyle), in.Platform, in.Duration, in.AspectRatio)
	sb.WriteString("Part A: identify product type, material, colors and branding, noting details needed for visual consistency.\n")
	sb.WriteString("Part B: choose a creator (age, gender, style) matching the audience, a setting and lighting matching the product, and an energy level matching the platform.\n\n")
	fmt.Fprintf(sb, "The ugc_creator_profile.scene_breakdown array must contain exactly %d scenes whose durations add up to exactly %d seconds, following a problem_intro, solution_discovery, success_cta flow.\n\n", scenes, in.Duration)
	sb.WriteString(contentRules)
	sb.WriteString("\n\nRespond strictly with JSON matching this schema, without markdown fences:\n")
	sb.WriteString(analysisSchema)

	return genai.Request{
		Purpose:  "analysis",
		Prompt:   sb.String(),
		Images:   []genai.Image{image},
		Fallback: analysisFallback(in, scenes),
	}
}

// ParseAnalysis decodes the analysis answer. The scene breakdown is renumbered
// and its durations rescaled so they sum to the requested length.
func ParseAnalysis(raw string, in Inputs) (*domain.Analysis, *domain.CreatorProfile, error) {
	payload, err := parseModelPayload[analysisPayload](raw)
	if err != nil {
		return nil, nil, rejected("analysis", err)
	}
	if len(payload.Creator.SceneBreakdown) == 0 {
		return nil, nil, rejected("analysis", errors.New("scene_breakdown is empty"))
	}
	analysis := &domain.Analysis{Product: payload.Product, Production: payload.Production}
	analysis.Product.ProductName = coalesce(analysis.Product.ProductName, in.ProductName)
	analysis.Production.Platform = coalesce(analysis.Production.Platform, in.Platform)
	analysis.Production.AspectRatio = coalesce(in.AspectRatio, analysis.Production.AspectRatio)

	creator := &domain.CreatorProfile{
		Demographics:   payload.Creator.Demographics,
		Appearance:     payload.Creator.Appearance,
		SceneSetting:   payload.Creator.SceneSetting,
		EnergyAndVibe:  payload.Creator.EnergyAndVibe,
		SceneBreakdown: normalizeBeats(payload.Creator.SceneBreakdown, float64(in.Duration)),
	}
	return analysis, creator, nil
}

func normalizeBeats(beats []domain.SceneBeat, total float64) []domain.SceneBeat {
	out := make([]domain.SceneBeat, len(beats))
	copy(out, beats)
	var sum float64
	for _, b := range out {
		if b.Duration > 0 {
			sum += b.Duration
		}
	}
	even := total / float64(len(out))
	var start float64
	for i := range out {
		d := even
		if sum > 0 && out[i].Duration > 0 {
			d = out[i].Duration * total / sum
		}
		d = math.Round(d*10) / 10
		if i == len(out)-1 {
			d = math.Round((total-start)*10) / 10
		}
		out[i].SceneNumber = i + 1
		out[i].Duration = d
		out[i].TimeRange = formatSeconds(start) + " - " + formatSeconds(start+d)
		start += d
	}
	return out
}

var beatTypes = []string{"problem_intro", "solution_discovery", "success_cta"}

func analysisFallback(in Inputs, scenes int) string {
	if scenes < 1 {
		scenes = 1
	}
	name := coalesce(in.ProductName, "the product")
	beats := make([]domain.SceneBeat, scenes)
	per := float64(in.Duration) / float64(scenes)
	for i := range beats {
		kind := beatTypes[1]
		switch {
		case i == 0:
			kind = beatTypes[0]
		case i == scenes-1:
			kind = beatTypes[2]
		}
		beats[i] = domain.SceneBeat{
			SceneNumber:       i + 1,
			Duration:          per,
			Type:              kind,
			Description:       fmt.Sprintf("Creator presents %s in a bright home setting", name),
			Action:            fmt.Sprintf("Holds %s at eye level and points to the label", name),
			ProductVisibility: "prominent",
		}
	}
	payload := analysisPayload{
		Product: domain.ProductAnalysis{
			ProductName:         name,
			Category:            "consumer product",
			KeyVisualFeatures:   []string{"clean packaging", "visible logo"},
			MaterialDescription: "smooth matte surface",
			ColorPalette:        []string{"white", "black"},
			BrandingText:        name,
		},
		Creator: creatorPayload{
			Demographics:   json.RawMessage(`{"gender":"female","age_range":"25-35","location_context":"urban"}`),
			Appearance:     json.RawMessage(`{"style":"casual","hair":"shoulder length brown","outfit":"neutral knit sweater"}`),
			SceneSetting:   json.RawMessage(`{"primary_location":"kitchen counter","lighting":"natural_window"}`),
			EnergyAndVibe:  json.RawMessage(`{"energy_level":"medium","emotional_tone":"trustworthy"}`),
			SceneBreakdown: beats,
		},
		Production: domain.ProductionMetadata{
			Platform:      in.Platform,
			AspectRatio:   in.AspectRatio,
			SuggestedHook: fmt.Sprintf("I did not expect %s to make this much difference", name),
		},
	}
	return mustJSON(payload)
}

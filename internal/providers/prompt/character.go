package prompt

import (
	"errors"
	"fmt"
	"strings"

	"github.com/sabalioglu/ai-ugc/internal/domain"
	"github.com/sabalioglu/ai-ugc/internal/providers/genai"
)

type characterPayload struct {
	AIGenerationPrompt string `json:"aiGenerationPrompt"`
}

// Character builds the prompt-expert call that turns the creator profile into
// one detailed image-generation prompt.
func Character(in Inputs, analysis *domain.Analysis, creator *domain.CreatorProfile) genai.Request {
	sb := &strings.Builder{}
	sb.WriteString("You are a character design expert for AI image generation. Write one ultra detailed prompt (400 to 600 words) for a photorealistic UGC creator portrait that can be reused across every scene of the ad.\n\n")
	sb.WriteString("Cover exact facial features, hair, outfit, lighting setup and background. ")
	fmt.Fprintf(sb, "Aspect ratio: %s. Style: %s.\n\n", in.AspectRatio, label(in.UGCStyle))
	sb.WriteString("Creator profile:\n")
	sb.WriteString(mustJSON(creator))
	if analysis != nil {
		sb.WriteString("\n\nProduct analysis:\n")
		sb.WriteString(mustJSON(analysis.Product))
	}
	sb.WriteString("\n\nRespond strictly with JSON, without markdown fences: {\"aiGenerationPrompt\": string}")

	return genai.Request{
		Purpose:  "character",
		Prompt:   sb.String(),
		Fallback: mustJSON(characterPayload{AIGenerationPrompt: characterFallback(in)}),
	}
}

// ParseCharacterPrompt extracts aiGenerationPrompt.
func ParseCharacterPrompt(raw string) (string, error) {
	payload, err := parseModelPayload[characterPayload](raw)
	if err != nil {
		return "", rejected("character", err)
	}
	prompt := strings.TrimSpace(payload.AIGenerationPrompt)
	if prompt == "" {
		return "", rejected("character", errors.New("aiGenerationPrompt is empty"))
	}
	return prompt, nil
}

func characterFallback(in Inputs) string {
	return fmt.Sprintf("Photorealistic portrait of a friendly UGC creator in a %s style, natural window light, soft background, looking at the camera, holding %s, aspect ratio %s",
		strings.ToLower(coalesce(in.UGCStyle, "casual")), coalesce(in.ProductName, "the product"), coalesce(in.AspectRatio, "9:16"))
}

package genai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/sabalioglu/ai-ugc/internal/domain"
	"github.com/sabalioglu/ai-ugc/internal/infra"
)

// Options controls how the Gemini client is configured.
type Options struct {
	APIKey      string
	Model       string
	Temperature float32
	Logger      *infra.Logger
}

// Image is an inline image attached to a request.
type Image struct {
	MIME string
	Data []byte
}

// Request is one structured-output call.
type Request struct {
	// Purpose labels the call in logs.
	Purpose string
	Prompt  string
	Images  []Image
	// Fallback is returned verbatim when the client runs without credentials.
	Fallback string
}

// Client issues single synchronous JSON generation calls to Gemini. Without
// an API key it answers every call with the request's deterministic fallback
// so the pipeline stays runnable in local and CI environments.
type Client struct {
	client *genai.Client
	model  *genai.GenerativeModel
	name   string
	logger *infra.Logger
}

// NewClient constructs a Gemini client with sane defaults.
func NewClient(ctx context.Context, opts Options) (*Client, error) {
	name := strings.TrimSpace(opts.Model)
	if name == "" {
		name = "gemini-2.0-flash"
	}
	logger := opts.Logger
	if logger == nil {
		logger = infra.DiscardLogger()
	}
	c := &Client{name: name, logger: logger}

	apiKey := strings.TrimSpace(opts.APIKey)
	if apiKey == "" {
		return c, nil
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	model := client.GenerativeModel(name)
	temperature := opts.Temperature
	if temperature <= 0 {
		temperature = 0.7
	}
	model.SetTemperature(temperature)
	model.ResponseMIMEType = "application/json"
	c.client = client
	c.model = model
	return c, nil
}

// Model returns the configured Gemini model identifier.
func (c *Client) Model() string {
	return c.name
}

// Synthetic reports whether the client answers with fallbacks only.
func (c *Client) Synthetic() bool {
	return c.model == nil
}

// Close releases the underlying connection.
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}
	return c.client.Close()
}

// Generate runs one call and returns the raw text of the first candidate.
func (c *Client) Generate(ctx context.Context, req Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if c.Synthetic() {
		if req.Fallback == "" {
			return "", fmt.Errorf("%w: genai: no api key and no fallback for %s", domain.ErrProviderUnavailable, req.Purpose)
		}
		c.logger.Debug().Str("purpose", req.Purpose).Msg("genai: using synthetic response")
		return req.Fallback, nil
	}

	parts := make([]genai.Part, 0, len(req.Images)+1)
	for _, img := range req.Images {
		if len(img.Data) == 0 {
			continue
		}
		mime := img.MIME
		if mime == "" {
			mime = "image/jpeg"
		}
		parts = append(parts, genai.Blob{MIMEType: mime, Data: img.Data})
	}
	parts = append(parts, genai.Text(req.Prompt))

	resp, err := c.model.GenerateContent(ctx, parts...)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("%w: gemini generation error: %v", domain.ErrProviderUnavailable, err)
	}
	text, err := extractText(resp)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", domain.ErrProviderRejected, req.Purpose, err)
	}
	c.logger.Debug().Str("purpose", req.Purpose).Str("model", c.name).Int("chars", len(text)).Msg("genai: generated response")
	return text, nil
}

func extractText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", errors.New("empty response from gemini")
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			sb.WriteString(string(txt))
		}
	}
	if strings.TrimSpace(sb.String()) == "" {
		return "", errors.New("gemini returned no text parts")
	}
	return sb.String(), nil
}

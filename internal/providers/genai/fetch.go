package genai

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/sabalioglu/ai-ugc/internal/domain"
)

// maxImageBytes bounds downloads fed to the model.
const maxImageBytes = 10 << 20

// FetchImage downloads an image so it can be attached inline to a request.
func FetchImage(ctx context.Context, client *http.Client, imageURL string) (Image, error) {
	parsed, err := url.Parse(strings.TrimSpace(imageURL))
	if err != nil || parsed.Scheme == "" {
		return Image{}, fmt.Errorf("%w: genai: invalid image url: %s", domain.ErrInvalidInput, imageURL)
	}
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, parsed.String(), nil)
	if err != nil {
		return Image{}, fmt.Errorf("genai: build download request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return Image{}, fmt.Errorf("%w: genai: download image: %v", domain.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return Image{}, fmt.Errorf("%w: genai: download status %d", domain.ErrProviderUnavailable, resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes+1))
	if err != nil {
		return Image{}, fmt.Errorf("%w: genai: read image: %v", domain.ErrProviderUnavailable, err)
	}
	if len(data) > maxImageBytes {
		return Image{}, fmt.Errorf("%w: genai: image exceeds %d bytes", domain.ErrInvalidInput, maxImageBytes)
	}
	mime := resp.Header.Get("Content-Type")
	if i := strings.Index(mime, ";"); i >= 0 {
		mime = mime[:i]
	}
	if !strings.HasPrefix(mime, "image/") {
		mime = http.DetectContentType(data)
	}
	return Image{MIME: mime, Data: data}, nil
}

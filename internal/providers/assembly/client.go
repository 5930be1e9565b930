package assembly

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sabalioglu/ai-ugc/internal/domain"
	"github.com/sabalioglu/ai-ugc/internal/infra"
)

// ErrNotConfigured is returned when no assembly service URL is set.
var ErrNotConfigured = errors.New("assembly: service url is not configured")

// Options configures the assembly service client.
type Options struct {
	BaseURL    string
	HTTPClient *http.Client
	Logger     *infra.Logger
	// Timeout bounds one assemble call. Muxing runs synchronously on the
	// service, so this is much longer than a provider request.
	Timeout time.Duration
}

// Request lists the segment videos in playback order plus an optional audio track.
type Request struct {
	JobID    string
	Videos   []string
	AudioURL string
}

// Client calls the FFmpeg assembly service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *infra.Logger
}

type assembleRequest struct {
	JobID          string   `json:"jobId"`
	Videos         []string `json:"videos"`
	Audio          string   `json:"audio,omitempty"`
	OutputFileName string   `json:"outputFileName"`
}

type assembleResponse struct {
	URL      string `json:"url"`
	VideoURL string `json:"videoUrl"`
	Error    string `json:"error"`
}

func NewClient(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 5 * time.Minute
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	logger := opts.Logger
	if logger == nil {
		logger = infra.DiscardLogger()
	}
	return &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/"),
		httpClient: httpClient,
		logger:     logger,
	}
}

// OutputFileName is the artifact name requested for a job.
func OutputFileName(jobID string) string {
	return jobID + "_final.mp4"
}

// Assemble concatenates the segment videos and returns the final video URL.
// Every failure is reported as domain.ErrAssemblyFailure.
func (c *Client) Assemble(ctx context.Context, req Request) (string, error) {
	if c.baseURL == "" {
		return "", fmt.Errorf("%w: %w", domain.ErrAssemblyFailure, ErrNotConfigured)
	}
	if len(req.Videos) == 0 {
		return "", fmt.Errorf("%w: no segment videos for %s", domain.ErrAssemblyFailure, req.JobID)
	}
	encoded, err := json.Marshal(assembleRequest{
		JobID:          req.JobID,
		Videos:         req.Videos,
		Audio:          req.AudioURL,
		OutputFileName: OutputFileName(req.JobID),
	})
	if err != nil {
		return "", fmt.Errorf("assembly: encode request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/assemble", bytes.NewReader(encoded))
	if err != nil {
		return "", fmt.Errorf("assembly: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("%w: %v", domain.ErrAssemblyFailure, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("%w: read response: %v", domain.ErrAssemblyFailure, err)
	}
	var out assembleResponse
	_ = json.Unmarshal(raw, &out)
	if resp.StatusCode >= 300 {
		msg := strings.TrimSpace(out.Error)
		if msg == "" {
			msg = strings.TrimSpace(string(raw))
		}
		return "", fmt.Errorf("%w: status %d: %s", domain.ErrAssemblyFailure, resp.StatusCode, msg)
	}
	url := strings.TrimSpace(out.URL)
	if url == "" {
		url = strings.TrimSpace(out.VideoURL)
	}
	if url == "" {
		return "", fmt.Errorf("%w: response without url", domain.ErrAssemblyFailure)
	}
	c.logger.Info().Str("job_id", req.JobID).Int("segments", len(req.Videos)).Dur("elapsed", time.Since(start)).Msg("assembly: video assembled")
	return url, nil
}

package kie

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sabalioglu/ai-ugc/internal/domain"
	"github.com/sabalioglu/ai-ugc/internal/infra"
	"github.com/sabalioglu/ai-ugc/internal/providers/task"
)

// ErrMissingAPIKey indicates that the client was configured without credentials.
var ErrMissingAPIKey = errors.New("kie: api key is required")

const (
	pathCreateTask = "/api/v1/jobs/createTask"
	pathRecordInfo = "/api/v1/jobs/recordInfo"
	pathVeoCreate  = "/api/v1/veo/generate"
	pathVeoExtend  = "/api/v1/veo/extend"

	veoSegmentSeconds = 8
)

// Options configures the Kie.ai task client.
type Options struct {
	APIKey         string
	BaseURL        string
	HTTPClient     *http.Client
	Logger         *infra.Logger
	RequestTimeout time.Duration
	Now            func() time.Time
}

// Client submits image and video tasks to Kie.ai and polls their records.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	logger     *infra.Logger
	now        func() time.Time
}

type createTaskRequest struct {
	Model string    `json:"model"`
	Input taskInput `json:"input"`
}

type taskInput struct {
	Prompt      string   `json:"prompt"`
	ImageURL    string   `json:"image_url,omitempty"`
	ImageURLs   []string `json:"image_urls,omitempty"`
	Duration    float64  `json:"duration,omitempty"`
	AspectRatio string   `json:"aspect_ratio,omitempty"`
}

type veoGenerateRequest struct {
	Model       string `json:"model"`
	Prompt      string `json:"prompt"`
	ImageURL    string `json:"image_url,omitempty"`
	Duration    int    `json:"duration"`
	AspectRatio string `json:"aspectRatio,omitempty"`
}

type veoExtendRequest struct {
	TaskID string `json:"taskId"`
	Prompt string `json:"prompt"`
}

type envelope struct {
	Code   int             `json:"code"`
	Msg    string          `json:"msg"`
	TaskID string          `json:"task_id"`
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
}

type record struct {
	TaskID     string          `json:"taskId"`
	RecordID   string          `json:"recordId"`
	Status     string          `json:"status"`
	State      string          `json:"state"`
	ImageURL   string          `json:"image_url"`
	VideoURL   string          `json:"video_url"`
	Output     json.RawMessage `json:"output"`
	ResultJSON string          `json:"resultJson"`
	Error      string          `json:"error"`
	Msg        string          `json:"msg"`
	FailMsg    string          `json:"failMsg"`
}

// NewClient constructs a client with sane defaults and injected dependencies.
func NewClient(opts Options) (*Client, error) {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = "https://api.kie.ai"
	}
	logger := opts.Logger
	if logger == nil {
		logger = infra.DiscardLogger()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Client{
		apiKey:     strings.TrimSpace(opts.APIKey),
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     logger,
		now:        now,
	}, nil
}

// HasCredentials reports whether the client can perform remote calls.
func (c *Client) HasCredentials() bool {
	return c.apiKey != ""
}

// Submit starts a generation task. Requests with ExtendFrom continue a prior
// Veo task; veo models use the Veo endpoint; everything else uses createTask.
func (c *Client) Submit(ctx context.Context, req task.Request) (task.Handle, error) {
	if !c.HasCredentials() {
		return task.Handle{}, ErrMissingAPIKey
	}
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return task.Handle{}, fmt.Errorf("%w: kie: prompt is required", domain.ErrInvalidInput)
	}

	var (
		path    string
		payload any
	)
	switch {
	case req.ExtendFrom != "":
		path = pathVeoExtend
		payload = veoExtendRequest{TaskID: req.ExtendFrom, Prompt: prompt}
	case strings.HasPrefix(req.Model, "veo"):
		path = pathVeoCreate
		payload = veoGenerateRequest{
			Model:       req.Model,
			Prompt:      prompt,
			ImageURL:    first(req.ImageURLs),
			Duration:    veoSegmentSeconds,
			AspectRatio: req.AspectRatio,
		}
	default:
		if strings.TrimSpace(req.Model) == "" {
			return task.Handle{}, fmt.Errorf("%w: kie: model is required", domain.ErrInvalidInput)
		}
		in := taskInput{
			Prompt:      prompt,
			ImageURL:    first(req.ImageURLs),
			Duration:    req.Duration,
			AspectRatio: req.AspectRatio,
		}
		if len(req.ImageURLs) > 1 {
			in.ImageURLs = req.ImageURLs
		}
		path = pathCreateTask
		payload = createTaskRequest{Model: req.Model, Input: in}
	}

	raw, err := c.do(ctx, http.MethodPost, c.baseURL+path, payload)
	if err != nil {
		return task.Handle{}, err
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return task.Handle{}, fmt.Errorf("%w: kie: decode submit response: %v", domain.ErrProviderRejected, err)
	}
	if env.Code != 0 && env.Code != http.StatusOK {
		return task.Handle{}, fmt.Errorf("%w: kie: %s (%d)", domain.ErrProviderRejected, env.Msg, env.Code)
	}
	id := env.TaskID
	if id == "" {
		var data record
		if len(env.Data) > 0 && json.Unmarshal(env.Data, &data) == nil {
			id = coalesce(data.TaskID, data.RecordID)
		}
	}
	if id == "" {
		return task.Handle{}, fmt.Errorf("%w: kie: failed to start: %s", domain.ErrProviderRejected, truncate(string(raw), 200))
	}
	c.logger.Debug().Str("task_id", id).Str("model", req.Model).Str("kind", string(req.Kind)).Msg("kie: task submitted")
	return task.Handle{ID: id, Kind: req.Kind, SubmittedAt: c.now()}, nil
}

// Poll issues one recordInfo request.
func (c *Client) Poll(ctx context.Context, h task.Handle) (task.Result, error) {
	if !c.HasCredentials() {
		return task.Result{}, ErrMissingAPIKey
	}
	endpoint := c.baseURL + pathRecordInfo + "?taskId=" + url.QueryEscape(h.ID)
	raw, err := c.do(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return task.Result{}, err
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return task.Result{}, fmt.Errorf("%w: kie: decode record: %v", domain.ErrProviderUnavailable, err)
	}
	var rec record
	if len(env.Data) > 0 && string(env.Data) != "null" {
		if err := json.Unmarshal(env.Data, &rec); err != nil {
			return task.Result{}, fmt.Errorf("%w: kie: decode record data: %v", domain.ErrProviderUnavailable, err)
		}
	} else if err := json.Unmarshal(raw, &rec); err != nil {
		return task.Result{}, fmt.Errorf("%w: kie: decode record: %v", domain.ErrProviderUnavailable, err)
	}

	status := strings.ToLower(coalesce(rec.Status, rec.State, env.Status))
	switch status {
	case "success", "completed", "succeeded":
		return task.Result{State: task.StateSucceeded, URL: artifactURL(h.Kind, rec)}, nil
	case "failed", "fail", "error":
		return task.Result{State: task.StateFailed, Reason: coalesce(rec.Error, rec.FailMsg, rec.Msg, env.Msg)}, nil
	default:
		return task.Result{State: task.StatePending}, nil
	}
}

func (c *Client) do(ctx context.Context, method, endpoint string, payload any) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("kie: encode request: %w", err)
		}
		body = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("kie: build request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: kie: http request: %v", domain.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: kie: read response: %v", domain.ErrProviderUnavailable, err)
	}
	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: kie: status %d: %s", domain.ErrProviderUnavailable, resp.StatusCode, truncate(string(raw), 200))
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnprocessableEntity:
		return nil, fmt.Errorf("%w: kie: status %d: %s", domain.ErrInvalidInput, resp.StatusCode, truncate(string(raw), 200))
	case resp.StatusCode >= 300:
		return nil, fmt.Errorf("%w: kie: status %d: %s", domain.ErrProviderRejected, resp.StatusCode, truncate(string(raw), 200))
	}
	return raw, nil
}

// artifactURL picks the result URL from the shapes recordInfo is known to return.
func artifactURL(kind task.Kind, rec record) string {
	direct := rec.ImageURL
	if kind == task.KindVideo {
		direct = coalesce(rec.VideoURL, rec.ImageURL)
	}
	if direct != "" {
		return direct
	}
	if u := outputURL(rec.Output); u != "" {
		return u
	}
	if rec.ResultJSON != "" {
		var result struct {
			ResultURLs []string `json:"resultUrls"`
		}
		if json.Unmarshal([]byte(rec.ResultJSON), &result) == nil {
			return first(result.ResultURLs)
		}
	}
	return ""
}

func outputURL(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var list []string
	if json.Unmarshal(raw, &list) == nil {
		return first(list)
	}
	var obj struct {
		ImageURL   string   `json:"image_url"`
		VideoURL   string   `json:"video_url"`
		ResultURLs []string `json:"resultUrls"`
	}
	if json.Unmarshal(raw, &obj) == nil {
		return coalesce(obj.VideoURL, obj.ImageURL, first(obj.ResultURLs))
	}
	return ""
}

func first(values []string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func coalesce(values ...string) string {
	return first(values)
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

var _ task.Client = (*Client)(nil)

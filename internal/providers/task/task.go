// Package task defines the uniform submit/poll contract every external
// generation provider is driven through.
package task

import (
	"context"
	"time"
)

// Kind is the artifact a task produces.
type Kind string

const (
	KindImage Kind = "image"
	KindVideo Kind = "video"
)

// Request describes one generation task.
type Request struct {
	Kind        Kind
	Model       string
	Prompt      string
	ImageURLs   []string
	Duration    float64
	AspectRatio string
	// ExtendFrom is the provider task id whose output this task continues.
	ExtendFrom string
}

// Handle identifies a submitted task for the lifetime of one poll loop.
type Handle struct {
	ID          string
	Kind        Kind
	SubmittedAt time.Time
}

// State is the provider-reported task state.
type State string

const (
	StatePending   State = "pending"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
)

// Result is the outcome of one poll.
type Result struct {
	State  State
	URL    string
	Reason string
}

// Client is implemented by every task provider. Submit fails with
// domain.ErrProviderUnavailable or domain.ErrInvalidInput; Poll issues
// exactly one status request.
type Client interface {
	Submit(ctx context.Context, req Request) (Handle, error)
	Poll(ctx context.Context, h Handle) (Result, error)
}

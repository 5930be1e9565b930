package task

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/sabalioglu/ai-ugc/internal/domain"
)

var providerPolls = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "ugc_provider_polls_total",
	Help: "Provider task polls by artifact kind and observed state",
}, []string{"kind", "state"})

// Policy bounds a poll loop: at most MaxAttempts polls, Interval apart.
type Policy struct {
	Interval    time.Duration
	MaxAttempts int
	// OnPoll, when set, runs after every pending poll with the attempt number.
	OnPoll func(attempt int)
}

// Await polls h until it succeeds, fails, or the policy is exhausted. A
// provider failure maps to domain.ErrProviderRejected and exhaustion to
// domain.ErrTimeout. Transient poll errors count as pending attempts.
func Await(ctx context.Context, c Client, h Handle, p Policy) (string, error) {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		res, err := c.Poll(ctx, h)
		switch {
		case err != nil && errors.Is(err, domain.ErrProviderUnavailable):
			lastErr = err
			providerPolls.WithLabelValues(string(h.Kind), "error").Inc()
		case err != nil:
			return "", err
		default:
			providerPolls.WithLabelValues(string(h.Kind), string(res.State)).Inc()
			switch res.State {
			case StateSucceeded:
				if res.URL == "" {
					return "", fmt.Errorf("%w: task %s succeeded without an artifact url", domain.ErrProviderRejected, h.ID)
				}
				return res.URL, nil
			case StateFailed:
				reason := res.Reason
				if reason == "" {
					reason = "unknown error"
				}
				return "", fmt.Errorf("%w: task %s: %s", domain.ErrProviderRejected, h.ID, reason)
			}
		}
		if p.OnPoll != nil {
			p.OnPoll(attempt)
		}
		if attempt == p.MaxAttempts {
			break
		}
		if err := sleep(ctx, p.Interval); err != nil {
			return "", err
		}
	}
	if lastErr != nil {
		return "", fmt.Errorf("%w: task %s after %d polls (last error: %v)", domain.ErrTimeout, h.ID, p.MaxAttempts, lastErr)
	}
	return "", fmt.Errorf("%w: task %s after %d polls", domain.ErrTimeout, h.ID, p.MaxAttempts)
}

// Run submits req and awaits its result.
func Run(ctx context.Context, c Client, req Request, p Policy) (Handle, string, error) {
	h, err := c.Submit(ctx, req)
	if err != nil {
		return Handle{}, "", err
	}
	url, err := Await(ctx, c, h, p)
	return h, url, err
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

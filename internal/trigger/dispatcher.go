package trigger

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sabalioglu/ai-ugc/internal/domain"
	"github.com/sabalioglu/ai-ugc/internal/infra"
)

// Handler runs one stage for a job. Handlers guard their own precondition,
// so delivering the same event twice is harmless.
type Handler func(ctx context.Context, jobID string) error

// Event announces that a job entered a status some stage waits on.
type Event struct {
	JobID  string        `json:"job_id"`
	Status domain.Status `json:"status"`
	At     time.Time     `json:"at"`
}

// Publisher hands an event to whatever runs the handlers.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Dispatcher maps statuses to stage handlers and runs them.
type Dispatcher struct {
	ctx      context.Context
	handlers map[domain.Status]Handler
	sem      chan struct{}
	wg       sync.WaitGroup
	logger   *infra.Logger
}

// NewDispatcher returns a dispatcher whose asynchronous runs live as long as
// ctx and never exceed concurrency at a time.
func NewDispatcher(ctx context.Context, concurrency int, logger *infra.Logger) *Dispatcher {
	if concurrency < 1 {
		concurrency = 1
	}
	if logger == nil {
		logger = infra.DiscardLogger()
	}
	return &Dispatcher{
		ctx:      ctx,
		handlers: map[domain.Status]Handler{},
		sem:      make(chan struct{}, concurrency),
		logger:   logger,
	}
}

// Register binds h to status. Registration must finish before events flow.
func (d *Dispatcher) Register(status domain.Status, h Handler) {
	d.handlers[status] = h
}

// Handles reports whether some handler waits on status.
func (d *Dispatcher) Handles(status domain.Status) bool {
	_, ok := d.handlers[status]
	return ok
}

// Statuses lists the registered statuses in pipeline order.
func (d *Dispatcher) Statuses() []domain.Status {
	out := make([]domain.Status, 0, len(d.handlers))
	for s := range d.handlers {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Rank() < out[j].Rank() })
	return out
}

// Dispatch runs the handler registered for status on the calling goroutine.
// Statuses without a handler, such as completed and failed, are a no-op.
func (d *Dispatcher) Dispatch(ctx context.Context, jobID string, status domain.Status) error {
	h, ok := d.handlers[status]
	if !ok {
		return nil
	}
	d.logger.Debug().Str("job_id", jobID).Str("status", string(status)).Msg("trigger: dispatching")
	return h(ctx, jobID)
}

// Publish runs the event's handler in the background. It satisfies Publisher
// for single-process deployments.
func (d *Dispatcher) Publish(_ context.Context, ev Event) error {
	d.Fire(ev.JobID, ev.Status)
	return nil
}

// Fire starts the handler for status asynchronously and reports whether one
// was registered.
func (d *Dispatcher) Fire(jobID string, status domain.Status) bool {
	if !d.Handles(status) {
		return false
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		select {
		case d.sem <- struct{}{}:
		case <-d.ctx.Done():
			return
		}
		defer func() { <-d.sem }()
		if err := d.Dispatch(d.ctx, jobID, status); err != nil {
			d.logger.Error().Err(err).Str("job_id", jobID).Str("status", string(status)).Msg("trigger: handler returned error")
		}
	}()
	return true
}

// OnStatusChange is a job store hook firing the next stage in process.
func (d *Dispatcher) OnStatusChange(_ context.Context, change domain.Change) {
	if change.StatusChanged() {
		d.Fire(change.JobID, change.Status)
	}
}

// Wait blocks until every fired handler returned.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Forward returns a job store hook that publishes status changes accepted by
// want. Publish errors are logged; the reconciler recovers lost events.
func Forward(pub Publisher, want func(domain.Status) bool, logger *infra.Logger) func(context.Context, domain.Change) {
	if logger == nil {
		logger = infra.DiscardLogger()
	}
	return func(ctx context.Context, change domain.Change) {
		if !change.StatusChanged() || !want(change.Status) {
			return
		}
		ev := Event{JobID: change.JobID, Status: change.Status, At: change.Timestamp}
		if err := pub.Publish(ctx, ev); err != nil {
			logger.Error().Err(err).Str("job_id", change.JobID).Str("status", string(change.Status)).Msg("trigger: publish failed")
		}
	}
}

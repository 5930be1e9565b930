package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/sabalioglu/ai-ugc/internal/domain"
	"github.com/sabalioglu/ai-ugc/internal/providers/assembly"
	"github.com/sabalioglu/ai-ugc/internal/providers/genai"
	"github.com/sabalioglu/ai-ugc/internal/providers/task"
)

// MockLLM answers with the request's own fallback unless a call is set up
// with an explicit payload or error.
type MockLLM struct {
	mock.Mock
}

func (m *MockLLM) Generate(ctx context.Context, req genai.Request) (string, error) {
	args := m.Called(req.Purpose)
	if err := args.Error(1); err != nil {
		return "", err
	}
	if raw := args.String(0); raw != "" {
		return raw, nil
	}
	return req.Fallback, nil
}

type MockAssembler struct {
	mock.Mock
}

func (m *MockAssembler) Assemble(ctx context.Context, req assembly.Request) (string, error) {
	args := m.Called(req)
	return args.String(0), args.Error(1)
}

// behavior scripts one provider task: it stays pending for Pending polls,
// then ends in State.
type behavior struct {
	Pending int
	State   task.State
	Reason  string
}

type taskEvent struct {
	Op  string // submit | done
	ID  string
	Req task.Request
	At  time.Time
}

type fakeTask struct {
	req   task.Request
	polls int
	plan  behavior
}

// fakeTasks is a provider that records the order of submissions and
// observed completions.
type fakeTasks struct {
	mu     sync.Mutex
	seq    int
	tasks  map[string]*fakeTask
	events []taskEvent
	// behave picks the script of a submitted task. Nil means succeed after one pending poll.
	behave func(req task.Request) behavior
	// gate keeps every task pending until this many submissions were seen.
	gate int
}

func newFakeTasks() *fakeTasks {
	return &fakeTasks{tasks: map[string]*fakeTask{}}
}

func (f *fakeTasks) Submit(ctx context.Context, req task.Request) (task.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	id := fmt.Sprintf("task_%d", f.seq)
	plan := behavior{Pending: 1, State: task.StateSucceeded}
	if f.behave != nil {
		plan = f.behave(req)
	}
	f.tasks[id] = &fakeTask{req: req, plan: plan}
	f.events = append(f.events, taskEvent{Op: "submit", ID: id, Req: req, At: time.Now()})
	return task.Handle{ID: id, Kind: req.Kind, SubmittedAt: time.Now()}, nil
}

func (f *fakeTasks) Poll(ctx context.Context, h task.Handle) (task.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[h.ID]
	if !ok {
		return task.Result{}, fmt.Errorf("%w: unknown task %s", domain.ErrProviderRejected, h.ID)
	}
	if f.gate > 0 && f.seq < f.gate {
		return task.Result{State: task.StatePending}, nil
	}
	t.polls++
	if t.polls <= t.plan.Pending {
		return task.Result{State: task.StatePending}, nil
	}
	f.events = append(f.events, taskEvent{Op: "done", ID: h.ID, Req: t.req, At: time.Now()})
	switch t.plan.State {
	case task.StateFailed:
		return task.Result{State: task.StateFailed, Reason: t.plan.Reason}, nil
	case task.StatePending:
		return task.Result{State: task.StatePending}, nil
	}
	ext := "png"
	if h.Kind == task.KindVideo {
		ext = "mp4"
	}
	return task.Result{State: task.StateSucceeded, URL: fmt.Sprintf("https://cdn.test/%s.%s", h.ID, ext)}, nil
}

func (f *fakeTasks) snapshot() []taskEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]taskEvent(nil), f.events...)
}

func (f *fakeTasks) submissions(kind task.Kind) []taskEvent {
	var out []taskEvent
	for _, e := range f.snapshot() {
		if e.Op == "submit" && e.Req.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

// isCharacterRequest matches the single reference-image call of the character stage.
func isCharacterRequest(req task.Request) bool {
	return req.Kind == task.KindImage && len(req.ImageURLs) == 1
}

func promptHas(req task.Request, s string) bool {
	return strings.Contains(req.Prompt, s)
}

func fetchStub(ctx context.Context, url string) (genai.Image, error) {
	return genai.Image{MIME: "image/png", Data: []byte("png:" + url)}, nil
}

// blockingFetch signals fetching on its first call and waits for release.
func blockingFetch(fetching, release chan struct{}) ImageFetcher {
	var once sync.Once
	return func(ctx context.Context, url string) (genai.Image, error) {
		once.Do(func() { close(fetching) })
		<-release
		return fetchStub(ctx, url)
	}
}

// recordingRepo serializes updates so the recorded history is the commit order.
type recordingRepo struct {
	domain.JobRepository
	mu      sync.Mutex
	history map[string][]domain.Job
}

func newRecordingRepo(inner domain.JobRepository) *recordingRepo {
	return &recordingRepo{JobRepository: inner, history: map[string][]domain.Job{}}
}

func (r *recordingRepo) Update(ctx context.Context, jobID string, patch domain.Patch) (*domain.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, err := r.JobRepository.Update(ctx, jobID, patch)
	if err == nil {
		r.history[jobID] = append(r.history[jobID], *job.Clone())
	}
	return job, err
}

func (r *recordingRepo) historyOf(jobID string) []domain.Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Job(nil), r.history[jobID]...)
}

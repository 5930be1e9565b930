package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sabalioglu/ai-ugc/internal/domain"
	"github.com/sabalioglu/ai-ugc/internal/infra"
	"github.com/sabalioglu/ai-ugc/internal/jobstore"
	"github.com/sabalioglu/ai-ugc/internal/ledger"
	"github.com/sabalioglu/ai-ugc/internal/providers/assembly"
	"github.com/sabalioglu/ai-ugc/internal/providers/task"
)

const testUser = "user_1"

type harness struct {
	store     *jobstore.Memory
	repo      *recordingRepo
	changes   *changeLog
	ledger    *ledger.Memory
	tasks     *fakeTasks
	llm       *MockLLM
	assembler *MockAssembler
	p         *Pipeline
}

type changeLog struct {
	mu  sync.Mutex
	all []domain.Change
}

func (c *changeLog) add(_ context.Context, ch domain.Change) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.all = append(c.all, ch)
}

func (c *changeLog) statuses(jobID string) []domain.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []domain.Status
	for _, ch := range c.all {
		if ch.JobID == jobID && ch.StatusChanged() {
			out = append(out, ch.Status)
		}
	}
	return out
}

func testConfig() Config {
	fast := task.Policy{Interval: time.Millisecond, MaxAttempts: 50}
	return Config{
		ImageModel:        "nano-banana-pro",
		ShortVideoModel:   "seedance-1.5-pro",
		LongVideoModel:    "veo-3-1",
		LongFormThreshold: 12,
		SegmentSeconds:    8,
		StageBudget:       time.Minute,
		ResumeAfter:       time.Minute,
		HeartbeatEvery:    time.Minute,
		CharacterPoll:     fast,
		FramePoll:         fast,
		ShortVideoPoll:    fast,
		LongVideoPoll:     fast,
		RefundAttempts:    3,
		RefundBackoff:     time.Millisecond,
	}
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	h := &harness{
		store:     jobstore.NewMemory(),
		changes:   &changeLog{},
		ledger:    ledger.NewMemory(),
		tasks:     newFakeTasks(),
		llm:       new(MockLLM),
		assembler: new(MockAssembler),
	}
	h.repo = newRecordingRepo(h.store)
	observed := jobstore.NewObserved(h.repo, *infra.DiscardLogger(), h.changes.add)
	h.llm.On("Generate", mock.Anything).Return("", nil).Maybe()
	h.p = New(Deps{
		Jobs:       observed,
		Ledger:     h.ledger,
		Tasks:      h.tasks,
		LLM:        h.llm,
		Assembler:  h.assembler,
		FetchImage: fetchStub,
	}, cfg)
	return h
}

// submit creates a charged pending job the way the submission service does.
func (h *harness) submit(t *testing.T, jobID string, duration int) *domain.Job {
	t.Helper()
	ctx := context.Background()
	cost := domain.CreditCost(duration)
	_, err := h.ledger.Grant(ctx, testUser, 1000)
	require.NoError(t, err)
	require.NoError(t, h.ledger.Deduct(ctx, testUser, jobID, cost))
	job := &domain.Job{
		JobID:           jobID,
		UserID:          testUser,
		UserEmail:       "creator@example.com",
		ProductName:     "Glow Serum",
		TargetAudience:  "young professionals",
		UGCStyle:        "casual",
		Platform:        "tiktok",
		Duration:        duration,
		AspectRatio:     "9:16",
		SceneCount:      domain.SceneCount(duration),
		ProductImageURL: "https://blob.test/products/user_1/" + jobID + ".png",
		Status:          domain.StatusPending,
		CurrentStep:     "Queued",
		CreditsCost:     cost,
	}
	require.NoError(t, h.store.Create(ctx, job))
	return job
}

// drive runs whichever stage the job's status triggers until it is terminal.
func (h *harness) drive(t *testing.T, jobID string) *domain.Job {
	t.Helper()
	ctx := context.Background()
	handlers := map[domain.Status]func(context.Context, string) error{}
	for _, s := range h.p.Stages() {
		handlers[s.Trigger] = s.Run
	}
	for i := 0; i < 10; i++ {
		job, err := h.store.Get(ctx, jobID)
		require.NoError(t, err)
		if job.Status.IsTerminal() {
			return job
		}
		run, ok := handlers[job.Status]
		require.True(t, ok, "no stage for %s", job.Status)
		require.NoError(t, run(ctx, jobID))
	}
	t.Fatalf("job %s did not reach a terminal status", jobID)
	return nil
}

func (h *harness) job(t *testing.T, jobID string) *domain.Job {
	t.Helper()
	job, err := h.store.Get(context.Background(), jobID)
	require.NoError(t, err)
	return job
}

func TestPipelineCompletesJob(t *testing.T) {
	h := newHarness(t, testConfig())
	h.submit(t, "job_a", 16)
	h.assembler.On("Assemble", mock.MatchedBy(func(req assembly.Request) bool {
		return req.JobID == "job_a" && len(req.Videos) == 2
	})).Return("https://cdn.test/job_a_final.mp4", nil).Once()

	job := h.drive(t, "job_a")

	assert.Equal(t, domain.StatusCompleted, job.Status)
	assert.Equal(t, "https://cdn.test/job_a_final.mp4", job.VideoURL)
	assert.Equal(t, 100, job.Progress)
	assert.NotNil(t, job.CompletedAt)
	assert.NotNil(t, job.StartedAt)
	assert.Equal(t, job.StartFrameURL, job.ThumbnailURL)
	assert.NotEmpty(t, job.CharacterImageURL)
	assert.Empty(t, job.ErrorMessage)
	require.NotNil(t, job.Plan)
	assert.Len(t, job.Plan.Scenes, 2)
	assert.Equal(t, job.FrameURLs[0], job.Plan.Scenes[0].FrameURL)
	assert.Equal(t, 0, h.ledger.Refunds("job_a"))

	assert.Equal(t, []domain.Status{
		domain.StatusProcessing,
		domain.StatusReadyForChar,
		domain.StatusReadyForVideo,
		domain.StatusReadyForSynthesis,
		domain.StatusReadyForAssembly,
		domain.StatusCompleted,
	}, h.changes.statuses("job_a"))
	h.llm.AssertNumberOfCalls(t, "Generate", 4)
	h.assembler.AssertExpectations(t)
}

func TestCharacterFailureFailsJobAndRefunds(t *testing.T) {
	h := newHarness(t, testConfig())
	h.tasks.behave = func(req task.Request) behavior {
		if isCharacterRequest(req) {
			return behavior{State: task.StateFailed, Reason: "content policy"}
		}
		return behavior{Pending: 1, State: task.StateSucceeded}
	}
	h.submit(t, "job_b", 16)

	job := h.drive(t, "job_b")

	assert.Equal(t, domain.StatusFailed, job.Status)
	assert.Contains(t, job.ErrorMessage, "content policy")
	assert.Equal(t, job.CreditsCost, job.CreditsRefunded)
	assert.Equal(t, 1, h.ledger.Refunds("job_b"))
	assert.NotContains(t, h.changes.statuses("job_b"), domain.StatusReadyForVideo)
	assert.Empty(t, job.CharacterImageURL)
	h.assembler.AssertNotCalled(t, "Assemble", mock.Anything)

	balance, err := h.ledger.Balance(context.Background(), testUser)
	require.NoError(t, err)
	assert.Equal(t, 1000, balance)
}

// flakyLedger fails its first few refunds with a transport error.
type flakyLedger struct {
	*ledger.Memory
	mu       sync.Mutex
	failures int
	calls    int
}

func (f *flakyLedger) Refund(ctx context.Context, userID, jobID string, amount int) (bool, error) {
	f.mu.Lock()
	f.calls++
	fail := f.calls <= f.failures
	f.mu.Unlock()
	if fail {
		return false, errors.New("connection reset")
	}
	return f.Memory.Refund(ctx, userID, jobID, amount)
}

func (h *harness) withLedger(l domain.CreditLedger) {
	h.p = New(Deps{
		Jobs:       h.p.jobs,
		Ledger:     l,
		Tasks:      h.tasks,
		LLM:        h.llm,
		Assembler:  h.assembler,
		FetchImage: fetchStub,
	}, h.p.cfg)
}

func failCharacter(h *harness) {
	h.tasks.behave = func(req task.Request) behavior {
		if isCharacterRequest(req) {
			return behavior{State: task.StateFailed, Reason: "content policy"}
		}
		return behavior{Pending: 1, State: task.StateSucceeded}
	}
}

func TestRefundSurvivesTransientLedgerError(t *testing.T) {
	h := newHarness(t, testConfig())
	flaky := &flakyLedger{Memory: h.ledger, failures: 1}
	h.withLedger(flaky)
	failCharacter(h)
	h.submit(t, "job_flaky", 16)

	job := h.drive(t, "job_flaky")
	require.Equal(t, domain.StatusFailed, job.Status)
	assert.Equal(t, 30, job.CreditsRefunded)
	assert.Equal(t, 1, h.ledger.Refunds("job_flaky"))

	ctx := context.Background()
	for _, s := range h.p.Stages() {
		require.NoError(t, s.Run(ctx, "job_flaky"))
	}
	job = h.job(t, "job_flaky")
	assert.Equal(t, domain.StatusFailed, job.Status)
	assert.Equal(t, 30, job.CreditsRefunded)
	assert.Equal(t, 1, h.ledger.Refunds("job_flaky"))

	balance, err := h.ledger.Balance(ctx, testUser)
	require.NoError(t, err)
	assert.Equal(t, 1000, balance)
}

func TestSettleRefundRecoversExhaustedRetries(t *testing.T) {
	h := newHarness(t, testConfig())
	flaky := &flakyLedger{Memory: h.ledger, failures: 3}
	h.withLedger(flaky)
	failCharacter(h)
	h.submit(t, "job_owed", 16)

	job := h.drive(t, "job_owed")
	require.Equal(t, domain.StatusFailed, job.Status)
	assert.Zero(t, job.CreditsRefunded, "every attempt failed")
	assert.Zero(t, h.ledger.Refunds("job_owed"))

	ctx := context.Background()
	require.NoError(t, h.p.SettleRefund(ctx, "job_owed"))
	job = h.job(t, "job_owed")
	assert.Equal(t, job.CreditsCost, job.CreditsRefunded)
	assert.Equal(t, 1, h.ledger.Refunds("job_owed"))

	require.NoError(t, h.p.SettleRefund(ctx, "job_owed"))
	assert.Equal(t, 1, h.ledger.Refunds("job_owed"))
	assert.Equal(t, 4, flaky.calls, "a recorded refund is not retried")
}

func TestSettleRefundIgnoresJobsNotOwed(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()
	h.submit(t, "job_live", 16)
	require.NoError(t, h.p.SettleRefund(ctx, "job_live"))
	require.NoError(t, h.p.SettleRefund(ctx, "job_missing"))
	assert.Zero(t, h.ledger.Refunds("job_live"))
	assert.Zero(t, h.job(t, "job_live").CreditsRefunded)
}

func TestFrameTimeoutKeepsSiblingFrames(t *testing.T) {
	cfg := testConfig()
	cfg.FramePoll = task.Policy{Interval: time.Millisecond, MaxAttempts: 20}
	h := newHarness(t, cfg)
	h.tasks.behave = func(req task.Request) behavior {
		if req.Kind == task.KindImage && promptHas(req, "Scene 3 of 4") {
			return behavior{Pending: 1000, State: task.StateSucceeded}
		}
		return behavior{Pending: 1, State: task.StateSucceeded}
	}
	h.submit(t, "job_c", 32)

	job := h.drive(t, "job_c")

	assert.Equal(t, domain.StatusFailed, job.Status)
	assert.Contains(t, job.ErrorMessage, "frame 3")
	assert.Contains(t, job.ErrorMessage, domain.ErrTimeout.Error())
	assert.NotEmpty(t, job.FrameURLs[0])
	assert.NotEmpty(t, job.FrameURLs[1])
	assert.Empty(t, job.FrameURLs[2])
	assert.NotEmpty(t, job.FrameURLs[3])
	assert.Equal(t, job.FrameURLs[0], job.StartFrameURL)
	assert.Equal(t, job.FrameURLs[3], job.EndFrameURL)
	assert.Nil(t, job.Plan)
	assert.NotContains(t, h.changes.statuses("job_c"), domain.StatusReadyForSynthesis)
	assert.Equal(t, 1, h.ledger.Refunds("job_c"))
	assert.Equal(t, job.CreditsCost, job.CreditsRefunded)
}

func TestLongFormSegmentsAreChained(t *testing.T) {
	h := newHarness(t, testConfig())
	h.assembler.On("Assemble", mock.Anything).Return("https://cdn.test/final.mp4", nil)
	h.submit(t, "job_long", 32)

	job := h.drive(t, "job_long")
	require.Equal(t, domain.StatusCompleted, job.Status)

	events := h.tasks.snapshot()
	var videoSubmits []int
	doneAt := map[string]int{}
	for i, e := range events {
		if e.Req.Kind != task.KindVideo {
			continue
		}
		if e.Op == "submit" {
			videoSubmits = append(videoSubmits, i)
		} else {
			doneAt[e.ID] = i
		}
	}
	require.Len(t, videoSubmits, 4)
	first := events[videoSubmits[0]]
	assert.Equal(t, "veo-3-1", first.Req.Model)
	assert.Equal(t, []string{job.StartFrameURL}, first.Req.ImageURLs)
	assert.Empty(t, first.Req.ExtendFrom)

	for k := 1; k < len(videoSubmits); k++ {
		prev := events[videoSubmits[k-1]]
		cur := events[videoSubmits[k]]
		done, ok := doneAt[prev.ID]
		require.True(t, ok, "segment %d never completed", k)
		assert.Less(t, done, videoSubmits[k], "segment %d submitted before segment %d succeeded", k+1, k)
		assert.Equal(t, prev.ID, cur.Req.ExtendFrom)
		assert.Empty(t, cur.Req.ImageURLs)
	}
	for i := 0; i < 4; i++ {
		assert.NotEmpty(t, job.VideoURLs[i], "slot %d", i+1)
		assert.Equal(t, events[videoSubmits[i]].ID, job.Plan.Scenes[i].TaskID, "scene %d task", i+1)
	}
}

func TestLongFormResumesAfterStoredSegments(t *testing.T) {
	tests := []struct {
		name       string
		stored     map[int]string
		taskIDs    []string
		wantExtend string
		wantSubmit int
	}{
		{
			name:       "continues after the last recorded task",
			stored:     map[int]string{1: "https://cdn.test/seg1.mp4", 2: "https://cdn.test/seg2.mp4"},
			taskIDs:    []string{"task_prior_1", "task_prior_2"},
			wantExtend: "task_prior_2",
			wantSubmit: 2,
		},
		{
			name:       "a segment without a task id is rendered again",
			stored:     map[int]string{1: "https://cdn.test/seg1.mp4", 2: "https://cdn.test/seg2.mp4"},
			taskIDs:    []string{"task_prior_1", ""},
			wantExtend: "task_prior_1",
			wantSubmit: 3,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, testConfig())
			h.submit(t, "job_resume", 32)
			ctx := context.Background()
			require.NoError(t, h.p.Analyze(ctx, "job_resume"))
			require.NoError(t, h.p.Character(ctx, "job_resume"))
			require.NoError(t, h.p.Frames(ctx, "job_resume"))

			job := h.job(t, "job_resume")
			require.Equal(t, domain.StatusReadyForSynthesis, job.Status)
			require.Equal(t, domain.ModeLongForm, job.Plan.Mode)
			plan := *job.Plan
			plan.Scenes = append([]domain.Scene(nil), job.Plan.Scenes...)
			for i, id := range tt.taskIDs {
				plan.Scenes[i].TaskID = id
			}
			_, err := h.store.Update(ctx, "job_resume", domain.Patch{Plan: &plan, VideoURLs: tt.stored})
			require.NoError(t, err)
			before := len(h.tasks.submissions(task.KindVideo))

			require.NoError(t, h.p.Synthesize(ctx, "job_resume"))

			job = h.job(t, "job_resume")
			require.Equal(t, domain.StatusReadyForAssembly, job.Status)
			submits := h.tasks.submissions(task.KindVideo)[before:]
			require.Len(t, submits, tt.wantSubmit)
			assert.Equal(t, tt.wantExtend, submits[0].Req.ExtendFrom)
			assert.Empty(t, submits[0].Req.ImageURLs)
			assert.Equal(t, "https://cdn.test/seg1.mp4", job.VideoURLs[0])
			assert.Equal(t, "task_prior_1", job.Plan.Scenes[0].TaskID)
			for i := range job.Plan.Scenes {
				assert.NotEmpty(t, job.Plan.Scenes[i].TaskID, "scene %d", i+1)
			}
		})
	}
}

func TestShortFormSegmentsRunInParallel(t *testing.T) {
	cfg := testConfig()
	cfg.LongFormThreshold = 16
	h := newHarness(t, cfg)
	h.assembler.On("Assemble", mock.Anything).Return("https://cdn.test/final.mp4", nil)
	h.submit(t, "job_short", 16)
	ctx := context.Background()

	// Run up to the synthesis stage, then only release video tasks once both were submitted.
	require.NoError(t, h.p.Analyze(ctx, "job_short"))
	require.NoError(t, h.p.Character(ctx, "job_short"))
	require.NoError(t, h.p.Frames(ctx, "job_short"))
	require.Equal(t, domain.StatusReadyForSynthesis, h.job(t, "job_short").Status)

	h.tasks.mu.Lock()
	h.tasks.gate = h.tasks.seq + 2
	h.tasks.mu.Unlock()
	require.NoError(t, h.p.Synthesize(ctx, "job_short"))

	job := h.job(t, "job_short")
	require.Equal(t, domain.StatusReadyForAssembly, job.Status)
	assert.Equal(t, domain.ModeShortForm, job.Plan.Mode)

	submits := h.tasks.submissions(task.KindVideo)
	require.Len(t, submits, 2)
	for _, s := range submits {
		assert.Equal(t, "seedance-1.5-pro", s.Req.Model)
		assert.Equal(t, []string{job.StartFrameURL}, s.Req.ImageURLs)
		assert.Equal(t, float64(8), s.Req.Duration)
	}
	firstDone := -1
	lastSubmit := -1
	for i, e := range h.tasks.snapshot() {
		if e.Req.Kind != task.KindVideo {
			continue
		}
		if e.Op == "submit" {
			lastSubmit = i
		} else if firstDone < 0 {
			firstDone = i
		}
	}
	assert.Less(t, lastSubmit, firstDone, "both segments must be submitted before either completes")
	assert.NotEmpty(t, job.VideoURLs[0])
	assert.NotEmpty(t, job.VideoURLs[1])
	assert.Empty(t, job.VideoURLs[2])
}

func TestStageIsNoOpPastItsPrecondition(t *testing.T) {
	h := newHarness(t, testConfig())
	h.submit(t, "job_idem", 16)
	ctx := context.Background()
	require.NoError(t, h.p.Analyze(ctx, "job_idem"))
	require.NoError(t, h.p.Character(ctx, "job_idem"))

	before := h.job(t, "job_idem")
	require.Equal(t, domain.StatusReadyForVideo, before.Status)
	submitted := len(h.tasks.snapshot())

	for _, run := range []func(context.Context, string) error{h.p.Analyze, h.p.Character, h.p.Synthesize, h.p.Assemble} {
		require.NoError(t, run(ctx, "job_idem"))
	}
	require.NoError(t, h.p.Analyze(ctx, "missing_job"))

	after := h.job(t, "job_idem")
	assert.Equal(t, before, after)
	assert.Len(t, h.tasks.snapshot(), submitted)
	h.assembler.AssertNotCalled(t, "Assemble", mock.Anything)
}

func TestDuplicateFailuresRefundOnce(t *testing.T) {
	h := newHarness(t, testConfig())
	h.tasks.behave = func(req task.Request) behavior {
		if isCharacterRequest(req) {
			return behavior{Pending: 3, State: task.StateFailed, Reason: "quota"}
		}
		return behavior{Pending: 1, State: task.StateSucceeded}
	}
	h.submit(t, "job_dup", 16)
	ctx := context.Background()
	require.NoError(t, h.p.Analyze(ctx, "job_dup"))

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, h.p.Character(ctx, "job_dup"))
		}()
	}
	wg.Wait()
	require.NoError(t, h.p.Character(ctx, "job_dup"))

	job := h.job(t, "job_dup")
	assert.Equal(t, domain.StatusFailed, job.Status)
	assert.Equal(t, 1, h.ledger.Refunds("job_dup"))
	assert.Equal(t, job.CreditsCost, job.CreditsRefunded)
	failed := 0
	for _, s := range h.changes.statuses("job_dup") {
		if s == domain.StatusFailed {
			failed++
		}
	}
	assert.Equal(t, 1, failed)
}

func TestLLMErrorFailsAnalysis(t *testing.T) {
	h := newHarness(t, testConfig())
	h.llm.ExpectedCalls = nil
	h.llm.On("Generate", "analysis").Return("", fmt.Errorf("%w: quota exceeded", domain.ErrProviderUnavailable))
	h.submit(t, "job_llm", 8)

	job := h.drive(t, "job_llm")
	assert.Equal(t, domain.StatusFailed, job.Status)
	assert.Contains(t, job.ErrorMessage, "analysis")
	assert.Equal(t, 1, h.ledger.Refunds("job_llm"))
}

func TestAssemblyFailureFailsJob(t *testing.T) {
	h := newHarness(t, testConfig())
	h.assembler.On("Assemble", mock.Anything).Return("", fmt.Errorf("%w: ffmpeg exited 1", domain.ErrAssemblyFailure))
	h.submit(t, "job_asm", 8)

	job := h.drive(t, "job_asm")
	assert.Equal(t, domain.StatusFailed, job.Status)
	assert.Empty(t, job.VideoURL)
	assert.NotEmpty(t, job.VideoURLs[0], "segment videos stay for diagnostics")
	assert.Equal(t, 1, h.ledger.Refunds("job_asm"))
}

func TestAnalysisResumesStalledClaim(t *testing.T) {
	h := newHarness(t, testConfig())
	h.submit(t, "job_stall", 8)
	ctx := context.Background()
	started := time.Now().Add(-time.Hour)
	_, err := h.store.Update(ctx, "job_stall", domain.Patch{
		Expect:    domain.Ptr(domain.StatusPending),
		Status:    domain.Ptr(domain.StatusProcessing),
		StartedAt: &started,
	})
	require.NoError(t, err)

	require.NoError(t, h.p.Analyze(ctx, "job_stall"))
	resumed := h.job(t, "job_stall")
	assert.Equal(t, domain.StatusReadyForChar, resumed.Status)
	require.NotNil(t, resumed.StartedAt)
	assert.WithinDuration(t, time.Now(), *resumed.StartedAt, time.Minute, "resuming takes over the claim")

	h.submit(t, "job_fresh", 8)
	now := time.Now()
	_, err = h.store.Update(ctx, "job_fresh", domain.Patch{
		Expect:    domain.Ptr(domain.StatusPending),
		Status:    domain.Ptr(domain.StatusProcessing),
		StartedAt: &now,
	})
	require.NoError(t, err)
	require.NoError(t, h.p.Analyze(ctx, "job_fresh"))
	assert.Equal(t, domain.StatusProcessing, h.job(t, "job_fresh").Status)
}

func TestResumedAnalysisHoldsClaimAgainstOtherInvocations(t *testing.T) {
	h := newHarness(t, testConfig())
	h.submit(t, "job_slow", 8)
	ctx := context.Background()
	started := time.Now().Add(-time.Hour)
	_, err := h.store.Update(ctx, "job_slow", domain.Patch{
		Expect:    domain.Ptr(domain.StatusPending),
		Status:    domain.Ptr(domain.StatusProcessing),
		StartedAt: &started,
	})
	require.NoError(t, err)

	// The resumed run stalls inside the image fetch while a second
	// invocation arrives.
	release := make(chan struct{})
	fetching := make(chan struct{})
	h.p.fetch = blockingFetch(fetching, release)
	done := make(chan error, 1)
	go func() { done <- h.p.Analyze(ctx, "job_slow") }()
	<-fetching

	require.NoError(t, h.p.Analyze(ctx, "job_slow"))
	assert.Equal(t, domain.StatusProcessing, h.job(t, "job_slow").Status, "the second invocation backs off")

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, domain.StatusReadyForChar, h.job(t, "job_slow").Status)
}

func TestHeartbeatTouchesJobWhilePolling(t *testing.T) {
	cfg := testConfig()
	cfg.HeartbeatEvery = time.Nanosecond
	h := newHarness(t, cfg)
	h.tasks.behave = func(req task.Request) behavior { return behavior{Pending: 3, State: task.StateSucceeded} }
	h.submit(t, "job_hb", 8)
	ctx := context.Background()
	require.NoError(t, h.p.Analyze(ctx, "job_hb"))

	before := len(h.repo.historyOf("job_hb"))
	require.NoError(t, h.p.Character(ctx, "job_hb"))
	// Two progress steps, at least three heartbeats and the advance.
	assert.GreaterOrEqual(t, len(h.repo.historyOf("job_hb"))-before, 6)
}

func TestStageHandlersNeverRegress(t *testing.T) {
	cfg := testConfig()
	cfg.LongFormThreshold = 16
	h := newHarness(t, cfg)
	h.assembler.On("Assemble", mock.Anything).Return("https://cdn.test/final.mp4", nil)
	rng := rand.New(rand.NewSource(7))
	var rngMu sync.Mutex
	h.tasks.behave = func(req task.Request) behavior {
		rngMu.Lock()
		defer rngMu.Unlock()
		if rng.Intn(12) == 0 {
			return behavior{Pending: rng.Intn(3), State: task.StateFailed, Reason: "random"}
		}
		return behavior{Pending: rng.Intn(3), State: task.StateSucceeded}
	}

	jobs := []string{"job_p1", "job_p2", "job_p3", "job_p4"}
	for i, id := range jobs {
		h.submit(t, id, 8+8*i)
	}
	stages := h.p.Stages()
	ctx := context.Background()

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			r := rand.New(rand.NewSource(seed))
			for i := 0; i < 60; i++ {
				id := jobs[r.Intn(len(jobs))]
				stage := stages[r.Intn(len(stages))]
				if err := stage.Run(ctx, id); err != nil {
					t.Errorf("stage %s on %s: %v", stage.Name, id, err)
				}
			}
		}(int64(w))
	}
	wg.Wait()

	for _, id := range jobs {
		// Finish whatever the random schedule left behind.
		final := h.drive(t, id)
		history := h.repo.historyOf(id)
		require.NotEmpty(t, history)
		prevRank, prevProgress, failedSeen := -1, 0, false
		for _, snap := range history {
			if failedSeen {
				assert.Equal(t, domain.StatusFailed, snap.Status, "%s left failed", id)
			}
			if snap.Status == domain.StatusFailed {
				failedSeen = true
			} else {
				assert.GreaterOrEqual(t, snap.Status.Rank(), prevRank, "%s regressed to %s", id, snap.Status)
				prevRank = snap.Status.Rank()
			}
			assert.GreaterOrEqual(t, snap.Progress, prevProgress, "%s progress went backwards", id)
			prevProgress = snap.Progress
		}
		if final.Status == domain.StatusFailed {
			assert.Equal(t, 1, h.ledger.Refunds(id))
			assert.Equal(t, final.CreditsCost, final.CreditsRefunded)
		} else {
			assert.Equal(t, 0, h.ledger.Refunds(id))
			assert.NotEmpty(t, final.VideoURL)
		}
	}
}

func TestSegmentVideosRequiresEverySlot(t *testing.T) {
	job := &domain.Job{Plan: &domain.ScenePlan{Scenes: make([]domain.Scene, 3)}}
	job.VideoURLs[0] = "v1"
	job.VideoURLs[2] = "v3"
	_, err := segmentVideos(job)
	assert.True(t, errors.Is(err, domain.ErrAssemblyFailure))

	job.VideoURLs[1] = "v2"
	videos, err := segmentVideos(job)
	require.NoError(t, err)
	assert.Equal(t, []string{"v1", "v2", "v3"}, videos)
}

package scheduler

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/dullyvine/reelforge/internal/models"
	"github.com/dullyvine/reelforge/internal/renderer"
	"github.com/google/uuid"
)

// fakeBackend is a scriptable in-memory render backend. Each Submit returns
// a fresh handle; poll responses are set per handle by the test.
type fakeBackend struct {
	mu           sync.Mutex
	submitCount  map[string]int // keyed by request voiceover URL (unique per test job)
	submitErr    error
	nextHandle   int
	statuses     map[string]*models.RenderStatus
	pollErr      error
	handleToReq  map[string]string
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		submitCount: make(map[string]int),
		statuses:    make(map[string]*models.RenderStatus),
		handleToReq: make(map[string]string),
	}
}

func (b *fakeBackend) Submit(ctx context.Context, req *models.RenderRequest) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.submitCount[req.VoiceoverURL]++
	if b.submitErr != nil {
		return "", b.submitErr
	}

	b.nextHandle++
	handle := fmt.Sprintf("render-%d", b.nextHandle)
	b.handleToReq[handle] = req.VoiceoverURL
	b.statuses[handle] = &models.RenderStatus{Status: "processing", Progress: 0}
	return handle, nil
}

func (b *fakeBackend) PollStatus(ctx context.Context, handle string) (*models.RenderStatus, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.pollErr != nil {
		return nil, b.pollErr
	}
	status, ok := b.statuses[handle]
	if !ok {
		return nil, &renderer.TransientError{Op: "poll", Err: fmt.Errorf("unknown handle %s", handle)}
	}
	copied := *status
	return &copied, nil
}

func (b *fakeBackend) setStatus(handle string, status *models.RenderStatus) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.statuses[handle] = status
}

func (b *fakeBackend) submits(key string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.submitCount[key]
}

// fakeStore is an in-memory snapshot store.
type fakeStore struct {
	mu   sync.Mutex
	jobs []*models.JobRecord
}

func (s *fakeStore) Save(ctx context.Context, jobs []*models.JobRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = jobs
	return nil
}

func (s *fakeStore) Load(ctx context.Context) ([]*models.JobRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobs, nil
}

func testRequest(key string) *models.RenderRequest {
	return &models.RenderRequest{
		Flow:            models.FlowSingleAsset,
		VoiceoverURL:    key,
		DurationSeconds: 30,
		Timeline: []models.TimelineSlot{
			{AssetRef: "asset-1", TargetDuration: 30, StartOffset: 0, EndOffset: 30},
		},
		SingleAsset: &models.SingleAssetSpec{AssetURL: "https://example.com/asset.png"},
	}
}

func newTestScheduler(t *testing.T, backend Backend, n int) *Scheduler {
	t.Helper()
	return New(backend, &fakeStore{}, Config{MaxConcurrent: n})
}

func jobByID(t *testing.T, s *Scheduler, id uuid.UUID) *models.JobRecord {
	t.Helper()
	rec, err := s.Get(id)
	if err != nil {
		t.Fatalf("job %s not found: %v", id, err)
	}
	return rec
}

func TestEnqueueRespectsConcurrencyLimit(t *testing.T) {
	backend := newFakeBackend()
	s := newTestScheduler(t, backend, 2)

	a, _ := s.Enqueue(testRequest("job-a"))
	b, _ := s.Enqueue(testRequest("job-b"))
	c, _ := s.Enqueue(testRequest("job-c"))

	if got := jobByID(t, s, a).Status; got != models.JobStatusProcessing {
		t.Errorf("job A status = %s, expected processing", got)
	}
	if got := jobByID(t, s, b).Status; got != models.JobStatusProcessing {
		t.Errorf("job B status = %s, expected processing", got)
	}
	if got := jobByID(t, s, c).Status; got != models.JobStatusQueued {
		t.Errorf("job C status = %s, expected queued", got)
	}
}

func TestTickSubmitsAndPromotesOnCompletion(t *testing.T) {
	backend := newFakeBackend()
	s := newTestScheduler(t, backend, 2)
	ctx := context.Background()

	a, _ := s.Enqueue(testRequest("job-a"))
	b, _ := s.Enqueue(testRequest("job-b"))
	c, _ := s.Enqueue(testRequest("job-c"))

	// First tick: A and B get submitted and receive handles
	s.Tick(ctx)

	recA := jobByID(t, s, a)
	recB := jobByID(t, s, b)
	if recA.BackendHandle == "" || recB.BackendHandle == "" {
		t.Fatalf("expected handles after tick, got %q / %q", recA.BackendHandle, recB.BackendHandle)
	}
	if jobByID(t, s, c).Status != models.JobStatusQueued {
		t.Fatal("job C should still be queued")
	}

	// Backend reports A completed → A terminal, C promoted
	backend.setStatus(recA.BackendHandle, &models.RenderStatus{
		Status: "completed", Progress: 100, ResultURL: "https://cdn.example.com/a.mp4",
	})
	s.Tick(ctx)

	recA = jobByID(t, s, a)
	if recA.Status != models.JobStatusCompleted {
		t.Errorf("job A status = %s, expected completed", recA.Status)
	}
	if recA.Progress != 100 {
		t.Errorf("job A progress = %d, expected 100", recA.Progress)
	}
	if recA.ResultURL != "https://cdn.example.com/a.mp4" {
		t.Errorf("job A result URL = %q", recA.ResultURL)
	}
	if recA.Error != "" {
		t.Errorf("completed job carries error %q", recA.Error)
	}
	if got := jobByID(t, s, c).Status; got != models.JobStatusProcessing {
		t.Errorf("job C status = %s, expected processing after promotion", got)
	}

	// Promotion doesn't submit; the next tick does
	if jobByID(t, s, c).BackendHandle != "" {
		t.Error("job C should not have a handle before the next tick")
	}
	s.Tick(ctx)
	if jobByID(t, s, c).BackendHandle == "" {
		t.Error("job C should have been submitted on the next tick")
	}
}

func TestSubmissionFailureFreesSlotAndPromotes(t *testing.T) {
	backend := newFakeBackend()
	backend.submitErr = &renderer.SubmissionError{StatusCode: 400, Message: "bad payload"}
	s := newTestScheduler(t, backend, 1)
	ctx := context.Background()

	a, _ := s.Enqueue(testRequest("job-a"))
	b, _ := s.Enqueue(testRequest("job-b"))

	if jobByID(t, s, b).Status != models.JobStatusQueued {
		t.Fatal("job B should start queued with N=1")
	}

	s.Tick(ctx)

	recA := jobByID(t, s, a)
	if recA.Status != models.JobStatusFailed {
		t.Errorf("job A status = %s, expected failed", recA.Status)
	}
	if recA.Error == "" {
		t.Error("failed job should carry an error message")
	}
	if recA.ResultURL != "" {
		t.Error("failed job should not carry a result URL")
	}

	// The freed slot promotes B within the same tick's promotion phase
	if got := jobByID(t, s, b).Status; got != models.JobStatusProcessing {
		t.Errorf("job B status = %s, expected processing", got)
	}
}

func TestAtMostOnceSubmission(t *testing.T) {
	backend := newFakeBackend()
	s := newTestScheduler(t, backend, 3)
	ctx := context.Background()

	s.Enqueue(testRequest("job-a"))

	// Repeated and overlapping ticks must never double-submit
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Tick(ctx)
		}()
	}
	wg.Wait()
	for i := 0; i < 5; i++ {
		s.Tick(ctx)
	}

	if got := backend.submits("job-a"); got != 1 {
		t.Errorf("submit called %d times, expected exactly 1", got)
	}
}

func TestConcurrencyBoundHolds(t *testing.T) {
	backend := newFakeBackend()
	const n = 2
	s := newTestScheduler(t, backend, n)
	ctx := context.Background()

	ids := make([]uuid.UUID, 6)
	for i := range ids {
		ids[i], _ = s.Enqueue(testRequest(fmt.Sprintf("job-%d", i)))
	}

	check := func() {
		processing := 0
		for _, rec := range s.Jobs() {
			if rec.Status == models.JobStatusProcessing {
				processing++
			}
		}
		if processing > n {
			t.Fatalf("%d jobs processing, bound is %d", processing, n)
		}
	}

	check()
	s.Tick(ctx)
	check()

	// Complete jobs one at a time, checking the bound after every step
	for range ids {
		for _, rec := range s.Jobs() {
			if rec.Status == models.JobStatusProcessing && rec.BackendHandle != "" {
				backend.setStatus(rec.BackendHandle, &models.RenderStatus{
					Status: "completed", Progress: 100, ResultURL: "https://cdn.example.com/v.mp4",
				})
				break
			}
		}
		s.Tick(ctx)
		check()
	}
}

func TestFIFOPromotion(t *testing.T) {
	backend := newFakeBackend()
	s := newTestScheduler(t, backend, 1)
	ctx := context.Background()

	// Distinct creation times so FIFO order is unambiguous
	base := time.Now()
	offset := 0
	s.now = func() time.Time {
		offset++
		return base.Add(time.Duration(offset) * time.Second)
	}

	a, _ := s.Enqueue(testRequest("job-a"))
	b, _ := s.Enqueue(testRequest("job-b"))
	c, _ := s.Enqueue(testRequest("job-c"))

	s.Tick(ctx)
	handle := jobByID(t, s, a).BackendHandle
	backend.setStatus(handle, &models.RenderStatus{Status: "completed", Progress: 100, ResultURL: "u"})
	s.Tick(ctx)

	// B enqueued before C, so B is promoted first
	if got := jobByID(t, s, b).Status; got != models.JobStatusProcessing {
		t.Errorf("job B status = %s, expected processing", got)
	}
	if got := jobByID(t, s, c).Status; got != models.JobStatusQueued {
		t.Errorf("job C status = %s, expected queued", got)
	}
}

func TestTransientPollErrorLeavesJobProcessing(t *testing.T) {
	backend := newFakeBackend()
	s := newTestScheduler(t, backend, 1)
	ctx := context.Background()

	a, _ := s.Enqueue(testRequest("job-a"))
	s.Tick(ctx)

	backend.mu.Lock()
	backend.pollErr = &renderer.TransientError{Op: "poll", Err: fmt.Errorf("connection reset")}
	backend.mu.Unlock()

	s.Tick(ctx)

	rec := jobByID(t, s, a)
	if rec.Status != models.JobStatusProcessing {
		t.Errorf("job status = %s after transient poll error, expected processing", rec.Status)
	}
	if rec.Error != "" {
		t.Errorf("transient poll error leaked into job error: %q", rec.Error)
	}

	// Once the backend recovers, polling resumes (after the backoff window)
	backend.mu.Lock()
	backend.pollErr = nil
	backend.statuses[rec.BackendHandle] = &models.RenderStatus{Status: "completed", Progress: 100, ResultURL: "u"}
	backend.mu.Unlock()

	s.mu.Lock()
	delete(s.nextPollAt, a)
	s.mu.Unlock()

	s.Tick(ctx)
	if got := jobByID(t, s, a).Status; got != models.JobStatusCompleted {
		t.Errorf("job status = %s after recovery, expected completed", got)
	}
}

func TestProgressUpdatesMonotonically(t *testing.T) {
	backend := newFakeBackend()
	s := newTestScheduler(t, backend, 1)
	ctx := context.Background()

	a, _ := s.Enqueue(testRequest("job-a"))
	s.Tick(ctx)
	handle := jobByID(t, s, a).BackendHandle

	backend.setStatus(handle, &models.RenderStatus{Status: "processing", Progress: 40})
	s.Tick(ctx)
	if got := jobByID(t, s, a).Progress; got != 40 {
		t.Errorf("progress = %d, expected 40", got)
	}

	// A backend glitch reporting lower progress must not move it backwards
	backend.setStatus(handle, &models.RenderStatus{Status: "processing", Progress: 25})
	s.Tick(ctx)
	if got := jobByID(t, s, a).Progress; got != 40 {
		t.Errorf("progress = %d after backend reported 25, expected to stay 40", got)
	}
}

func TestRemoveRejectsProcessing(t *testing.T) {
	backend := newFakeBackend()
	s := newTestScheduler(t, backend, 1)

	a, _ := s.Enqueue(testRequest("job-a"))
	b, _ := s.Enqueue(testRequest("job-b"))

	if err := s.Remove(a); err == nil {
		t.Error("expected error removing a processing job")
	}
	if err := s.Remove(b); err != nil {
		t.Errorf("removing a queued job failed: %v", err)
	}
	if err := s.Remove(uuid.New()); err == nil {
		t.Error("expected error removing an unknown job")
	}
}

func TestClearCompleted(t *testing.T) {
	backend := newFakeBackend()
	s := newTestScheduler(t, backend, 2)
	ctx := context.Background()

	a, _ := s.Enqueue(testRequest("job-a"))
	b, _ := s.Enqueue(testRequest("job-b"))

	s.Tick(ctx)
	backend.setStatus(jobByID(t, s, a).BackendHandle, &models.RenderStatus{Status: "completed", Progress: 100, ResultURL: "u"})
	backend.setStatus(jobByID(t, s, b).BackendHandle, &models.RenderStatus{Status: "failed", Error: "render crashed"})
	s.Tick(ctx)

	c, _ := s.Enqueue(testRequest("job-c"))

	s.ClearCompleted()

	jobs := s.Jobs()
	if len(jobs) != 1 {
		t.Fatalf("expected 1 job after clear, got %d", len(jobs))
	}
	if jobs[0].ID != c {
		t.Errorf("surviving job = %s, expected %s", jobs[0].ID, c)
	}
}

func TestBackendReportedFailure(t *testing.T) {
	backend := newFakeBackend()
	s := newTestScheduler(t, backend, 1)
	ctx := context.Background()

	a, _ := s.Enqueue(testRequest("job-a"))
	b, _ := s.Enqueue(testRequest("job-b"))

	s.Tick(ctx)
	backend.setStatus(jobByID(t, s, a).BackendHandle, &models.RenderStatus{Status: "failed", Error: "encoder exploded"})
	s.Tick(ctx)

	recA := jobByID(t, s, a)
	if recA.Status != models.JobStatusFailed {
		t.Errorf("job A status = %s, expected failed", recA.Status)
	}
	if recA.Error != "encoder exploded" {
		t.Errorf("job A error = %q, expected backend-supplied message", recA.Error)
	}
	if got := jobByID(t, s, b).Status; got != models.JobStatusProcessing {
		t.Errorf("job B status = %s, expected processing after slot freed", got)
	}
}

func TestRestoreDemotesUnsubmittedProcessing(t *testing.T) {
	store := &fakeStore{}
	submitted := &models.JobRecord{
		ID:            uuid.New(),
		CreatedAt:     time.Now().Add(-2 * time.Minute),
		Status:        models.JobStatusProcessing,
		BackendHandle: "render-42",
		Progress:      60,
		Request:       testRequest("job-submitted"),
	}
	unsubmitted := &models.JobRecord{
		ID:        uuid.New(),
		CreatedAt: time.Now().Add(-1 * time.Minute),
		Status:    models.JobStatusProcessing,
		Request:   testRequest("job-unsubmitted"),
	}
	store.jobs = []*models.JobRecord{unsubmitted, submitted}

	s := New(newFakeBackend(), store, Config{MaxConcurrent: 2})

	rec, err := s.Get(unsubmitted.ID)
	if err != nil {
		t.Fatalf("restored job not found: %v", err)
	}
	if rec.Status != models.JobStatusQueued {
		t.Errorf("unsubmitted job status = %s, expected demoted to queued", rec.Status)
	}

	rec, err = s.Get(submitted.ID)
	if err != nil {
		t.Fatalf("restored job not found: %v", err)
	}
	if rec.Status != models.JobStatusProcessing || rec.BackendHandle != "render-42" {
		t.Errorf("submitted job should be left as-is, got status=%s handle=%q", rec.Status, rec.BackendHandle)
	}

	// Jobs come back ordered by creation time
	jobs := s.Jobs()
	if jobs[0].ID != submitted.ID {
		t.Error("restored jobs not sorted by creation time")
	}
}

func TestDeadlineSweepFailsStuckJobs(t *testing.T) {
	backend := newFakeBackend()
	s := New(backend, &fakeStore{}, Config{MaxConcurrent: 1, MaxJobDuration: 10 * time.Minute})
	ctx := context.Background()

	a, _ := s.Enqueue(testRequest("job-a"))
	b, _ := s.Enqueue(testRequest("job-b"))
	s.Tick(ctx)

	// Jump the clock past the deadline
	s.mu.Lock()
	s.now = func() time.Time { return time.Now().Add(11 * time.Minute) }
	s.mu.Unlock()

	s.Tick(ctx)

	recA := jobByID(t, s, a)
	if recA.Status != models.JobStatusFailed {
		t.Errorf("overdue job status = %s, expected failed", recA.Status)
	}
	if recA.Error == "" {
		t.Error("overdue job should carry a deadline error")
	}
	if got := jobByID(t, s, b).Status; got != models.JobStatusProcessing {
		t.Errorf("job B status = %s, expected promoted into freed slot", got)
	}
}

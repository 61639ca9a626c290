package scheduler

import (
	"context"
	"fmt"
	"log"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/dullyvine/reelforge/internal/models"
	"github.com/dullyvine/reelforge/internal/renderer"
	"github.com/google/uuid"
)

// ---------------------------------------------------------------------------
// Render job scheduler
//
// Client-resident queue that submits render requests to the remote render
// backend under a concurrency cap and reconciles their state by polling.
// All lifecycle mutation happens through the public methods and Tick; the
// backend calls inside a tick run concurrently but each record is protected
// by a per-id in-flight marker, so a slow response from one tick can never
// overlap with the next tick's attempt on the same record.
//
// Job lifecycle: Queued → Processing → Completed | Failed. No backward
// transitions. A slot freeing (terminal outcome) promotes the oldest Queued
// record; the promotion never submits — the next tick's submission phase
// does, keeping "decide to run" and "talk to backend" independently
// retryable.
// ---------------------------------------------------------------------------

const (
	// Transient poll failures back off exponentially instead of hammering
	// the backend every tick.
	pollBackoffBase = 1 * time.Second
	pollBackoffMax  = 30 * time.Second
)

// Backend is the remote render service: submit a frozen request for a
// handle, then poll the handle for status.
type Backend interface {
	Submit(ctx context.Context, req *models.RenderRequest) (string, error)
	PollStatus(ctx context.Context, handle string) (*models.RenderStatus, error)
}

// SnapshotStore persists the queue state as one opaque blob. Both operations
// are best-effort: failures are logged and never block the queue.
type SnapshotStore interface {
	Save(ctx context.Context, jobs []*models.JobRecord) error
	Load(ctx context.Context) ([]*models.JobRecord, error)
}

type Config struct {
	// MaxConcurrent caps how many jobs may be Processing at once.
	MaxConcurrent int

	// MaxJobDuration, when positive, force-fails any job still Processing
	// this long after creation. Zero disables the deadline.
	MaxJobDuration time.Duration
}

type Scheduler struct {
	mu   sync.Mutex
	jobs []*models.JobRecord // ordered by CreatedAt

	backend Backend
	store   SnapshotStore
	cfg     Config

	// Per-record in-flight markers. A record in one of these sets has a
	// backend call outstanding and is skipped by subsequent ticks until the
	// call resolves.
	submitting map[uuid.UUID]struct{}
	polling    map[uuid.UUID]struct{}

	// Transient-poll backoff state, reset on any successful poll.
	pollFailures map[uuid.UUID]int
	nextPollAt   map[uuid.UUID]time.Time

	tickActive bool

	now func() time.Time
}

// New builds a scheduler and restores any persisted queue state. Records
// found Processing without a backend handle are demoted to Queued — a
// submission whose outcome was never durably recorded is treated as
// not-yet-started. Records Processing with a handle are kept and re-polled
// normally.
func New(backend Backend, store SnapshotStore, cfg Config) *Scheduler {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}

	s := &Scheduler{
		backend:      backend,
		store:        store,
		cfg:          cfg,
		submitting:   make(map[uuid.UUID]struct{}),
		polling:      make(map[uuid.UUID]struct{}),
		pollFailures: make(map[uuid.UUID]int),
		nextPollAt:   make(map[uuid.UUID]time.Time),
		now:          time.Now,
	}

	s.restore()
	return s
}

func (s *Scheduler) restore() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	jobs, err := s.store.Load(ctx)
	if err != nil {
		log.Printf("[Scheduler] Failed to load snapshot, starting empty: %v", err)
		return
	}

	demoted := 0
	for _, rec := range jobs {
		if rec.Status == models.JobStatusProcessing && rec.BackendHandle == "" {
			rec.Status = models.JobStatusQueued
			rec.Progress = 0
			demoted++
		}
	}

	sort.SliceStable(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.Before(jobs[j].CreatedAt)
	})

	s.jobs = jobs
	if len(jobs) > 0 {
		log.Printf("[Scheduler] Restored %d jobs from snapshot (%d demoted to queued)", len(jobs), demoted)
	}
}

// Enqueue creates a JobRecord for the frozen request. The job starts
// Processing if a concurrency slot is free, Queued otherwise. Never talks to
// the backend — the next tick's submission phase does.
func (s *Scheduler) Enqueue(req *models.RenderRequest) (uuid.UUID, error) {
	if req == nil {
		return uuid.Nil, fmt.Errorf("render request is nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec := &models.JobRecord{
		ID:        uuid.New(),
		CreatedAt: s.now(),
		Status:    models.JobStatusQueued,
		Request:   req,
	}

	if s.processingCountLocked() < s.cfg.MaxConcurrent {
		rec.Status = models.JobStatusProcessing
	}

	s.jobs = append(s.jobs, rec)
	log.Printf("[Scheduler] Enqueued job %s (flow=%s, status=%s)", rec.ID, req.Flow, rec.Status)

	s.persistLocked()
	return rec.ID, nil
}

// Remove deletes a job record. Rejected for Processing jobs — they must
// reach a terminal state first.
func (s *Scheduler) Remove(id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, rec := range s.jobs {
		if rec.ID != id {
			continue
		}
		if rec.Status == models.JobStatusProcessing {
			return fmt.Errorf("cannot remove job %s while processing", id)
		}
		s.jobs = append(s.jobs[:i], s.jobs[i+1:]...)
		s.forgetLocked(id)
		s.persistLocked()
		return nil
	}

	return fmt.Errorf("job %s not found", id)
}

// ClearCompleted removes all records in a terminal state.
func (s *Scheduler) ClearCompleted() {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.jobs[:0]
	removed := 0
	for _, rec := range s.jobs {
		if rec.Status.Terminal() {
			s.forgetLocked(rec.ID)
			removed++
			continue
		}
		kept = append(kept, rec)
	}
	s.jobs = kept

	if removed > 0 {
		log.Printf("[Scheduler] Cleared %d terminal jobs", removed)
		s.persistLocked()
	}
}

// Jobs returns a snapshot copy of all records in creation order.
func (s *Scheduler) Jobs() []*models.JobRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*models.JobRecord, len(s.jobs))
	for i, rec := range s.jobs {
		copied := *rec
		out[i] = &copied
	}
	return out
}

// Get returns a snapshot copy of one record.
func (s *Scheduler) Get(id uuid.UUID) (*models.JobRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.findLocked(id)
	if rec == nil {
		return nil, fmt.Errorf("job %s not found", id)
	}
	copied := *rec
	return &copied, nil
}

// Tick runs one reconciliation cycle: fail overdue jobs, submit Processing
// jobs that have no backend handle yet, poll the ones that do, and promote
// Queued jobs into freed slots. Backend calls for different records run
// concurrently; Tick returns once all calls it launched have resolved. A
// Tick that arrives while another is still running is skipped.
func (s *Scheduler) Tick(ctx context.Context) {
	s.mu.Lock()
	if s.tickActive {
		s.mu.Unlock()
		return
	}
	s.tickActive = true

	s.sweepDeadlinesLocked()

	type submitTask struct {
		id  uuid.UUID
		req *models.RenderRequest
	}
	type pollTask struct {
		id     uuid.UUID
		handle string
	}

	var submits []submitTask
	var polls []pollTask

	now := s.now()
	for _, rec := range s.jobs {
		if rec.Status != models.JobStatusProcessing {
			continue
		}

		if rec.BackendHandle == "" {
			if _, inFlight := s.submitting[rec.ID]; inFlight {
				continue
			}
			s.submitting[rec.ID] = struct{}{}
			submits = append(submits, submitTask{id: rec.ID, req: rec.Request})
			continue
		}

		if _, inFlight := s.polling[rec.ID]; inFlight {
			continue
		}
		if at, ok := s.nextPollAt[rec.ID]; ok && now.Before(at) {
			continue
		}
		s.polling[rec.ID] = struct{}{}
		polls = append(polls, pollTask{id: rec.ID, handle: rec.BackendHandle})
	}
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, task := range submits {
		wg.Add(1)
		go func(task submitTask) {
			defer wg.Done()
			s.submitJob(ctx, task.id, task.req)
		}(task)
	}
	for _, task := range polls {
		wg.Add(1)
		go func(task pollTask) {
			defer wg.Done()
			s.pollJob(ctx, task.id, task.handle)
		}(task)
	}
	wg.Wait()

	s.mu.Lock()
	s.tickActive = false
	s.mu.Unlock()
}

// submitJob performs the backend submission for one record and applies the
// outcome. Any submission error is fatal to the job: the outcome of a
// network-failed submit is unknown, and retrying could submit the same job
// twice.
func (s *Scheduler) submitJob(ctx context.Context, id uuid.UUID, req *models.RenderRequest) {
	handle, err := s.backend.Submit(ctx, req)

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.submitting, id)

	rec := s.findLocked(id)
	if rec == nil || rec.Status != models.JobStatusProcessing {
		// Removed or force-failed while the call was in flight
		return
	}

	if err != nil {
		log.Printf("[Scheduler] Submission failed for job %s: %v", id, err)
		rec.Status = models.JobStatusFailed
		rec.Error = err.Error()
		s.promoteLocked()
		s.persistLocked()
		return
	}

	rec.BackendHandle = handle
	log.Printf("[Scheduler] Job %s submitted (handle=%s)", id, handle)
	s.persistLocked()
}

// pollJob fetches backend status for one record and applies the outcome.
// Transient poll errors are swallowed: the record stays Processing and is
// retried after a backoff.
func (s *Scheduler) pollJob(ctx context.Context, id uuid.UUID, handle string) {
	status, err := s.backend.PollStatus(ctx, handle)

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.polling, id)

	rec := s.findLocked(id)
	if rec == nil || rec.Status != models.JobStatusProcessing {
		return
	}

	if err != nil {
		if !renderer.IsTransient(err) {
			log.Printf("[Scheduler] Unexpected poll error for job %s (treating as transient): %v", id, err)
		}
		fails := s.pollFailures[id] + 1
		s.pollFailures[id] = fails
		delay := pollBackoffDelay(fails)
		s.nextPollAt[id] = s.now().Add(delay)
		log.Printf("[Scheduler] Poll failed for job %s (attempt %d, retrying in %v): %v", id, fails, delay, err)
		return
	}

	delete(s.pollFailures, id)
	delete(s.nextPollAt, id)

	switch status.Status {
	case "completed":
		rec.Status = models.JobStatusCompleted
		rec.Progress = 100
		rec.ResultURL = status.ResultURL
		log.Printf("[Scheduler] Job %s completed: %s", id, status.ResultURL)
		s.promoteLocked()
		s.persistLocked()

	case "failed":
		rec.Status = models.JobStatusFailed
		rec.Error = status.Error
		if rec.Error == "" {
			rec.Error = "render failed"
		}
		log.Printf("[Scheduler] Job %s failed on backend: %s", id, rec.Error)
		s.promoteLocked()
		s.persistLocked()

	default:
		// Still queued/processing on the backend — progress only, never
		// backwards.
		if status.Progress > rec.Progress {
			rec.Progress = status.Progress
			s.persistLocked()
		}
	}
}

// sweepDeadlinesLocked force-fails Processing records older than
// MaxJobDuration. A poll or submit response arriving later for a swept
// record finds it no longer Processing and is discarded.
func (s *Scheduler) sweepDeadlinesLocked() {
	if s.cfg.MaxJobDuration <= 0 {
		return
	}

	now := s.now()
	swept := false
	for _, rec := range s.jobs {
		if rec.Status != models.JobStatusProcessing {
			continue
		}
		if now.Sub(rec.CreatedAt) <= s.cfg.MaxJobDuration {
			continue
		}
		log.Printf("[Scheduler] Job %s exceeded deadline %v, failing", rec.ID, s.cfg.MaxJobDuration)
		rec.Status = models.JobStatusFailed
		rec.Error = fmt.Sprintf("render exceeded deadline of %v", s.cfg.MaxJobDuration)
		swept = true
	}

	if swept {
		s.promoteLocked()
		s.persistLocked()
	}
}

// promoteLocked fills freed Processing slots with the oldest Queued records,
// FIFO by creation time. Promotion only flips status — submission happens on
// the next tick.
func (s *Scheduler) promoteLocked() {
	for s.processingCountLocked() < s.cfg.MaxConcurrent {
		var oldest *models.JobRecord
		for _, rec := range s.jobs {
			if rec.Status != models.JobStatusQueued {
				continue
			}
			if oldest == nil || rec.CreatedAt.Before(oldest.CreatedAt) {
				oldest = rec
			}
		}
		if oldest == nil {
			return
		}
		oldest.Status = models.JobStatusProcessing
		log.Printf("[Scheduler] Promoted job %s to processing", oldest.ID)
	}
}

func (s *Scheduler) processingCountLocked() int {
	count := 0
	for _, rec := range s.jobs {
		if rec.Status == models.JobStatusProcessing {
			count++
		}
	}
	return count
}

func (s *Scheduler) findLocked(id uuid.UUID) *models.JobRecord {
	for _, rec := range s.jobs {
		if rec.ID == id {
			return rec
		}
	}
	return nil
}

// forgetLocked drops all transient per-record state for a removed id.
func (s *Scheduler) forgetLocked(id uuid.UUID) {
	delete(s.submitting, id)
	delete(s.polling, id)
	delete(s.pollFailures, id)
	delete(s.nextPollAt, id)
}

// persistLocked saves a copy of the queue state in the background so a slow
// store never blocks queue operation. Failures are logged only.
func (s *Scheduler) persistLocked() {
	if s.store == nil {
		return
	}

	snapshot := make([]*models.JobRecord, len(s.jobs))
	for i, rec := range s.jobs {
		copied := *rec
		snapshot[i] = &copied
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.store.Save(ctx, snapshot); err != nil {
			log.Printf("[Scheduler] Failed to persist snapshot: %v", err)
		}
	}()
}

// pollBackoffDelay is exponential: base * 2^(attempt-1), capped.
func pollBackoffDelay(attempt int) time.Duration {
	delay := float64(pollBackoffBase) * math.Pow(2, float64(attempt-1))
	if delay > float64(pollBackoffMax) {
		delay = float64(pollBackoffMax)
	}
	return time.Duration(delay)
}

package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ridesharepro/notification-service/internal/notification"
)

type memJob struct {
	job      notification.Job
	leasedBy string
	leaseExp time.Time
}

// memStore is an in-memory stand-in for the durable queue and status tracker.
// It mirrors the database semantics the pool relies on: atomic lease with
// attempt increment, idempotent ack, terminal-status guards and lease reaping.
type memStore struct {
	mu   sync.Mutex
	jobs map[string]*memJob
}

func newMemStore(jobs ...*notification.Job) *memStore {
	s := &memStore{jobs: make(map[string]*memJob)}
	for _, j := range jobs {
		s.jobs[j.ID] = &memJob{job: *j}
	}
	return s
}

func (s *memStore) add(job *notification.Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = &memJob{job: *job}
}

func (s *memStore) setLease(jobID, workerID string, expiresAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[jobID].leasedBy = workerID
	s.jobs[jobID].leaseExp = expiresAt
}

func (s *memStore) get(id string) notification.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobs[id].job
}

func (s *memStore) leaseHolder(id string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobs[id].leasedBy
}

func (s *memStore) Lease(_ context.Context, workerID string, visibility time.Duration) (*notification.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()

	var oldest *memJob
	for _, j := range s.jobs {
		if j.job.Status != notification.StatusQueued ||
			j.job.NotBefore.After(now) ||
			j.job.AttemptCount >= j.job.MaxAttempts {
			continue
		}
		if oldest == nil || j.job.NotBefore.Before(oldest.job.NotBefore) {
			oldest = j
		}
	}
	if oldest == nil {
		return nil, nil
	}

	oldest.job.Status = notification.StatusInFlight
	oldest.job.AttemptCount++
	oldest.leasedBy = workerID
	oldest.leaseExp = now.Add(visibility)

	claimed := oldest.job
	return &claimed, nil
}

func (s *memStore) Ack(_ context.Context, jobID, workerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if j, ok := s.jobs[jobID]; ok && j.leasedBy == workerID {
		j.leasedBy = ""
		j.leaseExp = time.Time{}
	}
	return nil
}

func (s *memStore) Nack(_ context.Context, jobID, workerID string, delay time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[jobID]
	if !ok || j.job.Status != notification.StatusInFlight || j.leasedBy != workerID {
		return nil
	}
	j.job.Status = notification.StatusQueued
	j.job.NotBefore = time.Now().UTC().Add(delay)
	j.leasedBy = ""
	j.leaseExp = time.Time{}
	return nil
}

func (s *memStore) ReapExpired(_ context.Context) (requeued, failed int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	for _, j := range s.jobs {
		if j.job.Status != notification.StatusInFlight || j.leaseExp.IsZero() || !j.leaseExp.Before(now) {
			continue
		}
		j.leasedBy = ""
		j.leaseExp = time.Time{}
		if j.job.AttemptCount >= j.job.MaxAttempts {
			j.job.Status = notification.StatusFailed
			j.job.FailureReason = "retries exhausted: lease expired after final attempt"
			completed := now
			j.job.CompletedAt = &completed
			failed++
			continue
		}
		j.job.Status = notification.StatusQueued
		j.job.NotBefore = now
		requeued++
	}
	return requeued, failed, nil
}

func (s *memStore) MarkSent(_ context.Context, jobID string) error {
	return s.markTerminal(jobID, notification.StatusSent, "")
}

func (s *memStore) MarkFailed(_ context.Context, jobID, reason string) error {
	return s.markTerminal(jobID, notification.StatusFailed, reason)
}

func (s *memStore) markTerminal(jobID, status, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[jobID]
	if !ok {
		return notification.ErrJobNotFound
	}
	if notification.IsTerminal(j.job.Status) {
		if j.job.Status == status {
			return nil
		}
		return fmt.Errorf("notification %s is %s: %w", jobID, j.job.Status, notification.ErrTerminalConflict)
	}
	now := time.Now().UTC()
	j.job.Status = status
	j.job.FailureReason = reason
	j.job.CompletedAt = &now
	return nil
}

// scriptedDispatcher returns a per-job sequence of errors, one per Send call,
// repeating the last entry once the script runs out. It also tracks concurrent
// in-flight sends so tests can assert lease exclusivity.
type scriptedDispatcher struct {
	mu       sync.Mutex
	scripts  map[string][]error
	calls    map[string]int
	inFlight map[string]bool
	overlaps int
	delay    time.Duration
}

func newScriptedDispatcher() *scriptedDispatcher {
	return &scriptedDispatcher{
		scripts:  make(map[string][]error),
		calls:    make(map[string]int),
		inFlight: make(map[string]bool),
	}
}

func (d *scriptedDispatcher) script(jobID string, errs ...error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.scripts[jobID] = errs
}

func (d *scriptedDispatcher) callCount(jobID string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls[jobID]
}

func (d *scriptedDispatcher) overlapCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.overlaps
}

func (d *scriptedDispatcher) Send(_ context.Context, job *notification.Job) error {
	d.mu.Lock()
	if d.inFlight[job.ID] {
		d.overlaps++
	}
	d.inFlight[job.ID] = true
	call := d.calls[job.ID]
	d.calls[job.ID] = call + 1
	script := d.scripts[job.ID]
	delay := d.delay
	d.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}

	d.mu.Lock()
	d.inFlight[job.ID] = false
	d.mu.Unlock()

	if len(script) == 0 {
		return nil
	}
	if call >= len(script) {
		call = len(script) - 1
	}
	return script[call]
}

func queuedJob(id string, maxAttempts int) *notification.Job {
	now := time.Now().UTC()
	return &notification.Job{
		ID:          id,
		UserID:      "user-1",
		Type:        notification.TypeEmail,
		Recipient:   "rider@rideshare.example",
		Subject:     "Ride update",
		Content:     "Your driver has arrived",
		Status:      notification.StatusQueued,
		MaxAttempts: maxAttempts,
		NotBefore:   now,
		EnqueuedAt:  now,
	}
}

func startTestWorker(t *testing.T, store *memStore, d *scriptedDispatcher, concurrency int) {
	t.Helper()

	w := New(&Config{
		Logger:            slog.New(slog.NewTextHandler(io.Discard, nil)),
		Queue:             store,
		Tracker:           store,
		Dispatcher:        d,
		Concurrency:       concurrency,
		VisibilityTimeout: time.Second,
		IdlePollInterval:  2 * time.Millisecond,
		ReapInterval:      5 * time.Millisecond,
		DispatchTimeout:   time.Second,
		Backoff:           Backoff{Base: time.Millisecond, Max: 4 * time.Millisecond},
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Start(ctx)
	}()

	t.Cleanup(func() {
		cancel()
		w.Stop()
		<-done
	})
}

func waitForTerminal(t *testing.T, store *memStore, jobID string) notification.Job {
	t.Helper()
	require.Eventually(t, func() bool {
		return notification.IsTerminal(store.get(jobID).Status)
	}, 2*time.Second, 2*time.Millisecond)
	return store.get(jobID)
}

func TestWorker_SendsOnFirstAttempt(t *testing.T) {
	store := newMemStore(queuedJob("job-1", 3))
	d := newScriptedDispatcher()

	startTestWorker(t, store, d, 1)

	job := waitForTerminal(t, store, "job-1")
	assert.Equal(t, notification.StatusSent, job.Status)
	assert.Equal(t, 1, job.AttemptCount)
	assert.Equal(t, 1, d.callCount("job-1"))
	assert.NotNil(t, job.CompletedAt)

	// ack released the lease
	require.Eventually(t, func() bool {
		return store.leaseHolder("job-1") == ""
	}, time.Second, 2*time.Millisecond)
}

func TestWorker_RetriesTransientFailureThenSucceeds(t *testing.T) {
	store := newMemStore(queuedJob("job-1", 3))
	d := newScriptedDispatcher()
	d.script("job-1",
		notification.NewTransient(errors.New("smtp timeout")),
		notification.NewTransient(errors.New("smtp timeout")),
		nil,
	)

	startTestWorker(t, store, d, 1)

	job := waitForTerminal(t, store, "job-1")
	assert.Equal(t, notification.StatusSent, job.Status)
	assert.Equal(t, 3, job.AttemptCount)
	assert.Equal(t, 3, d.callCount("job-1"))
	assert.Empty(t, job.FailureReason)
}

func TestWorker_FailsAfterRetryBudgetExhausted(t *testing.T) {
	store := newMemStore(queuedJob("job-1", 3))
	d := newScriptedDispatcher()
	d.script("job-1", notification.NewTransient(errors.New("provider unavailable")))

	startTestWorker(t, store, d, 1)

	job := waitForTerminal(t, store, "job-1")
	assert.Equal(t, notification.StatusFailed, job.Status)
	assert.Equal(t, 3, job.AttemptCount)
	assert.Equal(t, 3, d.callCount("job-1"))
	assert.Contains(t, job.FailureReason, "retries exhausted after 3 attempts")
	assert.Contains(t, job.FailureReason, "provider unavailable")
}

func TestWorker_PermanentFailureSkipsRetries(t *testing.T) {
	store := newMemStore(queuedJob("job-1", 3))
	d := newScriptedDispatcher()
	d.script("job-1", notification.NewPermanent(errors.New("invalid recipient")))

	startTestWorker(t, store, d, 1)

	job := waitForTerminal(t, store, "job-1")
	assert.Equal(t, notification.StatusFailed, job.Status)
	assert.Equal(t, 1, job.AttemptCount)
	assert.Equal(t, 1, d.callCount("job-1"))
	assert.Contains(t, job.FailureReason, "invalid recipient")
}

func TestWorker_LeaseIsExclusiveAcrossPool(t *testing.T) {
	const jobCount = 20

	store := newMemStore()
	ids := make([]string, 0, jobCount)
	for i := 0; i < jobCount; i++ {
		id := fmt.Sprintf("job-%d", i)
		ids = append(ids, id)
		store.add(queuedJob(id, 3))
	}

	d := newScriptedDispatcher()
	d.delay = 2 * time.Millisecond // widen the window an overlap would need

	startTestWorker(t, store, d, 8)

	for _, id := range ids {
		job := waitForTerminal(t, store, id)
		assert.Equal(t, notification.StatusSent, job.Status, id)
		assert.Equal(t, 1, d.callCount(id), id)
	}

	assert.Zero(t, d.overlapCount(), "a job was dispatched by two workers at once")
}

func TestWorker_JanitorRequeuesExpiredLease(t *testing.T) {
	// A previous worker leased the job and died; the lease is already expired
	// and the job still has retry budget.
	job := queuedJob("job-1", 3)
	job.Status = notification.StatusInFlight
	job.AttemptCount = 1

	store := newMemStore(job)
	store.setLease("job-1", "worker-dead-0", time.Now().UTC().Add(-time.Minute))

	d := newScriptedDispatcher()
	startTestWorker(t, store, d, 1)

	got := waitForTerminal(t, store, "job-1")
	assert.Equal(t, notification.StatusSent, got.Status)
	assert.Equal(t, 2, got.AttemptCount)
}

func TestWorker_JanitorFailsExpiredFinalAttempt(t *testing.T) {
	job := queuedJob("job-1", 3)
	job.Status = notification.StatusInFlight
	job.AttemptCount = 3

	store := newMemStore(job)
	store.setLease("job-1", "worker-dead-0", time.Now().UTC().Add(-time.Minute))

	d := newScriptedDispatcher()
	startTestWorker(t, store, d, 1)

	got := waitForTerminal(t, store, "job-1")
	assert.Equal(t, notification.StatusFailed, got.Status)
	assert.Contains(t, got.FailureReason, "lease expired after final attempt")
	assert.Zero(t, d.callCount("job-1"))
}

func TestWorker_StaleAckLeavesSuccessorLease(t *testing.T) {
	job := queuedJob("job-1", 3)
	job.Status = notification.StatusInFlight
	job.AttemptCount = 2

	store := newMemStore(job)
	store.setLease("job-1", "worker-live-0", time.Now().UTC().Add(time.Minute))

	ctx := context.Background()

	// An ack or nack from a worker whose lease already expired and was
	// re-granted must not touch the successor's claim.
	require.NoError(t, store.Ack(ctx, "job-1", "worker-dead-0"))
	assert.Equal(t, "worker-live-0", store.leaseHolder("job-1"))

	require.NoError(t, store.Nack(ctx, "job-1", "worker-dead-0", time.Millisecond))
	assert.Equal(t, "worker-live-0", store.leaseHolder("job-1"))
	assert.Equal(t, notification.StatusInFlight, store.get("job-1").Status)

	// the holder itself still releases normally
	require.NoError(t, store.Ack(ctx, "job-1", "worker-live-0"))
	assert.Empty(t, store.leaseHolder("job-1"))
}

func TestNew_DefaultsKeepDispatchInsideLease(t *testing.T) {
	w := New(&Config{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})

	assert.Equal(t, 1, w.concurrency)
	assert.Less(t, w.dispatchTimeout, w.visibilityTimeout,
		"a dispatch must finish before its lease can expire")
}

func TestWorker_TerminalStatusDoesNotFlip(t *testing.T) {
	job := queuedJob("job-1", 3)
	store := newMemStore(job)
	d := newScriptedDispatcher()

	startTestWorker(t, store, d, 1)

	got := waitForTerminal(t, store, "job-1")
	require.Equal(t, notification.StatusSent, got.Status)

	// repeating the same outcome is a no-op, a different one is a conflict
	require.NoError(t, store.MarkSent(context.Background(), "job-1"))
	err := store.MarkFailed(context.Background(), "job-1", "late failure")
	require.Error(t, err)
	assert.ErrorIs(t, err, notification.ErrTerminalConflict)

	final := store.get("job-1")
	assert.Equal(t, notification.StatusSent, final.Status)
	assert.Empty(t, final.FailureReason)
}

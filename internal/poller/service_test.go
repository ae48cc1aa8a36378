package poller

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"govbot/internal/jobs"
	"govbot/internal/storage"
	logx "govbot/pkg/logx"
)

// memStore is an in-memory jobs.Store good enough to drive sweeps.
type memStore struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]jobs.Job
}

func newMemStore() *memStore {
	return &memStore{jobs: make(map[uuid.UUID]jobs.Job)}
}

func (m *memStore) add(name string, kind jobs.Kind, when time.Time, cron *jobs.CronSchedule) uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := uuid.New()
	m.jobs[id] = jobs.Job{ID: id, Name: name, Kind: kind, ExpectedTime: when, Cron: cron}
	return id
}

func (m *memStore) get(id uuid.UUID) (jobs.Job, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	return j, ok
}

func (m *memStore) UpsertJob(_ context.Context, name string, kind jobs.Kind, expectedTime time.Time, cron *jobs.CronSchedule, metadata json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, j := range m.jobs {
		if j.Name == name && j.ExpectedTime.Equal(expectedTime) {
			j.Metadata = metadata
			m.jobs[id] = j
			return nil
		}
	}
	id := uuid.New()
	m.jobs[id] = jobs.Job{ID: id, Name: name, Kind: kind, ExpectedTime: expectedTime, Cron: cron, Metadata: metadata}
	return nil
}

func (m *memStore) DeleteJob(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.jobs, id)
	return nil
}

func (m *memStore) RecordJobError(_ context.Context, id uuid.UUID, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if j, ok := m.jobs[id]; ok {
		j.ErrorMessage = message
		m.jobs[id] = j
	}
	return nil
}

func (m *memStore) RecordJobExecuted(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if j, ok := m.jobs[id]; ok {
		now := time.Now()
		j.ExecutedAt = &now
		m.jobs[id] = j
	}
	return nil
}

// DueJobs mirrors the real store's predicate: a job that has ever failed
// is held back until 60 minutes after its last recorded attempt.
func (m *memStore) DueJobs(_ context.Context, now time.Time) ([]jobs.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := now.Add(-60 * time.Minute)
	var out []jobs.Job
	for _, j := range m.jobs {
		if j.ExpectedTime.After(now) {
			continue
		}
		if j.ErrorMessage != "" && (j.ExecutedAt == nil || j.ExecutedAt.After(cutoff)) {
			continue
		}
		out = append(out, j)
	}
	return out, nil
}

type funcHandler struct {
	name string
	fn   func(ctx context.Context, job jobs.Job) error
}

func (h funcHandler) Name() string                                 { return h.name }
func (h funcHandler) Run(ctx context.Context, job jobs.Job) error { return h.fn(ctx, job) }

func newTestService(store jobs.Store, handlers ...jobs.Handler) *Service {
	d := jobs.NewDispatcher(logx.Nop(), handlers...)
	s := New(Config{Enabled: true, Interval: time.Minute}, store, d, logx.Nop())
	s.now = func() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC) }
	return s
}

func TestSweepExecutesAndDeletes(t *testing.T) {
	store := newMemStore()
	past := time.Date(2024, 3, 1, 11, 0, 0, 0, time.UTC)
	id := store.add("notify", jobs.KindSingleExecution, past, nil)

	var ran int
	s := newTestService(store, funcHandler{name: "notify", fn: func(context.Context, jobs.Job) error {
		ran++
		return nil
	}})

	s.sweep(context.Background())

	if ran != 1 {
		t.Fatalf("handler ran %d times, want 1", ran)
	}
	if _, ok := store.get(id); ok {
		t.Fatal("executed single-execution job should be deleted")
	}
}

func TestSweepRecordsFailureAndContinues(t *testing.T) {
	store := newMemStore()
	past := time.Date(2024, 3, 1, 11, 0, 0, 0, time.UTC)
	bad := store.add("bad", jobs.KindSingleExecution, past, nil)
	store.add("good", jobs.KindSingleExecution, past, nil)

	var goodRan bool
	s := newTestService(store,
		funcHandler{name: "bad", fn: func(context.Context, jobs.Job) error {
			return errors.New("boom")
		}},
		funcHandler{name: "good", fn: func(context.Context, jobs.Job) error {
			goodRan = true
			return nil
		}},
	)

	s.sweep(context.Background())

	if !goodRan {
		t.Fatal("failure of one job must not stop the sweep")
	}
	j, ok := store.get(bad)
	if !ok {
		t.Fatal("failed job must stay in the store")
	}
	if j.ErrorMessage != "boom" {
		t.Fatalf("error message = %q, want boom", j.ErrorMessage)
	}
	if j.ExecutedAt == nil {
		t.Fatal("failed attempt must stamp executed_at, or the backoff never releases the job")
	}
}

func TestSweepRecoversFromPanic(t *testing.T) {
	store := newMemStore()
	past := time.Date(2024, 3, 1, 11, 0, 0, 0, time.UTC)
	id := store.add("explode", jobs.KindSingleExecution, past, nil)

	s := newTestService(store, funcHandler{name: "explode", fn: func(context.Context, jobs.Job) error {
		panic("kaboom")
	}})

	s.sweep(context.Background())

	j, ok := store.get(id)
	if !ok {
		t.Fatal("panicking job must stay in the store")
	}
	if j.ErrorMessage != "panic: kaboom" {
		t.Fatalf("error message = %q, want panic: kaboom", j.ErrorMessage)
	}
	if j.ExecutedAt == nil {
		t.Fatal("panicking attempt must stamp executed_at")
	}
}

func TestSweepRequeuesCronJob(t *testing.T) {
	store := newMemStore()
	past := time.Date(2024, 3, 1, 11, 0, 0, 0, time.UTC)
	cronSched := &jobs.CronSchedule{Period: 2, Unit: jobs.UnitHour}
	id := store.add("recurring", jobs.KindCron, past, cronSched)

	s := newTestService(store, funcHandler{name: "recurring", fn: func(context.Context, jobs.Job) error {
		return nil
	}})

	s.sweep(context.Background())

	if _, ok := store.get(id); ok {
		t.Fatal("executed cron row should be deleted after re-queueing")
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.jobs) != 1 {
		t.Fatalf("got %d jobs, want exactly the re-queued one", len(store.jobs))
	}
	for _, j := range store.jobs {
		want := past.Add(2 * time.Hour)
		if !j.ExpectedTime.Equal(want) {
			t.Fatalf("re-queued at %v, want %v", j.ExpectedTime, want)
		}
		if j.Name != "recurring" || j.Kind != jobs.KindCron {
			t.Fatalf("re-queued job = %+v", j)
		}
	}
}

func TestSweepSkipsUnknownHandler(t *testing.T) {
	store := newMemStore()
	past := time.Date(2024, 3, 1, 11, 0, 0, 0, time.UTC)
	id := store.add("retired", jobs.KindSingleExecution, past, nil)

	s := newTestService(store)

	s.sweep(context.Background())

	// An unknown handler is a successful no-op, so the row is settled.
	if _, ok := store.get(id); ok {
		t.Fatal("job without a handler should still be settled and deleted")
	}
}

func TestSweepFailedJobBecomesDueAfterBackoff(t *testing.T) {
	st, err := storage.Open(storage.Config{Path: filepath.Join(t.TempDir(), "bot.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	ctx := context.Background()
	if err := st.UpsertJob(ctx, "flaky", jobs.KindSingleExecution, time.Now().Add(-time.Hour), nil, nil); err != nil {
		t.Fatalf("UpsertJob: %v", err)
	}

	d := jobs.NewDispatcher(logx.Nop(), funcHandler{name: "flaky", fn: func(context.Context, jobs.Job) error {
		return errors.New("boom")
	}})
	s := New(Config{Enabled: true, Interval: time.Minute}, st, d, logx.Nop())

	s.sweep(ctx)

	// Inside the backoff window the failed job is held back.
	due, err := st.DueJobs(ctx, time.Now().Add(30*time.Minute))
	if err != nil {
		t.Fatalf("DueJobs: %v", err)
	}
	if len(due) != 0 {
		t.Fatalf("got %d due jobs inside the backoff window, want 0", len(due))
	}

	// Past the window it must come back for a retry.
	due, err = st.DueJobs(ctx, time.Now().Add(2*time.Hour))
	if err != nil {
		t.Fatalf("DueJobs: %v", err)
	}
	if len(due) != 1 {
		t.Fatalf("got %d due jobs past the backoff window, want 1", len(due))
	}
	if due[0].ErrorMessage != "boom" {
		t.Fatalf("error message = %q, want boom", due[0].ErrorMessage)
	}
	if due[0].ExecutedAt == nil {
		t.Fatal("executed_at should be stamped by the failed attempt")
	}
}

func TestApplyTogglesService(t *testing.T) {
	store := newMemStore()
	s := newTestService(store)

	ctx := context.Background()
	s.Start(ctx)
	defer s.Stop(ctx)

	if !s.Enabled() {
		t.Fatal("service should report enabled")
	}

	s.Apply(ctx, Config{Enabled: false, Interval: time.Minute})
	if s.Enabled() {
		t.Fatal("Apply should disable the service")
	}

	s.Apply(ctx, Config{Enabled: true, Interval: 30 * time.Second})
	if !s.Enabled() {
		t.Fatal("Apply should re-enable the service")
	}
}

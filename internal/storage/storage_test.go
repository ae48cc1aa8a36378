package storage

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"govbot/internal/decision"
	"govbot/internal/jobs"
	logx "govbot/pkg/logx"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(Config{Path: filepath.Join(t.TempDir(), "bot.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestUpsertJobDeduplicates(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	when := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	if err := st.UpsertJob(ctx, "sweep", jobs.KindSingleExecution, when, nil, json.RawMessage(`{"v":1}`)); err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	if err := st.UpsertJob(ctx, "sweep", jobs.KindSingleExecution, when, nil, json.RawMessage(`{"v":2}`)); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	due, err := st.DueJobs(ctx, when.Add(time.Second))
	if err != nil {
		t.Fatalf("DueJobs: %v", err)
	}
	if len(due) != 1 {
		t.Fatalf("got %d jobs, want 1 after duplicate upsert", len(due))
	}
	if got := string(due[0].Metadata); got != `{"v":2}` {
		t.Fatalf("metadata = %s, want latest value", got)
	}
	if !due[0].ExpectedTime.Equal(when) {
		t.Fatalf("expected time = %v, want %v", due[0].ExpectedTime, when)
	}
}

func TestUpsertJobSameNameDifferentTimes(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		when := base.Add(time.Duration(i) * time.Hour)
		if err := st.UpsertJob(ctx, "sweep", jobs.KindCron, when, &jobs.CronSchedule{Period: 1, Unit: jobs.UnitHour}, nil); err != nil {
			t.Fatalf("upsert %d: %v", i, err)
		}
	}

	due, err := st.DueJobs(ctx, base.Add(3*time.Hour))
	if err != nil {
		t.Fatalf("DueJobs: %v", err)
	}
	if len(due) != 3 {
		t.Fatalf("got %d jobs, want 3 distinct expected times", len(due))
	}
	for _, j := range due {
		if j.Cron == nil || j.Cron.Period != 1 || j.Cron.Unit != jobs.UnitHour {
			t.Fatalf("cron schedule not round-tripped: %+v", j.Cron)
		}
	}
}

func TestDueJobsExcludesFuture(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	if err := st.UpsertJob(ctx, "past", jobs.KindSingleExecution, now.Add(-time.Minute), nil, nil); err != nil {
		t.Fatalf("upsert past: %v", err)
	}
	if err := st.UpsertJob(ctx, "future", jobs.KindSingleExecution, now.Add(time.Minute), nil, nil); err != nil {
		t.Fatalf("upsert future: %v", err)
	}

	due, err := st.DueJobs(ctx, now)
	if err != nil {
		t.Fatalf("DueJobs: %v", err)
	}
	if len(due) != 1 || due[0].Name != "past" {
		t.Fatalf("due = %+v, want only the past job", due)
	}
}

func TestDueJobsRetryBackoff(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	if err := st.UpsertJob(ctx, "flaky", jobs.KindSingleExecution, now.Add(-2*time.Hour), nil, nil); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	due, err := st.DueJobs(ctx, now)
	if err != nil {
		t.Fatalf("DueJobs: %v", err)
	}
	if len(due) != 1 {
		t.Fatalf("got %d jobs before any failure, want 1", len(due))
	}
	id := due[0].ID

	// A failure without a recorded execution keeps the job out entirely.
	if err := st.RecordJobError(ctx, id, "boom"); err != nil {
		t.Fatalf("RecordJobError: %v", err)
	}
	due, err = st.DueJobs(ctx, now)
	if err != nil {
		t.Fatalf("DueJobs: %v", err)
	}
	if len(due) != 0 {
		t.Fatalf("failed job with no executed_at should be excluded, got %d", len(due))
	}

	// Record an execution; inside the backoff window the job stays excluded.
	if err := st.RecordJobExecuted(ctx, id); err != nil {
		t.Fatalf("RecordJobExecuted: %v", err)
	}
	soon := time.Now().Add(30 * time.Minute)
	due, err = st.DueJobs(ctx, soon)
	if err != nil {
		t.Fatalf("DueJobs: %v", err)
	}
	if len(due) != 0 {
		t.Fatalf("job inside the backoff window should be excluded, got %d", len(due))
	}

	// Past the backoff window it becomes due again, error intact.
	later := time.Now().Add(61 * time.Minute)
	due, err = st.DueJobs(ctx, later)
	if err != nil {
		t.Fatalf("DueJobs: %v", err)
	}
	if len(due) != 1 {
		t.Fatalf("job past the backoff window should be due, got %d", len(due))
	}
	if due[0].ErrorMessage != "boom" {
		t.Fatalf("error message = %q, want boom", due[0].ErrorMessage)
	}
	if due[0].ExecutedAt == nil {
		t.Fatal("executed_at should be set")
	}
}

func TestDeleteJob(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	if err := st.UpsertJob(ctx, "once", jobs.KindSingleExecution, now.Add(-time.Minute), nil, nil); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	due, err := st.DueJobs(ctx, now)
	if err != nil || len(due) != 1 {
		t.Fatalf("DueJobs = %v, %v", due, err)
	}
	if err := st.DeleteJob(ctx, due[0].ID); err != nil {
		t.Fatalf("DeleteJob: %v", err)
	}
	due, err = st.DueJobs(ctx, now)
	if err != nil {
		t.Fatalf("DueJobs: %v", err)
	}
	if len(due) != 0 {
		t.Fatalf("deleted job still due: %+v", due)
	}
}

func TestDecisionStateRoundTrip(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	in := &decision.State{
		IssueID:   7,
		Initiator: "grace",
		Start:     start,
		End:       start.Add(10 * 24 * time.Hour),
		Current: map[string]*decision.UserStatus{
			"grace":   {CommentURL: "https://t.test/c/1", Text: "@bot merge lang", Resolution: decision.Merge},
			"niklaus": nil,
		},
		History: map[string][]decision.UserStatus{
			"grace":   {},
			"niklaus": {},
		},
	}
	if err := st.InsertState(ctx, in); err != nil {
		t.Fatalf("InsertState: %v", err)
	}

	out, ok, err := st.State(ctx, 7)
	if err != nil {
		t.Fatalf("State: %v", err)
	}
	if !ok {
		t.Fatal("state not found after insert")
	}
	if out.Initiator != "grace" || !out.Start.Equal(in.Start) || !out.End.Equal(in.End) {
		t.Fatalf("state = %+v", out)
	}
	if v := out.Current["grace"]; v == nil || v.Resolution != decision.Merge || v.CommentURL != "https://t.test/c/1" {
		t.Fatalf("grace vote = %+v", v)
	}
	if v, ok := out.Current["niklaus"]; !ok || v != nil {
		t.Fatalf("niklaus vote = %+v present=%v, want present nil", v, ok)
	}
	if len(out.History) != 2 {
		t.Fatalf("history = %+v", out.History)
	}
}

func TestInsertStateDuplicate(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	first := &decision.State{
		IssueID: 9, Initiator: "grace", Start: start, End: start.Add(time.Hour),
		Current: map[string]*decision.UserStatus{}, History: map[string][]decision.UserStatus{},
	}
	if err := st.InsertState(ctx, first); err != nil {
		t.Fatalf("first insert: %v", err)
	}

	second := &decision.State{
		IssueID: 9, Initiator: "mallory", Start: start, End: start.Add(time.Hour),
		Current: map[string]*decision.UserStatus{}, History: map[string][]decision.UserStatus{},
	}
	if err := st.InsertState(ctx, second); !errors.Is(err, decision.ErrStateExists) {
		t.Fatalf("second insert error = %v, want ErrStateExists", err)
	}

	out, ok, err := st.State(ctx, 9)
	if err != nil || !ok {
		t.Fatalf("State: %v ok=%v", err, ok)
	}
	if out.Initiator != "grace" {
		t.Fatalf("initiator = %q, first ballot must survive the race", out.Initiator)
	}
}

func TestStateMissingIssue(t *testing.T) {
	st := openTestStore(t)

	out, ok, err := st.State(context.Background(), 12345)
	if err != nil {
		t.Fatalf("State: %v", err)
	}
	if ok || out != nil {
		t.Fatalf("expected no state, got %+v", out)
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(Config{Driver: "postgres", Path: filepath.Join(t.TempDir(), "bot.db")}, logx.Nop())
	if err == nil {
		t.Fatal("expected an error for an unknown driver")
	}
}

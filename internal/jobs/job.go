// Package jobs defines the scheduled-job model and the contracts for
// persisting and dispatching jobs.
//
// A Job is a persisted unit of deferred work. Jobs are keyed by
// (name, expected_time): re-submitting the same pair is an idempotent
// scheduling request that only refreshes the metadata, never a duplicate.
package jobs

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Kind distinguishes recurring jobs from one-shot jobs.
type Kind string

const (
	KindCron            Kind = "cron"
	KindSingleExecution Kind = "single_execution"
)

// CronSchedule is the (period, unit) pair of a recurring job.
// Both halves travel together; a job either has a full schedule or none.
type CronSchedule struct {
	Period int
	Unit   CronUnit
}

// Interval returns the elapsed time between two runs of the schedule.
func (cs CronSchedule) Interval() time.Duration {
	return Duration(cs.Period, cs.Unit)
}

// Job is a persisted unit of deferred work.
type Job struct {
	ID           uuid.UUID
	Name         string
	Kind         Kind
	ExpectedTime time.Time
	Cron         *CronSchedule // nil for single-execution jobs

	// Metadata is an opaque, handler-defined value. The scheduler never
	// looks inside; each handler decodes its own schema.
	Metadata json.RawMessage

	ExecutedAt   *time.Time
	ErrorMessage string // last failure, empty if the job never failed
}

// Store is the durable persistence contract for scheduled jobs.
//
// Due returns every job whose expected time has passed and that is not
// sitting out a retry-backoff window. A job that has never failed is
// returned on every poll until someone records its execution; updating
// state after a run is the caller's duty, not the store's.
type Store interface {
	// UpsertJob inserts a job, or refreshes only the metadata when a job
	// with the same (name, expectedTime) already exists.
	UpsertJob(ctx context.Context, name string, kind Kind, expectedTime time.Time, cron *CronSchedule, metadata json.RawMessage) error
	DeleteJob(ctx context.Context, id uuid.UUID) error
	RecordJobError(ctx context.Context, id uuid.UUID, message string) error
	RecordJobExecuted(ctx context.Context, id uuid.UUID) error
	DueJobs(ctx context.Context, now time.Time) ([]Job, error)
}

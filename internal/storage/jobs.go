package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"govbot/internal/jobs"
	logx "govbot/pkg/logx"
)

// retryBackoff is the minimum time between retries of a job that has ever
// failed. There is no distinction between transient and permanent failures;
// this just keeps repeat executions rare enough.
const retryBackoff = 60 * time.Minute

// UpsertJob inserts a job, or refreshes only the metadata when a job with
// the same (name, expected_time) already exists. The conflict clause is the
// single atomic statement that makes re-submission idempotent.
func (s *Store) UpsertJob(ctx context.Context, name string, kind jobs.Kind, expectedTime time.Time, cron *jobs.CronSchedule, metadata json.RawMessage) error {
	s.log.Trace("upsert job", logx.String("name", name), logx.Time("expected", expectedTime))

	var period, unit any
	if cron != nil {
		period = cron.Period
		unit = string(cron.Unit)
	}
	if len(metadata) == 0 {
		metadata = json.RawMessage("{}")
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs(id, name, kind, expected_time, cron_period, cron_unit, metadata)
		 VALUES(?,?,?,?,?,?,?)
		 ON CONFLICT(name, expected_time) DO UPDATE SET metadata = excluded.metadata`,
		uuid.NewString(), name, string(kind), expectedTime.UnixMilli(), period, unit, string(metadata),
	)
	if err != nil {
		return fmt.Errorf("inserting job %q: %w", name, err)
	}
	return nil
}

func (s *Store) DeleteJob(ctx context.Context, id uuid.UUID) error {
	s.log.Trace("delete job", logx.String("id", id.String()))

	if _, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, id.String()); err != nil {
		return fmt.Errorf("deleting job %s: %w", id, err)
	}
	return nil
}

func (s *Store) RecordJobError(ctx context.Context, id uuid.UUID, message string) error {
	s.log.Trace("record job error", logx.String("id", id.String()))

	if _, err := s.db.ExecContext(ctx, `UPDATE jobs SET error_message = ? WHERE id = ?`, message, id.String()); err != nil {
		return fmt.Errorf("updating job error message for %s: %w", id, err)
	}
	return nil
}

func (s *Store) RecordJobExecuted(ctx context.Context, id uuid.UUID) error {
	s.log.Trace("record job executed", logx.String("id", id.String()))

	if _, err := s.db.ExecContext(ctx, `UPDATE jobs SET executed_at = ? WHERE id = ?`, time.Now().UnixMilli(), id.String()); err != nil {
		return fmt.Errorf("updating job executed_at for %s: %w", id, err)
	}
	return nil
}

// DueJobs returns every job whose expected time is at or before now and
// that is either failure-free or past its retry-backoff window. A job
// with an error but no recorded execution stays excluded.
func (s *Store) DueJobs(ctx context.Context, now time.Time) ([]jobs.Job, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, kind, expected_time, cron_period, cron_unit, metadata, executed_at, error_message
		 FROM jobs
		 WHERE expected_time <= ?
		   AND (error_message IS NULL OR (executed_at IS NOT NULL AND executed_at <= ?))`,
		now.UnixMilli(), now.Add(-retryBackoff).UnixMilli(),
	)
	if err != nil {
		return nil, fmt.Errorf("getting jobs data: %w", err)
	}
	defer rows.Close()

	var out []jobs.Job
	for rows.Next() {
		var (
			idStr, name, kind, metadata string
			expectedMS                  int64
			cronPeriod, executedMS      sql.NullInt64
			cronUnit, errMsg            sql.NullString
		)
		if err := rows.Scan(&idStr, &name, &kind, &expectedMS, &cronPeriod, &cronUnit, &metadata, &executedMS, &errMsg); err != nil {
			return nil, fmt.Errorf("scanning job row: %w", err)
		}

		id, err := uuid.Parse(idStr)
		if err != nil {
			return nil, fmt.Errorf("parsing job id %q: %w", idStr, err)
		}

		j := jobs.Job{
			ID:           id,
			Name:         name,
			Kind:         jobs.Kind(kind),
			ExpectedTime: time.UnixMilli(expectedMS).UTC(),
			Metadata:     json.RawMessage(metadata),
			ErrorMessage: errMsg.String,
		}
		if cronPeriod.Valid && cronUnit.Valid {
			j.Cron = &jobs.CronSchedule{Period: int(cronPeriod.Int64), Unit: jobs.CronUnit(cronUnit.String)}
		}
		if executedMS.Valid {
			t := time.UnixMilli(executedMS.Int64).UTC()
			j.ExecutedAt = &t
		}
		out = append(out, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating job rows: %w", err)
	}
	return out, nil
}

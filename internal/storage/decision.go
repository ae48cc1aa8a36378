package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"govbot/internal/decision"
	logx "govbot/pkg/logx"
)

// InsertState creates a new ballot for the issue. issue_id is the table's
// primary key, so two racing opening votes cannot both insert; the loser
// gets decision.ErrStateExists. INSERT OR IGNORE keeps the whole
// check-and-insert a single atomic statement.
func (s *Store) InsertState(ctx context.Context, st *decision.State) error {
	s.log.Trace("insert decision state", logx.Int64("issue", st.IssueID))

	current, err := json.Marshal(st.Current)
	if err != nil {
		return fmt.Errorf("encoding current statuses: %w", err)
	}
	history, err := json.Marshal(st.History)
	if err != nil {
		return fmt.Errorf("encoding history statuses: %w", err)
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO decision_state(issue_id, initiator, start_time, end_time, current, history)
		 VALUES(?,?,?,?,?,?)`,
		st.IssueID, st.Initiator, st.Start.UnixMilli(), st.End.UnixMilli(), string(current), string(history),
	)
	if err != nil {
		return fmt.Errorf("inserting decision state for issue %d: %w", st.IssueID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("inserting decision state for issue %d: %w", st.IssueID, err)
	}
	if n == 0 {
		return decision.ErrStateExists
	}
	return nil
}

// State loads the ballot for an issue; ok is false when none exists.
func (s *Store) State(ctx context.Context, issueID int64) (*decision.State, bool, error) {
	var (
		initiator        string
		startMS, endMS   int64
		current, history string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT initiator, start_time, end_time, current, history
		 FROM decision_state WHERE issue_id = ?`, issueID,
	).Scan(&initiator, &startMS, &endMS, &current, &history)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("getting decision state for issue %d: %w", issueID, err)
	}

	st := &decision.State{
		IssueID:   issueID,
		Initiator: initiator,
		Start:     time.UnixMilli(startMS).UTC(),
		End:       time.UnixMilli(endMS).UTC(),
	}
	if err := json.Unmarshal([]byte(current), &st.Current); err != nil {
		return nil, false, fmt.Errorf("decoding current statuses for issue %d: %w", issueID, err)
	}
	if err := json.Unmarshal([]byte(history), &st.History); err != nil {
		return nil, false, fmt.Errorf("decoding history statuses for issue %d: %w", issueID, err)
	}
	return st, true, nil
}

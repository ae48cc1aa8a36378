// Package decision implements the team decision process: a per-issue ballot
// that collects votes from a team roster, renders its status as a comment,
// and schedules its own resolution through the job store.
package decision

import (
	"context"
	"errors"
	"time"
)

// ErrStateExists is returned by Store.InsertState when the issue already has
// a ballot. The store enforces this with a uniqueness constraint, so two
// concurrent opening votes can never both win.
var ErrStateExists = errors.New("decision state already exists for issue")

// UserStatus is one cast vote. The comment URL doubles as the stable
// identity used when rendering struck-through vote history.
type UserStatus struct {
	CommentURL string     `json:"comment_id"`
	Text       string     `json:"text"`
	Resolution Resolution `json:"resolution"`
}

// State is the persisted ballot of one issue.
//
// Current maps every participant to their latest vote (nil = not voted yet).
// History holds each participant's prior votes, oldest first. Every key in
// Current must also exist in History; rendering enforces that invariant.
type State struct {
	IssueID   int64
	Initiator string
	Start     time.Time
	End       time.Time
	Current   map[string]*UserStatus
	History   map[string][]UserStatus
}

// Store is the durable persistence contract for ballot state.
type Store interface {
	// State loads the ballot for an issue; ok is false when none exists.
	State(ctx context.Context, issueID int64) (st *State, ok bool, err error)
	// InsertState creates a new ballot, failing with ErrStateExists when
	// the issue already has one.
	InsertState(ctx context.Context, st *State) error
}

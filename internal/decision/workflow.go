package decision

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"govbot/internal/jobs"
	"govbot/internal/tracker"
	logx "govbot/pkg/logx"
)

// JobName is the stable name of the decision-resolution job.
const JobName = "decision_process_action"

// decisionPeriod is the fixed length of the final comment period.
const decisionPeriod = 10 * 24 * time.Hour

// Command is a parsed vote command. Parsing itself happens upstream; the
// workflow only sees the validated pieces plus the comment that carried them.
type Command struct {
	Resolution Resolution
	Team       string // required on the ballot-opening vote, optional after
	CommentURL string // browser URL of the command comment
	Body       string // the comment text, kept as the vote's rationale
}

// Metadata is the payload of the decision-resolution job. It carries enough
// to re-derive context at execution time without a foreign key.
type Metadata struct {
	Message    string     `json:"message"`
	IssueURL   string     `json:"get_issue_url"`
	Resolution Resolution `json:"status"`
}

// Workflow drives the decision process for one command at a time.
//
// Business-rule rejections (ballot already open, non-member, missing team
// name, unknown team) are posted back as comments and return nil; only
// unexpected failures (storage, tracker connectivity) surface as errors.
type Workflow struct {
	log     logx.Logger
	states  Store
	jobs    jobs.Store
	tracker tracker.Client

	now func() time.Time
}

func NewWorkflow(states Store, jobStore jobs.Store, tc tracker.Client, log logx.Logger) *Workflow {
	return &Workflow{
		log:     log,
		states:  states,
		jobs:    jobStore,
		tracker: tc,
		now:     time.Now,
	}
}

// Rejection comments. The texts are part of the bot's public behavior;
// keep them stable.
const (
	msgConcurrentUnsupported = "We don't support having more than one vote yet. Coming soon :)"
	msgNotTeamMember         = "Only team members can be part of the decision process."
	msgTeamNameRequired      = "In the first vote, is necessary to specify the team name that will be involved in the decision process."
	msgUnknownTeam           = "Failed to resolve to a known team."
)

// HandleCommand validates a vote command against the issue's ballot state
// and, on the opening vote, initializes the ballot: persists the state,
// schedules the resolution job at the end of the comment period, posts the
// status table, and labels the issue with the proposed resolution.
func (w *Workflow) HandleCommand(ctx context.Context, issue *tracker.Issue, user tracker.User, cmd Command) error {
	_, exists, err := w.states.State(ctx, issue.Number)
	if err != nil {
		return fmt.Errorf("loading decision state for issue %d: %w", issue.Number, err)
	}
	if exists {
		// TODO(decision): support follow-up votes on an open ballot and
		// drop this rejection.
		return w.reject(ctx, issue, msgConcurrentUnsupported)
	}

	member, err := w.tracker.IsTeamMember(ctx, user)
	if err != nil {
		// Lookup failure counts as "not a member".
		w.log.Debug("team membership lookup failed", logx.String("user", user.Login), logx.Err(err))
		member = false
	}
	if !member {
		return w.reject(ctx, issue, msgNotTeamMember)
	}

	if cmd.Team == "" {
		return w.reject(ctx, issue, msgTeamNameRequired)
	}

	team, found, err := w.tracker.TeamByName(ctx, cmd.Team)
	if err != nil {
		w.log.Warn("team lookup failed", logx.String("team", cmd.Team), logx.Err(err))
	}
	if err != nil || !found {
		return w.reject(ctx, issue, msgUnknownTeam)
	}

	start := w.now()
	end := start.Add(decisionPeriod)

	current := make(map[string]*UserStatus, len(team.Members)+1)
	history := make(map[string][]UserStatus, len(team.Members)+1)
	for _, m := range team.Members {
		current[m.Login] = nil
		history[m.Login] = []UserStatus{}
	}
	current[user.Login] = &UserStatus{
		CommentURL: cmd.CommentURL,
		Text:       cmd.Body,
		Resolution: cmd.Resolution,
	}
	history[user.Login] = []UserStatus{}

	st := &State{
		IssueID:   issue.Number,
		Initiator: user.Login,
		Start:     start,
		End:       end,
		Current:   current,
		History:   history,
	}
	if err := w.states.InsertState(ctx, st); err != nil {
		if errors.Is(err, ErrStateExists) {
			// Lost the race to a concurrent opening vote; the constraint
			// in the store is what keeps this to a single ballot.
			return w.reject(ctx, issue, msgConcurrentUnsupported)
		}
		return fmt.Errorf("inserting decision state for issue %d: %w", issue.Number, err)
	}

	md, err := json.Marshal(Metadata{
		Message:    resolvedMessage(cmd.Resolution),
		IssueURL:   issue.URL,
		Resolution: cmd.Resolution,
	})
	if err != nil {
		return fmt.Errorf("encoding decision job metadata: %w", err)
	}
	if err := w.jobs.UpsertJob(ctx, JobName, jobs.KindSingleExecution, end, nil, md); err != nil {
		return fmt.Errorf("scheduling decision job for issue %d: %w", issue.Number, err)
	}

	comment, err := BuildStatusComment(st.History, st.Current)
	if err != nil {
		return err
	}
	if err := w.tracker.PostComment(ctx, issue, comment); err != nil {
		return fmt.Errorf("post vote comment: %w", err)
	}

	labels := []tracker.Label{{Name: cmd.Resolution.String()}}
	if err := w.tracker.AddLabels(ctx, issue, labels); err != nil {
		return fmt.Errorf("apply label: %w", err)
	}

	w.log.Info("decision process started",
		logx.Int64("issue", issue.Number),
		logx.String("initiator", user.Login),
		logx.String("team", cmd.Team),
		logx.String("resolution", cmd.Resolution.String()),
		logx.Time("end", end),
	)
	return nil
}

// reject posts a business-rule rejection back to the issue. Rejections are
// expected control flow, not failures, so they return nil unless even the
// comment can't be delivered.
func (w *Workflow) reject(ctx context.Context, issue *tracker.Issue, msg string) error {
	if err := w.tracker.PostComment(ctx, issue, msg); err != nil {
		return fmt.Errorf("posting rejection comment on issue %d: %w", issue.Number, err)
	}
	return nil
}

func resolvedMessage(r Resolution) string {
	return fmt.Sprintf("The final comment period has resolved, with a decision to **%s**. Ping involved people once again.", r)
}

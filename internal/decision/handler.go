package decision

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"govbot/internal/jobs"
	"govbot/internal/tracker"
	logx "govbot/pkg/logx"
)

// ResolutionHandler executes the decision-resolution job once an issue's
// final comment period elapses: it pings every ballot participant with the
// outcome and, for a merge resolution, merges the pull request.
//
// Note the ballot itself is left open; the job is a notification, not a
// close transition.
type ResolutionHandler struct {
	log     logx.Logger
	states  Store
	tracker tracker.Client
}

func NewResolutionHandler(states Store, tc tracker.Client, log logx.Logger) *ResolutionHandler {
	return &ResolutionHandler{log: log, states: states, tracker: tc}
}

func (h *ResolutionHandler) Name() string { return JobName }

func (h *ResolutionHandler) Run(ctx context.Context, job jobs.Job) error {
	h.log.Trace("decision job metadata", logx.Any("metadata", json.RawMessage(job.Metadata)))

	var md Metadata
	if err := json.Unmarshal(job.Metadata, &md); err != nil {
		return fmt.Errorf("decoding decision job metadata: %w", err)
	}

	issue, err := h.tracker.IssueByURL(ctx, md.IssueURL)
	if err != nil {
		// The issue may be gone or the tracker unreachable; the job is
		// considered handled for this invocation either way.
		h.log.Error("failed to get issue", logx.String("url", md.IssueURL), logx.Err(err))
		return nil
	}

	st, ok, err := h.states.State(ctx, issue.Number)
	if err != nil {
		return fmt.Errorf("loading decision state for issue %d: %w", issue.Number, err)
	}
	if !ok {
		return fmt.Errorf("no decision state for issue %d", issue.Number)
	}

	users := make([]string, 0, len(st.Current))
	for user := range st.Current {
		users = append(users, user)
	}
	sort.Strings(users)

	msg := md.Message
	if msg == "" {
		msg = resolvedMessage(md.Resolution)
	}
	if err := h.tracker.PostComment(ctx, issue, pingComment(users, msg)); err != nil {
		return err
	}

	if md.Resolution == Merge {
		if err := h.tracker.Merge(ctx, issue); err != nil {
			return fmt.Errorf("merging issue %d after decision: %w", issue.Number, err)
		}
	}
	return nil
}

// pingComment formats a comment that @-mentions every user above the body.
func pingComment(users []string, body string) string {
	var b strings.Builder
	for i, u := range users {
		if i > 0 {
			b.WriteString(" ")
		}
		b.WriteString("@")
		b.WriteString(u)
	}
	b.WriteString("\n\n")
	b.WriteString(body)
	return b.String()
}

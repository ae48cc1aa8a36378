// Package tracker talks to the external issue tracker and team directory.
//
// Consumers depend on the Client interface so workflows stay testable
// without network access; HTTPClient is the production implementation.
package tracker

import "context"

// Client is the set of tracker operations the bot consumes.
type Client interface {
	// PostComment posts a comment on the issue.
	PostComment(ctx context.Context, issue *Issue, body string) error
	// AddLabels applies labels to the issue.
	AddLabels(ctx context.Context, issue *Issue, labels []Label) error
	// IssueByURL fetches the live issue behind an API URL.
	IssueByURL(ctx context.Context, url string) (*Issue, error)
	// Merge merges the pull request backing the issue.
	Merge(ctx context.Context, issue *Issue) error

	// IsTeamMember reports whether the user appears in the team directory.
	IsTeamMember(ctx context.Context, user User) (bool, error)
	// TeamByName resolves a team roster. The bool is false when the team
	// does not exist.
	TeamByName(ctx context.Context, name string) (*Team, bool, error)
}

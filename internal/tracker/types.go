package tracker

// User is an account on the issue tracker.
type User struct {
	Login string `json:"login"`
}

// Issue is the live view of a tracker issue (or pull request).
type Issue struct {
	Number      int64  `json:"number"`
	Title       string `json:"title"`
	URL         string `json:"url"`      // API URL of the issue itself
	HTMLURL     string `json:"html_url"` // browser URL
	CommentsURL string `json:"comments_url"`
	User        User   `json:"user"`

	// PullRequest is set when the issue is backed by a pull request.
	PullRequest *PullRequestRef `json:"pull_request,omitempty"`
}

// PullRequestRef links an issue to its pull-request endpoints.
type PullRequestRef struct {
	URL string `json:"url"`
}

type Label struct {
	Name string `json:"name"`
}

// Team is a roster resolved from the team directory.
type Team struct {
	Name    string       `json:"name"`
	Members []TeamMember `json:"members"`
}

type TeamMember struct {
	Login string `json:"github"`
}

package tracker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	logx "govbot/pkg/logx"
)

// HTTPConfig configures the tracker client.
type HTTPConfig struct {
	BaseURL     string // tracker API root, e.g. "https://api.github.com"
	TeamBaseURL string // team directory root
	Token       string
	RatePerSec  int // outbound request budget; 0 means a conservative default
}

// HTTPClient is the production tracker client. All requests go through a
// shared rate limiter so a busy sweep can't trip the tracker's abuse limits.
type HTTPClient struct {
	cfg     HTTPConfig
	http    *http.Client
	limiter *rate.Limiter
	log     logx.Logger
}

func NewHTTPClient(cfg HTTPConfig, log logx.Logger) *HTTPClient {
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 5
	}
	return &HTTPClient{
		cfg:     cfg,
		http:    &http.Client{Timeout: 30 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(rps), rps),
		log:     log,
	}
}

func (c *HTTPClient) PostComment(ctx context.Context, issue *Issue, body string) error {
	payload := struct {
		Body string `json:"body"`
	}{Body: body}
	if err := c.doJSON(ctx, http.MethodPost, issue.CommentsURL, payload, nil); err != nil {
		return fmt.Errorf("posting comment on issue %d: %w", issue.Number, err)
	}
	return nil
}

func (c *HTTPClient) AddLabels(ctx context.Context, issue *Issue, labels []Label) error {
	names := make([]string, 0, len(labels))
	for _, l := range labels {
		names = append(names, l.Name)
	}
	payload := struct {
		Labels []string `json:"labels"`
	}{Labels: names}
	if err := c.doJSON(ctx, http.MethodPost, issue.URL+"/labels", payload, nil); err != nil {
		return fmt.Errorf("adding labels to issue %d: %w", issue.Number, err)
	}
	return nil
}

func (c *HTTPClient) IssueByURL(ctx context.Context, issueURL string) (*Issue, error) {
	var issue Issue
	if err := c.doJSON(ctx, http.MethodGet, issueURL, nil, &issue); err != nil {
		return nil, fmt.Errorf("fetching issue %s: %w", issueURL, err)
	}
	return &issue, nil
}

func (c *HTTPClient) Merge(ctx context.Context, issue *Issue) error {
	if issue.PullRequest == nil {
		return fmt.Errorf("issue %d is not a pull request", issue.Number)
	}
	if err := c.doJSON(ctx, http.MethodPut, issue.PullRequest.URL+"/merge", struct{}{}, nil); err != nil {
		return fmt.Errorf("merging issue %d: %w", issue.Number, err)
	}
	return nil
}

func (c *HTTPClient) IsTeamMember(ctx context.Context, user User) (bool, error) {
	u := fmt.Sprintf("%s/v1/people/%s.json", strings.TrimRight(c.cfg.TeamBaseURL, "/"), url.PathEscape(user.Login))
	err := c.doJSON(ctx, http.MethodGet, u, nil, &struct{}{})
	if err != nil {
		var se *statusError
		if errors.As(err, &se) && se.code == http.StatusNotFound {
			return false, nil
		}
		return false, fmt.Errorf("checking team membership for %s: %w", user.Login, err)
	}
	return true, nil
}

func (c *HTTPClient) TeamByName(ctx context.Context, name string) (*Team, bool, error) {
	u := fmt.Sprintf("%s/v1/teams/%s.json", strings.TrimRight(c.cfg.TeamBaseURL, "/"), url.PathEscape(name))
	var team Team
	if err := c.doJSON(ctx, http.MethodGet, u, nil, &team); err != nil {
		var se *statusError
		if errors.As(err, &se) && se.code == http.StatusNotFound {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("resolving team %q: %w", name, err)
	}
	return &team, true, nil
}

// doJSON performs one rate-limited request. in (when non-nil) is sent as a
// JSON body; out (when non-nil) receives the decoded response.
func (c *HTTPClient) doJSON(ctx context.Context, method, rawURL string, in, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encoding request body: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if tok := strings.TrimSpace(c.cfg.Token); tok != "" {
		req.Header.Set("Authorization", "token "+tok)
	}

	c.log.Trace("tracker request", logx.String("method", method), logx.String("url", rawURL))

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// Read a little of the body for context; never the whole thing.
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &statusError{code: resp.StatusCode, body: strings.TrimSpace(string(snippet))}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}
	return nil
}

type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	if e.body == "" {
		return fmt.Sprintf("unexpected status %d", e.code)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.code, e.body)
}

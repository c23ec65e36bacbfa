// Package github talks to the GitHub REST API and hosts the agents that
// wire talks to GitHub conversations: discovering mentions and reporting
// build results back.
package github

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/alekspetrov/conductor/internal/profile"
)

const (
	githubAPIURL = "https://api.github.com"
	perPage      = 100
)

// API is the part of GitHub the conductor uses.
type API interface {
	Notifications(ctx context.Context, since time.Time) ([]Notification, error)
	MarkNotificationsRead(ctx context.Context, at time.Time) error
	GetIssue(ctx context.Context, repo string, number int) (*Issue, error)
	ListComments(ctx context.Context, repo string, number int) ([]Comment, error)
	AddComment(ctx context.Context, repo string, number int, body string) (*Comment, error)
	Permission(ctx context.Context, repo, login string) (string, error)
	Content(ctx context.Context, repo, path string) ([]byte, error)
}

// Client is a GitHub API client
type Client struct {
	token      string
	httpClient *http.Client
	baseURL    string // For testing - defaults to githubAPIURL
	retry      RetryOptions
}

var _ API = (*Client)(nil)
var _ profile.Files = (*Client)(nil)

// NewClient creates a new GitHub client
func NewClient(token string) *Client {
	return NewClientWithBaseURL(token, githubAPIURL)
}

// NewClientWithBaseURL creates a new GitHub client with a custom base URL
// (GitHub Enterprise, tests).
func NewClientWithBaseURL(token, baseURL string) *Client {
	if baseURL == "" {
		baseURL = githubAPIURL
	}
	return &Client{
		token:   token,
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		retry: DefaultRetryOptions(),
	}
}

// WithRetryOptions replaces the retry policy of write calls.
func (c *Client) WithRetryOptions(opts RetryOptions) *Client {
	c.retry = opts
	return c
}

// Issue represents a GitHub issue or pull request
type Issue struct {
	ID          int64     `json:"id"`
	Number      int       `json:"number"`
	Title       string    `json:"title"`
	State       string    `json:"state"`
	User        User      `json:"user"`
	HTMLURL     string    `json:"html_url"`
	PullRequest *PullRef  `json:"pull_request,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// PullRef is present on issues that are pull requests.
type PullRef struct {
	URL string `json:"url"`
}

// IsPull reports whether the issue is a pull request.
func (i *Issue) IsPull() bool {
	return i.PullRequest != nil
}

// User represents a GitHub user
type User struct {
	ID    int64  `json:"id"`
	Login string `json:"login"`
}

// Comment represents a GitHub issue comment
type Comment struct {
	ID        int64     `json:"id"`
	Body      string    `json:"body"`
	User      User      `json:"user"`
	HTMLURL   string    `json:"html_url"`
	CreatedAt time.Time `json:"created_at"`
}

// Notification is one entry of the authenticated user's inbox.
type Notification struct {
	ID         string `json:"id"`
	Reason     string `json:"reason"`
	Unread     bool   `json:"unread"`
	Subject    struct {
		Title string `json:"title"`
		URL   string `json:"url"`
		Type  string `json:"type"`
	} `json:"subject"`
	Repository struct {
		FullName string `json:"full_name"`
	} `json:"repository"`
}

// IssueNumber extracts the issue number from the subject URL.
func (n Notification) IssueNumber() (int, error) {
	i := strings.LastIndex(n.Subject.URL, "/")
	if i < 0 {
		return 0, fmt.Errorf("notification %s has no subject", n.ID)
	}
	var num int
	if _, err := fmt.Sscanf(n.Subject.URL[i+1:], "%d", &num); err != nil || num <= 0 {
		return 0, fmt.Errorf("notification %s: unexpected subject %q", n.ID, n.Subject.URL)
	}
	return num, nil
}

// APIError is a non-2xx response.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (status %d): %s", e.Status, e.Body)
}

// IsNotFound reports whether err is a 404 from the API.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

// doRequest performs an HTTP request to the GitHub API
func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}, result interface{}) error {
	var bodyReader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{Status: resp.StatusCode, Body: string(respBody)}
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
	}

	return nil
}

// Notifications lists mentions and other participating notifications
// updated since the given time, read ones included.
func (c *Client) Notifications(ctx context.Context, since time.Time) ([]Notification, error) {
	var all []Notification
	for page := 1; ; page++ {
		q := url.Values{}
		q.Set("participating", "true")
		q.Set("all", "true")
		q.Set("since", since.UTC().Format(time.RFC3339))
		q.Set("per_page", fmt.Sprint(perPage))
		q.Set("page", fmt.Sprint(page))
		var batch []Notification
		if err := c.doRequest(ctx, http.MethodGet, "/notifications?"+q.Encode(), nil, &batch); err != nil {
			return nil, err
		}
		all = append(all, batch...)
		if len(batch) < perPage {
			return all, nil
		}
	}
}

// MarkNotificationsRead marks everything up to at as read. GitHub answers
// 205 Reset Content.
func (c *Client) MarkNotificationsRead(ctx context.Context, at time.Time) error {
	return WithRetryVoid(ctx, func() error {
		body := map[string]string{"last_read_at": at.UTC().Format(time.RFC3339)}
		return c.doRequest(ctx, http.MethodPut, "/notifications", body, nil)
	}, c.retry)
}

// GetIssue fetches an issue by "owner/repo" coordinates and number
func (c *Client) GetIssue(ctx context.Context, repo string, number int) (*Issue, error) {
	path := fmt.Sprintf("/repos/%s/issues/%d", repo, number)
	var issue Issue
	if err := c.doRequest(ctx, http.MethodGet, path, nil, &issue); err != nil {
		return nil, err
	}
	return &issue, nil
}

// ListComments returns all comments of an issue, oldest first.
func (c *Client) ListComments(ctx context.Context, repo string, number int) ([]Comment, error) {
	var all []Comment
	for page := 1; ; page++ {
		path := fmt.Sprintf("/repos/%s/issues/%d/comments?per_page=%d&page=%d", repo, number, perPage, page)
		var batch []Comment
		if err := c.doRequest(ctx, http.MethodGet, path, nil, &batch); err != nil {
			return nil, err
		}
		all = append(all, batch...)
		if len(batch) < perPage {
			return all, nil
		}
	}
}

// AddComment adds a comment to an issue
func (c *Client) AddComment(ctx context.Context, repo string, number int, body string) (*Comment, error) {
	return WithRetry(ctx, func() (*Comment, error) {
		path := fmt.Sprintf("/repos/%s/issues/%d/comments", repo, number)
		reqBody := map[string]string{"body": body}
		var comment Comment
		if err := c.doRequest(ctx, http.MethodPost, path, reqBody, &comment); err != nil {
			return nil, err
		}
		return &comment, nil
	}, c.retry)
}

// Permission returns the collaborator permission of login: admin, write,
// read or none.
func (c *Client) Permission(ctx context.Context, repo, login string) (string, error) {
	path := fmt.Sprintf("/repos/%s/collaborators/%s/permission", repo, url.PathEscape(login))
	var resp struct {
		Permission string `json:"permission"`
	}
	if err := c.doRequest(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return "", err
	}
	return resp.Permission, nil
}

// Content implements profile.Files. A missing file is profile.ErrNoFile.
func (c *Client) Content(ctx context.Context, repo, path string) ([]byte, error) {
	escaped := make([]string, 0)
	for _, part := range strings.Split(strings.TrimPrefix(path, "/"), "/") {
		escaped = append(escaped, url.PathEscape(part))
	}
	var resp struct {
		Type     string `json:"type"`
		Encoding string `json:"encoding"`
		Content  string `json:"content"`
	}
	err := c.doRequest(ctx, http.MethodGet, fmt.Sprintf("/repos/%s/contents/%s", repo, strings.Join(escaped, "/")), nil, &resp)
	if IsNotFound(err) {
		return nil, fmt.Errorf("%s in %s: %w", path, repo, profile.ErrNoFile)
	}
	if err != nil {
		return nil, err
	}
	if resp.Type != "file" {
		return nil, fmt.Errorf("%s in %s is a %s, not a file", path, repo, resp.Type)
	}
	if resp.Encoding != "base64" {
		return []byte(resp.Content), nil
	}
	data, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(resp.Content, "\n", ""))
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s in %s: %w", path, repo, err)
	}
	return data, nil
}

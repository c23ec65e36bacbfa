package github

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alekspetrov/conductor/internal/profile"
	"github.com/alekspetrov/conductor/internal/testutil"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewClientWithBaseURL(testutil.FakeGitHubToken, server.URL).
		WithRetryOptions(RetryOptions{MaxRetries: 1, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond})
}

func TestNewClient(t *testing.T) {
	client := NewClient(testutil.FakeGitHubToken)
	if client.token != testutil.FakeGitHubToken {
		t.Errorf("client.token = %s, want %s", client.token, testutil.FakeGitHubToken)
	}
	if client.baseURL != githubAPIURL {
		t.Errorf("client.baseURL = %s, want %s", client.baseURL, githubAPIURL)
	}
	if c := NewClientWithBaseURL("x", "https://ghe.example.com/api/v3/"); c.baseURL != "https://ghe.example.com/api/v3" {
		t.Errorf("baseURL = %s, want trailing slash trimmed", c.baseURL)
	}
}

func TestGetIssue(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		response   interface{}
		wantErr    bool
		wantPull   bool
	}{
		{
			name:       "issue",
			statusCode: http.StatusOK,
			response:   map[string]interface{}{"number": 42, "html_url": "https://github.com/owner/repo/issues/42"},
		},
		{
			name:       "pull request",
			statusCode: http.StatusOK,
			response: map[string]interface{}{
				"number":       42,
				"pull_request": map[string]string{"url": "https://api.github.com/repos/owner/repo/pulls/42"},
			},
			wantPull: true,
		},
		{
			name:       "not found",
			statusCode: http.StatusNotFound,
			response:   map[string]string{"message": "Not Found"},
			wantErr:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/repos/owner/repo/issues/42" {
					t.Errorf("unexpected path: %s", r.URL.Path)
				}
				if r.Header.Get("Authorization") != "Bearer "+testutil.FakeGitHubToken {
					t.Errorf("unexpected auth header: %s", r.Header.Get("Authorization"))
				}
				if r.Header.Get("Accept") != "application/vnd.github+json" {
					t.Errorf("unexpected Accept header: %s", r.Header.Get("Accept"))
				}
				w.WriteHeader(tt.statusCode)
				_ = json.NewEncoder(w).Encode(tt.response)
			})

			issue, err := client.GetIssue(context.Background(), "owner/repo", 42)
			if (err != nil) != tt.wantErr {
				t.Fatalf("GetIssue() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				if !IsNotFound(err) {
					t.Errorf("IsNotFound(%v) = false", err)
				}
				return
			}
			if issue.Number != 42 || issue.IsPull() != tt.wantPull {
				t.Errorf("issue = %+v, IsPull() = %v", issue, issue.IsPull())
			}
		})
	}
}

func TestNotifications(t *testing.T) {
	since := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if r.URL.Path != "/notifications" || q.Get("participating") != "true" || q.Get("all") != "true" {
			t.Errorf("unexpected request: %s", r.URL)
		}
		if q.Get("since") != "2026-03-01T12:00:00Z" {
			t.Errorf("since = %s", q.Get("since"))
		}
		_, _ = w.Write([]byte(`[{"id":"1","reason":"mention","subject":{"url":"https://api.github.com/repos/acme/app/issues/7"},"repository":{"full_name":"acme/app"}}]`))
	})

	events, err := client.Notifications(context.Background(), since)
	if err != nil {
		t.Fatalf("Notifications() error = %v", err)
	}
	if len(events) != 1 || events[0].Repository.FullName != "acme/app" {
		t.Fatalf("events = %+v", events)
	}
	if n, err := events[0].IssueNumber(); err != nil || n != 7 {
		t.Errorf("IssueNumber() = %d, %v", n, err)
	}
}

func TestMarkNotificationsRead(t *testing.T) {
	var body map[string]string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut || r.URL.Path != "/notifications" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL)
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.WriteHeader(http.StatusResetContent)
	})

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	if err := client.MarkNotificationsRead(context.Background(), at); err != nil {
		t.Fatalf("MarkNotificationsRead() error = %v", err)
	}
	if body["last_read_at"] != "2026-03-01T12:00:00Z" {
		t.Errorf("last_read_at = %q", body["last_read_at"])
	}
}

func TestListCommentsPaginates(t *testing.T) {
	pages := 0
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		pages++
		var batch []Comment
		if r.URL.Query().Get("page") == "1" {
			for i := 0; i < perPage; i++ {
				batch = append(batch, Comment{ID: int64(i + 1)})
			}
		} else {
			batch = []Comment{{ID: perPage + 1}}
		}
		_ = json.NewEncoder(w).Encode(batch)
	})

	comments, err := client.ListComments(context.Background(), "acme/app", 7)
	if err != nil {
		t.Fatal(err)
	}
	if len(comments) != perPage+1 || pages != 2 {
		t.Errorf("comments = %d over %d pages", len(comments), pages)
	}
}

func TestAddCommentRetriesServerErrors(t *testing.T) {
	calls := 0
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(Comment{ID: 123, Body: body["body"]})
	})

	c, err := client.AddComment(context.Background(), "acme/app", 7, "hello")
	if err != nil {
		t.Fatalf("AddComment() error = %v", err)
	}
	if c.ID != 123 || c.Body != "hello" || calls != 2 {
		t.Errorf("comment = %+v after %d calls", c, calls)
	}
}

func TestPermission(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/repos/acme/app/collaborators/alice/permission" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"permission":"write"}`))
	})
	perm, err := client.Permission(context.Background(), "acme/app", "alice")
	if err != nil || perm != "write" {
		t.Errorf("Permission() = %q, %v", perm, err)
	}
}

func TestContent(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/repos/acme/app/contents/.conductor.yml":
			_ = json.NewEncoder(w).Encode(map[string]string{
				"type":     "file",
				"encoding": "base64",
				"content":  base64.StdEncoding.EncodeToString([]byte("install: make\n")),
			})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
	ctx := context.Background()

	data, err := client.Content(ctx, "acme/app", ".conductor.yml")
	if err != nil || string(data) != "install: make\n" {
		t.Errorf("Content() = %q, %v", data, err)
	}
	if _, err := client.Content(ctx, "acme/app", "missing.txt"); !errors.Is(err, profile.ErrNoFile) {
		t.Errorf("Content(missing) error = %v, want ErrNoFile", err)
	}

	p, err := profile.Fetch(ctx, client, "acme/app")
	if err != nil {
		t.Fatal(err)
	}
	doc, _ := p.Read()
	if doc.String("install") != "make" {
		t.Errorf("profile install = %q", doc.String("install"))
	}
}

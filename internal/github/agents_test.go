package github

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alekspetrov/conductor/internal/talk"
)

type fakeAPI struct {
	mu       sync.Mutex
	comments []Comment
	posted   []string
}

func (f *fakeAPI) Notifications(ctx context.Context, since time.Time) ([]Notification, error) {
	return nil, nil
}
func (f *fakeAPI) MarkNotificationsRead(ctx context.Context, at time.Time) error { return nil }
func (f *fakeAPI) GetIssue(ctx context.Context, repo string, number int) (*Issue, error) {
	return &Issue{Number: number}, nil
}
func (f *fakeAPI) ListComments(ctx context.Context, repo string, number int) ([]Comment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Comment(nil), f.comments...), nil
}
func (f *fakeAPI) AddComment(ctx context.Context, repo string, number int, body string) (*Comment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.posted = append(f.posted, body)
	c := Comment{ID: int64(len(f.comments) + 1), Body: body, User: User{Login: "conductor"}}
	f.comments = append(f.comments, c)
	return &c, nil
}
func (f *fakeAPI) Permission(ctx context.Context, repo, login string) (string, error) {
	return "", nil
}
func (f *fakeAPI) Content(ctx context.Context, repo, path string) ([]byte, error) {
	return nil, nil
}

func TestStartsTalks(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 3, 0, 0, time.UTC)
	var marked string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/notifications" && r.Method == http.MethodGet:
			_, _ = w.Write([]byte(`[
				{"id":"1","reason":"mention","subject":{"url":"https://api.github.com/repos/acme/app/issues/7"},"repository":{"full_name":"acme/app"}},
				{"id":"2","reason":"subscribed","subject":{"url":"https://api.github.com/repos/acme/app/issues/8"},"repository":{"full_name":"acme/app"}}
			]`))
		case r.URL.Path == "/notifications" && r.Method == http.MethodPut:
			var body map[string]string
			_ = json.NewDecoder(r.Body).Decode(&body)
			marked = body["last_read_at"]
			w.WriteHeader(http.StatusResetContent)
		case r.URL.Path == "/repos/acme/app/issues/7":
			_, _ = w.Write([]byte(`{"number":7,"html_url":"https://github.com/acme/app/pull/7"}`))
		default:
			t.Errorf("unexpected request: %s %s", r.Method, r.URL)
			w.WriteHeader(http.StatusNotFound)
		}
	})
	store, err := talk.Open(talk.DriverModernc, ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = store.Close() }()

	agent := StartsTalks(client, func() time.Time { return now })
	if err := agent.Execute(ctx, store); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	if marked != "2026-03-01T12:00:00Z" {
		t.Errorf("last_read_at = %q, want now minus three minutes", marked)
	}
	active, err := store.Active(ctx)
	if err != nil || len(active) != 1 || active[0].Name() != "acme/app#7" {
		t.Fatalf("Active() = %v, %v", active, err)
	}
	doc, _ := active[0].Read(ctx)
	if !doc.Later() || doc.Wire() != "https://github.com/acme/app/pull/7" || doc.Repo() != "acme/app" || doc.Issue() != 7 {
		t.Errorf("talk = %s", doc)
	}

	// A second mention reuses the talk and does not wire it twice.
	if err := active[0].Modify(ctx, talk.NewDirectives().Attr("later", "false")); err != nil {
		t.Fatal(err)
	}
	if err := agent.Execute(ctx, store); err != nil {
		t.Fatalf("second Execute() error = %v", err)
	}
	doc, _ = active[0].Read(ctx)
	if !doc.Later() || len(doc.Find("/talk/wire")) != 1 {
		t.Errorf("talk after second mention = %s", doc)
	}
}

func reportTalk(t *testing.T, reqType string, daemon *talk.Directives) *talk.Memory {
	t.Helper()
	tk := talk.NewMemory("acme/app#7", 1)
	dirs := talk.NewDirectives().
		Add("wire").Add("href").Set("https://github.com/acme/app/pull/7").Up().Up().
		Add("github-repo").Set("acme/app").Up().
		Add("github-issue").Set("7").Up().
		Add("request").Attr("id", "3").
		Add("type").Set(reqType).Up().
		Add("author").Set("alice").Up().Up()
	if daemon != nil {
		dirs.Append(daemon)
	}
	if err := tk.Modify(context.Background(), dirs); err != nil {
		t.Fatal(err)
	}
	return tk
}

func daemonDirs(code, tail string) *talk.Directives {
	return talk.NewDirectives().Add("daemon").Attr("id", "d").
		Add("script").Set("make").Up().
		Add("started").Set("2026-03-01T12:00:00Z").Up().
		Add("ended").Set("2026-03-01T12:05:00Z").Up().
		Add("code").Set(code).Up().
		Add("tail").Set(tail)
}

func TestReportsRequest(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name   string
		talk   func(t *testing.T) *talk.Memory
		want   []string
		silent bool
	}{
		{
			name: "success",
			talk: func(t *testing.T) *talk.Memory { return reportTalk(t, "merge", daemonDirs("0", "")) },
			want: []string{"@alice Done! The merge finished in 5 minutes."},
		},
		{
			name: "failure quotes the tail",
			talk: func(t *testing.T) *talk.Memory {
				return reportTalk(t, "deploy", daemonDirs("2", "BUILD FAILURE"))
			},
			want: []string{":warning: @alice", "exit code 2", "```\nBUILD FAILURE\n```"},
		},
		{
			name: "stopped",
			talk: func(t *testing.T) *talk.Memory { return reportTalk(t, "stop", daemonDirs("143", "")) },
			want: []string{"stopped in 5 minutes (exit code 143)"},
		},
		{
			name: "nothing to stop",
			talk: func(t *testing.T) *talk.Memory { return reportTalk(t, "stop", nil) },
			want: []string{"nothing to stop"},
		},
		{
			name: "merge still running",
			talk: func(t *testing.T) *talk.Memory {
				return reportTalk(t, "merge", talk.NewDirectives().Add("daemon").Add("script").Set("make"))
			},
			silent: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := &fakeAPI{}
			tk := tt.talk(t)
			if err := ReportsRequest(api, "conductor").Execute(ctx, tk); err != nil {
				t.Fatalf("Execute() error = %v", err)
			}
			doc, _ := tk.Read(ctx)
			if tt.silent {
				if len(api.posted) != 0 || !doc.Exists("/talk/request") {
					t.Errorf("reported a running request: %q", api.posted)
				}
				return
			}
			if len(api.posted) != 1 {
				t.Fatalf("posted %d comments, want 1", len(api.posted))
			}
			for _, w := range tt.want {
				if !strings.Contains(api.posted[0], w) {
					t.Errorf("report %q missing %q", api.posted[0], w)
				}
			}
			if doc.Exists("/talk/request") || doc.Exists("/talk/daemon") {
				t.Errorf("request and daemon not cleared: %s", doc)
			}
		})
	}
}

func TestAnswerStaysQuietAfterTooManyReplies(t *testing.T) {
	ctx := context.Background()
	api := &fakeAPI{comments: []Comment{{ID: 1, User: User{Login: "alice"}}}}
	a := &Answer{API: api, Self: "conductor", Repo: "acme/app", Issue: 7}
	for i := 0; i < MaxReplies+2; i++ {
		if err := a.Post(ctx, true, "", "alice", "hi"); err != nil {
			t.Fatal(err)
		}
	}
	if len(api.posted) != MaxReplies {
		t.Errorf("posted %d replies, want %d", len(api.posted), MaxReplies)
	}
}

func TestFormatAndQuote(t *testing.T) {
	got := Format(false, Quote("@conductor   merge\nplease"), "alice", "no")
	want := "> @conductor merge please\n\n:warning: @alice no"
	if got != want {
		t.Errorf("Format() = %q, want %q", got, want)
	}
	long := Quote(strings.Repeat("x", 150))
	if len([]rune(long)) != 100 || !strings.HasSuffix(long, "...") {
		t.Errorf("Quote() = %q", long)
	}
}

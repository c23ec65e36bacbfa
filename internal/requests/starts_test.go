package requests

import (
	"context"
	"strings"
	"testing"

	"github.com/alekspetrov/conductor/internal/profile"
	"github.com/alekspetrov/conductor/internal/talk"
)

func testOptions() Options {
	return Options{
		Image:    "debian:12",
		WorkDir:  "/tmp/",
		CloneURL: func(repo string) string { return "https://github.com/" + repo + ".git" },
		NewID:    func() string { return "0001" },
	}
}

func requestTalk(t *testing.T, reqType string, later bool) *talk.Memory {
	t.Helper()
	tk := talk.NewMemory("acme/app#7", 1)
	flag := "false"
	if later {
		flag = "true"
	}
	err := tk.Modify(context.Background(), talk.NewDirectives().Attr("later", flag).
		Add("github-repo").Set("acme/app").Up().
		Add("request").Attr("id", "3").
		Add("type").Set(reqType).Up().
		Add("author").Set("alice").Up().
		Add("args").Add("arg").Attr("name", "github_issue").Set("7"))
	if err != nil {
		t.Fatal(err)
	}
	return tk
}

func TestStartsRequest(t *testing.T) {
	ctx := context.Background()
	p := profile.NewYAML([]byte(`
docker:
  image: maven:3
install: apt-get install -y make
merge:
  script: mvn install # fast
  env:
    MAVEN_OPTS: -Xmx1g
`), nil)
	tk := requestTalk(t, "merge", false)

	if err := StartsRequest(p, testOptions()).Execute(ctx, tk); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	doc, _ := tk.Read(ctx)
	d, ok := doc.Daemon()
	if !ok {
		t.Fatal("no daemon declared")
	}
	if d.ID != "0001" || d.Dir != "/tmp/conductor-0001" || d.Title != "merge" || d.IsStarted() {
		t.Errorf("daemon = %+v", d)
	}
	for _, want := range []string{
		"export github_issue='7'",
		"git clone 'https://github.com/acme/app.git' repo",
		"git fetch origin 'pull/7/head:__conductor'",
		"-e 'MAVEN_OPTS=-Xmx1g' -e 'author=alice' -e 'github_issue=7'",
		"'maven:3' /bin/bash -c",
		"mvn install `# fast`",
		`git push origin "HEAD:${BRANCH}"`,
	} {
		if !strings.Contains(d.Script, want) {
			t.Errorf("script missing %q:\n%s", want, d.Script)
		}
	}

	// The daemon exists now, so nothing else is declared.
	if err := StartsRequest(p, testOptions()).Execute(ctx, tk); err != nil {
		t.Fatal(err)
	}
	doc, _ = tk.Read(ctx)
	if n := len(doc.Find("/talk/daemon")); n != 1 {
		t.Errorf("daemons = %d, want 1", n)
	}
}

func TestStartsRequestSkips(t *testing.T) {
	ctx := context.Background()
	for _, tk := range []*talk.Memory{
		requestTalk(t, "stop", false),
		requestTalk(t, "deploy", true),
	} {
		before := tk.Version()
		if err := StartsRequest(profile.Empty(), testOptions()).Execute(ctx, tk); err != nil {
			t.Fatal(err)
		}
		if tk.Version() != before {
			doc, _ := tk.Read(ctx)
			t.Errorf("daemon declared for %s", doc)
		}
	}
}

func TestStartsRequestConfigError(t *testing.T) {
	ctx := context.Background()
	tk := requestTalk(t, "deploy", false)
	p := profile.NewYAML([]byte("install:\n  - a: b\n"), nil)

	if err := StartsRequest(p, testOptions()).Execute(ctx, tk); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	doc, _ := tk.Read(ctx)
	d, _ := doc.Daemon()
	if !strings.HasPrefix(d.Script, "cat << EOT\n") || !strings.HasSuffix(d.Script, "EOT\nexit -1") {
		t.Errorf("script = %q, want the profile error", d.Script)
	}
}

func TestScriptDeploy(t *testing.T) {
	req := talk.Request{Type: "deploy", Author: "bob"}
	got, err := Script(profile.NewYAML([]byte("deploy:\n  script: ./deploy.sh\n"), nil), testOptions(), "acme/app", req)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(got, "git merge") || strings.Contains(got, "git push") {
		t.Errorf("deploy script merges:\n%s", got)
	}
	if !strings.Contains(got, "'debian:12' /bin/bash -c 'set -e ; ./deploy.sh ;'") {
		t.Errorf("script:\n%s", got)
	}
}

// Package requests turns a talk's pending request into the daemon that
// carries it out.
package requests

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/alekspetrov/conductor/internal/agents"
	"github.com/alekspetrov/conductor/internal/logging"
	"github.com/alekspetrov/conductor/internal/profile"
	"github.com/alekspetrov/conductor/internal/script"
	"github.com/alekspetrov/conductor/internal/shell"
	"github.com/alekspetrov/conductor/internal/talk"
)

// Options configure how builds are run on the host.
type Options struct {
	// Image is the Docker image used when the profile names none.
	Image string
	// WorkDir is where daemon directories are created.
	WorkDir string
	// CloneURL returns the URL the host clones a repository from.
	CloneURL func(repo string) string
	// NewID names daemons and their directories.
	NewID func() string
}

// DefaultOptions clones over SSH and builds in the stock Ubuntu image.
func DefaultOptions() Options {
	return Options{
		Image:   "ubuntu:22.04",
		WorkDir: "/tmp",
		CloneURL: func(repo string) string {
			return fmt.Sprintf("git@github.com:%s.git", repo)
		},
		NewID: func() string { return uuid.NewString() },
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.Image == "" {
		o.Image = def.Image
	}
	if o.WorkDir == "" {
		o.WorkDir = def.WorkDir
	}
	if o.CloneURL == nil {
		o.CloneURL = def.CloneURL
	}
	if o.NewID == nil {
		o.NewID = def.NewID
	}
	return o
}

// StartsRequest declares a daemon for a confirmed request. Stop requests
// never get a daemon of their own.
func StartsRequest(p profile.Profile, opts Options) agents.Agent {
	opts = opts.withDefaults()
	return &agents.Guarded{
		Name: "starts-request",
		Guard: agents.All(agents.NotLater, agents.NoDaemon, func(doc *talk.Doc) bool {
			req, ok := doc.Request()
			return ok && req.Type != "stop"
		}),
		Process: func(ctx context.Context, doc *talk.Doc) (*talk.Directives, error) {
			req, _ := doc.Request()
			body, err := Script(p, opts, doc.Repo(), req)
			if profile.IsConfigError(err) {
				body = fmt.Sprintf("cat << EOT\n%s\nEOT\nexit -1", err.Error())
			} else if err != nil {
				return nil, err
			}
			id := opts.NewID()
			dir := fmt.Sprintf("%s/conductor-%s", strings.TrimRight(opts.WorkDir, "/"), id)
			logging.WithContext(ctx).Info("request started",
				"talk", doc.Name(), "request", req.Type, "dir", dir)
			return talk.NewDirectives().Path("/talk").
				Add("daemon").Attr("id", id).
				Add("title").Set(req.Type).Up().
				Add("script").Set(body).Up().
				Add("dir").Set(dir), nil
		},
	}
}

// Script renders the daemon script of a request: clone, prepare the
// checkout for the command, then run the profile's command in Docker.
func Script(p profile.Profile, opts Options, repo string, req talk.Request) (string, error) {
	opts = opts.withDefaults()
	run, err := script.NewDockerRun(p, req.Type)
	if err != nil {
		return "", err
	}
	tokens, err := run.Script()
	if err != nil {
		return "", err
	}
	extra := make([]script.Env, 0, len(req.Args)+1)
	extra = append(extra, script.Env{Key: "author", Value: req.Author})
	for _, a := range req.Args {
		extra = append(extra, script.Env{Key: a.Name, Value: a.Value})
	}
	envs, err := run.Envs(extra)
	if err != nil {
		return "", err
	}
	doc, err := p.Read()
	if err != nil {
		return "", err
	}
	image := doc.String("docker/image")
	if image == "" {
		image = opts.Image
	}

	var lines []string
	for _, a := range req.Args {
		lines = append(lines, fmt.Sprintf("export %s=%s", a.Name, shell.Escape(a.Value)))
	}
	lines = append(lines,
		"git clone "+shell.Escape(opts.CloneURL(repo))+" repo",
		"cd repo",
	)
	issue, _ := req.Arg("github_issue")
	if req.Type == "merge" {
		if issue == "" {
			return "", &profile.ConfigError{Msg: "merge needs the pull request number"}
		}
		lines = append(lines,
			"BRANCH=$(git rev-parse --abbrev-ref HEAD)",
			fmt.Sprintf("git fetch origin %s", shell.Escape("pull/"+issue+"/head:__conductor")),
			"git merge --no-ff --no-edit __conductor",
		)
	}

	docker := []string{"docker", "run", "--rm", "-v", `"$(pwd):/repo"`, "-w", "/repo"}
	for _, e := range envs {
		docker = append(docker, "-e", shell.Escape(e))
	}
	inner := script.Line(append([]string{"set", "-e", ";"}, tokens...))
	docker = append(docker, shell.Escape(image), "/bin/bash", "-c", shell.Escape(inner))
	lines = append(lines, strings.Join(docker, " "))

	if req.Type == "merge" {
		lines = append(lines, `git push origin "HEAD:${BRANCH}"`)
	}
	return strings.Join(lines, "\n"), nil
}

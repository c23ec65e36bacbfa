package qtn

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/alekspetrov/conductor/internal/agents"
	"github.com/alekspetrov/conductor/internal/github"
	"github.com/alekspetrov/conductor/internal/logging"
	"github.com/alekspetrov/conductor/internal/profile"
	"github.com/alekspetrov/conductor/internal/talk"
)

// Commands is what a repository can ask for besides stop.
var Commands = []string{"merge", "deploy", "release"}

// Idle is the question asked while no request is pending. Merges only
// run in pull requests; every command is limited to the profile's
// architects.
func Idle(p profile.Profile, self string) Question {
	arch := ByArchitect(p, "architect")
	return Chain(
		FirstOf(
			Chain(Stop, IfContains("stop"), arch),
			Chain(Hello, IfContains("hello")),
			Chain(Command("merge"), IfContains("merge"), IfPull, arch, GithubIssue),
			Chain(Command("deploy"), IfContains("deploy"), arch, GithubIssue),
			Chain(Command("release"), IfContains("release"), arch, GithubIssue),
			Unknown,
		),
		ReferredTo(self),
	)
}

// Pending is the question asked while a request is pending. Only stop is
// accepted.
func Pending(p profile.Profile, self string) Question {
	return Chain(
		FirstOf(
			Chain(Stop, IfContains("stop"), ByArchitect(p, "architect")),
			Busy,
		),
		ReferredTo(self),
	)
}

// UnderstandsRequest reads the comments of a talk's conversation posted
// since the last one seen, and turns the first one that asks for something
// into the talk's request. It runs while the talk is waiting to be read.
//
// A stop that arrives while a request is pending replaces its type, so
// the running daemon gets killed and the outcome is reported as stopped.
func UnderstandsRequest(api github.API, self string, idle, pending Question) agents.Agent {
	return &agents.Guarded{
		Name:  "understands-request",
		Guard: agents.All(agents.IsLater, agents.IsGithubWired),
		Process: func(ctx context.Context, doc *talk.Doc) (*talk.Directives, error) {
			comments, err := api.ListComments(ctx, doc.Repo(), doc.Issue())
			if err != nil {
				return nil, fmt.Errorf("failed to read comments of %s: %w", doc.Name(), err)
			}
			sort.Slice(comments, func(i, j int) bool { return comments[i].ID < comments[j].ID })

			_, busy := doc.Request()
			q := idle
			if busy {
				q = pending
			}
			seen := doc.Seen()
			req := Empty
			var author github.Comment
			for _, c := range comments {
				if c.ID <= seen {
					continue
				}
				if strings.EqualFold(c.User.Login, self) {
					seen = c.ID
					continue
				}
				m := &github.Mention{API: api, Self: self, Repo: doc.Repo(), Issue: doc.Issue(), Comment: c}
				req, err = q.Understand(ctx, m, doc.Wire())
				if err != nil {
					return nil, err
				}
				seen = c.ID
				if req.Kind != KindEmpty {
					author = c
					break
				}
			}
			if seen == doc.Seen() {
				return nil, nil
			}

			dirs := talk.NewDirectives().Path("/talk/wire").AddIf("github-seen").Set(strconv.FormatInt(seen, 10))
			if req.Kind != KindCommand {
				return dirs, nil
			}
			log := logging.WithContext(ctx)
			if busy {
				if req.Name != "stop" {
					log.Warn("ignoring request while another is pending", "talk", doc.Name(), "request", req.Name)
					return dirs, nil
				}
				return dirs.Path("/talk/request/type").Set(req.Name), nil
			}
			dirs.Path("/talk").
				Add("request").Attr("id", strconv.FormatInt(author.ID, 10)).
				Add("author").Set(author.User.Login).Up()
			req.Apply(dirs)
			log.Info("request understood", "talk", doc.Name(), "request", req.Name, "author", author.User.Login)
			return dirs, nil
		},
	}
}

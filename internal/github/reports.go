package github

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/alekspetrov/conductor/internal/agents"
	"github.com/alekspetrov/conductor/internal/talk"
)

const stopRequest = "stop"

// ReportsRequest posts the outcome of a finished request to its
// conversation and clears the request and its daemon from the talk.
func ReportsRequest(api API, self string) agents.Agent {
	return &agents.Guarded{
		Name:  "reports-request",
		Guard: agents.All(agents.IsGithubWired, agents.NotLater, reportable),
		Process: func(ctx context.Context, doc *talk.Doc) (*talk.Directives, error) {
			req, _ := doc.Request()
			success, msg := Report(doc)
			a := &Answer{API: api, Self: self, Repo: doc.Repo(), Issue: doc.Issue()}
			if err := a.Post(ctx, success, "", req.Author, msg); err != nil {
				return nil, err
			}
			return talk.NewDirectives().
				Path("/talk/request").Remove().
				Path("/talk/daemon").Remove(), nil
		},
	}
}

// reportable matches a request whose daemon ended, or a stop that found
// nothing to stop.
func reportable(doc *talk.Doc) bool {
	req, ok := doc.Request()
	if !ok {
		return false
	}
	d, ok := doc.Daemon()
	if !ok {
		return req.Type == stopRequest
	}
	return d.IsEnded()
}

// Report renders the outcome of the talk's request.
func Report(doc *talk.Doc) (bool, string) {
	req, _ := doc.Request()
	d, ok := doc.Daemon()
	if !ok {
		return true, "There is nothing running, nothing to stop."
	}
	took := ""
	start, err1 := talk.ParseISO(d.Started)
	end, err2 := talk.ParseISO(d.Ended)
	if err1 == nil && err2 == nil {
		took = " in " + duration(end.Sub(start))
	}
	if req.Type == stopRequest {
		return true, fmt.Sprintf("The build was stopped%s (exit code %d).", took, d.Code)
	}
	if d.Code == 0 {
		return true, fmt.Sprintf("Done! The %s finished%s.", req.Type, took)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Oops, the %s failed%s with exit code %d.", req.Type, took, d.Code)
	if tail := strings.TrimSpace(d.Tail); tail != "" {
		b.WriteString(" Here is the end of the log:\n\n```\n")
		b.WriteString(tail)
		b.WriteString("\n```")
	}
	return false, b.String()
}

// duration renders d as "3 minutes".
func duration(d time.Duration) string {
	base := time.Unix(0, 0)
	return strings.TrimSpace(humanize.RelTime(base, base.Add(d), "", ""))
}

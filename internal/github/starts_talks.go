package github

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/alekspetrov/conductor/internal/agents"
	"github.com/alekspetrov/conductor/internal/logging"
	"github.com/alekspetrov/conductor/internal/talk"
)

// Lookback is how far back notifications are read on every tick.
const Lookback = 3 * time.Minute

// StartsTalks turns fresh mentions into talks waiting to be read. Every
// mentioned issue gets a talk named "owner/repo#number"; the talk is
// reactivated and marked later so its comments are read this tick.
func StartsTalks(api API, now func() time.Time) agents.SuperAgent {
	if now == nil {
		now = time.Now
	}
	logger := logging.WithComponent("starts-talks")
	return agents.SuperFunc(func(ctx context.Context, talks talk.Talks) error {
		since := now().Add(-Lookback)
		events, err := api.Notifications(ctx, since)
		if err != nil {
			return fmt.Errorf("failed to list notifications: %w", err)
		}
		var names []string
		for _, event := range events {
			if event.Reason != "mention" {
				continue
			}
			name, err := activate(ctx, api, talks, event)
			if err != nil {
				return err
			}
			names = append(names, name)
		}
		if err := api.MarkNotificationsRead(ctx, since); err != nil {
			return fmt.Errorf("failed to mark notifications read: %w", err)
		}
		if len(names) > 0 {
			logger.Info("new notifications", "count", len(names), "talks", names)
		}
		return nil
	})
}

func activate(ctx context.Context, api API, talks talk.Talks, event Notification) (string, error) {
	repo := event.Repository.FullName
	number, err := event.IssueNumber()
	if err != nil {
		return "", err
	}
	issue, err := api.GetIssue(ctx, repo, number)
	if err != nil {
		return "", fmt.Errorf("failed to get %s#%d: %w", repo, number, err)
	}
	name := fmt.Sprintf("%s#%d", repo, issue.Number)
	exists, err := talks.Exists(ctx, name)
	if err != nil {
		return "", err
	}
	var t talk.Talk
	if exists {
		t, err = talks.Get(ctx, name)
	} else {
		t, err = talks.Create(ctx, repo, name)
	}
	if err != nil {
		return "", err
	}
	doc, err := t.Read(ctx)
	if err != nil {
		return "", err
	}
	dirs := talk.NewDirectives().Path("/talk").Attr("later", "true")
	if doc.Wire() == "" {
		dirs.Add("wire").Add("href").Set(issue.HTMLURL).Up().Up().
			Add("github-repo").Set(repo).Up().
			Add("github-issue").Set(strconv.Itoa(issue.Number))
	}
	if err := t.Modify(ctx, dirs); err != nil {
		return "", fmt.Errorf("failed to wire %s: %w", name, err)
	}
	if err := t.SetActive(ctx, true); err != nil {
		return "", err
	}
	logging.WithTalk(name).Info("talk activated", "repo", repo, "issue", issue.Number)
	return name, nil
}

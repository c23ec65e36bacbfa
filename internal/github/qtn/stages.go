package qtn

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/alekspetrov/conductor/internal/github"
	"github.com/alekspetrov/conductor/internal/logging"
	"github.com/alekspetrov/conductor/internal/profile"
)

// IfPull lets only comments on pull requests through. Elsewhere it replies
// and answers Empty.
func IfPull(origin Question) Question {
	return QuestionFunc(func(ctx context.Context, m *github.Mention, home string) (Req, error) {
		issue, err := m.API.GetIssue(ctx, m.Repo, m.Issue)
		if err != nil {
			return Empty, fmt.Errorf("failed to get %s#%d: %w", m.Repo, m.Issue, err)
		}
		if issue.IsPull() {
			return origin.Understand(ctx, m, home)
		}
		return Empty, m.Reply(ctx, false, phraseNotPull)
	})
}

// ByArchitect lets through authors listed in the profile at path. With an
// empty list, anyone with write access to the repository may pass. A broken
// profile answers the comment with the parse error, so the same comment is
// not retried on every tick.
func ByArchitect(p profile.Profile, path string) Stage {
	return func(origin Question) Question {
		return QuestionFunc(func(ctx context.Context, m *github.Mention, home string) (Req, error) {
			doc, err := p.Read()
			if profile.IsConfigError(err) {
				logging.WithContext(ctx).Warn("broken profile", "repo", m.Repo, "error", err)
				return Done, m.Reply(ctx, false, fmt.Sprintf(phraseBadProfile, err))
			}
			if err != nil {
				return Empty, err
			}
			logins := doc.Strings(path)
			author := m.Author()
			switch {
			case containsFold(logins, author):
				return origin.Understand(ctx, m, home)
			case len(logins) == 0:
				if allowed(ctx, m, author) {
					return origin.Understand(ctx, m, home)
				}
				return Done, m.Reply(ctx, true, phraseReadOnly)
			default:
				return Done, m.Reply(ctx, true, fmt.Sprintf(phraseDenied, logins[0]))
			}
		})
	}
}

// allowed treats any failure to look up the permission as no permission.
func allowed(ctx context.Context, m *github.Mention, login string) bool {
	perm, err := m.API.Permission(ctx, m.Repo, login)
	if err != nil {
		logging.WithContext(ctx).Warn("permission lookup failed",
			"repo", m.Repo, "login", login, "error", err)
		return false
	}
	return perm == "write" || perm == "admin"
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}

// IfContains forwards comments containing word, case-insensitively. Other
// comments are answered Empty without a reply.
func IfContains(word string) Stage {
	word = strings.ToLower(word)
	return func(origin Question) Question {
		return QuestionFunc(func(ctx context.Context, m *github.Mention, home string) (Req, error) {
			if strings.Contains(strings.ToLower(m.Comment.Body), word) {
				return origin.Understand(ctx, m, home)
			}
			return Empty, nil
		})
	}
}

// ReferredTo forwards only comments that mention @login.
func ReferredTo(login string) Stage {
	mention := "@" + strings.ToLower(login)
	return func(origin Question) Question {
		return QuestionFunc(func(ctx context.Context, m *github.Mention, home string) (Req, error) {
			body := strings.ToLower(m.Comment.Body)
			for i := strings.Index(body, mention); i >= 0; {
				end := i + len(mention)
				if end == len(body) || !isLoginChar(body[end]) {
					return origin.Understand(ctx, m, home)
				}
				next := strings.Index(body[end:], mention)
				if next < 0 {
					break
				}
				i = end + next
			}
			return Empty, nil
		})
	}
}

func isLoginChar(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= '0' && c <= '9' || c == '-'
}

// GithubIssue adds the issue number as the github_issue argument of a
// command.
func GithubIssue(origin Question) Question {
	return QuestionFunc(func(ctx context.Context, m *github.Mention, home string) (Req, error) {
		req, err := origin.Understand(ctx, m, home)
		if err != nil || req.Kind != KindCommand {
			return req, err
		}
		return req.With("github_issue", strconv.Itoa(m.Issue)), nil
	})
}

// Stop acknowledges a stop request.
var Stop Question = QuestionFunc(func(ctx context.Context, m *github.Mention, home string) (Req, error) {
	if err := m.Reply(ctx, true, fmt.Sprintf(phraseStop, home)); err != nil {
		return Empty, err
	}
	logging.WithContext(ctx).Info("stop request found",
		"repo", m.Repo, "issue", m.Issue, "comment", m.Comment.ID)
	return NewReq("stop"), nil
})

// Hello greets and lists what the conductor can do.
var Hello Question = QuestionFunc(func(ctx context.Context, m *github.Mention, home string) (Req, error) {
	return Done, m.Reply(ctx, true, phraseHello)
})

// Unknown replies to comments no other question understood.
var Unknown Question = QuestionFunc(func(ctx context.Context, m *github.Mention, home string) (Req, error) {
	return Done, m.Reply(ctx, false, phraseUnknown)
})

// Busy replies that a build is already running.
var Busy Question = QuestionFunc(func(ctx context.Context, m *github.Mention, home string) (Req, error) {
	return Done, m.Reply(ctx, false, phraseBusy)
})

// Command acknowledges and asks for a build command: merge, deploy or
// release.
func Command(name string) Question {
	return QuestionFunc(func(ctx context.Context, m *github.Mention, home string) (Req, error) {
		if err := m.Reply(ctx, true, fmt.Sprintf(phraseCommand, name, home)); err != nil {
			return Empty, err
		}
		return NewReq(name), nil
	})
}

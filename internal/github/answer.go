package github

import (
	"context"
	"fmt"
	"strings"

	"github.com/alekspetrov/conductor/internal/logging"
)

// MaxReplies caps how many comments in a row the conductor may post to one
// conversation before it goes quiet. It protects against reply loops with
// other bots.
const MaxReplies = 5

// Mention is a comment that addresses the conductor, together with the
// conversation it was posted in.
type Mention struct {
	API     API
	Self    string // login of the conductor's GitHub account
	Repo    string
	Issue   int
	Comment Comment
}

// Author returns the lowercased login of the comment author.
func (m *Mention) Author() string {
	return strings.ToLower(m.Comment.User.Login)
}

// Reply answers the comment, quoting it.
func (m *Mention) Reply(ctx context.Context, success bool, msg string) error {
	a := &Answer{API: m.API, Self: m.Self, Repo: m.Repo, Issue: m.Issue}
	return a.Post(ctx, success, Quote(m.Comment.Body), m.Comment.User.Login, msg)
}

// Answer posts conductor messages to a conversation.
type Answer struct {
	API   API
	Self  string
	Repo  string
	Issue int
}

// Post writes "> quote\n\n@author msg". Failures are marked with a warning
// sign. Nothing is posted when the conductor already wrote MaxReplies
// comments in a row.
func (a *Answer) Post(ctx context.Context, success bool, quote, author, msg string) error {
	if a.Self != "" {
		comments, err := a.API.ListComments(ctx, a.Repo, a.Issue)
		if err != nil {
			return fmt.Errorf("failed to list comments of %s#%d: %w", a.Repo, a.Issue, err)
		}
		mine := 0
		for i := len(comments) - 1; i >= 0; i-- {
			if !strings.EqualFold(comments[i].User.Login, a.Self) {
				break
			}
			mine++
		}
		if mine >= MaxReplies {
			logging.WithComponent("github").Error("too many replies in a row, staying silent",
				"repo", a.Repo, "issue", a.Issue, "replies", mine)
			return nil
		}
	}
	if _, err := a.API.AddComment(ctx, a.Repo, a.Issue, Format(success, quote, author, msg)); err != nil {
		return fmt.Errorf("failed to reply in %s#%d: %w", a.Repo, a.Issue, err)
	}
	return nil
}

// Format builds the text of a reply.
func Format(success bool, quote, author, msg string) string {
	var b strings.Builder
	if quote != "" {
		b.WriteString("> ")
		b.WriteString(quote)
		b.WriteString("\n\n")
	}
	if !success {
		b.WriteString(":warning: ")
	}
	if author != "" {
		b.WriteString("@")
		b.WriteString(author)
		b.WriteString(" ")
	}
	b.WriteString(msg)
	return b.String()
}

// Quote flattens a comment into one line of at most 100 characters.
func Quote(body string) string {
	flat := strings.Join(strings.Fields(body), " ")
	runes := []rune(flat)
	if len(runes) > 100 {
		return string(runes[:97]) + "..."
	}
	return flat
}

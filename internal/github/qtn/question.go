// Package qtn translates GitHub comments into build requests.
//
// A Question reads one comment and answers with a Req. Questions are
// composed from stages: each stage wraps an inner question and either
// forwards the comment to it or stops the chain with its own answer,
// posting at most one reply on the way.
package qtn

import (
	"context"

	"github.com/alekspetrov/conductor/internal/github"
	"github.com/alekspetrov/conductor/internal/talk"
)

// Kind classifies a Req.
type Kind int

const (
	// KindEmpty means the comment was not understood; the next question
	// may try.
	KindEmpty Kind = iota
	// KindDone means the comment was handled, nothing is left to run.
	KindDone
	// KindCommand asks for a build command.
	KindCommand
)

// Req is the outcome of a question.
type Req struct {
	Kind Kind
	Name string
	Args []talk.Arg
}

var (
	// Empty is the answer to a comment nobody understood.
	Empty = Req{Kind: KindEmpty}
	// Done is the answer to a comment that needs no build.
	Done = Req{Kind: KindDone}
)

// NewReq returns a command request.
func NewReq(name string, args ...talk.Arg) Req {
	return Req{Kind: KindCommand, Name: name, Args: args}
}

// With returns a copy of r with one more argument. An argument of the same
// name is replaced.
func (r Req) With(name, value string) Req {
	args := make([]talk.Arg, 0, len(r.Args)+1)
	for _, a := range r.Args {
		if a.Name != name {
			args = append(args, a)
		}
	}
	r.Args = append(args, talk.Arg{Name: name, Value: value})
	return r
}

// Apply writes the request type and arguments under the cursor, which must
// point at a request element. Only commands write anything.
func (r Req) Apply(dirs *talk.Directives) *talk.Directives {
	if r.Kind != KindCommand {
		return dirs
	}
	dirs.Add("type").Set(r.Name).Up()
	if len(r.Args) > 0 {
		dirs.Add("args")
		for _, a := range r.Args {
			dirs.Add("arg").Attr("name", a.Name).Set(a.Value).Up()
		}
		dirs.Up()
	}
	return dirs
}

// Question reads a comment. home is the page where the talk can be
// followed.
type Question interface {
	Understand(ctx context.Context, m *github.Mention, home string) (Req, error)
}

// QuestionFunc adapts a function to Question.
type QuestionFunc func(ctx context.Context, m *github.Mention, home string) (Req, error)

// Understand implements Question.
func (f QuestionFunc) Understand(ctx context.Context, m *github.Mention, home string) (Req, error) {
	return f(ctx, m, home)
}

// Stage wraps a question.
type Stage func(Question) Question

// Chain wraps inner in stages; the first stage is the outermost and sees
// the comment first.
func Chain(inner Question, stages ...Stage) Question {
	q := inner
	for i := len(stages) - 1; i >= 0; i-- {
		q = stages[i](q)
	}
	return q
}

// FirstOf asks questions in order and returns the first answer that is not
// Empty.
func FirstOf(questions ...Question) Question {
	return QuestionFunc(func(ctx context.Context, m *github.Mention, home string) (Req, error) {
		for _, q := range questions {
			req, err := q.Understand(ctx, m, home)
			if err != nil {
				return Empty, err
			}
			if req.Kind != KindEmpty {
				return req, nil
			}
		}
		return Empty, nil
	})
}

// Package agents defines the units of work the scheduler runs on every tick.
//
// A per-talk Agent advances one talk; a SuperAgent works on the whole
// collection (discovery, archival). Most agents are Guarded: they read the
// talk, check a predicate over the document and, only when it holds, turn
// the document into a directive batch that is committed atomically.
package agents

import (
	"context"
	"fmt"

	"github.com/alekspetrov/conductor/internal/logging"
	"github.com/alekspetrov/conductor/internal/talk"
)

// Agent advances a single talk.
type Agent interface {
	Execute(ctx context.Context, t talk.Talk) error
}

// SuperAgent works on the whole talk collection.
type SuperAgent interface {
	Execute(ctx context.Context, talks talk.Talks) error
}

// Func adapts a function to Agent.
type Func func(ctx context.Context, t talk.Talk) error

// Execute implements Agent.
func (f Func) Execute(ctx context.Context, t talk.Talk) error {
	return f(ctx, t)
}

// SuperFunc adapts a function to SuperAgent.
type SuperFunc func(ctx context.Context, talks talk.Talks) error

// Execute implements SuperAgent.
func (f SuperFunc) Execute(ctx context.Context, talks talk.Talks) error {
	return f(ctx, talks)
}

// Iterative runs its children in order against the same talk. Each child
// re-reads the talk, so it sees what the previous ones committed.
type Iterative []Agent

// Execute implements Agent. The first failing child stops the chain.
func (it Iterative) Execute(ctx context.Context, t talk.Talk) error {
	for _, a := range it {
		if err := a.Execute(ctx, t); err != nil {
			return err
		}
	}
	return nil
}

// SuperIterative runs super-agents in order.
type SuperIterative []SuperAgent

// Execute implements SuperAgent.
func (it SuperIterative) Execute(ctx context.Context, talks talk.Talks) error {
	for _, a := range it {
		if err := a.Execute(ctx, talks); err != nil {
			return err
		}
	}
	return nil
}

// Guard is a predicate over a talk document.
type Guard func(doc *talk.Doc) bool

// All combines guards with a logical AND.
func All(guards ...Guard) Guard {
	return func(doc *talk.Doc) bool {
		for _, g := range guards {
			if !g(doc) {
				return false
			}
		}
		return true
	}
}

// Process turns a document into the edits an agent wants to make.
type Process func(ctx context.Context, doc *talk.Doc) (*talk.Directives, error)

// Guarded is an agent that only runs when its guard matches the current
// document. An agent whose guard does not match does nothing at all.
type Guarded struct {
	Name    string
	Guard   Guard
	Process Process
}

// Execute implements Agent.
func (g *Guarded) Execute(ctx context.Context, t talk.Talk) error {
	doc, err := t.Read(ctx)
	if err != nil {
		return fmt.Errorf("%s: failed to read %s: %w", g.Name, t.Name(), err)
	}
	if g.Guard != nil && !g.Guard(doc) {
		return nil
	}
	ctx = logging.ContextWithAgent(ctx, g.Name)
	dirs, err := g.Process(ctx, doc)
	if err != nil {
		return fmt.Errorf("%s: %w", g.Name, err)
	}
	if dirs.Empty() {
		return nil
	}
	if err := t.Modify(ctx, dirs); err != nil {
		return fmt.Errorf("%s: %w", g.Name, err)
	}
	logging.WithContext(ctx).Debug("agent committed directives",
		"talk", t.Name(), "directives", dirs.Len())
	return nil
}

// Common guards.

// IsLater matches talks waiting for confirmation.
func IsLater(doc *talk.Doc) bool { return doc.Later() }

// NotLater matches confirmed talks.
func NotLater(doc *talk.Doc) bool { return !doc.Later() }

// HasRequest matches talks with a pending request.
func HasRequest(doc *talk.Doc) bool {
	_, ok := doc.Request()
	return ok
}

// NoRequest matches talks without a pending request.
func NoRequest(doc *talk.Doc) bool { return !HasRequest(doc) }

// HasShell matches talks with a complete shell definition.
func HasShell(doc *talk.Doc) bool {
	sh, ok := doc.Shell()
	return ok && sh.Host != "" && sh.Port > 0 && sh.Login != "" && sh.Key != ""
}

// HasDaemon matches talks with a declared daemon.
func HasDaemon(doc *talk.Doc) bool {
	_, ok := doc.Daemon()
	return ok
}

// NoDaemon matches talks without a daemon.
func NoDaemon(doc *talk.Doc) bool { return !HasDaemon(doc) }

// IsGithubWired matches talks created from a GitHub conversation.
func IsGithubWired(doc *talk.Doc) bool {
	return doc.Wire() != "" && doc.Repo() != "" && doc.Issue() > 0
}

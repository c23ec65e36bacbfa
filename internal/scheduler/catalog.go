package scheduler

import (
	"context"

	"github.com/alekspetrov/conductor/internal/agents"
	"github.com/alekspetrov/conductor/internal/daemons"
	"github.com/alekspetrov/conductor/internal/github"
	"github.com/alekspetrov/conductor/internal/github/qtn"
	"github.com/alekspetrov/conductor/internal/profile"
	"github.com/alekspetrov/conductor/internal/requests"
	"github.com/alekspetrov/conductor/internal/talk"
)

// Catalog builds the agent chain of one talk.
type Catalog interface {
	// Profile resolves the build profile of the talk's repository.
	Profile(ctx context.Context, doc *talk.Doc) (profile.Profile, error)
	// Agent returns the chain that advances t under profile p.
	Agent(t talk.Talk, p profile.Profile) agents.Agent
}

// Host is the build machine every request runs on.
type Host struct {
	Address string
	Port    int
	Login   string
	Key     string
}

// Agents is the production catalog: GitHub conversations built on one
// SSH host.
type Agents struct {
	API      github.API
	Self     string
	Host     Host
	Daemons  daemons.Options
	Requests requests.Options
}

// Profile implements Catalog. Talks that did not come from GitHub get an
// empty profile.
func (a *Agents) Profile(ctx context.Context, doc *talk.Doc) (profile.Profile, error) {
	if doc.Repo() == "" {
		return profile.Empty(), nil
	}
	return profile.Fetch(ctx, a.API, doc.Repo())
}

// Agent implements Catalog.
func (a *Agents) Agent(t talk.Talk, p profile.Profile) agents.Agent {
	return agents.Iterative{
		qtn.UnderstandsRequest(a.API, a.Self, qtn.Idle(p, a.Self), qtn.Pending(p, a.Self)),
		agents.DropsTalk(),
		agents.RegistersShell(a.Host.Address, a.Host.Port, a.Host.Login, a.Host.Key),
		requests.StartsRequest(p, a.Requests),
		daemons.StartsDaemon(p, a.Daemons),
		daemons.SanitizesDaemon(a.Daemons),
		daemons.KillsDaemon(a.Daemons),
		daemons.EndsDaemon(a.Daemons),
		github.ReportsRequest(a.API, a.Self),
	}
}

// Starters are the super-agents run before the talks of a tick.
func (a *Agents) Starters() agents.SuperAgent {
	return agents.SuperIterative{
		github.StartsTalks(a.API, nil),
	}
}

// Closers are the super-agents run after the talks of a tick.
func (a *Agents) Closers() agents.SuperAgent {
	return agents.SuperIterative{
		agents.DeactivatesTalks(),
	}
}

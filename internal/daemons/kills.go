package daemons

import (
	"context"
	"fmt"

	"github.com/alekspetrov/conductor/internal/agents"
	"github.com/alekspetrov/conductor/internal/shell"
	"github.com/alekspetrov/conductor/internal/talk"
)

// StopRequest is the request type that asks to kill a running daemon.
const StopRequest = "stop"

// KillsDaemon kills the process recorded in the daemon's pid file when the
// talk's request is a stop. The killed run.sh still writes its status, so
// EndsDaemon records the outcome as usual.
func KillsDaemon(opts Options) agents.Agent {
	return &agents.Guarded{
		Name: "kills-daemon",
		Guard: agents.All(agents.HasShell, running, func(doc *talk.Doc) bool {
			req, ok := doc.Request()
			return ok && req.Type == StopRequest
		}),
		Process: func(ctx context.Context, doc *talk.Doc) (*talk.Directives, error) {
			d, _ := doc.Daemon()
			sh, err := opts.connect(doc)
			if err != nil {
				return nil, err
			}
			cmd := fmt.Sprintf("cd %s && if [ -f pid ]; then kill $(cat pid); fi", shell.Escape(d.Dir))
			code, err := shell.Empty(ctx, sh, cmd)
			if err != nil {
				return nil, fmt.Errorf("failed to kill daemon of %s: %w", doc.Name(), err)
			}
			logger(ctx, "kills-daemon").Info("daemon killed",
				"talk", doc.Name(), "dir", d.Dir, "code", code)
			return nil, nil
		},
	}
}

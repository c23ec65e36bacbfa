package daemons

import (
	"context"
	"fmt"

	"github.com/alekspetrov/conductor/internal/agents"
	"github.com/alekspetrov/conductor/internal/shell"
	"github.com/alekspetrov/conductor/internal/talk"
)

// SanitizesDaemon forgets a daemon directory that no longer exists on the
// host, e.g. after a reboot wiped /tmp. The daemon is then treated as lost.
func SanitizesDaemon(opts Options) agents.Agent {
	return &agents.Guarded{
		Name:  "sanitizes-daemon",
		Guard: agents.All(agents.HasShell, (*talk.Doc).HasDaemonDir),
		Process: func(ctx context.Context, doc *talk.Doc) (*talk.Directives, error) {
			d, _ := doc.Daemon()
			sh, err := opts.connect(doc)
			if err != nil {
				return nil, err
			}
			code, err := shell.Empty(ctx, sh, "ls "+shell.Escape(d.Dir))
			if err != nil {
				return nil, fmt.Errorf("failed to check %s: %w", d.Dir, err)
			}
			if code == 0 {
				return nil, nil
			}
			logger(ctx, "sanitizes-daemon").Warn("daemon directory is gone",
				"talk", doc.Name(), "dir", d.Dir, "code", code)
			return talk.NewDirectives().Path("/talk/daemon/dir").Remove(), nil
		},
	}
}

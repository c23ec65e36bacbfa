package daemons

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/alekspetrov/conductor/internal/agents"
	"github.com/alekspetrov/conductor/internal/shell"
	"github.com/alekspetrov/conductor/internal/talk"
)

// LostCode is recorded for a daemon whose directory vanished before it
// reported a status.
const LostCode = 1

// EndsDaemon records the outcome of a daemon once its status file shows
// up. Until then the daemon is left alone.
func EndsDaemon(opts Options) agents.Agent {
	return &agents.Guarded{
		Name: "ends-daemon",
		Guard: agents.All(agents.HasShell, func(doc *talk.Doc) bool {
			d, ok := doc.Daemon()
			return ok && d.IsStarted() && !d.IsEnded()
		}),
		Process: func(ctx context.Context, doc *talk.Doc) (*talk.Directives, error) {
			d, _ := doc.Daemon()
			if d.Dir == "" {
				return ended(opts, LostCode, "the daemon directory is gone, the build is lost"), nil
			}
			sh, err := opts.connect(doc)
			if err != nil {
				return nil, err
			}
			dir := shell.Escape(d.Dir)
			out, err := shell.Output(ctx, sh, fmt.Sprintf("cd %s && if [ -f status ]; then cat status; fi", dir))
			if err != nil {
				return nil, fmt.Errorf("failed to read status of %s: %w", doc.Name(), err)
			}
			status := strings.TrimSpace(out)
			if status == "" {
				return nil, nil
			}
			code, err := strconv.Atoi(status)
			if err != nil {
				return nil, fmt.Errorf("unexpected status %q in %s", status, d.Dir)
			}
			lines := opts.TailLines
			if lines <= 0 {
				lines = 30
			}
			tail, err := shell.Output(ctx, sh, fmt.Sprintf("tail -n %d %s/stdout", lines, dir))
			if err != nil {
				tail = ""
			}
			logger(ctx, "ends-daemon").Info("daemon finished",
				"talk", doc.Name(), "dir", d.Dir, "code", code)
			return ended(opts, code, strings.TrimRight(tail, "\n")), nil
		},
	}
}

func ended(opts Options, code int, tail string) *talk.Directives {
	return talk.NewDirectives().
		Path("/talk/daemon").Strict(1).
		Add("ended").Set(talk.ISO(opts.now())).Up().
		Add("code").Set(strconv.Itoa(code)).Up().
		Add("tail").Set(tail)
}

package agents

import (
	"context"
	"fmt"
	"strconv"

	"github.com/alekspetrov/conductor/internal/logging"
	"github.com/alekspetrov/conductor/internal/talk"
)

// DropsTalk confirms a talk waiting in the "later" state, which makes the
// rest of the chain eligible to run.
func DropsTalk() Agent {
	return &Guarded{
		Name:  "drops-talk",
		Guard: IsLater,
		Process: func(ctx context.Context, doc *talk.Doc) (*talk.Directives, error) {
			return talk.NewDirectives().Path("/talk").Attr("later", "false"), nil
		},
	}
}

// RegistersShell attaches the build host to a talk that has a request to
// run but no shell yet.
func RegistersShell(host string, port int, login, key string) Agent {
	return &Guarded{
		Name:  "registers-shell",
		Guard: All(NotLater, HasRequest, func(doc *talk.Doc) bool { _, ok := doc.Shell(); return !ok }),
		Process: func(ctx context.Context, doc *talk.Doc) (*talk.Directives, error) {
			if host == "" || login == "" || key == "" {
				return nil, fmt.Errorf("shell is not configured")
			}
			return talk.NewDirectives().Path("/talk").
				Add("shell").Attr("id", doc.Name()).
				Add("host").Set(host).Up().
				Add("port").Set(strconv.Itoa(port)).Up().
				Add("login").Set(login).Up().
				Add("key").Set(key), nil
		},
	}
}

// DeactivatesTalks archives talks that have nothing left to do: confirmed,
// no pending request, no daemon. Archived talks are never deleted.
func DeactivatesTalks() SuperAgent {
	logger := logging.WithComponent("deactivates-talks")
	return SuperFunc(func(ctx context.Context, talks talk.Talks) error {
		active, err := talks.Active(ctx)
		if err != nil {
			return err
		}
		for _, t := range active {
			doc, err := t.Read(ctx)
			if err != nil {
				return err
			}
			if doc.Later() || HasRequest(doc) || HasDaemon(doc) {
				continue
			}
			if err := t.SetActive(ctx, false); err != nil {
				return fmt.Errorf("failed to deactivate %s: %w", t.Name(), err)
			}
			logger.Info("talk deactivated", "talk", t.Name())
		}
		return nil
	})
}

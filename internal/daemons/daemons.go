// Package daemons supervises the remote build process of a talk.
//
// A daemon is started detached on the build host and never waited on; later
// ticks look at the files it leaves in its directory:
//
//	run.sh   the bootstrap script
//	pid      written by run.sh as its first action
//	stdout   combined output, the tail of which is reported
//	status   exit code, written once run.sh returns
//
// The lifecycle is launched -> unknown (no status yet) -> completed, or
// lost when the directory disappears from the host.
package daemons

import (
	"context"
	"log/slog"
	"time"

	"github.com/alekspetrov/conductor/internal/logging"
	"github.com/alekspetrov/conductor/internal/shell"
	"github.com/alekspetrov/conductor/internal/talk"
)

// Keyring points to the GPG key files uploaded for profiles that decrypt
// secrets.
type Keyring struct {
	Pubring string
	Secring string
}

// Options are shared by all daemon agents.
type Options struct {
	Shells  shell.Factory
	Retry   shell.RetryOptions
	Keyring Keyring
	// Version is echoed at the top of every run.sh.
	Version string
	// TailLines bounds how much of stdout is kept in the talk.
	TailLines int
	Now       func() time.Time
}

// DefaultOptions returns options that connect over SSH without host key
// checks.
func DefaultOptions() Options {
	return Options{
		Shells:    shell.SSHFactory(""),
		Retry:     shell.DefaultRetryOptions(),
		Version:   "dev",
		TailLines: 30,
		Now:       time.Now,
	}
}

func (o Options) now() time.Time {
	if o.Now == nil {
		return time.Now()
	}
	return o.Now()
}

// connect resolves the shell of a talk, wrapped so transport failures are
// retried.
func (o Options) connect(doc *talk.Doc) (shell.Shell, error) {
	factory := o.Shells
	if factory == nil {
		factory = shell.SSHFactory("")
	}
	sh, err := shell.FromDoc(doc, factory)
	if err != nil {
		return nil, err
	}
	return &shell.Retry{Shell: sh, Options: o.Retry}, nil
}

func logger(ctx context.Context, component string) *slog.Logger {
	return logging.WithContext(ctx).With("component", component)
}

// running matches talks whose daemon was launched and has no outcome yet.
func running(doc *talk.Doc) bool {
	d, ok := doc.Daemon()
	return ok && d.IsStarted() && !d.IsEnded() && d.Dir != ""
}

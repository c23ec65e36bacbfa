package daemons

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/alekspetrov/conductor/internal/agents"
	"github.com/alekspetrov/conductor/internal/profile"
	"github.com/alekspetrov/conductor/internal/shell"
	"github.com/alekspetrov/conductor/internal/talk"
)

// TransportFailure is the exit code recorded for a daemon that could not
// be launched at all.
const TransportFailure = 128

var rings = []string{"pubring.gpg", "secring.gpg"}

type startsDaemon struct {
	profile profile.Profile
	opts    Options
}

// StartsDaemon launches the declared daemon of a talk on its shell.
//
// The start time is committed before anything runs remotely, so a crash
// mid-launch never launches twice. A launch that fails in transport ends
// the daemon with code 128 and the error as its tail.
func StartsDaemon(p profile.Profile, opts Options) agents.Agent {
	return &startsDaemon{profile: p, opts: opts}
}

func (s *startsDaemon) ready(doc *talk.Doc) bool {
	if !agents.HasShell(doc) {
		return false
	}
	d, ok := doc.Daemon()
	return ok && d.Script != "" && d.Dir != "" && !d.IsStarted() && !d.IsEnded()
}

// Execute implements agents.Agent.
func (s *startsDaemon) Execute(ctx context.Context, t talk.Talk) error {
	doc, err := t.Read(ctx)
	if err != nil {
		return err
	}
	if !s.ready(doc) {
		return nil
	}
	err = t.Modify(ctx, talk.NewDirectives().
		Path("/talk/daemon").Strict(1).
		Add("started").Set(talk.ISO(s.opts.now())))
	if err != nil {
		return fmt.Errorf("failed to mark daemon of %s started: %w", t.Name(), err)
	}
	doc, err = t.Read(ctx)
	if err != nil {
		return err
	}
	log := logger(ctx, "starts-daemon")
	dir, err := s.run(ctx, doc, log)
	if err == nil {
		log.Info("daemon started", "talk", t.Name(), "dir", dir)
		return nil
	}
	log.Warn("daemon failed to start", "talk", t.Name(), "error", err)
	return t.Modify(ctx, talk.NewDirectives().
		Path("/talk/daemon").Strict(1).
		Add("ended").Set(talk.ISO(s.opts.now())).Up().
		Add("code").Set(fmt.Sprint(TransportFailure)).Up().
		Add("tail").Set(err.Error()))
}

func (s *startsDaemon) run(ctx context.Context, doc *talk.Doc, log *slog.Logger) (string, error) {
	sh, err := s.opts.connect(doc)
	if err != nil {
		return "", err
	}
	d, _ := doc.Daemon()
	if _, err := shell.Empty(ctx, shell.Safe{Shell: sh}, "mkdir -p "+shell.Escape(d.Dir)); err != nil {
		return "", fmt.Errorf("failed to create %s: %w", d.Dir, err)
	}
	prelude, err := s.upload(ctx, sh, d.Dir, log)
	if err != nil {
		return "", err
	}
	script := strings.Join([]string{
		"#!/bin/bash",
		"set -x",
		"set -e",
		"set -o pipefail",
		"cd $(dirname $0)",
		"echo $$ > pid",
		"echo " + shell.Escape("conductor "+s.opts.Version),
		"date",
		"uptime",
		prelude,
		d.Script,
	}, "\n")

	stdout := shell.NewLogWriter(log, slog.LevelInfo)
	stderr := shell.NewLogWriter(log, slog.LevelWarn)
	defer stdout.Flush()
	defer stderr.Flush()

	safe := shell.Safe{Shell: sh}
	if _, err := safe.Exec(ctx, fmt.Sprintf("cd %s && cat > run.sh", shell.Escape(d.Dir)),
		strings.NewReader(script), stdout, stderr); err != nil {
		return "", fmt.Errorf("failed to upload run.sh: %w", err)
	}
	launch := strings.Join([]string{
		"cd " + shell.Escape(d.Dir),
		"chmod a+x run.sh",
		"echo 'run.sh failed to start' > stdout",
		"( ( nohup ./run.sh </dev/null >stdout 2>&1; echo $? >status ) </dev/null >/dev/null 2>&1 & )",
	}, " && ")
	if _, err := shell.Empty(ctx, safe, launch); err != nil {
		return "", fmt.Errorf("failed to launch run.sh: %w", err)
	}
	return d.Dir, nil
}

// upload copies assets and keys next to run.sh. A broken profile does not
// stop the launch; the returned snippet makes the build fail with the
// profile error instead, so the author sees it in the report.
func (s *startsDaemon) upload(ctx context.Context, sh shell.Shell, dir string, log *slog.Logger) (string, error) {
	err := s.uploadAll(ctx, sh, dir, log)
	if profile.IsConfigError(err) {
		return fmt.Sprintf("cat << EOT\n%s\nEOT\nexit -1", err.Error()), nil
	}
	return "", err
}

func (s *startsDaemon) uploadAll(ctx context.Context, sh shell.Shell, dir string, log *slog.Logger) error {
	if s.profile == nil {
		return nil
	}
	safe := shell.Safe{Shell: sh}
	assets, err := s.profile.Assets(ctx)
	if err != nil {
		return err
	}
	for _, name := range profile.AssetNames(assets) {
		cmd := "cat > " + shell.Escape(dir+"/"+name)
		if _, err := safe.Exec(ctx, cmd, assets[name], nil, nil); err != nil {
			return fmt.Errorf("failed to upload asset %q: %w", name, err)
		}
		log.Info("asset uploaded", "asset", name, "dir", dir)
	}
	doc, err := s.profile.Read()
	if err != nil {
		return err
	}
	if !doc.Has("decrypt") {
		return nil
	}
	paths := map[string]string{
		"pubring.gpg": s.opts.Keyring.Pubring,
		"secring.gpg": s.opts.Keyring.Secring,
	}
	for _, name := range rings {
		if paths[name] == "" {
			return &profile.ConfigError{Msg: "decrypt is used but no GPG keyring is configured on this server"}
		}
		data, err := os.ReadFile(paths[name])
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", name, err)
		}
		cmd := strings.Join([]string{
			"cd " + shell.Escape(dir),
			"mkdir -p .gpg",
			fmt.Sprintf("cat > \".gpg/%s\"", name),
		}, " && ")
		if _, err := safe.Exec(ctx, cmd, strings.NewReader(string(data)), nil, nil); err != nil {
			return fmt.Errorf("failed to upload %s: %w", name, err)
		}
	}
	log.Info("gpg keys uploaded", "dir", dir)
	return nil
}

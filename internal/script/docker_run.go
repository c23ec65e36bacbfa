// Package script assembles the shell script and environment of a build
// from the sections of a profile.
package script

import (
	"fmt"
	"strings"

	"github.com/alekspetrov/conductor/internal/profile"
)

// DockerRun assembles one command (merge, deploy, release) of a profile.
// Output is a token list meant to be joined into a single shell line, so
// every script line is followed by a ";" token.
type DockerRun struct {
	profile *profile.Doc
	command *profile.Doc
}

// NewDockerRun prepares the command found at path in the profile, e.g.
// "merge". A missing command contributes nothing.
func NewDockerRun(p profile.Profile, path string) (*DockerRun, error) {
	doc, err := p.Read()
	if err != nil {
		return nil, err
	}
	cmd, ok := doc.Sub(path)
	if !ok {
		cmd, _ = profile.Parse(nil)
	}
	return &DockerRun{profile: doc, command: cmd}, nil
}

// Script returns the uninstall trap (when the profile has one), then the
// global install section, then the command's own script.
func (d *DockerRun) Script() ([]string, error) {
	var out []string
	if d.profile.Has("uninstall") {
		cleanup, err := scripts(d.profile, "uninstall")
		if err != nil {
			return nil, err
		}
		out = append(out, "function", "clean_up()", "{")
		out = append(out, cleanup...)
		out = append(out, "}", ";", "trap", "clean_up", "EXIT", ";")
	}
	install, err := scripts(d.profile, "install")
	if err != nil {
		return nil, err
	}
	own, err := scripts(d.command, "script")
	if err != nil {
		return nil, err
	}
	out = append(out, install...)
	return append(out, own...), nil
}

// Env is one environment variable supplied by the caller.
type Env struct {
	Key   string
	Value string
}

// Envs returns KEY=VALUE pairs: global env, command env, then extra. Later
// layers are appended, not merged, so a later assignment wins when the
// shell evaluates them.
func (d *DockerRun) Envs(extra []Env) ([]string, error) {
	global, err := envs(d.profile, "env")
	if err != nil {
		return nil, err
	}
	own, err := envs(d.command, "env")
	if err != nil {
		return nil, err
	}
	out := append(global, own...)
	for _, e := range extra {
		out = append(out, fmt.Sprintf("%s=%s", e.Key, e.Value))
	}
	return out, nil
}

// Line joins tokens into one shell line.
func Line(tokens []string) string {
	return strings.Join(tokens, " ")
}

func scripts(doc *profile.Doc, path string) ([]string, error) {
	sec, ok := doc.Section(path)
	if !ok {
		return nil, nil
	}
	var items []string
	if sec.IsText() {
		items = sec.Lines()
	} else {
		list, err := sec.Items()
		if err != nil {
			return nil, err
		}
		items = list
	}
	out := make([]string, 0, len(items)*2)
	for _, item := range items {
		out = append(out, Neutralize(strings.TrimSpace(item)), ";")
	}
	return out, nil
}

func envs(doc *profile.Doc, path string) ([]string, error) {
	sec, ok := doc.Section(path)
	if !ok {
		return nil, nil
	}
	switch {
	case sec.IsMapping():
		entries, err := sec.Entries()
		if err != nil {
			return nil, err
		}
		out := make([]string, 0, len(entries))
		for _, e := range entries {
			out = append(out, fmt.Sprintf("%s=%s", e.Key, e.Value))
		}
		return out, nil
	case sec.IsList():
		return sec.Items()
	default:
		return sec.Lines(), nil
	}
}

// Neutralize disarms a shell comment in a script line. Once all lines are
// joined into one, an unquoted "#" would comment out every command after
// it; wrapping the comment in a command substitution keeps it inert.
// A "#" that is escaped or sits inside single or double quotes is left
// alone.
func Neutralize(line string) string {
	for i := 0; i < len(line); i++ {
		if line[i] != '#' {
			continue
		}
		if i > 0 && line[i-1] == '\\' {
			continue
		}
		if inQuotes(line, i) {
			continue
		}
		return line[:i] + "`" + line[i:] + "`"
	}
	return line
}

// inQuotes counts quotes before pos; an odd count of either kind means pos
// is inside a quoted string.
func inQuotes(line string, pos int) bool {
	prefix := line[:pos]
	return strings.Count(prefix, `"`)%2 == 1 || strings.Count(prefix, "'")%2 == 1
}

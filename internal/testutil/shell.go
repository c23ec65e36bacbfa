package testutil

import (
	"context"
	"io"
	"strings"
	"sync"
)

// ShellCall records one command run through a FakeShell.
type ShellCall struct {
	Command string
	Stdin   string
}

// ShellReply is what a FakeShell answers to a command.
type ShellReply struct {
	Stdout string
	Code   int
	Err    error
}

// FakeShell is an in-memory remote shell. Replies are matched by the first
// registered substring found in the command; unmatched commands succeed
// silently.
type FakeShell struct {
	mu      sync.Mutex
	calls   []ShellCall
	rules   []fakeRule
	Default ShellReply
}

type fakeRule struct {
	contains string
	replies  []ShellReply
}

// On registers replies for commands containing substr. Successive matches
// consume replies in order; the last one repeats.
func (f *FakeShell) On(substr string, replies ...ShellReply) *FakeShell {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rules = append(f.rules, fakeRule{contains: substr, replies: replies})
	return f
}

// Exec implements shell.Shell.
func (f *FakeShell) Exec(ctx context.Context, command string, stdin io.Reader, stdout, stderr io.Writer) (int, error) {
	var in string
	if stdin != nil {
		data, _ := io.ReadAll(stdin)
		in = string(data)
	}
	f.mu.Lock()
	f.calls = append(f.calls, ShellCall{Command: command, Stdin: in})
	reply := f.Default
	for i := range f.rules {
		r := &f.rules[i]
		if !strings.Contains(command, r.contains) || len(r.replies) == 0 {
			continue
		}
		reply = r.replies[0]
		if len(r.replies) > 1 {
			r.replies = r.replies[1:]
		}
		break
	}
	f.mu.Unlock()

	if reply.Err != nil {
		return 0, reply.Err
	}
	if stdout != nil && reply.Stdout != "" {
		_, _ = io.WriteString(stdout, reply.Stdout)
	}
	return reply.Code, nil
}

// Calls returns every recorded call.
func (f *FakeShell) Calls() []ShellCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ShellCall(nil), f.calls...)
}

// Find returns the first call whose command contains substr.
func (f *FakeShell) Find(substr string) (ShellCall, bool) {
	for _, c := range f.Calls() {
		if strings.Contains(c.Command, substr) {
			return c, true
		}
	}
	return ShellCall{}, false
}

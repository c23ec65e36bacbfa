// Package shell runs commands on the remote build host.
//
// Calls are synchronous: Exec returns once the remote command exits. Long
// builds are therefore never run through Exec directly; the daemons package
// detaches them and polls for their files instead.
package shell

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
)

// Shell executes a command and reports its exit code. A non-nil error means
// the command could not be run at all (transport failure); a command that
// ran and failed returns its non-zero code with a nil error.
type Shell interface {
	Exec(ctx context.Context, command string, stdin io.Reader, stdout, stderr io.Writer) (int, error)
}

// ExitError is returned by Safe when a command exits with a non-zero code.
type ExitError struct {
	Command string
	Code    int
	Stderr  string
}

func (e *ExitError) Error() string {
	msg := fmt.Sprintf("command %q exited with code %d", e.Command, e.Code)
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

// Escape quotes s for safe interpolation into a POSIX shell command.
func Escape(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}

// Safe wraps a shell so that non-zero exit codes become *ExitError.
type Safe struct {
	Shell Shell
}

// Exec implements Shell.
func (s Safe) Exec(ctx context.Context, command string, stdin io.Reader, stdout, stderr io.Writer) (int, error) {
	var errBuf bytes.Buffer
	var errOut io.Writer = &errBuf
	if stderr != nil {
		errOut = io.MultiWriter(stderr, &errBuf)
	}
	code, err := s.Shell.Exec(ctx, command, stdin, stdout, errOut)
	if err != nil {
		return code, err
	}
	if code != 0 {
		return code, &ExitError{Command: command, Code: code, Stderr: strings.TrimSpace(errBuf.String())}
	}
	return code, nil
}

// Empty runs a command with no input and discards its output.
func Empty(ctx context.Context, sh Shell, command string) (int, error) {
	return sh.Exec(ctx, command, strings.NewReader(""), io.Discard, io.Discard)
}

// Output runs a command and returns its stdout. Non-zero exit codes are
// errors.
func Output(ctx context.Context, sh Shell, command string) (string, error) {
	var out bytes.Buffer
	if _, err := (Safe{Shell: sh}).Exec(ctx, command, strings.NewReader(""), &out, io.Discard); err != nil {
		return "", err
	}
	return out.String(), nil
}

// LogWriter is an io.Writer that emits every complete line it receives as a
// log record.
type LogWriter struct {
	logger *slog.Logger
	level  slog.Level

	mu  sync.Mutex
	buf []byte
}

// NewLogWriter creates a LogWriter.
func NewLogWriter(logger *slog.Logger, level slog.Level) *LogWriter {
	return &LogWriter{logger: logger, level: level}
}

// Write implements io.Writer.
func (w *LogWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		w.emit(string(w.buf[:i]))
		w.buf = w.buf[i+1:]
	}
	return len(p), nil
}

// Flush emits a trailing partial line.
func (w *LogWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.buf) > 0 {
		w.emit(string(w.buf))
		w.buf = nil
	}
}

func (w *LogWriter) emit(line string) {
	w.logger.Log(context.Background(), w.level, strings.TrimRight(line, "\r"))
}

// Lines splits command output into trimmed, non-empty lines.
func Lines(out string) []string {
	var lines []string
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

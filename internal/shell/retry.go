package shell

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/alekspetrov/conductor/internal/logging"
)

// RetryOptions bounds how often a transport failure is retried.
type RetryOptions struct {
	MaxRetries int           // retries after the first attempt
	Delay      time.Duration // pause between attempts
}

// DefaultRetryOptions allows a single retry, which is enough to ride out a
// dropped connection without hiding a dead host.
func DefaultRetryOptions() RetryOptions {
	return RetryOptions{
		MaxRetries: 1,
		Delay:      2 * time.Second,
	}
}

// Retry wraps a shell and repeats commands that failed in transport.
// Commands that ran and exited non-zero are not retried.
type Retry struct {
	Shell   Shell
	Options RetryOptions
}

// NewRetry wraps sh with the default policy.
func NewRetry(sh Shell) *Retry {
	return &Retry{Shell: sh, Options: DefaultRetryOptions()}
}

// Exec implements Shell. Stdin is buffered so that every attempt sends the
// same input.
func (r *Retry) Exec(ctx context.Context, command string, stdin io.Reader, stdout, stderr io.Writer) (int, error) {
	var input []byte
	if stdin != nil {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return 0, fmt.Errorf("failed to read command input: %w", err)
		}
		input = data
	}

	var lastErr error
	for attempt := 0; attempt <= r.Options.MaxRetries; attempt++ {
		code, err := r.Shell.Exec(ctx, command, bytes.NewReader(input), stdout, stderr)
		if err == nil || !IsTransient(err) {
			return code, err
		}
		lastErr = err
		if attempt >= r.Options.MaxRetries {
			break
		}
		logging.WithComponent("shell").Warn("transport failure, retrying",
			"attempt", attempt+1, "error", err)
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(r.Options.Delay):
		}
	}
	return 0, lastErr
}

// IsTransient reports whether err is a transport failure worth retrying.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var exit *ExitError
	if errors.As(err, &exit) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return true
}

package testutil

import (
	"context"
	"errors"
	"io"
	"os/exec"
)

// LocalShell runs commands through the local bash, so directories and
// files behave as they would on a real build host.
type LocalShell struct{}

// Exec implements shell.Shell.
func (LocalShell) Exec(ctx context.Context, command string, stdin io.Reader, stdout, stderr io.Writer) (int, error) {
	cmd := exec.CommandContext(ctx, "bash", "-c", command)
	cmd.Stdin = stdin
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	err := cmd.Run()
	var exit *exec.ExitError
	if errors.As(err, &exit) {
		return exit.ExitCode(), nil
	}
	if err != nil {
		return 0, err
	}
	return 0, nil
}

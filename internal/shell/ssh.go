package shell

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/alekspetrov/conductor/internal/talk"
)

// SSH is a Shell that opens one SSH connection per command.
type SSH struct {
	addr    string
	config  *ssh.ClientConfig
	timeout time.Duration
}

// SSHOption configures an SSH shell.
type SSHOption func(*SSH) error

// WithKnownHosts verifies host keys against an OpenSSH known_hosts file.
// Without it host keys are not checked.
func WithKnownHosts(path string) SSHOption {
	return func(s *SSH) error {
		if path == "" {
			return nil
		}
		cb, err := knownhosts.New(path)
		if err != nil {
			return fmt.Errorf("failed to load known hosts: %w", err)
		}
		s.config.HostKeyCallback = cb
		return nil
	}
}

// WithDialTimeout bounds the TCP connect and SSH handshake.
func WithDialTimeout(d time.Duration) SSHOption {
	return func(s *SSH) error {
		s.timeout = d
		s.config.Timeout = d
		return nil
	}
}

// NewSSH creates an SSH shell from a PEM-encoded private key.
func NewSSH(host string, port int, login, key string, opts ...SSHOption) (*SSH, error) {
	if host == "" || login == "" {
		return nil, fmt.Errorf("ssh host and login are required")
	}
	if port <= 0 {
		port = 22
	}
	signer, err := ssh.ParsePrivateKey([]byte(key))
	if err != nil {
		return nil, fmt.Errorf("failed to parse ssh key for %s@%s: %w", login, host, err)
	}
	s := &SSH{
		addr: net.JoinHostPort(host, strconv.Itoa(port)),
		config: &ssh.ClientConfig{
			User:            login,
			Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
			HostKeyCallback: ssh.InsecureIgnoreHostKey(),
			Timeout:         30 * time.Second,
		},
		timeout: 30 * time.Second,
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Exec implements Shell.
func (s *SSH) Exec(ctx context.Context, command string, stdin io.Reader, stdout, stderr io.Writer) (int, error) {
	dialer := net.Dialer{Timeout: s.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", s.addr)
	if err != nil {
		return 0, fmt.Errorf("failed to connect to %s: %w", s.addr, err)
	}
	sc, chans, reqs, err := ssh.NewClientConn(conn, s.addr, s.config)
	if err != nil {
		_ = conn.Close()
		return 0, fmt.Errorf("ssh handshake with %s failed: %w", s.addr, err)
	}
	client := ssh.NewClient(sc, chans, reqs)
	defer func() { _ = client.Close() }()

	session, err := client.NewSession()
	if err != nil {
		return 0, fmt.Errorf("failed to open ssh session on %s: %w", s.addr, err)
	}
	defer func() { _ = session.Close() }()

	session.Stdin = stdin
	session.Stdout = orDiscard(stdout)
	session.Stderr = orDiscard(stderr)

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = client.Close()
		case <-done:
		}
	}()

	err = session.Run(command)
	var exit *ssh.ExitError
	switch {
	case err == nil:
		return 0, nil
	case errors.As(err, &exit):
		return exit.ExitStatus(), nil
	case ctx.Err() != nil:
		return 0, ctx.Err()
	default:
		return 0, fmt.Errorf("ssh command on %s failed: %w", s.addr, err)
	}
}

func orDiscard(w io.Writer) io.Writer {
	if w == nil {
		return io.Discard
	}
	return w
}

// Factory resolves a Shell for a talk's shell definition.
type Factory func(def talk.Shell) (Shell, error)

// SSHFactory returns a Factory that builds SSH shells, verifying host keys
// against knownHosts when it is set.
func SSHFactory(knownHosts string) Factory {
	return func(def talk.Shell) (Shell, error) {
		return NewSSH(def.Host, def.Port, def.Login, def.Key, WithKnownHosts(knownHosts))
	}
}

// FromDoc resolves the shell recorded in a talk document.
func FromDoc(doc *talk.Doc, factory Factory) (Shell, error) {
	def, ok := doc.Shell()
	if !ok {
		return nil, fmt.Errorf("talk %s has no shell", doc.Name())
	}
	return factory(def)
}

// Package remote opens SSH sessions to hosts for connection tests, remote
// commands and directory browsing. Transfers do not go through here; they
// shell out to rsync.
package remote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/dukerupert/hostvault/internal/model"
	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

const DefaultDialTimeout = 10 * time.Second

// ConnectFailedMessage is the only detail shown to API callers when a
// session cannot be established.
const ConnectFailedMessage = "Failed to connect. Please check host, port, and credentials."

// ConnectivityError reports that no session could be established, either
// because the network was unreachable or because authentication failed.
type ConnectivityError struct {
	Host string
	Err  error
}

func (e *ConnectivityError) Error() string {
	return fmt.Sprintf("connect to %s: %v", e.Host, e.Err)
}

func (e *ConnectivityError) Unwrap() error {
	return e.Err
}

// Client dials hosts.
type Client struct {
	Timeout time.Duration
	logger  *slog.Logger
}

func NewClient(timeout time.Duration, logger *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = DefaultDialTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{Timeout: timeout, logger: logger.With("component", "remote")}
}

// Session is an authenticated connection to one host. Callers must Close it.
type Session struct {
	host *model.Host
	conn *ssh.Client
	sftp *sftp.Client
}

// Dial connects and authenticates. Host keys are accepted on first use,
// matching the StrictHostKeyChecking=no used for transfers.
func (c *Client) Dial(ctx context.Context, h *model.Host) (*Session, error) {
	port := h.Port
	if port == 0 {
		port = model.DefaultSSHPort
	}
	addr := net.JoinHostPort(h.Address, strconv.Itoa(port))

	cfg, err := clientConfig(h, c.Timeout)
	if err != nil {
		return nil, &ConnectivityError{Host: addr, Err: err}
	}

	d := net.Dialer{Timeout: c.Timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		c.logger.Warn("dial failed", "host", h.Name, "addr", addr, "error", err)
		return nil, &ConnectivityError{Host: addr, Err: err}
	}

	deadline := time.Now().Add(c.Timeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	conn.SetDeadline(deadline)

	sc, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if err != nil {
		conn.Close()
		c.logger.Warn("ssh handshake failed", "host", h.Name, "addr", addr, "error", err)
		return nil, &ConnectivityError{Host: addr, Err: err}
	}
	conn.SetDeadline(time.Time{})

	c.logger.Debug("session opened", "host", h.Name, "addr", addr)
	return &Session{host: h, conn: ssh.NewClient(sc, chans, reqs)}, nil
}

// WithSession dials h, runs fn and closes the session on every return path.
func (c *Client) WithSession(ctx context.Context, h *model.Host, fn func(*Session) error) error {
	s, err := c.Dial(ctx, h)
	if err != nil {
		return err
	}
	defer s.Close()
	return fn(s)
}

func clientConfig(h *model.Host, timeout time.Duration) (*ssh.ClientConfig, error) {
	var methods []ssh.AuthMethod
	switch {
	case h.KeyPath != "":
		pem, err := os.ReadFile(h.KeyPath)
		if err != nil {
			return nil, fmt.Errorf("read key: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(pem)
		if err != nil {
			return nil, fmt.Errorf("parse key: %w", err)
		}
		methods = append(methods, ssh.PublicKeys(signer))
	case h.Password != "":
		password := h.Password
		methods = append(methods,
			ssh.Password(password),
			ssh.KeyboardInteractive(func(_, _ string, questions []string, _ []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = password
				}
				return answers, nil
			}),
		)
	default:
		return nil, errors.New("no credentials configured")
	}

	return &ssh.ClientConfig{
		User:            h.Username,
		Auth:            methods,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         timeout,
	}, nil
}

// ExecResult is the outcome of a remote command. A non-zero ExitCode is not
// an error.
type ExecResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Exec runs cmd in a new SSH session channel.
func (s *Session) Exec(ctx context.Context, cmd string) (ExecResult, error) {
	sess, err := s.conn.NewSession()
	if err != nil {
		return ExecResult{}, fmt.Errorf("new session: %w", err)
	}
	defer sess.Close()

	stdout := &limitedBuffer{max: maxExecOutput}
	stderr := &limitedBuffer{max: maxExecOutput}
	sess.Stdout = stdout
	sess.Stderr = stderr

	done := make(chan error, 1)
	go func() { done <- sess.Run(cmd) }()

	select {
	case <-ctx.Done():
		sess.Close()
		return ExecResult{}, fmt.Errorf("exec %q: %w", cmd, ctx.Err())
	case err = <-done:
	}

	res := ExecResult{Stdout: stdout.String(), Stderr: stderr.String()}
	var exitErr *ssh.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitStatus()
		return res, nil
	}
	if err != nil {
		return res, fmt.Errorf("exec %q: %w", cmd, err)
	}
	return res, nil
}

func (s *Session) sftpClient() (*sftp.Client, error) {
	if s.sftp != nil {
		return s.sftp, nil
	}
	c, err := sftp.NewClient(s.conn)
	if err != nil {
		return nil, fmt.Errorf("open sftp: %w", err)
	}
	s.sftp = c
	return c, nil
}

// Close releases the SFTP subsystem, if opened, and the SSH connection.
func (s *Session) Close() error {
	var errs []error
	if s.sftp != nil {
		errs = append(errs, s.sftp.Close())
		s.sftp = nil
	}
	if s.conn != nil {
		errs = append(errs, s.conn.Close())
		s.conn = nil
	}
	return errors.Join(errs...)
}

const maxExecOutput = 1 << 20

type limitedBuffer struct {
	buf []byte
	max int
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	if room := b.max - len(b.buf); room > 0 {
		if len(p) > room {
			b.buf = append(b.buf, p[:room]...)
		} else {
			b.buf = append(b.buf, p...)
		}
	}
	return len(p), nil
}

func (b *limitedBuffer) String() string {
	return string(b.buf)
}

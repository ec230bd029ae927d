package transfer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

const (
	DefaultTimeout = time.Hour

	// maxOutput bounds how much of each stream is kept; rsync -v on a large
	// tree prints a line per file.
	maxOutput = 64 << 10

	waitDelay = 10 * time.Second
)

// ErrTimeout matches any *TimeoutError.
var ErrTimeout = errors.New("transfer timed out")

// TimeoutError is returned when a transfer outlives the executor timeout.
// The process has been killed by the time it is returned.
type TimeoutError struct {
	After time.Duration
}

func (e *TimeoutError) Error() string {
	return "timed out after " + formatDuration(e.After)
}

func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}

// TransferFailure is a non-zero exit from the transfer tool. Output is the
// captured stderr, or stdout when stderr was empty.
type TransferFailure struct {
	ExitCode int
	Output   string
}

func (e *TransferFailure) Error() string {
	if e.Output != "" {
		return e.Output
	}
	return fmt.Sprintf("transfer exited with status %d", e.ExitCode)
}

// Result is what a finished process left behind.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// Executor runs transfer commands as child processes under a hard timeout.
type Executor struct {
	Timeout time.Duration
	logger  *slog.Logger
}

func NewExecutor(timeout time.Duration, logger *slog.Logger) *Executor {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{Timeout: timeout, logger: logger.With("component", "transfer")}
}

// Run executes cmd and waits for it. Errors are *TimeoutError when the
// timeout elapsed, *TransferFailure on a non-zero exit, and a wrapped error
// for anything else, including cancellation of ctx.
func (e *Executor) Run(ctx context.Context, c Command) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, e.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, c.Path, c.Args...)
	cmd.Env = append(os.Environ(), c.Env...)
	cmd.WaitDelay = waitDelay
	stdout := &tailBuffer{max: maxOutput}
	stderr := &tailBuffer{max: maxOutput}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	e.logger.Info("transfer started", "command", c.Redacted())
	start := time.Now()
	err := cmd.Run()

	res := Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}
	if cmd.ProcessState != nil {
		res.ExitCode = cmd.ProcessState.ExitCode()
	}

	if err == nil {
		e.logger.Info("transfer finished", "duration", res.Duration.Round(time.Millisecond))
		return res, nil
	}

	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		e.logger.Error("transfer timed out", "timeout", e.Timeout)
		return res, &TimeoutError{After: e.Timeout}
	case ctx.Err() != nil:
		return res, fmt.Errorf("transfer cancelled: %w", ctx.Err())
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		out := strings.TrimSpace(res.Stderr)
		if out == "" {
			out = strings.TrimSpace(res.Stdout)
		}
		e.logger.Warn("transfer failed", "exit_code", res.ExitCode)
		return res, &TransferFailure{ExitCode: res.ExitCode, Output: out}
	}
	return res, fmt.Errorf("run %s: %w", filepath.Base(c.Path), err)
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	buf []byte
	max int
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	n := len(p)
	if n >= b.max {
		b.buf = append(b.buf[:0], p[n-b.max:]...)
		return n, nil
	}
	if over := len(b.buf) + n - b.max; over > 0 {
		b.buf = append(b.buf[:0], b.buf[over:]...)
	}
	b.buf = append(b.buf, p...)
	return n, nil
}

func (b *tailBuffer) String() string {
	return string(b.buf)
}

func formatDuration(d time.Duration) string {
	plural := func(n int64, unit string) string {
		if n == 1 {
			return "1 " + unit
		}
		return fmt.Sprintf("%d %ss", n, unit)
	}
	switch {
	case d >= time.Hour && d%time.Hour == 0:
		return plural(int64(d/time.Hour), "hour")
	case d >= time.Minute && d%time.Minute == 0:
		return plural(int64(d/time.Minute), "minute")
	case d >= time.Second && d%time.Second == 0:
		return plural(int64(d/time.Second), "second")
	}
	return d.String()
}

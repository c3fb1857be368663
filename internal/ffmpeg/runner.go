package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/livarr/livarr/internal/observability"
)

const (
	// ExitCodeTimeout is reported when a process had to be terminated
	// because it outlived its wait budget or its context.
	ExitCodeTimeout = 124

	// termGrace is how long a terminated process gets to exit cleanly
	// before it is killed.
	termGrace = 5 * time.Second

	// stderrTailLimit bounds retained stderr. ffmpeg repeats fatal
	// errors near the end of its output, so the tail is what matters.
	stderrTailLimit = 16 * 1024
)

// Result describes a finished ffmpeg process.
type Result struct {
	ExitCode   int
	Stderr     string
	Terminated bool
}

// Success reports whether the process exited cleanly.
func (r *Result) Success() bool {
	return r.ExitCode == 0
}

// Runner executes ffmpeg commands with a bounded lifetime.
type Runner struct {
	logger *slog.Logger
}

// NewRunner creates a command runner.
func NewRunner(logger *slog.Logger) *Runner {
	return &Runner{logger: observability.WithComponent(logger, "ffmpeg")}
}

// Run starts cmd and waits up to wait for it to finish; wait <= 0
// means no budget, leaving only the context to bound the process. A
// process that outlives its budget, or whose context is canceled,
// receives SIGTERM, then SIGKILL after a grace period, and reports
// ExitCodeTimeout. A nonzero exit status is returned in the Result,
// not as an error; errors mean the process could not be run at all.
func (r *Runner) Run(ctx context.Context, cmd *Command, wait time.Duration) (*Result, error) {
	execCmd := exec.Command(cmd.Binary, cmd.Args...)
	stderr := newTailBuffer(stderrTailLimit)
	execCmd.Stderr = stderr

	r.logger.Debug("running command", slog.String("command", cmd.String()))

	if err := execCmd.Start(); err != nil {
		return nil, fmt.Errorf("starting %s: %w", cmd.Binary, err)
	}

	done := make(chan error, 1)
	go func() {
		done <- execCmd.Wait()
	}()

	var timeout <-chan time.Time
	if wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case waitErr := <-done:
		return r.finished(cmd, waitErr, stderr)
	case <-ctx.Done():
		r.logger.Warn("stopping command, context canceled",
			slog.String("input", cmd.Input))
	case <-timeout:
		r.logger.Warn("command exceeded wait budget, terminating",
			slog.String("input", cmd.Input),
			slog.Duration("wait", wait))
	}

	_ = execCmd.Process.Signal(syscall.SIGTERM)
	select {
	case <-done:
	case <-time.After(termGrace):
		_ = execCmd.Process.Kill()
		<-done
	}

	return &Result{ExitCode: ExitCodeTimeout, Stderr: stderr.String(), Terminated: true}, nil
}

func (r *Runner) finished(cmd *Command, waitErr error, stderr *tailBuffer) (*Result, error) {
	if waitErr == nil {
		return &Result{Stderr: stderr.String()}, nil
	}
	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		return &Result{ExitCode: exitErr.ExitCode(), Stderr: stderr.String()}, nil
	}
	return nil, fmt.Errorf("waiting for %s: %w", cmd.Binary, waitErr)
}

// tailBuffer is an io.Writer that retains only the last max bytes.
type tailBuffer struct {
	mu  sync.Mutex
	max int
	buf []byte
}

func newTailBuffer(max int) *tailBuffer {
	return &tailBuffer{max: max}
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if len(t.buf) > t.max {
		t.buf = t.buf[len(t.buf)-t.max:]
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}

package runner

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

// Stream identifies which output of a child process a line came from
type Stream string

const (
	Stdout Stream = "stdout"
	Stderr Stream = "stderr"
)

// ErrCanceled is returned when a command was stopped because its context was
// canceled. It is never returned for a program that exited on its own.
var ErrCanceled = errors.New("run canceled by user")

// Command describes one external program invocation
type Command struct {
	Program string
	Args    []string
	Dir     string
	Env     []string // appended to the parent environment when set
}

// Argv returns the full argument vector including the program
func (c Command) Argv() []string {
	return append([]string{c.Program}, c.Args...)
}

// String renders the command the way it would be typed
func (c Command) String() string {
	return strings.Join(c.Argv(), " ")
}

// Result is the captured output of a finished command
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}

// ExitError reports a command that exited non-zero
type ExitError struct {
	Args     []string
	ExitCode int
	Stdout   string
	Stderr   string
}

func (e *ExitError) Error() string {
	detail := strings.TrimSpace(e.Stderr)
	if detail == "" {
		detail = strings.TrimSpace(e.Stdout)
	}
	if detail == "" {
		detail = fmt.Sprintf("command failed with exit code %d", e.ExitCode)
	}
	return strings.Join(e.Args, " ") + ": " + detail
}

// LineFunc receives each output line in arrival order. It is always called
// from the goroutine that invoked Run.
type LineFunc func(stream Stream, line string)

// Runner spawns external commands, one at a time per call
type Runner struct {
	killGrace time.Duration
	logger    *slog.Logger
}

// New creates a runner. killGrace is the delay between SIGTERM and SIGKILL
// when a command is canceled; zero kills immediately.
func New(killGrace time.Duration, logger *slog.Logger) *Runner {
	return &Runner{
		killGrace: killGrace,
		logger:    logger,
	}
}

type outputLine struct {
	stream Stream
	text   string
}

// Run executes c and streams its output to onLine as it is produced. It
// blocks until the process exits and every line has been delivered.
func (r *Runner) Run(ctx context.Context, c Command, onLine LineFunc) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, ErrCanceled
	}

	cmd := exec.CommandContext(ctx, c.Program, c.Args...)
	cmd.Dir = c.Dir
	if len(c.Env) > 0 {
		cmd.Env = append(cmd.Environ(), c.Env...)
	}
	stopEscalation := configureProcess(cmd, r.killGrace)
	defer stopEscalation()

	stdoutR, stdoutW := io.Pipe()
	stderrR, stderrW := io.Pipe()
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	started := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", c.String(), err)
	}
	r.logger.Debug("Command started", "command", c.String(), "pid", cmd.Process.Pid)

	lines := make(chan outputLine, 64)
	var g errgroup.Group
	g.Go(func() error { return readLines(stdoutR, Stdout, lines) })
	g.Go(func() error { return readLines(stderrR, Stderr, lines) })

	var waitErr, readErr error
	go func() {
		waitErr = cmd.Wait()
		_ = stdoutW.Close()
		_ = stderrW.Close()
		readErr = g.Wait()
		close(lines)
	}()

	var stdout, stderr strings.Builder
	for l := range lines {
		if l.stream == Stdout {
			stdout.WriteString(l.text)
			stdout.WriteByte('\n')
		} else {
			stderr.WriteString(l.text)
			stderr.WriteByte('\n')
		}
		if onLine != nil {
			onLine(l.stream, l.text)
		}
	}

	res := &Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: cmd.ProcessState.ExitCode(),
		Duration: time.Since(started),
	}

	if waitErr != nil {
		if ctx.Err() != nil {
			r.logger.Info("Command canceled", "command", c.String(), "duration", res.Duration)
			return res, ErrCanceled
		}
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			r.logger.Warn("Command failed", "command", c.String(), "exit_code", res.ExitCode, "duration", res.Duration)
			return res, &ExitError{
				Args:     c.Argv(),
				ExitCode: res.ExitCode,
				Stdout:   res.Stdout,
				Stderr:   res.Stderr,
			}
		}
		return res, fmt.Errorf("failed to wait for %s: %w", c.String(), waitErr)
	}
	if readErr != nil {
		return res, fmt.Errorf("failed to read output of %s: %w", c.String(), readErr)
	}

	r.logger.Debug("Command finished", "command", c.String(), "duration", res.Duration)
	return res, nil
}

// readLines splits r into lines without a length limit. A final line without
// a trailing newline is still delivered.
func readLines(r io.Reader, stream Stream, out chan<- outputLine) error {
	br := bufio.NewReaderSize(r, 64*1024)
	for {
		text, err := br.ReadString('\n')
		if len(text) > 0 {
			out <- outputLine{stream: stream, text: strings.TrimRight(text, "\r\n")}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}

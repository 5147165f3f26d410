package download

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"syscall"
	"time"

	"github.com/rs/zerolog"
)

// waitDrainDelay unblocks Wait when a killed tool left helpers holding
// the output pipes.
const waitDrainDelay = 5 * time.Second

// Result captures one completed execution of the external tool.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	// Attempts is the total number of times the tool was run.
	Attempts int
	// StartedAt is when the first attempt began; artifacts older than
	// this cannot have been produced by the run.
	StartedAt time.Time
}

// Executor runs the external tool as a child process with a flat retry
// budget. No shell interpreter is ever involved; the argument vector is
// handed to the process verbatim.
type Executor struct {
	tool string
	log  zerolog.Logger
}

// NewExecutor builds an executor for the named tool binary. The tool must
// be resolvable on the execution environment's search path.
func NewExecutor(tool string, logger zerolog.Logger) *Executor {
	return &Executor{tool: tool, log: logger}
}

// Tool returns the configured tool binary name.
func (e *Executor) Tool() string { return e.tool }

// Run executes the tool with args, retrying a nonzero exit up to retries
// additional attempts with the identical vector and no backoff. The
// context deadline terminates the child and surfaces a TimeoutError. A
// process that cannot be started at all yields a SpawnError on the first
// attempt, never retried.
func (e *Executor) Run(ctx context.Context, args []string, retries int) (Result, error) {
	if retries < 0 {
		retries = 0
	}

	var last Result
	started := time.Now()
	for attempt := 1; attempt <= retries+1; attempt++ {
		if ctx.Err() != nil {
			return last, &TimeoutError{Elapsed: time.Since(started)}
		}
		res, err := e.runOnce(ctx, args)
		res.Attempts = attempt
		res.StartedAt = started
		last = res

		e.log.Debug().
			Int("attempt", attempt).
			Int("exit_code", res.ExitCode).
			Int("stdout_bytes", len(res.Stdout)).
			Int("stderr_bytes", len(res.Stderr)).
			Msg("tool attempt finished")

		if err != nil {
			var spawnErr *SpawnError
			if errors.As(err, &spawnErr) {
				e.log.Error().Str("tool", e.tool).Err(spawnErr.Err).Msg("tool could not be started")
				return last, err
			}
			return last, err
		}
		if ctx.Err() != nil {
			return last, &TimeoutError{Elapsed: time.Since(started)}
		}
		if res.ExitCode == 0 {
			return last, nil
		}
		if res.Stderr != "" {
			e.log.Warn().Int("attempt", attempt).Int("exit_code", res.ExitCode).
				Str("stderr", res.Stderr).Msg("tool exited nonzero")
		}
	}

	return last, &ExecutionError{
		ExitCode: last.ExitCode,
		Attempts: last.Attempts,
		Stderr:   last.Stderr,
	}
}

func (e *Executor) runOnce(ctx context.Context, args []string) (Result, error) {
	cmd := exec.CommandContext(ctx, e.tool, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	// The tool runs in its own process group so cancellation reaches the
	// helpers it spawns (muxers, post-processors). Those inherit the
	// output pipes; killing only the direct child would leave Wait
	// blocked until they exit on their own.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		return cmd.Process.Kill()
	}
	cmd.WaitDelay = waitDrainDelay

	if err := cmd.Start(); err != nil {
		return Result{ExitCode: -1}, &SpawnError{Tool: e.tool, Err: err}
	}

	err := cmd.Wait()
	res := Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: 0,
	}
	if err == nil {
		return res, nil
	}

	if ctx.Err() != nil {
		// CommandContext killed the child; the exit error is just the
		// signal echo.
		return res, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
		return res, nil
	}
	res.ExitCode = -1
	return res, err
}

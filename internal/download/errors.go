package download

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidConfig marks configuration rejected before synthesis.
var ErrInvalidConfig = errors.New("download: invalid config")

// SpawnError means the external tool could not be started at all. It is
// never retried and is distinct from a nonzero exit.
type SpawnError struct {
	Tool string
	Err  error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("download: spawn %q: %v", e.Tool, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// ExecutionError means the tool ran and exited nonzero on every attempt of
// the retry budget. Stderr is the capture from the final attempt.
type ExecutionError struct {
	ExitCode int
	Attempts int
	Stderr   string
}

func (e *ExecutionError) Error() string {
	msg := fmt.Sprintf("download: tool exited with code %d after %d attempt(s)", e.ExitCode, e.Attempts)
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += ": " + s
	}
	return msg
}

// TimeoutError means the caller deadline elapsed mid-execution and the
// child process was terminated.
type TimeoutError struct {
	Elapsed time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("download: deadline elapsed after %s, process terminated", e.Elapsed)
}

// VerificationError means the tool claimed success but no output artifact
// was discoverable under the destination directory.
type VerificationError struct {
	Dir    string
	Reason string
}

func (e *VerificationError) Error() string {
	return fmt.Sprintf("download: verify %q: %s", e.Dir, e.Reason)
}

// Response status codes.
const (
	StatusOK           uint32 = 0
	StatusValidation   uint32 = 1
	StatusSpawn        uint32 = 2
	StatusExecution    uint32 = 3
	StatusTimeout      uint32 = 4
	StatusVerification uint32 = 5
	StatusInternal     uint32 = 6
)

// StatusForError maps the error taxonomy onto response status codes.
func StatusForError(err error) uint32 {
	if err == nil {
		return StatusOK
	}
	var spawnErr *SpawnError
	var execErr *ExecutionError
	var timeoutErr *TimeoutError
	var verifyErr *VerificationError
	switch {
	case errors.Is(err, ErrInvalidConfig):
		return StatusValidation
	case errors.As(err, &spawnErr):
		return StatusSpawn
	case errors.As(err, &execErr):
		return StatusExecution
	case errors.As(err, &timeoutErr):
		return StatusTimeout
	case errors.As(err, &verifyErr):
		return StatusVerification
	default:
		return StatusInternal
	}
}

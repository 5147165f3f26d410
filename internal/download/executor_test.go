package download

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

func countLines(t *testing.T, path string) int {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0
		}
		t.Fatalf("read counter: %v", err)
	}
	return len(strings.Split(strings.TrimSpace(string(data)), "\n"))
}

func TestRunSuccessFirstAttempt(t *testing.T) {
	dir := t.TempDir()
	tool := writeScript(t, dir, "fake-tool", `echo "[download] Destination: $1"
echo "warn" >&2
exit 0
`)
	exe := NewExecutor(tool, zerolog.Nop())

	res, err := exe.Run(context.Background(), []string{"/downloads/out.mp3"}, 3)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", res.Attempts)
	}
	if res.ExitCode != 0 {
		t.Fatalf("expected exit 0, got %d", res.ExitCode)
	}
	if !strings.Contains(res.Stdout, "Destination: /downloads/out.mp3") {
		t.Fatalf("stdout not captured: %q", res.Stdout)
	}
	if !strings.Contains(res.Stderr, "warn") {
		t.Fatalf("stderr not captured: %q", res.Stderr)
	}
}

func TestRunRetryBudgetExhausted(t *testing.T) {
	dir := t.TempDir()
	counter := filepath.Join(dir, "attempts")
	tool := writeScript(t, dir, "failing-tool", `echo x >> "$1"
echo "fatal: no formats" >&2
exit 1
`)
	exe := NewExecutor(tool, zerolog.Nop())

	const retries = 3
	res, err := exe.Run(context.Background(), []string{counter}, retries)

	var execErr *ExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("expected ExecutionError, got %v", err)
	}
	if got := countLines(t, counter); got != retries+1 {
		t.Fatalf("expected exactly %d attempts, tool ran %d times", retries+1, got)
	}
	if res.Attempts != retries+1 || execErr.Attempts != retries+1 {
		t.Fatalf("attempt accounting mismatch: res=%d err=%d", res.Attempts, execErr.Attempts)
	}
	if execErr.ExitCode != 1 {
		t.Fatalf("expected exit code 1, got %d", execErr.ExitCode)
	}
	if !strings.Contains(execErr.Stderr, "no formats") {
		t.Fatalf("last stderr not carried: %q", execErr.Stderr)
	}
}

func TestRunZeroRetriesSingleAttempt(t *testing.T) {
	dir := t.TempDir()
	counter := filepath.Join(dir, "attempts")
	tool := writeScript(t, dir, "failing-tool", `echo x >> "$1"
exit 2
`)
	exe := NewExecutor(tool, zerolog.Nop())

	_, err := exe.Run(context.Background(), []string{counter}, 0)
	var execErr *ExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("expected ExecutionError, got %v", err)
	}
	if got := countLines(t, counter); got != 1 {
		t.Fatalf("expected a single attempt, got %d", got)
	}
}

func TestRunRecoversWithinBudget(t *testing.T) {
	dir := t.TempDir()
	counter := filepath.Join(dir, "attempts")
	// Fails twice, then succeeds.
	tool := writeScript(t, dir, "flaky-tool", `echo x >> "$1"
n=$(wc -l < "$1")
if [ "$n" -lt 3 ]; then exit 1; fi
exit 0
`)
	exe := NewExecutor(tool, zerolog.Nop())

	res, err := exe.Run(context.Background(), []string{counter}, 5)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Attempts != 3 {
		t.Fatalf("expected success on attempt 3, got %d", res.Attempts)
	}
}

func TestRunMissingToolSpawnErrorNotRetried(t *testing.T) {
	dir := t.TempDir()
	counter := filepath.Join(dir, "attempts")
	missing := filepath.Join(dir, "no-such-tool")
	exe := NewExecutor(missing, zerolog.Nop())

	_, err := exe.Run(context.Background(), []string{counter}, 4)
	var spawnErr *SpawnError
	if !errors.As(err, &spawnErr) {
		t.Fatalf("expected SpawnError, got %v", err)
	}
	if spawnErr.Tool != missing {
		t.Fatalf("spawn error must name the tool: %q", spawnErr.Tool)
	}
	if got := countLines(t, counter); got != 0 {
		t.Fatalf("spawn failure must not be retried, counter=%d", got)
	}
}

func TestRunDeadlineTerminatesChild(t *testing.T) {
	dir := t.TempDir()
	tool := writeScript(t, dir, "slow-tool", `sleep 30
exit 0
`)
	exe := NewExecutor(tool, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := exe.Run(ctx, nil, 3)
	elapsed := time.Since(start)

	var timeoutErr *TimeoutError
	if !errors.As(err, &timeoutErr) {
		t.Fatalf("expected TimeoutError, got %v", err)
	}
	if elapsed > 5*time.Second {
		t.Fatalf("child not terminated on deadline, took %s", elapsed)
	}
}

func TestRunDeadlineTerminatesGrandchildren(t *testing.T) {
	dir := t.TempDir()
	// The helper inherits the output pipes; only a process-group kill
	// unblocks the call before the helper exits on its own.
	tool := writeScript(t, dir, "forking-tool", `sleep 30 &
wait
`)
	exe := NewExecutor(tool, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := exe.Run(ctx, nil, 0)
	elapsed := time.Since(start)

	var timeoutErr *TimeoutError
	if !errors.As(err, &timeoutErr) {
		t.Fatalf("expected TimeoutError, got %v", err)
	}
	if elapsed > 10*time.Second {
		t.Fatalf("helper process kept the call blocked, took %s", elapsed)
	}
}

func TestStatusForError(t *testing.T) {
	cases := []struct {
		err  error
		want uint32
	}{
		{nil, StatusOK},
		{wrapInvalidConfig("missing link"), StatusValidation},
		{&SpawnError{Tool: "yt-dlp", Err: os.ErrNotExist}, StatusSpawn},
		{&ExecutionError{ExitCode: 1, Attempts: 4}, StatusExecution},
		{&TimeoutError{Elapsed: time.Second}, StatusTimeout},
		{&VerificationError{Dir: "/d", Reason: "empty"}, StatusVerification},
		{errors.New("unclassified"), StatusInternal},
	}
	for _, tc := range cases {
		if got := StatusForError(tc.err); got != tc.want {
			t.Fatalf("StatusForError(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}

package download

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func touch(t *testing.T, path string, mod time.Time) {
	t.Helper()
	if err := os.WriteFile(path, []byte("artifact"), 0o644); err != nil {
		t.Fatalf("write artifact: %v", err)
	}
	if err := os.Chtimes(path, mod, mod); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
}

func TestVerifyUsesReportedDestination(t *testing.T) {
	dir := t.TempDir()
	artifact := filepath.Join(dir, "track.mp3")
	touch(t, artifact, time.Now())

	cfg := Config{Link: "https://example/v", Path: dir, Type: TypeAudio}
	res := Result{Stdout: "[ExtractAudio] Destination: " + artifact + "\n"}

	got, err := Verify(cfg, res)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if got != artifact {
		t.Fatalf("resolved path mismatch: %q", got)
	}
}

func TestVerifyMergeDestination(t *testing.T) {
	dir := t.TempDir()
	artifact := filepath.Join(dir, "clip.mkv")
	touch(t, artifact, time.Now())

	cfg := Config{Link: "https://example/v", Path: dir, Type: TypeVideo}
	res := Result{Stdout: `[Merger] Merging formats into "` + artifact + `"` + "\n"}

	got, err := Verify(cfg, res)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if got != artifact {
		t.Fatalf("resolved path mismatch: %q", got)
	}
}

func TestVerifyFallsBackToNewestMatchingFile(t *testing.T) {
	dir := t.TempDir()
	old := filepath.Join(dir, "old.mp3")
	newest := filepath.Join(dir, "newest.mp3")
	other := filepath.Join(dir, "notes.txt")
	base := time.Now().Add(-time.Hour)
	touch(t, old, base)
	touch(t, newest, base.Add(30*time.Minute))
	touch(t, other, base.Add(45*time.Minute))

	cfg := Config{Link: "https://example/v", Path: dir, Type: TypeAudio}
	got, err := Verify(cfg, Result{Stdout: "no destination markers"})
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if got != newest {
		t.Fatalf("expected newest matching artifact %q, got %q", newest, got)
	}
}

func TestVerifyVideoExtensionPolicy(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "clip.webm"), time.Now())

	cfg := Config{Link: "https://example/v", Path: dir, Type: TypeVideo}
	got, err := Verify(cfg, Result{})
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if filepath.Ext(got) != ".webm" {
		t.Fatalf("unexpected artifact: %q", got)
	}
}

func TestVerifyMissingArtifact(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "unrelated.txt"), time.Now())

	cfg := Config{Link: "https://example/v", Path: dir, Type: TypeAudio}
	_, err := Verify(cfg, Result{Stdout: "tool lied about success"})

	var verifyErr *VerificationError
	if !errors.As(err, &verifyErr) {
		t.Fatalf("expected VerificationError, got %v", err)
	}
	if verifyErr.Dir != dir {
		t.Fatalf("error must carry the directory: %q", verifyErr.Dir)
	}
}

func TestVerifyRejectsPreexistingArtifacts(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "leftover.mp3"), time.Now().Add(-time.Hour))

	cfg := Config{Link: "https://example/v", Path: dir, Type: TypeAudio}
	res := Result{Stdout: "zero exit, nothing written", StartedAt: time.Now()}

	_, err := Verify(cfg, res)
	var verifyErr *VerificationError
	if !errors.As(err, &verifyErr) {
		t.Fatalf("stale artifact accepted as output: %v", err)
	}
}

func TestVerifyFallbackAcceptsFreshArtifact(t *testing.T) {
	dir := t.TempDir()
	started := time.Now()
	fresh := filepath.Join(dir, "clip.mp4")
	touch(t, filepath.Join(dir, "leftover.mp4"), started.Add(-time.Hour))
	touch(t, fresh, started.Add(time.Second))

	cfg := Config{Link: "https://example/v", Path: dir, Type: TypeVideo}
	got, err := Verify(cfg, Result{Stdout: "no markers", StartedAt: started})
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if got != fresh {
		t.Fatalf("expected fresh artifact %q, got %q", fresh, got)
	}
}

func TestVerifyStaleDestinationFallsBack(t *testing.T) {
	dir := t.TempDir()
	artifact := filepath.Join(dir, "real.mp3")
	touch(t, artifact, time.Now())

	cfg := Config{Link: "https://example/v", Path: dir, Type: TypeAudio}
	res := Result{Stdout: "[download] Destination: " + filepath.Join(dir, "ghost.mp3")}

	got, err := Verify(cfg, res)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if got != artifact {
		t.Fatalf("expected fallback to %q, got %q", artifact, got)
	}
}

package download

import (
	"os"
	"path/filepath"
	"strings"
	"time"
)

var videoExtensions = []string{".mp4", ".mkv", ".webm", ".mov", ".avi"}

// Verify confirms that a successful execution left an artifact on disk and
// resolves its concrete path. The tool's own destination report in stdout
// wins; a directory scan by extension policy is the fallback for output
// templates the tool renamed.
func Verify(cfg Config, res Result) (string, error) {
	if path, ok := destinationFromOutput(res.Stdout); ok {
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path, nil
		}
	}

	// One second of grace covers coarse filesystem timestamps.
	cutoff := res.StartedAt.Add(-time.Second)
	path, ok := newestArtifact(cfg.Path, extensionPolicy(cfg), cutoff)
	if !ok {
		return "", &VerificationError{
			Dir:    cfg.Path,
			Reason: "tool reported success but no output artifact found",
		}
	}
	return path, nil
}

// destinationFromOutput extracts the last destination the tool printed.
// yt-dlp reports plain downloads as "[download] Destination: <path>",
// audio extraction as "[ExtractAudio] Destination: <path>", and container
// merges as `[Merger] Merging formats into "<path>"`.
func destinationFromOutput(stdout string) (string, bool) {
	var dest string
	for _, line := range strings.Split(stdout, "\n") {
		line = strings.TrimSpace(line)
		if idx := strings.Index(line, "Destination: "); idx >= 0 {
			if v := strings.TrimSpace(line[idx+len("Destination: "):]); v != "" {
				dest = v
			}
			continue
		}
		if idx := strings.Index(line, "Merging formats into "); idx >= 0 {
			v := strings.TrimSpace(line[idx+len("Merging formats into "):])
			if v = strings.Trim(v, `"`); v != "" {
				dest = v
			}
		}
	}
	return dest, dest != ""
}

// extensionPolicy lists acceptable artifact extensions for cfg.
func extensionPolicy(cfg Config) []string {
	switch cfg.Type {
	case TypeAudio:
		codec := strings.TrimSpace(cfg.OutputFormat)
		if codec == "" {
			codec = DefaultAudioFormat
		}
		return []string{"." + strings.TrimPrefix(codec, ".")}
	default:
		if fmtSel := strings.TrimSpace(cfg.OutputFormat); fmtSel != "" {
			for _, ext := range videoExtensions {
				if "."+fmtSel == ext {
					return []string{ext}
				}
			}
		}
		return videoExtensions
	}
}

// newestArtifact returns the most recently modified regular file under dir
// whose extension matches the policy and whose mtime is not before cutoff.
// Files predating the run are leftovers, not this run's output.
func newestArtifact(dir string, exts []string, cutoff time.Time) (string, bool) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", false
	}

	var best string
	var bestMod time.Time
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !matchesExtension(name, exts) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		mod := info.ModTime()
		if mod.Before(cutoff) {
			continue
		}
		if best == "" || mod.After(bestMod) {
			bestMod = mod
			best = filepath.Join(dir, name)
		}
	}
	return best, best != ""
}

func matchesExtension(name string, exts []string) bool {
	lower := strings.ToLower(name)
	for _, ext := range exts {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

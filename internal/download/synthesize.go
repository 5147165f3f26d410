package download

import (
	"fmt"
	"path/filepath"
	"strings"
)

const (
	// DefaultAudioFormat is the codec applied when an audio config names
	// no output format.
	DefaultAudioFormat = "mp3"
	// DefaultVideoSelector asks the tool for the best available streams.
	DefaultVideoSelector = "bestvideo+bestaudio/best"

	outputTemplate = "%(title)s.%(ext)s"
)

// Synthesize translates cfg into the tool argument vector. It is pure and
// deterministic: identical input yields an identical vector, no filesystem
// or network access, and every user-controlled value stays one discrete
// argument so shell metacharacters cannot split into a second command.
func Synthesize(cfg Config) ([]string, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	args := make([]string, 0, 12)
	switch cfg.Type {
	case TypeAudio:
		codec := strings.TrimSpace(cfg.OutputFormat)
		if codec == "" {
			codec = DefaultAudioFormat
		}
		args = append(args, "-x", "--audio-format", codec)
	case TypeVideo:
		args = append(args, "-f", videoSelector(cfg))
	}

	if !cfg.Playlist {
		args = append(args, "--no-playlist")
	}
	if cfg.EmbedSubtitles {
		args = append(args, "--embed-subs")
	}
	if cfg.EmbedThumbnail {
		args = append(args, "--embed-thumbnail")
	}

	args = append(args, "-o", filepath.Join(cfg.Path, outputTemplate))
	args = append(args, cfg.Link)
	return args, nil
}

// videoSelector prefers a verbatim format selector; with none given, a
// non-empty resolution caps vertical height, and otherwise the tool default
// applies.
func videoSelector(cfg Config) string {
	if sel := strings.TrimSpace(cfg.OutputFormat); sel != "" {
		return sel
	}
	if res := strings.TrimSpace(cfg.Resolution); res != "" {
		return fmt.Sprintf("bestvideo[height<=%s]+bestaudio/best[height<=%s]", res, res)
	}
	return DefaultVideoSelector
}

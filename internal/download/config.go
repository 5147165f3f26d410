package download

import (
	"fmt"
	"strconv"
	"strings"
)

// Type selects the tool mode. Exactly two variants are valid; anything
// else is rejected before synthesis.
type Type string

const (
	TypeAudio Type = "audio"
	TypeVideo Type = "video"
)

// ParseType normalizes a wire string into a Type.
func ParseType(raw string) (Type, error) {
	switch Type(strings.ToLower(strings.TrimSpace(raw))) {
	case TypeAudio:
		return TypeAudio, nil
	case TypeVideo:
		return TypeVideo, nil
	default:
		return "", wrapInvalidConfig(fmt.Sprintf("unrecognized download_type %q", raw))
	}
}

// Config is the immutable per-request download configuration.
type Config struct {
	Link string
	Path string
	Type Type
	// OutputFormat is the tool-specific format selector; empty means the
	// tool default.
	OutputFormat string
	// Resolution is an optional numeric vertical-resolution cap; empty
	// means unconstrained.
	Resolution string
	// Playlist false appends the no-playlist flag; true allows full
	// playlist expansion.
	Playlist bool
	// Retries is the additional attempt budget after the first failure.
	Retries        int
	EmbedSubtitles bool
	EmbedThumbnail bool
}

// Validate enforces required fields and variant bounds.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Link) == "" {
		return wrapInvalidConfig("missing link")
	}
	if strings.TrimSpace(c.Path) == "" {
		return wrapInvalidConfig("missing path")
	}
	if c.Type != TypeAudio && c.Type != TypeVideo {
		return wrapInvalidConfig(fmt.Sprintf("unrecognized download_type %q", string(c.Type)))
	}
	if c.Retries < 0 {
		return wrapInvalidConfig("negative retries")
	}
	if res := strings.TrimSpace(c.Resolution); res != "" {
		if _, err := strconv.Atoi(res); err != nil {
			return wrapInvalidConfig(fmt.Sprintf("non-numeric resolution %q", c.Resolution))
		}
	}
	return nil
}

func wrapInvalidConfig(reason string) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, reason)
}

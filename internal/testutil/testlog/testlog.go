package testlog

import (
	"testing"

	"github.com/rs/zerolog"

	"github.com/fetchd/fetchd/internal/logging"
)

// Start configures the test logging profile and returns a logger tagged
// with the test name.
func Start(t *testing.T) zerolog.Logger {
	t.Helper()
	logging.ConfigureTests()
	return zerolog.Nop().With().Str("test", t.Name()).Logger()
}

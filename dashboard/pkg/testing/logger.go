package truckairtesting

import (
	"log/slog"
	"os"

	"github.com/acme/truckair/dashboard/pkg/logger"
)

// NewLogger returns a debug logger for tests. Output is only enabled when
// DEBUG is set so that passing test runs stay quiet.
func NewLogger() *slog.Logger {
	if os.Getenv("DEBUG") == "" {
		return slog.New(slog.DiscardHandler)
	}
	return logger.NewWithWriter(os.Stderr, true)
}

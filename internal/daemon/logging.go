package daemon

import (
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
)

// logLevel maps the -v count to a slog level. The default hides the
// per-tick debug chatter; one -v shows it.
func logLevel(verbose int) slog.Level {
	if verbose > 0 {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}

// setupLogging installs the tint handler as the default logger and
// returns it for injection into the components.
func setupLogging(verbose int) *slog.Logger {
	handler := tint.NewHandler(os.Stderr, &tint.Options{
		Level:      logLevel(verbose),
		TimeFormat: time.DateTime,
	})

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

package cli

import (
	"io"
	"log/slog"

	"github.com/roach88/loom/internal/config"
)

// newLogger builds the process logger from the log section. Verbose
// overrides the configured level with debug.
func newLogger(w io.Writer, lc config.LogConfig, verbose bool) *slog.Logger {
	level := lc.SlogLevel()
	if verbose {
		level = slog.LevelDebug
	}
	hopts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	if lc.Format == "json" {
		h = slog.NewJSONHandler(w, hopts)
	} else {
		h = slog.NewTextHandler(w, hopts)
	}
	return slog.New(h)
}

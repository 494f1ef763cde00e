package notify

import (
	"context"
	"log/slog"
)

// Log writes every event to a structured logger.
type Log struct {
	Logger *slog.Logger
	Level  slog.Level
}

// NewLog logs at debug level through logger, or slog.Default when nil.
func NewLog(logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{Logger: logger, Level: slog.LevelDebug}
}

// StatusChanged implements Notifier.
func (l *Log) StatusChanged(ctx context.Context, ev StatusEvent) error {
	l.Logger.Log(ctx, l.Level, "block status changed",
		"seq", ev.Seq,
		"block", ev.BlockID,
		"from", ev.From,
		"status", ev.Status,
	)
	return nil
}

// ContentChanged implements Notifier.
func (l *Log) ContentChanged(ctx context.Context, ev ContentEvent) error {
	refs := make([]string, len(ev.Changed))
	for i, r := range ev.Changed {
		refs[i] = r.String()
	}
	l.Logger.Log(ctx, l.Level, "block content changed",
		"seq", ev.Seq,
		"block", ev.BlockID,
		"source", ev.Source,
		"entities", refs,
		"fields", ev.Fields,
		"ops", len(ev.Operations),
	)
	return nil
}

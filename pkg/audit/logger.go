package audit

import (
	"context"
	"log/slog"
)

// Recorder is what Logger needs from a Store.
type Recorder interface {
	Record(ctx context.Context, ev *Event) error
}

// Logger emits a structured line for every event and, when a store is
// configured, persists it. A nil store only logs.
type Logger struct {
	store Recorder
	log   *slog.Logger
}

// NewLogger creates an audit logger. store may be nil.
func NewLogger(store Recorder, log *slog.Logger) *Logger {
	if log == nil {
		log = slog.Default()
	}
	return &Logger{store: store, log: log}
}

// Persistent reports whether events reach a store.
func (l *Logger) Persistent() bool {
	return l.store != nil
}

// Record persists and logs ev. Store failures are logged and returned; the
// caller decides whether they matter.
func (l *Logger) Record(ctx context.Context, ev *Event) error {
	if l.store != nil {
		if err := l.store.Record(ctx, ev); err != nil {
			l.log.ErrorContext(ctx, "audit record failed",
				"event_id", ev.EventID,
				"aws_region", ev.Region,
				"error", err,
			)
			return err
		}
	}

	outcome := "success"
	if !ev.Result.OK() {
		outcome = "failure"
	}
	l.log.InfoContext(ctx, "directory_event recorded",
		"event_id", ev.EventID,
		"caller_id", ev.CallerID,
		"action", string(ev.Action),
		"aws_region", ev.Region,
		"directory_id", ev.DirectoryID,
		"outcome", outcome,
		"error_kind", string(ev.Result.Kind),
		"duration_ms", ev.DurationMS,
		"hash", ev.Hash,
	)
	return nil
}

package audit

import (
	"context"
	"log/slog"
	"time"
)

// Notifier receives committed audit entries, e.g. for live event feeds.
type Notifier interface {
	Notify(e *Entry)
}

// Recorder is the write side used by services. It fills in actor context,
// swallows logger failures, and fans entries out to an optional notifier.
//
// A nil *Recorder is valid and records nothing, so services can treat
// auditing as optional wiring.
type Recorder struct {
	logger   Logger
	log      *slog.Logger
	notifier Notifier
	onError  func() // metrics hook, called when an append fails
}

// NewRecorder creates a best-effort audit recorder.
func NewRecorder(logger Logger, log *slog.Logger) *Recorder {
	return &Recorder{logger: logger, log: log}
}

// WithNotifier attaches a notifier that observes committed entries.
func (r *Recorder) WithNotifier(n Notifier) *Recorder {
	if r == nil {
		return nil
	}
	r.notifier = n
	return r
}

// WithErrorHook attaches a callback invoked when an audit write fails.
func (r *Recorder) WithErrorHook(fn func()) *Recorder {
	if r == nil {
		return nil
	}
	r.onError = fn
	return r
}

// Record appends an audit entry. Actor identity, IP and request ID come
// from the context. Append failures are logged and counted, never returned:
// an audit outage must not block settlement.
func (r *Recorder) Record(ctx context.Context, entry *Entry) {
	if r == nil || r.logger == nil {
		return
	}

	actorType, actorID, ip, requestID := actorFromCtx(ctx)
	if entry.ActorType == "" {
		entry.ActorType = actorType
	}
	if entry.ActorID == "" {
		entry.ActorID = actorID
	}
	entry.IPAddress = ip
	entry.RequestID = requestID
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	if err := r.logger.Append(ctx, entry); err != nil {
		if r.onError != nil {
			r.onError()
		}
		if r.log != nil {
			r.log.Warn("audit append failed",
				"action", entry.Action,
				"entity_type", entry.EntityType,
				"entity_id", entry.EntityID,
				"error", err)
		}
		return
	}

	if r.notifier != nil {
		r.notifier.Notify(entry)
	}
}

// Search exposes the underlying logger's query surface.
func (r *Recorder) Search(ctx context.Context, q Query) ([]*Entry, error) {
	if r == nil || r.logger == nil {
		return nil, nil
	}
	return r.logger.Search(ctx, q)
}

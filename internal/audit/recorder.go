package audit

import (
	"context"
	"encoding/json"
	"time"

	"guardia.org/internal/ids"
	"guardia.org/internal/obs"
)

// Store appends immutable audit records.
type Store interface {
	Append(ctx context.Context, rec *Record) error
}

// Recorder persists audit records and mirrors each one as a structured JSON
// log line. Writes are synchronous: a failing store write propagates to the
// caller and aborts the audited operation.
type Recorder struct {
	store Store
	now   func() time.Time
}

// Option configures Recorder behavior.
type Option func(*Recorder)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(r *Recorder) {
		if fn != nil {
			r.now = fn
		}
	}
}

// NewRecorder constructs a Recorder backed by the given store.
func NewRecorder(store Store, opts ...Option) *Recorder {
	r := &Recorder{store: store, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Record assigns the row identity, persists the record and emits the log
// line.
func (r *Recorder) Record(ctx context.Context, rec *Record) error {
	if rec.ID == "" {
		rec.ID = ids.New()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = r.now().UTC()
	}
	if err := r.store.Append(ctx, rec); err != nil {
		return err
	}
	r.emit(rec)
	return nil
}

func (r *Recorder) emit(rec *Record) {
	entry := map[string]any{
		"ts":     rec.Timestamp.Format(time.RFC3339Nano),
		"type":   "audit",
		"entity": rec.EntityName,
		"action": string(rec.Action),
		"result": string(rec.Result),
	}
	if rec.EntityID != "" {
		entry["entity_id"] = rec.EntityID
	}
	if rec.UserID != "" {
		entry["user_id"] = rec.UserID
	}
	if rec.Username != "" {
		entry["username"] = rec.Username
	}
	if rec.ClientIP != "" {
		entry["client_ip"] = rec.ClientIP
	}
	if rec.Description != "" {
		entry["description"] = rec.Description
	}
	if rec.ErrorMessage != "" {
		entry["error"] = rec.ErrorMessage
	}
	data, err := json.Marshal(entry)
	if err != nil {
		obs.Logger().Println(`{"type":"audit","error":"marshal failed"}`)
		return
	}
	obs.Logger().Println(string(data))
}

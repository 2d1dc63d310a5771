package eventlog

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/juju/errors"
)

// ErrUnavailable reports that the backing log cannot be reached. It is
// transient: callers retry on their next cycle.
const ErrUnavailable = errors.ConstError("event log unavailable")

// Cursor is an opaque, log-assigned position within one subject. Cursors are
// compared for equality only.
type Cursor string

// Beginning is the cursor before the first event of every subject.
const Beginning Cursor = "0"

// Kind names the type of an event and of the frame that carries it.
type Kind string

const (
	KindConnected    Kind = "connected"
	KindProgress     Kind = "progress"
	KindStatus       Kind = "status"
	KindCompleted    Kind = "completed"
	KindFailed       Kind = "failed"
	KindError        Kind = "error"
	KindHeartbeat    Kind = "heartbeat"
	KindTimeout      Kind = "timeout"
	KindCancelled    Kind = "cancelled"
	KindNotification Kind = "notification"
	KindDisconnected Kind = "disconnected"
)

// Terminal reports whether k ends the subject's lifecycle.
func (k Kind) Terminal() bool {
	return k == KindCompleted || k == KindFailed
}

// Event is one entry of a subject's log.
type Event struct {
	ID         Cursor         `json:"id"`
	SubjectKey string         `json:"subject_key"`
	Timestamp  time.Time      `json:"timestamp"`
	Type       Kind           `json:"type"`
	Payload    map[string]any `json:"payload,omitempty"`
}

// Log is an append-only, per-subject ordered event log.
type Log interface {
	// Append durably stores ev after every event previously appended under
	// subjectKey and returns the cursor the log assigned to it.
	Append(ctx context.Context, subjectKey string, ev Event) (Cursor, error)

	// ReadAfter returns up to maxCount events strictly after cursor, in
	// order. When none are available it waits up to block for one to
	// arrive and returns an empty slice on timeout.
	ReadAfter(ctx context.Context, subjectKey string, cursor Cursor, block time.Duration, maxCount int) ([]Event, error)

	// Ping reports whether the log is reachable.
	Ping(ctx context.Context) error

	Close() error
}

// EncodePayload serialises a payload for storage.
func EncodePayload(p map[string]any) ([]byte, error) {
	if len(p) == 0 {
		return []byte("{}"), nil
	}
	b, err := json.Marshal(p)
	return b, errors.Annotate(err, "encode payload")
}

// DecodePayload is the inverse of EncodePayload.
func DecodePayload(b []byte) (map[string]any, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var p map[string]any
	if err := json.Unmarshal(b, &p); err != nil {
		return nil, errors.Annotate(err, "decode payload")
	}
	return p, nil
}

// Unavailable wraps a backend failure so that errors.Is(err, ErrUnavailable)
// holds while the original message is kept.
func Unavailable(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return errors.Annotatef(ErrUnavailable, "%s: %v", fmt.Sprintf(format, args...), err)
}

// NormalizeCursor maps the empty cursor to Beginning.
func NormalizeCursor(c Cursor) Cursor {
	if c == "" {
		return Beginning
	}
	return c
}

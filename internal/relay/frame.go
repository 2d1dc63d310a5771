package relay

import (
	"net/url"
	"sort"
	"strings"

	"github.com/drewthekiiid/pipai-sub002/internal/eventlog"
)

// Frame is one unit pushed to a consumer.
type Frame struct {
	Event eventlog.Kind  `json:"event"`
	ID    string         `json:"id,omitempty"`
	Data  map[string]any `json:"data"`
}

// Sink writes frames to one consumer. A Send error means the consumer is gone.
type Sink interface {
	Send(f Frame) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(f Frame) error

func (fn SinkFunc) Send(f Frame) error { return fn(f) }

// EncodeFrameID renders the resume token for a set of cursors. A single
// subject uses its raw cursor; several subjects use subject=cursor pairs.
func EncodeFrameID(subjects []string, cursors map[string]eventlog.Cursor) string {
	if len(subjects) == 1 {
		return string(eventlog.NormalizeCursor(cursors[subjects[0]]))
	}
	v := url.Values{}
	for _, s := range subjects {
		v.Set(s, string(eventlog.NormalizeCursor(cursors[s])))
	}
	return v.Encode()
}

// DecodeFrameID is the inverse of EncodeFrameID. Subjects missing from id
// start at the beginning.
func DecodeFrameID(id string, subjects []string) map[string]eventlog.Cursor {
	out := make(map[string]eventlog.Cursor, len(subjects))
	for _, s := range subjects {
		out[s] = eventlog.Beginning
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return out
	}
	if strings.Contains(id, "=") {
		if v, err := url.ParseQuery(id); err == nil {
			for _, s := range subjects {
				if c := v.Get(s); c != "" {
					out[s] = eventlog.Cursor(c)
				}
			}
			return out
		}
	}
	if len(subjects) == 1 {
		out[subjects[0]] = eventlog.Cursor(id)
	}
	return out
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

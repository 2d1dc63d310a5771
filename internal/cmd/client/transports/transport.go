// Package transports provides pluggable stream transports for the CLI.
package transports

import (
	"context"
	"net/url"
	"strings"
)

// Frame is one event received from a relay stream.
type Frame struct {
	ID    string         `json:"id,omitempty"`
	Event string         `json:"event"`
	Data  map[string]any `json:"data"`
}

// Ending reports whether the server closes the stream after f.
func (f Frame) Ending() bool { return f.Event == "disconnected" }

// TailRequest describes one stream subscription.
type TailRequest struct {
	// Kind is workflow, file or user.
	Kind string
	ID   string
	// LastEventID resumes after a previously received frame id.
	LastEventID string
	// From is "latest" to skip history when LastEventID is empty.
	From string
	// Filter is a CEL expression evaluated server side.
	Filter string
	// WorkflowID attaches the engine job to a file stream.
	WorkflowID string
}

func (r TailRequest) query() url.Values {
	q := url.Values{}
	if r.From != "" {
		q.Set("from", r.From)
	}
	if r.Filter != "" {
		q.Set("filter", r.Filter)
	}
	if r.WorkflowID != "" {
		q.Set("workflow_id", r.WorkflowID)
	}
	return q
}

// StreamTransport abstracts how the CLI reads a relay stream (SSE or websocket).
type StreamTransport interface {
	// Tail delivers frames to onFrame until the server ends the stream, ctx
	// is done, or onFrame returns an error. ErrStop from onFrame ends the
	// stream without error.
	Tail(ctx context.Context, req TailRequest, onFrame func(Frame) error) error
}

// streamURL joins base, the transport prefix and the stream path.
func streamURL(base, prefix string, req TailRequest) string {
	u := strings.TrimRight(base, "/") + prefix + "/" + url.PathEscape(req.Kind) + "/" + url.PathEscape(req.ID)
	if q := req.query().Encode(); q != "" {
		u += "?" + q
	}
	return u
}

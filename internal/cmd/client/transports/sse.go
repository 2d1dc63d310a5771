package transports

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
)

// SSETransport reads streams over Server-Sent Events. A connection that
// drops before the server's disconnected frame is re-established with the
// last received id.
type SSETransport struct {
	BaseURL string
	Client  *http.Client
	// Retries bounds consecutive failed reconnects; 0 disables reconnecting.
	Retries int
	// Backoff is the wait before the first reconnect; it doubles up to 5s.
	Backoff time.Duration
	Clock   clock.Clock
}

var _ StreamTransport = (*SSETransport)(nil)

// NewSSETransport returns a transport with reconnects enabled.
func NewSSETransport(baseURL string) *SSETransport {
	return &SSETransport{BaseURL: baseURL, Retries: 5, Backoff: 250 * time.Millisecond}
}

// Tail implements StreamTransport.
func (t *SSETransport) Tail(ctx context.Context, req TailRequest, onFrame func(Frame) error) error {
	client := t.Client
	if client == nil {
		client = http.DefaultClient
	}
	clk := t.Clock
	if clk == nil {
		clk = clock.WallClock
	}
	backoff := t.Backoff
	failures := 0
	for {
		received, err := t.once(ctx, client, &req, onFrame)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, ErrStop):
			return nil
		case ctx.Err() != nil:
			return ctx.Err()
		}
		var se *StatusError
		if errors.As(err, &se) && !se.Retryable() {
			return err
		}
		if received {
			failures, backoff = 0, t.Backoff
		}
		if failures >= t.Retries {
			return err
		}
		failures++
		select {
		case <-clk.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
		if backoff *= 2; backoff > 5*time.Second {
			backoff = 5 * time.Second
		}
	}
}

// once runs one connection. It returns nil after the server's disconnected
// frame and io.ErrUnexpectedEOF when the stream ends without one. req's
// LastEventID tracks the newest frame id.
func (t *SSETransport) once(ctx context.Context, client *http.Client, req *TailRequest, onFrame func(Frame) error) (bool, error) {
	hreq, err := http.NewRequestWithContext(ctx, http.MethodGet, streamURL(t.BaseURL, "/v1/stream", *req), nil)
	if err != nil {
		return false, errors.Trace(err)
	}
	hreq.Header.Set("Accept", "text/event-stream")
	if req.LastEventID != "" {
		hreq.Header.Set("Last-Event-ID", req.LastEventID)
	}
	resp, err := client.Do(hreq)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false, statusError(resp)
	}

	received := false
	ended := false
	err = ReadEvents(resp.Body, func(f Frame) error {
		received = true
		if f.ID != "" {
			req.LastEventID = f.ID
		}
		if err := onFrame(f); err != nil {
			return err
		}
		if f.Ending() {
			ended = true
			return ErrStop
		}
		return nil
	})
	if ended {
		return received, nil
	}
	if err == nil {
		err = io.ErrUnexpectedEOF
	}
	return received, err
}

// ReadEvents parses an event stream from r and calls fn per dispatched
// event. An event is dispatched at the blank line that ends it; one still
// open when r reaches EOF is discarded. Data that is not a JSON object is
// delivered under the "raw" key.
func ReadEvents(r io.Reader, fn func(Frame) error) error {
	br := bufio.NewReader(r)
	var (
		f    Frame
		data []string
	)
	for {
		line, err := br.ReadString('\n')
		if err != nil && (err != io.EOF || line == "") {
			if err == io.EOF {
				return nil
			}
			return err
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			if len(data) > 0 || f.Event != "" {
				f.Data = decodeData(strings.Join(data, "\n"))
				if f.Event == "" {
					f.Event = "message"
				}
				if err := fn(f); err != nil {
					return err
				}
			}
			f, data = Frame{ID: f.ID}, nil
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			f.Event = value
		case "data":
			data = append(data, value)
		case "id":
			f.ID = value
		}
	}
}

func decodeData(s string) map[string]any {
	if s == "" {
		return map[string]any{}
	}
	var m map[string]any
	if json.Unmarshal([]byte(s), &m) == nil && m != nil {
		return m
	}
	return map[string]any{"raw": s}
}

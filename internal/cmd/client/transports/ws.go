package transports

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/juju/errors"
)

// WSTransport reads streams over a websocket. Cancelling ctx asks the
// server to cancel the session and waits up to DrainTimeout for its final
// frames.
type WSTransport struct {
	BaseURL      string
	Dialer       *websocket.Dialer
	DrainTimeout time.Duration
}

var _ StreamTransport = (*WSTransport)(nil)

// NewWSTransport returns a websocket transport for an http(s) base URL.
func NewWSTransport(baseURL string) *WSTransport {
	return &WSTransport{BaseURL: baseURL, Dialer: websocket.DefaultDialer, DrainTimeout: 2 * time.Second}
}

func wsBase(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base
}

// Tail implements StreamTransport.
func (t *WSTransport) Tail(ctx context.Context, req TailRequest, onFrame func(Frame) error) error {
	dialer := t.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	u := wsBase(streamURL(t.BaseURL, "/v1/ws", req))
	hdr := http.Header{}
	if req.LastEventID != "" {
		hdr.Set("Last-Event-ID", req.LastEventID)
	}
	conn, resp, err := dialer.DialContext(ctx, u, hdr)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			return statusError(resp)
		}
		return err
	}
	defer conn.Close()

	var once sync.Once
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			once.Do(func() {
				_ = conn.SetWriteDeadline(time.Now().Add(time.Second))
				_ = conn.WriteJSON(map[string]string{"type": "cancel"})
				_ = conn.SetReadDeadline(time.Now().Add(t.DrainTimeout))
			})
		case <-done:
		}
	}()

	for {
		var f Frame
		if err := conn.ReadJSON(&f); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return errors.Trace(err)
		}
		if err := onFrame(f); err != nil {
			if errors.Is(err, ErrStop) {
				return nil
			}
			return err
		}
		if f.Ending() {
			return nil
		}
	}
}

package controllers

import (
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/drewthekiiid/pipai-sub002/internal/relay"
	logpkg "github.com/drewthekiiid/pipai-sub002/pkg/log"
)

// wsSink writes relay frames as JSON websocket messages.
type wsSink struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
	logger       logpkg.Logger
	mu           sync.Mutex
}

func (s *wsSink) Send(f relay.Frame) error {
	_, msg := marshalFrame(f, func(f relay.Frame) any { return f }, s.logger)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writeTimeout > 0 {
		_ = s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	}
	return s.conn.WriteMessage(websocket.TextMessage, msg)
}

// closeNormal sends a close message. Errors are ignored; the peer may be gone.
func (s *wsSink) closeNormal() {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
}

// clientMessage is the only message a websocket client sends.
type clientMessage struct {
	Type string `json:"type"`
}

// readPump reads client messages until the connection fails. A cancel
// message drains the session; a read error reports the client gone.
func readPump(conn *websocket.Conn, cancel func(), gone func()) {
	defer gone()
	for {
		var msg clientMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		if msg.Type == "cancel" {
			cancel()
		}
	}
}

// originChecker accepts same-host requests and the configured origins.
func originChecker(allowed []string) func(r *http.Request) bool {
	hosts := make(map[string]bool, len(allowed))
	anyOrigin := false
	for _, o := range allowed {
		if o == "*" {
			anyOrigin = true
			continue
		}
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			hosts[u.Host] = true
		}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || anyOrigin {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		return u.Host == r.Host || hosts[u.Host]
	}
}

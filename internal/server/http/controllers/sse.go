package controllers

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/drewthekiiid/pipai-sub002/internal/eventlog"
	"github.com/drewthekiiid/pipai-sub002/internal/relay"
	logpkg "github.com/drewthekiiid/pipai-sub002/pkg/log"
)

// sseSink writes relay frames as Server-Sent Events.
//
// Each frame is one event block with id, event and data lines, flushed
// immediately. A frame that cannot be written within writeTimeout fails the
// send, which closes the session.
type sseSink struct {
	w            http.ResponseWriter
	rc           *http.ResponseController
	writeTimeout time.Duration
	logger       logpkg.Logger
	buf          bytes.Buffer
}

func newSSESink(w http.ResponseWriter, writeTimeout time.Duration, logger logpkg.Logger) *sseSink {
	if logger == nil {
		logger = logpkg.NewNop()
	}
	return &sseSink{w: w, rc: http.NewResponseController(w), writeTimeout: writeTimeout, logger: logger}
}

// start writes the stream headers.
func (s *sseSink) start() error {
	h := s.w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	s.w.WriteHeader(http.StatusOK)
	return s.flush()
}

// Send formats and sends a frame as one SSE event.
func (s *sseSink) Send(f relay.Frame) error {
	f, data := marshalFrame(f, frameData, s.logger)
	s.buf.Reset()
	if f.ID != "" {
		s.buf.WriteString("id: ")
		s.buf.WriteString(f.ID)
		s.buf.WriteByte('\n')
	}
	s.buf.WriteString("event: ")
	s.buf.WriteString(string(f.Event))
	s.buf.WriteString("\ndata: ")
	s.buf.Write(data)
	s.buf.WriteString("\n\n")

	if s.writeTimeout > 0 {
		if err := s.rc.SetWriteDeadline(time.Now().Add(s.writeTimeout)); err != nil && !errors.Is(err, http.ErrNotSupported) {
			return err
		}
	}
	if _, err := s.w.Write(s.buf.Bytes()); err != nil {
		return err
	}
	return s.flush()
}

func (s *sseSink) flush() error {
	if err := s.rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
		return err
	}
	return nil
}

func frameData(f relay.Frame) any { return f.Data }

// marshalFrame encodes part(f) as JSON. A frame whose data cannot be encoded
// is replaced by an error frame carrying the encoding failure.
func marshalFrame(f relay.Frame, part func(relay.Frame) any, logger logpkg.Logger) (relay.Frame, []byte) {
	b, err := json.Marshal(part(f))
	if err == nil {
		return f, b
	}
	if logger == nil {
		logger = logpkg.NewNop()
	}
	logger.Warn("stream.encode_failed", logpkg.Str("event", string(f.Event)), logpkg.Str("id", f.ID), logpkg.Err(err))
	f = relay.Frame{
		Event: eventlog.KindError,
		ID:    f.ID,
		Data:  map[string]any{"error": "encode frame: " + err.Error()},
	}
	b, _ = json.Marshal(part(f))
	return f, b
}

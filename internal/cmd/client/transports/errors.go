package transports

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/juju/errors"
)

// ErrStop may be returned by a frame callback to end a tail cleanly.
const ErrStop = errors.ConstError("stop tailing")

// StatusError is a non-2xx answer to a stream request.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("relay: %d %s: %s", e.Code, http.StatusText(e.Code), e.Message)
}

// Retryable reports whether reconnecting may succeed.
func (e *StatusError) Retryable() bool {
	return e.Code >= 500 && e.Code != http.StatusNotImplemented
}

func statusError(resp *http.Response) error {
	var body struct {
		Error string `json:"error"`
	}
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
	if json.Unmarshal(b, &body) != nil || body.Error == "" {
		body.Error = string(b)
	}
	return &StatusError{Code: resp.StatusCode, Message: body.Error}
}

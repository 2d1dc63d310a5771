package relay

import "github.com/juju/errors"

const (
	// ErrClientGone reports that the consumer can no longer be written to.
	// It ends the session silently.
	ErrClientGone = errors.ConstError("client gone")

	// ErrSessionActive is returned when a singleton session id is taken.
	ErrSessionActive = errors.ConstError("session already active")
)

// ClientGone wraps a sink write failure as ErrClientGone.
func ClientGone(err error) error {
	if err == nil || errors.Is(err, ErrClientGone) {
		return err
	}
	return errors.Annotatef(ErrClientGone, "%v", err)
}

package relay

import (
	"errors"
	"fmt"
)

var (
	// ErrConnectionClosed is returned by operations that observe connection
	// teardown, including publishes that were in flight when the client
	// stopped.
	ErrConnectionClosed = errors.New("relay connection closed")

	// ErrTimedOut is returned when the relay does not acknowledge a
	// published event within the publish timeout.
	ErrTimedOut = errors.New("timed out waiting for relay acknowledgment")
)

// PublishError is a relay-side rejection of a published event, e.g. an
// invalid signature, rate limit, or policy refusal.
type PublishError struct {
	Reason string
}

func (e *PublishError) Error() string {
	if e.Reason == "" {
		return "relay rejected event"
	}
	return fmt.Sprintf("relay rejected event: %s", e.Reason)
}

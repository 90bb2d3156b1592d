package relay

import (
	"sync"

	"github.com/paleoquota/paleoquota/types"
)

// Subscription is a handle on one live relay subscription.
type Subscription struct {
	id     string
	client *Client

	eose      chan struct{}
	eoseOnce  sync.Once
	closeOnce sync.Once
}

// ID returns the subscription identifier sent to the relay.
func (s *Subscription) ID() string { return s.id }

// EOSE returns a channel that is closed when the relay signals the end of
// its stored-event backfill. Live events keep flowing afterwards; delivery
// order across the backfill/live boundary is not guaranteed.
func (s *Subscription) EOSE() <-chan struct{} { return s.eose }

// Close unregisters the callback and asks the relay to stop the stream. The
// callback will not be invoked for events dispatched after Close returns.
// Safe to call multiple times and after the client has stopped.
func (s *Subscription) Close() error {
	s.closeOnce.Do(func() {
		// unregister first so no event is delivered into a torn-down consumer
		s.client.removeSub(s.id)

		frame, err := types.EncodeClose(s.id)
		if err != nil {
			s.client.logger.Error("failed to encode CLOSE", "err", err)
			return
		}
		// best effort: if the connection is already gone the relay will
		// drop the subscription with it
		select {
		case s.client.send <- frame:
		case <-s.client.Quit():
		}
	})
	return nil
}

func (s *Subscription) markEOSE() {
	s.eoseOnce.Do(func() { close(s.eose) })
}

package feed

import (
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/paleoquota/paleoquota/types"
)

var (
	// ErrUnsubscribed is returned by Err when the subscription was closed,
	// either explicitly or because the reconciler shut down.
	ErrUnsubscribed = errors.New("feed subscriber unsubscribed")

	// ErrOutOfCapacity is returned by Err when the subscriber is not
	// pulling updates fast enough. The subscription is terminated.
	ErrOutOfCapacity = errors.New("feed subscriber is not pulling updates fast enough")
)

// A Subscription is a feed-change notification hook: every post inserted
// into the feed is delivered on Out. A subscription consists of the output
// channel, a channel closed on termination, and an error naming the reason.
type Subscription struct {
	id  string
	out chan types.Post

	canceled chan struct{}
	mtx      sync.RWMutex
	err      error
}

func newSubscription(outCapacity int) *Subscription {
	return &Subscription{
		id:       uuid.NewString(),
		out:      make(chan types.Post, outCapacity),
		canceled: make(chan struct{}),
	}
}

// Out returns the channel onto which inserted posts are published. It is
// never closed, to keep a racing receive from observing a zero Post; select
// on Canceled instead.
func (s *Subscription) Out() <-chan types.Post { return s.out }

// ID returns the unique identifier of the subscription.
func (s *Subscription) ID() string { return s.id }

// Canceled returns a channel that is closed when the subscription
// terminates; it is meant for use in a select statement.
func (s *Subscription) Canceled() <-chan struct{} { return s.canceled }

// Err returns nil while the subscription is live. After Canceled is closed,
// it reports why: ErrUnsubscribed or ErrOutOfCapacity.
func (s *Subscription) Err() error {
	s.mtx.RLock()
	defer s.mtx.RUnlock()
	return s.err
}

func (s *Subscription) cancel(err error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	if s.err == nil {
		s.err = err
	}
	close(s.canceled)
}

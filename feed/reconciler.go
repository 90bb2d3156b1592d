// Package feed owns the canonical in-memory post feed: it merges the
// durable cache with the relay's live event stream into one ordered,
// deduplicated sequence and applies local submissions to both.
package feed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/paleoquota/paleoquota/crypto"
	"github.com/paleoquota/paleoquota/libs/log"
	"github.com/paleoquota/paleoquota/libs/service"
	"github.com/paleoquota/paleoquota/types"
)

// ErrEmptyPost is returned by SubmitPost when the content is empty after
// trimming.
var ErrEmptyPost = errors.New("post content is empty")

// defaultSubCapacity is the buffer of a feed-update subscription; a
// subscriber that falls this far behind is canceled with ErrOutOfCapacity.
const defaultSubCapacity = 64

// Store is the durable cache collaborator.
type Store interface {
	Load() ([]types.Post, error)
	Append(types.Post) error
}

// Relay is the relay connection collaborator. Subscribe registers cb for
// inbound events and returns a handle that stops delivery when closed;
// Publish blocks until the relay acknowledges the event or fails.
type Relay interface {
	Subscribe(ctx context.Context, filter types.Filter, cb func(types.Event)) (io.Closer, error)
	Publish(ctx context.Context, ev types.Event) error
}

// Reconciler merges the cache and the live stream into the feed and is the
// only component that mutates it. Both mutation paths, remote insert and
// local submission, run under one critical section spanning the dedup check
// and the insert, so an echo racing a local submit can never produce a
// duplicate entry.
type Reconciler struct {
	service.BaseService
	logger log.Logger

	store   Store
	relay   Relay
	metrics *Metrics

	// session identity; nil means a fresh unlinkable keypair per post
	identity *crypto.Identity

	mtx      sync.Mutex
	feed     []types.Post             // newest first
	seen     map[string]struct{}      // dedup keys of everything in feed
	feedSubs map[string]*Subscription // feed-update subscribers

	relaySub io.Closer
}

// Option configures a Reconciler; constructor use only.
type Option func(*Reconciler)

// WithMetrics sets the metrics sink.
func WithMetrics(m *Metrics) Option {
	return func(r *Reconciler) { r.metrics = m }
}

// WithIdentity pins one signing identity for the whole session instead of
// generating an unlinkable keypair per submission.
func WithIdentity(id crypto.Identity) Option {
	return func(r *Reconciler) { r.identity = &id }
}

// NewReconciler returns a reconciler over the given collaborators. A nil
// store disables persistence but keeps the feed fully functional.
func NewReconciler(logger log.Logger, store Store, relay Relay, options ...Option) *Reconciler {
	r := &Reconciler{
		logger:   logger,
		store:    store,
		relay:    relay,
		metrics:  NopMetrics(),
		seen:     make(map[string]struct{}),
		feedSubs: make(map[string]*Subscription),
	}
	r.BaseService = *service.NewBaseService(logger, "FeedReconciler", r)
	for _, option := range options {
		option(r)
	}
	return r
}

// OnStart implements service.Implementation: it seeds the feed from the
// cache and opens the live subscription. Neither a failing cache nor a
// failing relay is fatal; the feed degrades instead of crashing.
func (r *Reconciler) OnStart(ctx context.Context) error {
	r.seedFromStore()

	sub, err := r.relay.Subscribe(ctx, types.TextNoteFilter(), r.onRemoteEvent)
	if err != nil {
		r.logger.Error("cannot subscribe to relay; feed is local-only", "err", err)
		return nil
	}
	r.relaySub = sub
	return nil
}

// OnStop implements service.Implementation: it tears down the relay
// subscription and cancels all feed subscribers.
func (r *Reconciler) OnStop() {
	if r.relaySub != nil {
		if err := r.relaySub.Close(); err != nil {
			r.logger.Error("error closing relay subscription", "err", err)
		}
	}

	r.mtx.Lock()
	defer r.mtx.Unlock()
	for id, sub := range r.feedSubs {
		sub.cancel(ErrUnsubscribed)
		delete(r.feedSubs, id)
	}
}

func (r *Reconciler) seedFromStore() {
	if r.store == nil {
		return
	}
	posts, err := r.store.Load()
	if err != nil {
		r.logger.Error("cannot load cached posts; starting with an empty feed", "err", err)
		return
	}

	r.mtx.Lock()
	defer r.mtx.Unlock()
	for _, p := range posts {
		if _, dup := r.seen[p.Key()]; dup {
			continue
		}
		r.feed = append(r.feed, p)
		r.seen[p.Key()] = struct{}{}
	}
	r.metrics.Size.Set(float64(len(r.feed)))
	r.logger.Info("seeded feed from cache", "posts", len(r.feed))
}

// onRemoteEvent converts an inbound event into a post and merges it.
// Events with an invalid signature are dropped before reconciliation; a
// post already present, most commonly the echo of a local submission, is a
// no-op.
func (r *Reconciler) onRemoteEvent(ev types.Event) {
	ok, err := crypto.VerifyEvent(ev)
	if err != nil || !ok {
		r.logger.Debug("dropping event with invalid signature", "event_id", ev.ID, "err", err)
		r.metrics.InvalidSignatures.Add(1)
		return
	}

	p := types.PostFromEvent(ev)

	r.mtx.Lock()
	if _, dup := r.seen[p.Key()]; dup {
		r.mtx.Unlock()
		r.metrics.DuplicatesDropped.Add(1)
		return
	}
	r.insertLocked(p)
	r.mtx.Unlock()

	r.persist(p)
}

// SubmitPost signs and publishes content as a new post. On success the post
// is appended to the cache and prepended to the feed before the relay echo
// arrives. On publish failure nothing is committed anywhere and the error
// is returned for user-visible retry; there is no automatic retry.
func (r *Reconciler) SubmitPost(ctx context.Context, content string) (types.Post, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return types.Post{}, ErrEmptyPost
	}

	ident, err := r.sessionIdentity()
	if err != nil {
		return types.Post{}, err
	}

	ev := types.NewTextNote(ident.PubKey, content, types.Now())
	if err := crypto.SignEvent(&ev, ident.PrivKey); err != nil {
		return types.Post{}, fmt.Errorf("sign post: %w", err)
	}

	if err := r.relay.Publish(ctx, ev); err != nil {
		return types.Post{}, fmt.Errorf("publish post: %w", err)
	}

	p := types.PostFromEvent(ev)

	r.mtx.Lock()
	if _, dup := r.seen[p.Key()]; !dup {
		r.insertLocked(p)
	}
	r.mtx.Unlock()

	r.persist(p)
	r.metrics.PostsSubmitted.Add(1)
	r.logger.Info("published post", "event_id", ev.ID, "author", p.AuthorPubKey)
	return p, nil
}

// Snapshot returns a copy of the feed, newest first.
func (r *Reconciler) Snapshot() []types.Post {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	out := make([]types.Post, len(r.feed))
	copy(out, r.feed)
	return out
}

// Updates registers a feed-change subscriber. Every post inserted into the
// feed after this call is delivered on the subscription's Out channel.
func (r *Reconciler) Updates() *Subscription {
	sub := newSubscription(defaultSubCapacity)
	r.mtx.Lock()
	r.feedSubs[sub.id] = sub
	r.mtx.Unlock()
	return sub
}

// Unsubscribe removes a feed-change subscriber.
func (r *Reconciler) Unsubscribe(sub *Subscription) {
	r.mtx.Lock()
	_, ok := r.feedSubs[sub.id]
	delete(r.feedSubs, sub.id)
	r.mtx.Unlock()
	if ok {
		sub.cancel(ErrUnsubscribed)
	}
}

// insertLocked prepends p and notifies subscribers. Callers hold r.mtx and
// have already checked the dedup key.
func (r *Reconciler) insertLocked(p types.Post) {
	r.feed = append([]types.Post{p}, r.feed...)
	r.seen[p.Key()] = struct{}{}
	r.metrics.Size.Set(float64(len(r.feed)))

	for id, sub := range r.feedSubs {
		select {
		case sub.out <- p:
		default:
			sub.cancel(ErrOutOfCapacity)
			delete(r.feedSubs, id)
		}
	}
}

func (r *Reconciler) persist(p types.Post) {
	if r.store == nil {
		return
	}
	if err := r.store.Append(p); err != nil {
		r.logger.Error("cannot cache post", "err", err)
	}
}

func (r *Reconciler) sessionIdentity() (crypto.Identity, error) {
	if r.identity != nil {
		return *r.identity, nil
	}
	id, err := crypto.GenIdentity()
	if err != nil {
		return crypto.Identity{}, fmt.Errorf("generate post identity: %w", err)
	}
	return id, nil
}

// Package relay implements the client side of the JSON-array-framed relay
// wire protocol over a persistent websocket: one multiplexed connection
// carries subscriptions and publishes for the lifetime of the client.
package relay

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/paleoquota/paleoquota/libs/log"
	"github.com/paleoquota/paleoquota/libs/service"
	"github.com/paleoquota/paleoquota/types"
)

const (
	defaultWriteWait      = 10 * time.Second
	defaultReadWait       = 0
	defaultPingPeriod     = 0
	defaultPublishTimeout = 10 * time.Second

	// inbound events buffered between the read routine and the dispatch
	// routine; when full, reads apply backpressure
	eventQueueSize = 64
)

// Callback is invoked once per matching inbound event, in arrival order, on
// the client's dispatch routine. It must not perform long synchronous work.
type Callback func(types.Event)

type subEntry struct {
	sub    *Subscription
	cb     Callback
	filter types.Filter
}

// Client is a websocket client for a single relay endpoint. The methods of
// Client are safe for use by multiple goroutines. A Client is good for one
// logical session: once stopped it cannot be restarted.
type Client struct {
	service.BaseService
	logger log.Logger

	url  string
	conn *websocket.Conn

	metrics *Metrics

	send   chan []byte         // outbound frames, consumed by writeRoutine
	events chan types.EventMsg // inbound events, consumed by dispatchRoutine

	readRoutineQuit chan struct{} // a way for readRoutine to close writeRoutine

	wg sync.WaitGroup

	mtx     sync.Mutex
	subs    map[string]subEntry
	pending map[string]chan types.OKMsg // event id -> publish ack

	// Time allowed to write a frame to the relay. 0 means block until the
	// operation succeeds.
	writeWait time.Duration

	// Time allowed to read the next frame from the relay. 0 means block
	// until the operation succeeds.
	readWait time.Duration

	// Send pings to the relay with this period. Must be less than readWait.
	// If 0, no pings are sent.
	pingPeriod time.Duration

	// Time to wait for the relay's OK acknowledgment of a published event.
	publishTimeout time.Duration
}

// New returns a client for the relay at url (a ws:// or wss:// endpoint).
// See the Option funcs for tuning timeouts; the connection is established by
// Start.
func New(logger log.Logger, url string, options ...Option) *Client {
	c := &Client{
		logger:         logger,
		url:            url,
		metrics:        NopMetrics(),
		subs:           make(map[string]subEntry),
		pending:        make(map[string]chan types.OKMsg),
		writeWait:      defaultWriteWait,
		readWait:       defaultReadWait,
		pingPeriod:     defaultPingPeriod,
		publishTimeout: defaultPublishTimeout,
	}
	c.BaseService = *service.NewBaseService(logger, "RelayClient", c)
	for _, option := range options {
		option(c)
	}
	return c
}

// Option configures a Client. Options should only be used in the
// constructor and are not goroutine-safe.
type Option func(*Client)

// WithMetrics sets the metrics sink.
func WithMetrics(m *Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WriteWait sets the amount of time to wait before a websocket write times out.
func WriteWait(writeWait time.Duration) Option {
	return func(c *Client) { c.writeWait = writeWait }
}

// ReadWait sets the amount of time to wait before a websocket read times out.
func ReadWait(readWait time.Duration) Option {
	return func(c *Client) { c.readWait = readWait }
}

// PingPeriod sets the duration for sending websocket pings.
func PingPeriod(pingPeriod time.Duration) Option {
	return func(c *Client) { c.pingPeriod = pingPeriod }
}

// PublishTimeout sets how long Publish waits for the relay's acknowledgment.
func PublishTimeout(d time.Duration) Option {
	return func(c *Client) { c.publishTimeout = d }
}

// String returns the relay endpoint address.
func (c *Client) String() string {
	return fmt.Sprintf("RelayClient(%s)", c.url)
}

// OnStart implements service.Implementation by dialing the relay and
// spawning the read, write and dispatch routines.
func (c *Client) OnStart(ctx context.Context) error {
	if err := c.dial(ctx); err != nil {
		return fmt.Errorf("connect to relay %s: %w", c.url, err)
	}

	c.send = make(chan []byte)
	c.events = make(chan types.EventMsg, eventQueueSize)
	c.readRoutineQuit = make(chan struct{})

	c.wg.Add(3)
	go c.readRoutine()
	go c.writeRoutine()
	go c.dispatchRoutine()

	return nil
}

// OnStop implements service.Implementation. Closing the socket unblocks the
// read routine; the write and dispatch routines exit on the quit channel.
// Pending publishes fail with ErrConnectionClosed.
func (c *Client) OnStop() {
	_ = c.conn.Close()
}

// Stop shuts the client down and waits for the read, write and dispatch
// routines to exit, so no callback is running once it returns.
func (c *Client) Stop() error {
	if err := c.BaseService.Stop(); err != nil {
		return err
	}
	c.wg.Wait()
	return nil
}

func (c *Client) dial(ctx context.Context) error {
	dialer := *websocket.DefaultDialer
	conn, _, err := dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return err
	}
	c.conn = conn
	return nil
}

// Subscribe sends a subscription request for the filter and registers cb for
// matching inbound events, for the lifetime of the connection or until the
// returned subscription is closed.
func (c *Client) Subscribe(ctx context.Context, filter types.Filter, cb Callback) (*Subscription, error) {
	if !c.IsRunning() {
		return nil, ErrConnectionClosed
	}

	sub := &Subscription{
		id:     uuid.NewString(),
		client: c,
		eose:   make(chan struct{}),
	}
	frame, err := types.EncodeReq(sub.id, filter)
	if err != nil {
		return nil, err
	}

	// register before sending so no event can arrive unrouted
	c.mtx.Lock()
	c.subs[sub.id] = subEntry{sub: sub, cb: cb, filter: filter}
	c.mtx.Unlock()

	if err := c.sendFrame(ctx, frame); err != nil {
		c.removeSub(sub.id)
		return nil, err
	}

	c.logger.Debug("subscribed", "subscription", sub.id, "filter", filter)
	return sub, nil
}

// Publish sends the event and waits for the relay's acceptance or rejection.
// The event must be signed. Rejection yields a *PublishError, a missing
// acknowledgment ErrTimedOut, and client teardown ErrConnectionClosed; a
// pending publish never hangs on a closed connection.
func (c *Client) Publish(ctx context.Context, ev types.Event) error {
	if ev.ID == "" || ev.Sig == "" {
		return fmt.Errorf("publish: event is not signed")
	}
	if !c.IsRunning() {
		return ErrConnectionClosed
	}

	frame, err := types.EncodeEvent(ev)
	if err != nil {
		return err
	}

	// register the ack slot before sending so a fast OK cannot be missed
	ack := make(chan types.OKMsg, 1)
	c.mtx.Lock()
	c.pending[ev.ID] = ack
	c.mtx.Unlock()
	defer func() {
		c.mtx.Lock()
		delete(c.pending, ev.ID)
		c.mtx.Unlock()
	}()

	if err := c.sendFrame(ctx, frame); err != nil {
		c.metrics.PublishesFailed.Add(1)
		return err
	}

	timer := time.NewTimer(c.publishTimeout)
	defer timer.Stop()

	select {
	case ok := <-ack:
		if !ok.Accepted {
			c.metrics.PublishesFailed.Add(1)
			return &PublishError{Reason: ok.Message}
		}
		c.metrics.PublishesAccepted.Add(1)
		return nil
	case <-timer.C:
		c.metrics.PublishesFailed.Add(1)
		return ErrTimedOut
	case <-ctx.Done():
		c.metrics.PublishesFailed.Add(1)
		return ctx.Err()
	case <-c.Quit():
		c.metrics.PublishesFailed.Add(1)
		return ErrConnectionClosed
	}
}

func (c *Client) sendFrame(ctx context.Context, frame []byte) error {
	select {
	case c.send <- frame:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.Quit():
		return ErrConnectionClosed
	}
}

func (c *Client) removeSub(id string) {
	c.mtx.Lock()
	delete(c.subs, id)
	c.mtx.Unlock()
}

// The client ensures that there is at most one writer to a connection by
// executing all writes from this routine.
func (c *Client) writeRoutine() {
	var ticker *time.Ticker
	if c.pingPeriod > 0 {
		ticker = time.NewTicker(c.pingPeriod)
	} else {
		// ticker that never fires
		ticker = &time.Ticker{C: make(<-chan time.Time)}
	}

	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.wg.Done()
	}()

	for {
		select {
		case frame := <-c.send:
			if c.writeWait > 0 {
				if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeWait)); err != nil {
					c.logger.Error("failed to set write deadline", "err", err)
				}
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.logger.Error("failed to send frame", "err", err)
				c.stopForError(err)
				return
			}
		case <-ticker.C:
			if c.writeWait > 0 {
				if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeWait)); err != nil {
					c.logger.Error("failed to set write deadline", "err", err)
				}
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, []byte{}); err != nil {
				c.logger.Error("failed to write ping", "err", err)
				c.stopForError(err)
				return
			}
			c.logger.Debug("sent ping")
		case <-c.readRoutineQuit:
			return
		case <-c.Quit():
			if err := c.conn.WriteMessage(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			); err != nil {
				c.logger.Debug("failed to write close frame", "err", err)
			}
			return
		}
	}
}

// The client ensures that there is at most one reader to a connection by
// executing all reads from this routine.
func (c *Client) readRoutine() {
	defer func() {
		c.conn.Close()
		c.wg.Done()
	}()

	c.conn.SetPongHandler(func(string) error {
		c.logger.Debug("got pong")
		return nil
	})

	for {
		// reset deadline for every message type (control or data)
		if c.readWait > 0 {
			if err := c.conn.SetReadDeadline(time.Now().Add(c.readWait)); err != nil {
				c.logger.Error("failed to set read deadline", "err", err)
			}
		}
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			// reads fail during teardown because OnStop closes the socket;
			// anything else is a connection failure
			if !c.IsRunning() || websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return
			}

			c.logger.Error("failed to read frame", "err", err)
			close(c.readRoutineQuit)
			c.stopForError(err)
			return
		}

		msg, err := types.DecodeMessage(data)
		if err != nil {
			// a misbehaving relay can send anything; drop it
			c.logger.Debug("dropping malformed frame", "err", err, "data", string(data))
			c.metrics.FramesDropped.Add(1)
			continue
		}

		switch m := msg.(type) {
		case types.EventMsg:
			select {
			case c.events <- m:
			case <-c.Quit():
				return
			}
		case types.OKMsg:
			c.mtx.Lock()
			ack, ok := c.pending[m.EventID]
			c.mtx.Unlock()
			if !ok {
				c.logger.Debug("dropping OK for unknown event", "event_id", m.EventID)
				c.metrics.FramesDropped.Add(1)
				continue
			}
			// the slot holds one verdict; a duplicate OK, or one racing a
			// publisher that already gave up, must not block reads
			select {
			case ack <- m:
			default:
				c.logger.Debug("dropping surplus OK", "event_id", m.EventID)
				c.metrics.FramesDropped.Add(1)
			}
		case types.EOSEMsg:
			c.mtx.Lock()
			entry, ok := c.subs[m.SubID]
			c.mtx.Unlock()
			if ok {
				entry.sub.markEOSE()
			}
			c.logger.Debug("end of stored events", "subscription", m.SubID)
		case types.NoticeMsg:
			c.logger.Info("notice from relay", "message", m.Message)
		}
	}
}

// dispatchRoutine delivers inbound events to subscription callbacks, one at
// a time, in arrival order. Callbacks run here rather than on the read
// routine so slow consumers do not stall the socket.
func (c *Client) dispatchRoutine() {
	defer c.wg.Done()

	for {
		select {
		case msg := <-c.events:
			if err := msg.Event.ValidateBasic(); err != nil {
				c.logger.Debug("dropping invalid event", "err", err)
				c.metrics.FramesDropped.Add(1)
				continue
			}

			c.mtx.Lock()
			entry, ok := c.subs[msg.SubID]
			c.mtx.Unlock()
			if !ok {
				// subscription torn down while the event was queued
				c.metrics.FramesDropped.Add(1)
				continue
			}
			if !entry.filter.Matches(msg.Event) {
				// relays apply filters server-side; guard against one
				// that streams events the subscription never asked for
				c.logger.Debug("dropping event outside subscription filter", "event_id", msg.Event.ID)
				c.metrics.FramesDropped.Add(1)
				continue
			}

			c.metrics.EventsReceived.Add(1)
			entry.cb(msg.Event)
		case <-c.Quit():
			return
		}
	}
}

// stopForError stops the client after a read or write failure. It runs in
// its own goroutine because Stop synchronously invokes OnStop.
func (c *Client) stopForError(err error) {
	c.logger.Error("connection failed; stopping client", "err", err)
	go func() {
		if err := c.Stop(); err != nil && err != service.ErrAlreadyStopped {
			c.logger.Error("error stopping client", "err", err)
		}
	}()
}

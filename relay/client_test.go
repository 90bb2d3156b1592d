package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/paleoquota/paleoquota/crypto"
	"github.com/paleoquota/paleoquota/libs/log"
	"github.com/paleoquota/paleoquota/types"
)

// publish handling modes of the fake relay
const (
	modeAccept = "accept"
	modeReject = "reject"
	modeSilent = "silent"
)

// fakeRelay is an in-process relay speaking just enough of the wire
// protocol for the client tests: it answers EVENT frames according to mode
// and lets the test push events down the most recent subscription.
type fakeRelay struct {
	upgrader websocket.Upgrader
	mode     string

	mtx      sync.Mutex
	conn     *websocket.Conn
	subID    string
	subReady chan struct{}
}

func newFakeRelay(mode string) *fakeRelay {
	return &fakeRelay{
		upgrader: websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024},
		mode:     mode,
		subReady: make(chan struct{}),
	}
}

func (h *fakeRelay) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		panic(err)
	}
	defer conn.Close()

	h.mtx.Lock()
	h.conn = conn
	h.mtx.Unlock()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var arr []json.RawMessage
		if err := json.Unmarshal(data, &arr); err != nil || len(arr) < 2 {
			continue
		}
		var label string
		if err := json.Unmarshal(arr[0], &label); err != nil {
			continue
		}

		switch label {
		case types.LabelReq:
			h.mtx.Lock()
			if err := json.Unmarshal(arr[1], &h.subID); err == nil {
				select {
				case <-h.subReady:
				default:
					close(h.subReady)
				}
			}
			h.mtx.Unlock()
		case types.LabelEvent:
			var ev types.Event
			if err := json.Unmarshal(arr[1], &ev); err != nil {
				continue
			}
			switch h.mode {
			case modeAccept:
				h.write([]interface{}{types.LabelOK, ev.ID, true, ""})
			case modeReject:
				h.write([]interface{}{types.LabelOK, ev.ID, false, "blocked: spam"})
			case modeSilent:
			}
		}
	}
}

func (h *fakeRelay) write(frame interface{}) {
	h.mtx.Lock()
	defer h.mtx.Unlock()
	if h.conn != nil {
		_ = h.conn.WriteJSON(frame)
	}
}

// sendEvent pushes an event down the live subscription.
func (h *fakeRelay) sendEvent(t *testing.T, ev types.Event) {
	t.Helper()
	select {
	case <-h.subReady:
	case <-time.After(5 * time.Second):
		t.Fatal("no subscription arrived at the fake relay")
	}
	h.mtx.Lock()
	subID := h.subID
	h.mtx.Unlock()
	h.write([]interface{}{types.LabelEvent, subID, ev})
}

func startClient(t *testing.T, addr string, options ...Option) *Client {
	t.Helper()
	c := New(log.NewTestingLogger(t), "ws://"+addr, options...)
	require.NoError(t, c.Start(context.Background()))
	t.Cleanup(func() { _ = c.Stop() })
	return c
}

func signedNote(t *testing.T, content string) types.Event {
	t.Helper()
	id, err := crypto.GenIdentity()
	require.NoError(t, err)
	ev := types.NewTextNote(id.PubKey, content, types.Now())
	require.NoError(t, crypto.SignEvent(&ev, id.PrivKey))
	return ev
}

func TestClientSubscribeReceivesEventsInOrder(t *testing.T) {
	defer leaktest.CheckTimeout(t, 10*time.Second)()

	h := newFakeRelay(modeAccept)
	s := httptest.NewServer(h)
	defer s.Close()

	c := startClient(t, s.Listener.Addr().String())

	received := make(chan types.Event, 4)
	_, err := c.Subscribe(context.Background(), types.TextNoteFilter(), func(ev types.Event) {
		received <- ev
	})
	require.NoError(t, err)

	first := signedNote(t, "first")
	second := signedNote(t, "second")
	h.sendEvent(t, first)
	h.sendEvent(t, second)

	require.Equal(t, first, waitEvent(t, received))
	require.Equal(t, second, waitEvent(t, received))

	require.NoError(t, c.Stop())
	c.Wait()
}

func TestClientDropsMalformedInboundEvents(t *testing.T) {
	h := newFakeRelay(modeAccept)
	s := httptest.NewServer(h)
	defer s.Close()

	c := startClient(t, s.Listener.Addr().String())

	received := make(chan types.Event, 4)
	_, err := c.Subscribe(context.Background(), types.TextNoteFilter(), func(ev types.Event) {
		received <- ev
	})
	require.NoError(t, err)

	// wrong kind: dropped before dispatch
	bad := signedNote(t, "bad")
	bad.Kind = 7
	h.sendEvent(t, bad)

	good := signedNote(t, "good")
	h.sendEvent(t, good)

	require.Equal(t, good, waitEvent(t, received))
	require.Empty(t, received)
}

func TestClientSubscribeFilterGuard(t *testing.T) {
	h := newFakeRelay(modeAccept)
	s := httptest.NewServer(h)
	defer s.Close()

	c := startClient(t, s.Listener.Addr().String())

	id, err := crypto.GenIdentity()
	require.NoError(t, err)
	filter := types.Filter{
		Kinds:   []int{types.KindTextNote},
		Authors: []string{id.PubKey},
	}

	received := make(chan types.Event, 4)
	_, err = c.Subscribe(context.Background(), filter, func(ev types.Event) {
		received <- ev
	})
	require.NoError(t, err)

	// a sloppy relay streams an event the filter never asked for
	h.sendEvent(t, signedNote(t, "outsider"))

	mine := types.NewTextNote(id.PubKey, "mine", types.Now())
	require.NoError(t, crypto.SignEvent(&mine, id.PrivKey))
	h.sendEvent(t, mine)

	require.Equal(t, mine, waitEvent(t, received))
	require.Empty(t, received)
}

func TestClientStopWaitsForCallbacks(t *testing.T) {
	h := newFakeRelay(modeAccept)
	s := httptest.NewServer(h)
	defer s.Close()

	c := startClient(t, s.Listener.Addr().String())

	entered := make(chan struct{})
	release := make(chan struct{})
	_, err := c.Subscribe(context.Background(), types.TextNoteFilter(), func(types.Event) {
		close(entered)
		<-release
	})
	require.NoError(t, err)

	h.sendEvent(t, signedNote(t, "gm"))
	select {
	case <-entered:
	case <-time.After(5 * time.Second):
		t.Fatal("callback never entered")
	}

	stopped := make(chan error, 1)
	go func() { stopped <- c.Stop() }()

	select {
	case <-stopped:
		t.Fatal("Stop returned while a callback was still running")
	case <-time.After(200 * time.Millisecond):
	}

	close(release)
	select {
	case err := <-stopped:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Stop never returned after the callback finished")
	}
}

func TestClientDropsSurplusOK(t *testing.T) {
	h := newFakeRelay(modeAccept)
	s := httptest.NewServer(h)
	defer s.Close()

	c := startClient(t, s.Listener.Addr().String())

	received := make(chan types.Event, 4)
	_, err := c.Subscribe(context.Background(), types.TextNoteFilter(), func(ev types.Event) {
		received <- ev
	})
	require.NoError(t, err)

	select {
	case <-h.subReady:
	case <-time.After(5 * time.Second):
		t.Fatal("no subscription arrived at the fake relay")
	}

	// a publisher registered a verdict slot and went away without draining
	// it; two OK frames for that event must not wedge the read routine
	ack := make(chan types.OKMsg, 1)
	c.mtx.Lock()
	c.pending["e1"] = ack
	c.mtx.Unlock()

	h.write([]interface{}{types.LabelOK, "e1", true, ""})
	h.write([]interface{}{types.LabelOK, "e1", true, ""})

	good := signedNote(t, "still flowing")
	h.sendEvent(t, good)
	require.Equal(t, good, waitEvent(t, received))
}

func TestClientSubscriptionEOSE(t *testing.T) {
	h := newFakeRelay(modeAccept)
	s := httptest.NewServer(h)
	defer s.Close()

	c := startClient(t, s.Listener.Addr().String())

	sub, err := c.Subscribe(context.Background(), types.TextNoteFilter(), func(types.Event) {})
	require.NoError(t, err)

	select {
	case <-h.subReady:
	case <-time.After(5 * time.Second):
		t.Fatal("no subscription arrived at the fake relay")
	}
	h.mtx.Lock()
	subID := h.subID
	h.mtx.Unlock()
	h.write([]interface{}{types.LabelEOSE, subID})

	select {
	case <-sub.EOSE():
	case <-time.After(5 * time.Second):
		t.Fatal("end of stored events never signaled")
	}
}

func TestClientSubscriptionClose(t *testing.T) {
	h := newFakeRelay(modeAccept)
	s := httptest.NewServer(h)
	defer s.Close()

	c := startClient(t, s.Listener.Addr().String())

	received := make(chan types.Event, 4)
	sub, err := c.Subscribe(context.Background(), types.TextNoteFilter(), func(ev types.Event) {
		received <- ev
	})
	require.NoError(t, err)
	require.NoError(t, sub.Close())

	h.sendEvent(t, signedNote(t, "late"))

	// no delivery into a closed subscription
	select {
	case ev := <-received:
		t.Fatalf("unexpected delivery after close: %v", ev)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestClientPublishAccepted(t *testing.T) {
	defer leaktest.CheckTimeout(t, 10*time.Second)()

	h := newFakeRelay(modeAccept)
	s := httptest.NewServer(h)
	defer s.Close()

	c := startClient(t, s.Listener.Addr().String())
	require.NoError(t, c.Publish(context.Background(), signedNote(t, "gm")))

	require.NoError(t, c.Stop())
	c.Wait()
}

func TestClientPublishRejected(t *testing.T) {
	h := newFakeRelay(modeReject)
	s := httptest.NewServer(h)
	defer s.Close()

	c := startClient(t, s.Listener.Addr().String())

	err := c.Publish(context.Background(), signedNote(t, "gm"))
	var pubErr *PublishError
	require.ErrorAs(t, err, &pubErr)
	require.Equal(t, "blocked: spam", pubErr.Reason)
}

func TestClientPublishTimeout(t *testing.T) {
	h := newFakeRelay(modeSilent)
	s := httptest.NewServer(h)
	defer s.Close()

	c := startClient(t, s.Listener.Addr().String(), PublishTimeout(100*time.Millisecond))

	err := c.Publish(context.Background(), signedNote(t, "gm"))
	require.ErrorIs(t, err, ErrTimedOut)
}

func TestClientPublishUnsignedEvent(t *testing.T) {
	h := newFakeRelay(modeAccept)
	s := httptest.NewServer(h)
	defer s.Close()

	c := startClient(t, s.Listener.Addr().String())

	ev := types.NewTextNote("aa", "gm", types.Now())
	require.Error(t, c.Publish(context.Background(), ev))
}

func TestClientStopFailsPendingPublish(t *testing.T) {
	h := newFakeRelay(modeSilent)
	s := httptest.NewServer(h)
	defer s.Close()

	c := startClient(t, s.Listener.Addr().String(), PublishTimeout(10*time.Second))

	errCh := make(chan error, 1)
	go func() {
		errCh <- c.Publish(context.Background(), signedNote(t, "gm"))
	}()

	// let the publish reach the wire, then tear the connection down
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, c.Stop())

	select {
	case err := <-errCh:
		require.ErrorIs(t, err, ErrConnectionClosed)
	case <-time.After(5 * time.Second):
		t.Fatal("pending publish hung across connection teardown")
	}
}

func TestClientStopIsIdempotent(t *testing.T) {
	h := newFakeRelay(modeAccept)
	s := httptest.NewServer(h)
	defer s.Close()

	c := startClient(t, s.Listener.Addr().String())
	require.NoError(t, c.Stop())
	require.Error(t, c.Stop()) // already stopped, but no panic or hang
}

func TestClientConnectFailure(t *testing.T) {
	c := New(log.NewTestingLogger(t), "ws://127.0.0.1:0")
	err := c.Start(context.Background())
	require.Error(t, err)
	require.False(t, c.IsRunning())
}

func TestClientSubscribeAfterStop(t *testing.T) {
	h := newFakeRelay(modeAccept)
	s := httptest.NewServer(h)
	defer s.Close()

	c := startClient(t, s.Listener.Addr().String())
	require.NoError(t, c.Stop())

	_, err := c.Subscribe(context.Background(), types.TextNoteFilter(), func(types.Event) {})
	require.ErrorIs(t, err, ErrConnectionClosed)

	err = c.Publish(context.Background(), signedNote(t, "gm"))
	require.ErrorIs(t, err, ErrConnectionClosed)
}

func waitEvent(t *testing.T, ch <-chan types.Event) types.Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event")
		return types.Event{}
	}
}

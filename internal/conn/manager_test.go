package conn

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DoyleJ11/live-match-sync/internal/types"
)

var errDialRefused = errors.New("dial refused")

type fakeTransport struct {
	in     chan []byte
	out    chan []byte
	once   sync.Once
	closed chan struct{}
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{in: make(chan []byte, 16), out: make(chan []byte, 16), closed: make(chan struct{})}
}

func (f *fakeTransport) Read(ctx context.Context) ([]byte, error) {
	select {
	case b := <-f.in:
		return b, nil
	case <-f.closed:
		return nil, errors.New("transport closed")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *fakeTransport) Write(ctx context.Context, data []byte) error {
	f.out <- data
	return nil
}

func (f *fakeTransport) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeTransport) isClosed() bool {
	select {
	case <-f.closed:
		return true
	default:
		return false
	}
}

// fakeDialer hands out transports in order; it refuses while fail > 0.
type fakeDialer struct {
	mu         sync.Mutex
	fail       int
	dials      atomic.Int32
	transports chan *fakeTransport
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{transports: make(chan *fakeTransport, 16)}
}

func (d *fakeDialer) Dial(ctx context.Context) (Transport, error) {
	d.dials.Add(1)
	d.mu.Lock()
	if d.fail > 0 {
		d.fail--
		d.mu.Unlock()
		return nil, errDialRefused
	}
	d.mu.Unlock()
	t := newFakeTransport()
	d.transports <- t
	return t, nil
}

func recvTransport(t *testing.T, d *fakeDialer, within time.Duration) *fakeTransport {
	t.Helper()
	select {
	case tr := <-d.transports:
		return tr
	case <-time.After(within):
		t.Fatalf("timed out waiting for dial")
		return nil
	}
}

func envelope(t *testing.T, event string, v any) []byte {
	t.Helper()
	raw, err := types.NewEnvelope(event, v)
	require.NoError(t, err)
	return raw
}

func waitFor(t *testing.T, within time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(within)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not met: %s", msg)
}

func TestManager_RefCountKeepsConnectionAlive(t *testing.T) {
	d := newFakeDialer()
	m := NewManager(d, Options{ReconnectDelay: 20 * time.Millisecond})

	c1 := m.Acquire()
	c2 := m.Acquire()
	tr := recvTransport(t, d, time.Second)
	waitFor(t, time.Second, m.Connected, "connected")
	assert.Equal(t, int32(1), d.dials.Load(), "one shared connection")

	c2.Release()
	assert.Equal(t, 1, m.Refs())
	assert.False(t, tr.isClosed(), "2 -> 1 keeps the socket")

	c1.Release()
	assert.Equal(t, 0, m.Refs())
	assert.True(t, tr.isClosed(), "1 -> 0 closes the socket")
	assert.False(t, m.Connected())

	c1.Release()
	assert.Equal(t, 0, m.Refs(), "double release is ignored")

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, int32(1), d.dials.Load(), "a released connection is never redialed")
}

func TestManager_DispatchesByEventName(t *testing.T) {
	d := newFakeDialer()
	m := NewManager(d, Options{ReconnectDelay: 20 * time.Millisecond})
	c := m.Acquire()
	defer c.Release()

	got := make(chan string, 4)
	c.On("team-points-patch", func(data json.RawMessage) { got <- "points:" + string(data) })
	c.On("full-match-update", func(data json.RawMessage) { got <- "full" })

	tr := recvTransport(t, d, time.Second)
	tr.in <- envelope(t, "team-points-patch", map[string]int{"placementPoints": 3})
	tr.in <- []byte("not json")
	tr.in <- envelope(t, "full-match-update", map[string]string{"matchId": "m1"})

	assert.Equal(t, `points:{"placementPoints":3}`, <-got)
	assert.Equal(t, "full", <-got)
}

func TestManager_ReconnectsAfterAbnormalDrop(t *testing.T) {
	d := newFakeDialer()
	m := NewManager(d, Options{ReconnectDelay: 20 * time.Millisecond})
	c := m.Acquire()
	defer c.Release()

	var connects, disconnects atomic.Int32
	c.On(types.EventConnect, func(json.RawMessage) { connects.Add(1) })
	c.On(types.EventDisconnect, func(json.RawMessage) { disconnects.Add(1) })

	first := recvTransport(t, d, time.Second)
	waitFor(t, time.Second, m.Connected, "first connect")

	first.Close() // server-side drop
	waitFor(t, time.Second, func() bool { return disconnects.Load() == 1 }, "disconnect dispatched")

	second := recvTransport(t, d, time.Second)
	waitFor(t, time.Second, m.Connected, "reconnected")
	assert.Equal(t, int32(2), d.dials.Load())
	assert.GreaterOrEqual(t, connects.Load(), int32(1))

	got := make(chan struct{}, 1)
	c.On("team-field-patch", func(json.RawMessage) { got <- struct{}{} })
	second.in <- envelope(t, "team-field-patch", map[string]string{})
	select {
	case <-got:
	case <-time.After(time.Second):
		t.Fatalf("listener did not survive reconnect")
	}
}

func TestManager_RetriesFailedDials(t *testing.T) {
	d := newFakeDialer()
	d.fail = 2
	m := NewManager(d, Options{ReconnectDelay: 10 * time.Millisecond})
	c := m.Acquire()
	defer c.Release()

	recvTransport(t, d, time.Second)
	waitFor(t, time.Second, m.Connected, "connected after retries")
	assert.Equal(t, int32(3), d.dials.Load())
}

func TestManager_NoReconnectOnceReleased(t *testing.T) {
	d := newFakeDialer()
	d.fail = 1
	m := NewManager(d, Options{ReconnectDelay: 30 * time.Millisecond})
	c := m.Acquire()

	waitFor(t, time.Second, func() bool { return d.dials.Load() == 1 }, "first dial")
	c.Release()

	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, int32(1), d.dials.Load(), "pending reconnect cancelled at zero refs")
}

func TestConn_ReleaseDetachesListeners(t *testing.T) {
	d := newFakeDialer()
	m := NewManager(d, Options{ReconnectDelay: 20 * time.Millisecond})
	keep := m.Acquire()
	defer keep.Release()
	gone := m.Acquire()

	var kept, dropped atomic.Int32
	keep.On("bulk-player-patch", func(json.RawMessage) { kept.Add(1) })
	gone.On("bulk-player-patch", func(json.RawMessage) { dropped.Add(1) })
	gone.Release()

	off := gone.On("bulk-player-patch", func(json.RawMessage) { dropped.Add(1) })
	off()

	tr := recvTransport(t, d, time.Second)
	tr.in <- envelope(t, "bulk-player-patch", map[string]string{})
	waitFor(t, time.Second, func() bool { return kept.Load() == 1 }, "kept listener called")
	assert.Equal(t, int32(0), dropped.Load())
}

func TestConn_Emit(t *testing.T) {
	d := newFakeDialer()
	d.fail = 1
	m := NewManager(d, Options{ReconnectDelay: 30 * time.Millisecond})
	c := m.Acquire()
	defer c.Release()

	err := c.Emit(context.Background(), types.EventJoinMatch, types.JoinMatch{MatchID: "m1"})
	assert.ErrorIs(t, err, ErrNotConnected)

	tr := recvTransport(t, d, time.Second)
	waitFor(t, time.Second, c.Connected, "connected")
	require.NoError(t, c.Emit(context.Background(), types.EventJoinMatch, types.JoinMatch{MatchID: "m1"}))

	var env types.Envelope
	require.NoError(t, json.Unmarshal(<-tr.out, &env))
	assert.Equal(t, types.EventJoinMatch, env.Event)
	assert.JSONEq(t, `{"matchId":"m1"}`, string(env.Data))
}

func TestWebsocketDialer_RoundTrip(t *testing.T) {
	joined := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close(websocket.StatusNormalClosure, "bye")

		ctx := r.Context()
		_, data, err := c.Read(ctx)
		if err != nil {
			return
		}
		var env types.Envelope
		if json.Unmarshal(data, &env) == nil {
			joined <- env.Event
		}
		payload, _ := types.NewEnvelope("team-points-patch", map[string]any{"matchId": "m1", "teamId": "A", "placementPoints": 9})
		_ = c.Write(ctx, websocket.MessageText, payload)
		_, _, _ = c.Read(ctx)
	}))
	defer srv.Close()

	m := NewManager(WebsocketDialer{URL: "ws" + strings.TrimPrefix(srv.URL, "http")}, Options{ReconnectDelay: time.Second})
	c := m.Acquire()
	defer c.Release()

	got := make(chan json.RawMessage, 1)
	c.On("team-points-patch", func(data json.RawMessage) { got <- data })
	go func() {
		deadline := time.Now().Add(2 * time.Second)
		for time.Now().Before(deadline) {
			if c.Emit(context.Background(), types.EventJoinMatch, types.JoinMatch{MatchID: "m1"}) == nil {
				return
			}
			time.Sleep(5 * time.Millisecond)
		}
	}()

	select {
	case ev := <-joined:
		assert.Equal(t, types.EventJoinMatch, ev)
	case <-time.After(2 * time.Second):
		t.Fatalf("server never saw join")
	}
	select {
	case data := <-got:
		e, err := types.DecodeEvent("team-points-patch", data)
		require.NoError(t, err)
		assert.Equal(t, 9, *e.Team.PlacementPoints)
	case <-time.After(2 * time.Second):
		t.Fatalf("client never received patch")
	}
}

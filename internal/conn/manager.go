package conn

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/live-match-sync/internal/types"
)

var ErrNotConnected = errors.New("not connected")

const (
	DefaultReconnectDelay = 3 * time.Second
	DefaultDialTimeout    = 10 * time.Second
)

// Handler receives the raw data of one event. Handlers run on the
// connection's read goroutine, in arrival order, and must not block.
type Handler func(data json.RawMessage)

type Options struct {
	ReconnectDelay time.Duration
	DialTimeout    time.Duration
	Logger         *zap.Logger
}

type session struct {
	t      Transport
	ctx    context.Context
	cancel context.CancelFunc
}

// Manager owns the one event-stream connection of the process. Consumers
// Acquire a handle and Release it when done; the transport is closed when the
// last handle is released. Abnormal drops are retried after a fixed delay for
// as long as any handle is held.
type Manager struct {
	dialer Dialer
	delay  time.Duration
	dialTO time.Duration
	log    *zap.Logger

	mu         sync.Mutex
	refs       int
	gen        uint64
	session    *session
	connecting bool
	reconnect  *time.Timer
	listeners  map[string]map[uint64]Handler
	nextID     uint64
}

func NewManager(d Dialer, opts Options) *Manager {
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = DefaultReconnectDelay
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = DefaultDialTimeout
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Manager{
		dialer:    d,
		delay:     opts.ReconnectDelay,
		dialTO:    opts.DialTimeout,
		log:       opts.Logger.Named("conn"),
		listeners: make(map[string]map[uint64]Handler),
	}
}

// Acquire increments the reference count and returns a handle to the shared
// connection, starting a dial if the connection is down. It never fails:
// dial errors are logged and retried.
func (m *Manager) Acquire() *Conn {
	m.mu.Lock()
	m.refs++
	if m.session == nil && !m.connecting {
		if m.reconnect != nil {
			m.reconnect.Stop()
			m.reconnect = nil
		}
		m.connecting = true
		go m.connect(m.gen)
	}
	m.mu.Unlock()
	return &Conn{m: m}
}

func (m *Manager) Refs() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.refs
}

func (m *Manager) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session != nil
}

func (m *Manager) release() {
	m.mu.Lock()
	if m.refs == 0 {
		m.mu.Unlock()
		return
	}
	m.refs--
	if m.refs > 0 {
		m.mu.Unlock()
		return
	}

	m.gen++
	m.connecting = false
	if m.reconnect != nil {
		m.reconnect.Stop()
		m.reconnect = nil
	}
	s := m.session
	m.session = nil
	m.mu.Unlock()

	if s != nil {
		s.cancel()
		if err := s.t.Close(); err != nil {
			m.log.Debug("close transport", zap.Error(err))
		}
		m.log.Info("connection closed: no consumers left")
	}
}

func (m *Manager) connect(gen uint64) {
	ctx, cancel := context.WithTimeout(context.Background(), m.dialTO)
	t, err := m.dialer.Dial(ctx)
	cancel()

	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		if t != nil {
			_ = t.Close()
		}
		return
	}
	m.connecting = false
	if err != nil {
		m.scheduleReconnectLocked()
		m.mu.Unlock()
		m.log.Warn("dial failed", zap.Error(err), zap.Duration("retry_in", m.delay))
		return
	}

	sctx, scancel := context.WithCancel(context.Background())
	s := &session{t: t, ctx: sctx, cancel: scancel}
	m.session = s
	if m.reconnect != nil {
		m.reconnect.Stop()
		m.reconnect = nil
	}
	m.mu.Unlock()

	m.log.Info("connected")
	m.dispatch(types.EventConnect, nil)
	go m.readLoop(s)
}

func (m *Manager) readLoop(s *session) {
	for {
		data, err := s.t.Read(s.ctx)
		if err != nil {
			m.drop(s, err)
			return
		}

		var env types.Envelope
		if err := json.Unmarshal(data, &env); err != nil || env.Event == "" {
			m.log.Warn("dropping undecodable frame", zap.Int("bytes", len(data)), zap.Error(err))
			continue
		}
		m.dispatch(env.Event, env.Data)
	}
}

// drop handles the end of a session's read loop. Only a drop of the current
// session is abnormal; a released session was already detached.
func (m *Manager) drop(s *session, cause error) {
	m.mu.Lock()
	if m.session != s {
		m.mu.Unlock()
		return
	}
	m.session = nil
	m.scheduleReconnectLocked()
	m.mu.Unlock()

	s.cancel()
	_ = s.t.Close()
	m.log.Warn("connection lost", zap.Error(cause), zap.Duration("retry_in", m.delay))
	m.dispatch(types.EventDisconnect, nil)
}

// scheduleReconnectLocked arms the single reconnect timer. It is a no-op when
// a timer is already pending or nobody holds the connection.
func (m *Manager) scheduleReconnectLocked() {
	if m.reconnect != nil || m.refs == 0 {
		return
	}
	gen := m.gen
	m.reconnect = time.AfterFunc(m.delay, func() {
		m.mu.Lock()
		if gen != m.gen {
			m.mu.Unlock()
			return
		}
		m.reconnect = nil
		if m.refs == 0 || m.session != nil || m.connecting {
			m.mu.Unlock()
			return
		}
		m.connecting = true
		m.mu.Unlock()

		m.log.Info("reconnecting")
		m.connect(gen)
	})
}

func (m *Manager) on(event string, h Handler) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	if m.listeners[event] == nil {
		m.listeners[event] = make(map[uint64]Handler)
	}
	m.listeners[event][m.nextID] = h
	return m.nextID
}

func (m *Manager) off(event string, id uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.listeners[event], id)
	if len(m.listeners[event]) == 0 {
		delete(m.listeners, event)
	}
}

// dispatch calls the listeners of event in registration order.
func (m *Manager) dispatch(event string, data json.RawMessage) {
	m.mu.Lock()
	ids := make([]uint64, 0, len(m.listeners[event]))
	for id := range m.listeners[event] {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	handlers := make([]Handler, 0, len(ids))
	for _, id := range ids {
		handlers = append(handlers, m.listeners[event][id])
	}
	m.mu.Unlock()

	for _, h := range handlers {
		h(data)
	}
}

func (m *Manager) emit(ctx context.Context, event string, v any) error {
	m.mu.Lock()
	s := m.session
	m.mu.Unlock()
	if s == nil {
		return ErrNotConnected
	}

	payload, err := types.NewEnvelope(event, v)
	if err != nil {
		return err
	}
	return s.t.Write(ctx, payload)
}

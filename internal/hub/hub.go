package hub

import (
	"context"
	"time"

	"github.com/DoyleJ11/live-match-sync/internal/control"
	"github.com/DoyleJ11/live-match-sync/internal/view"
)

// Factory builds the per-match components the hub hands out. Each call
// returns a fresh component owning its own connection handle.
type Factory interface {
	NewView(ctx context.Context, matchID string) *view.View
	NewDesk(ctx context.Context, matchID string) *control.Desk
}

// deskCloseTimeout bounds the final flush of a removed desk.
const deskCloseTimeout = 5 * time.Second

type HubMsg interface{ isHubMsg() }

// EnsureDesk returns the match's desk, creating it on first use.
type EnsureDesk struct {
	MatchID string
	Reply   chan *control.Desk
}

type GetDesk struct {
	MatchID string
	Reply   chan *control.Desk // nil when the match has no desk
}

type RemoveDesk struct {
	MatchID string
}

// OpenView creates an isolated view for one overlay client.
type OpenView struct {
	MatchID string
	Reply   chan *view.View
}

type CloseView struct {
	View *view.View
}

type GetStats struct {
	Reply chan Stats
}

type ShutdownHub struct {
	Done chan struct{}
}

// deskClosed is posted when a desk's view stopped on its own, e.g. because
// the match does not exist.
type deskClosed struct {
	MatchID string
	Desk    *control.Desk
}

type Stats struct {
	Desks int
	Views map[string]int
}

func (EnsureDesk) isHubMsg()  {}
func (GetDesk) isHubMsg()     {}
func (RemoveDesk) isHubMsg()  {}
func (OpenView) isHubMsg()    {}
func (CloseView) isHubMsg()   {}
func (GetStats) isHubMsg()    {}
func (ShutdownHub) isHubMsg() {}
func (deskClosed) isHubMsg()  {}

type deskEntry struct {
	desk   *control.Desk
	cancel context.CancelFunc
}

type Hub struct {
	inbox   chan HubMsg
	factory Factory
	desks   map[string]deskEntry
	views   map[*view.View]context.CancelFunc
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewHub(parent context.Context, f Factory) *Hub {
	ctx, cancel := context.WithCancel(parent)
	h := &Hub{
		inbox:   make(chan HubMsg, 64),
		factory: f,
		desks:   make(map[string]deskEntry),
		views:   make(map[*view.View]context.CancelFunc),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go h.loop()
	return h
}

func (h *Hub) Inbox() chan<- HubMsg { return h.inbox }

func (h *Hub) Done() <-chan struct{} { return h.done }

func (h *Hub) loop() {
	defer close(h.done)
	for {
		select {
		case <-h.ctx.Done():
			h.shutdown()
			return

		case m := <-h.inbox:
			switch msg := m.(type) {
			case EnsureDesk:
				if e, ok := h.desks[msg.MatchID]; ok {
					msg.Reply <- e.desk
					break
				}
				ctx, cancel := context.WithCancel(h.ctx)
				d := h.factory.NewDesk(ctx, msg.MatchID)
				h.desks[msg.MatchID] = deskEntry{desk: d, cancel: cancel}
				go h.watch(msg.MatchID, d)
				msg.Reply <- d

			case GetDesk:
				msg.Reply <- h.desks[msg.MatchID].desk // May be nil

			case RemoveDesk:
				if e, ok := h.desks[msg.MatchID]; ok {
					delete(h.desks, msg.MatchID)
					go closeDesk(e)
				}

			case deskClosed:
				if e, ok := h.desks[msg.MatchID]; ok && e.desk == msg.Desk {
					delete(h.desks, msg.MatchID)
					go closeDesk(e)
				}

			case OpenView:
				ctx, cancel := context.WithCancel(h.ctx)
				v := h.factory.NewView(ctx, msg.MatchID)
				h.views[v] = cancel
				msg.Reply <- v

			case CloseView:
				if cancel, ok := h.views[msg.View]; ok {
					cancel()
					delete(h.views, msg.View)
				}

			case GetStats:
				st := Stats{Desks: len(h.desks), Views: make(map[string]int)}
				for v := range h.views {
					st.Views[v.MatchID()]++
				}
				msg.Reply <- st

			case ShutdownHub:
				h.shutdown()
				h.cancel()
				if msg.Done != nil {
					close(msg.Done)
				}
				return
			}
		}
	}
}

// shutdown flushes every desk and cancels every component; each tears
// itself down, releasing its connection handle.
func (h *Hub) shutdown() {
	for id, e := range h.desks {
		closeDesk(e)
		delete(h.desks, id)
	}
	for v, cancel := range h.views {
		cancel()
		delete(h.views, v)
	}
}

// watch reports d to the loop once its view has closed.
func (h *Hub) watch(matchID string, d *control.Desk) {
	select {
	case <-d.View().Done():
	case <-h.ctx.Done():
		return
	}
	select {
	case h.inbox <- deskClosed{MatchID: matchID, Desk: d}:
	case <-h.ctx.Done():
	}
}

func closeDesk(e deskEntry) {
	ctx, cancel := context.WithTimeout(context.Background(), deskCloseTimeout)
	defer cancel()
	_ = e.desk.Close(ctx)
	e.cancel()
}

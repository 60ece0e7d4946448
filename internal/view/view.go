package view

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/live-match-sync/internal/conn"
	"github.com/DoyleJ11/live-match-sync/internal/detect"
	"github.com/DoyleJ11/live-match-sync/internal/match"
	"github.com/DoyleJ11/live-match-sync/internal/overlay"
	"github.com/DoyleJ11/live-match-sync/internal/types"
)

var ErrClosed = errors.New("view closed")

var errWrongMatch = errors.New("fetched snapshot belongs to another match")

const (
	joinTimeout         = 3 * time.Second
	DefaultRefetchDelay = 2 * time.Second
)

// InboundEvents are the stream events a view folds into its snapshot.
var InboundEvents = []match.EventType{
	match.EvtFullMatchUpdate,
	match.EvtTeamFieldPatch,
	match.EvtSinglePlayerPatch,
	match.EvtTeamPointsPatch,
	match.EvtTeamStatsBulkPatch,
	match.EvtBulkPlayerPatch,
}

// Source is a consumer's handle on the shared event stream. *conn.Conn
// implements it.
type Source interface {
	On(event string, h conn.Handler) func()
	Emit(ctx context.Context, event string, v any) error
	Connected() bool
	Release()
}

type Fetcher interface {
	FetchSnapshot(ctx context.Context, matchID string) (*match.Snapshot, error)
}

type Msg interface{ isViewMsg() }

type Incoming struct{ Event match.Event }

func (Incoming) isViewMsg() {}

type Join struct {
	ClientID string
	Outbox   chan Update
}

func (Join) isViewMsg() {}

type Leave struct{ ClientID string }

func (Leave) isViewMsg() {}

// EditFunc is a local reducer applied on the view's loop, e.g. match.AdjustKills.
type EditFunc func(s *match.Snapshot) (*match.Snapshot, error)

type Edit struct {
	Apply EditFunc
	Reply chan error
}

func (Edit) isViewMsg() {}

type GetState struct {
	Reply chan State
}

func (GetState) isViewMsg() {}

type Shutdown struct{}

func (Shutdown) isViewMsg() {}

type connected struct{}

func (connected) isViewMsg() {}

type disconnected struct{}

func (disconnected) isViewMsg() {}

type loaded struct {
	snap *match.Snapshot
	err  error
}

func (loaded) isViewMsg() {}

type refetch struct{}

func (refetch) isViewMsg() {}

type alertExpired struct{ gen uint64 }

func (alertExpired) isViewMsg() {}

// Update is what joined clients receive after every visible change.
type Update struct {
	Version int
	Frame   overlay.Frame
}

type State struct {
	MatchID    string
	Version    int
	NumClients int
	Connected  bool
	// Loaded is false until the first snapshot arrives from the backend.
	Loaded   bool
	Snapshot *match.Snapshot
	Alert    *detect.Milestone
}

type Config struct {
	MatchID string
	// Initial skips the backend fetch when set.
	Initial          *match.Snapshot
	Source           Source
	Fetcher          Fetcher
	AlertDuration    time.Duration
	StreakThresholds []int
	// RefetchDelay is the wait before retrying a failed snapshot fetch.
	RefetchDelay time.Duration
	// Gone reports whether a fetch failure means the match does not exist.
	// The view then closes instead of retrying.
	Gone         func(error) bool
	Logger       *zap.Logger
}

// View owns one local copy of a match. Everything it holds is touched only
// by its loop goroutine; other goroutines talk to it through Inbox.
type View struct {
	matchID string
	inbox   chan Msg
	src     Source
	fetcher Fetcher
	delay   time.Duration
	gone    func(error) bool
	log     *zap.Logger
	err     error

	snap      *match.Snapshot
	loaded    bool
	fetching  bool
	retry     *time.Timer
	queued    []match.Event
	version   int
	connected bool
	stale     bool
	detector  *detect.Detector
	presenter *detect.Presenter
	clients   map[string]chan Update

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func New(parent context.Context, cfg Config) *View {
	ctx, cancel := context.WithCancel(parent)
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.RefetchDelay <= 0 {
		cfg.RefetchDelay = DefaultRefetchDelay
	}

	v := &View{
		matchID:  cfg.MatchID,
		inbox:    make(chan Msg, 64),
		src:      cfg.Source,
		fetcher:  cfg.Fetcher,
		delay:    cfg.RefetchDelay,
		gone:     cfg.Gone,
		log:      log.Named("view").With(zap.String("match_id", cfg.MatchID)),
		snap:     match.NewSnapshot(cfg.MatchID),
		detector: detect.NewDetector(cfg.StreakThresholds...),
		clients:  make(map[string]chan Update),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	v.presenter = detect.NewPresenter(cfg.AlertDuration, func(gen uint64) { v.post(alertExpired{gen: gen}) })

	if cfg.Initial != nil && cfg.Initial.MatchID == cfg.MatchID {
		v.snap = cfg.Initial
		v.loaded = true
	}
	v.detector.Prime(v.snap)

	if v.src != nil {
		v.subscribe()
		if v.src.Connected() {
			v.connected = true
			go v.join()
		}
	}
	if !v.loaded {
		v.fetch()
	}

	go v.loop()
	return v
}

func (v *View) Inbox() chan<- Msg { return v.inbox }

func (v *View) Done() <-chan struct{} { return v.done }

func (v *View) MatchID() string { return v.matchID }

// Err reports why the view closed on its own. Valid once Done is closed.
func (v *View) Err() error { return v.err }

// Edit applies fn to the local snapshot and broadcasts the result.
func (v *View) Edit(ctx context.Context, fn EditFunc) error {
	reply := make(chan error, 1)
	if err := v.send(ctx, Edit{Apply: fn, Reply: reply}); err != nil {
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-v.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (v *View) State(ctx context.Context) (State, error) {
	reply := make(chan State, 1)
	if err := v.send(ctx, GetState{Reply: reply}); err != nil {
		return State{}, err
	}
	select {
	case st := <-reply:
		return st, nil
	case <-v.done:
		return State{}, ErrClosed
	case <-ctx.Done():
		return State{}, ctx.Err()
	}
}

func (v *View) send(ctx context.Context, m Msg) error {
	select {
	case v.inbox <- m:
		return nil
	case <-v.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// post delivers m from a callback goroutine; it gives up once the view is gone.
func (v *View) post(m Msg) {
	if v.ctx.Err() != nil {
		return
	}
	select {
	case v.inbox <- m:
	case <-v.ctx.Done():
	}
}

func (v *View) subscribe() {
	for _, et := range InboundEvents {
		name := string(et)
		v.src.On(name, func(data json.RawMessage) {
			e, err := types.DecodeEvent(name, data)
			if err != nil {
				v.log.Warn("dropping event", zap.String("event", name), zap.Error(err))
				return
			}
			v.post(Incoming{Event: e})
		})
	}
	v.src.On(types.EventConnect, func(json.RawMessage) { v.post(connected{}) })
	v.src.On(types.EventDisconnect, func(json.RawMessage) { v.post(disconnected{}) })
}

func (v *View) join() {
	ctx, cancel := context.WithTimeout(v.ctx, joinTimeout)
	defer cancel()
	if err := v.src.Emit(ctx, types.EventJoinMatch, types.JoinMatch{MatchID: v.matchID}); err != nil {
		v.log.Warn("join match", zap.Error(err))
	}
}

// fetch loads the snapshot from the backend off the loop. Only called from
// the constructor or the loop.
func (v *View) fetch() {
	if v.fetcher == nil || v.fetching {
		return
	}
	v.fetching = true
	go func() {
		snap, err := v.fetcher.FetchSnapshot(v.ctx, v.matchID)
		v.post(loaded{snap: snap, err: err})
	}()
}

func (v *View) loop() {
	defer v.teardown()
	for {
		select {
		case <-v.ctx.Done():
			return

		case m := <-v.inbox:
			switch msg := m.(type) {
			case Incoming:
				v.apply(msg.Event)

			case Join:
				v.clients[msg.ClientID] = msg.Outbox
				msg.Outbox <- v.update()

			case Leave:
				delete(v.clients, msg.ClientID)

			case Edit:
				next, err := msg.Apply(v.snap)
				if err == nil {
					v.advance(next)
				}
				msg.Reply <- err

			case GetState:
				st := State{
					MatchID:    v.matchID,
					Version:    v.version,
					NumClients: len(v.clients),
					Connected:  v.connected,
					Loaded:     v.loaded,
					Snapshot:   v.snap,
				}
				if a, ok := v.presenter.Current(); ok {
					st.Alert = &a
				}
				msg.Reply <- st

			case connected:
				v.connected = true
				go v.join()
				if v.stale {
					v.stale = false
					v.fetch()
				}

			case disconnected:
				v.connected = false
				v.stale = v.fetcher != nil

			case loaded:
				if !v.onLoaded(msg.snap, msg.err) {
					return
				}

			case refetch:
				v.retry = nil
				v.fetch()

			case alertExpired:
				if v.presenter.Expire(msg.gen) {
					v.version++
					v.broadcast()
				}

			case Shutdown:
				return
			}
		}
	}
}

// apply folds one inbound event. While a fetch is in flight events are
// queued and replayed on top of the fetched snapshot.
func (v *View) apply(e match.Event) {
	if v.fetching {
		v.queued = append(v.queued, e)
		return
	}
	next := match.Merge(v.snap, e)
	if e.Type == match.EvtFullMatchUpdate && next != v.snap {
		v.loaded = true
	}
	v.advance(next)
}

// advance moves the view to next, raising milestones and broadcasting when
// anything changed.
func (v *View) advance(next *match.Snapshot) {
	if next == nil || next == v.snap {
		return
	}
	prev := v.snap
	v.snap = next
	v.version++

	for _, m := range v.detector.Observe(prev, next) {
		v.log.Info("milestone", zap.String("kind", string(m.Kind)), zap.String("team_id", m.TeamID), zap.String("player_id", m.PlayerID), zap.Int("tier", m.Tier))
		v.presenter.Show(m)
	}
	v.broadcast()
}

// onLoaded installs a fetched snapshot and replays events that arrived while
// the fetch was in flight. Patches carry absolute values, so replaying ones
// the snapshot already reflects is harmless. It returns false when the match
// is gone and the view must close.
func (v *View) onLoaded(snap *match.Snapshot, err error) bool {
	v.fetching = false
	queued := v.queued
	v.queued = nil

	if err == nil && (snap == nil || snap.MatchID != v.matchID) {
		err = errWrongMatch
	}
	if err != nil {
		if v.ctx.Err() != nil {
			return true
		}
		if v.gone != nil && v.gone(err) {
			v.log.Warn("match not found, closing view", zap.Error(err))
			v.err = err
			return false
		}
		v.log.Warn("load snapshot", zap.Error(err), zap.Duration("retry_in", v.delay))
		v.retry = time.AfterFunc(v.delay, func() { v.post(refetch{}) })
		v.advance(match.Reduce(v.snap, queued))
		return true
	}

	v.loaded = true
	v.detector.Prime(snap)
	v.snap = snap
	v.version++
	next := match.Reduce(snap, queued)
	if next != snap {
		v.advance(next)
		return true
	}
	v.broadcast()
	return true
}

func (v *View) update() Update {
	var alert *detect.Milestone
	if a, ok := v.presenter.Current(); ok {
		alert = &a
	}
	return Update{Version: v.version, Frame: overlay.Build(v.snap, alert)}
}

func (v *View) broadcast() {
	if len(v.clients) == 0 {
		return
	}
	u := v.update()
	for id, ch := range v.clients {
		select {
		case ch <- u:
		default:
			// outbox full: drop the client
			close(ch)
			delete(v.clients, id)
		}
	}
}

func (v *View) teardown() {
	v.cancel()
	v.presenter.Stop()
	if v.retry != nil {
		v.retry.Stop()
	}
	if v.src != nil {
		v.src.Release()
	}
	for id, ch := range v.clients {
		close(ch)
		delete(v.clients, id)
	}
	close(v.done)
}

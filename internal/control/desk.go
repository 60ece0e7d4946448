package control

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/live-match-sync/internal/backend"
	"github.com/DoyleJ11/live-match-sync/internal/batch"
	"github.com/DoyleJ11/live-match-sync/internal/match"
	"github.com/DoyleJ11/live-match-sync/internal/view"
)

// API is the slice of the match-editing backend the desk writes through.
// *backend.Client implements it.
type API interface {
	AdjustKills(ctx context.Context, matchID, teamID, playerID string, delta int) error
	SetPlacementPoints(ctx context.Context, matchID, teamID string, points int) error
	SetPlayerEliminated(ctx context.Context, matchID, teamID, playerID string, eliminated bool) error
	SetTeamEliminated(ctx context.Context, matchID, teamID string, eliminated bool) error
	ReplaceRoster(ctx context.Context, matchID, teamID string, players []match.Player) error
}

// Windows are the coalescing windows per kind of edit.
type Windows struct {
	Kill   time.Duration
	Death  time.Duration
	Points time.Duration
	Roster time.Duration
}

func DefaultWindows() Windows {
	return Windows{
		Kill:   150 * time.Millisecond,
		Death:  300 * time.Millisecond,
		Points: time.Second,
		Roster: 500 * time.Millisecond,
	}
}

// Retryable is the batcher retry predicate for backend calls. Only rate
// limiting is retried: any other failure may have been applied already, and
// kill deltas are not idempotent.
func Retryable(err error) bool { return backend.IsRateLimited(err) }

// RetryAfter feeds the backend's requested wait to the batcher.
func RetryAfter(err error) time.Duration { return backend.RetryAfter(err) }

type SaveState string

const (
	Idle   SaveState = "idle"
	Saving SaveState = "saving"
	Saved  SaveState = "saved"
	Failed SaveState = "error"
)

type FieldStatus struct {
	Key       string    `json:"key"`
	State     SaveState `json:"state"`
	Error     string    `json:"error,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type Config struct {
	MatchID string
	View    *view.View
	API     API
	Batcher *batch.Batcher
	Windows Windows
	Logger  *zap.Logger
}

// Desk is the operator's write path for one match. Every edit lands on the
// local view immediately and reaches the backend through the batcher. A
// failed flush leaves the optimistic value in place and marks the field as
// errored.
type Desk struct {
	matchID string
	view    *view.View
	api     API
	batcher *batch.Batcher
	windows Windows
	log     *zap.Logger

	mu     sync.Mutex
	status map[string]FieldStatus
	// seq counts edits per key so a stale flush result does not overwrite
	// the saving state of a newer edit.
	seq map[string]int
}

func New(cfg Config) *Desk {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Windows == (Windows{}) {
		cfg.Windows = DefaultWindows()
	}
	return &Desk{
		matchID: cfg.MatchID,
		view:    cfg.View,
		api:     cfg.API,
		batcher: cfg.Batcher,
		windows: cfg.Windows,
		log:     cfg.Logger.Named("desk").With(zap.String("match_id", cfg.MatchID)),
		status:  make(map[string]FieldStatus),
		seq:     make(map[string]int),
	}
}

func (d *Desk) MatchID() string { return d.matchID }

func (d *Desk) View() *view.View { return d.view }

func KillsKey(teamID, playerID string) string { return "kills/" + teamID + "/" + playerID }
func DeathKey(teamID, playerID string) string { return "death/" + teamID + "/" + playerID }
func PointsKey(teamID string) string          { return "points/" + teamID }
func EliminatedKey(teamID string) string      { return "eliminated/" + teamID }
func RosterKey(teamID string) string          { return "roster/" + teamID }

// AddKill adjusts a player's kill count by delta. Deltas within the kill
// window are summed into one call.
func (d *Desk) AddKill(ctx context.Context, teamRef, playerID string, delta int) error {
	var teamID string
	var applied int
	err := d.view.Edit(ctx, func(s *match.Snapshot) (*match.Snapshot, error) {
		t, ok := s.Team(teamRef)
		if !ok {
			return nil, fmt.Errorf("%w: %s", match.ErrUnknownTeam, teamRef)
		}
		before, ok := t.Player(playerID)
		if !ok {
			return nil, fmt.Errorf("%w: %s", match.ErrUnknownPlayer, playerID)
		}
		next, err := match.AdjustKills(s, teamRef, playerID, delta)
		if err != nil {
			return nil, err
		}
		after, _ := mustTeam(next, teamRef).Player(playerID)
		teamID = t.TeamID
		applied = after.KillCount - before.KillCount
		return next, nil
	})
	if err != nil || applied == 0 {
		return err
	}

	return d.enqueue(KillsKey(teamID, playerID), batch.Update{
		Policy: batch.Sum,
		Window: d.windows.Kill,
		Delta:  applied,
		Scope:  teamID,
	}, func(ctx context.Context, m batch.Mutation) error {
		return d.api.AdjustKills(ctx, d.matchID, teamID, playerID, m.Delta)
	})
}

// ToggleDeath flips a player's eliminated flag and returns the new value.
func (d *Desk) ToggleDeath(ctx context.Context, teamRef, playerID string) (bool, error) {
	var teamID string
	var died bool
	err := d.view.Edit(ctx, func(s *match.Snapshot) (*match.Snapshot, error) {
		t, ok := s.Team(teamRef)
		if !ok {
			return nil, fmt.Errorf("%w: %s", match.ErrUnknownTeam, teamRef)
		}
		p, ok := t.Player(playerID)
		if !ok {
			return nil, fmt.Errorf("%w: %s", match.ErrUnknownPlayer, playerID)
		}
		teamID = t.TeamID
		died = !p.HasDied
		return match.SetDied(s, teamRef, playerID, died)
	})
	if err != nil {
		return false, err
	}

	return died, d.enqueue(DeathKey(teamID, playerID), batch.Update{
		Policy: batch.LastWrite,
		Window: d.windows.Death,
		Value:  died,
		Scope:  teamID,
	}, func(ctx context.Context, m batch.Mutation) error {
		return d.api.SetPlayerEliminated(ctx, d.matchID, teamID, playerID, m.Value.(bool))
	})
}

func (d *Desk) SetPlacementPoints(ctx context.Context, teamRef string, points int) error {
	var teamID string
	var value int
	err := d.view.Edit(ctx, func(s *match.Snapshot) (*match.Snapshot, error) {
		next, err := match.SetPlacementPoints(s, teamRef, points)
		if err != nil {
			return nil, err
		}
		t := mustTeam(next, teamRef)
		teamID, value = t.TeamID, t.PlacementPoints
		return next, nil
	})
	if err != nil {
		return err
	}

	return d.enqueue(PointsKey(teamID), batch.Update{
		Policy: batch.LastWrite,
		Window: d.windows.Points,
		Value:  value,
		Scope:  teamID,
	}, func(ctx context.Context, m batch.Mutation) error {
		return d.api.SetPlacementPoints(ctx, d.matchID, teamID, m.Value.(int))
	})
}

// EliminateTeam sets or clears the eliminated flag of every player on the
// team. It is structural: no other write for the team runs alongside it.
func (d *Desk) EliminateTeam(ctx context.Context, teamRef string, eliminated bool) error {
	var teamID string
	err := d.view.Edit(ctx, func(s *match.Snapshot) (*match.Snapshot, error) {
		next, err := match.SetTeamEliminated(s, teamRef, eliminated)
		if err != nil {
			return nil, err
		}
		teamID = mustTeam(next, teamRef).TeamID
		return next, nil
	})
	if err != nil {
		return err
	}

	return d.enqueue(EliminatedKey(teamID), batch.Update{
		Policy:     batch.LastWrite,
		Window:     d.windows.Death,
		Value:      eliminated,
		Scope:      teamID,
		Structural: true,
	}, func(ctx context.Context, m batch.Mutation) error {
		return d.api.SetTeamEliminated(ctx, d.matchID, teamID, m.Value.(bool))
	})
}

// ReplaceRoster swaps the team's players for players. It is structural.
func (d *Desk) ReplaceRoster(ctx context.Context, teamRef string, players []match.Player) error {
	var teamID string
	var roster []match.Player
	err := d.view.Edit(ctx, func(s *match.Snapshot) (*match.Snapshot, error) {
		next, err := match.ReplaceRoster(s, teamRef, players)
		if err != nil {
			return nil, err
		}
		t := mustTeam(next, teamRef)
		teamID, roster = t.TeamID, t.Players
		return next, nil
	})
	if err != nil {
		return err
	}

	return d.enqueue(RosterKey(teamID), batch.Update{
		Policy:     batch.LastWrite,
		Window:     d.windows.Roster,
		Value:      roster,
		Scope:      teamID,
		Structural: true,
	}, func(ctx context.Context, m batch.Mutation) error {
		return d.api.ReplaceRoster(ctx, d.matchID, teamID, m.Value.([]match.Player))
	})
}

// Snapshot returns the desk's local view of the match, including edits not
// yet confirmed by the backend.
func (d *Desk) Snapshot(ctx context.Context) (*match.Snapshot, error) {
	st, err := d.view.State(ctx)
	if err != nil {
		return nil, err
	}
	return st.Snapshot, nil
}

// Status returns the save state of key; untouched fields are idle.
func (d *Desk) Status(key string) FieldStatus {
	d.mu.Lock()
	defer d.mu.Unlock()
	if st, ok := d.status[key]; ok {
		return st
	}
	return FieldStatus{Key: key, State: Idle}
}

// Statuses returns every field touched so far, ordered by key.
func (d *Desk) Statuses() []FieldStatus {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]FieldStatus, 0, len(d.status))
	for _, st := range d.status {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Flush pushes every pending edit of this desk's batcher now.
func (d *Desk) Flush(ctx context.Context) error {
	return d.batcher.Flush(ctx)
}

// Close pushes pending edits and stops the batcher. Later edits fail with
// batch.ErrStopped.
func (d *Desk) Close(ctx context.Context) error {
	err := d.batcher.Flush(ctx)
	if dropped := d.batcher.Stop(); dropped > 0 {
		d.log.Warn("edits dropped on close", zap.Int("count", dropped))
	}
	return err
}

func (d *Desk) enqueue(key string, u batch.Update, flush batch.FlushFunc) error {
	d.mu.Lock()
	d.seq[key]++
	seq := d.seq[key]
	d.status[key] = FieldStatus{Key: key, State: Saving, UpdatedAt: time.Now()}
	d.mu.Unlock()

	u.Done = func(m batch.Mutation, err error) { d.settle(key, seq, m, err) }
	if err := d.batcher.Batch(key, u, flush); err != nil {
		d.settle(key, seq, batch.Mutation{Key: key}, err)
		return err
	}
	return nil
}

func (d *Desk) settle(key string, seq int, m batch.Mutation, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	st := FieldStatus{Key: key, State: Saved, UpdatedAt: time.Now()}
	if err != nil {
		st.State = Failed
		st.Error = err.Error()
		d.log.Error("edit not saved", zap.String("key", key), zap.Int("edits", m.Edits), zap.Error(err))
	}
	// A newer edit is still on its way; keep showing it as saving.
	if d.seq[key] != seq && st.State == Saved {
		return
	}
	d.status[key] = st
}

// mustTeam looks up a team the reducer just edited, so it is known to exist.
func mustTeam(s *match.Snapshot, ref string) match.Team {
	t, _ := s.Team(ref)
	return t
}

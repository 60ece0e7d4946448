package match

type EventType string

const (
	EvtFullMatchUpdate    EventType = "full-match-update"
	EvtTeamFieldPatch     EventType = "team-field-patch"
	EvtSinglePlayerPatch  EventType = "single-player-patch"
	EvtTeamPointsPatch    EventType = "team-points-patch"
	EvtTeamStatsBulkPatch EventType = "team-stats-bulk-patch"
	EvtBulkPlayerPatch    EventType = "bulk-player-patch"
)

// PlayerPatch is a partial player update. Nil fields are left untouched.
type PlayerPatch struct {
	PlayerID     string
	Name         *string
	KillCount    *int
	HasDied      *bool
	LiveState    *LiveState
	Health       *float64
	HealthMax    *float64
	Damage       *float64
	Assists      *float64
	SurvivalTime *float64
}

// TeamPatch is a partial team update addressed by primary or legacy id.
type TeamPatch struct {
	TeamID          string
	Tag             *string
	LogoRef         *string
	PlacementPoints *int
	Players         []PlayerPatch
}

/*
	EvtFullMatchUpdate    -> Snapshot replaces the held snapshot (same match id only)
	EvtTeamFieldPatch     -> Team (scalars + nested players)
	EvtSinglePlayerPatch  -> Team.TeamID + Player
	EvtTeamPointsPatch    -> Team.TeamID + Team.PlacementPoints
	EvtTeamStatsBulkPatch -> Teams, each applied like a team field patch
	EvtBulkPlayerPatch    -> Team.TeamID + Team.Players
*/

type Event struct {
	Type     EventType
	MatchID  string
	Snapshot *Snapshot
	Team     TeamPatch
	Player   PlayerPatch
	Teams    []TeamPatch
}

// Merge folds one event onto s. It never mutates s: when the event changes
// nothing the same pointer is returned, otherwise a new snapshot that shares
// untouched teams with s.
//
// Patches only ever update entities already present; unknown team or player
// ids are ignored. Only a full match update introduces new entities.
func Merge(s *Snapshot, e Event) *Snapshot {
	if s == nil {
		return nil
	}
	if e.MatchID != "" && e.MatchID != s.MatchID {
		return s
	}

	switch e.Type {
	case EvtFullMatchUpdate:
		if e.Snapshot == nil || e.Snapshot.MatchID != s.MatchID {
			return s
		}
		return e.Snapshot.Clone()

	case EvtTeamFieldPatch:
		return patchTeam(s, e.Team)

	case EvtTeamPointsPatch:
		return patchTeam(s, TeamPatch{TeamID: e.Team.TeamID, PlacementPoints: e.Team.PlacementPoints})

	case EvtSinglePlayerPatch:
		return patchTeam(s, TeamPatch{TeamID: e.Team.TeamID, Players: []PlayerPatch{e.Player}})

	case EvtBulkPlayerPatch:
		return patchTeam(s, TeamPatch{TeamID: e.Team.TeamID, Players: e.Team.Players})

	case EvtTeamStatsBulkPatch:
		next := s
		for _, tp := range e.Teams {
			next = patchTeam(next, tp)
		}
		return next

	default:
		return s
	}
}

// Reduce folds events in order onto s.
func Reduce(s *Snapshot, events []Event) *Snapshot {
	for _, e := range events {
		s = Merge(s, e)
	}
	return s
}

func patchTeam(s *Snapshot, tp TeamPatch) *Snapshot {
	i := s.TeamIndex(tp.TeamID)
	if i < 0 {
		return s
	}
	t := s.Teams[i]
	changed := false

	if tp.Tag != nil && *tp.Tag != t.Tag {
		t.Tag = *tp.Tag
		changed = true
	}
	if tp.LogoRef != nil && *tp.LogoRef != t.LogoRef {
		t.LogoRef = *tp.LogoRef
		changed = true
	}
	if tp.PlacementPoints != nil {
		if pts := max(*tp.PlacementPoints, 0); pts != t.PlacementPoints {
			t.PlacementPoints = pts
			changed = true
		}
	}
	if len(tp.Players) > 0 {
		if players, ok := mergePlayers(t.Players, tp.Players); ok {
			t.Players = players
			changed = true
		}
	}

	if !changed {
		return s
	}
	return s.withTeam(i, t)
}

// mergePlayers applies each patch to the player with the same id. The
// returned slice is a copy; ok is false when nothing changed.
func mergePlayers(players []Player, patches []PlayerPatch) ([]Player, bool) {
	var out []Player
	for _, pp := range patches {
		for j := range players {
			if players[j].PlayerID != pp.PlayerID || pp.PlayerID == "" {
				continue
			}
			cur := players[j]
			if out != nil {
				cur = out[j]
			}
			next, changed := applyPlayer(cur, pp)
			if !changed {
				break
			}
			if out == nil {
				out = append([]Player(nil), players...)
			}
			out[j] = next
			break
		}
	}
	return out, out != nil
}

func applyPlayer(p Player, pp PlayerPatch) (Player, bool) {
	changed := false
	setF := func(dst *float64, src *float64) {
		if src == nil {
			return
		}
		if v := max(*src, 0); v != *dst {
			*dst = v
			changed = true
		}
	}

	if pp.Name != nil && *pp.Name != p.Name {
		p.Name = *pp.Name
		changed = true
	}
	if pp.KillCount != nil {
		if k := max(*pp.KillCount, 0); k != p.KillCount {
			p.KillCount = k
			changed = true
		}
	}
	if pp.HasDied != nil && *pp.HasDied != p.HasDied {
		p.HasDied = *pp.HasDied
		changed = true
	}
	if pp.LiveState != nil && pp.LiveState.Valid() && *pp.LiveState != p.LiveState {
		p.LiveState = *pp.LiveState
		changed = true
	}
	setF(&p.Health, pp.Health)
	setF(&p.HealthMax, pp.HealthMax)
	setF(&p.Damage, pp.Damage)
	setF(&p.Assists, pp.Assists)
	setF(&p.SurvivalTime, pp.SurvivalTime)

	return p, changed
}

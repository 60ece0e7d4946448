package detect

import (
	"fmt"
	"slices"

	"github.com/DoyleJ11/live-match-sync/internal/match"
)

type Kind string

const (
	KindFirstBlood Kind = "first-blood"
	KindKillStreak Kind = "kill-streak"
	KindTeamWiped  Kind = "team-eliminated"
)

// matchEntity is the ledger entity for match-wide milestones.
const matchEntity = "$match"

var DefaultStreakThresholds = []int{3, 5, 8}

type Milestone struct {
	Kind     Kind   `json:"kind"`
	MatchID  string `json:"matchId"`
	TeamID   string `json:"teamId,omitempty"`
	PlayerID string `json:"playerId,omitempty"`
	// Tier is 1-based for kill streaks; Kills is the count that triggered it.
	Tier  int `json:"tier,omitempty"`
	Kills int `json:"kills,omitempty"`
}

// Detector turns snapshot transitions into one-shot milestones. It keeps
// state across calls and is not safe for concurrent use; the owning view
// calls it from its event loop.
type Detector struct {
	ledger     *Ledger
	thresholds []int
}

func NewDetector(thresholds ...int) *Detector {
	if len(thresholds) == 0 {
		thresholds = DefaultStreakThresholds
	}
	t := slices.Clone(thresholds)
	slices.Sort(t)
	return &Detector{ledger: NewLedger(), thresholds: slices.Compact(t)}
}

func (d *Detector) Ledger() *Ledger { return d.ledger }

// Observe compares prev and next and returns milestones that fired for the
// first time, in evaluation order. The first snapshot seen for a match only
// primes the ledger: milestones it already satisfies are recorded without
// firing.
func (d *Detector) Observe(prev, next *match.Snapshot) []Milestone {
	if next == nil {
		return nil
	}
	if d.ledger.MatchID() != next.MatchID {
		d.ledger.Reset(next.MatchID)
		d.prime(next)
		return nil
	}
	if prev == next || prev == nil || prev.MatchID != next.MatchID {
		return nil
	}

	var out []Milestone
	for _, team := range next.Teams {
		prevTeam, ok := prev.Team(team.TeamID)
		if !ok {
			continue
		}

		for _, p := range team.Players {
			before, ok := prevTeam.Player(p.PlayerID)
			if !ok || p.KillCount <= before.KillCount {
				continue
			}
			if before.KillCount == 0 && d.ledger.Mark(matchEntity, string(KindFirstBlood)) {
				out = append(out, Milestone{Kind: KindFirstBlood, MatchID: next.MatchID, TeamID: team.TeamID, PlayerID: p.PlayerID, Kills: p.KillCount})
			}
			if tier, ok := d.crossStreak(p.PlayerID, before.KillCount, p.KillCount); ok {
				out = append(out, Milestone{Kind: KindKillStreak, MatchID: next.MatchID, TeamID: team.TeamID, PlayerID: p.PlayerID, Tier: tier, Kills: p.KillCount})
			}
		}

		if team.Wiped(next.HealthFromAPI) && d.ledger.Mark(team.TeamID, string(KindTeamWiped)) {
			out = append(out, Milestone{Kind: KindTeamWiped, MatchID: next.MatchID, TeamID: team.TeamID})
		}
	}
	return out
}

// crossStreak reports the highest tier newly crossed going from before to
// after. Every tier at or below after is marked so lower tiers never fire
// later for this player.
func (d *Detector) crossStreak(playerID string, before, after int) (int, bool) {
	best := 0
	for i, threshold := range d.thresholds {
		if threshold > after {
			break
		}
		newlyMarked := d.ledger.Mark(playerID, streakKind(threshold))
		if newlyMarked && threshold > before {
			best = i + 1
		}
	}
	return best, best > 0
}

// Prime records every milestone s already satisfies as fired, resetting the
// ledger first if s belongs to another match. Views call it when they load a
// snapshot from the backend so a resync does not replay missed milestones.
func (d *Detector) Prime(s *match.Snapshot) {
	if s == nil {
		return
	}
	if d.ledger.MatchID() != s.MatchID {
		d.ledger.Reset(s.MatchID)
	}
	d.prime(s)
}

func (d *Detector) prime(s *match.Snapshot) {
	for _, team := range s.Teams {
		for _, p := range team.Players {
			if p.KillCount > 0 {
				d.ledger.Mark(matchEntity, string(KindFirstBlood))
			}
			for _, threshold := range d.thresholds {
				if threshold <= p.KillCount {
					d.ledger.Mark(p.PlayerID, streakKind(threshold))
				}
			}
		}
		if team.Wiped(s.HealthFromAPI) {
			d.ledger.Mark(team.TeamID, string(KindTeamWiped))
		}
	}
}

func streakKind(threshold int) string {
	return fmt.Sprintf("%s-%d", KindKillStreak, threshold)
}

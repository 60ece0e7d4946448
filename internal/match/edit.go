package match

import "fmt"

// Operator edits applied locally before the backend confirms them. They share
// Merge's copy-on-write rules but report unknown targets as errors, since an
// operator action on a missing entity is a caller bug rather than noise.

func AdjustKills(s *Snapshot, teamRef, playerID string, delta int) (*Snapshot, error) {
	p, err := lookupPlayer(s, teamRef, playerID)
	if err != nil {
		return s, err
	}
	kills := max(p.KillCount+delta, 0)
	return patchTeam(s, TeamPatch{TeamID: teamRef, Players: []PlayerPatch{{PlayerID: playerID, KillCount: &kills}}}), nil
}

func SetPlacementPoints(s *Snapshot, teamRef string, points int) (*Snapshot, error) {
	if s.TeamIndex(teamRef) < 0 {
		return s, fmt.Errorf("set points %q: %w", teamRef, ErrUnknownTeam)
	}
	return patchTeam(s, TeamPatch{TeamID: teamRef, PlacementPoints: &points}), nil
}

func SetDied(s *Snapshot, teamRef, playerID string, died bool) (*Snapshot, error) {
	if _, err := lookupPlayer(s, teamRef, playerID); err != nil {
		return s, err
	}
	return patchTeam(s, TeamPatch{TeamID: teamRef, Players: []PlayerPatch{{PlayerID: playerID, HasDied: &died}}}), nil
}

// SetTeamEliminated sets HasDied on every player of the team.
func SetTeamEliminated(s *Snapshot, teamRef string, eliminated bool) (*Snapshot, error) {
	t, ok := s.Team(teamRef)
	if !ok {
		return s, fmt.Errorf("eliminate team %q: %w", teamRef, ErrUnknownTeam)
	}
	patches := make([]PlayerPatch, 0, len(t.Players))
	for _, p := range t.Players {
		patches = append(patches, PlayerPatch{PlayerID: p.PlayerID, HasDied: &eliminated})
	}
	return patchTeam(s, TeamPatch{TeamID: teamRef, Players: patches}), nil
}

// ReplaceRoster swaps the team's player list. Duplicate ids keep the first entry.
func ReplaceRoster(s *Snapshot, teamRef string, players []Player) (*Snapshot, error) {
	i := s.TeamIndex(teamRef)
	if i < 0 {
		return s, fmt.Errorf("replace roster %q: %w", teamRef, ErrUnknownTeam)
	}
	seen := make(map[string]bool, len(players))
	roster := make([]Player, 0, len(players))
	for _, p := range players {
		if p.PlayerID == "" || seen[p.PlayerID] {
			continue
		}
		seen[p.PlayerID] = true
		p.KillCount = max(p.KillCount, 0)
		roster = append(roster, p)
	}
	t := s.Teams[i]
	t.Players = roster
	return s.withTeam(i, t), nil
}

func lookupPlayer(s *Snapshot, teamRef, playerID string) (Player, error) {
	t, ok := s.Team(teamRef)
	if !ok {
		return Player{}, fmt.Errorf("team %q: %w", teamRef, ErrUnknownTeam)
	}
	p, ok := t.Player(playerID)
	if !ok {
		return Player{}, fmt.Errorf("team %q player %q: %w", teamRef, playerID, ErrUnknownPlayer)
	}
	return p, nil
}

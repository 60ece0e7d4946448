package match

import "errors"

var ErrUnknownTeam = errors.New("unknown team")
var ErrUnknownPlayer = errors.New("unknown player")

// LiveState is the backend's numeric in-game state for a player.
// 0-3 are alive tiers, 4 is knocked, 5 is eliminated.
type LiveState int

const (
	LiveAlive0     LiveState = 0
	LiveAlive1     LiveState = 1
	LiveAlive2     LiveState = 2
	LiveAlive3     LiveState = 3
	LiveKnocked    LiveState = 4
	LiveEliminated LiveState = 5
)

func (s LiveState) Valid() bool {
	return s >= LiveAlive0 && s <= LiveEliminated
}

func (s LiveState) Alive() bool {
	return s >= LiveAlive0 && s <= LiveAlive3
}

type Player struct {
	PlayerID  string
	Name      string
	KillCount int
	HasDied   bool
	LiveState LiveState
	Health    float64
	HealthMax float64

	// Pass-through stats, default 0.
	Damage       float64
	Assists      float64
	SurvivalTime float64
}

type Team struct {
	TeamID          string
	LegacyID        string
	Tag             string
	LogoRef         string
	PlacementPoints int
	Players         []Player
}

// Snapshot is one match's live state. Treat it as immutable: Merge and
// the edit helpers return a new *Snapshot when anything changes.
type Snapshot struct {
	MatchID string
	// HealthFromAPI is set when the round feeds player health from the game API.
	HealthFromAPI bool
	Teams         []Team
}

func NewSnapshot(matchID string) *Snapshot {
	return &Snapshot{MatchID: matchID, Teams: []Team{}}
}

// Matches reports whether ref names this team by its primary or legacy id.
func (t Team) Matches(ref string) bool {
	if ref == "" {
		return false
	}
	return t.TeamID == ref || (t.LegacyID != "" && t.LegacyID == ref)
}

func (t Team) Player(playerID string) (Player, bool) {
	for _, p := range t.Players {
		if p.PlayerID == playerID {
			return p, true
		}
	}
	return Player{}, false
}

func (t Team) Kills() int {
	total := 0
	for _, p := range t.Players {
		total += p.KillCount
	}
	return total
}

// Removed reports whether the player is out of play. Any of the three
// signals is enough; health only counts when the round feeds it.
func (p Player) Removed(healthFromAPI bool) bool {
	if p.HasDied || p.LiveState == LiveEliminated {
		return true
	}
	return healthFromAPI && p.HealthMax > 0 && p.Health <= 0
}

// Wiped reports whether every player on the team is removed from play.
// A team without players is never wiped.
func (t Team) Wiped(healthFromAPI bool) bool {
	if len(t.Players) == 0 {
		return false
	}
	for _, p := range t.Players {
		if !p.Removed(healthFromAPI) {
			return false
		}
	}
	return true
}

func (s *Snapshot) TeamIndex(ref string) int {
	if s == nil {
		return -1
	}
	for i, t := range s.Teams {
		if t.Matches(ref) {
			return i
		}
	}
	return -1
}

func (s *Snapshot) Team(ref string) (Team, bool) {
	i := s.TeamIndex(ref)
	if i < 0 {
		return Team{}, false
	}
	return s.Teams[i], true
}

// Clone returns a deep copy.
func (s *Snapshot) Clone() *Snapshot {
	if s == nil {
		return nil
	}
	out := *s
	out.Teams = make([]Team, len(s.Teams))
	for i, t := range s.Teams {
		out.Teams[i] = t
		out.Teams[i].Players = append([]Player(nil), t.Players...)
	}
	return &out
}

// withTeam returns a shallow copy of s whose team slice (and the player
// slice of team i) is fresh, so t can be written without touching s.
func (s *Snapshot) withTeam(i int, t Team) *Snapshot {
	out := *s
	out.Teams = append([]Team(nil), s.Teams...)
	out.Teams[i] = t
	return &out
}

package overlay

import (
	"cmp"
	"math"
	"slices"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/DoyleJ11/live-match-sync/internal/detect"
	"github.com/DoyleJ11/live-match-sync/internal/match"
)

// Placeholder stands in for any display field the backend has not sent.
const Placeholder = "—"

type HealthBar string

const (
	BarFull    HealthBar = "full"
	BarHigh    HealthBar = "high"
	BarMid     HealthBar = "mid"
	BarLow     HealthBar = "low"
	BarKnocked HealthBar = "knocked"
	BarOut     HealthBar = "out"
)

type PlayerFrame struct {
	PlayerID  string    `json:"playerId"`
	Name      string    `json:"name"`
	Kills     int       `json:"kills"`
	Damage    string    `json:"damage"`
	Assists   string    `json:"assists"`
	HealthBar HealthBar `json:"healthBar"`
	// HealthPct is 0-100, only meaningful when the round feeds health.
	HealthPct float64 `json:"healthPct"`
	Out       bool    `json:"out"`
}

type TeamFrame struct {
	Rank            int           `json:"rank"`
	TeamID          string        `json:"teamId"`
	Tag             string        `json:"tag"`
	Logo            string        `json:"logo"`
	PlacementPoints int           `json:"placementPoints"`
	Kills           int           `json:"kills"`
	Total           int           `json:"total"`
	TotalText       string        `json:"totalText"`
	Alive           int           `json:"alive"`
	Wiped           bool          `json:"wiped"`
	Players         []PlayerFrame `json:"players"`
}

// Frame is everything an overlay renderer draws for one match.
type Frame struct {
	MatchID string            `json:"matchId"`
	Teams   []TeamFrame       `json:"teams"`
	Alert   *detect.Milestone `json:"alert,omitempty"`
}

var (
	upper   = cases.Upper(language.Und)
	printer = message.NewPrinter(language.English)
)

// Build projects a snapshot into a frame. Teams are ordered by total points
// (placement + kills), then kills, then tag; the snapshot's own order is
// only used as the final tie-break.
func Build(s *match.Snapshot, alert *detect.Milestone) Frame {
	f := Frame{Teams: []TeamFrame{}}
	if alert != nil {
		a := *alert
		f.Alert = &a
	}
	if s == nil {
		return f
	}
	f.MatchID = s.MatchID

	for _, t := range s.Teams {
		tf := TeamFrame{
			TeamID:          t.TeamID,
			Tag:             orPlaceholder(upper.String(t.Tag)),
			Logo:            t.LogoRef,
			PlacementPoints: t.PlacementPoints,
			Kills:           t.Kills(),
			Wiped:           t.Wiped(s.HealthFromAPI),
			Players:         make([]PlayerFrame, 0, len(t.Players)),
		}
		tf.Total = tf.PlacementPoints + tf.Kills
		tf.TotalText = printer.Sprintf("%d", tf.Total)

		for _, p := range t.Players {
			pf := buildPlayer(p, s.HealthFromAPI)
			if !pf.Out {
				tf.Alive++
			}
			tf.Players = append(tf.Players, pf)
		}
		f.Teams = append(f.Teams, tf)
	}

	slices.SortStableFunc(f.Teams, func(a, b TeamFrame) int {
		if c := cmp.Compare(b.Total, a.Total); c != 0 {
			return c
		}
		if c := cmp.Compare(b.Kills, a.Kills); c != 0 {
			return c
		}
		return cmp.Compare(a.Tag, b.Tag)
	})
	for i := range f.Teams {
		f.Teams[i].Rank = i + 1
	}
	return f
}

func buildPlayer(p match.Player, healthFromAPI bool) PlayerFrame {
	pf := PlayerFrame{
		PlayerID: p.PlayerID,
		Name:     orPlaceholder(p.Name),
		Kills:    p.KillCount,
		Damage:   printer.Sprintf("%d", int(math.Round(p.Damage))),
		Assists:  printer.Sprintf("%d", int(math.Round(p.Assists))),
		Out:      p.Removed(healthFromAPI),
	}
	if healthFromAPI && p.HealthMax > 0 {
		pf.HealthPct = math.Round(min(p.Health/p.HealthMax, 1) * 100)
	}
	pf.HealthBar = healthBar(p, healthFromAPI, pf.Out)
	return pf
}

// healthBar picks the bar from API health when the round feeds it, and from
// the live-state tier otherwise.
func healthBar(p match.Player, healthFromAPI, out bool) HealthBar {
	switch {
	case out:
		return BarOut
	case p.LiveState == match.LiveKnocked:
		return BarKnocked
	case healthFromAPI && p.HealthMax > 0:
		ratio := p.Health / p.HealthMax
		switch {
		case ratio >= 0.75:
			return BarFull
		case ratio >= 0.5:
			return BarHigh
		case ratio >= 0.25:
			return BarMid
		default:
			return BarLow
		}
	}

	switch p.LiveState {
	case match.LiveAlive1:
		return BarHigh
	case match.LiveAlive2:
		return BarMid
	case match.LiveAlive3:
		return BarLow
	default:
		return BarFull
	}
}

func orPlaceholder(s string) string {
	if s == "" {
		return Placeholder
	}
	return s
}

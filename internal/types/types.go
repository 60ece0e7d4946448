package types

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/DoyleJ11/live-match-sync/internal/match"
	"github.com/DoyleJ11/live-match-sync/internal/overlay"
)

var ErrMalformedEvent = errors.New("malformed event")
var ErrUnknownEvent = errors.New("unknown event")

// Connection lifecycle pseudo-events, dispatched locally by the connection manager.
const (
	EventConnect    = "connect"
	EventDisconnect = "disconnect"
	// EventJoinMatch is emitted by a view after each connect so the backend
	// (re)subscribes it to the match room.
	EventJoinMatch = "join-match"
)

// Envelope is one frame on the event stream, in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type PlayerPayload struct {
	PlayerID     string   `json:"playerId"`
	Name         *string  `json:"name,omitempty"`
	Kills        *int     `json:"kills,omitempty"`
	HasDied      *bool    `json:"hasDied,omitempty"`
	LiveState    *int     `json:"liveState,omitempty"`
	Health       *float64 `json:"health,omitempty"`
	HealthMax    *float64 `json:"healthMax,omitempty"`
	Damage       *float64 `json:"damage,omitempty"`
	Assists      *float64 `json:"assists,omitempty"`
	SurvivalTime *float64 `json:"survivalTime,omitempty"`
}

type TeamPayload struct {
	TeamID          string          `json:"teamId,omitempty"`
	LegacyTeamID    string          `json:"legacyTeamId,omitempty"`
	Tag             *string         `json:"tag,omitempty"`
	Logo            *string         `json:"logo,omitempty"`
	PlacementPoints *int            `json:"placementPoints,omitempty"`
	Players         []PlayerPayload `json:"players,omitempty"`
}

type MatchPayload struct {
	MatchID       string        `json:"matchId"`
	HealthFromAPI bool          `json:"healthFromApi,omitempty"`
	Teams         []TeamPayload `json:"teams"`
}

// patchPayload is the union of every patch event's fields.
type patchPayload struct {
	MatchID string `json:"matchId"`
	TeamPayload
	PlayerPayload
	Teams []TeamPayload `json:"teams,omitempty"`
}

type JoinMatch struct {
	MatchID string `json:"matchId"`
}

// ServerMessage is what overlay renderers receive over /ws.
type ServerMessage struct {
	Type    string         `json:"type"` // "Theme" | "Frame" | "Error"
	Version int            `json:"version,omitempty"`
	Frame   *overlay.Frame `json:"frame,omitempty"`
	Theme   string         `json:"theme,omitempty"`
	Error   string         `json:"error,omitempty"`
}

func NewEnvelope(event string, v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", event, err)
	}
	return json.Marshal(Envelope{Event: event, Data: data})
}

// DecodeEvent turns one inbound event into a merge event. Payload fields that
// are absent stay nil so the merge leaves them untouched.
func DecodeEvent(name string, data []byte) (match.Event, error) {
	evt := match.EventType(name)
	switch evt {
	case match.EvtFullMatchUpdate:
		var mp MatchPayload
		if err := json.Unmarshal(data, &mp); err != nil {
			return match.Event{}, fmt.Errorf("%s: %w: %v", name, ErrMalformedEvent, err)
		}
		if mp.MatchID == "" {
			return match.Event{}, fmt.Errorf("%s: %w: missing matchId", name, ErrMalformedEvent)
		}
		return match.Event{Type: evt, MatchID: mp.MatchID, Snapshot: ToSnapshot(mp)}, nil

	case match.EvtTeamFieldPatch, match.EvtSinglePlayerPatch, match.EvtTeamPointsPatch,
		match.EvtTeamStatsBulkPatch, match.EvtBulkPlayerPatch:
	default:
		return match.Event{}, fmt.Errorf("%q: %w", name, ErrUnknownEvent)
	}

	var p patchPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return match.Event{}, fmt.Errorf("%s: %w: %v", name, ErrMalformedEvent, err)
	}
	if p.MatchID == "" {
		return match.Event{}, fmt.Errorf("%s: %w: missing matchId", name, ErrMalformedEvent)
	}
	out := match.Event{Type: evt, MatchID: p.MatchID}

	if evt == match.EvtTeamStatsBulkPatch {
		if len(p.Teams) == 0 {
			return match.Event{}, fmt.Errorf("%s: %w: missing teams", name, ErrMalformedEvent)
		}
		for _, tp := range p.Teams {
			if teamRef(tp) == "" {
				continue
			}
			out.Teams = append(out.Teams, toTeamPatch(tp))
		}
		return out, nil
	}

	if teamRef(p.TeamPayload) == "" {
		return match.Event{}, fmt.Errorf("%s: %w: missing teamId", name, ErrMalformedEvent)
	}

	switch evt {
	case match.EvtTeamFieldPatch:
		out.Team = toTeamPatch(p.TeamPayload)
	case match.EvtTeamPointsPatch:
		if p.PlacementPoints == nil {
			return match.Event{}, fmt.Errorf("%s: %w: missing placementPoints", name, ErrMalformedEvent)
		}
		out.Team = match.TeamPatch{TeamID: teamRef(p.TeamPayload), PlacementPoints: p.PlacementPoints}
	case match.EvtBulkPlayerPatch:
		out.Team = match.TeamPatch{TeamID: teamRef(p.TeamPayload), Players: toPlayerPatches(p.Players)}
	case match.EvtSinglePlayerPatch:
		if p.PlayerID == "" {
			return match.Event{}, fmt.Errorf("%s: %w: missing playerId", name, ErrMalformedEvent)
		}
		out.Team = match.TeamPatch{TeamID: teamRef(p.TeamPayload)}
		out.Player = toPlayerPatch(p.PlayerPayload)
	}
	return out, nil
}

// ToSnapshot builds a full snapshot. Teams or players without an id are
// dropped, and duplicate ids keep their first occurrence.
func ToSnapshot(mp MatchPayload) *match.Snapshot {
	s := match.NewSnapshot(mp.MatchID)
	s.HealthFromAPI = mp.HealthFromAPI
	seenTeams := map[string]bool{}
	for _, tp := range mp.Teams {
		if tp.TeamID == "" || seenTeams[tp.TeamID] {
			continue
		}
		seenTeams[tp.TeamID] = true

		t := match.Team{
			TeamID:          tp.TeamID,
			LegacyID:        tp.LegacyTeamID,
			Tag:             deref(tp.Tag),
			LogoRef:         deref(tp.Logo),
			PlacementPoints: max(deref(tp.PlacementPoints), 0),
			Players:         []match.Player{},
		}
		seenPlayers := map[string]bool{}
		for _, pp := range tp.Players {
			if pp.PlayerID == "" || seenPlayers[pp.PlayerID] {
				continue
			}
			seenPlayers[pp.PlayerID] = true
			t.Players = append(t.Players, toPlayer(pp))
		}
		s.Teams = append(s.Teams, t)
	}
	return s
}

// FromSnapshot is the inverse of ToSnapshot.
func FromSnapshot(s *match.Snapshot) MatchPayload {
	mp := MatchPayload{MatchID: s.MatchID, HealthFromAPI: s.HealthFromAPI, Teams: make([]TeamPayload, 0, len(s.Teams))}
	for _, t := range s.Teams {
		tp := TeamPayload{
			TeamID:          t.TeamID,
			LegacyTeamID:    t.LegacyID,
			Tag:             &t.Tag,
			Logo:            &t.LogoRef,
			PlacementPoints: &t.PlacementPoints,
			Players:         FromPlayers(t.Players),
		}
		mp.Teams = append(mp.Teams, tp)
	}
	return mp
}

func FromPlayers(players []match.Player) []PlayerPayload {
	out := make([]PlayerPayload, 0, len(players))
	for _, p := range players {
		liveState := int(p.LiveState)
		out = append(out, PlayerPayload{
			PlayerID:     p.PlayerID,
			Name:         &p.Name,
			Kills:        &p.KillCount,
			HasDied:      &p.HasDied,
			LiveState:    &liveState,
			Health:       &p.Health,
			HealthMax:    &p.HealthMax,
			Damage:       &p.Damage,
			Assists:      &p.Assists,
			SurvivalTime: &p.SurvivalTime,
		})
	}
	return out
}

func ToPlayers(payloads []PlayerPayload) []match.Player {
	out := make([]match.Player, 0, len(payloads))
	for _, pp := range payloads {
		out = append(out, toPlayer(pp))
	}
	return out
}

func toPlayer(pp PlayerPayload) match.Player {
	p := match.Player{
		PlayerID:     pp.PlayerID,
		Name:         deref(pp.Name),
		KillCount:    max(deref(pp.Kills), 0),
		HasDied:      deref(pp.HasDied),
		Health:       max(deref(pp.Health), 0),
		HealthMax:    max(deref(pp.HealthMax), 0),
		Damage:       deref(pp.Damage),
		Assists:      deref(pp.Assists),
		SurvivalTime: deref(pp.SurvivalTime),
	}
	if ls := match.LiveState(deref(pp.LiveState)); ls.Valid() {
		p.LiveState = ls
	}
	return p
}

func toTeamPatch(tp TeamPayload) match.TeamPatch {
	return match.TeamPatch{
		TeamID:          teamRef(tp),
		Tag:             tp.Tag,
		LogoRef:         tp.Logo,
		PlacementPoints: tp.PlacementPoints,
		Players:         toPlayerPatches(tp.Players),
	}
}

func toPlayerPatches(in []PlayerPayload) []match.PlayerPatch {
	if len(in) == 0 {
		return nil
	}
	out := make([]match.PlayerPatch, 0, len(in))
	for _, pp := range in {
		if pp.PlayerID == "" {
			continue
		}
		out = append(out, toPlayerPatch(pp))
	}
	return out
}

func toPlayerPatch(pp PlayerPayload) match.PlayerPatch {
	out := match.PlayerPatch{
		PlayerID:     pp.PlayerID,
		Name:         pp.Name,
		KillCount:    pp.Kills,
		HasDied:      pp.HasDied,
		Health:       pp.Health,
		HealthMax:    pp.HealthMax,
		Damage:       pp.Damage,
		Assists:      pp.Assists,
		SurvivalTime: pp.SurvivalTime,
	}
	if pp.LiveState != nil {
		ls := match.LiveState(*pp.LiveState)
		out.LiveState = &ls
	}
	return out
}

// teamRef prefers the primary id and falls back to the legacy alias.
func teamRef(tp TeamPayload) string {
	if tp.TeamID != "" {
		return tp.TeamID
	}
	return tp.LegacyTeamID
}

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}

package match

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdjustKills(t *testing.T) {
	cases := []struct {
		name     string
		start    int
		delta    int
		expected int
	}{
		{name: "increment", start: 0, delta: 1, expected: 1},
		{name: "decrement", start: 3, delta: -1, expected: 2},
		{name: "never below zero", start: 1, delta: -4, expected: 0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := newTestSnapshot()
			s.Teams[0].Players[0].KillCount = tc.start

			got, err := AdjustKills(s, "A", "p1", tc.delta)
			require.NoError(t, err)
			assert.Equal(t, tc.expected, got.Teams[0].Players[0].KillCount)
			assert.Equal(t, tc.start, s.Teams[0].Players[0].KillCount)
		})
	}
}

func TestEdits_UnknownTargets(t *testing.T) {
	s := newTestSnapshot()

	_, err := AdjustKills(s, "A", "ghost", 1)
	assert.True(t, errors.Is(err, ErrUnknownPlayer))

	_, err = SetDied(s, "nope", "p1", true)
	assert.True(t, errors.Is(err, ErrUnknownTeam))

	_, err = SetPlacementPoints(s, "nope", 3)
	assert.True(t, errors.Is(err, ErrUnknownTeam))

	_, err = SetTeamEliminated(s, "nope", true)
	assert.True(t, errors.Is(err, ErrUnknownTeam))

	_, err = ReplaceRoster(s, "nope", nil)
	assert.True(t, errors.Is(err, ErrUnknownTeam))
}

func TestSetTeamEliminated(t *testing.T) {
	s := newTestSnapshot()

	got, err := SetTeamEliminated(s, "legacy-A", true)
	require.NoError(t, err)
	for _, p := range got.Teams[0].Players {
		assert.True(t, p.HasDied)
	}
	assert.True(t, got.Teams[0].Wiped(false))
	assert.False(t, s.Teams[0].Wiped(false))

	back, err := SetTeamEliminated(got, "A", false)
	require.NoError(t, err)
	assert.False(t, back.Teams[0].Wiped(false))
}

func TestReplaceRoster_DedupesByID(t *testing.T) {
	s := newTestSnapshot()
	got, err := ReplaceRoster(s, "B", []Player{
		{PlayerID: "x1", Name: "first"},
		{PlayerID: "x1", Name: "dupe"},
		{PlayerID: ""},
		{PlayerID: "x2", KillCount: -2},
	})
	require.NoError(t, err)
	assert.Equal(t, []Player{{PlayerID: "x1", Name: "first"}, {PlayerID: "x2"}}, got.Teams[1].Players)
	assert.Len(t, s.Teams[1].Players, 1)
}

func TestPlayerRemoved(t *testing.T) {
	cases := []struct {
		name      string
		player    Player
		apiHealth bool
		removed   bool
	}{
		{name: "alive", player: Player{LiveState: LiveAlive2, Health: 50, HealthMax: 100}, removed: false},
		{name: "has died", player: Player{HasDied: true}, removed: true},
		{name: "eliminated live state", player: Player{LiveState: LiveEliminated}, removed: true},
		{name: "knocked is still in play", player: Player{LiveState: LiveKnocked, Health: 10, HealthMax: 100}, removed: false},
		{name: "zero health counts with api health", player: Player{Health: 0, HealthMax: 100}, apiHealth: true, removed: true},
		{name: "zero health ignored without api health", player: Player{Health: 0, HealthMax: 100}, removed: false},
		{name: "no health data is not removal", player: Player{}, apiHealth: true, removed: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.removed, tc.player.Removed(tc.apiHealth))
		})
	}
}

func TestTeamWiped_EmptyTeam(t *testing.T) {
	assert.False(t, Team{TeamID: "A"}.Wiped(true))
}

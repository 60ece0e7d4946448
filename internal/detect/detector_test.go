package detect

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DoyleJ11/live-match-sync/internal/match"
)

func intp(v int) *int    { return &v }
func boolp(v bool) *bool { return &v }

func baseSnapshot() *match.Snapshot {
	return &match.Snapshot{
		MatchID: "m1",
		Teams: []match.Team{
			{TeamID: "A", Players: []match.Player{{PlayerID: "a1"}, {PlayerID: "a2"}, {PlayerID: "a3"}, {PlayerID: "a4"}}},
			{TeamID: "B", Players: []match.Player{{PlayerID: "b1"}, {PlayerID: "b2"}}},
		},
	}
}

func setKills(team, player string, kills int) match.Event {
	return match.Event{
		Type:   match.EvtSinglePlayerPatch,
		Team:   match.TeamPatch{TeamID: team},
		Player: match.PlayerPatch{PlayerID: player, KillCount: intp(kills)},
	}
}

// feed merges events one by one and collects every milestone observed.
func feed(d *Detector, s *match.Snapshot, events ...match.Event) (*match.Snapshot, []Milestone) {
	var all []Milestone
	for _, e := range events {
		next := match.Merge(s, e)
		all = append(all, d.Observe(s, next)...)
		s = next
	}
	return s, all
}

func kinds(ms []Milestone) []Kind {
	out := make([]Kind, 0, len(ms))
	for _, m := range ms {
		out = append(out, m.Kind)
	}
	return out
}

func TestDetector_FirstBloodFiresOnce(t *testing.T) {
	d := NewDetector()
	s := baseSnapshot()
	require.Empty(t, d.Observe(nil, s), "first snapshot primes only")

	_, got := feed(d, s,
		setKills("B", "b2", 1),
		setKills("A", "a1", 1),
		setKills("A", "a3", 1),
		setKills("B", "b1", 1),
	)

	require.Equal(t, []Kind{KindFirstBlood}, kinds(got))
	assert.Equal(t, "b2", got[0].PlayerID)
	assert.Equal(t, "B", got[0].TeamID)
}

func TestDetector_StreakFiresHighestNewTierOnly(t *testing.T) {
	d := NewDetector()
	s := baseSnapshot()
	s.Teams[0].Players[0].KillCount = 2
	d.Observe(nil, s)

	s, got := feed(d, s, setKills("A", "a1", 6))
	require.Len(t, got, 1, "one alert per entity per update")
	assert.Equal(t, KindKillStreak, got[0].Kind)
	assert.Equal(t, 2, got[0].Tier)
	assert.Equal(t, 6, got[0].Kills)

	// Dropping back below and crossing 3 and 5 again must not re-fire.
	s, got = feed(d, s, setKills("A", "a1", 2), setKills("A", "a1", 5))
	assert.Empty(t, got)

	_, got = feed(d, s, setKills("A", "a1", 8))
	require.Len(t, got, 1)
	assert.Equal(t, 3, got[0].Tier)
}

func TestDetector_FirstBloodAndStreakInOneUpdate(t *testing.T) {
	d := NewDetector()
	s := baseSnapshot()
	d.Observe(nil, s)

	_, got := feed(d, s, setKills("A", "a2", 3))
	assert.Equal(t, []Kind{KindFirstBlood, KindKillStreak}, kinds(got))
}

func TestDetector_TeamWipeFiresOnce(t *testing.T) {
	d := NewDetector()
	s := baseSnapshot()
	d.Observe(nil, s)

	dead := boolp(true)
	wipe := match.Event{Type: match.EvtBulkPlayerPatch, Team: match.TeamPatch{TeamID: "A", Players: []match.PlayerPatch{
		{PlayerID: "a1", HasDied: dead},
		{PlayerID: "a2", HasDied: dead},
		{PlayerID: "a3", HasDied: dead},
		{PlayerID: "a4", HasDied: dead},
	}}}

	s, got := feed(d, s, wipe)
	require.Equal(t, []Kind{KindTeamWiped}, kinds(got))
	assert.Equal(t, "A", got[0].TeamID)

	tag := "AAA"
	revive := match.Event{Type: match.EvtSinglePlayerPatch, Team: match.TeamPatch{TeamID: "A"}, Player: match.PlayerPatch{PlayerID: "a2", HasDied: boolp(false)}}
	_, got = feed(d, s,
		match.Event{Type: match.EvtTeamFieldPatch, Team: match.TeamPatch{TeamID: "A", Tag: &tag}},
		revive,
		wipe,
	)
	assert.Empty(t, got, "a wiped team never fires again")
}

func TestDetector_PartialWipeDoesNotFire(t *testing.T) {
	d := NewDetector()
	s := baseSnapshot()
	d.Observe(nil, s)

	state := match.LiveEliminated
	_, got := feed(d, s,
		match.Event{Type: match.EvtSinglePlayerPatch, Team: match.TeamPatch{TeamID: "B"}, Player: match.PlayerPatch{PlayerID: "b1", LiveState: &state}},
	)
	assert.Empty(t, got)
}

func TestDetector_MixedRemovalSignalsWipeTeam(t *testing.T) {
	d := NewDetector()
	s := baseSnapshot()
	d.Observe(nil, s)

	state := match.LiveEliminated
	_, got := feed(d, s,
		match.Event{Type: match.EvtSinglePlayerPatch, Team: match.TeamPatch{TeamID: "B"}, Player: match.PlayerPatch{PlayerID: "b1", LiveState: &state}},
		match.Event{Type: match.EvtSinglePlayerPatch, Team: match.TeamPatch{TeamID: "B"}, Player: match.PlayerPatch{PlayerID: "b2", HasDied: boolp(true)}},
	)
	assert.Equal(t, []Kind{KindTeamWiped}, kinds(got))
}

func TestDetector_PrimingSkipsPastMilestones(t *testing.T) {
	d := NewDetector()
	s := baseSnapshot()
	s.Teams[0].Players[0].KillCount = 4
	for i := range s.Teams[1].Players {
		s.Teams[1].Players[i].HasDied = true
	}
	assert.Empty(t, d.Observe(nil, s))

	_, got := feed(d, s, setKills("A", "a2", 1), setKills("A", "a1", 5))
	require.Len(t, got, 1, "first blood already happened; only tier 2 is new")
	assert.Equal(t, KindKillStreak, got[0].Kind)
	assert.Equal(t, 2, got[0].Tier)
}

func TestDetector_MatchChangeResetsLedger(t *testing.T) {
	d := NewDetector()
	s := baseSnapshot()
	d.Observe(nil, s)
	_, got := feed(d, s, setKills("A", "a1", 1))
	require.Len(t, got, 1)

	other := baseSnapshot()
	other.MatchID = "m2"
	assert.Empty(t, d.Observe(s, other))
	assert.Equal(t, "m2", d.Ledger().MatchID())

	_, got = feed(d, other, match.Event{Type: match.EvtSinglePlayerPatch, MatchID: "m2", Team: match.TeamPatch{TeamID: "A"}, Player: match.PlayerPatch{PlayerID: "a1", KillCount: intp(1)}})
	assert.Equal(t, []Kind{KindFirstBlood}, kinds(got))
}

func TestDetector_PrimeOnResync(t *testing.T) {
	d := NewDetector()
	empty := match.NewSnapshot("m1")
	assert.Empty(t, d.Observe(nil, empty))

	loaded := baseSnapshot()
	loaded.Teams[0].Players[0].KillCount = 3
	d.Prime(loaded)
	assert.True(t, d.Ledger().Fired("$match", string(KindFirstBlood)))

	_, got := feed(d, loaded, setKills("A", "a1", 4), setKills("B", "b1", 1))
	assert.Empty(t, got, "nothing new: tier 1 and first blood happened before the load")

	d.Prime(nil)
	assert.Equal(t, "m1", d.Ledger().MatchID())
}

func TestPresenter_NewerPreemptsOlder(t *testing.T) {
	expired := make(chan uint64, 4)
	p := NewPresenter(30*time.Millisecond, func(gen uint64) { expired <- gen })
	defer p.Stop()

	first := p.Show(Milestone{Kind: KindFirstBlood})
	second := p.Show(Milestone{Kind: KindTeamWiped, TeamID: "A"})

	cur, ok := p.Current()
	require.True(t, ok)
	assert.Equal(t, KindTeamWiped, cur.Kind)

	assert.False(t, p.Expire(first), "stale generation is ignored")

	select {
	case gen := <-expired:
		assert.Equal(t, second, gen, "pre-empted timer must not fire")
		assert.True(t, p.Expire(gen))
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for alert expiry")
	}

	_, ok = p.Current()
	assert.False(t, ok)
}

func TestPresenter_StopCancelsExpiry(t *testing.T) {
	expired := make(chan uint64, 1)
	p := NewPresenter(20*time.Millisecond, func(gen uint64) { expired <- gen })

	p.Show(Milestone{Kind: KindFirstBlood})
	p.Stop()

	select {
	case gen := <-expired:
		t.Fatalf("expiry %d fired after Stop", gen)
	case <-time.After(80 * time.Millisecond):
	}
	_, ok := p.Current()
	assert.False(t, ok)
}

func TestLedger(t *testing.T) {
	l := NewLedger()
	l.Reset("m1")
	assert.True(t, l.Mark("A", "x"))
	assert.False(t, l.Mark("A", "x"))
	assert.True(t, l.Fired("A", "x"))
	assert.False(t, l.Fired("B", "x"))

	l.Reset("m2")
	assert.Equal(t, 0, l.Len())
	assert.Equal(t, "m2", l.MatchID())
}

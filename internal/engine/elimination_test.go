package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func activeRoster(points map[string]int, order ...string) []Player {
	out := make([]Player, 0, len(order))
	for _, id := range order {
		out = append(out, Player{ID: id, Nickname: id, Points: points[id], GameStatus: GameActive, Status: PlayerConnected})
	}
	return out
}

func TestEliminationCount(t *testing.T) {
	cases := map[int]int{1: 1, 2: 1, 3: 1, 4: 1, 5: 1, 6: 2, 7: 2, 8: 2, 12: 2}
	for n, want := range cases {
		assert.Equal(t, want, EliminationCount(n), "participants=%d", n)
	}
}

func TestEliminate_TiedMinimumIsTruncatedDeterministically(t *testing.T) {
	players := activeRoster(map[string]int{"A": 100, "B": 100, "C": 100, "D": 100}, "A", "B", "C", "D")
	subs := map[string]int{"A": 10, "B": 10, "C": 15, "D": 20}

	res := Eliminate(players, subs)
	require.Equal(t, OutcomeElimination, res.Outcome)
	assert.Equal(t, []string{"A"}, res.Eliminated)
	assert.Equal(t, 10, res.MinRisk)
	assert.Equal(t, 10, res.PotIncrease)

	for i := 0; i < 20; i++ {
		again := Eliminate(players, subs)
		assert.Equal(t, res, again)
	}

	settled := Settle(players, res, subs)
	want := map[string]struct {
		points int
		status GameStatus
	}{
		"A": {90, GameEliminated},
		"B": {90, GameActive},
		"C": {85, GameActive},
		"D": {80, GameActive},
	}
	for _, p := range settled {
		assert.Equal(t, want[p.ID].points, p.Points, p.ID)
		assert.Equal(t, want[p.ID].status, p.GameStatus, p.ID)
		assert.False(t, p.HasRisked)
		assert.Zero(t, p.CurrentRisk)
	}
}

func TestEliminate_LargeTableEliminatesTwo(t *testing.T) {
	ids := []string{"p1", "p2", "p3", "p4", "p5", "p6", "p7", "p8"}
	points := map[string]int{}
	subs := map[string]int{}
	for i, id := range ids {
		points[id] = 100
		subs[id] = 5 + 5*(i%3)
	}
	// p1, p4, p7 all risked 5; only two leave.
	res := Eliminate(activeRoster(points, ids...), subs)
	assert.Equal(t, []string{"p1", "p4"}, res.Eliminated)
	assert.Equal(t, 10, res.PotIncrease)
}

func TestEliminate_PotCountsOnlyEliminated(t *testing.T) {
	players := activeRoster(map[string]int{"a": 100, "b": 100, "c": 100, "d": 100, "e": 100, "f": 100}, "a", "b", "c", "d", "e", "f")
	subs := map[string]int{"a": 5, "b": 5, "c": 5, "d": 20, "e": 25, "f": 10}

	res := Eliminate(players, subs)
	assert.Len(t, res.Eliminated, 2)
	assert.Equal(t, 10, res.PotIncrease, "three tied at 5 but only two eliminated")
}

func TestEliminate_ShowdownWithTwoOrFewer(t *testing.T) {
	players := activeRoster(map[string]int{"x": 100, "y": 100, "z": 100}, "x", "y", "z")
	subs := map[string]int{"x": 10, "z": 25}

	res := Eliminate(players, subs)
	assert.Equal(t, OutcomeShowdown, res.Outcome)
	assert.Equal(t, []string{"x", "z"}, res.Finalists)
	assert.Empty(t, res.Eliminated)
	assert.Zero(t, res.PotIncrease)

	settled := Settle(players, res, subs)
	assert.Equal(t, GameFinalist, settled[0].GameStatus)
	assert.Equal(t, GameActive, settled[1].GameStatus, "non participant keeps status")
	assert.Equal(t, 75, settled[2].Points)
}

func TestEliminate_IgnoresNonSubmittersAndInactive(t *testing.T) {
	players := activeRoster(map[string]int{"a": 100, "b": 100, "c": 100, "d": 100}, "a", "b", "c", "d")
	players[3].GameStatus = GameEliminated
	subs := map[string]int{"a": 20, "b": 15, "c": 10, "d": 5}

	res := Eliminate(players, subs)
	assert.Equal(t, []string{"a", "b", "c"}, res.Participants)
	assert.Equal(t, []string{"c"}, res.Eliminated)
}

func TestSettle_FallsOutBelowMinimum(t *testing.T) {
	players := activeRoster(map[string]int{"a": 20, "b": 100, "c": 100, "d": 100}, "a", "b", "c", "d")
	subs := map[string]int{"a": 5, "b": 25, "c": 20, "d": 20}
	players[0].Points = 8 // 8 - 5 = 3 < 5

	res := Eliminate(players, subs)
	settled := Settle(players, res, subs)
	assert.Equal(t, GameOut, settled[0].GameStatus)
	assert.Equal(t, 3, settled[0].Points)

	players = activeRoster(map[string]int{"a": 100, "b": 100, "c": 100, "d": 100}, "a", "b", "c", "d")
	players[3].Points = 9
	subs = map[string]int{"a": 5, "b": 25, "c": 20, "d": 5}
	res = Eliminate(players, subs)
	require.Equal(t, []string{"a"}, res.Eliminated)
	settled = Settle(players, res, subs)
	assert.Equal(t, GameOut, settled[3].GameStatus, "survivor below minimum is out too")
}

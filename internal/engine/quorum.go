package engine

// HasQuorum reports whether enough players are present (connected or away)
// to keep a host-absence countdown running. The absent host counts toward the
// total.
//
//	1 player   -> never
//	2 players  -> at least 1 present
//	>2 players -> at least half present, rounded up
func HasQuorum(players []Player) bool {
	total := len(players)
	present := 0
	for _, p := range players {
		if p.Present() {
			present++
		}
	}

	switch {
	case total <= 1:
		return false
	case total == 2:
		return present >= 1
	default:
		return present >= (total+1)/2
	}
}

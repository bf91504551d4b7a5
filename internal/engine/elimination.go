package engine

type Outcome string

const (
	OutcomeElimination Outcome = "elimination"
	OutcomeShowdown    Outcome = "showdown"
)

// Result is what a round's submissions decide. It never aliases its inputs.
type Result struct {
	Outcome      Outcome
	Participants []string
	Eliminated   []string
	Finalists    []string
	MinRisk      int
	PotIncrease  int
}

// EliminationCount is how many minimum-risk players leave the pot contest
// for a round with the given number of participants.
func EliminationCount(participants int) int {
	switch {
	case participants >= 8:
		return 2
	case participants >= 6:
		return 2
	case participants >= 4:
		return 1
	default:
		return 1
	}
}

// Eliminate decides a round. Participants are the active players that have a
// submission, taken in roster order; ties at the minimum are broken by that
// order, so the same inputs always produce the same result.
func Eliminate(active []Player, submissions map[string]int) Result {
	type entry struct {
		id   string
		risk int
	}
	var entries []entry
	for _, p := range active {
		if p.GameStatus != GameActive {
			continue
		}
		risk, ok := submissions[p.ID]
		if !ok {
			continue
		}
		entries = append(entries, entry{id: p.ID, risk: risk})
	}

	res := Result{Eliminated: []string{}}
	for _, e := range entries {
		res.Participants = append(res.Participants, e.id)
	}

	if len(entries) <= 2 {
		res.Outcome = OutcomeShowdown
		res.Finalists = append([]string{}, res.Participants...)
		return res
	}

	res.Outcome = OutcomeElimination
	res.MinRisk = entries[0].risk
	for _, e := range entries[1:] {
		if e.risk < res.MinRisk {
			res.MinRisk = e.risk
		}
	}

	limit := EliminationCount(len(entries))
	for _, e := range entries {
		if len(res.Eliminated) == limit {
			break
		}
		if e.risk == res.MinRisk {
			res.Eliminated = append(res.Eliminated, e.id)
			res.PotIncrease += e.risk
		}
	}
	return res
}

// Settle returns updated copies of players after res: every participant pays
// their risk, falls to out below MinimumToPlay, and otherwise takes the status
// the result assigns. Per-round scratch state is cleared for everyone.
func Settle(players []Player, res Result, submissions map[string]int) []Player {
	eliminated := toSet(res.Eliminated)
	finalists := toSet(res.Finalists)

	out := make([]Player, len(players))
	for i, p := range players {
		risk, submitted := submissions[p.ID]
		if p.GameStatus == GameActive && submitted && risk > 0 {
			p.Points = max(0, p.Points-risk)
			switch {
			case p.Points < MinimumToPlay:
				p.GameStatus = GameOut
			case eliminated[p.ID]:
				p.GameStatus = GameEliminated
			case finalists[p.ID]:
				p.GameStatus = GameFinalist
			default:
				p.GameStatus = GameActive
			}
		}
		p.HasRisked = false
		p.CurrentRisk = 0
		out[i] = p
	}
	return out
}

func toSet(ids []string) map[string]bool {
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}

package engine

// MaxRisk is 25% of points rounded down to the nearest RiskStep.
func MaxRisk(points int) int {
	if points <= 0 {
		return 0
	}
	return (points / 4) / RiskStep * RiskStep
}

// ValidRisks lists every amount ValidateRisk accepts for points, ascending.
func ValidRisks(points int) []int {
	out := []int{}
	for amount := RiskStep; amount <= MaxRisk(points) && amount <= points; amount += RiskStep {
		out = append(out, amount)
	}
	return out
}

// ValidateRisk checks a submission against the holdings of the player.
// Clauses are checked in a fixed order so the reported reason is deterministic.
func ValidateRisk(points, amount int) error {
	if amount%RiskStep != 0 {
		return ErrRiskNotMultipleOf5
	}
	if amount < RiskStep {
		return ErrRiskBelowMinimum
	}
	if amount > points {
		return ErrRiskExceedsPoints
	}
	if amount > MaxRisk(points) {
		return ErrRiskExceedsCap
	}
	return nil
}

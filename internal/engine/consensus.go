package engine

import "uptimeline/internal/domain"

// Verdict is the majority decision over a cycle's submissions.
type Verdict struct {
	Outcome string
	Up      int
	Down    int
	// Honest voted with the outcome, Dissenters against it. Both keep submission order.
	Honest     []string
	Dissenters []string
}

// Decide counts submitted votes, not required seats. UP needs a strict
// majority; a tie or an empty set resolves to DOWN.
func Decide(subs []domain.Submission) Verdict {
	var v Verdict
	for _, s := range subs {
		if s.IsUp {
			v.Up++
		} else {
			v.Down++
		}
	}
	v.Outcome = domain.StatusDown
	if v.Up > v.Down {
		v.Outcome = domain.StatusUp
	}
	for _, s := range subs {
		if s.IsUp == (v.Outcome == domain.StatusUp) {
			v.Honest = append(v.Honest, s.ValidatorID)
		} else {
			v.Dissenters = append(v.Dissenters, s.ValidatorID)
		}
	}
	return v
}

// Share splits a fixed reward equally; the remainder stays in the pool.
func Share(reward int64, winners int) int64 {
	if winners <= 0 || reward <= 0 {
		return 0
	}
	return reward / int64(winners)
}

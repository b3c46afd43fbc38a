package rotation

import "math"

const (
	// Score ranges narrower than this are treated as a tie.
	nearEqualRange   = 0.01
	suitabilityFloor = 50
	suitabilityCeil  = 100
	ladderStep       = 10
)

// SuitabilityScores maps raw scores, already sorted best first, onto the
// 50–100 percentage shown to users. Scores are scaled against the selected
// set only. When the set is effectively tied the percentages follow the rank
// ladder 100, 90, 80, … instead.
func SuitabilityScores(scores []float64) []int {
	if len(scores) == 0 {
		return []int{}
	}

	lo, hi := scores[0], scores[0]
	for _, s := range scores[1:] {
		lo = math.Min(lo, s)
		hi = math.Max(hi, s)
	}
	spread := hi - lo

	out := make([]int, len(scores))
	if spread < nearEqualRange {
		for i := range out {
			out[i] = max(suitabilityCeil-ladderStep*i, suitabilityFloor)
		}
		return out
	}

	for i, s := range scores {
		pct := int(math.Round((s - lo) / spread * suitabilityCeil))
		out[i] = max(pct, suitabilityFloor)
	}
	return out
}

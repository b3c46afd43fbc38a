package rotation

// NutrientBias labels the macronutrient that dominates a crop's soil profile.
type NutrientBias string

const (
	NitrogenHigh   NutrientBias = "N_high"
	PhosphorusHigh NutrientBias = "P_high"
	PotassiumHigh  NutrientBias = "K_high"
)

// RowBias returns the dominant nutrient of a single reading.
// N wins ties with P or K, P wins ties with K, and K takes whatever remains.
func RowBias(n, p, k float64) NutrientBias {
	switch {
	case n >= p && n >= k:
		return NitrogenHigh
	case p >= n && p >= k:
		return PhosphorusHigh
	default:
		return PotassiumHigh
	}
}

// biasTally counts per-row labels for one crop and remembers the order in
// which labels were first seen.
type biasTally struct {
	counts map[NutrientBias]int
	order  []NutrientBias
}

func newBiasTally() *biasTally {
	return &biasTally{counts: make(map[NutrientBias]int, 3)}
}

func (t *biasTally) add(b NutrientBias) {
	if _, seen := t.counts[b]; !seen {
		t.order = append(t.order, b)
	}
	t.counts[b]++
}

// mode returns the most frequent label. On a frequency tie the label that
// was encountered first wins.
func (t *biasTally) mode() NutrientBias {
	var (
		best      NutrientBias
		bestCount int
	)
	for _, b := range t.order {
		if c := t.counts[b]; c > bestCount {
			best, bestCount = b, c
		}
	}
	return best
}

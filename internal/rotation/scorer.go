package rotation

import (
	"errors"
	"sort"
	"strings"

	"crop-rotation/internal/models"
)

// ErrNotInitialized is returned when a query arrives before any aggregates
// were built. It signals a startup ordering bug and is never retried.
var ErrNotInitialized = errors.New("rotation: aggregates not initialized")

// Scoring weights.
const (
	samePlantingPenalty = -1.0
	rotationBonus       = 0.5
	legumeBonus         = 0.3
	legumeNitrogenLimit = 15.0
	temperatureWeight   = 0.3
	moistureWeight      = 0.3
	humidityWeight      = 0.2
)

// DefaultTopK is the number of recommendations returned when the caller
// does not ask for a specific count.
const DefaultTopK = 5

const fallbackReason = "Suitable for soil type"

var legumes = map[string]struct{}{
	"Pulses":    {},
	"Oil Seeds": {},
}

// IsLegume reports whether crop belongs to a nitrogen-fixing category.
func IsLegume(crop string) bool {
	_, ok := legumes[crop]
	return ok
}

// Query describes the current field conditions.
type Query struct {
	CurrentCrop string
	SoilType    string
	Temperature float64
	Humidity    float64
	Moisture    float64
	Nitrogen    float64
	Phosphorous float64
	Potassium   float64
	TopK        int
}

// Recommendation is one ranked candidate.
type Recommendation struct {
	Crop             string  `json:"crop"`
	Score            float64 `json:"score"`
	SuitabilityScore int     `json:"suitability_score"`
	Reason           string  `json:"reason"`
}

// Limits bound the work a single query can cause.
type Limits struct {
	// MaxTopK clamps Query.TopK.
	MaxTopK int
	// MaxCandidates caps the candidates scored per soil type; the first
	// MaxCandidates in alphabetical order are kept.
	MaxCandidates int
}

// DefaultLimits returns the limits used when none are configured.
func DefaultLimits() Limits {
	return Limits{MaxTopK: 50, MaxCandidates: 1000}
}

func (l Limits) withDefaults() Limits {
	d := DefaultLimits()
	if l.MaxTopK <= 0 {
		l.MaxTopK = d.MaxTopK
	}
	if l.MaxCandidates <= 0 {
		l.MaxCandidates = d.MaxCandidates
	}
	return l
}

type scoredCandidate struct {
	crop  string
	score float64
}

// Recommend ranks the crops observed on the query's soil type. An unknown
// soil yields an empty list and an unknown current crop skips the nutrient
// bias comparison; neither is an error. A nil bundle returns
// ErrNotInitialized.
func (a *Aggregates) Recommend(q Query, limits Limits) ([]Recommendation, error) {
	if a == nil {
		return nil, ErrNotInitialized
	}
	limits = limits.withDefaults()

	current := models.CanonicalName(q.CurrentCrop)
	candidates := a.candidates[models.CanonicalName(q.SoilType)]
	if len(candidates) > limits.MaxCandidates {
		candidates = candidates[:limits.MaxCandidates]
	}

	topK := q.TopK
	if topK > limits.MaxTopK {
		topK = limits.MaxTopK
	}
	if topK <= 0 || len(candidates) == 0 {
		return []Recommendation{}, nil
	}

	currentBias, currentKnown := a.bias[current]

	scored := make([]scoredCandidate, 0, len(candidates))
	for _, crop := range candidates {
		scored = append(scored, scoredCandidate{
			crop:  crop,
			score: a.score(crop, current, currentBias, currentKnown, q),
		})
	}

	// Candidates are alphabetical, so a stable sort breaks ties by name.
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].score > scored[j].score
	})
	if len(scored) > topK {
		scored = scored[:topK]
	}

	scores := make([]float64, len(scored))
	for i, c := range scored {
		scores[i] = c.score
	}
	suitability := SuitabilityScores(scores)

	out := make([]Recommendation, len(scored))
	for i, c := range scored {
		candBias, candKnown := a.bias[c.crop]
		out[i] = Recommendation{
			Crop:             c.crop,
			Score:            c.score,
			SuitabilityScore: suitability[i],
			Reason: explain(c.crop, current,
				currentKnown && candKnown && candBias != currentBias),
		}
	}
	return out, nil
}

func (a *Aggregates) score(crop, current string, currentBias NutrientBias, currentKnown bool, q Query) float64 {
	family := 0.0
	if crop == current {
		family = samePlantingPenalty
	}

	bonus := 0.0
	if candBias, ok := a.bias[crop]; ok && currentKnown && candBias != currentBias {
		bonus = rotationBonus
	}
	if q.Nitrogen < legumeNitrogenLimit && IsLegume(crop) {
		bonus += legumeBonus
	}

	env := 0.0
	if band, ok := a.bands[crop]; ok {
		if band.Temperature.Contains(q.Temperature) {
			env += temperatureWeight
		}
		if band.Moisture.Contains(q.Moisture) {
			env += moistureWeight
		}
		if band.Humidity.Contains(q.Humidity) {
			env += humidityWeight
		}
	}

	return family + bonus + env
}

func explain(crop, current string, biasDiffers bool) string {
	reasons := make([]string, 0, 3)
	if crop != current {
		reasons = append(reasons, "Crop rotation benefit")
	}
	if biasDiffers {
		reasons = append(reasons, "Different nutrient requirements")
	}
	if IsLegume(crop) {
		reasons = append(reasons, "Nitrogen fixing properties")
	}
	if len(reasons) == 0 {
		return fallbackReason
	}
	return strings.Join(reasons, "; ")
}

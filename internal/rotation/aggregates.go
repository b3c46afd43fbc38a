package rotation

import (
	"errors"
	"sort"

	"crop-rotation/internal/models"
)

// ErrNoObservations is returned by Build when the dataset is empty.
var ErrNoObservations = errors.New("rotation: no observations to build aggregates from")

// Band is a closed interval of observed values.
type Band struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Contains reports whether v lies within [Min, Max].
func (b Band) Contains(v float64) bool {
	return v >= b.Min && v <= b.Max
}

func (b *Band) widen(v float64) {
	if v < b.Min {
		b.Min = v
	}
	if v > b.Max {
		b.Max = v
	}
}

// EnvironmentBand is the observed tolerance of a crop.
type EnvironmentBand struct {
	Temperature Band `json:"temperature"`
	Moisture    Band `json:"moisture"`
	Humidity    Band `json:"humidity"`
}

// Aggregates is the immutable lookup bundle derived from one dataset.
// It is safe for concurrent use; nothing mutates it after Build returns.
type Aggregates struct {
	candidates   map[string][]string // soil -> sorted unique crops
	bias         map[string]NutrientBias
	bands        map[string]EnvironmentBand
	cropSoils    map[string][]string // crop -> sorted unique soils
	soils        []string
	crops        []string
	observations int
}

// Summary describes the size of a bundle.
type Summary struct {
	Observations int `json:"observations"`
	SoilTypes    int `json:"soil_types"`
	CropTypes    int `json:"crop_types"`
}

// Build groups the observations into the soil candidate index, the crop
// nutrient bias and the crop environment bands. Names are canonicalized here
// so rows coming from any source share the keys used at query time.
func Build(observations []models.Observation) (*Aggregates, error) {
	if len(observations) == 0 {
		return nil, ErrNoObservations
	}

	soilCrops := make(map[string]map[string]struct{})
	cropSoils := make(map[string]map[string]struct{})
	tallies := make(map[string]*biasTally)
	bands := make(map[string]EnvironmentBand)

	for i := range observations {
		obs := &observations[i]
		soil := models.CanonicalName(obs.SoilType)
		crop := models.CanonicalName(obs.CropType)

		addToSet(soilCrops, soil, crop)
		addToSet(cropSoils, crop, soil)

		tally, ok := tallies[crop]
		if !ok {
			tally = newBiasTally()
			tallies[crop] = tally
		}
		tally.add(RowBias(obs.Nitrogen, obs.Phosphorous, obs.Potassium))

		band, ok := bands[crop]
		if !ok {
			band = EnvironmentBand{
				Temperature: Band{Min: obs.Temperature, Max: obs.Temperature},
				Moisture:    Band{Min: obs.Moisture, Max: obs.Moisture},
				Humidity:    Band{Min: obs.Humidity, Max: obs.Humidity},
			}
		} else {
			band.Temperature.widen(obs.Temperature)
			band.Moisture.widen(obs.Moisture)
			band.Humidity.widen(obs.Humidity)
		}
		bands[crop] = band
	}

	agg := &Aggregates{
		candidates:   make(map[string][]string, len(soilCrops)),
		bias:         make(map[string]NutrientBias, len(tallies)),
		bands:        bands,
		cropSoils:    make(map[string][]string, len(cropSoils)),
		observations: len(observations),
	}

	for soil, set := range soilCrops {
		agg.candidates[soil] = sortedKeys(set)
	}
	for crop, set := range cropSoils {
		agg.cropSoils[crop] = sortedKeys(set)
	}
	for crop, tally := range tallies {
		agg.bias[crop] = tally.mode()
	}

	agg.soils = sortedKeys(soilCrops)
	agg.crops = sortedKeys(cropSoils)

	return agg, nil
}

func addToSet(m map[string]map[string]struct{}, key, value string) {
	set, ok := m[key]
	if !ok {
		set = make(map[string]struct{})
		m[key] = set
	}
	set[value] = struct{}{}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Candidates returns the crops observed on soil in alphabetical order.
// Unknown soils yield an empty slice.
func (a *Aggregates) Candidates(soil string) []string {
	if a == nil {
		return nil
	}
	return append([]string(nil), a.candidates[models.CanonicalName(soil)]...)
}

// Bias returns the dominant nutrient bias of crop.
func (a *Aggregates) Bias(crop string) (NutrientBias, bool) {
	if a == nil {
		return "", false
	}
	b, ok := a.bias[models.CanonicalName(crop)]
	return b, ok
}

// Band returns the environment band of crop.
func (a *Aggregates) Band(crop string) (EnvironmentBand, bool) {
	if a == nil {
		return EnvironmentBand{}, false
	}
	b, ok := a.bands[models.CanonicalName(crop)]
	return b, ok
}

// Soils lists every soil type in alphabetical order.
func (a *Aggregates) Soils() []string {
	if a == nil {
		return nil
	}
	return append([]string(nil), a.soils...)
}

// Crops lists every crop type in alphabetical order.
func (a *Aggregates) Crops() []string {
	if a == nil {
		return nil
	}
	return append([]string(nil), a.crops...)
}

// Summary reports the bundle size.
func (a *Aggregates) Summary() Summary {
	if a == nil {
		return Summary{}
	}
	return Summary{
		Observations: a.observations,
		SoilTypes:    len(a.soils),
		CropTypes:    len(a.crops),
	}
}

// CropProfile is everything the bundle knows about one crop.
type CropProfile struct {
	Crop   string          `json:"crop"`
	Bias   NutrientBias    `json:"nutrient_bias"`
	Band   EnvironmentBand `json:"environment_band"`
	Legume bool            `json:"nitrogen_fixing"`
	Soils  []string        `json:"soil_types"`
}

// Profile returns the profile of crop, or false if the crop never appeared
// in the dataset.
func (a *Aggregates) Profile(crop string) (CropProfile, bool) {
	if a == nil {
		return CropProfile{}, false
	}
	name := models.CanonicalName(crop)
	soils, ok := a.cropSoils[name]
	if !ok {
		return CropProfile{}, false
	}
	return CropProfile{
		Crop:   name,
		Bias:   a.bias[name],
		Band:   a.bands[name],
		Legume: IsLegume(name),
		Soils:  append([]string(nil), soils...),
	}, true
}

package models

import (
	"math"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Observation is one row of the soil/crop reference dataset.
// Soil and crop names are stored in canonical form (see CanonicalName).
type Observation struct {
	ID          int64     `json:"id,omitempty" db:"id"`
	SoilType    string    `json:"soil_type" db:"soil_type"`
	CropType    string    `json:"crop_type" db:"crop_type"`
	Nitrogen    float64   `json:"nitrogen" db:"nitrogen"`
	Phosphorous float64   `json:"phosphorous" db:"phosphorous"`
	Potassium   float64   `json:"potassium" db:"potassium"`
	Temperature float64   `json:"temperature" db:"temperature"`
	Humidity    float64   `json:"humidity" db:"humidity"`
	Moisture    float64   `json:"moisture" db:"moisture"`
	CreatedAt   time.Time `json:"created_at,omitempty" db:"created_at"`
}

// CanonicalName trims surrounding whitespace and title-cases a soil or crop
// name ("  oil seeds " -> "Oil Seeds"). The same rule is applied to the
// reference data and to query input so lookup keys match.
func CanonicalName(name string) string {
	// A Caser keeps state between calls; one per call keeps this safe for
	// concurrent queries.
	return cases.Title(language.Und).String(strings.TrimSpace(name))
}

// RawSoilRecord is a single dataset line before parsing.
// Used during CSV ingestion.
type RawSoilRecord struct {
	SoilType    string
	CropType    string
	Nitrogen    string
	Phosphorous string
	Potassium   string
	Temperature string
	Humidity    string
	Moisture    string
}

// ToObservation parses and normalizes the raw record.
// Names must be non-empty; N, P and K must be non-negative numbers.
func (r *RawSoilRecord) ToObservation() (*Observation, error) {
	obs := &Observation{
		SoilType:  CanonicalName(r.SoilType),
		CropType:  CanonicalName(r.CropType),
		CreatedAt: time.Now().UTC(),
	}

	if obs.SoilType == "" {
		return nil, &ValidationError{Field: "soil_type", Value: r.SoilType, Message: "soil type is empty"}
	}
	if obs.CropType == "" {
		return nil, &ValidationError{Field: "crop_type", Value: r.CropType, Message: "crop type is empty"}
	}

	fields := []struct {
		name        string
		raw         string
		dest        *float64
		nonNegative bool
	}{
		{"nitrogen", r.Nitrogen, &obs.Nitrogen, true},
		{"phosphorous", r.Phosphorous, &obs.Phosphorous, true},
		{"potassium", r.Potassium, &obs.Potassium, true},
		{"temperature", r.Temperature, &obs.Temperature, false},
		{"humidity", r.Humidity, &obs.Humidity, false},
		{"moisture", r.Moisture, &obs.Moisture, false},
	}

	for _, f := range fields {
		v, err := strconv.ParseFloat(strings.TrimSpace(f.raw), 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, &ValidationError{
				Field:   f.name,
				Value:   f.raw,
				Message: f.name + " is not a number",
			}
		}
		if f.nonNegative && v < 0 {
			return nil, &ValidationError{
				Field:   f.name,
				Value:   f.raw,
				Message: f.name + " must be non-negative",
			}
		}
		*f.dest = v
	}

	return obs, nil
}

// ValidationError represents a data validation error
type ValidationError struct {
	Field   string
	Value   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// IsTransient returns false as validation errors are permanent
func (e *ValidationError) IsTransient() bool {
	return false
}

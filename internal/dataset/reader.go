package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"crop-rotation/internal/models"
)

// ErrMissingColumn is returned when the header lacks a required column.
var ErrMissingColumn = errors.New("dataset: missing required column")

type column int

const (
	colSoilType column = iota
	colCropType
	colNitrogen
	colPhosphorous
	colPotassium
	colTemperature
	colHumidity
	colMoisture
	numColumns
)

// headerAliases maps normalized header names onto columns. The reference
// file spells the temperature column "Temparature".
var headerAliases = map[string]column{
	"soil_type":   colSoilType,
	"crop_type":   colCropType,
	"nitrogen":    colNitrogen,
	"phosphorous": colPhosphorous,
	"phosphorus":  colPhosphorous,
	"potassium":   colPotassium,
	"temparature": colTemperature,
	"temperature": colTemperature,
	"humidity":    colHumidity,
	"moisture":    colMoisture,
}

var columnNames = [numColumns]string{
	"Soil_Type", "Crop_Type", "Nitrogen", "Phosphorous",
	"Potassium", "Temparature", "Humidity", "Moisture",
}

// NormalizeHeader trims a header cell and replaces inner spaces with
// underscores ("Soil Type " -> "soil_type").
func NormalizeHeader(h string) string {
	h = strings.TrimPrefix(h, "\ufeff")
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(h), " ", "_"))
}

// RowError describes a data row that could not be parsed. The row is skipped.
type RowError struct {
	Line int
	Err  error
}

func (e *RowError) Error() string {
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

func (e *RowError) Unwrap() error {
	return e.Err
}

// IsTransient returns false; re-reading the same file fails the same way.
func (e *RowError) IsTransient() bool {
	return false
}

// Reader streams observations from a CSV dataset.
type Reader struct {
	csv   *csv.Reader
	index [numColumns]int
	width int
	rows  int
}

// NewReader reads and validates the header line.
func NewReader(r io.Reader) (*Reader, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	cr.ReuseRecord = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("read header: empty dataset")
		}
		return nil, fmt.Errorf("read header: %w", err)
	}

	rd := &Reader{csv: cr}
	for i := range rd.index {
		rd.index[i] = -1
	}
	for i, h := range header {
		col, ok := headerAliases[NormalizeHeader(h)]
		if !ok || rd.index[col] >= 0 {
			continue
		}
		rd.index[col] = i
		rd.width = max(rd.width, i+1)
	}

	var missing []string
	for col, idx := range rd.index {
		if idx < 0 {
			missing = append(missing, columnNames[col])
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingColumn, strings.Join(missing, ", "))
	}

	return rd, nil
}

// Next returns the next observation. A malformed row yields a *RowError and
// the caller may keep reading; io.EOF marks the end of the data.
func (r *Reader) Next() (*models.Observation, error) {
	record, err := r.csv.Read()
	if err != nil {
		var pe *csv.ParseError
		if errors.As(err, &pe) {
			r.rows++
			return nil, &RowError{Line: pe.StartLine, Err: pe.Err}
		}
		return nil, err
	}
	r.rows++
	line, _ := r.csv.FieldPos(0)

	if len(record) < r.width {
		return nil, &RowError{
			Line: line,
			Err:  fmt.Errorf("expected at least %d fields, got %d", r.width, len(record)),
		}
	}

	raw := models.RawSoilRecord{
		SoilType:    record[r.index[colSoilType]],
		CropType:    record[r.index[colCropType]],
		Nitrogen:    record[r.index[colNitrogen]],
		Phosphorous: record[r.index[colPhosphorous]],
		Potassium:   record[r.index[colPotassium]],
		Temperature: record[r.index[colTemperature]],
		Humidity:    record[r.index[colHumidity]],
		Moisture:    record[r.index[colMoisture]],
	}

	obs, err := raw.ToObservation()
	if err != nil {
		return nil, &RowError{Line: line, Err: err}
	}
	return obs, nil
}

// Rows reports how many data rows have been read so far.
func (r *Reader) Rows() int {
	return r.rows
}

// ParseResult is a fully read dataset.
type ParseResult struct {
	Observations []models.Observation
	Rejected     []RowError
	TotalRows    int
}

// Parse reads every row of a CSV dataset. Header problems are fatal; bad
// rows are collected in Rejected and skipped.
func Parse(r io.Reader) (*ParseResult, error) {
	rd, err := NewReader(r)
	if err != nil {
		return nil, err
	}

	result := &ParseResult{}
	for {
		obs, err := rd.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var rowErr *RowError
			if errors.As(err, &rowErr) {
				result.Rejected = append(result.Rejected, *rowErr)
				continue
			}
			return nil, fmt.Errorf("read dataset: %w", err)
		}
		result.Observations = append(result.Observations, *obs)
	}
	result.TotalRows = rd.Rows()

	return result, nil
}

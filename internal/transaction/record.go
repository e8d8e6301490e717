// Package transaction holds the raw card transaction table as read from CSV
// and the typed record view the feature pipeline consumes.
package transaction

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"fraud-detector/internal/common"

	"github.com/rs/zerolog/log"
)

// ErrMissingColumn is returned when a table lacks a column every record needs.
var ErrMissingColumn = errors.New("required column missing")

// RequiredColumns must be present in every input table.
var RequiredColumns = []string{
	common.ColTransDateTime,
	common.ColCategory,
	common.ColAmount,
	common.ColCity,
	common.ColState,
	common.ColLat,
	common.ColLong,
	common.ColCityPop,
	common.ColJob,
	common.ColMerchLat,
	common.ColMerchLong,
}

// Record is one card transaction. Numeric fields that were empty or
// unparseable hold NaN.
type Record struct {
	TransDateTime string
	Merchant      string
	Category      string
	Amount        float64
	City          string
	State         string
	Lat           float64
	Long          float64
	CityPop       float64
	Job           string
	DOB           string
	TransNum      string
	MerchLat      float64
	MerchLong     float64
	IsFraud       *bool
}

// Fraud reports the ground truth flag, false when unknown.
func (r Record) Fraud() bool {
	return r.IsFraud != nil && *r.IsFraud
}

// Batch is the set of records read from one table. Column presence is a
// property of the table, not of individual rows.
type Batch struct {
	Records   []Record
	HasDOB    bool
	HasLabels bool
}

// Labels returns the ground truth flags. Only meaningful when HasLabels.
func (b *Batch) Labels() []bool {
	labels := make([]bool, len(b.Records))
	for i, r := range b.Records {
		labels[i] = r.Fraud()
	}
	return labels
}

// Batch converts the table rows into typed records.
func (t *Table) Batch() (*Batch, error) {
	var missing []string
	for _, col := range RequiredColumns {
		if !t.Has(col) {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingColumn, strings.Join(missing, ", "))
	}

	b := &Batch{
		Records:   make([]Record, 0, len(t.Rows)),
		HasDOB:    t.Has(common.ColDOB),
		HasLabels: t.Has(common.ColIsFraud),
	}

	dropped := 0
	for _, row := range t.Rows {
		get := func(col string) string {
			idx, ok := t.index[col]
			if !ok || idx >= len(row) {
				return ""
			}
			return strings.TrimSpace(row[idx])
		}

		rec := Record{
			TransDateTime: get(common.ColTransDateTime),
			Merchant:      get(common.ColMerchant),
			Category:      get(common.ColCategory),
			Amount:        parseFloat(get(common.ColAmount)),
			City:          get(common.ColCity),
			State:         get(common.ColState),
			Lat:           parseFloat(get(common.ColLat)),
			Long:          parseFloat(get(common.ColLong)),
			CityPop:       parseFloat(get(common.ColCityPop)),
			Job:           get(common.ColJob),
			DOB:           get(common.ColDOB),
			TransNum:      get(common.ColTransNum),
			MerchLat:      parseFloat(get(common.ColMerchLat)),
			MerchLong:     parseFloat(get(common.ColMerchLong)),
		}
		if b.HasLabels {
			if v, ok := parseLabel(get(common.ColIsFraud)); ok {
				rec.IsFraud = &v
			} else {
				dropped++
			}
		}
		b.Records = append(b.Records, rec)
	}
	if dropped > 0 {
		log.Debug().Int("rows", dropped).Msg("unparseable fraud labels treated as unknown")
	}

	return b, nil
}

// parseLabel accepts boolean spellings ("true", "False", "1") and numbers,
// where any non-zero value is fraud.
func parseLabel(s string) (bool, bool) {
	if s == "" {
		return false, false
	}
	if v, err := strconv.ParseBool(s); err == nil {
		return v, true
	}
	if v, err := strconv.ParseBool(strings.ToLower(s)); err == nil {
		return v, true
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) {
		return false, false
	}
	return f != 0, true
}

func parseFloat(s string) float64 {
	if s == "" {
		return math.NaN()
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return math.NaN()
	}
	return f
}

// Package features turns card transactions into the numeric rows the fraud
// models consume, and derives the per-customer signals used in analysis.
package features

import (
	"errors"
	"fmt"
	"math"
	"time"

	"fraud-detector/internal/common"
	"fraud-detector/internal/transaction"

	"github.com/rs/zerolog/log"
)

var ErrEmptyBatch = errors.New("empty batch")

// Mode selects whether encoders are built or reused.
type Mode int

const (
	// ModeFit builds fresh encoders from the batch.
	ModeFit Mode = iota
	// ModeApply reuses the supplied encoders and never changes them.
	ModeApply
)

func (m Mode) String() string {
	switch m {
	case ModeFit:
		return "fit"
	case ModeApply:
		return "apply"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// FeatureVector is one model-ready row, ordered by the frame schema.
type FeatureVector []float64

// Frame is the output of a transform.
type Frame struct {
	Schema Schema
	Rows   []FeatureVector
	// Fallbacks counts unseen categorical values per column.
	Fallbacks map[string]int
	// DateFailures counts timestamps and birth dates that could not be parsed.
	DateFailures int
}

// Column returns one feature across all rows.
func (f *Frame) Column(name string) ([]float64, bool) {
	idx := f.Schema.Index(name)
	if idx < 0 {
		return nil, false
	}
	out := make([]float64, len(f.Rows))
	for i, row := range f.Rows {
		out[i] = row[idx]
	}
	return out, true
}

// Matrix returns the rows as plain slices.
func (f *Frame) Matrix() [][]float64 {
	m := make([][]float64, len(f.Rows))
	for i, row := range f.Rows {
		m[i] = row
	}
	return m
}

// MetricsTracker receives counts from the pipeline. A nil tracker is allowed.
type MetricsTracker interface {
	FeatureErrorsInc()
	CategoryFallbackInc(column string)
	FeatureCalcDuration(duration time.Duration)
	FeatureSampleCount(count int)
}

type Pipeline struct {
	metrics MetricsTracker
}

func NewPipeline(m MetricsTracker) *Pipeline {
	return &Pipeline{metrics: m}
}

// Transform converts a batch into feature rows.
//
// In ModeFit the encoders argument is ignored and a new table is built from
// the batch. In ModeApply the given table is used read-only and returned as
// is; values it has never seen are encoded as its first class.
func (p *Pipeline) Transform(batch *transaction.Batch, encoders EncoderTable, mode Mode) (*Frame, EncoderTable, error) {
	start := time.Now()

	switch mode {
	case ModeFit:
		if len(batch.Records) == 0 {
			return nil, nil, fmt.Errorf("cannot fit encoders: %w", ErrEmptyBatch)
		}
		encoders = fitEncoders(batch.Records)
	case ModeApply:
		if err := encoders.Validate(); err != nil {
			return nil, nil, err
		}
	default:
		return nil, nil, fmt.Errorf("unknown transform mode %v", mode)
	}

	frame := &Frame{
		Schema:    BaseSchema(batch.HasDOB),
		Rows:      make([]FeatureVector, 0, len(batch.Records)),
		Fallbacks: make(map[string]int),
	}

	for _, rec := range batch.Records {
		frame.Rows = append(frame.Rows, p.vector(rec, batch.HasDOB, encoders, frame))
	}

	for col, n := range frame.Fallbacks {
		log.Debug().
			Str("column", col).
			Int("count", n).
			Str("fallback", encoders[col].Fallback()).
			Msg("unseen categories mapped to fallback class")
	}
	if frame.DateFailures > 0 {
		log.Debug().Int("count", frame.DateFailures).Msg("unparseable dates treated as unknown")
	}

	if p.metrics != nil {
		p.metrics.FeatureSampleCount(len(frame.Rows))
		p.metrics.FeatureCalcDuration(time.Since(start))
	}

	return frame, encoders, nil
}

func (p *Pipeline) vector(rec transaction.Record, withDOB bool, encoders EncoderTable, frame *Frame) FeatureVector {
	encode := func(col, value string) float64 {
		code, ok := encoders[col].Encode(value)
		if !ok {
			frame.Fallbacks[col]++
			if p.metrics != nil {
				p.metrics.CategoryFallbackInc(col)
			}
		}
		return float64(code)
	}

	dateParts := func(s string) (time.Time, bool) {
		t, ok := ParseTime(s)
		if !ok {
			frame.DateFailures++
			if p.metrics != nil {
				p.metrics.FeatureErrorsInc()
			}
		}
		return t, ok
	}

	v := make(FeatureVector, 0, len(frame.Schema))
	v = append(v,
		encode(common.ColCategory, rec.Category),
		rec.Amount,
		encode(common.ColCity, rec.City),
		encode(common.ColState, rec.State),
		rec.Lat,
		rec.Long,
		rec.CityPop,
		encode(common.ColJob, rec.Job),
		rec.MerchLat,
		rec.MerchLong,
	)

	if withDOB {
		if dob, ok := dateParts(rec.DOB); ok {
			v = append(v, float64(dob.Year()), float64(dob.Month()), float64(dob.Day()))
		} else {
			v = append(v, math.NaN(), math.NaN(), math.NaN())
		}
	}

	if ts, ok := dateParts(rec.TransDateTime); ok {
		v = append(v, float64(ts.Hour()), float64(ts.Day()), float64(ts.Month()))
	} else {
		v = append(v, math.NaN(), math.NaN(), math.NaN())
	}

	for i, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			v[i] = 0
		}
	}
	return v
}

func fitEncoders(records []transaction.Record) EncoderTable {
	values := make(map[string][]string, len(CategoricalColumns))
	for _, rec := range records {
		values[common.ColCategory] = append(values[common.ColCategory], rec.Category)
		values[common.ColState] = append(values[common.ColState], rec.State)
		values[common.ColJob] = append(values[common.ColJob], rec.Job)
		values[common.ColCity] = append(values[common.ColCity], rec.City)
	}

	table := make(EncoderTable, len(CategoricalColumns))
	for _, col := range CategoricalColumns {
		table[col] = FitLabelEncoder(values[col])
	}
	return table
}

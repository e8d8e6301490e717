package features

import (
	"math"
	"testing"
	"time"

	"fraud-detector/internal/transaction"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MockMetricsTracker is a mock implementation of MetricsTracker for testing.
type MockMetricsTracker struct {
	FeatureErrorsIncCalled int
	Fallbacks              map[string]int
	CalcDurationInvoked    bool
	LastSampleCount        int
}

func (m *MockMetricsTracker) FeatureErrorsInc() {
	m.FeatureErrorsIncCalled++
}

func (m *MockMetricsTracker) CategoryFallbackInc(column string) {
	if m.Fallbacks == nil {
		m.Fallbacks = make(map[string]int)
	}
	m.Fallbacks[column]++
}

func (m *MockMetricsTracker) FeatureCalcDuration(duration time.Duration) {
	m.CalcDurationInvoked = true
}

func (m *MockMetricsTracker) FeatureSampleCount(count int) {
	m.LastSampleCount = count
}

func record(category, city, ts string) transaction.Record {
	return transaction.Record{
		TransDateTime: ts,
		Merchant:      "fraud_Kirlin",
		Category:      category,
		Amount:        42.5,
		City:          city,
		State:         "WA",
		Lat:           48.8878,
		Long:          -118.2105,
		CityPop:       149,
		Job:           "Nurse",
		DOB:           "1978-06-21",
		TransNum:      "abc",
		MerchLat:      49.15,
		MerchLong:     -118.18,
	}
}

func trainingBatch() *transaction.Batch {
	return &transaction.Batch{
		HasDOB: true,
		Records: []transaction.Record{
			record("grocery_pos", "Orient", "2020-06-15 10:00:00"),
			record("home", "Boulder", "2020-06-15 11:00:00"),
			record("travel", "Denver", "2020-06-16 12:00:00"),
		},
	}
}

func TestTransform_FitBuildsSortedEncoders(t *testing.T) {
	p := NewPipeline(nil)

	frame, enc, err := p.Transform(trainingBatch(), nil, ModeFit)
	require.NoError(t, err)
	require.NoError(t, enc.Validate())

	assert.Equal(t, []string{"grocery_pos", "home", "travel"}, enc["category"].Classes())
	assert.Equal(t, []string{"Boulder", "Denver", "Orient"}, enc["city"].Classes())
	assert.Equal(t, []string{"WA"}, enc["state"].Classes())
	assert.Equal(t, BaseSchema(true), frame.Schema)
	assert.Len(t, frame.Rows, 3)
	assert.Empty(t, frame.Fallbacks)
}

func TestTransform_FitEmptyBatch(t *testing.T) {
	_, _, err := NewPipeline(nil).Transform(&transaction.Batch{}, nil, ModeFit)
	assert.ErrorIs(t, err, ErrEmptyBatch)
}

func TestTransform_ApplyRequiresEncoders(t *testing.T) {
	_, _, err := NewPipeline(nil).Transform(trainingBatch(), EncoderTable{}, ModeApply)
	assert.ErrorIs(t, err, ErrMissingEncoder)
}

func TestTransform_DropsIdentifiersAndDerivesDates(t *testing.T) {
	batch := &transaction.Batch{
		HasDOB:  true,
		Records: []transaction.Record{record("home", "Orient", "2020-06-15T10:00:00")},
	}
	frame, _, err := NewPipeline(nil).Transform(batch, nil, ModeFit)
	require.NoError(t, err)

	for _, dropped := range []string{"trans_num", "merchant", "is_fraud", "dob", "trans_date_trans_time"} {
		assert.Equal(t, -1, frame.Schema.Index(dropped), dropped)
	}

	row := frame.Rows[0]
	get := func(name string) float64 { return row[frame.Schema.Index(name)] }
	assert.Equal(t, 10.0, get("hour"))
	assert.Equal(t, 15.0, get("day"))
	assert.Equal(t, 6.0, get("month"))
	assert.Equal(t, 1978.0, get("dob_year"))
	assert.Equal(t, 6.0, get("dob_month"))
	assert.Equal(t, 21.0, get("dob_day"))
	assert.Equal(t, 42.5, get("amt"))
}

func TestTransform_WithoutDOBColumn(t *testing.T) {
	batch := trainingBatch()
	batch.HasDOB = false

	frame, _, err := NewPipeline(nil).Transform(batch, nil, ModeFit)
	require.NoError(t, err)
	assert.Equal(t, BaseSchema(false), frame.Schema)
	assert.Equal(t, -1, frame.Schema.Index("dob_year"))
	assert.Len(t, frame.Rows[0], len(BaseSchema(false)))
}

func TestTransform_BadDatesFailSoft(t *testing.T) {
	rec := record("home", "Orient", "not a timestamp")
	rec.DOB = "31/31/31"
	batch := &transaction.Batch{HasDOB: true, Records: []transaction.Record{rec}}
	metrics := &MockMetricsTracker{}

	frame, _, err := NewPipeline(metrics).Transform(batch, nil, ModeFit)
	require.NoError(t, err)

	row := frame.Rows[0]
	for _, name := range []string{"dob_year", "dob_month", "dob_day", "hour", "day", "month"} {
		assert.Equal(t, 0.0, row[frame.Schema.Index(name)], name)
	}
	assert.Equal(t, 2, frame.DateFailures)
	assert.Equal(t, 2, metrics.FeatureErrorsIncCalled)
}

func TestTransform_MissingNumericsFilledWithZero(t *testing.T) {
	rec := record("home", "Orient", "2020-06-15 10:00:00")
	rec.Amount = math.NaN()
	rec.CityPop = math.NaN()
	batch := &transaction.Batch{HasDOB: true, Records: []transaction.Record{rec}}

	frame, _, err := NewPipeline(nil).Transform(batch, nil, ModeFit)
	require.NoError(t, err)

	for i, v := range frame.Rows[0] {
		assert.False(t, math.IsNaN(v), frame.Schema[i])
	}
	assert.Equal(t, 0.0, frame.Rows[0][frame.Schema.Index("amt")])
	assert.Equal(t, 0.0, frame.Rows[0][frame.Schema.Index("city_pop")])
}

func TestTransform_UnseenCategoryMapsToFirstClass(t *testing.T) {
	p := NewPipeline(nil)
	fitBatch := &transaction.Batch{
		HasDOB: true,
		Records: []transaction.Record{
			record("A", "Orient", "2020-06-15 10:00:00"),
			record("B", "Orient", "2020-06-15 10:00:00"),
		},
	}
	_, enc, err := p.Transform(fitBatch, nil, ModeFit)
	require.NoError(t, err)

	applyBatch := &transaction.Batch{
		HasDOB: true,
		Records: []transaction.Record{
			record("C", "Orient", "2020-06-15 10:00:00"),
			record("A", "Orient", "2020-06-15 10:00:00"),
		},
	}
	frame, out, err := p.Transform(applyBatch, enc, ModeApply)
	require.NoError(t, err)

	idx := frame.Schema.Index("category")
	assert.Equal(t, frame.Rows[1][idx], frame.Rows[0][idx])
	assert.Equal(t, 1, frame.Fallbacks["category"])
	assert.Equal(t, []string{"A", "B"}, out["category"].Classes(), "apply must not grow the encoder")
}

func TestTransform_ApplyIsIdempotent(t *testing.T) {
	p := NewPipeline(nil)
	_, enc, err := p.Transform(trainingBatch(), nil, ModeFit)
	require.NoError(t, err)

	batch := trainingBatch()
	batch.Records = append(batch.Records, record("unknown", "Nowhere", "bad"))

	first, _, err := p.Transform(batch, enc, ModeApply)
	require.NoError(t, err)
	second, _, err := p.Transform(batch, enc, ModeApply)
	require.NoError(t, err)

	assert.Equal(t, first.Rows, second.Rows)
}

func TestTransform_EndToEndUnseenCity(t *testing.T) {
	metrics := &MockMetricsTracker{}
	p := NewPipeline(metrics)

	known := []transaction.Record{
		record("grocery_pos", "Orient", "2020-06-15 10:00:00"),
		record("home", "Boulder", "2020-06-15 11:00:00"),
		record("travel", "Denver", "2020-06-16 12:00:00"),
		record("home", "Orient", "2020-06-17 13:00:00"),
		record("travel", "Boulder", "2020-06-18 14:00:00"),
	}
	_, enc, err := p.Transform(&transaction.Batch{HasDOB: true, Records: known}, nil, ModeFit)
	require.NoError(t, err)

	rows := append(append([]transaction.Record(nil), known...), record("home", "Atlantis", "2020-06-19 15:00:00"))
	frame, _, err := p.Transform(&transaction.Batch{HasDOB: true, Records: rows}, enc, ModeApply)
	require.NoError(t, err)

	require.Len(t, frame.Rows, 6)
	for _, row := range frame.Rows {
		for _, v := range row {
			assert.False(t, math.IsNaN(v))
		}
	}

	fallback, _ := enc["city"].Encode(enc["city"].Fallback())
	assert.Equal(t, float64(fallback), frame.Rows[5][frame.Schema.Index("city")])
	assert.Equal(t, 1, metrics.Fallbacks["city"])
	assert.Equal(t, 6, metrics.LastSampleCount)
	assert.True(t, metrics.CalcDurationInvoked)
}

func TestFrame_Column(t *testing.T) {
	frame, _, err := NewPipeline(nil).Transform(trainingBatch(), nil, ModeFit)
	require.NoError(t, err)

	hours, ok := frame.Column("hour")
	require.True(t, ok)
	assert.Equal(t, []float64{10, 11, 12}, hours)

	_, ok = frame.Column("nope")
	assert.False(t, ok)
	assert.Len(t, frame.Matrix(), 3)
}

func TestParseTime(t *testing.T) {
	tests := []struct {
		in                      string
		ok                      bool
		year, month, day, hour int
	}{
		{"2020-06-15T10:00:00", true, 2020, 6, 15, 10},
		{"2019-01-01 00:00:18", true, 2019, 1, 1, 0},
		{"1988-03-09", true, 1988, 3, 9, 0},
		{"06/21/1978", true, 1978, 6, 21, 0},
		{"2021-03-04T05:06:07Z", true, 2021, 3, 4, 5},
		{"", false, 0, 0, 0, 0},
		{"yesterday", false, 0, 0, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			ts, ok := ParseTime(tt.in)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.year, ts.Year())
				assert.Equal(t, tt.month, int(ts.Month()))
				assert.Equal(t, tt.day, ts.Day())
				assert.Equal(t, tt.hour, ts.Hour())
			}
		})
	}
}

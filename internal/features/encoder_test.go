package features

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLabelEncoder(t *testing.T) {
	enc := FitLabelEncoder([]string{"B", "A", "B", "C"})

	assert.Equal(t, []string{"A", "B", "C"}, enc.Classes())
	assert.Equal(t, "A", enc.Fallback())

	code, ok := enc.Encode("C")
	assert.True(t, ok)
	assert.Equal(t, 2, code)

	code, ok = enc.Encode("Z")
	assert.False(t, ok)
	assert.Equal(t, 0, code)
	assert.False(t, enc.Known("Z"))
	assert.Equal(t, 3, enc.Len())
}

func TestLabelEncoder_ClassesIsACopy(t *testing.T) {
	enc := FitLabelEncoder([]string{"x", "y"})
	classes := enc.Classes()
	classes[0] = "mutated"

	assert.Equal(t, "x", enc.Fallback())
}

func TestEncoderTable_RoundTrip(t *testing.T) {
	table := EncoderTable{
		"category": FitLabelEncoder([]string{"home", "travel"}),
		"state":    FitLabelEncoder([]string{"WA"}),
		"job":      FitLabelEncoder([]string{"Nurse"}),
		"city":     FitLabelEncoder([]string{"Orient", "Boulder"}),
	}

	data, err := table.Marshal()
	require.NoError(t, err)

	decoded, err := UnmarshalEncoderTable(data)
	require.NoError(t, err)
	require.NoError(t, decoded.Validate())
	assert.Equal(t, []string{"Boulder", "Orient"}, decoded["city"].Classes())

	code, ok := decoded["city"].Encode("Orient")
	assert.True(t, ok)
	assert.Equal(t, 1, code)
}

func TestEncoderTable_RejectsUnsortedClasses(t *testing.T) {
	_, err := UnmarshalEncoderTable([]byte(`{"city":["b","a"]}`))
	assert.Error(t, err)
}

func TestEncoderTable_ValidateEmptyEncoder(t *testing.T) {
	table := EncoderTable{
		"category": FitLabelEncoder(nil),
		"state":    FitLabelEncoder([]string{"WA"}),
		"job":      FitLabelEncoder([]string{"Nurse"}),
		"city":     FitLabelEncoder([]string{"Orient"}),
	}
	assert.ErrorIs(t, table.Validate(), ErrMissingEncoder)
}

func TestSchema_Check(t *testing.T) {
	want := BaseSchema(true)

	assert.NoError(t, want.Check(BaseSchema(true)))

	err := want.Check(BaseSchema(false))
	require.ErrorIs(t, err, ErrSchemaMismatch)
	assert.Contains(t, err.Error(), "dob_year")

	swapped := append(Schema(nil), want...)
	swapped[0], swapped[1] = swapped[1], swapped[0]
	err = want.Check(swapped)
	require.ErrorIs(t, err, ErrSchemaMismatch)
	assert.Contains(t, err.Error(), "order")
}

func TestBaseSchema_Order(t *testing.T) {
	assert.Equal(t, Schema{
		"category", "amt", "city", "state", "lat", "long", "city_pop", "job",
		"merch_lat", "merch_long", "dob_year", "dob_month", "dob_day", "hour", "day", "month",
	}, BaseSchema(true))
}

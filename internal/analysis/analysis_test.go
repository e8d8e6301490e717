package analysis

import (
	"testing"

	"fraud-detector/internal/transaction"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rec(ts, city, state, category string, amt float64, fraud bool) transaction.Record {
	f := fraud
	return transaction.Record{
		TransDateTime: ts,
		City:          city,
		State:         state,
		Category:      category,
		Amount:        amt,
		Job:           "Engineer",
		DOB:           "1980-01-01",
		Lat:           40.0,
		Long:          -74.0,
		MerchLat:      40.0,
		MerchLong:     -74.0,
		IsFraud:       &f,
	}
}

func sampleRecords() []transaction.Record {
	return []transaction.Record{
		rec("2020-06-22 00:10:00", "Austin", "TX", "shopping_net", 900, true),   // Monday
		rec("2020-06-22 00:20:00", "Austin", "TX", "shopping_net", 850, true),   // Monday
		rec("2020-06-23 13:00:00", "Boston", "MA", "grocery_pos", 40, false),    // Tuesday
		rec("2020-06-23 14:00:00", "Boston", "MA", "grocery_pos", 60, true),     // Tuesday
		rec("2021-01-03 09:00:00", "Denver", "CO", "gas_transport", 30, false),  // Sunday
		rec("not a date", "Denver", "CO", "gas_transport", 25, false),
	}
}

func TestSummarize(t *testing.T) {
	o := Summarize(sampleRecords())

	assert.Equal(t, 6, o.Rows)
	assert.Equal(t, 3, o.Frauds)
	assert.InDelta(t, 0.5, o.FraudRate, 1e-12)
	assert.Equal(t, 3, o.Customers)
	assert.Equal(t, 2020, o.Start.Year())
	assert.Equal(t, 2021, o.End.Year())

	empty := Summarize(nil)
	assert.Zero(t, empty.FraudRate)
}

func TestFraudByState(t *testing.T) {
	rates := FraudByState(sampleRecords())

	require.Len(t, rates, 3)
	assert.Equal(t, "CO", rates[0].Key)
	assert.Equal(t, "MA", rates[1].Key)
	assert.InDelta(t, 0.5, rates[1].FraudRate, 1e-12)
	assert.Equal(t, "TX", rates[2].Key)
	assert.Equal(t, 1.0, rates[2].FraudRate)
}

func TestFraudByCity(t *testing.T) {
	rates := FraudByCity(sampleRecords(), TopCities)

	require.Len(t, rates, 3)
	assert.Equal(t, []string{"Austin", "Boston", "Denver"}, []string{rates[0].Key, rates[1].Key, rates[2].Key})

	top := FraudByCity(sampleRecords(), 1)
	require.Len(t, top, 1)
	assert.Equal(t, "Austin", top[0].Key)

	assert.Equal(t, []string{"Austin"}, FullFraudCities(sampleRecords()))
}

func TestFraudByCategory(t *testing.T) {
	rates := FraudByCategory(sampleRecords())

	require.Len(t, rates, 3)
	assert.Equal(t, "shopping_net", rates[0].Key)
	assert.Equal(t, "grocery_pos", rates[1].Key)
	assert.Equal(t, "gas_transport", rates[2].Key)
	assert.Equal(t, 2, rates[2].Count)
}

func TestDateTimeBreakdown(t *testing.T) {
	records := sampleRecords()

	weekdays := DateTimeBreakdown(records, UnitWeekday)
	require.Len(t, weekdays, 3)
	assert.Equal(t, TimeBucket{Value: 0, Count: 2, Frauds: 2, FraudRate: 1}, weekdays[0])
	assert.Equal(t, 1, weekdays[1].Value)
	assert.Equal(t, 6, weekdays[2].Value)

	years := DateTimeBreakdown(records, UnitYear)
	require.Len(t, years, 2)
	assert.Equal(t, 2020, years[0].Value)
	assert.Equal(t, 4, years[0].Count)
	assert.Equal(t, 1, years[1].Count, "unparseable timestamps are skipped")

	hours := DateTimeBreakdown(records, UnitHour)
	assert.Equal(t, 0, hours[0].Value)
	assert.Equal(t, 2, hours[0].Count)
}

func TestParseTimeUnit(t *testing.T) {
	u, err := ParseTimeUnit("WeekDay")
	require.NoError(t, err)
	assert.Equal(t, UnitWeekday, u)

	_, err = ParseTimeUnit("minute")
	assert.Error(t, err)
}

// Package synth generates synthetic card transactions with the same columns
// as the labelled dataset, for smoke-testing detection end to end.
package synth

import (
	"fmt"
	"math"
	"math/rand"
	"strconv"
	"time"

	"fraud-detector/internal/common"
	"fraud-detector/internal/transaction"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Categories are the merchant categories of the labelled dataset.
var Categories = []string{
	"grocery_pos", "entertainment", "shopping_pos", "misc_pos",
	"shopping_net", "gas_transport", "misc_net", "grocery_net",
	"food_dining", "health_fitness", "kids_pets", "home",
	"personal_care", "travel",
}

// Columns is the header of generated tables.
var Columns = []string{
	common.ColTransDateTime, common.ColMerchant, common.ColCategory, common.ColAmount,
	common.ColCity, common.ColState, common.ColLat, common.ColLong, common.ColCityPop,
	common.ColJob, common.ColDOB, common.ColTransNum, common.ColMerchLat, common.ColMerchLong,
	common.ColIsFraud,
}

const DefaultFraudRate = 0.02

// Generator produces transactions. Output is deterministic for a seed and a
// reference time.
type Generator struct {
	faker     *gofakeit.Faker
	rng       *rand.Rand
	now       time.Time
	FraudRate float64
}

func NewGenerator(seed uint64, now time.Time) *Generator {
	return &Generator{
		faker:     gofakeit.New(seed),
		rng:       rand.New(rand.NewSource(int64(seed))),
		now:       now,
		FraudRate: DefaultFraudRate,
	}
}

// Record generates one transaction: a timestamp in the current decade, an
// amount between 1 and 5000 and a cardholder aged 18 to 80.
func (g *Generator) Record() transaction.Record {
	decade := time.Date(g.now.Year()-g.now.Year()%10, 1, 1, 0, 0, 0, 0, time.UTC)
	fraud := g.rng.Float64() < g.FraudRate

	id, err := uuid.NewRandomFromReader(g.rng)
	if err != nil {
		// a math/rand reader never fails
		id = uuid.New()
	}

	return transaction.Record{
		TransDateTime: g.faker.DateRange(decade, g.now).Format("2006-01-02 15:04:05"),
		Merchant:      g.faker.Company(),
		Category:      g.faker.RandomString(Categories),
		Amount:        round(g.faker.Float64Range(1, 5000), 2),
		City:          g.faker.City(),
		State:         g.faker.StateAbr(),
		Lat:           round(g.faker.Latitude(), 6),
		Long:          round(g.faker.Longitude(), 6),
		CityPop:       float64(g.faker.IntRange(1000, 1000000)),
		Job:           g.faker.JobTitle(),
		DOB:           g.faker.DateRange(g.now.AddDate(-80, 0, 0), g.now.AddDate(-18, 0, 0)).Format("2006-01-02"),
		TransNum:      id.String(),
		MerchLat:      round(g.faker.Latitude(), 6),
		MerchLong:     round(g.faker.Longitude(), 6),
		IsFraud:       &fraud,
	}
}

func (g *Generator) Records(n int) []transaction.Record {
	out := make([]transaction.Record, n)
	for i := range out {
		out[i] = g.Record()
	}
	return out
}

// Table renders records with the dataset's column layout.
func Table(records []transaction.Record) *transaction.Table {
	f := func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }

	rows := make([][]string, len(records))
	frauds := 0
	for i, r := range records {
		label := "0"
		if r.Fraud() {
			label = "1"
			frauds++
		}
		rows[i] = []string{
			r.TransDateTime, r.Merchant, r.Category, f(r.Amount),
			r.City, r.State, f(r.Lat), f(r.Long), f(r.CityPop),
			r.Job, r.DOB, r.TransNum, f(r.MerchLat), f(r.MerchLong),
			label,
		}
	}

	log.Debug().Int("rows", len(rows)).Int("frauds", frauds).Msg("synthetic table built")
	return transaction.NewTable(append([]string(nil), Columns...), rows)
}

// WriteCSV generates n transactions into path.
func (g *Generator) WriteCSV(path string, n int) error {
	if n <= 0 {
		return fmt.Errorf("number of transactions must be positive, got %d", n)
	}
	return Table(g.Records(n)).SaveCSV(path)
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

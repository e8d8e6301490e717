// Package analysis computes the descriptive statistics behind the dashboard:
// fraud rates by location and category, customer behaviour and time of day.
// Every function takes records read from a labelled table; records without a
// ground truth flag count as normal.
package analysis

import (
	"sort"
	"time"

	"fraud-detector/internal/features"
	"fraud-detector/internal/transaction"
)

// TopCities is how many cities the city ranking keeps.
const TopCities = 20

// Overview summarises a table.
type Overview struct {
	Rows      int       `json:"rows"`
	Frauds    int       `json:"frauds"`
	FraudRate float64   `json:"fraud_rate"`
	Customers int       `json:"customers"`
	Start     time.Time `json:"start,omitempty"`
	End       time.Time `json:"end,omitempty"`
}

// GroupRate is the share of fraudulent transactions in one group.
type GroupRate struct {
	Key       string  `json:"key"`
	Count     int     `json:"count"`
	Frauds    int     `json:"frauds"`
	FraudRate float64 `json:"fraud_rate"`
}

func Summarize(records []transaction.Record) Overview {
	o := Overview{Rows: len(records)}
	customers := make(map[string]struct{})

	for _, r := range records {
		if r.Fraud() {
			o.Frauds++
		}
		customers[features.CustomerKey(r)] = struct{}{}

		ts, ok := features.ParseTime(r.TransDateTime)
		if !ok {
			continue
		}
		if o.Start.IsZero() || ts.Before(o.Start) {
			o.Start = ts
		}
		if ts.After(o.End) {
			o.End = ts
		}
	}

	o.Customers = len(customers)
	if o.Rows > 0 {
		o.FraudRate = float64(o.Frauds) / float64(o.Rows)
	}
	return o
}

// groupRates aggregates by key; the result is sorted by key.
func groupRates(records []transaction.Record, key func(transaction.Record) (string, bool)) []GroupRate {
	groups := make(map[string]*GroupRate)
	for _, r := range records {
		k, ok := key(r)
		if !ok {
			continue
		}
		g, exists := groups[k]
		if !exists {
			g = &GroupRate{Key: k}
			groups[k] = g
		}
		g.Count++
		if r.Fraud() {
			g.Frauds++
		}
	}

	out := make([]GroupRate, 0, len(groups))
	for _, g := range groups {
		g.FraudRate = float64(g.Frauds) / float64(g.Count)
		out = append(out, *g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// byRateDesc orders by fraud rate, highest first, ties by key.
func byRateDesc(rates []GroupRate) {
	sort.SliceStable(rates, func(i, j int) bool {
		if rates[i].FraudRate != rates[j].FraudRate {
			return rates[i].FraudRate > rates[j].FraudRate
		}
		return rates[i].Key < rates[j].Key
	})
}

// FraudByState returns the fraud rate of every state, ordered by state.
func FraudByState(records []transaction.Record) []GroupRate {
	return groupRates(records, func(r transaction.Record) (string, bool) { return r.State, true })
}

// FraudByCity returns the n cities with the highest fraud rate.
func FraudByCity(records []transaction.Record, n int) []GroupRate {
	rates := groupRates(records, func(r transaction.Record) (string, bool) { return r.City, true })
	byRateDesc(rates)
	if n > 0 && len(rates) > n {
		rates = rates[:n]
	}
	return rates
}

// FullFraudCities lists the cities among the top ranking where every
// transaction was fraudulent.
func FullFraudCities(records []transaction.Record) []string {
	var out []string
	for _, g := range FraudByCity(records, TopCities) {
		if g.FraudRate == 1 {
			out = append(out, g.Key)
		}
	}
	return out
}

// FraudByCategory returns every category, highest fraud rate first.
func FraudByCategory(records []transaction.Record) []GroupRate {
	rates := groupRates(records, func(r transaction.Record) (string, bool) { return r.Category, true })
	byRateDesc(rates)
	return rates
}

// Filter returns the records for which keep is true.
func Filter(records []transaction.Record, keep func(transaction.Record) bool) []transaction.Record {
	var out []transaction.Record
	for _, r := range records {
		if keep(r) {
			out = append(out, r)
		}
	}
	return out
}

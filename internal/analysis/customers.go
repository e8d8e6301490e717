package analysis

import (
	"math"
	"sort"

	"fraud-detector/internal/features"
	"fraud-detector/internal/transaction"

	"gonum.org/v1/gonum/stat"
)

// CustomerProfile holds a customer's typical spend and distance from home.
type CustomerProfile struct {
	ID           int     `json:"customer_id"`
	Key          string  `json:"key"`
	Transactions int     `json:"transactions"`
	AvgAmount    float64 `json:"avg_amt"`
	P90Amount    float64 `json:"p90_amt"`
	AvgDistance  float64 `json:"avg_dist"`
	P90Distance  float64 `json:"p90_dist"`
}

// BehaviorFlags compares one transaction with its customer's profile.
type BehaviorFlags struct {
	CustomerID       int     `json:"customer_id"`
	Distance         float64 `json:"distance"`
	AboveAvgAmount   bool    `json:"above_avg_amt"`
	Above90Amount    bool    `json:"above_90_amt"`
	AboveAvgDistance bool    `json:"above_avg_distance"`
	Above90Distance  bool    `json:"above_90_distance"`
}

// FlagRate is the fraud rate of transactions with and without a flag.
type FlagRate struct {
	Flag  string    `json:"flag"`
	Set   GroupRate `json:"set"`
	Unset GroupRate `json:"unset"`
}

// Distances returns the cardholder to merchant distance of every record in km.
func Distances(records []transaction.Record) []float64 {
	out := make([]float64, len(records))
	for i, r := range records {
		out[i] = features.Haversine(r.Lat, r.Long, r.MerchLat, r.MerchLong)
	}
	return out
}

// CustomerBehavior profiles every customer and flags each record against its
// customer's profile. Profiles are indexed by customer id; flags are aligned
// with records.
func CustomerBehavior(records []transaction.Record) ([]CustomerProfile, []BehaviorFlags) {
	ids := AssignIDs(records)
	dist := Distances(records)

	n := 0
	for _, id := range ids {
		n = max(n, id+1)
	}
	amounts := make([][]float64, n)
	distances := make([][]float64, n)
	profiles := make([]CustomerProfile, n)
	for i, id := range ids {
		amounts[id] = append(amounts[id], finite(records[i].Amount))
		distances[id] = append(distances[id], finite(dist[i]))
		profiles[id].ID = id
		profiles[id].Key = features.CustomerKey(records[i])
	}

	for id := range profiles {
		p := &profiles[id]
		p.Transactions = len(amounts[id])
		p.AvgAmount, p.P90Amount = meanAndP90(amounts[id])
		p.AvgDistance, p.P90Distance = meanAndP90(distances[id])
	}

	flags := make([]BehaviorFlags, len(records))
	for i, id := range ids {
		p := profiles[id]
		amt, d := finite(records[i].Amount), finite(dist[i])
		flags[i] = BehaviorFlags{
			CustomerID:       id,
			Distance:         d,
			AboveAvgAmount:   amt > p.AvgAmount,
			Above90Amount:    amt > p.P90Amount,
			AboveAvgDistance: d > p.AvgDistance,
			Above90Distance:  d > p.P90Distance,
		}
	}

	return profiles, flags
}

// FlagFraudRates relates each behaviour flag to fraud.
func FlagFraudRates(records []transaction.Record, flags []BehaviorFlags) []FlagRate {
	type flagFn func(BehaviorFlags) bool
	named := []struct {
		name string
		get  flagFn
	}{
		{"above_avg_amt", func(f BehaviorFlags) bool { return f.AboveAvgAmount }},
		{"above_90_amt", func(f BehaviorFlags) bool { return f.Above90Amount }},
		{"above_avg_distance", func(f BehaviorFlags) bool { return f.AboveAvgDistance }},
		{"above_90_distance", func(f BehaviorFlags) bool { return f.Above90Distance }},
	}

	out := make([]FlagRate, 0, len(named))
	for _, nf := range named {
		fr := FlagRate{Flag: nf.name, Set: GroupRate{Key: "1"}, Unset: GroupRate{Key: "0"}}
		for i, f := range flags {
			g := &fr.Unset
			if nf.get(f) {
				g = &fr.Set
			}
			g.Count++
			if records[i].Fraud() {
				g.Frauds++
			}
		}
		for _, g := range []*GroupRate{&fr.Set, &fr.Unset} {
			if g.Count > 0 {
				g.FraudRate = float64(g.Frauds) / float64(g.Count)
			}
		}
		out = append(out, fr)
	}
	return out
}

// AssignIDs is features.AssignCustomerIDs, re-exported for dashboard callers.
func AssignIDs(records []transaction.Record) []int {
	return features.AssignCustomerIDs(records)
}

// CustomerTransactions returns the records of one customer.
func CustomerTransactions(records []transaction.Record, id int) []transaction.Record {
	ids := AssignIDs(records)
	var out []transaction.Record
	for i, r := range records {
		if ids[i] == id {
			out = append(out, r)
		}
	}
	return out
}

// FrequencyRow is one transaction with its customer's purchase velocity.
type FrequencyRow struct {
	CustomerID     int     `json:"customer_id"`
	TransDateTime  string  `json:"trans_date_trans_time"`
	Amount         float64 `json:"amt"`
	Category       string  `json:"category"`
	LastHour       int     `json:"purchases_last_hour"`
	PurchasesToday int     `json:"purchases_today"`
	Fraud          bool    `json:"is_fraud"`
}

// PurchaseFrequency lists records in time order with their rolling one hour
// count and same-day count. Records with unparseable timestamps are omitted.
func PurchaseFrequency(records []transaction.Record) []FrequencyRow {
	freq := features.PurchaseFrequency(records)

	idx := make([]int, 0, len(records))
	for i, f := range freq {
		if f.Valid {
			idx = append(idx, i)
		}
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return freq[idx[a]].Time.Before(freq[idx[b]].Time)
	})

	out := make([]FrequencyRow, len(idx))
	for j, i := range idx {
		r := records[i]
		out[j] = FrequencyRow{
			CustomerID:     freq[i].CustomerID,
			TransDateTime:  r.TransDateTime,
			Amount:         finite(r.Amount),
			Category:       r.Category,
			LastHour:       freq[i].LastHour,
			PurchasesToday: freq[i].SameDay,
			Fraud:          r.Fraud(),
		}
	}
	return out
}

func meanAndP90(values []float64) (float64, float64) {
	if len(values) == 0 {
		return 0, 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	return stat.Mean(sorted, nil), stat.Quantile(0.9, stat.Empirical, sorted, nil)
}

func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

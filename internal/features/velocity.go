package features

import (
	"sort"
	"time"

	"fraud-detector/internal/transaction"
)

// CustomerKey identifies a cardholder by birth date, city and job.
func CustomerKey(r transaction.Record) string {
	return r.DOB + r.City + r.Job
}

// AssignCustomerIDs numbers customers densely in sorted key order.
func AssignCustomerIDs(records []transaction.Record) []int {
	keys := make([]string, 0)
	seen := make(map[string]bool)
	for _, r := range records {
		k := CustomerKey(r)
		if !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	ids := make(map[string]int, len(keys))
	for i, k := range keys {
		ids[k] = i
	}

	out := make([]int, len(records))
	for i, r := range records {
		out[i] = ids[CustomerKey(r)]
	}
	return out
}

// Frequency is the purchase velocity of one transaction's customer.
type Frequency struct {
	CustomerID int
	Time       time.Time
	// LastHour counts the customer's transactions in (t-1h, t], including this one.
	LastHour int
	// SameDay counts the customer's transactions on the same calendar day.
	SameDay int
	// Valid is false when the timestamp could not be parsed.
	Valid bool
}

// PurchaseFrequency computes per-record velocity, aligned with records.
func PurchaseFrequency(records []transaction.Record) []Frequency {
	ids := AssignCustomerIDs(records)
	out := make([]Frequency, len(records))

	byCustomer := make(map[int][]int)
	type dayKey struct {
		id   int
		date string
	}
	perDay := make(map[dayKey]int)

	for i, r := range records {
		out[i].CustomerID = ids[i]
		ts, ok := ParseTime(r.TransDateTime)
		if !ok {
			continue
		}
		out[i].Time = ts
		out[i].Valid = true
		byCustomer[ids[i]] = append(byCustomer[ids[i]], i)
		perDay[dayKey{ids[i], ts.Format("2006-01-02")}]++
	}

	for _, idx := range byCustomer {
		sort.SliceStable(idx, func(a, b int) bool {
			return out[idx[a]].Time.Before(out[idx[b]].Time)
		})

		lo := 0
		for hi, i := range idx {
			cutoff := out[i].Time.Add(-time.Hour)
			for !out[idx[lo]].Time.After(cutoff) {
				lo++
			}
			out[i].LastHour = hi - lo + 1
		}
	}

	for i := range out {
		if out[i].Valid {
			out[i].SameDay = perDay[dayKey{out[i].CustomerID, out[i].Time.Format("2006-01-02")}]
		}
	}

	return out
}

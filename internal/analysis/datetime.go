package analysis

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"fraud-detector/internal/features"
	"fraud-detector/internal/transaction"
)

// TimeUnit selects the component of the transaction time to group by.
type TimeUnit string

const (
	UnitYear    TimeUnit = "year"
	UnitMonth   TimeUnit = "month"
	UnitDay     TimeUnit = "day"
	UnitWeekday TimeUnit = "weekday"
	UnitHour    TimeUnit = "hour"
)

func ParseTimeUnit(s string) (TimeUnit, error) {
	switch u := TimeUnit(strings.ToLower(s)); u {
	case UnitYear, UnitMonth, UnitDay, UnitWeekday, UnitHour:
		return u, nil
	default:
		return "", fmt.Errorf("unknown time unit %q", s)
	}
}

// component extracts the unit from t. Weekdays count from Monday = 0.
func (u TimeUnit) component(t time.Time) int {
	switch u {
	case UnitYear:
		return t.Year()
	case UnitMonth:
		return int(t.Month())
	case UnitDay:
		return t.Day()
	case UnitWeekday:
		return (int(t.Weekday()) + 6) % 7
	default:
		return t.Hour()
	}
}

// TimeBucket is the transaction count and fraud rate for one value of a unit.
type TimeBucket struct {
	Value     int     `json:"value"`
	Count     int     `json:"count"`
	Frauds    int     `json:"frauds"`
	FraudRate float64 `json:"fraud_rate"`
}

// DateTimeBreakdown groups records by a time unit, in ascending unit order.
// Records whose timestamp cannot be parsed are skipped.
func DateTimeBreakdown(records []transaction.Record, unit TimeUnit) []TimeBucket {
	rates := groupRates(records, func(r transaction.Record) (string, bool) {
		ts, ok := features.ParseTime(r.TransDateTime)
		if !ok {
			return "", false
		}
		return strconv.Itoa(unit.component(ts)), true
	})

	out := make([]TimeBucket, len(rates))
	for i, g := range rates {
		v, _ := strconv.Atoi(g.Key)
		out[i] = TimeBucket{Value: v, Count: g.Count, Frauds: g.Frauds, FraudRate: g.FraudRate}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Value < out[j].Value })
	return out
}

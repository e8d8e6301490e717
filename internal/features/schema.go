package features

import (
	"errors"
	"fmt"
	"strings"

	"fraud-detector/internal/common"
)

var ErrSchemaMismatch = errors.New("feature schema mismatch")

// Schema is the ordered list of feature names a model consumes.
type Schema []string

// BaseSchema returns the feature columns produced for a table. The dob_*
// columns only exist when the table carries a date of birth.
func BaseSchema(withDOB bool) Schema {
	s := Schema{
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
	if withDOB {
		s = append(s, common.FeatDOBYear, common.FeatDOBMonth, common.FeatDOBDay)
	}
	return append(s, common.FeatHour, common.FeatDay, common.FeatMonth)
}

// Index returns the position of a feature, or -1.
func (s Schema) Index(name string) int {
	for i, n := range s {
		if n == name {
			return i
		}
	}
	return -1
}

func (s Schema) Equal(other Schema) bool {
	if len(s) != len(other) {
		return false
	}
	for i := range s {
		if s[i] != other[i] {
			return false
		}
	}
	return true
}

// Check verifies that actual matches s exactly, names and order.
func (s Schema) Check(actual Schema) error {
	if s.Equal(actual) {
		return nil
	}

	var missing, extra []string
	want := make(map[string]bool, len(s))
	for _, n := range s {
		want[n] = true
	}
	have := make(map[string]bool, len(actual))
	for _, n := range actual {
		have[n] = true
		if !want[n] {
			extra = append(extra, n)
		}
	}
	for _, n := range s {
		if !have[n] {
			missing = append(missing, n)
		}
	}

	switch {
	case len(missing) > 0 || len(extra) > 0:
		return fmt.Errorf("%w: missing [%s] unexpected [%s]",
			ErrSchemaMismatch, strings.Join(missing, ","), strings.Join(extra, ","))
	default:
		return fmt.Errorf("%w: column order differs, want [%s] got [%s]",
			ErrSchemaMismatch, strings.Join(s, ","), strings.Join(actual, ","))
	}
}

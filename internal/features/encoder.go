package features

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"fraud-detector/internal/common"
)

var ErrMissingEncoder = errors.New("missing encoder")

// CategoricalColumns are label encoded, in this order.
var CategoricalColumns = []string{
	common.ColCategory,
	common.ColState,
	common.ColJob,
	common.ColCity,
}

// LabelEncoder maps a frozen, sorted set of known classes to dense codes.
type LabelEncoder struct {
	classes []string
	index   map[string]int
}

// FitLabelEncoder builds an encoder over the distinct values.
func FitLabelEncoder(values []string) *LabelEncoder {
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		seen[v] = struct{}{}
	}
	classes := make([]string, 0, len(seen))
	for v := range seen {
		classes = append(classes, v)
	}
	sort.Strings(classes)
	return newLabelEncoder(classes)
}

func newLabelEncoder(classes []string) *LabelEncoder {
	index := make(map[string]int, len(classes))
	for i, c := range classes {
		index[c] = i
	}
	return &LabelEncoder{classes: classes, index: index}
}

// Classes returns a copy of the known classes in code order.
func (e *LabelEncoder) Classes() []string {
	return append([]string(nil), e.classes...)
}

func (e *LabelEncoder) Len() int {
	return len(e.classes)
}

func (e *LabelEncoder) Known(value string) bool {
	_, ok := e.index[value]
	return ok
}

// Fallback is the class unseen values collapse into.
func (e *LabelEncoder) Fallback() string {
	if len(e.classes) == 0 {
		return ""
	}
	return e.classes[0]
}

// Encode returns the code for value. Unseen values get the fallback class
// code and ok=false.
func (e *LabelEncoder) Encode(value string) (code int, ok bool) {
	if c, found := e.index[value]; found {
		return c, true
	}
	return e.index[e.Fallback()], false
}

func (e *LabelEncoder) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.classes)
}

func (e *LabelEncoder) UnmarshalJSON(data []byte) error {
	var classes []string
	if err := json.Unmarshal(data, &classes); err != nil {
		return err
	}
	if !sort.StringsAreSorted(classes) {
		return fmt.Errorf("encoder classes are not sorted")
	}
	*e = *newLabelEncoder(classes)
	return nil
}

// EncoderTable holds one encoder per categorical column.
type EncoderTable map[string]*LabelEncoder

// Validate checks that every categorical column has a non-empty encoder.
func (t EncoderTable) Validate() error {
	for _, col := range CategoricalColumns {
		enc, ok := t[col]
		if !ok || enc == nil {
			return fmt.Errorf("%w for column %s", ErrMissingEncoder, col)
		}
		if enc.Len() == 0 {
			return fmt.Errorf("%w: encoder for column %s has no classes", ErrMissingEncoder, col)
		}
	}
	return nil
}

func (t EncoderTable) Marshal() ([]byte, error) {
	return json.Marshal(t)
}

func UnmarshalEncoderTable(data []byte) (EncoderTable, error) {
	var t EncoderTable
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("failed to decode encoder table: %w", err)
	}
	return t, nil
}

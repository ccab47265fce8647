package audit

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/invopop/jsonschema"
)

// Amount is a nullable number extracted from a document.
// A zero Amount is absent. Valid is false for both absent and malformed input;
// Present distinguishes the two.
type Amount struct {
	Value   float64
	Valid   bool
	Present bool
}

// NewAmount returns a valid Amount holding v
func NewAmount(v float64) Amount {
	return Amount{Value: v, Valid: true, Present: true}
}

// Float returns the value and whether it is usable
func (a Amount) Float() (float64, bool) {
	return a.Value, a.Valid
}

// Positive reports whether the amount is valid and greater than zero
func (a Amount) Positive() bool {
	return a.Valid && a.Value > 0
}

// Malformed reports whether a value was supplied but could not be read as a number
func (a Amount) Malformed() bool {
	return a.Present && !a.Valid
}

var amountReplacer = strings.NewReplacer(
	",", "",
	" ", "",
	"$", "",
	"€", "",
	"£", "",
	"¥", "",
)

// MarshalJSON encodes the amount as a JSON number, or null when unusable
func (a Amount) MarshalJSON() ([]byte, error) {
	if !a.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(a.Value)
}

// UnmarshalJSON accepts numbers, numeric strings and null. Anything else
// decodes into an invalid Amount instead of failing the whole document.
func (a *Amount) UnmarshalJSON(data []byte) error {
	*a = Amount{}
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	a.Present = true

	var f float64
	if err := json.Unmarshal(data, &f); err == nil {
		a.Value, a.Valid = f, true
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return nil
	}
	s = amountReplacer.Replace(strings.TrimSpace(s))
	if s == "" {
		a.Present = false
		return nil
	}
	// ParseFloat accepts NaN and Inf spellings; those are malformed here.
	if f, err := strconv.ParseFloat(s, 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
		a.Value, a.Valid = f, true
	}
	return nil
}

// JSONSchema describes the amount as a nullable number
func (Amount) JSONSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		OneOf: []*jsonschema.Schema{
			{Type: "number"},
			{Type: "null"},
		},
	}
}

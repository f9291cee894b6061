package payload

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// The remote API expresses currency amounts in milliunits: 1000 == 1.00.
const milliunitExp = -3

// FormatMilliunits renders a milliunit amount with two decimal places.
func FormatMilliunits(milli int64) string {
	return decimal.New(milli, milliunitExp).StringFixed(2)
}

// ParseAmount converts a decimal currency string (e.g. "-12.34") to milliunits.
// Returns an error if the value has more precision than milliunits allow.
func ParseAmount(s string) (int64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", s, err)
	}
	shifted := d.Shift(-milliunitExp)
	if !shifted.Equal(shifted.Truncate(0)) {
		return 0, fmt.Errorf("parse amount %q: more than 3 decimal places", s)
	}
	return shifted.IntPart(), nil
}

// Summary is the subset of payload fields shown in listings.
type Summary struct {
	ID     string
	Label  string
	Amount string
}

// Summarize extracts display fields from a transaction or category payload.
// Unknown shapes yield an empty summary rather than an error.
func Summarize(raw json.RawMessage) Summary {
	var fields struct {
		ID        string       `json:"id"`
		PayeeName *string      `json:"payee_name"`
		Name      *string      `json:"name"`
		Amount    *json.Number `json:"amount"`
		Budgeted  *json.Number `json:"budgeted"`
	}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return Summary{}
	}

	s := Summary{ID: fields.ID}
	switch {
	case fields.PayeeName != nil:
		s.Label = *fields.PayeeName
	case fields.Name != nil:
		s.Label = *fields.Name
	}

	amount := fields.Amount
	if amount == nil {
		amount = fields.Budgeted
	}
	if amount != nil {
		if n, err := amount.Int64(); err == nil {
			s.Amount = FormatMilliunits(n)
		}
	}
	return s
}

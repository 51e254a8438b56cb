/*
Package factory provides JSON to Go loan-terms conversion.

PURPOSE:
  Converts JSON loan definitions into lending.LoanTerms. Rates are written
  the way people read them, as decimal daily fractions ("0.01" is 1% a day,
  "1%" works too), and converted to integer units scaled by
  lending.RateFactor.

JSON SCHEMA:
  {
    "program_id": 1,
    "borrower": "alice",
    "start_timestamp": 1700000000,
    "installments": [
      {
        "borrowed_amount": 100000,
        "addon_amount": 2000,
        "duration_days": 30,
        "rates": {
          "remuneratory": "0.01",
          "moratory": "0.005",
          "late_fee": "2%"
        }
      }
    ]
  }

KEY FEATURES:
  - Exact decimal parsing (shopspring/decimal), no float rounding
  - Rejects rates finer than 1/RateFactor or wider than uint32
  - Validates amounts and durations before the engine sees them

USAGE:
  f := NewLoanFactory()
  terms, err := f.ParseLoan(jsonString)
  subLoans, err := engine.TakeLoan(ctx, terms)

SEE ALSO:
  - lending/types.go: LoanTerms definition
  - api/scenarios.go: demo loans built from StandardLoanJSON
*/
package factory

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/warp/loan-engine/lending"
)

var (
	ErrInvalidRate   = errors.New("invalid rate")
	ErrRatePrecision = errors.New("rate finer than one rate unit")
)

var rateFactor = decimal.NewFromInt(int64(lending.RateFactor))

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// LoanJSON is the JSON representation of a loan request.
type LoanJSON struct {
	ProgramID      uint32            `json:"program_id"`
	Borrower       string            `json:"borrower"`
	StartTimestamp int64             `json:"start_timestamp,omitempty"` // 0 = now
	Installments   []InstallmentJSON `json:"installments"`
}

// InstallmentJSON represents one sub-loan.
type InstallmentJSON struct {
	BorrowedAmount uint64    `json:"borrowed_amount"`
	AddonAmount    uint64    `json:"addon_amount,omitempty"`
	DurationDays   uint16    `json:"duration_days"`
	Rates          RatesJSON `json:"rates"`
}

// RatesJSON holds daily rates as decimal strings. Empty means zero.
type RatesJSON struct {
	Remuneratory string `json:"remuneratory,omitempty"`
	Moratory     string `json:"moratory,omitempty"`
	LateFee      string `json:"late_fee,omitempty"`
}

// =============================================================================
// LOAN FACTORY
// =============================================================================

// LoanFactory converts JSON loans to lending.LoanTerms.
type LoanFactory struct{}

// NewLoanFactory creates a new loan factory.
func NewLoanFactory() *LoanFactory {
	return &LoanFactory{}
}

// ParseLoan parses a JSON string into loan terms.
func (f *LoanFactory) ParseLoan(jsonStr string) (lending.LoanTerms, error) {
	var lj LoanJSON
	if err := json.Unmarshal([]byte(jsonStr), &lj); err != nil {
		return lending.LoanTerms{}, fmt.Errorf("invalid JSON: %w", err)
	}
	return f.ToTerms(lj)
}

// ToTerms converts a decoded LoanJSON into loan terms.
func (f *LoanFactory) ToTerms(lj LoanJSON) (lending.LoanTerms, error) {
	if lj.Borrower == "" {
		return lending.LoanTerms{}, fmt.Errorf("borrower is required")
	}
	if len(lj.Installments) == 0 {
		return lending.LoanTerms{}, fmt.Errorf("at least one installment is required")
	}

	terms := lending.LoanTerms{
		ProgramID:      lending.ProgramID(lj.ProgramID),
		Borrower:       lending.Address(lj.Borrower),
		StartTimestamp: lj.StartTimestamp,
		Installments:   make([]lending.InstallmentTerms, 0, len(lj.Installments)),
	}
	for i, in := range lj.Installments {
		it, err := f.installment(in)
		if err != nil {
			return lending.LoanTerms{}, fmt.Errorf("installment %d: %w", i, err)
		}
		terms.Installments = append(terms.Installments, it)
	}
	return terms, nil
}

func (f *LoanFactory) installment(in InstallmentJSON) (lending.InstallmentTerms, error) {
	if in.BorrowedAmount == 0 {
		return lending.InstallmentTerms{}, fmt.Errorf("borrowed_amount must be positive")
	}
	if in.DurationDays == 0 {
		return lending.InstallmentTerms{}, fmt.Errorf("duration_days must be positive")
	}
	rates, err := ParseRates(in.Rates)
	if err != nil {
		return lending.InstallmentTerms{}, err
	}
	return lending.InstallmentTerms{
		BorrowedAmount: in.BorrowedAmount,
		AddonAmount:    in.AddonAmount,
		Terms:          lending.Terms{Duration: in.DurationDays, Rates: rates},
	}, nil
}

// =============================================================================
// RATES
// =============================================================================

// ParseRates converts the three decimal rates.
func ParseRates(r RatesJSON) (lending.Rates, error) {
	var out lending.Rates
	var err error
	if out.Remuneratory, err = ParseRate(r.Remuneratory); err != nil {
		return out, fmt.Errorf("remuneratory: %w", err)
	}
	if out.Moratory, err = ParseRate(r.Moratory); err != nil {
		return out, fmt.Errorf("moratory: %w", err)
	}
	if out.LateFee, err = ParseRate(r.LateFee); err != nil {
		return out, fmt.Errorf("late_fee: %w", err)
	}
	return out, nil
}

// ParseRate converts "0.01" or "1%" into rate units (10_000_000).
func ParseRate(s string) (uint32, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	percent := strings.HasSuffix(s, "%")
	d, err := decimal.NewFromString(strings.TrimSuffix(s, "%"))
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidRate, s)
	}
	if percent {
		d = d.Div(decimal.NewFromInt(100))
	}
	if d.IsNegative() {
		return 0, fmt.Errorf("%w: %q is negative", ErrInvalidRate, s)
	}

	units := d.Mul(rateFactor)
	if !units.Equal(units.Truncate(0)) {
		return 0, fmt.Errorf("%w: %q", ErrRatePrecision, s)
	}
	if units.GreaterThan(decimal.NewFromInt(math.MaxUint32)) {
		return 0, fmt.Errorf("%w: %q exceeds %d units", ErrInvalidRate, s, uint32(math.MaxUint32))
	}
	return uint32(units.IntPart()), nil
}

// FormatRate renders rate units as a decimal daily fraction.
func FormatRate(units uint32) string {
	return decimal.New(int64(units), 0).Div(rateFactor).String()
}

// =============================================================================
// PRESETS
// =============================================================================

// StandardLoanJSON builds a loan of equal installments, each due
// stepDays after the previous one.
func StandardLoanJSON(programID uint32, borrower string, start int64, principal uint64, installments int, stepDays uint16, rates RatesJSON) string {
	lj := LoanJSON{ProgramID: programID, Borrower: borrower, StartTimestamp: start}
	per := principal / uint64(installments)
	for i := 0; i < installments; i++ {
		amount := per
		if i == installments-1 {
			amount = principal - per*uint64(installments-1)
		}
		lj.Installments = append(lj.Installments, InstallmentJSON{
			BorrowedAmount: amount,
			DurationDays:   stepDays * uint16(i+1),
			Rates:          rates,
		})
	}
	b, _ := json.Marshal(lj)
	return string(b)
}

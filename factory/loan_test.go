package factory

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/loan-engine/lending"
)

func TestParseRate(t *testing.T) {
	tests := []struct {
		in      string
		want    uint32
		wantErr error
	}{
		{"", 0, nil},
		{"0", 0, nil},
		{"0.01", 10_000_000, nil},
		{" 1% ", 10_000_000, nil},
		{"0.5%", 5_000_000, nil},
		{"0.000000001", 1, nil},
		{"4.294967295", math.MaxUint32, nil},
		{"0.0000000001", 0, ErrRatePrecision},
		{"4.294967296", 0, ErrInvalidRate},
		{"-0.01", 0, ErrInvalidRate},
		{"one percent", 0, ErrInvalidRate},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseRate(tt.in)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFormatRate(t *testing.T) {
	assert.Equal(t, "0.01", FormatRate(10_000_000))
	assert.Equal(t, "0", FormatRate(0))
	assert.Equal(t, "0.000000001", FormatRate(1))

	units, err := ParseRate(FormatRate(123_456_789))
	require.NoError(t, err)
	assert.Equal(t, uint32(123_456_789), units)
}

func TestParseLoan(t *testing.T) {
	// GIVEN: A two-installment loan definition
	// WHEN: Parsing it
	// THEN: Amounts, durations and scaled rates carry over

	f := NewLoanFactory()
	terms, err := f.ParseLoan(`{
		"program_id": 3,
		"borrower": "alice",
		"start_timestamp": 1700000000,
		"installments": [
			{"borrowed_amount": 100000, "addon_amount": 2000, "duration_days": 30,
			 "rates": {"remuneratory": "0.01", "moratory": "0.005", "late_fee": "2%"}},
			{"borrowed_amount": 50000, "duration_days": 60}
		]
	}`)
	require.NoError(t, err)

	assert.Equal(t, lending.ProgramID(3), terms.ProgramID)
	assert.Equal(t, lending.Address("alice"), terms.Borrower)
	assert.Equal(t, int64(1_700_000_000), terms.StartTimestamp)
	require.Len(t, terms.Installments, 2)

	first := terms.Installments[0]
	assert.Equal(t, uint64(100_000), first.BorrowedAmount)
	assert.Equal(t, uint64(2_000), first.AddonAmount)
	assert.Equal(t, lending.Terms{
		Duration: 30,
		Rates:    lending.Rates{Remuneratory: 10_000_000, Moratory: 5_000_000, LateFee: 20_000_000},
	}, first.Terms)

	assert.Equal(t, lending.Rates{}, terms.Installments[1].Terms.Rates)
}

func TestParseLoan_Errors(t *testing.T) {
	tests := []struct {
		name string
		json string
		want string
	}{
		{"malformed", `{`, "invalid JSON"},
		{"no borrower", `{"installments": [{"borrowed_amount": 1, "duration_days": 1}]}`, "borrower is required"},
		{"no installments", `{"borrower": "alice"}`, "at least one installment"},
		{"zero amount", `{"borrower": "alice", "installments": [{"duration_days": 1}]}`, "installment 0: borrowed_amount"},
		{"zero duration", `{"borrower": "alice", "installments": [{"borrowed_amount": 1}]}`, "duration_days"},
		{"bad rate", `{"borrower": "alice", "installments": [{"borrowed_amount": 1, "duration_days": 1, "rates": {"late_fee": "x"}}]}`, "late_fee"},
	}
	f := NewLoanFactory()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.ParseLoan(tt.json)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestStandardLoanJSON(t *testing.T) {
	// GIVEN: 100_001 split over three installments 30 days apart
	// WHEN: Building and parsing the preset
	// THEN: The remainder goes to the last installment and durations step

	rates := RatesJSON{Remuneratory: "0.001"}
	terms, err := NewLoanFactory().ParseLoan(StandardLoanJSON(1, "alice", 100, 100_001, 3, 30, rates))
	require.NoError(t, err)
	require.Len(t, terms.Installments, 3)

	var (
		amounts   []uint64
		durations []uint16
	)
	for _, in := range terms.Installments {
		amounts = append(amounts, in.BorrowedAmount)
		durations = append(durations, in.Terms.Duration)
		assert.Equal(t, uint32(1_000_000), in.Terms.Rates.Remuneratory)
	}
	assert.Equal(t, []uint64{33_333, 33_333, 33_335}, amounts)
	assert.Equal(t, []uint16{30, 60, 90}, durations)
	assert.Equal(t, int64(100), terms.StartTimestamp)
}

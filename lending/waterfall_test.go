package lending

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func trackedLoan(c Components) SubLoan {
	s := testSubLoan(c.Principal, remuneratoryTerms(30, 0))
	s.Tracked = c
	return s
}

func TestAllocate_WaterfallOrder(t *testing.T) {
	// GIVEN: Every component holds a whole number of accuracy units
	// WHEN: Paying 50_000
	// THEN: Moratory and late fee clear, remuneratory takes the rest

	s := trackedLoan(Components{
		Principal:            100_000,
		InterestRemuneratory: 30_000,
		InterestMoratory:     20_000,
		LateFee:              10_000,
	})

	credited, err := Allocate(&s, 50_000, ModeRepay)
	require.NoError(t, err)

	assert.Equal(t, uint64(50_000), credited)
	assert.Equal(t, Components{Principal: 100_000, InterestRemuneratory: 10_000}, s.Tracked)
	assert.Equal(t, Components{InterestRemuneratory: 20_000, InterestMoratory: 20_000, LateFee: 10_000}, s.Repaid)
	assert.Equal(t, StatusOngoing, s.Status)
}

func TestAllocate_RoundsEachComponent(t *testing.T) {
	// GIVEN: Remuneratory interest of 12_345 (rounds to 10_000)
	// WHEN: Paying 110_000
	// THEN: The raw interest is cleared for 10_000 and the loan is repaid

	s := trackedLoan(Components{Principal: 100_000, InterestRemuneratory: 12_345})

	credited, err := Allocate(&s, 110_000, ModeRepay)
	require.NoError(t, err)

	assert.Equal(t, uint64(110_000), credited)
	assert.Zero(t, s.Tracked.Total())
	assert.Equal(t, uint64(10_000), s.Repaid.InterestRemuneratory)
	assert.Equal(t, StatusFullyRepaid, s.Status)
}

func TestAllocate_PartialComponentSaturates(t *testing.T) {
	// GIVEN: Remuneratory interest of 9_000 (rounds up to 10_000)
	// WHEN: Paying 9_500, less than the rounded component
	// THEN: 9_000 clears the interest and 500 flows on to principal

	s := trackedLoan(Components{Principal: 100_000, InterestRemuneratory: 9_000})

	credited, err := Allocate(&s, 9_500, ModeRepay)
	require.NoError(t, err)

	assert.Equal(t, uint64(9_500), credited)
	assert.Zero(t, s.Tracked.InterestRemuneratory)
	assert.Equal(t, uint64(99_500), s.Tracked.Principal)
	assert.Equal(t, uint64(9_000), s.Repaid.InterestRemuneratory)
	assert.Equal(t, uint64(500), s.Repaid.Principal)
}

func TestAllocate_ExcessAmountRejected(t *testing.T) {
	s := trackedLoan(Components{Principal: 100_000})

	_, err := Allocate(&s, 200_000, ModeRepay)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrExcessAmount))

	var excess *ExcessAmountError
	require.ErrorAs(t, err, &excess)
	assert.Equal(t, uint64(100_000), excess.Leftover)
}

func TestAllocate_RepayAllSettlesRoundedTotal(t *testing.T) {
	s := trackedLoan(Components{
		Principal:            100_000,
		InterestRemuneratory: 10_462,
		LateFee:              4_999,
	})
	expected := s.OutstandingBalance()

	credited, err := Allocate(&s, RepayAll, ModeRepay)
	require.NoError(t, err)

	assert.Equal(t, uint64(110_000), expected)
	assert.Equal(t, expected, credited)
	assert.Zero(t, s.Tracked.Total())
	assert.Zero(t, s.OutstandingBalance())
	assert.Equal(t, StatusFullyRepaid, s.Status)
}

func TestAllocate_DiscountCreditsDiscountAccumulator(t *testing.T) {
	s := trackedLoan(Components{Principal: 100_000, InterestRemuneratory: 20_000})

	credited, err := Allocate(&s, 30_000, ModeDiscount)
	require.NoError(t, err)

	assert.Equal(t, uint64(30_000), credited)
	assert.Zero(t, s.Repaid.Total())
	assert.Equal(t, Components{Principal: 10_000, InterestRemuneratory: 20_000}, s.Discount)
}

func TestAllocate_RevokedLoanStaysRevoked(t *testing.T) {
	s := trackedLoan(Components{Principal: 10_000})
	s.Status = StatusRevoked

	_, err := Allocate(&s, RepayAll, ModeRepay)
	require.NoError(t, err)
	assert.Equal(t, StatusRevoked, s.Status)
}

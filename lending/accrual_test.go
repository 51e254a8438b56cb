package lending

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

// t0 is the start of a protocol day under a zero-offset calendar.
const t0 int64 = 19_675 * SecondsPerDay

var utc = Calendar{}

func dayTS(d int64) int64 { return t0 + d*SecondsPerDay }

func testSubLoan(principal uint64, terms Terms) SubLoan {
	return SubLoan{
		ID:               1,
		LoanID:           1,
		InstallmentCount: 1,
		ProgramID:        1,
		Borrower:         "alice",
		BorrowedAmount:   principal,
		StartTimestamp:   t0,
		Initial:          terms,
		Current:          terms,
		Status:           StatusOngoing,
		Revision:         1,
		Tracked:          Components{Principal: principal},
		TrackedTimestamp: t0,
	}
}

func remuneratoryTerms(duration uint16, rate uint32) Terms {
	return Terms{Duration: duration, Rates: Rates{Remuneratory: rate}}
}

// =============================================================================
// CALENDAR
// =============================================================================

func TestCalendar_DayIndexWithOffset(t *testing.T) {
	cal := DefaultCalendar()

	// 02:00 UTC is still the previous day at UTC-3
	assert.Equal(t, int64(19_674), cal.DayIndex(t0+2*3600))
	// 03:00 UTC starts the new day
	assert.Equal(t, int64(19_675), cal.DayIndex(t0+3*3600))
	assert.Equal(t, t0+3*3600, cal.DayStart(19_675))
}

func TestCalendar_NegativeTimestampsFloor(t *testing.T) {
	assert.Equal(t, int64(-1), utc.DayIndex(-1))
	assert.Equal(t, int64(-1), utc.DayIndex(-SecondsPerDay))
	assert.Equal(t, int64(-2), utc.DayIndex(-SecondsPerDay-1))
}

// =============================================================================
// REMUNERATORY PHASE
// =============================================================================

func TestAccrue_SameDay_NoInterest(t *testing.T) {
	// GIVEN: A fresh sub-loan at 1% a day
	// WHEN: Accruing to a later instant of the same day
	// THEN: Tracked time moves, balances do not

	s := testSubLoan(1_000_000, remuneratoryTerms(30, 10_000_000))
	require.NoError(t, Accrue(utc, &s, t0+3600))

	assert.Equal(t, t0+3600, s.TrackedTimestamp)
	assert.Zero(t, s.Tracked.InterestRemuneratory)
}

func TestAccrue_OneDay(t *testing.T) {
	s := testSubLoan(1_000_000, remuneratoryTerms(30, 10_000_000))
	require.NoError(t, Accrue(utc, &s, dayTS(1)))

	assert.Equal(t, uint64(10_000), s.Tracked.InterestRemuneratory)
	assert.Equal(t, uint64(1_000_000), s.Tracked.Principal)
	assert.Equal(t, dayTS(1), s.TrackedTimestamp)
}

func TestAccrue_NeverMovesBackwards(t *testing.T) {
	s := testSubLoan(1_000_000, remuneratoryTerms(30, 10_000_000))
	require.NoError(t, Accrue(utc, &s, dayTS(2)))
	before := s

	require.NoError(t, Accrue(utc, &s, dayTS(1)))
	assert.Equal(t, before, s)
}

func TestAccrue_SplitEqualsSingleStepOnDayBoundaries(t *testing.T) {
	// Accrual is compounding, so the day count is all that matters as long
	// as both paths cross the same days.
	a := testSubLoan(1_000_000, remuneratoryTerms(30, 10_000_000))
	require.NoError(t, Accrue(utc, &a, dayTS(2)))

	b := testSubLoan(1_000_000, remuneratoryTerms(30, 10_000_000))
	require.NoError(t, Accrue(utc, &b, dayTS(1)))
	require.NoError(t, Accrue(utc, &b, dayTS(2)))

	assert.Equal(t, uint64(20_100), a.Tracked.InterestRemuneratory)
	assert.Equal(t, a.Tracked, b.Tracked)
}

// =============================================================================
// DUE DAY CROSSING
// =============================================================================

func TestAccrue_LateFeeImposedOnceAtDueDay(t *testing.T) {
	// GIVEN: Principal 1500, a 1-day term and a 0.1% late fee
	// WHEN: Accruing past the due day, in two steps
	// THEN: round(1500 * 0.001) = 2 is imposed exactly once

	s := testSubLoan(1500, Terms{Duration: 1, Rates: Rates{LateFee: 1_000_000}})
	require.NoError(t, Accrue(utc, &s, dayTS(2)))
	assert.Equal(t, uint64(2), s.Tracked.LateFee)

	require.NoError(t, Accrue(utc, &s, dayTS(10)))
	assert.Equal(t, uint64(2), s.Tracked.LateFee)
}

func TestAccrue_NoLateFeeBeforeOrOnDueDay(t *testing.T) {
	s := testSubLoan(1_000_000, Terms{Duration: 5, Rates: Rates{LateFee: 20_000_000, Moratory: 10_000_000}})
	require.NoError(t, Accrue(utc, &s, dayTS(5)))

	assert.Zero(t, s.Tracked.LateFee)
	assert.Zero(t, s.Tracked.InterestMoratory)
}

func TestAccrue_MoratoryIsSimple(t *testing.T) {
	// GIVEN: 1_000_000 due after 1 day, 1% a day moratory, 2% late fee
	// WHEN: Accruing 10 overdue days, then 5 more
	// THEN: Moratory grows linearly: 100_000 then 150_000

	s := testSubLoan(1_000_000, Terms{Duration: 1, Rates: Rates{Moratory: 10_000_000, LateFee: 20_000_000}})
	require.NoError(t, Accrue(utc, &s, dayTS(11)))
	assert.Equal(t, uint64(100_000), s.Tracked.InterestMoratory)
	assert.Equal(t, uint64(20_000), s.Tracked.LateFee)

	require.NoError(t, Accrue(utc, &s, dayTS(16)))
	assert.Equal(t, uint64(150_000), s.Tracked.InterestMoratory)
	assert.Equal(t, uint64(20_000), s.Tracked.LateFee)
}

func TestAccrue_RemuneratoryContinuesAfterDueDay(t *testing.T) {
	s := testSubLoan(1_000_000, remuneratoryTerms(1, 10_000_000))
	require.NoError(t, Accrue(utc, &s, dayTS(2)))

	assert.Equal(t, uint64(20_100), s.Tracked.InterestRemuneratory)
}

// =============================================================================
// FREEZE
// =============================================================================

func TestAccrue_StopsAtFreeze(t *testing.T) {
	// GIVEN: A sub-loan frozen on day 2
	// WHEN: Accruing to day 10
	// THEN: Only two days accrue and tracked time stays at the freeze

	s := testSubLoan(1_000_000, remuneratoryTerms(30, 10_000_000))
	s.FreezeTimestamp = dayTS(2)
	require.NoError(t, Accrue(utc, &s, dayTS(10)))

	assert.Equal(t, uint64(20_100), s.Tracked.InterestRemuneratory)
	assert.Equal(t, dayTS(2), s.TrackedTimestamp)
}

package lending

// =============================================================================
// WATERFALL ALLOCATOR
// =============================================================================

// AllocationMode selects which accumulators an allocation credits.
type AllocationMode uint8

const (
	ModeRepay AllocationMode = iota
	ModeDiscount
)

// Allocate consumes amount against the tracked components in the order
// moratory interest, late fee, remuneratory interest, principal.
//
// Each component is first rounded to AccuracyFactor. If the rounded value
// fits the remaining input the component is cleared and the rounded value is
// credited; otherwise the remaining input is taken off the component. The
// returned value is the total actually credited.
//
// Leftover input fails with ErrExcessAmount unless amount is RepayAll. An
// Ongoing sub-loan whose tracked total reaches zero becomes FullyRepaid.
func Allocate(s *SubLoan, amount uint64, mode AllocationMode) (uint64, error) {
	acc := &s.Repaid
	if mode == ModeDiscount {
		acc = &s.Discount
	}

	remaining := amount
	var credited uint64
	steps := [...]struct {
		tracked *uint64
		credit  *uint64
	}{
		{&s.Tracked.InterestMoratory, &acc.InterestMoratory},
		{&s.Tracked.LateFee, &acc.LateFee},
		{&s.Tracked.InterestRemuneratory, &acc.InterestRemuneratory},
		{&s.Tracked.Principal, &acc.Principal},
	}
	for _, step := range steps {
		if remaining == 0 {
			break
		}
		rounded := roundToAccuracy(*step.tracked)
		if rounded <= remaining {
			*step.tracked = 0
			*step.credit += rounded
			credited += rounded
			remaining -= rounded
			continue
		}
		// Input smaller than the rounded component. It can still exceed the
		// raw component by less than half a unit; the rest flows on.
		take := remaining
		if take > *step.tracked {
			take = *step.tracked
		}
		*step.tracked -= take
		*step.credit += take
		credited += take
		remaining -= take
	}

	if remaining > 0 && amount != RepayAll {
		return credited, &ExcessAmountError{SubLoanID: s.ID, Amount: amount, Leftover: remaining}
	}
	if s.Status == StatusOngoing && s.Tracked.Total() == 0 {
		s.Status = StatusFullyRepaid
	}
	return credited, nil
}

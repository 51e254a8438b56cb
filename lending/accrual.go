/*
accrual.go - Interest accrual engine

PURPOSE:
  Moves a sub-loan's tracked balances forward in time. Accrual is counted in
  whole protocol days (see Calendar) and only ever moves forward.

PHASES RELATIVE TO THE DUE DAY:
  dueDay = dayIndex(start) + duration

    start ......... dueDay | dueDay+1 ..................
    compound remuneratory  | compound remuneratory
                           | + simple moratory
                           ^ late fee imposed once on crossing

  Remuneratory interest compounds over principal + remuneratory interest.
  Moratory interest is simple: principal * days * rate, never compounded.
  The late fee is round(principal * lateFeeRate / RateFactor), half up.

FREEZE:
  While frozen, accrual stops at the freeze timestamp. Unfreezing (in the
  processor) moves tracked time to the unfreeze instant and may push the due
  day back by the frozen days.
*/
package lending

// Accrue advances s.TrackedTimestamp to min(until, freeze timestamp) and
// grows the tracked components for every whole day crossed.
func Accrue(cal Calendar, s *SubLoan, until int64) error {
	if s.FreezeTimestamp != 0 && until > s.FreezeTimestamp {
		until = s.FreezeTimestamp
	}
	if until <= s.TrackedTimestamp {
		return nil
	}

	startDay := cal.DayIndex(s.TrackedTimestamp)
	finishDay := cal.DayIndex(until)
	s.TrackedTimestamp = until
	if finishDay == startDay {
		return nil
	}

	dueDay := cal.DueDay(s)
	switch {
	case finishDay <= dueDay:
		return accrueRemuneratory(s, finishDay-startDay)

	case startDay <= dueDay:
		if err := accrueRemuneratory(s, dueDay-startDay); err != nil {
			return err
		}
		if err := imposeLateFee(s); err != nil {
			return err
		}
		return accrueOverdue(s, finishDay-dueDay)

	default:
		return accrueOverdue(s, finishDay-startDay)
	}
}

func accrueOverdue(s *SubLoan, days int64) error {
	if err := accrueMoratory(s, days); err != nil {
		return err
	}
	return accrueRemuneratory(s, days)
}

func accrueRemuneratory(s *SubLoan, days int64) error {
	balance := s.Tracked.Principal + s.Tracked.InterestRemuneratory
	grown, err := compoundGrowth(balance, s.Current.Remuneratory, days)
	if err != nil {
		return err
	}
	s.Tracked.InterestRemuneratory += grown - balance
	return nil
}

func accrueMoratory(s *SubLoan, days int64) error {
	if days <= 0 || s.Current.Moratory == 0 || s.Tracked.Principal == 0 {
		return nil
	}
	interest, err := mulDivRound(s.Tracked.Principal, uint64(s.Current.Moratory)*uint64(days), RateFactor)
	if err != nil {
		return err
	}
	s.Tracked.InterestMoratory += interest
	return nil
}

func imposeLateFee(s *SubLoan) error {
	if s.Current.LateFee == 0 || s.Tracked.Principal == 0 {
		return nil
	}
	fee, err := mulDivRound(s.Tracked.Principal, uint64(s.Current.LateFee), RateFactor)
	if err != nil {
		return err
	}
	s.Tracked.LateFee += fee
	return nil
}

/*
processor.go - Operation processor (state machine)

OPERATION STATES:

    Pending --(timestamp reached, processed)--> Applied --(voided)--> Revoked
       |
       +--(voided before processing)--> Canceled

ADVANCE:
  Starting right after RecentOperationID, walk the chain while the next
  operation's timestamp <= now. For each Pending operation: accrue up to its
  timestamp, apply its effect, mark it Applied and move the recent pointer.
  Canceled and Revoked operations are skipped. A Revocation stops the walk
  for good.

  Accrual only happens at operation timestamps, never at "now". That keeps
  the sequence of accrual checkpoints a pure function of the operation list,
  so processing the same list incrementally or from scratch yields identical
  balances even though compounding with rounding is path dependent.
*/
package lending

// advance applies every due, pending operation after the recent pointer.
func advance(cal Calendar, v *subLoanView, now int64, rec Recorder) error {
	if v.loan.Status == StatusRevoked {
		return nil
	}

	next := v.op(v.loan.EarliestOperationID)
	if recent := v.op(v.loan.RecentOperationID); recent != nil {
		next = v.op(recent.Next)
	}

	for ; next != nil; next = v.op(next.Next) {
		if next.Timestamp > now {
			break
		}
		if next.Status != OpPending {
			continue
		}
		if err := apply(cal, v, next); err != nil {
			return &OperationError{SubLoanID: v.loan.ID, OperationID: next.ID, Kind: next.Kind, Err: err}
		}
		next.Status = OpApplied
		v.loan.RecentOperationID = next.ID
		v.emitOp(EventOperationApplied, next, Event{NewValue: next.Value})
		rec.OperationApplied(next.Kind)

		if next.Kind == KindRevocation {
			break
		}
	}
	return nil
}

// apply accrues up to op and dispatches its effect.
func apply(cal Calendar, v *subLoanView, op *Operation) error {
	s := &v.loan
	if err := Accrue(cal, s, op.Timestamp); err != nil {
		return err
	}
	statusBefore := s.Status

	switch op.Kind {
	case KindRepayment:
		credited, err := Allocate(s, op.Value, ModeRepay)
		if err != nil {
			return err
		}
		v.emitOp(EventRepaymentApplied, op, Event{Amount: credited, Outstanding: s.OutstandingBalance(), From: op.Account})

	case KindDiscounting:
		credited, err := Allocate(s, op.Value, ModeDiscount)
		if err != nil {
			return err
		}
		v.emitOp(EventDiscountApplied, op, Event{Amount: credited, Outstanding: s.OutstandingBalance()})

	case KindSetDuration:
		old := s.Current.Duration
		s.Current.Duration = uint16(op.Value)
		v.emitOp(EventDurationChanged, op, Event{OldValue: uint64(old), NewValue: op.Value, Outstanding: s.OutstandingBalance()})

	case KindSetInterestRateRemuneratory:
		v.emitRate(op, &s.Current.Remuneratory)
	case KindSetInterestRateMoratory:
		v.emitRate(op, &s.Current.Moratory)
	case KindSetLateFeeRate:
		v.emitRate(op, &s.Current.LateFee)

	case KindFreezing:
		if s.FreezeTimestamp != 0 {
			return ErrAlreadyFrozen
		}
		s.FreezeTimestamp = op.Timestamp
		v.emitOp(EventFrozen, op, Event{})

	case KindUnfreezing:
		if s.FreezeTimestamp == 0 {
			return ErrNotFrozen
		}
		frozenDays := cal.DaysBetween(s.FreezeTimestamp, op.Timestamp)
		old := s.Current.Duration
		if op.Value == 0 && frozenDays > 0 {
			extended := int64(s.Current.Duration) + frozenDays
			if extended > MaxDuration {
				return ErrInvalidDuration
			}
			s.Current.Duration = uint16(extended)
		}
		s.FreezeTimestamp = 0
		if op.Timestamp > s.TrackedTimestamp {
			s.TrackedTimestamp = op.Timestamp
		}
		v.emitOp(EventUnfrozen, op, Event{OldValue: uint64(old), NewValue: uint64(s.Current.Duration), Amount: uint64(frozenDays)})

	case KindRevocation:
		s.Tracked = Components{}
		s.FreezeTimestamp = 0
		s.Status = StatusRevoked
		v.emitOp(EventSubLoanRevoked, op, Event{})

	default:
		return ErrInvalidKind
	}

	if s.Status != statusBefore {
		v.emitOp(EventStatusChanged, op, Event{OldValue: uint64(statusBefore), NewValue: uint64(s.Status)})
	}
	return nil
}

func (v *subLoanView) emitRate(op *Operation, field *uint32) {
	old := *field
	*field = uint32(op.Value)
	v.emitOp(EventRateChanged, op, Event{OldValue: uint64(old), NewValue: op.Value, Outstanding: v.loan.OutstandingBalance()})
}

/*
oplist.go - The per-sub-loan ordered operation list

STRUCTURE:
  Operations live in an arena (a slice, id n at index n-1) and are chained
  by a Next id in chronological order:

    EarliestOperationID -> op3 -> op1 -> op4 -> op2 -> 0
                                   ^
                          RecentOperationID (last processed)

  Equal timestamps keep insertion order: a newcomer is linked after every
  existing operation with the same timestamp.

INSERTION:
  Two phases. Operations usually arrive in time order, so the search first
  walks forward from the recent pointer. When the new timestamp precedes
  that pointer (a backdated operation) it falls back to a scan from the
  earliest operation.

VOIDING:
  Pending -> Canceled (never had an effect)
  Applied -> Revoked  (had an effect, the sub-loan must be replayed)
  Revocation operations can never be voided.
*/
package lending

// subLoanView is the working copy of one sub-loan during a batch.
type subLoanView struct {
	loan   SubLoan
	ops    []Operation
	events []Event

	// state when loaded, used for transfer deltas and hooks
	before SubLoan
}

func newSubLoanView(s SubLoan, ops []Operation) *subLoanView {
	arena := make([]Operation, len(ops))
	copy(arena, ops)
	return &subLoanView{loan: s, ops: arena, before: s}
}

func (v *subLoanView) op(id OperationID) *Operation {
	if id == 0 || int(id) > len(v.ops) {
		return nil
	}
	return &v.ops[id-1]
}

// chronological returns the operations in list order.
func (v *subLoanView) chronological() []Operation {
	out := make([]Operation, 0, len(v.ops))
	for op := v.op(v.loan.EarliestOperationID); op != nil; op = v.op(op.Next) {
		out = append(out, *op)
	}
	return out
}

// =============================================================================
// VALIDATION
// =============================================================================

func validateOperation(kind OperationKind, ts int64, value uint64, account Address, now int64) error {
	switch kind {
	case KindRepayment:
		if account.IsZero() {
			return invalid("account", account, ErrInvalidAccount)
		}
		if ts > now {
			return invalid("timestamp", ts, ErrInvalidTimestamp)
		}
		if value == 0 {
			return invalid("value", value, ErrInvalidValue)
		}
		return nil
	case KindDiscounting:
		if value == 0 {
			return invalid("value", value, ErrInvalidValue)
		}
	case KindSetDuration:
		if value == 0 || value > MaxDuration {
			return invalid("value", value, ErrInvalidDuration)
		}
	case KindSetInterestRateRemuneratory, KindSetInterestRateMoratory, KindSetLateFeeRate:
		if value > MaxRate {
			return invalid("value", value, ErrInvalidRate)
		}
	case KindFreezing:
		if value != 0 {
			return invalid("value", value, ErrInvalidValue)
		}
	case KindUnfreezing:
		if value > 1 {
			return invalid("value", value, ErrInvalidValue)
		}
	default:
		return invalid("kind", kind, ErrInvalidKind)
	}
	if !account.IsZero() {
		return invalid("account", account, ErrInvalidAccount)
	}
	return nil
}

// =============================================================================
// INSERT
// =============================================================================

// insert validates and links a new operation. A zero timestamp means now.
func (v *subLoanView) insert(kind OperationKind, ts int64, value uint64, account Address, now int64) (*Operation, error) {
	if ts == 0 {
		ts = now
	}
	if err := validateOperation(kind, ts, value, account, now); err != nil {
		return nil, err
	}
	return v.link(kind, ts, value, account, now)
}

// link assigns the next id and splices the operation into the chain.
func (v *subLoanView) link(kind OperationKind, ts int64, value uint64, account Address, now int64) (*Operation, error) {
	if ts < v.loan.StartTimestamp {
		return nil, invalid("timestamp", ts, ErrTimestampTooEarly)
	}
	if v.loan.OperationCount >= MaxOperationID {
		return nil, ErrOperationIDOverflow
	}

	id := v.loan.OperationCount + 1
	prev := v.predecessor(ts)
	v.ops = append(v.ops, Operation{
		SubLoanID: v.loan.ID,
		ID:        id,
		Kind:      kind,
		Status:    OpPending,
		Timestamp: ts,
		Value:     value,
		Account:   account,
	})
	op := v.op(id)
	if p := v.op(prev); p != nil {
		op.Next = p.Next
		p.Next = id
	} else {
		op.Next = v.loan.EarliestOperationID
		v.loan.EarliestOperationID = id
	}
	v.loan.OperationCount = id

	v.emitOp(EventOperationAdded, op, Event{NewValue: value, To: account})
	if ts > now {
		v.emitOp(EventOperationScheduled, op, Event{NewValue: value})
	}
	return op, nil
}

// predecessor finds the last operation with timestamp <= ts, or 0 when the
// new operation becomes the head of the list.
func (v *subLoanView) predecessor(ts int64) OperationID {
	if recent := v.op(v.loan.RecentOperationID); recent != nil && recent.Timestamp <= ts {
		prev := recent.ID
		for next := v.op(recent.Next); next != nil && next.Timestamp <= ts; next = v.op(next.Next) {
			prev = next.ID
		}
		return prev
	}

	var prev OperationID
	for next := v.op(v.loan.EarliestOperationID); next != nil && next.Timestamp <= ts; next = v.op(next.Next) {
		prev = next.ID
	}
	return prev
}

// =============================================================================
// VOID
// =============================================================================

// void cancels a pending operation or revokes an applied one. It reports
// whether the voided operation had already taken effect.
func (v *subLoanView) void(id OperationID, counterparty Address) (*Operation, bool, error) {
	op := v.op(id)
	if op == nil {
		return nil, false, &OperationError{SubLoanID: v.loan.ID, OperationID: id, Err: ErrOperationNotFound}
	}
	if op.Kind == KindRevocation {
		return nil, false, &OperationError{SubLoanID: v.loan.ID, OperationID: id, Kind: op.Kind, Err: ErrVoidingProhibited}
	}

	switch op.Status {
	case OpPending:
		op.Status = OpCanceled
		v.emitOp(EventOperationCanceled, op, Event{OldValue: op.Value, To: counterparty})
		return op, false, nil
	case OpApplied:
		op.Status = OpRevoked
		v.emitOp(EventOperationRevoked, op, Event{OldValue: op.Value, To: counterparty})
		return op, true, nil
	case OpCanceled:
		return nil, false, &OperationError{SubLoanID: v.loan.ID, OperationID: id, Kind: op.Kind, Err: ErrAlreadyCanceled}
	default:
		return nil, false, &OperationError{SubLoanID: v.loan.ID, OperationID: id, Kind: op.Kind, Err: ErrAlreadyRevoked}
	}
}

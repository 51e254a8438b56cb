/*
replay.go - Replay controller and token settlement

WHY FULL REPLAY:
  Compound interest with per-step rounding and a one-time late fee make the
  final balance depend on the exact order and dates of every effect. An
  operation inserted before already processed history cannot be patched in;
  the sub-loan is reset to its initial terms and the whole list is
  reprocessed.

DECISION:
  replay       if an Applied operation was voided, or the earliest changed
               timestamp precedes the recent (last processed) operation
  incremental  otherwise

SETTLEMENT:
  Token movement is derived from state, never from individual operations:

    delta = repaid total after - repaid total before

    delta > 0  counterparty -> pool   (pool.OnBeforeLiquidityIn)
    delta < 0  pool -> counterparty   (pool.OnBeforeLiquidityOut)

  The same rule covers a plain repayment, a revoked repayment and a replay
  that changed how much a RepayAll payment absorbed.
*/
package lending

import "context"

// trigger summarizes what a batch changed on one sub-loan.
type trigger struct {
	minTimestamp int64
	forceReplay  bool
	counterparty Address
}

func needsReplay(v *subLoanView, t trigger) bool {
	if t.forceReplay {
		return true
	}
	recent := v.op(v.loan.RecentOperationID)
	return recent != nil && t.minTimestamp < recent.Timestamp
}

// reconcile brings the working copy up to now, replaying when required.
// It reports whether a full replay happened.
func reconcile(cal Calendar, v *subLoanView, t trigger, now int64, rec Recorder) (bool, error) {
	if !needsReplay(v, t) {
		return false, advance(cal, v, now, rec)
	}
	rec.Replayed(v.loan.ID)
	return true, replay(cal, v, now, rec)
}

// replay resets the sub-loan to its initial terms and reprocesses every
// operation up to now.
func replay(cal Calendar, v *subLoanView, now int64, rec Recorder) error {
	s := &v.loan
	s.Revision++
	s.Current = s.Initial
	s.Status = StatusOngoing
	s.Tracked = Components{Principal: s.BorrowedAmount + s.AddonAmount}
	s.Repaid = Components{}
	s.Discount = Components{}
	s.TrackedTimestamp = s.StartTimestamp
	s.FreezeTimestamp = 0
	s.RecentOperationID = 0

	for i := range v.ops {
		if v.ops[i].Status == OpApplied {
			v.ops[i].Status = OpPending
		}
	}
	v.emit(Event{Kind: EventSubLoanReplayed, Timestamp: now, OldValue: uint64(s.Revision - 1), NewValue: uint64(s.Revision)})

	return advance(cal, v, now, rec)
}

// =============================================================================
// SETTLEMENT - hooks and transfers implied by a state change
// =============================================================================

func (e *Engine) settle(ctx context.Context, v *subLoanView, counterparty Address, now int64) error {
	s := &v.loan
	policy, pool, err := e.programs.Resolve(ctx, s.ProgramID)
	if err != nil {
		return err
	}
	if counterparty.IsZero() {
		counterparty = s.Borrower
	}

	before, after := v.before.Repaid.Total(), s.Repaid.Total()
	switch {
	case after > before:
		if err := e.moveIn(ctx, pool, counterparty, after-before); err != nil {
			return err
		}
		v.emit(Event{Kind: EventTransferSettled, Timestamp: now, Amount: after - before, From: counterparty, To: pool.Account()})
	case after < before:
		if err := e.moveOut(ctx, pool, counterparty, before-after); err != nil {
			return err
		}
		v.emit(Event{Kind: EventTransferSettled, Timestamp: now, Amount: before - after, From: pool.Account(), To: counterparty})
	}

	wasOngoing := v.before.Status == StatusOngoing
	isOngoing := s.Status == StatusOngoing
	exposure := s.BorrowedAmount + s.AddonAmount
	if wasOngoing && !isOngoing {
		if err := policy.OnAfterLoanClosed(ctx, s.Borrower, exposure); err != nil {
			return collaboratorErr("credit policy OnAfterLoanClosed", err)
		}
	}
	if !wasOngoing && isOngoing {
		if err := policy.OnBeforeLoanOpened(ctx, s.Borrower, exposure); err != nil {
			return collaboratorErr("credit policy OnBeforeLoanOpened", err)
		}
	}

	if s.Status == StatusRevoked && v.before.Status != StatusRevoked {
		return e.settleRevocation(ctx, v, pool, now)
	}
	return nil
}

// settleRevocation unwinds the loan: the borrower returns what was lent and
// not yet repaid (or receives what was repaid on top of it) and the addon
// treasury returns the addon.
func (e *Engine) settleRevocation(ctx context.Context, v *subLoanView, pool LiquidityPool, now int64) error {
	s := &v.loan
	repaid := s.Repaid.Total()
	switch {
	case repaid < s.BorrowedAmount:
		due := s.BorrowedAmount - repaid
		if err := e.moveIn(ctx, pool, s.Borrower, due); err != nil {
			return err
		}
		v.emit(Event{Kind: EventTransferSettled, Timestamp: now, Amount: due, From: s.Borrower, To: pool.Account()})
	case repaid > s.BorrowedAmount:
		refund := repaid - s.BorrowedAmount
		if err := e.moveOut(ctx, pool, s.Borrower, refund); err != nil {
			return err
		}
		v.emit(Event{Kind: EventTransferSettled, Timestamp: now, Amount: refund, From: pool.Account(), To: s.Borrower})
	}

	if s.AddonAmount == 0 {
		return nil
	}
	treasury, err := e.addonTreasury(ctx)
	if err != nil {
		return err
	}
	if err := e.moveIn(ctx, pool, treasury, s.AddonAmount); err != nil {
		return err
	}
	v.emit(Event{Kind: EventTransferSettled, Timestamp: now, Amount: s.AddonAmount, From: treasury, To: pool.Account()})
	return nil
}

func (e *Engine) moveIn(ctx context.Context, pool LiquidityPool, from Address, amount uint64) error {
	if err := pool.OnBeforeLiquidityIn(ctx, amount); err != nil {
		return collaboratorErr("pool OnBeforeLiquidityIn", err)
	}
	if err := e.tokens.Transfer(ctx, from, pool.Account(), amount); err != nil {
		return collaboratorErr("token transfer", err)
	}
	e.recorder.Transferred("in", amount)
	return nil
}

func (e *Engine) moveOut(ctx context.Context, pool LiquidityPool, to Address, amount uint64) error {
	if err := pool.OnBeforeLiquidityOut(ctx, amount); err != nil {
		return collaboratorErr("pool OnBeforeLiquidityOut", err)
	}
	if err := e.tokens.Transfer(ctx, pool.Account(), to, amount); err != nil {
		return collaboratorErr("token transfer", err)
	}
	e.recorder.Transferred("out", amount)
	return nil
}

package lending

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingRecorder struct {
	nopRecorder
	applied  map[OperationKind]int
	replayed int
}

func newCountingRecorder() *countingRecorder {
	return &countingRecorder{applied: make(map[OperationKind]int)}
}

func (r *countingRecorder) OperationApplied(kind OperationKind) { r.applied[kind]++ }
func (r *countingRecorder) Replayed(SubLoanID) { r.replayed++ }

func mustInsert(t *testing.T, v *subLoanView, kind OperationKind, ts int64, value uint64, account Address) *Operation {
	t.Helper()
	op, err := v.insert(kind, ts, value, account, dayTS(100))
	require.NoError(t, err)
	return op
}

// =============================================================================
// ADVANCE
// =============================================================================

func TestAdvance_AppliesOnlyDueOperations(t *testing.T) {
	// GIVEN: A repayment on day 3 and a rate change on day 20
	// WHEN: Advancing to day 10
	// THEN: Only the repayment is applied; accrual stops at day 3

	v := newTestView()
	repay := mustInsert(t, v, KindRepayment, dayTS(3), 20_000, "alice")
	rate := mustInsert(t, v, KindSetInterestRateRemuneratory, dayTS(20), 0, "")
	rec := newCountingRecorder()

	require.NoError(t, advance(utc, v, dayTS(10), rec))

	assert.Equal(t, OpApplied, v.op(repay.ID).Status)
	assert.Equal(t, OpPending, v.op(rate.ID).Status)
	assert.Equal(t, repay.ID, v.loan.RecentOperationID)
	assert.Equal(t, dayTS(3), v.loan.TrackedTimestamp)
	assert.Equal(t, uint64(20_000), v.loan.Repaid.Total())
	assert.Equal(t, 1, rec.applied[KindRepayment])
}

func TestAdvance_SkipsCanceledOperations(t *testing.T) {
	v := newTestView()
	op := mustInsert(t, v, KindDiscounting, dayTS(2), 10_000, "")
	_, _, err := v.void(op.ID, "")
	require.NoError(t, err)

	require.NoError(t, advance(utc, v, dayTS(10), nopRecorder{}))

	assert.Equal(t, OpCanceled, v.op(op.ID).Status)
	assert.Zero(t, v.loan.Discount.Total())
	assert.Zero(t, v.loan.RecentOperationID)
}

func TestAdvance_RateChangeAffectsLaterAccrual(t *testing.T) {
	// GIVEN: 1% a day, dropped to 0 on day 1
	// WHEN: Processing to day 10 with a marker operation on day 10
	// THEN: Only the first day accrued

	v := newSubLoanView(testSubLoan(1_000_000, remuneratoryTerms(30, 10_000_000)), nil)
	mustInsert(t, v, KindSetInterestRateRemuneratory, dayTS(1), 0, "")
	mustInsert(t, v, KindSetLateFeeRate, dayTS(10), 0, "")

	require.NoError(t, advance(utc, v, dayTS(10), nopRecorder{}))

	assert.Equal(t, uint64(10_000), v.loan.Tracked.InterestRemuneratory)
	assert.Zero(t, v.loan.Current.Remuneratory)
	assert.Equal(t, uint32(10_000_000), v.loan.Initial.Remuneratory)
}

func TestAdvance_FreezeThenUnfreezeExtendsDuration(t *testing.T) {
	// GIVEN: Frozen on day 5, unfrozen on day 8 (value 0 = extend)
	// WHEN: Processing
	// THEN: Duration grows by the 3 frozen days; interest covers 5 days

	v := newSubLoanView(testSubLoan(1_000_000, remuneratoryTerms(30, 10_000_000)), nil)
	mustInsert(t, v, KindFreezing, dayTS(5), 0, "")
	mustInsert(t, v, KindUnfreezing, dayTS(8), 0, "")

	require.NoError(t, advance(utc, v, dayTS(8), nopRecorder{}))

	expected, err := compoundGrowth(1_000_000, 10_000_000, 5)
	require.NoError(t, err)
	assert.Equal(t, expected-1_000_000, v.loan.Tracked.InterestRemuneratory)
	assert.Equal(t, uint16(33), v.loan.Current.Duration)
	assert.Zero(t, v.loan.FreezeTimestamp)
	assert.Equal(t, dayTS(8), v.loan.TrackedTimestamp)
}

func TestAdvance_UnfreezeWithoutExtension(t *testing.T) {
	v := newSubLoanView(testSubLoan(1_000_000, remuneratoryTerms(30, 10_000_000)), nil)
	mustInsert(t, v, KindFreezing, dayTS(5), 0, "")
	mustInsert(t, v, KindUnfreezing, dayTS(8), 1, "")

	require.NoError(t, advance(utc, v, dayTS(8), nopRecorder{}))
	assert.Equal(t, uint16(30), v.loan.Current.Duration)
}

func TestAdvance_FreezeStateErrors(t *testing.T) {
	t.Run("unfreeze without freeze", func(t *testing.T) {
		v := newTestView()
		mustInsert(t, v, KindUnfreezing, dayTS(2), 0, "")
		err := advance(utc, v, dayTS(3), nopRecorder{})
		assert.ErrorIs(t, err, ErrNotFrozen)
	})
	t.Run("freeze twice", func(t *testing.T) {
		v := newTestView()
		mustInsert(t, v, KindFreezing, dayTS(2), 0, "")
		mustInsert(t, v, KindFreezing, dayTS(3), 0, "")
		err := advance(utc, v, dayTS(4), nopRecorder{})
		assert.ErrorIs(t, err, ErrAlreadyFrozen)

		var opErr *OperationError
		require.ErrorAs(t, err, &opErr)
		assert.Equal(t, OperationID(2), opErr.OperationID)
	})
}

func TestAdvance_RevocationStopsProcessing(t *testing.T) {
	v := newTestView()
	revoke, err := v.link(KindRevocation, dayTS(4), 0, "", dayTS(4))
	require.NoError(t, err)
	later := mustInsert(t, v, KindDiscounting, dayTS(6), 10_000, "")

	require.NoError(t, advance(utc, v, dayTS(10), nopRecorder{}))

	assert.Equal(t, StatusRevoked, v.loan.Status)
	assert.Zero(t, v.loan.Tracked.Total())
	assert.Equal(t, OpApplied, v.op(revoke.ID).Status)
	assert.Equal(t, OpPending, v.op(later.ID).Status)

	// a revoked sub-loan never advances again
	require.NoError(t, advance(utc, v, dayTS(20), nopRecorder{}))
	assert.Equal(t, OpPending, v.op(later.ID).Status)
}

func TestAdvance_RepaymentClosesLoan(t *testing.T) {
	v := newTestView()
	mustInsert(t, v, KindRepayment, dayTS(0), RepayAll, "alice")

	require.NoError(t, advance(utc, v, dayTS(1), nopRecorder{}))

	assert.Equal(t, StatusFullyRepaid, v.loan.Status)
	var sawStatus bool
	for _, e := range v.events {
		if e.Kind == EventStatusChanged {
			sawStatus = true
			assert.Equal(t, uint64(StatusOngoing), e.OldValue)
			assert.Equal(t, uint64(StatusFullyRepaid), e.NewValue)
		}
	}
	assert.True(t, sawStatus)
}

// =============================================================================
// REPLAY
// =============================================================================

func TestNeedsReplay(t *testing.T) {
	v := newTestView()
	mustInsert(t, v, KindDiscounting, dayTS(5), 10_000, "")
	require.NoError(t, advance(utc, v, dayTS(6), nopRecorder{}))

	assert.False(t, needsReplay(v, trigger{minTimestamp: dayTS(5)}), "same instant as recent")
	assert.False(t, needsReplay(v, trigger{minTimestamp: dayTS(7)}))
	assert.True(t, needsReplay(v, trigger{minTimestamp: dayTS(4)}))
	assert.True(t, needsReplay(v, trigger{minTimestamp: dayTS(9), forceReplay: true}))

	fresh := newTestView()
	assert.False(t, needsReplay(fresh, trigger{minTimestamp: t0}))
}

func TestReplay_MatchesIncrementalProcessing(t *testing.T) {
	// GIVEN: The same operations processed in three steps on one copy
	// WHEN: Replaying a second copy from scratch
	// THEN: Both end in the same state

	build := func() *subLoanView {
		v := newSubLoanView(testSubLoan(1_000_000, Terms{Duration: 10, Rates: Rates{
			Remuneratory: 10_000_000, Moratory: 5_000_000, LateFee: 20_000_000,
		}}), nil)
		mustInsert(t, v, KindRepayment, dayTS(3), 100_000, "alice")
		mustInsert(t, v, KindSetInterestRateRemuneratory, dayTS(7), 2_000_000, "")
		mustInsert(t, v, KindDiscounting, dayTS(12), 50_000, "")
		mustInsert(t, v, KindRepayment, dayTS(15), 200_000, "alice")
		return v
	}

	stepped := build()
	for _, now := range []int64{dayTS(5), dayTS(13), dayTS(20)} {
		require.NoError(t, advance(utc, stepped, now, nopRecorder{}))
	}

	replayed := build()
	require.NoError(t, replay(utc, replayed, dayTS(20), nopRecorder{}))

	assert.Equal(t, stepped.loan.Tracked, replayed.loan.Tracked)
	assert.Equal(t, stepped.loan.Repaid, replayed.loan.Repaid)
	assert.Equal(t, stepped.loan.Discount, replayed.loan.Discount)
	assert.Equal(t, stepped.loan.Current, replayed.loan.Current)
	assert.Equal(t, stepped.loan.TrackedTimestamp, replayed.loan.TrackedTimestamp)
	assert.Equal(t, stepped.loan.Revision+1, replayed.loan.Revision)
}

func TestReplay_DropsRevokedOperations(t *testing.T) {
	v := newTestView()
	op := mustInsert(t, v, KindDiscounting, dayTS(2), 10_000, "")
	require.NoError(t, advance(utc, v, dayTS(3), nopRecorder{}))
	require.Equal(t, uint64(10_000), v.loan.Discount.Total())

	_, applied, err := v.void(op.ID, "")
	require.NoError(t, err)
	require.True(t, applied)

	rec := newCountingRecorder()
	replayedNow, err := reconcile(utc, v, trigger{minTimestamp: op.Timestamp, forceReplay: true}, dayTS(3), rec)
	require.NoError(t, err)

	assert.True(t, replayedNow)
	assert.Equal(t, 1, rec.replayed)
	assert.Zero(t, v.loan.Discount.Total())
	assert.Equal(t, uint32(2), v.loan.Revision)
	assert.Equal(t, OpRevoked, v.op(op.ID).Status)
	assert.Equal(t, t0, v.loan.TrackedTimestamp)
}

func TestReplay_RestoresInitialTerms(t *testing.T) {
	v := newTestView()
	mustInsert(t, v, KindSetDuration, dayTS(2), 60, "")
	require.NoError(t, advance(utc, v, dayTS(3), nopRecorder{}))
	require.Equal(t, uint16(60), v.loan.Current.Duration)

	// make the duration change disappear
	v.ops[0].Status = OpRevoked
	require.NoError(t, replay(utc, v, dayTS(3), nopRecorder{}))

	assert.Equal(t, v.loan.Initial, v.loan.Current)
	assert.Equal(t, StatusOngoing, v.loan.Status)
}

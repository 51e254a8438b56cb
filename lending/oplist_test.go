package lending

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestView() *subLoanView {
	return newSubLoanView(testSubLoan(100_000, remuneratoryTerms(30, 10_000_000)), nil)
}

func chainIDs(v *subLoanView) []OperationID {
	var ids []OperationID
	for _, op := range v.chronological() {
		ids = append(ids, op.ID)
	}
	return ids
}

// =============================================================================
// INSERT ORDERING
// =============================================================================

func TestInsert_KeepsChronologicalOrder(t *testing.T) {
	// GIVEN: Operations inserted out of time order, two sharing a timestamp
	// WHEN: Walking the chain
	// THEN: Order is by timestamp, equal timestamps by insertion

	v := newTestView()
	now := dayTS(40)
	for _, ts := range []int64{dayTS(3), dayTS(1), dayTS(2), dayTS(2)} {
		_, err := v.insert(KindDiscounting, ts, 1_000, "", now)
		require.NoError(t, err)
	}

	assert.Equal(t, []OperationID{2, 3, 4, 1}, chainIDs(v))
	assert.Equal(t, OperationID(2), v.loan.EarliestOperationID)
	assert.Equal(t, OperationID(4), v.loan.OperationCount)
}

func TestInsert_FastPathAfterRecent(t *testing.T) {
	v := newTestView()
	now := dayTS(40)
	for _, ts := range []int64{dayTS(1), dayTS(5), dayTS(9)} {
		_, err := v.insert(KindDiscounting, ts, 1_000, "", now)
		require.NoError(t, err)
	}
	v.loan.RecentOperationID = 2

	// after the recent pointer
	_, err := v.insert(KindDiscounting, dayTS(7), 1_000, "", now)
	require.NoError(t, err)
	// before it: falls back to a scan from the head
	_, err = v.insert(KindDiscounting, dayTS(0), 1_000, "", now)
	require.NoError(t, err)

	assert.Equal(t, []OperationID{5, 1, 2, 4, 3}, chainIDs(v))
}

func TestInsert_ZeroTimestampMeansNow(t *testing.T) {
	v := newTestView()
	op, err := v.insert(KindRepayment, 0, 10_000, "alice", dayTS(4))
	require.NoError(t, err)

	assert.Equal(t, dayTS(4), op.Timestamp)
	assert.Equal(t, OpPending, op.Status)
}

func TestInsert_FutureOperationIsScheduled(t *testing.T) {
	v := newTestView()
	_, err := v.insert(KindSetInterestRateRemuneratory, dayTS(10), 5_000_000, "", dayTS(4))
	require.NoError(t, err)

	var kinds []EventKind
	for _, e := range v.events {
		kinds = append(kinds, e.Kind)
	}
	assert.Equal(t, []EventKind{EventOperationAdded, EventOperationScheduled}, kinds)
}

// =============================================================================
// VALIDATION
// =============================================================================

func TestInsert_Validation(t *testing.T) {
	now := dayTS(10)
	tests := []struct {
		name    string
		kind    OperationKind
		ts      int64
		value   uint64
		account Address
		wantErr error
	}{
		{"repayment without account", KindRepayment, dayTS(1), 100, "", ErrInvalidAccount},
		{"repayment in the future", KindRepayment, dayTS(11), 100, "alice", ErrInvalidTimestamp},
		{"zero repayment", KindRepayment, dayTS(1), 0, "alice", ErrInvalidValue},
		{"zero discount", KindDiscounting, dayTS(1), 0, "", ErrInvalidValue},
		{"discount with account", KindDiscounting, dayTS(1), 100, "alice", ErrInvalidAccount},
		{"zero duration", KindSetDuration, dayTS(1), 0, "", ErrInvalidDuration},
		{"duration too wide", KindSetDuration, dayTS(1), MaxDuration + 1, "", ErrInvalidDuration},
		{"rate too wide", KindSetLateFeeRate, dayTS(1), MaxRate + 1, "", ErrInvalidRate},
		{"freeze with value", KindFreezing, dayTS(1), 1, "", ErrInvalidValue},
		{"unfreeze flag out of range", KindUnfreezing, dayTS(1), 2, "", ErrInvalidValue},
		{"revocation by request", KindRevocation, dayTS(1), 0, "", ErrInvalidKind},
		{"unknown kind", KindUnknown, dayTS(1), 0, "", ErrInvalidKind},
		{"before start", KindDiscounting, t0 - 1, 100, "", ErrTimestampTooEarly},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := newTestView()
			_, err := v.insert(tt.kind, tt.ts, tt.value, tt.account, now)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.True(t, IsValidationError(err))
			assert.Zero(t, v.loan.OperationCount)
			assert.Empty(t, v.events)
		})
	}
}

func TestInsert_OperationIDOverflow(t *testing.T) {
	v := newTestView()
	v.loan.OperationCount = MaxOperationID

	_, err := v.insert(KindDiscounting, dayTS(1), 100, "", dayTS(2))
	assert.ErrorIs(t, err, ErrOperationIDOverflow)
}

// =============================================================================
// VOID
// =============================================================================

func TestVoid_PendingBecomesCanceled(t *testing.T) {
	v := newTestView()
	op, err := v.insert(KindDiscounting, dayTS(1), 100, "", dayTS(2))
	require.NoError(t, err)

	voided, applied, err := v.void(op.ID, "")
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, OpCanceled, voided.Status)

	_, _, err = v.void(op.ID, "")
	assert.ErrorIs(t, err, ErrAlreadyCanceled)
}

func TestVoid_AppliedBecomesRevoked(t *testing.T) {
	v := newTestView()
	op, err := v.insert(KindDiscounting, dayTS(1), 100, "", dayTS(2))
	require.NoError(t, err)
	op.Status = OpApplied

	voided, applied, err := v.void(op.ID, "")
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, OpRevoked, voided.Status)

	_, _, err = v.void(op.ID, "")
	assert.ErrorIs(t, err, ErrAlreadyRevoked)
}

func TestVoid_RevocationProhibited(t *testing.T) {
	v := newTestView()
	op, err := v.link(KindRevocation, dayTS(1), 0, "", dayTS(1))
	require.NoError(t, err)

	_, _, err = v.void(op.ID, "")
	assert.ErrorIs(t, err, ErrVoidingProhibited)
}

func TestVoid_UnknownOperation(t *testing.T) {
	v := newTestView()
	_, _, err := v.void(7, "")
	assert.ErrorIs(t, err, ErrOperationNotFound)
	assert.True(t, IsNotFound(err))
}

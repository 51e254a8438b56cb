package lending

import (
	"context"
	"time"
)

// =============================================================================
// EVENTS - Domain notifications, one struct, field by field
// =============================================================================

type EventKind string

const (
	EventLoanTaken          EventKind = "loan_taken"
	EventOperationAdded     EventKind = "operation_added"
	EventOperationScheduled EventKind = "operation_scheduled"
	EventOperationApplied   EventKind = "operation_applied"
	EventOperationCanceled  EventKind = "operation_canceled"
	EventOperationRevoked   EventKind = "operation_revoked"
	EventRepaymentApplied   EventKind = "repayment_applied"
	EventDiscountApplied    EventKind = "discount_applied"
	EventDurationChanged    EventKind = "duration_changed"
	EventRateChanged        EventKind = "rate_changed"
	EventFrozen             EventKind = "frozen"
	EventUnfrozen           EventKind = "unfrozen"
	EventSubLoanRevoked     EventKind = "sub_loan_revoked"
	EventStatusChanged      EventKind = "status_changed"
	EventSubLoanReplayed    EventKind = "sub_loan_replayed"
	EventTransferSettled    EventKind = "transfer_settled"
)

// Event is a notification produced while processing a batch. Fields that do
// not apply to a kind are left zero.
type Event struct {
	ID            string
	BatchID       string
	Seq           int
	Kind          EventKind
	SubLoanID     SubLoanID
	OperationID   OperationID
	OperationKind OperationKind
	Timestamp     int64 // instant the effect applies at
	Revision      uint32
	Status        SubLoanStatus
	OldValue      uint64
	NewValue      uint64
	Amount        uint64
	Outstanding   uint64 // outstanding balance after the effect
	From          Address
	To            Address
	RecordedAt    time.Time
}

// EventSink receives committed events. Publish is called after the batch
// commits and its error is not fatal to the batch.
type EventSink interface {
	Publish(ctx context.Context, events []Event) error
}

// NopSink drops every event.
type NopSink struct{}

func (NopSink) Publish(context.Context, []Event) error { return nil }

func (v *subLoanView) emit(e Event) {
	e.SubLoanID = v.loan.ID
	e.Revision = v.loan.Revision
	e.Status = v.loan.Status
	v.events = append(v.events, e)
}

func (v *subLoanView) emitOp(kind EventKind, op *Operation, e Event) {
	e.Kind = kind
	e.OperationID = op.ID
	e.OperationKind = op.Kind
	if e.Timestamp == 0 {
		e.Timestamp = op.Timestamp
	}
	v.emit(e)
}

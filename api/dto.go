/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the engine's model from the external API contract:
  - Amounts stay integers (token units), never floats
  - Rates are decimal strings ("0.01" = 1% a day)
  - Enums are names ("repayment", "ongoing"), never numbers

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

TYPES:
  Sub-loans:  SubLoanDTO, ComponentsDTO, TermsDTO
  Operations: OperationDTO, BatchRequest, BatchRequestItem, BatchResponse
  Previews:   PreviewDTO, LoanPreviewDTO
  Events:     EventDTO
  Scenarios:  ScenarioDTO, LoadScenarioRequest

VALIDATION:
  Validation is done in handlers and the engine, not in DTOs. DTOs are pure
  data carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - factory/loan.go: LoanJSON, the take-loan request body
*/
package api

import (
	"time"

	"github.com/warp/loan-engine/factory"
	"github.com/warp/loan-engine/lending"
)

// =============================================================================
// SUB-LOANS
// =============================================================================

type ComponentsDTO struct {
	Principal            uint64 `json:"principal"`
	InterestRemuneratory uint64 `json:"interest_remuneratory"`
	InterestMoratory     uint64 `json:"interest_moratory"`
	LateFee              uint64 `json:"late_fee"`
	Total                uint64 `json:"total"`
}

type TermsDTO struct {
	DurationDays     uint16 `json:"duration_days"`
	RateRemuneratory string `json:"rate_remuneratory"`
	RateMoratory     string `json:"rate_moratory"`
	RateLateFee      string `json:"rate_late_fee"`
}

// SubLoanDTO represents a sub-loan in API responses.
type SubLoanDTO struct {
	ID               uint64        `json:"id"`
	LoanID           uint64        `json:"loan_id"`
	InstallmentIndex uint16        `json:"installment_index"`
	InstallmentCount uint16        `json:"installment_count"`
	ProgramID        uint32        `json:"program_id"`
	Borrower         string        `json:"borrower"`
	BorrowedAmount   uint64        `json:"borrowed_amount"`
	AddonAmount      uint64        `json:"addon_amount"`
	StartTimestamp   int64         `json:"start_timestamp"`
	Status           string        `json:"status"`
	Revision         uint32        `json:"revision"`
	InitialTerms     TermsDTO      `json:"initial_terms"`
	CurrentTerms     TermsDTO      `json:"current_terms"`
	Tracked          ComponentsDTO `json:"tracked"`
	Repaid           ComponentsDTO `json:"repaid"`
	Discount         ComponentsDTO `json:"discount"`
	Outstanding      uint64        `json:"outstanding"`
	TrackedTimestamp int64         `json:"tracked_timestamp"`
	FrozenSince      int64         `json:"frozen_since,omitempty"`
	OperationCount   uint16        `json:"operation_count"`
}

// =============================================================================
// OPERATIONS AND BATCHES
// =============================================================================

type OperationDTO struct {
	ID        uint16 `json:"id"`
	Kind      string `json:"kind"`
	Status    string `json:"status"`
	Timestamp int64  `json:"timestamp"`
	Value     uint64 `json:"value"`
	Account   string `json:"account,omitempty"`
	Next      uint16 `json:"next,omitempty"`
}

// BatchRequestItem is one insert or void. RepayAll replaces Value with the
// repay-everything sentinel; Rate replaces Value for rate kinds.
type BatchRequestItem struct {
	Action       string `json:"action"` // insert, void
	SubLoanID    uint64 `json:"sub_loan_id"`
	Kind         string `json:"kind,omitempty"`
	Timestamp    int64  `json:"timestamp,omitempty"`
	Value        uint64 `json:"value,omitempty"`
	RepayAll     bool   `json:"repay_all,omitempty"`
	Rate         string `json:"rate,omitempty"` // decimal, for rate kinds
	Account      string `json:"account,omitempty"`
	OperationID  uint16 `json:"operation_id,omitempty"`
	Counterparty string `json:"counterparty,omitempty"`
}

type BatchRequest struct {
	Requests []BatchRequestItem `json:"requests"`
}

type OperationRefDTO struct {
	SubLoanID   uint64 `json:"sub_loan_id"`
	OperationID uint16 `json:"operation_id"`
}

type BatchResponse struct {
	BatchID    string            `json:"batch_id"`
	Operations []OperationRefDTO `json:"operations"`
	Replayed   []uint64          `json:"replayed"`
	Events     int               `json:"events"`
}

// =============================================================================
// PREVIEWS
// =============================================================================

type PreviewDTO struct {
	SubLoanID   uint64        `json:"sub_loan_id"`
	Timestamp   int64         `json:"timestamp"`
	DayIndex    int64         `json:"day_index"`
	Status      string        `json:"status"`
	Terms       TermsDTO      `json:"terms"`
	Tracked     ComponentsDTO `json:"tracked"`
	Repaid      ComponentsDTO `json:"repaid"`
	Discount    ComponentsDTO `json:"discount"`
	Outstanding uint64        `json:"outstanding"`
}

type LoanPreviewDTO struct {
	LoanID       uint64        `json:"loan_id"`
	Timestamp    int64         `json:"timestamp"`
	Tracked      ComponentsDTO `json:"tracked"`
	Outstanding  uint64        `json:"outstanding"`
	Installments []PreviewDTO  `json:"installments"`
}

// =============================================================================
// EVENTS
// =============================================================================

type EventDTO struct {
	ID            string `json:"id"`
	BatchID       string `json:"batch_id"`
	Seq           int    `json:"seq"`
	Kind          string `json:"kind"`
	SubLoanID     uint64 `json:"sub_loan_id"`
	OperationID   uint16 `json:"operation_id,omitempty"`
	OperationKind string `json:"operation_kind,omitempty"`
	Timestamp     int64  `json:"timestamp"`
	Revision      uint32 `json:"revision"`
	Status        string `json:"status"`
	OldValue      uint64 `json:"old_value,omitempty"`
	NewValue      uint64 `json:"new_value,omitempty"`
	Amount        uint64 `json:"amount,omitempty"`
	Outstanding   uint64 `json:"outstanding,omitempty"`
	From          string `json:"from,omitempty"`
	To            string `json:"to,omitempty"`
	RecordedAt    string `json:"recorded_at"`
}

// =============================================================================
// SCENARIOS
// =============================================================================

type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toComponentsDTO(c lending.Components) ComponentsDTO {
	return ComponentsDTO{
		Principal:            c.Principal,
		InterestRemuneratory: c.InterestRemuneratory,
		InterestMoratory:     c.InterestMoratory,
		LateFee:              c.LateFee,
		Total:                c.Total(),
	}
}

func toTermsDTO(t lending.Terms) TermsDTO {
	return TermsDTO{
		DurationDays:     t.Duration,
		RateRemuneratory: factory.FormatRate(t.Remuneratory),
		RateMoratory:     factory.FormatRate(t.Moratory),
		RateLateFee:      factory.FormatRate(t.LateFee),
	}
}

func toSubLoanDTO(s lending.SubLoan) SubLoanDTO {
	return SubLoanDTO{
		ID:               uint64(s.ID),
		LoanID:           uint64(s.LoanID),
		InstallmentIndex: s.InstallmentIndex,
		InstallmentCount: s.InstallmentCount,
		ProgramID:        uint32(s.ProgramID),
		Borrower:         string(s.Borrower),
		BorrowedAmount:   s.BorrowedAmount,
		AddonAmount:      s.AddonAmount,
		StartTimestamp:   s.StartTimestamp,
		Status:           s.Status.String(),
		Revision:         s.Revision,
		InitialTerms:     toTermsDTO(s.Initial),
		CurrentTerms:     toTermsDTO(s.Current),
		Tracked:          toComponentsDTO(s.Tracked),
		Repaid:           toComponentsDTO(s.Repaid),
		Discount:         toComponentsDTO(s.Discount),
		Outstanding:      s.OutstandingBalance(),
		TrackedTimestamp: s.TrackedTimestamp,
		FrozenSince:      s.FreezeTimestamp,
		OperationCount:   uint16(s.OperationCount),
	}
}

func toOperationDTO(op lending.Operation) OperationDTO {
	return OperationDTO{
		ID:        uint16(op.ID),
		Kind:      op.Kind.String(),
		Status:    op.Status.String(),
		Timestamp: op.Timestamp,
		Value:     op.Value,
		Account:   string(op.Account),
		Next:      uint16(op.Next),
	}
}

func toPreviewDTO(p lending.Preview) PreviewDTO {
	return PreviewDTO{
		SubLoanID:   uint64(p.SubLoanID),
		Timestamp:   p.Timestamp,
		DayIndex:    p.DayIndex,
		Status:      p.Status.String(),
		Terms:       toTermsDTO(p.Terms),
		Tracked:     toComponentsDTO(p.Tracked),
		Repaid:      toComponentsDTO(p.Repaid),
		Discount:    toComponentsDTO(p.Discount),
		Outstanding: p.Outstanding,
	}
}

func toEventDTO(e lending.Event) EventDTO {
	dto := EventDTO{
		ID:          e.ID,
		BatchID:     e.BatchID,
		Seq:         e.Seq,
		Kind:        string(e.Kind),
		SubLoanID:   uint64(e.SubLoanID),
		OperationID: uint16(e.OperationID),
		Timestamp:   e.Timestamp,
		Revision:    e.Revision,
		Status:      e.Status.String(),
		OldValue:    e.OldValue,
		NewValue:    e.NewValue,
		Amount:      e.Amount,
		Outstanding: e.Outstanding,
		From:        string(e.From),
		To:          string(e.To),
		RecordedAt:  e.RecordedAt.UTC().Format(time.RFC3339),
	}
	if e.OperationKind != lending.KindUnknown {
		dto.OperationKind = e.OperationKind.String()
	}
	return dto
}

func toBatchResponse(res lending.BatchResult) BatchResponse {
	out := BatchResponse{
		BatchID:    res.BatchID,
		Operations: make([]OperationRefDTO, 0, len(res.Operations)),
		Replayed:   make([]uint64, 0, len(res.Replayed)),
		Events:     len(res.Events),
	}
	for _, ref := range res.Operations {
		out.Operations = append(out.Operations, OperationRefDTO{SubLoanID: uint64(ref.SubLoanID), OperationID: uint16(ref.OperationID)})
	}
	for _, id := range res.Replayed {
		out.Replayed = append(out.Replayed, uint64(id))
	}
	return out
}

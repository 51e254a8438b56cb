/*
Package lending provides the sub-loan operation ledger and accrual engine.

PURPOSE:
  A loan is split into one or more sub-loans (installments). Each sub-loan
  owns a time-ordered list of operations: repayments, discounts, rate and
  duration changes, freezes, revocation. The outstanding balance is never
  stored as an independent fact; it is the deterministic result of applying
  those operations in order on top of daily interest accrual.

KEY CONCEPTS IN THIS FILE (types.go):
  - SubLoan: one installment with immutable initial terms and live balances
  - Operation: one scheduled effect on a sub-loan, linked in time order
  - Components: the four balance buckets (principal, remuneratory interest,
    moratory interest, late fee)
  - Terms/Rates: duration and rates, scaled by RateFactor

FIXED UNITS:
  Amounts are uint64 token units. Rates are uint32 scaled by RateFactor, so a
  daily rate of 1% is 10_000_000. Timestamps are unix seconds.

SEE ALSO:
  - accrual.go: how balances grow with time
  - waterfall.go: how payments are spread across components
  - oplist.go: the per-sub-loan ordered operation list
  - processor.go, replay.go: applying operations, full recompute
  - batch.go: the entry point for external requests
*/
package lending

import (
	"fmt"
	"math"
)

// =============================================================================
// CONSTANTS
// =============================================================================

const (
	// RateFactor scales every interest and late-fee rate.
	RateFactor uint64 = 1_000_000_000

	// AccuracyFactor is the accuracy unit balances are rounded to when paid.
	AccuracyFactor uint64 = 10_000

	// SecondsPerDay is the length of one accrual day.
	SecondsPerDay int64 = 86_400

	// DefaultDayBoundaryOffset shifts day boundaries to the protocol time zone
	// (UTC-3).
	DefaultDayBoundaryOffset int64 = -3 * 3600

	// RepayAll is the sentinel amount meaning "repay or discount everything".
	RepayAll uint64 = math.MaxUint64

	// MaxOperationID is the largest operation identifier a sub-loan can hold.
	MaxOperationID = math.MaxUint16

	// MaxRate is the width limit of every rate field.
	MaxRate = math.MaxUint32

	// MaxDuration is the width limit of the duration field, in days.
	MaxDuration = math.MaxUint16
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type SubLoanID uint64

// LoanID is the identifier of the first sub-loan of a loan.
type LoanID = SubLoanID

type OperationID uint16

type ProgramID uint32

// Address identifies an account. The empty string is the zero address.
type Address string

func (a Address) IsZero() bool { return a == "" }

// =============================================================================
// STATUSES AND KINDS
// =============================================================================

type SubLoanStatus uint8

const (
	StatusNonexistent SubLoanStatus = iota
	StatusOngoing
	StatusFullyRepaid
	StatusRevoked
)

func (s SubLoanStatus) String() string {
	switch s {
	case StatusOngoing:
		return "ongoing"
	case StatusFullyRepaid:
		return "fully_repaid"
	case StatusRevoked:
		return "revoked"
	default:
		return "nonexistent"
	}
}

type OperationKind uint8

const (
	KindUnknown OperationKind = iota
	KindRepayment
	KindDiscounting
	KindSetDuration
	KindSetInterestRateRemuneratory
	KindSetInterestRateMoratory
	KindSetLateFeeRate
	KindFreezing
	KindUnfreezing
	KindRevocation
)

var kindNames = map[OperationKind]string{
	KindRepayment:                   "repayment",
	KindDiscounting:                 "discounting",
	KindSetDuration:                 "set_duration",
	KindSetInterestRateRemuneratory: "set_interest_rate_remuneratory",
	KindSetInterestRateMoratory:     "set_interest_rate_moratory",
	KindSetLateFeeRate:              "set_late_fee_rate",
	KindFreezing:                    "freezing",
	KindUnfreezing:                  "unfreezing",
	KindRevocation:                  "revocation",
}

func (k OperationKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("unknown(%d)", uint8(k))
}

// ParseOperationKind maps a wire name back to its kind.
func ParseOperationKind(s string) (OperationKind, bool) {
	for k, name := range kindNames {
		if name == s {
			return k, true
		}
	}
	return KindUnknown, false
}

type OperationStatus uint8

const (
	OpStatusNonexistent OperationStatus = iota
	OpPending
	OpApplied
	OpCanceled
	OpRevoked
)

func (s OperationStatus) String() string {
	switch s {
	case OpPending:
		return "pending"
	case OpApplied:
		return "applied"
	case OpCanceled:
		return "canceled"
	case OpRevoked:
		return "revoked"
	default:
		return "nonexistent"
	}
}

// =============================================================================
// TERMS AND BALANCES
// =============================================================================

// Rates are daily rates scaled by RateFactor.
type Rates struct {
	Remuneratory uint32
	Moratory     uint32
	LateFee      uint32
}

type Terms struct {
	Duration uint16 // days from the start day to the due day
	Rates
}

// Components are the four balance buckets, in waterfall order reversed:
// principal is paid last.
type Components struct {
	Principal            uint64
	InterestRemuneratory uint64
	InterestMoratory     uint64
	LateFee              uint64
}

// Total sums the raw components.
func (c Components) Total() uint64 {
	return c.Principal + c.InterestRemuneratory + c.InterestMoratory + c.LateFee
}

// Rounded sums the components after rounding each to AccuracyFactor, which
// is exactly what a RepayAll payment would consume.
func (c Components) Rounded() uint64 {
	return roundToAccuracy(c.InterestMoratory) +
		roundToAccuracy(c.LateFee) +
		roundToAccuracy(c.InterestRemuneratory) +
		roundToAccuracy(c.Principal)
}

// =============================================================================
// SUB-LOAN
// =============================================================================

// SubLoan is one individually tracked installment of a loan.
//
// Initial terms never change after creation; a replay resets Current back to
// them. Tracked components are only written by the processor.
type SubLoan struct {
	ID               SubLoanID
	LoanID           LoanID
	InstallmentIndex uint16
	InstallmentCount uint16
	ProgramID        ProgramID
	Borrower         Address
	BorrowedAmount   uint64
	AddonAmount      uint64
	StartTimestamp   int64

	Initial Terms
	Current Terms

	Status   SubLoanStatus
	Revision uint32

	Tracked  Components
	Repaid   Components
	Discount Components

	TrackedTimestamp int64
	FreezeTimestamp  int64 // 0 = not frozen

	EarliestOperationID OperationID
	RecentOperationID   OperationID // most recently processed, 0 = none
	OperationCount      OperationID
}

// OutstandingBalance is the amount a RepayAll payment would settle now.
func (s *SubLoan) OutstandingBalance() uint64 {
	return s.Tracked.Rounded()
}

// IsTerminal reports whether the sub-loan left the Ongoing state.
func (s *SubLoan) IsTerminal() bool {
	return s.Status == StatusFullyRepaid || s.Status == StatusRevoked
}

// =============================================================================
// OPERATION
// =============================================================================

// Operation is one node of a sub-loan's chronological operation list.
type Operation struct {
	SubLoanID SubLoanID
	ID        OperationID
	Kind      OperationKind
	Status    OperationStatus
	Timestamp int64
	Value     uint64
	Account   Address
	Next      OperationID // 0 = end of chain
}

// =============================================================================
// LOAN TERMS - input to TakeLoan
// =============================================================================

// InstallmentTerms describe one sub-loan to open.
type InstallmentTerms struct {
	BorrowedAmount uint64
	AddonAmount    uint64
	Terms          Terms
}

// LoanTerms describe a loan to open, one entry per installment.
type LoanTerms struct {
	ProgramID      ProgramID
	Borrower       Address
	StartTimestamp int64 // 0 = now
	Installments   []InstallmentTerms
}

/*
store.go - Persistence interface for sub-loans, operations and events

PURPOSE:
  Defines the boundary between the engine and the database. The engine
  never mutates stored records in place: it loads a working copy, processes
  it, and writes the result back inside one transaction.

KEY INTERFACES:
  Store:   sub-loan, operation and event persistence
  TxStore: Store plus WithTx for all-or-nothing batches

IMPLEMENTATIONS:
  - lending/store/memory.go: in-memory, snapshot + rollback
  - store/sqlite/sqlite.go: SQLite with database/sql transactions

SEE ALSO:
  - batch.go: every mutating call runs inside TxStore.WithTx
*/
package lending

import "context"

// =============================================================================
// STORE
// =============================================================================

type Store interface {
	// NextSubLoanID returns the identifier the next created sub-loan gets.
	NextSubLoanID(ctx context.Context) (SubLoanID, error)

	// CreateSubLoan persists a new sub-loan. Fails if the id is taken.
	CreateSubLoan(ctx context.Context, s SubLoan) error

	// GetSubLoan returns ErrSubLoanNotFound when absent.
	GetSubLoan(ctx context.Context, id SubLoanID) (SubLoan, error)

	// SaveSubLoan replaces the stored state of an existing sub-loan.
	SaveSubLoan(ctx context.Context, s SubLoan) error

	// ListSubLoans returns sub-loans matching filter, ordered by id.
	ListSubLoans(ctx context.Context, filter SubLoanFilter) ([]SubLoan, error)

	// Operations returns every operation of a sub-loan ordered by id
	// (arena order, not chronological order).
	Operations(ctx context.Context, id SubLoanID) ([]Operation, error)

	// SaveOperations upserts the given operations of a sub-loan.
	SaveOperations(ctx context.Context, id SubLoanID, ops []Operation) error

	// AppendEvents persists notifications. Append-only.
	AppendEvents(ctx context.Context, events []Event) error

	// Events returns the notifications of a sub-loan in recording order.
	Events(ctx context.Context, id SubLoanID) ([]Event, error)
}

// SubLoanFilter narrows ListSubLoans. Zero fields do not filter.
type SubLoanFilter struct {
	LoanID   LoanID
	Borrower Address
	Status   SubLoanStatus
	Limit    int
}

// Matches reports whether s passes the filter.
func (f SubLoanFilter) Matches(s SubLoan) bool {
	if f.LoanID != 0 && s.LoanID != f.LoanID {
		return false
	}
	if f.Borrower != "" && s.Borrower != f.Borrower {
		return false
	}
	if f.Status != StatusNonexistent && s.Status != f.Status {
		return false
	}
	return true
}

// TxStore wraps Store with transaction support.
// If fn returns an error every write made through the passed Store is
// rolled back.
type TxStore interface {
	Store
	WithTx(ctx context.Context, fn func(Store) error) error
}

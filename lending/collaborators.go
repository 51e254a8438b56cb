package lending

import "context"

// =============================================================================
// COLLABORATORS - External systems the engine calls into
// =============================================================================

// CreditPolicy is notified when a borrower's exposure opens or closes.
// Returning an error aborts the batch.
type CreditPolicy interface {
	OnBeforeLoanOpened(ctx context.Context, borrower Address, amount uint64) error
	OnAfterLoanClosed(ctx context.Context, borrower Address, amount uint64) error
}

// LiquidityPool is the account loans are funded from and repaid into.
type LiquidityPool interface {
	Account() Address
	OnBeforeLiquidityOut(ctx context.Context, amount uint64) error
	OnBeforeLiquidityIn(ctx context.Context, amount uint64) error
}

// ProgramRegistry binds a lending program to its credit policy and pool.
type ProgramRegistry interface {
	Resolve(ctx context.Context, id ProgramID) (CreditPolicy, LiquidityPool, error)
}

// Treasury knows where addon amounts are sent.
type Treasury interface {
	AddonTreasury(ctx context.Context) (Address, error)
}

// TokenLedger moves tokens between accounts.
type TokenLedger interface {
	Transfer(ctx context.Context, from, to Address, amount uint64) error
}

// =============================================================================
// RECORDER - Metrics hooks
// =============================================================================

// Recorder receives engine measurements. observability.Metrics implements it.
type Recorder interface {
	OperationApplied(kind OperationKind)
	Replayed(id SubLoanID)
	BatchFinished(outcome string, seconds float64)
	Transferred(direction string, amount uint64)
}

type nopRecorder struct{}

func (nopRecorder) OperationApplied(OperationKind) {}
func (nopRecorder) Replayed(SubLoanID) {}
func (nopRecorder) BatchFinished(string, float64) {}
func (nopRecorder) Transferred(string, uint64) {}

// Savepointer is implemented by collaborators that can undo their own
// effects. The engine takes a savepoint before each batch and rolls back to
// it when the batch fails.
type Savepointer interface {
	Savepoint() (rollback func())
}

func savepoints(collaborators ...any) (rollback func()) {
	var undo []func()
	for _, c := range collaborators {
		if sp, ok := c.(Savepointer); ok {
			undo = append(undo, sp.Savepoint())
		}
	}
	return func() {
		for i := len(undo) - 1; i >= 0; i-- {
			undo[i]()
		}
	}
}

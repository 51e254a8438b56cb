/*
engine.go - The lending engine: loan creation, reads and previews

PURPOSE:
  Engine is the single entry point of the package. It owns the store and the
  collaborators, serializes every state-mutating call and runs each one as a
  batch inside one store transaction.

KEY FUNCTIONS:
  TakeLoan:     open a loan as one sub-loan per installment
  Submit:       insert/void operations in a batch (batch.go)
  RevokeLoan:   revoke every sub-loan of a loan (batch.go)
  Process:      apply scheduled operations that came due (batch.go)
  Preview:      balances at an arbitrary instant, never committed
  Operations:   chronological operation list of a sub-loan
  Events:       persisted notifications of a sub-loan

CONCURRENCY:
  One writer at a time (mu). Reads go straight to the store.

SEE ALSO:
  - batch.go: run() and the per-batch working set
  - replay.go: settlement of transfers and hooks
*/
package lending

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"
)

// Dependencies are the collaborators an Engine is built from. Programs,
// Treasury and Tokens are required; the rest have defaults.
type Dependencies struct {
	Programs ProgramRegistry
	Treasury Treasury
	Tokens   TokenLedger
	Sink     EventSink
	Clock    Clock
	Calendar *Calendar // nil = DefaultCalendar()
	Logger   *slog.Logger
	Metrics  Recorder
}

type Engine struct {
	store    TxStore
	programs ProgramRegistry
	treasury Treasury
	tokens   TokenLedger
	sink     EventSink
	clock    Clock
	cal      Calendar
	log      *slog.Logger
	recorder Recorder

	mu sync.Mutex
}

func NewEngine(store TxStore, deps Dependencies) (*Engine, error) {
	if store == nil {
		return nil, errors.New("lending: store is required")
	}
	if deps.Programs == nil || deps.Treasury == nil || deps.Tokens == nil {
		return nil, errors.New("lending: programs, treasury and tokens are required")
	}
	e := &Engine{
		store:    store,
		programs: deps.Programs,
		treasury: deps.Treasury,
		tokens:   deps.Tokens,
		sink:     deps.Sink,
		clock:    deps.Clock,
		cal:      DefaultCalendar(),
		log:      deps.Logger,
		recorder: deps.Metrics,
	}
	if deps.Calendar != nil {
		e.cal = *deps.Calendar
	}
	if e.sink == nil {
		e.sink = NopSink{}
	}
	if e.clock == nil {
		e.clock = SystemClock()
	}
	if e.log == nil {
		e.log = slog.Default()
	}
	if e.recorder == nil {
		e.recorder = nopRecorder{}
	}
	return e, nil
}

// Calendar returns the day calendar the engine accrues with.
func (e *Engine) Calendar() Calendar { return e.cal }

func (e *Engine) now() int64 { return e.clock.Now().Unix() }

func (e *Engine) addonTreasury(ctx context.Context) (Address, error) {
	addr, err := e.treasury.AddonTreasury(ctx)
	if err != nil {
		return "", collaboratorErr("addon treasury", err)
	}
	if addr.IsZero() {
		return "", ErrAddonTreasuryZero
	}
	return addr, nil
}

// =============================================================================
// TAKE LOAN
// =============================================================================

// TakeLoan opens a loan with one sub-loan per installment and funds it from
// the program's pool. The returned sub-loans share the LoanID of the first.
func (e *Engine) TakeLoan(ctx context.Context, terms LoanTerms) ([]SubLoan, error) {
	var opened []SubLoan
	_, err := e.run(ctx, "take_loan", func(b *batch) error {
		var err error
		opened, err = b.takeLoan(ctx, terms)
		return err
	})
	if err != nil {
		return nil, err
	}
	return opened, nil
}

func validateLoanTerms(terms LoanTerms, now int64) error {
	if terms.Borrower.IsZero() {
		return invalid("borrower", terms.Borrower, ErrInvalidAccount)
	}
	if len(terms.Installments) == 0 || len(terms.Installments) > math.MaxUint16 {
		return invalid("installments", len(terms.Installments), ErrInvalidLoanTerms)
	}
	if terms.StartTimestamp <= 0 || terms.StartTimestamp > now {
		return invalid("start_timestamp", terms.StartTimestamp, ErrInvalidTimestamp)
	}
	var total uint64
	for i, in := range terms.Installments {
		field := fmt.Sprintf("installments[%d]", i)
		if in.BorrowedAmount == 0 {
			return invalid(field+".borrowed_amount", in.BorrowedAmount, ErrInvalidAmount)
		}
		if in.Terms.Duration == 0 {
			return invalid(field+".duration", in.Terms.Duration, ErrInvalidDuration)
		}
		amount := in.BorrowedAmount + in.AddonAmount
		if amount < in.BorrowedAmount || total+amount < total {
			return invalid(field, amount, ErrArithmeticOverflow)
		}
		total += amount
	}
	return nil
}

func (b *batch) takeLoan(ctx context.Context, terms LoanTerms) ([]SubLoan, error) {
	e := b.engine
	if terms.StartTimestamp == 0 {
		terms.StartTimestamp = b.now
	}
	if err := validateLoanTerms(terms, b.now); err != nil {
		return nil, err
	}
	policy, pool, err := e.programs.Resolve(ctx, terms.ProgramID)
	if err != nil {
		return nil, err
	}

	var borrowed, addon uint64
	for _, in := range terms.Installments {
		borrowed += in.BorrowedAmount
		addon += in.AddonAmount
	}
	var treasury Address
	if addon > 0 {
		if treasury, err = e.addonTreasury(ctx); err != nil {
			return nil, err
		}
	}

	first, err := b.tx.NextSubLoanID(ctx)
	if err != nil {
		return nil, err
	}
	opened := make([]SubLoan, 0, len(terms.Installments))
	for i, in := range terms.Installments {
		s := SubLoan{
			ID:               first + SubLoanID(i),
			LoanID:           first,
			InstallmentIndex: uint16(i),
			InstallmentCount: uint16(len(terms.Installments)),
			ProgramID:        terms.ProgramID,
			Borrower:         terms.Borrower,
			BorrowedAmount:   in.BorrowedAmount,
			AddonAmount:      in.AddonAmount,
			StartTimestamp:   terms.StartTimestamp,
			Initial:          in.Terms,
			Current:          in.Terms,
			Status:           StatusOngoing,
			Revision:         1,
			Tracked:          Components{Principal: in.BorrowedAmount + in.AddonAmount},
			TrackedTimestamp: terms.StartTimestamp,
		}
		if err := b.tx.CreateSubLoan(ctx, s); err != nil {
			return nil, err
		}
		if err := policy.OnBeforeLoanOpened(ctx, s.Borrower, s.BorrowedAmount+s.AddonAmount); err != nil {
			return nil, collaboratorErr("credit policy OnBeforeLoanOpened", err)
		}
		v := b.adopt(s, nil)
		v.emit(Event{Kind: EventLoanTaken, Timestamp: s.StartTimestamp, Amount: s.BorrowedAmount, NewValue: s.AddonAmount, To: s.Borrower})
		opened = append(opened, s)
	}

	if err := pool.OnBeforeLiquidityOut(ctx, borrowed+addon); err != nil {
		return nil, collaboratorErr("pool OnBeforeLiquidityOut", err)
	}
	if err := e.tokens.Transfer(ctx, pool.Account(), terms.Borrower, borrowed); err != nil {
		return nil, collaboratorErr("token transfer", err)
	}
	e.recorder.Transferred("out", borrowed)
	if addon > 0 {
		if err := e.tokens.Transfer(ctx, pool.Account(), treasury, addon); err != nil {
			return nil, collaboratorErr("token transfer", err)
		}
		e.recorder.Transferred("out", addon)
	}

	e.log.Info("loan taken",
		"loan_id", first,
		"borrower", terms.Borrower,
		"installments", len(opened),
		"borrowed", borrowed,
		"addon", addon)
	return opened, nil
}

// =============================================================================
// READS
// =============================================================================

func (e *Engine) GetSubLoan(ctx context.Context, id SubLoanID) (SubLoan, error) {
	return e.store.GetSubLoan(ctx, id)
}

func (e *Engine) ListSubLoans(ctx context.Context, filter SubLoanFilter) ([]SubLoan, error) {
	return e.store.ListSubLoans(ctx, filter)
}

// Operations returns the operations of a sub-loan in chronological order.
func (e *Engine) Operations(ctx context.Context, id SubLoanID) ([]Operation, error) {
	v, err := e.loadView(ctx, e.store, id)
	if err != nil {
		return nil, err
	}
	return v.chronological(), nil
}

// Events returns the persisted notifications of a sub-loan.
func (e *Engine) Events(ctx context.Context, id SubLoanID) ([]Event, error) {
	if _, err := e.store.GetSubLoan(ctx, id); err != nil {
		return nil, err
	}
	return e.store.Events(ctx, id)
}

func (e *Engine) loadView(ctx context.Context, s Store, id SubLoanID) (*subLoanView, error) {
	loan, err := s.GetSubLoan(ctx, id)
	if err != nil {
		return nil, err
	}
	ops, err := s.Operations(ctx, id)
	if err != nil {
		return nil, err
	}
	return newSubLoanView(loan, ops), nil
}

// =============================================================================
// PREVIEW
// =============================================================================

// Preview is the state of a sub-loan projected to an instant.
type Preview struct {
	SubLoanID   SubLoanID
	Timestamp   int64
	DayIndex    int64
	Status      SubLoanStatus
	Terms       Terms
	Tracked     Components
	Repaid      Components
	Discount    Components
	Outstanding uint64
}

// LoanPreview aggregates the previews of every installment of a loan.
type LoanPreview struct {
	LoanID       LoanID
	Timestamp    int64
	Installments []Preview
	Tracked      Components
	Outstanding  uint64
}

// Preview projects a sub-loan to at (0 = now) on a copy: pending operations
// up to at are applied and interest is accrued to at. Nothing is stored.
func (e *Engine) Preview(ctx context.Context, id SubLoanID, at int64) (Preview, error) {
	if at == 0 {
		at = e.now()
	}
	v, err := e.loadView(ctx, e.store, id)
	if err != nil {
		return Preview{}, err
	}
	return e.project(v, at)
}

func (e *Engine) project(v *subLoanView, at int64) (Preview, error) {
	if at < v.loan.StartTimestamp {
		return Preview{}, invalid("at", at, ErrTimestampTooEarly)
	}
	rec := nopRecorder{}
	var err error
	if recent := v.op(v.loan.RecentOperationID); at < v.loan.TrackedTimestamp || (recent != nil && at < recent.Timestamp) {
		err = replay(e.cal, v, at, rec)
	} else {
		err = advance(e.cal, v, at, rec)
	}
	if err != nil {
		return Preview{}, err
	}
	if !v.loan.IsTerminal() {
		if err := Accrue(e.cal, &v.loan, at); err != nil {
			return Preview{}, &OperationError{SubLoanID: v.loan.ID, Err: err}
		}
	}
	s := v.loan
	return Preview{
		SubLoanID:   s.ID,
		Timestamp:   at,
		DayIndex:    e.cal.DayIndex(at),
		Status:      s.Status,
		Terms:       s.Current,
		Tracked:     s.Tracked,
		Repaid:      s.Repaid,
		Discount:    s.Discount,
		Outstanding: s.OutstandingBalance(),
	}, nil
}

// PreviewLoan previews every installment of a loan at the same instant.
func (e *Engine) PreviewLoan(ctx context.Context, loanID LoanID, at int64) (LoanPreview, error) {
	if at == 0 {
		at = e.now()
	}
	subLoans, err := e.store.ListSubLoans(ctx, SubLoanFilter{LoanID: loanID})
	if err != nil {
		return LoanPreview{}, err
	}
	if len(subLoans) == 0 {
		return LoanPreview{}, fmt.Errorf("loan %d: %w", loanID, ErrSubLoanNotFound)
	}

	out := LoanPreview{LoanID: loanID, Timestamp: at}
	for _, s := range subLoans {
		p, err := e.Preview(ctx, s.ID, at)
		if err != nil {
			return LoanPreview{}, err
		}
		out.Installments = append(out.Installments, p)
		out.Tracked.Principal += p.Tracked.Principal
		out.Tracked.InterestRemuneratory += p.Tracked.InterestRemuneratory
		out.Tracked.InterestMoratory += p.Tracked.InterestMoratory
		out.Tracked.LateFee += p.Tracked.LateFee
		out.Outstanding += p.Outstanding
	}
	return out, nil
}

// =============================================================================
// BATCH EXECUTION
// =============================================================================

// run executes fn as one batch: serialized, inside a store transaction, with
// events persisted in the same transaction and published after commit.
func (e *Engine) run(ctx context.Context, name string, fn func(b *batch) error) (*batch, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	started := time.Now()
	b := newBatch(e, e.now())
	rollback := savepoints(e.programs, e.treasury, e.tokens)
	err := e.store.WithTx(ctx, func(tx Store) error {
		b.tx = tx
		if err := fn(b); err != nil {
			return err
		}
		return b.commit(ctx)
	})

	outcome := "committed"
	if err != nil {
		outcome = "failed"
	}
	e.recorder.BatchFinished(outcome, time.Since(started).Seconds())
	if err != nil {
		rollback()
		e.log.Warn("batch rolled back", "batch_id", b.id, "call", name, "error", err)
		return nil, err
	}

	e.log.Debug("batch committed",
		"batch_id", b.id,
		"call", name,
		"sub_loans", len(b.loaded),
		"events", len(b.events))
	if len(b.events) > 0 {
		if err := e.sink.Publish(ctx, b.events); err != nil {
			e.log.Error("event publish failed", "batch_id", b.id, "error", err)
		}
	}
	return b, nil
}

/*
batch.go - Batch coordinator

PURPOSE:
  Accepts a list of insert/void requests, applies them to per-sub-loan
  working copies and reconciles every affected sub-loan exactly once.

FLOW:
  1. For each request, in order:
     - load (or reuse) the sub-loan's working copy
     - insert or void the operation
     - record the sub-loan in the affected set: minimum changed timestamp,
       replay flag, counterparty
  2. For each affected sub-loan, in first-touch order:
     - reconcile (incremental advance or full replay)
     - settle transfers and hooks
  3. Write back every changed copy, persist events.

  Steps 1-3 run inside one store transaction; any error rolls everything
  back, including collaborator calls made through transactional
  collaborators.

SEE ALSO:
  - replay.go: reconcile and settle
  - engine.go: run()
*/
package lending

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// =============================================================================
// REQUESTS
// =============================================================================

type RequestAction uint8

const (
	ActionInsert RequestAction = iota + 1
	ActionVoid
)

func (a RequestAction) String() string {
	switch a {
	case ActionInsert:
		return "insert"
	case ActionVoid:
		return "void"
	default:
		return "unknown"
	}
}

// Request is one entry of a batch.
//
// Insert uses Kind, Timestamp (0 = now), Value and Account. Void uses
// OperationID and Counterparty, the account refunds of a revoked repayment
// go to (defaults to the repayment's account).
type Request struct {
	Action       RequestAction
	SubLoanID    SubLoanID
	Kind         OperationKind
	Timestamp    int64
	Value        uint64
	Account      Address
	OperationID  OperationID
	Counterparty Address
}

// OperationRef points at one operation touched by a batch.
type OperationRef struct {
	SubLoanID   SubLoanID
	OperationID OperationID
}

// BatchResult reports what a committed batch did.
type BatchResult struct {
	BatchID    string
	Operations []OperationRef
	Replayed   []SubLoanID
	Events     []Event
}

// =============================================================================
// BATCH STATE
// =============================================================================

type batch struct {
	engine *Engine
	tx     Store
	id     string
	now    int64

	views  map[SubLoanID]*subLoanView
	loaded []SubLoanID // load order, used for write-back

	affected []SubLoanID // first-touch order
	triggers map[SubLoanID]*trigger

	refs     []OperationRef
	replayed []SubLoanID
	events   []Event
}

func newBatch(e *Engine, now int64) *batch {
	return &batch{
		engine:   e,
		id:       uuid.NewString(),
		now:      now,
		views:    make(map[SubLoanID]*subLoanView),
		triggers: make(map[SubLoanID]*trigger),
	}
}

func (b *batch) result() BatchResult {
	return BatchResult{BatchID: b.id, Operations: b.refs, Replayed: b.replayed, Events: b.events}
}

// view returns the working copy of a sub-loan, loading it on first use.
func (b *batch) view(ctx context.Context, id SubLoanID) (*subLoanView, error) {
	if v, ok := b.views[id]; ok {
		return v, nil
	}
	v, err := b.engine.loadView(ctx, b.tx, id)
	if err != nil {
		return nil, err
	}
	b.views[id] = v
	b.loaded = append(b.loaded, id)
	return v, nil
}

// adopt registers a freshly created sub-loan as a working copy.
func (b *batch) adopt(s SubLoan, ops []Operation) *subLoanView {
	v := newSubLoanView(s, ops)
	b.views[s.ID] = v
	b.loaded = append(b.loaded, s.ID)
	return v
}

// touch adds a sub-loan to the affected set or merges into its entry.
func (b *batch) touch(id SubLoanID, ts int64, force bool, counterparty Address) error {
	t, ok := b.triggers[id]
	if !ok {
		b.triggers[id] = &trigger{minTimestamp: ts, forceReplay: force, counterparty: counterparty}
		b.affected = append(b.affected, id)
		return nil
	}
	if ts < t.minTimestamp {
		t.minTimestamp = ts
	}
	t.forceReplay = t.forceReplay || force
	if counterparty.IsZero() {
		return nil
	}
	if !t.counterparty.IsZero() && t.counterparty != counterparty {
		return &OperationError{SubLoanID: id, Err: ErrCounterpartyConflict}
	}
	t.counterparty = counterparty
	return nil
}

// reconcileAll brings every affected sub-loan up to now and settles it.
func (b *batch) reconcileAll(ctx context.Context) error {
	e := b.engine
	for _, id := range b.affected {
		v := b.views[id]
		t := b.triggers[id]
		replayed, err := reconcile(e.cal, v, *t, b.now, e.recorder)
		if err != nil {
			return err
		}
		if replayed {
			b.replayed = append(b.replayed, id)
			e.log.Info("sub-loan replayed", "sub_loan_id", id, "revision", v.loan.Revision, "batch_id", b.id)
		}
		if err := e.settle(ctx, v, t.counterparty, b.now); err != nil {
			return fmt.Errorf("sub-loan %d: %w", id, err)
		}
	}
	return nil
}

// commit writes back every working copy that produced events and persists
// the events, stamped with ids and a batch-wide sequence.
func (b *batch) commit(ctx context.Context) error {
	recordedAt := b.engine.clock.Now().UTC()
	for _, id := range b.loaded {
		v := b.views[id]
		if len(v.events) == 0 {
			continue
		}
		if err := b.tx.SaveSubLoan(ctx, v.loan); err != nil {
			return err
		}
		if err := b.tx.SaveOperations(ctx, id, v.ops); err != nil {
			return err
		}
		for _, ev := range v.events {
			ev.ID = uuid.NewString()
			ev.BatchID = b.id
			ev.Seq = len(b.events) + 1
			ev.RecordedAt = recordedAt
			b.events = append(b.events, ev)
		}
	}
	if len(b.events) == 0 {
		return nil
	}
	return b.tx.AppendEvents(ctx, b.events)
}

// =============================================================================
// SUBMIT
// =============================================================================

// Submit applies a batch of insert and void requests atomically. Errors
// name the failing request by index.
func (e *Engine) Submit(ctx context.Context, reqs []Request) (BatchResult, error) {
	if len(reqs) == 0 {
		return BatchResult{}, invalid("requests", 0, ErrInvalidRequest)
	}
	b, err := e.run(ctx, "submit", func(b *batch) error {
		for i, req := range reqs {
			if err := b.apply(ctx, req); err != nil {
				return fmt.Errorf("request %d: %w", i, err)
			}
		}
		return b.reconcileAll(ctx)
	})
	if err != nil {
		return BatchResult{}, err
	}
	return b.result(), nil
}

func (b *batch) apply(ctx context.Context, req Request) error {
	v, err := b.view(ctx, req.SubLoanID)
	if err != nil {
		return err
	}
	if v.loan.Status == StatusRevoked {
		return &OperationError{SubLoanID: req.SubLoanID, Err: ErrSubLoanRevoked}
	}

	switch req.Action {
	case ActionInsert:
		op, err := v.insert(req.Kind, req.Timestamp, req.Value, req.Account, b.now)
		if err != nil {
			return &OperationError{SubLoanID: req.SubLoanID, Kind: req.Kind, Err: err}
		}
		b.refs = append(b.refs, OperationRef{SubLoanID: op.SubLoanID, OperationID: op.ID})
		return b.touch(op.SubLoanID, op.Timestamp, false, op.Account)

	case ActionVoid:
		counterparty := req.Counterparty
		op, applied, err := v.void(req.OperationID, counterparty)
		if err != nil {
			return err
		}
		if counterparty.IsZero() && op.Kind == KindRepayment {
			counterparty = op.Account
		}
		b.refs = append(b.refs, OperationRef{SubLoanID: op.SubLoanID, OperationID: op.ID})
		return b.touch(op.SubLoanID, op.Timestamp, applied, counterparty)

	default:
		return invalid("action", req.Action, ErrInvalidRequest)
	}
}

// =============================================================================
// REVOKE LOAN
// =============================================================================

// RevokeLoan inserts a Revocation at now into every sub-loan of a loan and
// settles the unwinding transfers.
func (e *Engine) RevokeLoan(ctx context.Context, loanID LoanID) (BatchResult, error) {
	b, err := e.run(ctx, "revoke_loan", func(b *batch) error {
		subLoans, err := b.tx.ListSubLoans(ctx, SubLoanFilter{LoanID: loanID})
		if err != nil {
			return err
		}
		if len(subLoans) == 0 {
			return fmt.Errorf("loan %d: %w", loanID, ErrSubLoanNotFound)
		}
		for _, s := range subLoans {
			v, err := b.view(ctx, s.ID)
			if err != nil {
				return err
			}
			if v.loan.Status == StatusRevoked {
				return &OperationError{SubLoanID: s.ID, Err: ErrSubLoanRevoked}
			}
			op, err := v.link(KindRevocation, b.now, 0, "", b.now)
			if err != nil {
				return &OperationError{SubLoanID: s.ID, Kind: KindRevocation, Err: err}
			}
			b.refs = append(b.refs, OperationRef{SubLoanID: s.ID, OperationID: op.ID})
			if err := b.touch(s.ID, b.now, false, ""); err != nil {
				return err
			}
		}
		return b.reconcileAll(ctx)
	})
	if err != nil {
		return BatchResult{}, err
	}
	e.log.Info("loan revoked", "loan_id", loanID, "sub_loans", len(b.affected))
	return b.result(), nil
}

// =============================================================================
// PROCESS
// =============================================================================

// Process applies scheduled operations whose time has come. With no ids it
// scans every ongoing sub-loan. Sub-loans with nothing due are left
// untouched.
func (e *Engine) Process(ctx context.Context, ids ...SubLoanID) (BatchResult, error) {
	b, err := e.run(ctx, "process", func(b *batch) error {
		if len(ids) == 0 {
			ongoing, err := b.tx.ListSubLoans(ctx, SubLoanFilter{Status: StatusOngoing})
			if err != nil {
				return err
			}
			for _, s := range ongoing {
				ids = append(ids, s.ID)
			}
		}
		for _, id := range ids {
			if _, err := b.view(ctx, id); err != nil {
				return err
			}
			if err := b.touch(id, b.now, false, ""); err != nil {
				return err
			}
		}
		return b.reconcileAll(ctx)
	})
	if err != nil {
		return BatchResult{}, err
	}
	return b.result(), nil
}

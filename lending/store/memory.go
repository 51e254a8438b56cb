// Package store provides in-memory lending.TxStore implementations.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/warp/loan-engine/lending"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu       sync.RWMutex
	subLoans map[lending.SubLoanID]lending.SubLoan
	ops      map[lending.SubLoanID][]lending.Operation
	events   []lending.Event
	nextID   lending.SubLoanID
}

func NewMemory() *Memory {
	return &Memory{
		subLoans: make(map[lending.SubLoanID]lending.SubLoan),
		ops:      make(map[lending.SubLoanID][]lending.Operation),
		nextID:   1,
	}
}

// Reset drops every sub-loan, operation and event.
func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subLoans = make(map[lending.SubLoanID]lending.SubLoan)
	m.ops = make(map[lending.SubLoanID][]lending.Operation)
	m.events = nil
	m.nextID = 1
	return nil
}

func (m *Memory) NextSubLoanID(_ context.Context) (lending.SubLoanID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.nextID, nil
}

func (m *Memory) CreateSubLoan(_ context.Context, s lending.SubLoan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createLocked(s)
}

func (m *Memory) createLocked(s lending.SubLoan) error {
	if _, ok := m.subLoans[s.ID]; ok {
		return fmt.Errorf("sub-loan %d already exists", s.ID)
	}
	m.subLoans[s.ID] = s
	if s.ID >= m.nextID {
		m.nextID = s.ID + 1
	}
	return nil
}

func (m *Memory) GetSubLoan(_ context.Context, id lending.SubLoanID) (lending.SubLoan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getLocked(id)
}

func (m *Memory) getLocked(id lending.SubLoanID) (lending.SubLoan, error) {
	s, ok := m.subLoans[id]
	if !ok {
		return lending.SubLoan{}, fmt.Errorf("sub-loan %d: %w", id, lending.ErrSubLoanNotFound)
	}
	return s, nil
}

func (m *Memory) SaveSubLoan(_ context.Context, s lending.SubLoan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveLocked(s)
}

func (m *Memory) saveLocked(s lending.SubLoan) error {
	if _, ok := m.subLoans[s.ID]; !ok {
		return fmt.Errorf("sub-loan %d: %w", s.ID, lending.ErrSubLoanNotFound)
	}
	m.subLoans[s.ID] = s
	return nil
}

func (m *Memory) ListSubLoans(_ context.Context, filter lending.SubLoanFilter) ([]lending.SubLoan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listLocked(filter), nil
}

func (m *Memory) listLocked(filter lending.SubLoanFilter) []lending.SubLoan {
	var out []lending.SubLoan
	for _, s := range m.subLoans {
		if filter.Matches(s) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out
}

func (m *Memory) Operations(_ context.Context, id lending.SubLoanID) ([]lending.Operation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.opsLocked(id), nil
}

func (m *Memory) opsLocked(id lending.SubLoanID) []lending.Operation {
	result := make([]lending.Operation, len(m.ops[id]))
	copy(result, m.ops[id])
	return result
}

func (m *Memory) SaveOperations(_ context.Context, id lending.SubLoanID, ops []lending.Operation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveOpsLocked(id, ops)
}

// saveOpsLocked upserts by id. Ids are dense, so op n sits at index n-1.
func (m *Memory) saveOpsLocked(id lending.SubLoanID, ops []lending.Operation) error {
	arena := m.ops[id]
	for _, op := range ops {
		if op.ID == 0 {
			return fmt.Errorf("sub-loan %d: operation id 0", id)
		}
		idx := int(op.ID) - 1
		switch {
		case idx < len(arena):
			arena[idx] = op
		case idx == len(arena):
			arena = append(arena, op)
		default:
			return fmt.Errorf("sub-loan %d: operation %d leaves a gap", id, op.ID)
		}
	}
	m.ops[id] = arena
	return nil
}

// AppendEvents adds events. Append-only.
func (m *Memory) AppendEvents(_ context.Context, events []lending.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, events...)
	return nil
}

func (m *Memory) Events(_ context.Context, id lending.SubLoanID) ([]lending.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.eventsLocked(id), nil
}

func (m *Memory) eventsLocked(id lending.SubLoanID) []lending.Event {
	var out []lending.Event
	for _, e := range m.events {
		if e.SubLoanID == id {
			out = append(out, e)
		}
	}
	return out
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with transaction support.
type TxMemory struct {
	*Memory
}

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (tm *TxMemory) WithTx(ctx context.Context, fn func(lending.Store) error) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	snapshot := tm.snapshot()
	if err := fn(&txMemoryView{parent: tm}); err != nil {
		tm.restore(snapshot)
		return err
	}
	return nil
}

func (tm *TxMemory) snapshot() memorySnapshot {
	subLoans := make(map[lending.SubLoanID]lending.SubLoan, len(tm.subLoans))
	for k, v := range tm.subLoans {
		subLoans[k] = v
	}
	ops := make(map[lending.SubLoanID][]lending.Operation, len(tm.ops))
	for k, v := range tm.ops {
		ops[k] = append([]lending.Operation{}, v...)
	}
	return memorySnapshot{
		subLoans: subLoans,
		ops:      ops,
		events:   len(tm.events),
		nextID:   tm.nextID,
	}
}

func (tm *TxMemory) restore(s memorySnapshot) {
	tm.subLoans = s.subLoans
	tm.ops = s.ops
	tm.events = tm.events[:s.events]
	tm.nextID = s.nextID
}

type memorySnapshot struct {
	subLoans map[lending.SubLoanID]lending.SubLoan
	ops      map[lending.SubLoanID][]lending.Operation
	events   int // events are append-only, rollback truncates
	nextID   lending.SubLoanID
}

// txMemoryView is the Store handed to WithTx callbacks. The parent lock is
// already held.
type txMemoryView struct {
	parent *TxMemory
}

func (tv *txMemoryView) NextSubLoanID(_ context.Context) (lending.SubLoanID, error) {
	return tv.parent.nextID, nil
}

func (tv *txMemoryView) CreateSubLoan(_ context.Context, s lending.SubLoan) error {
	return tv.parent.createLocked(s)
}

func (tv *txMemoryView) GetSubLoan(_ context.Context, id lending.SubLoanID) (lending.SubLoan, error) {
	return tv.parent.getLocked(id)
}

func (tv *txMemoryView) SaveSubLoan(_ context.Context, s lending.SubLoan) error {
	return tv.parent.saveLocked(s)
}

func (tv *txMemoryView) ListSubLoans(_ context.Context, filter lending.SubLoanFilter) ([]lending.SubLoan, error) {
	return tv.parent.listLocked(filter), nil
}

func (tv *txMemoryView) Operations(_ context.Context, id lending.SubLoanID) ([]lending.Operation, error) {
	return tv.parent.opsLocked(id), nil
}

func (tv *txMemoryView) SaveOperations(_ context.Context, id lending.SubLoanID, ops []lending.Operation) error {
	return tv.parent.saveOpsLocked(id, ops)
}

func (tv *txMemoryView) AppendEvents(_ context.Context, events []lending.Event) error {
	tv.parent.events = append(tv.parent.events, events...)
	return nil
}

func (tv *txMemoryView) Events(_ context.Context, id lending.SubLoanID) ([]lending.Event, error) {
	return tv.parent.eventsLocked(id), nil
}

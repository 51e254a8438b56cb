/*
Package program provides in-memory collaborators for the lending engine.

PURPOSE:
  The engine consumes credit policy, liquidity pool, token and treasury
  behavior through interfaces. This package implements them in memory so
  the service runs stand-alone and tests can observe every call.

KEY TYPES:
  Registry:   lending.ProgramRegistry + lending.Treasury
  Pool:       lending.LiquidityPool tracking available liquidity
  CreditLine: lending.CreditPolicy with per-borrower limits
  Tokens:     lending.TokenLedger over an account balance map

ROLLBACK:
  Every type implements lending.Savepointer, so a failed batch undoes the
  hook calls and transfers it already made.
*/
package program

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/warp/loan-engine/lending"
)

var (
	ErrInsufficientLiquidity = errors.New("insufficient pool liquidity")
	ErrCreditLimitExceeded   = errors.New("credit limit exceeded")
	ErrInsufficientBalance   = errors.New("insufficient token balance")
)

// =============================================================================
// PROGRAM REGISTRY
// =============================================================================

// Program binds a lending program to its pool and credit line.
type Program struct {
	ID     lending.ProgramID
	Pool   *Pool
	Credit *CreditLine
}

// Registry resolves programs and knows the addon treasury.
type Registry struct {
	mu       sync.RWMutex
	programs map[lending.ProgramID]*Program
	treasury lending.Address
}

func NewRegistry(treasury lending.Address) *Registry {
	return &Registry{
		programs: make(map[lending.ProgramID]*Program),
		treasury: treasury,
	}
}

// Register adds or replaces a program.
func (r *Registry) Register(p *Program) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.programs[p.ID] = p
}

func (r *Registry) Program(id lending.ProgramID) (*Program, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.programs[id]
	return p, ok
}

// Programs returns all registered programs ordered by id.
func (r *Registry) Programs() []*Program {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Program, 0, len(r.programs))
	for _, p := range r.programs {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *Registry) Resolve(_ context.Context, id lending.ProgramID) (lending.CreditPolicy, lending.LiquidityPool, error) {
	p, ok := r.Program(id)
	if !ok {
		return nil, nil, fmt.Errorf("program %d: %w", id, lending.ErrProgramNotFound)
	}
	return p.Credit, p.Pool, nil
}

func (r *Registry) AddonTreasury(context.Context) (lending.Address, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.treasury, nil
}

// SetAddonTreasury changes where addon amounts are sent.
func (r *Registry) SetAddonTreasury(addr lending.Address) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.treasury = addr
}

// Savepoint captures every program's pool and credit line.
func (r *Registry) Savepoint() func() {
	var undo []func()
	for _, p := range r.Programs() {
		undo = append(undo, p.Pool.Savepoint(), p.Credit.Savepoint())
	}
	return func() {
		for _, fn := range undo {
			fn()
		}
	}
}

// =============================================================================
// LIQUIDITY POOL
// =============================================================================

// Pool funds loans from its account and tracks available liquidity.
type Pool struct {
	mu        sync.Mutex
	account   lending.Address
	liquidity uint64
}

func NewPool(account lending.Address, liquidity uint64) *Pool {
	return &Pool{account: account, liquidity: liquidity}
}

func (p *Pool) Account() lending.Address { return p.account }

func (p *Pool) Liquidity() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.liquidity
}

func (p *Pool) OnBeforeLiquidityOut(_ context.Context, amount uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if amount > p.liquidity {
		return fmt.Errorf("%w: need %d, have %d", ErrInsufficientLiquidity, amount, p.liquidity)
	}
	p.liquidity -= amount
	return nil
}

func (p *Pool) OnBeforeLiquidityIn(_ context.Context, amount uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.liquidity += amount
	return nil
}

func (p *Pool) Savepoint() func() {
	p.mu.Lock()
	saved := p.liquidity
	p.mu.Unlock()
	return func() {
		p.mu.Lock()
		p.liquidity = saved
		p.mu.Unlock()
	}
}

// =============================================================================
// CREDIT LINE
// =============================================================================

// CreditLine caps each borrower's open exposure. A zero limit means no cap.
type CreditLine struct {
	mu           sync.Mutex
	defaultLimit uint64
	limits       map[lending.Address]uint64
	exposure     map[lending.Address]uint64
}

func NewCreditLine(defaultLimit uint64) *CreditLine {
	return &CreditLine{
		defaultLimit: defaultLimit,
		limits:       make(map[lending.Address]uint64),
		exposure:     make(map[lending.Address]uint64),
	}
}

// SetLimit overrides the default limit for one borrower.
func (c *CreditLine) SetLimit(borrower lending.Address, limit uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.limits[borrower] = limit
}

// Exposure is the borrower's currently open amount.
func (c *CreditLine) Exposure(borrower lending.Address) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exposure[borrower]
}

func (c *CreditLine) OnBeforeLoanOpened(_ context.Context, borrower lending.Address, amount uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	limit, ok := c.limits[borrower]
	if !ok {
		limit = c.defaultLimit
	}
	open := c.exposure[borrower]
	if limit > 0 && (open+amount < open || open+amount > limit) {
		return fmt.Errorf("%w: borrower %s open %d, requested %d, limit %d",
			ErrCreditLimitExceeded, borrower, open, amount, limit)
	}
	c.exposure[borrower] = open + amount
	return nil
}

func (c *CreditLine) OnAfterLoanClosed(_ context.Context, borrower lending.Address, amount uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if open := c.exposure[borrower]; amount < open {
		c.exposure[borrower] = open - amount
	} else {
		delete(c.exposure, borrower)
	}
	return nil
}

func (c *CreditLine) Savepoint() func() {
	c.mu.Lock()
	saved := copyBalances(c.exposure)
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		c.exposure = saved
		c.mu.Unlock()
	}
}

// =============================================================================
// TOKENS
// =============================================================================

// Tokens is a balance map. Transfers never overdraw.
type Tokens struct {
	mu       sync.RWMutex
	balances map[lending.Address]uint64
}

func NewTokens() *Tokens {
	return &Tokens{balances: make(map[lending.Address]uint64)}
}

// Mint credits amount to an account out of thin air (funding, tests).
func (t *Tokens) Mint(account lending.Address, amount uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.balances[account] += amount
}

func (t *Tokens) Balance(account lending.Address) uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.balances[account]
}

func (t *Tokens) Transfer(_ context.Context, from, to lending.Address, amount uint64) error {
	if amount == 0 || from == to {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.balances[from] < amount {
		return fmt.Errorf("%w: %s has %d, needs %d", ErrInsufficientBalance, from, t.balances[from], amount)
	}
	t.balances[from] -= amount
	t.balances[to] += amount
	return nil
}

func (t *Tokens) Savepoint() func() {
	t.mu.RLock()
	saved := copyBalances(t.balances)
	t.mu.RUnlock()
	return func() {
		t.mu.Lock()
		t.balances = saved
		t.mu.Unlock()
	}
}

func copyBalances(m map[lending.Address]uint64) map[lending.Address]uint64 {
	out := make(map[lending.Address]uint64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

var (
	_ lending.ProgramRegistry = (*Registry)(nil)
	_ lending.Treasury        = (*Registry)(nil)
	_ lending.LiquidityPool   = (*Pool)(nil)
	_ lending.CreditPolicy    = (*CreditLine)(nil)
	_ lending.TokenLedger     = (*Tokens)(nil)
	_ lending.Savepointer     = (*Tokens)(nil)
)

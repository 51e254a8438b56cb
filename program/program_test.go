package program

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/loan-engine/config"
	"github.com/warp/loan-engine/lending"
)

func TestPool_Liquidity(t *testing.T) {
	ctx := context.Background()
	pool := NewPool("pool", 1_000)

	require.NoError(t, pool.OnBeforeLiquidityOut(ctx, 600))
	assert.Equal(t, uint64(400), pool.Liquidity())

	err := pool.OnBeforeLiquidityOut(ctx, 500)
	assert.ErrorIs(t, err, ErrInsufficientLiquidity)
	assert.Equal(t, uint64(400), pool.Liquidity(), "failed draw leaves liquidity untouched")

	require.NoError(t, pool.OnBeforeLiquidityIn(ctx, 100))
	assert.Equal(t, uint64(500), pool.Liquidity())
}

func TestCreditLine_LimitsAndExposure(t *testing.T) {
	// GIVEN: A default limit of 1_000 and a raised limit for bob
	// WHEN: Opening and closing loans
	// THEN: Exposure is tracked per borrower and limits are enforced

	ctx := context.Background()
	credit := NewCreditLine(1_000)
	credit.SetLimit("bob", 5_000)

	require.NoError(t, credit.OnBeforeLoanOpened(ctx, "alice", 800))
	assert.ErrorIs(t, credit.OnBeforeLoanOpened(ctx, "alice", 300), ErrCreditLimitExceeded)
	require.NoError(t, credit.OnBeforeLoanOpened(ctx, "bob", 3_000))

	assert.Equal(t, uint64(800), credit.Exposure("alice"))
	assert.Equal(t, uint64(3_000), credit.Exposure("bob"))

	require.NoError(t, credit.OnAfterLoanClosed(ctx, "alice", 500))
	assert.Equal(t, uint64(300), credit.Exposure("alice"))

	// closing more than is open clears the exposure
	require.NoError(t, credit.OnAfterLoanClosed(ctx, "alice", 1_000))
	assert.Zero(t, credit.Exposure("alice"))
}

func TestCreditLine_ZeroLimitIsUncapped(t *testing.T) {
	credit := NewCreditLine(0)
	require.NoError(t, credit.OnBeforeLoanOpened(context.Background(), "alice", 1<<62))
}

func TestTokens_Transfer(t *testing.T) {
	ctx := context.Background()
	tokens := NewTokens()
	tokens.Mint("alice", 100)

	require.NoError(t, tokens.Transfer(ctx, "alice", "bob", 60))
	assert.Equal(t, uint64(40), tokens.Balance("alice"))
	assert.Equal(t, uint64(60), tokens.Balance("bob"))

	err := tokens.Transfer(ctx, "alice", "bob", 41)
	assert.ErrorIs(t, err, ErrInsufficientBalance)

	// zero amounts and self transfers are no-ops
	require.NoError(t, tokens.Transfer(ctx, "carol", "bob", 0))
	require.NoError(t, tokens.Transfer(ctx, "carol", "carol", 10))
}

func TestSavepoints_RestoreState(t *testing.T) {
	// GIVEN: Savepoints taken on every collaborator
	// WHEN: State changes and the savepoints are rolled back
	// THEN: Liquidity, exposure and balances are restored

	ctx := context.Background()
	pool := NewPool("pool", 1_000)
	credit := NewCreditLine(0)
	registry := NewRegistry("treasury")
	registry.Register(&Program{ID: 1, Pool: pool, Credit: credit})
	tokens := NewTokens()
	tokens.Mint("pool", 1_000)

	undoRegistry := registry.Savepoint()
	undoTokens := tokens.Savepoint()

	require.NoError(t, pool.OnBeforeLiquidityOut(ctx, 700))
	require.NoError(t, credit.OnBeforeLoanOpened(ctx, "alice", 700))
	require.NoError(t, tokens.Transfer(ctx, "pool", "alice", 700))

	undoRegistry()
	undoTokens()

	assert.Equal(t, uint64(1_000), pool.Liquidity())
	assert.Zero(t, credit.Exposure("alice"))
	assert.Equal(t, uint64(1_000), tokens.Balance("pool"))
	assert.Zero(t, tokens.Balance("alice"))
}

func TestRegistry_Resolve(t *testing.T) {
	ctx := context.Background()
	registry := NewRegistry("treasury")
	registry.Register(&Program{ID: 2, Pool: NewPool("p2", 0), Credit: NewCreditLine(0)})
	registry.Register(&Program{ID: 1, Pool: NewPool("p1", 0), Credit: NewCreditLine(0)})

	_, pool, err := registry.Resolve(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, lending.Address("p2"), pool.Account())

	_, _, err = registry.Resolve(ctx, 9)
	assert.ErrorIs(t, err, lending.ErrProgramNotFound)

	programs := registry.Programs()
	require.Len(t, programs, 2)
	assert.Equal(t, lending.ProgramID(1), programs[0].ID)

	treasury, err := registry.AddonTreasury(ctx)
	require.NoError(t, err)
	assert.Equal(t, lending.Address("treasury"), treasury)
}

func TestEnvironment_SeedAndReset(t *testing.T) {
	cfg := config.Default()
	cfg.Programs = []config.ProgramConfig{{
		ID:                 1,
		PoolAccount:        "pool",
		InitialLiquidity:   5_000,
		DefaultCreditLimit: 1_000,
		CreditLimits:       map[string]uint64{"bob": 3_000},
	}}

	env := NewEnvironment(cfg)
	p, ok := env.Registry.Program(1)
	require.True(t, ok)
	assert.Equal(t, uint64(5_000), p.Pool.Liquidity())
	assert.Equal(t, uint64(5_000), env.Tokens.Balance("pool"))

	ctx := context.Background()
	require.NoError(t, p.Credit.OnBeforeLoanOpened(ctx, "bob", 2_500))
	assert.ErrorIs(t, p.Credit.OnBeforeLoanOpened(ctx, "alice", 1_500), ErrCreditLimitExceeded)
	env.Tokens.Mint("alice", 42)

	env.Reset()

	p, ok = env.Registry.Program(1)
	require.True(t, ok)
	assert.Zero(t, p.Credit.Exposure("bob"))
	assert.Zero(t, env.Tokens.Balance("alice"))
	assert.Equal(t, uint64(5_000), env.Tokens.Balance("pool"))
}

package program

import (
	"github.com/warp/loan-engine/config"
	"github.com/warp/loan-engine/lending"
)

// Environment is the full set of in-memory collaborators built from config.
type Environment struct {
	Registry *Registry
	Tokens   *Tokens

	programs []config.ProgramConfig
}

// NewEnvironment registers every configured program and mints each pool's
// initial liquidity into its account.
func NewEnvironment(cfg config.Config) *Environment {
	env := &Environment{
		Registry: NewRegistry(lending.Address(cfg.Engine.AddonTreasury)),
		Tokens:   NewTokens(),
		programs: cfg.Programs,
	}
	env.seed()
	return env
}

// Reset drops every balance and exposure and seeds the programs again.
func (env *Environment) Reset() {
	env.Tokens.mu.Lock()
	env.Tokens.balances = make(map[lending.Address]uint64)
	env.Tokens.mu.Unlock()
	env.seed()
}

func (env *Environment) seed() {
	for _, p := range env.programs {
		credit := NewCreditLine(p.DefaultCreditLimit)
		for borrower, limit := range p.CreditLimits {
			credit.SetLimit(lending.Address(borrower), limit)
		}
		pool := NewPool(lending.Address(p.PoolAccount), p.InitialLiquidity)
		env.Registry.Register(&Program{ID: lending.ProgramID(p.ID), Pool: pool, Credit: credit})
		env.Tokens.Mint(pool.Account(), p.InitialLiquidity)
	}
}

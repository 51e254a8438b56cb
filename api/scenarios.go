/*
scenarios.go - Predefined demo scenarios for testing and demonstration

PURPOSE:
  Provides canned loan books that show how the engine behaves: ordinary
  repayment, a backdated payment forcing a replay, overdue accrual, freezes,
  multi-installment loans and revocation. Each scenario resets the database
  and the in-memory token balances, then drives the engine through its
  public operations exactly as a client would.

TIME:
  Scenarios are built relative to the current time. Loans start in the past
  and operations are inserted with past timestamps, so the engine accrues
  interest up to "now" as soon as the scenario loads.

AVAILABLE SCENARIOS:
  - standard-loan:       One installment, one partial repayment
  - backdated-repayment: A repayment inserted before an applied one
  - overdue-loan:        Past due, with moratory interest and late fee
  - frozen-loan:         Accrual stopped by a freeze
  - installments:        Three installments, first one repaid in full
  - revoked-loan:        Loan taken, repaid in part, then revoked

SEE ALSO:
  - factory/loan.go: StandardLoanJSON
  - handlers.go: The endpoints these scenarios feed
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/warp/loan-engine/factory"
	"github.com/warp/loan-engine/lending"
)

const day = int64(24 * time.Hour / time.Second)

// defaultRates are 0.1% a day remuneratory, 0.2% a day moratory and a 2%
// late fee.
var defaultRates = factory.RatesJSON{
	Remuneratory: "0.001",
	Moratory:     "0.002",
	LateFee:      "0.02",
}

var scenarios = []ScenarioDTO{
	{
		ID:          "standard-loan",
		Name:        "Standard Loan",
		Description: "A 30-day loan of 1000 tokens taken 20 days ago, with a 400 token repayment on day 10",
	},
	{
		ID:          "backdated-repayment",
		Name:        "Backdated Repayment",
		Description: "A repayment on day 15, then a second one recorded later but dated day 5; the sub-loan is replayed",
	},
	{
		ID:          "overdue-loan",
		Name:        "Overdue Loan",
		Description: "A 10-day loan taken 25 days ago and never repaid; moratory interest and late fee apply",
	},
	{
		ID:          "frozen-loan",
		Name:        "Frozen Loan",
		Description: "A loan frozen on day 5; balances stop growing from the freeze on",
	},
	{
		ID:          "installments",
		Name:        "Three Installments",
		Description: "A 3000 token loan in three monthly installments; the first one is repaid in full",
	},
	{
		ID:          "revoked-loan",
		Name:        "Revoked Loan",
		Description: "A loan with one repayment that is then revoked; funds are returned to the pool",
	},
}

// ListScenarios returns available demo scenarios.
// GET /api/scenarios
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario.
// GET /api/scenarios/current
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	if current == "" {
		writeJSON(w, http.StatusOK, map[string]any{"scenario": nil})
		return
	}
	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}

	writeJSON(w, http.StatusOK, ScenarioDTO{
		ID:          current,
		Name:        current,
		Description: "Currently loaded scenario",
	})
}

// LoadScenario resets all state and loads a predefined scenario.
// POST /api/scenarios/load
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	loader, ok := h.scenarioLoaders()[req.ScenarioID]
	if !ok {
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	ctx := r.Context()
	if err := h.reset(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	if err := loader(ctx, time.Now().Unix()); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to load scenario: %v", err), err)
		return
	}
	h.currentScenario = req.ScenarioID

	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// ResetDatabase clears all sub-loans, operations, events and balances.
// POST /api/scenarios/reset
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// reset must be called with h.mu held.
func (h *Handler) reset(ctx context.Context) error {
	if err := h.Store.Reset(ctx); err != nil {
		return err
	}
	h.Env.Reset()
	h.currentScenario = ""
	return nil
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

type scenarioLoader func(ctx context.Context, now int64) error

func (h *Handler) scenarioLoaders() map[string]scenarioLoader {
	return map[string]scenarioLoader{
		"standard-loan":       h.loadStandardLoanScenario,
		"backdated-repayment": h.loadBackdatedRepaymentScenario,
		"overdue-loan":        h.loadOverdueLoanScenario,
		"frozen-loan":         h.loadFrozenLoanScenario,
		"installments":        h.loadInstallmentsScenario,
		"revoked-loan":        h.loadRevokedLoanScenario,
	}
}

// Token amounts below use 6 decimals: 1_000_000_000 is 1000 tokens.

func (h *Handler) loadStandardLoanScenario(ctx context.Context, now int64) error {
	start := now - 20*day
	loan, err := h.openLoan(ctx, "alice", start, 1_000_000_000, 1, 30)
	if err != nil {
		return err
	}
	return h.repay(ctx, loan[0].ID, "alice", start+10*day, 400_000_000)
}

func (h *Handler) loadBackdatedRepaymentScenario(ctx context.Context, now int64) error {
	start := now - 20*day
	loan, err := h.openLoan(ctx, "bob", start, 1_000_000_000, 1, 30)
	if err != nil {
		return err
	}
	if err := h.repay(ctx, loan[0].ID, "bob", start+15*day, 300_000_000); err != nil {
		return err
	}
	// Recorded now, effective on day 5: earlier than the applied repayment.
	return h.repay(ctx, loan[0].ID, "bob", start+5*day, 200_000_000)
}

func (h *Handler) loadOverdueLoanScenario(ctx context.Context, now int64) error {
	_, err := h.openLoan(ctx, "carol", now-25*day, 500_000_000, 1, 10)
	return err
}

func (h *Handler) loadFrozenLoanScenario(ctx context.Context, now int64) error {
	start := now - 20*day
	loan, err := h.openLoan(ctx, "dave", start, 1_000_000_000, 1, 30)
	if err != nil {
		return err
	}
	_, err = h.Engine.Submit(ctx, []lending.Request{{
		Action:    lending.ActionInsert,
		SubLoanID: loan[0].ID,
		Kind:      lending.KindFreezing,
		Timestamp: start + 5*day,
	}})
	return err
}

func (h *Handler) loadInstallmentsScenario(ctx context.Context, now int64) error {
	start := now - 45*day
	loan, err := h.openLoan(ctx, "erin", start, 3_000_000_000, 3, 30)
	if err != nil {
		return err
	}
	return h.repay(ctx, loan[0].ID, "erin", start+28*day, lending.RepayAll)
}

func (h *Handler) loadRevokedLoanScenario(ctx context.Context, now int64) error {
	start := now - 10*day
	loan, err := h.openLoan(ctx, "frank", start, 800_000_000, 2, 30)
	if err != nil {
		return err
	}
	if err := h.repay(ctx, loan[0].ID, "frank", start+3*day, 100_000_000); err != nil {
		return err
	}
	_, err = h.Engine.RevokeLoan(ctx, loan[0].LoanID)
	return err
}

// openLoan takes a loan from program 1 and mints the borrower enough extra
// tokens to cover interest and fees.
func (h *Handler) openLoan(ctx context.Context, borrower string, start int64, principal uint64, installments int, stepDays uint16) ([]lending.SubLoan, error) {
	terms, err := h.Factory.ParseLoan(factory.StandardLoanJSON(1, borrower, start, principal, installments, stepDays, defaultRates))
	if err != nil {
		return nil, err
	}
	subLoans, err := h.Engine.TakeLoan(ctx, terms)
	if err != nil {
		return nil, err
	}
	h.Env.Tokens.Mint(lending.Address(borrower), principal)
	return subLoans, nil
}

func (h *Handler) repay(ctx context.Context, id lending.SubLoanID, borrower string, ts int64, amount uint64) error {
	_, err := h.Engine.Submit(ctx, []lending.Request{{
		Action:    lending.ActionInsert,
		SubLoanID: id,
		Kind:      lending.KindRepayment,
		Timestamp: ts,
		Value:     amount,
		Account:   lending.Address(borrower),
	}})
	return err
}

/*
handlers.go - HTTP API handlers for the loan engine

PURPOSE:
  Exposes the lending engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to lending.Engine.

ENDPOINTS:
  Loans:
    POST   /api/loans                     Take a loan (factory.LoanJSON body)
    GET    /api/loans/{id}/preview?at=    Aggregate preview of all installments
    POST   /api/loans/{id}/revoke         Revoke every sub-loan of the loan

  Sub-loans:
    GET    /api/subloans                  List (loan_id, borrower, status, limit)
    GET    /api/subloans/{id}             Current stored state
    GET    /api/subloans/{id}/preview     Projected state (?at=unix seconds)
    GET    /api/subloans/{id}/operations  Chronological operation list
    GET    /api/subloans/{id}/events      Event log

  Operations:
    POST   /api/batch                     Insert/void operations atomically
    POST   /api/process                   Apply scheduled operations now

  Accounts (dev):
    GET    /api/accounts/{account}        Token balance
    POST   /api/accounts/{account}/mint   Credit tokens

  Scenarios:
    GET    /api/scenarios                 List demo scenarios
    POST   /api/scenarios/load            Load a demo scenario

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Sub-loan, operation or program not found
  - 409: Conflicts with current state (revoked, frozen, already voided)
  - 422: Excess amount, arithmetic limits, collaborator rejections
  - 500: Internal errors

SECURITY NOTE:
  No authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"

	"github.com/warp/loan-engine/factory"
	"github.com/warp/loan-engine/lending"
	"github.com/warp/loan-engine/program"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Resetter clears every persisted sub-loan, operation and event.
type Resetter interface {
	Reset(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine  *lending.Engine
	Env     *program.Environment
	Store   Resetter
	Factory *factory.LoanFactory

	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a new handler.
func NewHandler(engine *lending.Engine, env *program.Environment, store Resetter) *Handler {
	return &Handler{
		Engine:  engine,
		Env:     env,
		Store:   store,
		Factory: factory.NewLoanFactory(),
	}
}

// =============================================================================
// LOAN HANDLERS
// =============================================================================

// TakeLoan opens a loan.
// POST /api/loans
func (h *Handler) TakeLoan(w http.ResponseWriter, r *http.Request) {
	var req factory.LoanJSON
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	terms, err := h.Factory.ToTerms(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid loan terms", err)
		return
	}

	subLoans, err := h.Engine.TakeLoan(r.Context(), terms)
	if err != nil {
		writeEngineError(w, "Failed to take loan", err)
		return
	}

	dtos := make([]SubLoanDTO, len(subLoans))
	for i, s := range subLoans {
		dtos[i] = toSubLoanDTO(s)
	}
	writeJSON(w, http.StatusCreated, dtos)
}

// PreviewLoan projects every installment of a loan.
// GET /api/loans/{id}/preview?at=
func (h *Handler) PreviewLoan(w http.ResponseWriter, r *http.Request) {
	id, at, ok := idAndInstant(w, r)
	if !ok {
		return
	}
	p, err := h.Engine.PreviewLoan(r.Context(), id, at)
	if err != nil {
		writeEngineError(w, "Failed to preview loan", err)
		return
	}

	dto := LoanPreviewDTO{
		LoanID:       uint64(p.LoanID),
		Timestamp:    p.Timestamp,
		Tracked:      toComponentsDTO(p.Tracked),
		Outstanding:  p.Outstanding,
		Installments: make([]PreviewDTO, len(p.Installments)),
	}
	for i, in := range p.Installments {
		dto.Installments[i] = toPreviewDTO(in)
	}
	writeJSON(w, http.StatusOK, dto)
}

// RevokeLoan revokes every sub-loan of a loan.
// POST /api/loans/{id}/revoke
func (h *Handler) RevokeLoan(w http.ResponseWriter, r *http.Request) {
	id, ok := subLoanID(w, r)
	if !ok {
		return
	}
	res, err := h.Engine.RevokeLoan(r.Context(), id)
	if err != nil {
		writeEngineError(w, "Failed to revoke loan", err)
		return
	}
	writeJSON(w, http.StatusOK, toBatchResponse(res))
}

// =============================================================================
// SUB-LOAN HANDLERS
// =============================================================================

// ListSubLoans returns sub-loans matching the query filters.
// GET /api/subloans?loan_id=&borrower=&status=&limit=
func (h *Handler) ListSubLoans(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var filter lending.SubLoanFilter
	if v := q.Get("loan_id"); v != "" {
		id, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid loan_id", err)
			return
		}
		filter.LoanID = lending.LoanID(id)
	}
	filter.Borrower = lending.Address(q.Get("borrower"))
	if v := q.Get("status"); v != "" {
		status, ok := parseStatus(v)
		if !ok {
			writeError(w, http.StatusBadRequest, "Invalid status", fmt.Errorf("unknown status %q", v))
			return
		}
		filter.Status = status
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			writeError(w, http.StatusBadRequest, "Invalid limit", err)
			return
		}
		filter.Limit = limit
	}

	subLoans, err := h.Engine.ListSubLoans(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list sub-loans", err)
		return
	}
	dtos := make([]SubLoanDTO, len(subLoans))
	for i, s := range subLoans {
		dtos[i] = toSubLoanDTO(s)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetSubLoan returns the stored state of one sub-loan.
// GET /api/subloans/{id}
func (h *Handler) GetSubLoan(w http.ResponseWriter, r *http.Request) {
	id, ok := subLoanID(w, r)
	if !ok {
		return
	}
	s, err := h.Engine.GetSubLoan(r.Context(), id)
	if err != nil {
		writeEngineError(w, "Failed to get sub-loan", err)
		return
	}
	writeJSON(w, http.StatusOK, toSubLoanDTO(s))
}

// PreviewSubLoan projects one sub-loan to an instant.
// GET /api/subloans/{id}/preview?at=
func (h *Handler) PreviewSubLoan(w http.ResponseWriter, r *http.Request) {
	id, at, ok := idAndInstant(w, r)
	if !ok {
		return
	}
	p, err := h.Engine.Preview(r.Context(), id, at)
	if err != nil {
		writeEngineError(w, "Failed to preview sub-loan", err)
		return
	}
	writeJSON(w, http.StatusOK, toPreviewDTO(p))
}

// ListOperations returns the chronological operation list.
// GET /api/subloans/{id}/operations
func (h *Handler) ListOperations(w http.ResponseWriter, r *http.Request) {
	id, ok := subLoanID(w, r)
	if !ok {
		return
	}
	ops, err := h.Engine.Operations(r.Context(), id)
	if err != nil {
		writeEngineError(w, "Failed to list operations", err)
		return
	}
	dtos := make([]OperationDTO, len(ops))
	for i, op := range ops {
		dtos[i] = toOperationDTO(op)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ListEvents returns the event log of a sub-loan.
// GET /api/subloans/{id}/events
func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	id, ok := subLoanID(w, r)
	if !ok {
		return
	}
	events, err := h.Engine.Events(r.Context(), id)
	if err != nil {
		writeEngineError(w, "Failed to list events", err)
		return
	}
	dtos := make([]EventDTO, len(events))
	for i, e := range events {
		dtos[i] = toEventDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// OPERATION HANDLERS
// =============================================================================

// SubmitBatch inserts and voids operations atomically.
// POST /api/batch
func (h *Handler) SubmitBatch(w http.ResponseWriter, r *http.Request) {
	var req BatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if len(req.Requests) == 0 {
		writeError(w, http.StatusBadRequest, "At least one request is required", nil)
		return
	}

	reqs := make([]lending.Request, 0, len(req.Requests))
	for i, item := range req.Requests {
		lr, err := toLendingRequest(item)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request %d", i), err)
			return
		}
		reqs = append(reqs, lr)
	}

	res, err := h.Engine.Submit(r.Context(), reqs)
	if err != nil {
		writeEngineError(w, "Batch rejected", err)
		return
	}
	writeJSON(w, http.StatusOK, toBatchResponse(res))
}

// Process applies scheduled operations that came due.
// POST /api/process
func (h *Handler) Process(w http.ResponseWriter, r *http.Request) {
	res, err := h.Engine.Process(r.Context())
	if err != nil {
		writeEngineError(w, "Processing failed", err)
		return
	}
	writeJSON(w, http.StatusOK, toBatchResponse(res))
}

func toLendingRequest(item BatchRequestItem) (lending.Request, error) {
	req := lending.Request{
		SubLoanID:    lending.SubLoanID(item.SubLoanID),
		Timestamp:    item.Timestamp,
		Value:        item.Value,
		Account:      lending.Address(item.Account),
		OperationID:  lending.OperationID(item.OperationID),
		Counterparty: lending.Address(item.Counterparty),
	}
	if req.SubLoanID == 0 {
		return req, fmt.Errorf("sub_loan_id is required")
	}

	switch strings.ToLower(strings.TrimSpace(item.Action)) {
	case "insert", "":
		req.Action = lending.ActionInsert
	case "void":
		req.Action = lending.ActionVoid
		return req, nil
	default:
		return req, fmt.Errorf("unknown action %q", item.Action)
	}

	kind, ok := lending.ParseOperationKind(item.Kind)
	if !ok {
		return req, fmt.Errorf("unknown kind %q", item.Kind)
	}
	req.Kind = kind

	if item.RepayAll {
		req.Value = lending.RepayAll
	}
	if item.Rate != "" {
		switch kind {
		case lending.KindSetInterestRateRemuneratory, lending.KindSetInterestRateMoratory, lending.KindSetLateFeeRate:
		default:
			return req, fmt.Errorf("rate is only valid for rate kinds")
		}
		units, err := factory.ParseRate(item.Rate)
		if err != nil {
			return req, err
		}
		req.Value = uint64(units)
	}
	return req, nil
}

// =============================================================================
// ACCOUNT HANDLERS (dev)
// =============================================================================

type BalanceDTO struct {
	Account string `json:"account"`
	Balance uint64 `json:"balance"`
}

type MintRequest struct {
	Amount uint64 `json:"amount"`
}

// GetAccount returns a token balance.
// GET /api/accounts/{account}
func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	account := lending.Address(chi.URLParam(r, "account"))
	writeJSON(w, http.StatusOK, BalanceDTO{Account: string(account), Balance: h.Env.Tokens.Balance(account)})
}

// MintTokens credits tokens to an account.
// POST /api/accounts/{account}/mint
func (h *Handler) MintTokens(w http.ResponseWriter, r *http.Request) {
	account := lending.Address(chi.URLParam(r, "account"))
	var req MintRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Amount == 0 {
		writeError(w, http.StatusBadRequest, "amount must be positive", nil)
		return
	}
	h.Env.Tokens.Mint(account, req.Amount)
	writeJSON(w, http.StatusOK, BalanceDTO{Account: string(account), Balance: h.Env.Tokens.Balance(account)})
}

// =============================================================================
// HELPERS
// =============================================================================

func subLoanID(w http.ResponseWriter, r *http.Request) (lending.SubLoanID, bool) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		writeError(w, http.StatusBadRequest, "Invalid id", fmt.Errorf("id %q", raw))
		return 0, false
	}
	return lending.SubLoanID(id), true
}

func idAndInstant(w http.ResponseWriter, r *http.Request) (lending.SubLoanID, int64, bool) {
	id, ok := subLoanID(w, r)
	if !ok {
		return 0, 0, false
	}
	var at int64
	if v := r.URL.Query().Get("at"); v != "" {
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, "Invalid at (unix seconds)", err)
			return 0, 0, false
		}
		at = parsed
	}
	return id, at, true
}

func parseStatus(s string) (lending.SubLoanStatus, bool) {
	for _, st := range []lending.SubLoanStatus{lending.StatusOngoing, lending.StatusFullyRepaid, lending.StatusRevoked} {
		if st.String() == s {
			return st, true
		}
	}
	return lending.StatusNonexistent, false
}

// writeEngineError maps the engine's error taxonomy to HTTP statuses.
func writeEngineError(w http.ResponseWriter, message string, err error) {
	switch {
	case lending.IsNotFound(err):
		writeError(w, http.StatusNotFound, message, err)
	case lending.IsValidationError(err):
		writeError(w, http.StatusBadRequest, message, err)
	case errors.Is(err, lending.ErrExcessAmount),
		errors.Is(err, lending.ErrArithmeticOverflow),
		errors.Is(err, lending.ErrCollaborator),
		errors.Is(err, lending.ErrAddonTreasuryZero):
		writeError(w, http.StatusUnprocessableEntity, message, err)
	case lending.IsStateError(err):
		writeError(w, http.StatusConflict, message, err)
	default:
		writeError(w, http.StatusInternalServerError, message, err)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

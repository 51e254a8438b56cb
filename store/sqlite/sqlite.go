/*
Package sqlite provides a SQLite-backed implementation of lending.TxStore.

PURPOSE:
  Persists sub-loans, their operation arenas and the event log. In
  production the same patterns apply to PostgreSQL with minor SQL dialect
  differences.

KEY TABLES:
  sub_loans:   one row per installment, balances as JSON documents
  operations:  (sub_loan_id, id) keyed arena, chained by next_id
  events:      append-only notification log

AMOUNTS:
  go-sqlite3 rejects uint64 values with the high bit set, and RepayAll is
  exactly such a value. Amounts are stored as decimal TEXT.

APPEND-ONLY ENFORCEMENT:
  - events are never updated or deleted
  - operations only change status and next_id after insertion

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. WithTx holds the write lock for the
  whole transaction; reads inside it go through the *sql.Tx.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging):
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/loans.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine, err := lending.NewEngine(store, deps)

SEE ALSO:
  - lending/store.go: Interface definitions
  - lending/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/warp/loan-engine/lending"
)

// Store implements lending.TxStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// every pooled connection would otherwise see its own empty database
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db}
	if err := store.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Reset deletes all data from every table. Used by demo scenarios.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, table := range []string{"events", "operations", "sub_loans"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}
	return tx.Commit()
}

// Migrate creates the database schema. It is idempotent and runs on New().
func (s *Store) Migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS sub_loans (
		id INTEGER PRIMARY KEY,
		loan_id INTEGER NOT NULL,
		installment_index INTEGER NOT NULL,
		installment_count INTEGER NOT NULL,
		program_id INTEGER NOT NULL,
		borrower TEXT NOT NULL,
		borrowed_amount TEXT NOT NULL,
		addon_amount TEXT NOT NULL,
		start_timestamp INTEGER NOT NULL,
		initial_terms_json TEXT NOT NULL,
		current_terms_json TEXT NOT NULL,
		status INTEGER NOT NULL,
		revision INTEGER NOT NULL,
		tracked_json TEXT NOT NULL,
		repaid_json TEXT NOT NULL,
		discount_json TEXT NOT NULL,
		tracked_timestamp INTEGER NOT NULL,
		freeze_timestamp INTEGER NOT NULL DEFAULT 0,
		earliest_operation_id INTEGER NOT NULL DEFAULT 0,
		recent_operation_id INTEGER NOT NULL DEFAULT 0,
		operation_count INTEGER NOT NULL DEFAULT 0,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_sub_loans_loan ON sub_loans(loan_id);
	CREATE INDEX IF NOT EXISTS idx_sub_loans_borrower ON sub_loans(borrower);
	CREATE INDEX IF NOT EXISTS idx_sub_loans_status ON sub_loans(status);

	CREATE TABLE IF NOT EXISTS operations (
		sub_loan_id INTEGER NOT NULL REFERENCES sub_loans(id),
		id INTEGER NOT NULL,
		kind INTEGER NOT NULL,
		status INTEGER NOT NULL,
		timestamp INTEGER NOT NULL,
		value TEXT NOT NULL,
		account TEXT,
		next_id INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (sub_loan_id, id)
	);

	-- Events (append-only)
	CREATE TABLE IF NOT EXISTS events (
		id TEXT PRIMARY KEY,
		batch_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		kind TEXT NOT NULL,
		sub_loan_id INTEGER NOT NULL,
		operation_id INTEGER NOT NULL DEFAULT 0,
		operation_kind INTEGER NOT NULL DEFAULT 0,
		timestamp INTEGER NOT NULL,
		revision INTEGER NOT NULL,
		status INTEGER NOT NULL,
		old_value TEXT NOT NULL,
		new_value TEXT NOT NULL,
		amount TEXT NOT NULL,
		outstanding TEXT NOT NULL,
		from_account TEXT,
		to_account TEXT,
		recorded_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_events_sub_loan ON events(sub_loan_id);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// =============================================================================
// SUB-LOANS
// =============================================================================

const subLoanColumns = `id, loan_id, installment_index, installment_count, program_id, borrower,
	borrowed_amount, addon_amount, start_timestamp, initial_terms_json, current_terms_json,
	status, revision, tracked_json, repaid_json, discount_json, tracked_timestamp,
	freeze_timestamp, earliest_operation_id, recent_operation_id, operation_count`

func (s *Store) NextSubLoanID(ctx context.Context) (lending.SubLoanID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return nextSubLoanID(ctx, s.db)
}

func nextSubLoanID(ctx context.Context, q querier) (lending.SubLoanID, error) {
	var last sql.NullInt64
	if err := q.QueryRowContext(ctx, "SELECT MAX(id) FROM sub_loans").Scan(&last); err != nil {
		return 0, fmt.Errorf("failed to read next sub-loan id: %w", err)
	}
	return lending.SubLoanID(last.Int64 + 1), nil
}

func (s *Store) CreateSubLoan(ctx context.Context, loan lending.SubLoan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return createSubLoan(ctx, s.db, loan)
}

func createSubLoan(ctx context.Context, q querier, loan lending.SubLoan) error {
	args, err := subLoanArgs(loan)
	if err != nil {
		return err
	}
	query := `INSERT INTO sub_loans (` + subLoanColumns + `, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if _, err := q.ExecContext(ctx, query, args...); err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("sub-loan %d already exists", loan.ID)
		}
		return fmt.Errorf("failed to create sub-loan: %w", err)
	}
	return nil
}

func (s *Store) GetSubLoan(ctx context.Context, id lending.SubLoanID) (lending.SubLoan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getSubLoan(ctx, s.db, id)
}

func getSubLoan(ctx context.Context, q querier, id lending.SubLoanID) (lending.SubLoan, error) {
	rows, err := q.QueryContext(ctx, "SELECT "+subLoanColumns+" FROM sub_loans WHERE id = ?", int64(id))
	if err != nil {
		return lending.SubLoan{}, fmt.Errorf("failed to query sub-loan: %w", err)
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return lending.SubLoan{}, err
		}
		return lending.SubLoan{}, fmt.Errorf("sub-loan %d: %w", id, lending.ErrSubLoanNotFound)
	}
	return scanSubLoan(rows)
}

func (s *Store) SaveSubLoan(ctx context.Context, loan lending.SubLoan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return saveSubLoan(ctx, s.db, loan)
}

func saveSubLoan(ctx context.Context, q querier, loan lending.SubLoan) error {
	args, err := subLoanArgs(loan)
	if err != nil {
		return err
	}
	// id goes last for the WHERE clause
	args = append(args[1:], args[0])
	query := `UPDATE sub_loans SET
		loan_id = ?, installment_index = ?, installment_count = ?, program_id = ?, borrower = ?,
		borrowed_amount = ?, addon_amount = ?, start_timestamp = ?, initial_terms_json = ?,
		current_terms_json = ?, status = ?, revision = ?, tracked_json = ?, repaid_json = ?,
		discount_json = ?, tracked_timestamp = ?, freeze_timestamp = ?, earliest_operation_id = ?,
		recent_operation_id = ?, operation_count = ?, updated_at = ?
		WHERE id = ?`
	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to save sub-loan: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("sub-loan %d: %w", loan.ID, lending.ErrSubLoanNotFound)
	}
	return nil
}

func (s *Store) ListSubLoans(ctx context.Context, filter lending.SubLoanFilter) ([]lending.SubLoan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listSubLoans(ctx, s.db, filter)
}

func listSubLoans(ctx context.Context, q querier, filter lending.SubLoanFilter) ([]lending.SubLoan, error) {
	var (
		where []string
		args  []any
	)
	if filter.LoanID != 0 {
		where = append(where, "loan_id = ?")
		args = append(args, int64(filter.LoanID))
	}
	if filter.Borrower != "" {
		where = append(where, "borrower = ?")
		args = append(args, string(filter.Borrower))
	}
	if filter.Status != lending.StatusNonexistent {
		where = append(where, "status = ?")
		args = append(args, int(filter.Status))
	}

	query := "SELECT " + subLoanColumns + " FROM sub_loans"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id ASC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sub-loans: %w", err)
	}
	defer rows.Close()

	var out []lending.SubLoan
	for rows.Next() {
		loan, err := scanSubLoan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, loan)
	}
	return out, rows.Err()
}

func subLoanArgs(loan lending.SubLoan) ([]any, error) {
	docs := make([]string, 0, 5)
	for _, v := range []any{loan.Initial, loan.Current, loan.Tracked, loan.Repaid, loan.Discount} {
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("failed to encode sub-loan %d: %w", loan.ID, err)
		}
		docs = append(docs, string(b))
	}
	return []any{
		int64(loan.ID),
		int64(loan.LoanID),
		int(loan.InstallmentIndex),
		int(loan.InstallmentCount),
		int64(loan.ProgramID),
		string(loan.Borrower),
		formatUint(loan.BorrowedAmount),
		formatUint(loan.AddonAmount),
		loan.StartTimestamp,
		docs[0],
		docs[1],
		int(loan.Status),
		int64(loan.Revision),
		docs[2],
		docs[3],
		docs[4],
		loan.TrackedTimestamp,
		loan.FreezeTimestamp,
		int(loan.EarliestOperationID),
		int(loan.RecentOperationID),
		int(loan.OperationCount),
		time.Now().UTC().Format(time.RFC3339),
	}, nil
}

func scanSubLoan(rows *sql.Rows) (lending.SubLoan, error) {
	var (
		loan                      lending.SubLoan
		borrower                  string
		borrowed, addon           string
		initial, current          string
		tracked, repaid, discount string
	)
	err := rows.Scan(
		&loan.ID, &loan.LoanID, &loan.InstallmentIndex, &loan.InstallmentCount, &loan.ProgramID,
		&borrower, &borrowed, &addon, &loan.StartTimestamp, &initial, &current,
		&loan.Status, &loan.Revision, &tracked, &repaid, &discount, &loan.TrackedTimestamp,
		&loan.FreezeTimestamp, &loan.EarliestOperationID, &loan.RecentOperationID, &loan.OperationCount,
	)
	if err != nil {
		return loan, fmt.Errorf("failed to scan sub-loan: %w", err)
	}
	loan.Borrower = lending.Address(borrower)
	if loan.BorrowedAmount, err = parseUint(borrowed); err != nil {
		return loan, err
	}
	if loan.AddonAmount, err = parseUint(addon); err != nil {
		return loan, err
	}
	for _, doc := range []struct {
		raw string
		dst any
	}{
		{initial, &loan.Initial},
		{current, &loan.Current},
		{tracked, &loan.Tracked},
		{repaid, &loan.Repaid},
		{discount, &loan.Discount},
	} {
		if err := json.Unmarshal([]byte(doc.raw), doc.dst); err != nil {
			return loan, fmt.Errorf("failed to decode sub-loan %d: %w", loan.ID, err)
		}
	}
	return loan, nil
}

// =============================================================================
// OPERATIONS
// =============================================================================

func (s *Store) Operations(ctx context.Context, id lending.SubLoanID) ([]lending.Operation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return operations(ctx, s.db, id)
}

func operations(ctx context.Context, q querier, id lending.SubLoanID) ([]lending.Operation, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT sub_loan_id, id, kind, status, timestamp, value, account, next_id
		FROM operations
		WHERE sub_loan_id = ?
		ORDER BY id ASC
	`, int64(id))
	if err != nil {
		return nil, fmt.Errorf("failed to query operations: %w", err)
	}
	defer rows.Close()

	var ops []lending.Operation
	for rows.Next() {
		var (
			op      lending.Operation
			value   string
			account sql.NullString
		)
		if err := rows.Scan(&op.SubLoanID, &op.ID, &op.Kind, &op.Status, &op.Timestamp, &value, &account, &op.Next); err != nil {
			return nil, fmt.Errorf("failed to scan operation: %w", err)
		}
		if op.Value, err = parseUint(value); err != nil {
			return nil, err
		}
		op.Account = lending.Address(account.String)
		ops = append(ops, op)
	}
	return ops, rows.Err()
}

func (s *Store) SaveOperations(ctx context.Context, id lending.SubLoanID, ops []lending.Operation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := saveOperations(ctx, sqlTx, id, ops); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// saveOperations upserts; only status and next_id change after insertion.
func saveOperations(ctx context.Context, q querier, id lending.SubLoanID, ops []lending.Operation) error {
	query := `
		INSERT INTO operations (sub_loan_id, id, kind, status, timestamp, value, account, next_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(sub_loan_id, id) DO UPDATE SET
			status = excluded.status,
			next_id = excluded.next_id
	`
	for _, op := range ops {
		_, err := q.ExecContext(ctx, query,
			int64(id),
			int(op.ID),
			int(op.Kind),
			int(op.Status),
			op.Timestamp,
			formatUint(op.Value),
			nullString(string(op.Account)),
			int(op.Next),
		)
		if err != nil {
			return fmt.Errorf("failed to save operation %d of sub-loan %d: %w", op.ID, id, err)
		}
	}
	return nil
}

// =============================================================================
// EVENTS
// =============================================================================

// AppendEvents adds events to the log. Append-only.
func (s *Store) AppendEvents(ctx context.Context, events []lending.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := appendEvents(ctx, sqlTx, events); err != nil {
		return err
	}
	return sqlTx.Commit()
}

func appendEvents(ctx context.Context, q querier, events []lending.Event) error {
	query := `
		INSERT INTO events
		(id, batch_id, seq, kind, sub_loan_id, operation_id, operation_kind, timestamp, revision,
		 status, old_value, new_value, amount, outstanding, from_account, to_account, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	for _, e := range events {
		_, err := q.ExecContext(ctx, query,
			e.ID,
			e.BatchID,
			e.Seq,
			string(e.Kind),
			int64(e.SubLoanID),
			int(e.OperationID),
			int(e.OperationKind),
			e.Timestamp,
			int64(e.Revision),
			int(e.Status),
			formatUint(e.OldValue),
			formatUint(e.NewValue),
			formatUint(e.Amount),
			formatUint(e.Outstanding),
			nullString(string(e.From)),
			nullString(string(e.To)),
			e.RecordedAt.UTC().Format(time.RFC3339Nano),
		)
		if err != nil {
			if isUniqueConstraintError(err) {
				return fmt.Errorf("duplicate event id %s", e.ID)
			}
			return fmt.Errorf("failed to append event: %w", err)
		}
	}
	return nil
}

func (s *Store) Events(ctx context.Context, id lending.SubLoanID) ([]lending.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return loadEvents(ctx, s.db, id)
}

func loadEvents(ctx context.Context, q querier, id lending.SubLoanID) ([]lending.Event, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, batch_id, seq, kind, sub_loan_id, operation_id, operation_kind, timestamp,
		       revision, status, old_value, new_value, amount, outstanding, from_account,
		       to_account, recorded_at
		FROM events
		WHERE sub_loan_id = ?
		ORDER BY rowid ASC
	`, int64(id))
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []lending.Event
	for rows.Next() {
		var (
			e                                       lending.Event
			kind, recordedAt                        string
			oldValue, newValue, amount, outstanding string
			from, to                                sql.NullString
		)
		err := rows.Scan(
			&e.ID, &e.BatchID, &e.Seq, &kind, &e.SubLoanID, &e.OperationID, &e.OperationKind,
			&e.Timestamp, &e.Revision, &e.Status, &oldValue, &newValue, &amount, &outstanding,
			&from, &to, &recordedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		e.Kind = lending.EventKind(kind)
		for _, f := range []struct {
			raw string
			dst *uint64
		}{{oldValue, &e.OldValue}, {newValue, &e.NewValue}, {amount, &e.Amount}, {outstanding, &e.Outstanding}} {
			if *f.dst, err = parseUint(f.raw); err != nil {
				return nil, err
			}
		}
		e.From = lending.Address(from.String)
		e.To = lending.Address(to.String)
		e.RecordedAt, _ = time.Parse(time.RFC3339Nano, recordedAt)
		events = append(events, e)
	}
	return events, rows.Err()
}

// =============================================================================
// TRANSACTIONAL STORE (lending.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store lending.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

type txStore struct {
	tx *sql.Tx
}

func (ts *txStore) NextSubLoanID(ctx context.Context) (lending.SubLoanID, error) {
	return nextSubLoanID(ctx, ts.tx)
}

func (ts *txStore) CreateSubLoan(ctx context.Context, loan lending.SubLoan) error {
	return createSubLoan(ctx, ts.tx, loan)
}

func (ts *txStore) GetSubLoan(ctx context.Context, id lending.SubLoanID) (lending.SubLoan, error) {
	return getSubLoan(ctx, ts.tx, id)
}

func (ts *txStore) SaveSubLoan(ctx context.Context, loan lending.SubLoan) error {
	return saveSubLoan(ctx, ts.tx, loan)
}

func (ts *txStore) ListSubLoans(ctx context.Context, filter lending.SubLoanFilter) ([]lending.SubLoan, error) {
	return listSubLoans(ctx, ts.tx, filter)
}

func (ts *txStore) Operations(ctx context.Context, id lending.SubLoanID) ([]lending.Operation, error) {
	return operations(ctx, ts.tx, id)
}

func (ts *txStore) SaveOperations(ctx context.Context, id lending.SubLoanID, ops []lending.Operation) error {
	return saveOperations(ctx, ts.tx, id, ops)
}

func (ts *txStore) AppendEvents(ctx context.Context, events []lending.Event) error {
	return appendEvents(ctx, ts.tx, events)
}

func (ts *txStore) Events(ctx context.Context, id lending.SubLoanID) ([]lending.Event, error) {
	return loadEvents(ctx, ts.tx, id)
}

// Helper functions

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func formatUint(v uint64) string { return strconv.FormatUint(v, 10) }

func parseUint(s string) (uint64, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid stored amount %q: %w", s, err)
	}
	return v, nil
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "PRIMARY KEY"))
}

var _ lending.TxStore = (*Store)(nil)

// Package storage persists sessions in SQLite. Each session is spread over
// five tables; Save rewrites a session's child rows inside one transaction
// and keeps list order in a position column.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"chongmu/internal/core"
	applog "chongmu/internal/log"
	"chongmu/internal/store"

	_ "modernc.org/sqlite"
)

const timeLayout = time.RFC3339Nano

type SQLiteRepository struct {
	db *sql.DB
}

var _ store.SessionStore = (*SQLiteRepository)(nil)

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// SQLite allows a single writer; one connection avoids SQLITE_BUSY
	// between a Save transaction and concurrent reads.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{db: db}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Ping reports whether the database is reachable.
func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *SQLiteRepository) Create(ctx context.Context, s core.Snapshot) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM sessions WHERE id = ?`, s.SessionID).Scan(&exists)
	switch {
	case err == nil:
		return fmt.Errorf("%w: %s", store.ErrExists, s.SessionID)
	case !errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("check session %s: %w", s.SessionID, err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO sessions (id, title, owner, revision, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		s.SessionID, s.Title, s.Owner, s.Revision, formatTime(s.CreatedAt), formatTime(s.UpdatedAt),
	); err != nil {
		return fmt.Errorf("insert session %s: %w", s.SessionID, err)
	}
	if err := writeChildren(ctx, tx, s); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit session %s: %w", s.SessionID, err)
	}

	slog.DebugContext(ctx, "Session created in SQLite", applog.FieldSessionID, s.SessionID)
	return nil
}

func (r *SQLiteRepository) Save(ctx context.Context, s core.Snapshot) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var stored int64
	err = tx.QueryRowContext(ctx, `SELECT revision FROM sessions WHERE id = ?`, s.SessionID).Scan(&stored)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", store.ErrNotFound, s.SessionID)
	}
	if err != nil {
		return fmt.Errorf("read revision of %s: %w", s.SessionID, err)
	}
	if stored != s.Revision-1 {
		return fmt.Errorf("%w: stored %d, saving %d", store.ErrConflict, stored, s.Revision)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE sessions SET title = ?, owner = ?, revision = ?, updated_at = ? WHERE id = ?`,
		s.Title, s.Owner, s.Revision, formatTime(s.UpdatedAt), s.SessionID,
	); err != nil {
		return fmt.Errorf("update session %s: %w", s.SessionID, err)
	}
	if err := deleteChildren(ctx, tx, s.SessionID); err != nil {
		return err
	}
	if err := writeChildren(ctx, tx, s); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit session %s: %w", s.SessionID, err)
	}

	slog.DebugContext(ctx, "Session saved to SQLite",
		applog.FieldSessionID, s.SessionID,
		applog.FieldRevision, s.Revision,
		"participants", len(s.Participants),
		"expenses", len(s.Expenses))
	return nil
}

func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete session %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", store.ErrNotFound, id)
	}
	if err := deleteChildren(ctx, tx, id); err != nil {
		return err
	}
	return tx.Commit()
}

// Get reads the session row and its children inside one transaction so a
// concurrent Save is never half-visible. Nothing is written; the deferred
// rollback only releases the connection on error paths.
func (r *SQLiteRepository) Get(ctx context.Context, id string) (core.Snapshot, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return core.Snapshot{}, fmt.Errorf("begin read of %s: %w", id, err)
	}
	defer func() { _ = tx.Rollback() }()

	s := core.Snapshot{SessionID: id}
	var created, updated string
	err = tx.QueryRowContext(ctx,
		`SELECT title, owner, revision, created_at, updated_at FROM sessions WHERE id = ?`, id,
	).Scan(&s.Title, &s.Owner, &s.Revision, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Snapshot{}, fmt.Errorf("%w: %s", store.ErrNotFound, id)
	}
	if err != nil {
		return core.Snapshot{}, fmt.Errorf("get session %s: %w", id, err)
	}
	s.CreatedAt = parseTime(created)
	s.UpdatedAt = parseTime(updated)

	if s.Participants, err = participants(ctx, tx, id); err != nil {
		return core.Snapshot{}, err
	}
	if s.Expenses, err = expenses(ctx, tx, id); err != nil {
		return core.Snapshot{}, err
	}
	if err := tx.Commit(); err != nil {
		return core.Snapshot{}, fmt.Errorf("finish read of %s: %w", id, err)
	}
	return s, nil
}

func (r *SQLiteRepository) List(ctx context.Context, owner string) ([]store.SessionInfo, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT s.id, s.title, s.owner, s.revision, s.created_at, s.updated_at,
		       (SELECT COUNT(*) FROM participants p WHERE p.session_id = s.id),
		       (SELECT COUNT(*) FROM expenses e WHERE e.session_id = s.id)
		FROM sessions s
		WHERE ? = '' OR s.owner = ?
		ORDER BY s.updated_at DESC, s.id`, owner, owner)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	out := []store.SessionInfo{}
	for rows.Next() {
		var info store.SessionInfo
		var created, updated string
		if err := rows.Scan(&info.ID, &info.Title, &info.Owner, &info.Revision, &created, &updated,
			&info.ParticipantCount, &info.ExpenseCount); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		info.CreatedAt = parseTime(created)
		info.UpdatedAt = parseTime(updated)
		out = append(out, info)
	}
	return out, rows.Err()
}

func participants(ctx context.Context, tx *sql.Tx, sessionID string) ([]core.Participant, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT id, name FROM participants WHERE session_id = ? ORDER BY position`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list participants of %s: %w", sessionID, err)
	}
	defer rows.Close()

	out := []core.Participant{}
	for rows.Next() {
		var p core.Participant
		if err := rows.Scan(&p.ID, &p.Name); err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func expenses(ctx context.Context, tx *sql.Tx, sessionID string) ([]core.Expense, error) {
	beneficiaries := map[string][]string{}
	brows, err := tx.QueryContext(ctx,
		`SELECT expense_id, participant_id FROM expense_beneficiaries WHERE session_id = ? ORDER BY expense_id, position`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list beneficiaries of %s: %w", sessionID, err)
	}
	for brows.Next() {
		var eid, pid string
		if err := brows.Scan(&eid, &pid); err != nil {
			brows.Close()
			return nil, fmt.Errorf("scan beneficiary: %w", err)
		}
		beneficiaries[eid] = append(beneficiaries[eid], pid)
	}
	brows.Close()
	if err := brows.Err(); err != nil {
		return nil, err
	}

	shares := map[string]map[string]int64{}
	srows, err := tx.QueryContext(ctx,
		`SELECT expense_id, participant_id, amount FROM expense_shares WHERE session_id = ?`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list shares of %s: %w", sessionID, err)
	}
	for srows.Next() {
		var eid, pid string
		var amount int64
		if err := srows.Scan(&eid, &pid, &amount); err != nil {
			srows.Close()
			return nil, fmt.Errorf("scan share: %w", err)
		}
		if shares[eid] == nil {
			shares[eid] = map[string]int64{}
		}
		shares[eid][pid] = amount
	}
	srows.Close()
	if err := srows.Err(); err != nil {
		return nil, err
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT id, title, amount, payer_id, split_mode, original_amount, currency, exchange_rate
		FROM expenses WHERE session_id = ? ORDER BY position`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list expenses of %s: %w", sessionID, err)
	}
	defer rows.Close()

	out := []core.Expense{}
	for rows.Next() {
		var row ExpenseRow
		if err := rows.Scan(&row.ID, &row.Title, &row.Amount, &row.PayerID, &row.SplitMode,
			&row.OriginalAmount, &row.Currency, &row.ExchangeRate); err != nil {
			return nil, fmt.Errorf("scan expense: %w", err)
		}
		bens := beneficiaries[row.ID]
		if bens == nil {
			bens = []string{}
		}
		out = append(out, row.Expense(bens, shares[row.ID]))
	}
	return out, rows.Err()
}

func deleteChildren(ctx context.Context, tx *sql.Tx, sessionID string) error {
	for _, table := range []string{"expense_shares", "expense_beneficiaries", "expenses", "participants"} {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE session_id = ?`, sessionID); err != nil {
			return fmt.Errorf("clear %s of %s: %w", table, sessionID, err)
		}
	}
	return nil
}

func writeChildren(ctx context.Context, tx *sql.Tx, s core.Snapshot) error {
	for i, p := range s.Participants {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO participants (session_id, id, name, position) VALUES (?, ?, ?, ?)`,
			s.SessionID, p.ID, p.Name, i,
		); err != nil {
			return fmt.Errorf("insert participant %s: %w", p.ID, err)
		}
	}

	for i, e := range s.Expenses {
		row := ExpenseRowOf(e)
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO expenses (session_id, id, title, amount, payer_id, split_mode,
			                      original_amount, currency, exchange_rate, position)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			s.SessionID, row.ID, row.Title, row.Amount, row.PayerID, row.SplitMode,
			row.OriginalAmount, row.Currency, row.ExchangeRate, i,
		); err != nil {
			return fmt.Errorf("insert expense %s: %w", e.ID, err)
		}
		for j, pid := range e.Beneficiaries {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO expense_beneficiaries (session_id, expense_id, participant_id, position) VALUES (?, ?, ?, ?)`,
				s.SessionID, e.ID, pid, j,
			); err != nil {
				return fmt.Errorf("insert beneficiary %s of %s: %w", pid, e.ID, err)
			}
		}
		for pid, amount := range e.Shares() {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO expense_shares (session_id, expense_id, participant_id, amount) VALUES (?, ?, ?, ?)`,
				s.SessionID, e.ID, pid, amount,
			); err != nil {
				return fmt.Errorf("insert share %s of %s: %w", pid, e.ID, err)
			}
		}
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// Package postgres implements the session store on PostgreSQL using a pgx
// connection pool.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"chongmu/internal/core"
	applog "chongmu/internal/log"
	"chongmu/internal/storage"
	"chongmu/internal/store"
)

type Repository struct {
	pool *pgxpool.Pool
}

var _ store.SessionStore = (*Repository)(nil)

// New connects to databaseURL, runs migrations and verifies the pool.
func New(ctx context.Context, databaseURL string) (*Repository, error) {
	if err := RunMigrations(databaseURL); err != nil {
		return nil, fmt.Errorf("migrate postgres: %w", err)
	}

	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &Repository{pool: pool}, nil
}

func (r *Repository) Close() error {
	r.pool.Close()
	return nil
}

func (r *Repository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func (r *Repository) Create(ctx context.Context, s core.Snapshot) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx,
		`INSERT INTO sessions (id, title, owner, revision, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (id) DO NOTHING`,
		s.SessionID, s.Title, s.Owner, s.Revision, s.CreatedAt.UTC(), s.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert session %s: %w", s.SessionID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", store.ErrExists, s.SessionID)
	}
	if err := writeChildren(ctx, tx, s); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *Repository) Save(ctx context.Context, s core.Snapshot) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var stored int64
	err = tx.QueryRow(ctx, `SELECT revision FROM sessions WHERE id = $1 FOR UPDATE`, s.SessionID).Scan(&stored)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %s", store.ErrNotFound, s.SessionID)
	}
	if err != nil {
		return fmt.Errorf("read revision of %s: %w", s.SessionID, err)
	}
	if stored != s.Revision-1 {
		return fmt.Errorf("%w: stored %d, saving %d", store.ErrConflict, stored, s.Revision)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE sessions SET title = $1, owner = $2, revision = $3, updated_at = $4 WHERE id = $5`,
		s.Title, s.Owner, s.Revision, s.UpdatedAt.UTC(), s.SessionID,
	); err != nil {
		return fmt.Errorf("update session %s: %w", s.SessionID, err)
	}
	// child rows of expenses cascade
	if _, err := tx.Exec(ctx, `DELETE FROM expenses WHERE session_id = $1`, s.SessionID); err != nil {
		return fmt.Errorf("clear expenses of %s: %w", s.SessionID, err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM participants WHERE session_id = $1`, s.SessionID); err != nil {
		return fmt.Errorf("clear participants of %s: %w", s.SessionID, err)
	}
	if err := writeChildren(ctx, tx, s); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit session %s: %w", s.SessionID, err)
	}

	slog.DebugContext(ctx, "Session saved to PostgreSQL", applog.FieldSessionID, s.SessionID, applog.FieldRevision, s.Revision)
	return nil
}

func (r *Repository) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM sessions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete session %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", store.ErrNotFound, id)
	}
	return nil
}

// Get reads the session row and its children inside one read-only
// repeatable-read transaction so a concurrent Save is never half-visible.
func (r *Repository) Get(ctx context.Context, id string) (core.Snapshot, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return core.Snapshot{}, fmt.Errorf("begin read of %s: %w", id, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	s := core.Snapshot{SessionID: id}
	err = tx.QueryRow(ctx,
		`SELECT title, owner, revision, created_at, updated_at FROM sessions WHERE id = $1`, id,
	).Scan(&s.Title, &s.Owner, &s.Revision, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return core.Snapshot{}, fmt.Errorf("%w: %s", store.ErrNotFound, id)
	}
	if err != nil {
		return core.Snapshot{}, fmt.Errorf("get session %s: %w", id, err)
	}
	s.CreatedAt = s.CreatedAt.UTC()
	s.UpdatedAt = s.UpdatedAt.UTC()

	rows, err := tx.Query(ctx,
		`SELECT id, name FROM participants WHERE session_id = $1 ORDER BY position`, id)
	if err != nil {
		return core.Snapshot{}, fmt.Errorf("list participants of %s: %w", id, err)
	}
	s.Participants, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (core.Participant, error) {
		var p core.Participant
		err := row.Scan(&p.ID, &p.Name)
		return p, err
	})
	if err != nil {
		return core.Snapshot{}, fmt.Errorf("scan participants of %s: %w", id, err)
	}

	if s.Expenses, err = expenses(ctx, tx, id); err != nil {
		return core.Snapshot{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return core.Snapshot{}, fmt.Errorf("finish read of %s: %w", id, err)
	}
	return s, nil
}

func expenses(ctx context.Context, tx pgx.Tx, sessionID string) ([]core.Expense, error) {
	beneficiaries := map[string][]string{}
	rows, err := tx.Query(ctx,
		`SELECT expense_id, participant_id FROM expense_beneficiaries
		 WHERE session_id = $1 ORDER BY expense_id, position`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list beneficiaries of %s: %w", sessionID, err)
	}
	var eid, pid string
	if _, err := pgx.ForEachRow(rows, []any{&eid, &pid}, func() error {
		beneficiaries[eid] = append(beneficiaries[eid], pid)
		return nil
	}); err != nil {
		return nil, fmt.Errorf("scan beneficiaries of %s: %w", sessionID, err)
	}

	shares := map[string]map[string]int64{}
	rows, err = tx.Query(ctx,
		`SELECT expense_id, participant_id, amount FROM expense_shares WHERE session_id = $1`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list shares of %s: %w", sessionID, err)
	}
	var amount int64
	if _, err := pgx.ForEachRow(rows, []any{&eid, &pid, &amount}, func() error {
		if shares[eid] == nil {
			shares[eid] = map[string]int64{}
		}
		shares[eid][pid] = amount
		return nil
	}); err != nil {
		return nil, fmt.Errorf("scan shares of %s: %w", sessionID, err)
	}

	rows, err = tx.Query(ctx, `
		SELECT id, title, amount, payer_id, split_mode, original_amount, currency, exchange_rate
		FROM expenses WHERE session_id = $1 ORDER BY position`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list expenses of %s: %w", sessionID, err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (core.Expense, error) {
		var er storage.ExpenseRow
		if err := row.Scan(&er.ID, &er.Title, &er.Amount, &er.PayerID, &er.SplitMode,
			&er.OriginalAmount, &er.Currency, &er.ExchangeRate); err != nil {
			return core.Expense{}, err
		}
		bens := beneficiaries[er.ID]
		if bens == nil {
			bens = []string{}
		}
		return er.Expense(bens, shares[er.ID]), nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan expenses of %s: %w", sessionID, err)
	}
	return out, nil
}

func (r *Repository) List(ctx context.Context, owner string) ([]store.SessionInfo, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT s.id, s.title, s.owner, s.revision, s.created_at, s.updated_at,
		       (SELECT COUNT(*) FROM participants p WHERE p.session_id = s.id),
		       (SELECT COUNT(*) FROM expenses e WHERE e.session_id = s.id)
		FROM sessions s
		WHERE $1 = '' OR s.owner = $1
		ORDER BY s.updated_at DESC, s.id`, owner)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (store.SessionInfo, error) {
		var info store.SessionInfo
		var created, updated time.Time
		err := row.Scan(&info.ID, &info.Title, &info.Owner, &info.Revision, &created, &updated,
			&info.ParticipantCount, &info.ExpenseCount)
		info.CreatedAt, info.UpdatedAt = created.UTC(), updated.UTC()
		return info, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan sessions: %w", err)
	}
	return out, nil
}

func writeChildren(ctx context.Context, tx pgx.Tx, s core.Snapshot) error {
	batch := &pgx.Batch{}
	for i, p := range s.Participants {
		batch.Queue(`INSERT INTO participants (session_id, id, name, position) VALUES ($1, $2, $3, $4)`,
			s.SessionID, p.ID, p.Name, i)
	}
	for i, e := range s.Expenses {
		row := storage.ExpenseRowOf(e)
		batch.Queue(`
			INSERT INTO expenses (session_id, id, title, amount, payer_id, split_mode,
			                      original_amount, currency, exchange_rate, position)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			s.SessionID, row.ID, row.Title, row.Amount, row.PayerID, row.SplitMode,
			row.OriginalAmount, row.Currency, row.ExchangeRate, i)
		for j, pid := range e.Beneficiaries {
			batch.Queue(`INSERT INTO expense_beneficiaries (session_id, expense_id, participant_id, position)
				VALUES ($1, $2, $3, $4)`, s.SessionID, e.ID, pid, j)
		}
		for pid, amount := range e.Shares() {
			batch.Queue(`INSERT INTO expense_shares (session_id, expense_id, participant_id, amount)
				VALUES ($1, $2, $3, $4)`, s.SessionID, e.ID, pid, amount)
		}
	}
	if batch.Len() == 0 {
		return nil
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("write rows of %s: %w", s.SessionID, err)
	}
	return nil
}

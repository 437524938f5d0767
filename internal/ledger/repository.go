package ledger

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/borderpay/backend/internal/models"
)

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Migrate creates the ledger schema. Safe to call on every startup.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS balances (
			wallet TEXT PRIMARY KEY,
			balance_micros BIGINT NOT NULL DEFAULT 0 CHECK (balance_micros >= 0),
			total_credited_micros BIGINT NOT NULL DEFAULT 0,
			total_spent_micros BIGINT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE TABLE IF NOT EXISTS ledger_entries (
			id UUID PRIMARY KEY,
			wallet TEXT NOT NULL,
			amount_micros BIGINT NOT NULL,
			entry_type TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE INDEX IF NOT EXISTS idx_ledger_entries_wallet
			ON ledger_entries (wallet, created_at DESC);
	`)
	return err
}

// GetBalance returns the current balance in micro-USD, 0 for an unknown
// wallet. No record is created.
func (r *Repository) GetBalance(ctx context.Context, wallet string) (int64, error) {
	var balance int64
	err := r.pool.QueryRow(ctx,
		`SELECT COALESCE((SELECT balance_micros FROM balances WHERE wallet = $1), 0)`,
		wallet,
	).Scan(&balance)
	return balance, err
}

// Credit adds amount to the wallet's balance, creating the record if absent.
// The balance mutation is a single upsert so concurrent credits for the same
// wallet cannot lose updates. Returns the new balance.
func (r *Repository) Credit(ctx context.Context, wallet string, amountMicros int64, description string) (int64, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	var newBalance int64
	err = tx.QueryRow(ctx, `
		INSERT INTO balances (wallet, balance_micros, total_credited_micros)
		VALUES ($1, $2, $2)
		ON CONFLICT (wallet) DO UPDATE SET
			balance_micros = balances.balance_micros + $2,
			total_credited_micros = balances.total_credited_micros + $2,
			updated_at = now()
		RETURNING balance_micros
	`, wallet, amountMicros).Scan(&newBalance)
	if err != nil {
		return 0, err
	}

	if err := r.appendEntry(ctx, tx, wallet, amountMicros, models.EntryTypeCredit, description); err != nil {
		return 0, err
	}

	return newBalance, tx.Commit(ctx)
}

// Charge atomically checks and deducts amount from the wallet's balance. The
// check-and-deduct is one conditional UPDATE: two concurrent charges against a
// balance that covers only one of them resolve to exactly one success. Returns
// false (no mutation, no history row) when the balance is insufficient,
// including for unknown wallets.
func (r *Repository) Charge(ctx context.Context, wallet string, amountMicros int64, description string) (bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	result, err := tx.Exec(ctx, `
		UPDATE balances SET
			balance_micros = balance_micros - $1,
			total_spent_micros = total_spent_micros + $1,
			updated_at = now()
		WHERE wallet = $2 AND balance_micros >= $1
	`, amountMicros, wallet)
	if err != nil {
		return false, err
	}
	if result.RowsAffected() == 0 {
		return false, nil
	}

	if err := r.appendEntry(ctx, tx, wallet, -amountMicros, models.EntryTypeCharge, description); err != nil {
		return false, err
	}

	return true, tx.Commit(ctx)
}

// GrantWelcomeOnce credits the welcome bonus if and only if the wallet has
// never been seen. Record creation doubles as the first-contact test, so two
// concurrent first requests grant exactly one bonus: the losing INSERT is a
// no-op and reports granted=false.
func (r *Repository) GrantWelcomeOnce(ctx context.Context, wallet string, amountMicros int64, description string) (bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	result, err := tx.Exec(ctx, `
		INSERT INTO balances (wallet, balance_micros, total_credited_micros)
		VALUES ($1, $2, $2)
		ON CONFLICT (wallet) DO NOTHING
	`, wallet, amountMicros)
	if err != nil {
		return false, err
	}
	if result.RowsAffected() == 0 {
		return false, tx.Commit(ctx)
	}

	if err := r.appendEntry(ctx, tx, wallet, amountMicros, models.EntryTypeCredit, description); err != nil {
		return false, err
	}

	return true, tx.Commit(ctx)
}

// GetStats returns the full balance record, or nil if the wallet has never
// been credited.
func (r *Repository) GetStats(ctx context.Context, wallet string) (*models.Balance, error) {
	var b models.Balance
	err := r.pool.QueryRow(ctx, `
		SELECT wallet, balance_micros, total_credited_micros, total_spent_micros, created_at, updated_at
		FROM balances WHERE wallet = $1
	`, wallet).Scan(&b.Wallet, &b.BalanceMicros, &b.TotalCreditedMicros, &b.TotalSpentMicros, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &b, nil
}

// RecentTransactions returns up to limit history rows, most recent first.
func (r *Repository) RecentTransactions(ctx context.Context, wallet string, limit int) ([]*models.LedgerEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, wallet, amount_micros, entry_type, description, created_at
		FROM ledger_entries WHERE wallet = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, wallet, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []*models.LedgerEntry
	for rows.Next() {
		var e models.LedgerEntry
		if err := rows.Scan(&e.ID, &e.Wallet, &e.AmountMicros, &e.EntryType, &e.Description, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.AmountUSD = models.USD(e.AmountMicros)
		list = append(list, &e)
	}
	return list, rows.Err()
}

func (r *Repository) appendEntry(ctx context.Context, tx pgx.Tx, wallet string, amountMicros int64, entryType, description string) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO ledger_entries (id, wallet, amount_micros, entry_type, description)
		VALUES ($1, $2, $3, $4, $5)
	`, uuid.New(), wallet, amountMicros, entryType, description)
	return err
}

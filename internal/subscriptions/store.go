package subscriptions

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/borderpay/backend/internal/models"
)

// ErrDuplicate is returned by Add when an identical (wallet, target,
// condition, webhook) subscription already exists in any status.
var ErrDuplicate = errors.New("duplicate subscription")

// Store persists subscription records.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// MigrateStore creates the subscriptions schema. Safe to call on every
// startup.
func MigrateStore(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS subscriptions (
			id UUID PRIMARY KEY,
			wallet TEXT NOT NULL,
			target TEXT NOT NULL,
			params JSONB NOT NULL DEFAULT '{}',
			condition TEXT NOT NULL,
			webhook_url TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'active',
			created_at BIGINT NOT NULL,
			triggered_at BIGINT,
			expires_at BIGINT NOT NULL DEFAULT 0,
			UNIQUE (wallet, target, condition, webhook_url)
		);
		CREATE INDEX IF NOT EXISTS idx_subscriptions_active
			ON subscriptions (target) WHERE status = 'active';
	`)
	return err
}

// Add inserts a new subscription. The uniqueness constraint covers active and
// terminal rows alike: a once-triggered subscription cannot be re-created
// with the same shape.
func (s *Store) Add(ctx context.Context, sub *models.Subscription) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO subscriptions (id, wallet, target, params, condition, webhook_url, status, created_at, triggered_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, sub.ID, sub.Wallet, sub.Target, sub.Params, sub.Condition, sub.WebhookURL,
		sub.Status, sub.CreatedAt, sub.TriggeredAt, sub.ExpiresAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

// GetActive returns active subscriptions, optionally filtered by target
// (empty target means all).
func (s *Store) GetActive(ctx context.Context, target string) ([]*models.Subscription, error) {
	query := `
		SELECT id, wallet, target, params, condition, webhook_url, status, created_at, triggered_at, expires_at
		FROM subscriptions WHERE status = 'active'`
	args := []any{}
	if target != "" {
		query += ` AND target = $1`
		args = append(args, target)
	}
	query += ` ORDER BY created_at`
	return s.query(ctx, query, args...)
}

// GetByOwner returns all of a wallet's subscriptions, newest first.
func (s *Store) GetByOwner(ctx context.Context, wallet string) ([]*models.Subscription, error) {
	return s.query(ctx, `
		SELECT id, wallet, target, params, condition, webhook_url, status, created_at, triggered_at, expires_at
		FROM subscriptions WHERE wallet = $1
		ORDER BY created_at DESC
	`, wallet)
}

// UpdateStatus moves a subscription to a new status, recording the trigger
// time when provided.
func (s *Store) UpdateStatus(ctx context.Context, id uuid.UUID, status string, triggeredAt *int64) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE subscriptions SET status = $2, triggered_at = COALESCE($3, triggered_at)
		WHERE id = $1
	`, id, status, triggeredAt)
	return err
}

// Delete cancels a subscription. Ownership is enforced here: an id belonging
// to another wallet is a no-op returning false, and only active subscriptions
// can be cancelled.
func (s *Store) Delete(ctx context.Context, id uuid.UUID, wallet string) (bool, error) {
	result, err := s.pool.Exec(ctx, `
		UPDATE subscriptions SET status = 'cancelled'
		WHERE id = $1 AND wallet = $2 AND status = 'active'
	`, id, wallet)
	if err != nil {
		return false, err
	}
	return result.RowsAffected() > 0, nil
}

func (s *Store) query(ctx context.Context, sql string, args ...any) ([]*models.Subscription, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []*models.Subscription
	for rows.Next() {
		var sub models.Subscription
		if err := rows.Scan(&sub.ID, &sub.Wallet, &sub.Target, &sub.Params, &sub.Condition,
			&sub.WebhookURL, &sub.Status, &sub.CreatedAt, &sub.TriggeredAt, &sub.ExpiresAt); err != nil {
			return nil, err
		}
		list = append(list, &sub)
	}
	return list, rows.Err()
}

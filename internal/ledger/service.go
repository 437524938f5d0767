package ledger

import (
	"context"

	"github.com/borderpay/backend/internal/models"
)

// Service is the ledger contract consumed by the paywall middleware and the
// subscription engine. All amounts are micro-USD. Charge failures are boolean
// outcomes, never errors: callers must branch on them.
type Service interface {
	GetBalance(ctx context.Context, wallet string) (int64, error)
	Credit(ctx context.Context, wallet string, amountMicros int64, description string) (int64, error)
	Charge(ctx context.Context, wallet string, amountMicros int64, description string) (bool, error)
	GrantWelcomeOnce(ctx context.Context, wallet string, amountMicros int64, description string) (bool, error)
	GetStats(ctx context.Context, wallet string) (*models.Balance, error)
	RecentTransactions(ctx context.Context, wallet string, limit int) ([]*models.LedgerEntry, error)
}

type service struct {
	repo *Repository
}

func NewService(repo *Repository) Service {
	return &service{repo: repo}
}

var _ Service = (*service)(nil)

func (s *service) GetBalance(ctx context.Context, wallet string) (int64, error) {
	return s.repo.GetBalance(ctx, wallet)
}

func (s *service) Credit(ctx context.Context, wallet string, amountMicros int64, description string) (int64, error) {
	return s.repo.Credit(ctx, wallet, amountMicros, description)
}

func (s *service) Charge(ctx context.Context, wallet string, amountMicros int64, description string) (bool, error) {
	return s.repo.Charge(ctx, wallet, amountMicros, description)
}

func (s *service) GrantWelcomeOnce(ctx context.Context, wallet string, amountMicros int64, description string) (bool, error) {
	return s.repo.GrantWelcomeOnce(ctx, wallet, amountMicros, description)
}

func (s *service) GetStats(ctx context.Context, wallet string) (*models.Balance, error) {
	return s.repo.GetStats(ctx, wallet)
}

func (s *service) RecentTransactions(ctx context.Context, wallet string, limit int) ([]*models.LedgerEntry, error) {
	return s.repo.RecentTransactions(ctx, wallet, limit)
}

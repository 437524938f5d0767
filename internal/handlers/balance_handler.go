package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/borderpay/backend/internal/models"
)

// BalanceLedger is the ledger subset the balance endpoints read.
type BalanceLedger interface {
	GetStats(ctx context.Context, wallet string) (*models.Balance, error)
	RecentTransactions(ctx context.Context, wallet string, limit int) ([]*models.LedgerEntry, error)
}

// BalanceHandler serves GET /balance/{wallet} and
// GET /balance/{wallet}/transactions.
type BalanceHandler struct {
	Ledger      BalanceLedger
	PriceMicros int64
	Logger      *slog.Logger
}

func (h *BalanceHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	wallet := r.PathValue("wallet")
	if wallet == "" {
		http.Error(w, `{"error":"missing_wallet"}`, http.StatusBadRequest)
		return
	}

	stats, err := h.Ledger.GetStats(r.Context(), wallet)
	if err != nil {
		h.Logger.Error("load balance", "wallet", wallet, "error", err)
		http.Error(w, `{"error":"internal"}`, http.StatusInternalServerError)
		return
	}

	var balanceMicros int64
	newWallet := stats == nil
	if stats != nil {
		balanceMicros = stats.BalanceMicros
	}

	resp := map[string]any{
		"wallet":            wallet,
		"balance_usd":       models.USD(balanceMicros),
		"price_per_request": models.USD(h.PriceMicros),
		"new_wallet":        newWallet,
	}
	if h.PriceMicros > 0 {
		resp["requests_remaining"] = balanceMicros / h.PriceMicros
	}
	if stats != nil {
		resp["total_credited_usd"] = models.USD(stats.TotalCreditedMicros)
		resp["total_spent_usd"] = models.USD(stats.TotalSpentMicros)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *BalanceHandler) GetTransactions(w http.ResponseWriter, r *http.Request) {
	wallet := r.PathValue("wallet")
	if wallet == "" {
		http.Error(w, `{"error":"missing_wallet"}`, http.StatusBadRequest)
		return
	}

	recent, err := h.Ledger.RecentTransactions(r.Context(), wallet, 20)
	if err != nil {
		h.Logger.Error("load transactions", "wallet", wallet, "error", err)
		http.Error(w, `{"error":"internal"}`, http.StatusInternalServerError)
		return
	}
	if recent == nil {
		recent = []*models.LedgerEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"wallet":       wallet,
		"transactions": recent,
	})
}

package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/borderpay/backend/internal/models"
	"github.com/borderpay/backend/internal/payment"
)

type contextKey string

const ctxWalletKey contextKey = "wallet"

// Request headers of the payment protocol.
const (
	HeaderWallet    = "X-User-Wallet"
	HeaderPaymentTx = "X-Solana-Payment-Tx"
)

// WalletFromCtx returns the wallet set by Paywall, or "" if not set.
func WalletFromCtx(ctx context.Context) string {
	if w, ok := ctx.Value(ctxWalletKey).(string); ok {
		return w
	}
	return ""
}

// WithWallet is used by tests and internal callers to inject an identity.
func WithWallet(ctx context.Context, wallet string) context.Context {
	return context.WithValue(ctx, ctxWalletKey, wallet)
}

// Ledger is the balance interface the paywall consumes.
type Ledger interface {
	GetStats(ctx context.Context, wallet string) (*models.Balance, error)
	GetBalance(ctx context.Context, wallet string) (int64, error)
	GrantWelcomeOnce(ctx context.Context, wallet string, amountMicros int64, description string) (bool, error)
	Charge(ctx context.Context, wallet string, amountMicros int64, description string) (bool, error)
}

// TxVerifier verifies a claimed on-chain payment.
type TxVerifier interface {
	VerifyTransaction(ctx context.Context, signatureID string, requiredMicros int64, acceptedTokens []string) *payment.Result
	BuildChallenge(amountMicros int64) payment.Challenge
}

// PaywallConfig carries the pricing knobs of the 402 flow.
type PaywallConfig struct {
	PriceMicros        int64
	WelcomeBonusMicros int64
	ExemptPrefixes     []string
}

// Paywall meters every non-exempt request against the caller's prepaid
// balance. First contact grants the welcome bonus; an exhausted balance gets a
// 402 challenge; a challenge answered with a verified on-chain payment lets
// exactly the current request through without touching the ledger.
func Paywall(ledger Ledger, verifier TxVerifier, cfg PaywallConfig, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if exemptPath(r.URL.Path, cfg.ExemptPrefixes) {
				next.ServeHTTP(w, r)
				return
			}

			wallet := r.Header.Get(HeaderWallet)
			if wallet == "" {
				http.Error(w, fmt.Sprintf(`{"error":"missing_wallet","message":"%s header is required"}`, HeaderWallet), http.StatusBadRequest)
				return
			}

			ctx := r.Context()

			// A wallet with no balance record has never been seen; spending
			// down to zero does not re-trigger the bonus.
			stats, err := ledger.GetStats(ctx, wallet)
			if err != nil {
				http.Error(w, `{"error":"internal"}`, http.StatusInternalServerError)
				return
			}
			if stats == nil {
				granted, err := ledger.GrantWelcomeOnce(ctx, wallet, cfg.WelcomeBonusMicros, "welcome bonus")
				if err != nil {
					http.Error(w, `{"error":"internal"}`, http.StatusInternalServerError)
					return
				}
				if granted {
					logger.Info("welcome bonus granted",
						"wallet", wallet,
						"amount_usd", models.USD(cfg.WelcomeBonusMicros))
				}
			}

			charged, err := ledger.Charge(ctx, wallet, cfg.PriceMicros, "api request: "+r.URL.Path)
			if err != nil {
				http.Error(w, `{"error":"internal"}`, http.StatusInternalServerError)
				return
			}
			if charged {
				next.ServeHTTP(w, r.WithContext(WithWallet(ctx, wallet)))
				return
			}

			txRef := r.Header.Get(HeaderPaymentTx)
			if txRef == "" {
				writeChallenge(ctx, w, ledger, verifier, cfg, wallet)
				return
			}

			result := verifier.VerifyTransaction(ctx, txRef, cfg.PriceMicros, []string{payment.TokenSOL, payment.TokenUSDC})
			if !result.Verified {
				logger.Warn("payment verification failed",
					"wallet", wallet,
					"tx", txRef,
					"error", result.Error)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(payment.StatusForError(result.Error))
				json.NewEncoder(w).Encode(map[string]any{
					"error":   result.Error,
					"message": "payment verification failed",
				})
				return
			}

			// The verified payment authorizes this request only; it is not
			// banked as ledger credit.
			logger.Info("request paid on-chain",
				"wallet", wallet,
				"token", result.Token,
				"amount_usd", models.USD(result.AmountMicros))
			next.ServeHTTP(w, r.WithContext(WithWallet(ctx, wallet)))
		})
	}
}

// exemptPath matches exactly or on a path-segment boundary, so "/health"
// exempts "/health" and "/health/live" but not "/healthz".
func exemptPath(path string, prefixes []string) bool {
	for _, prefix := range prefixes {
		if path == prefix || strings.HasPrefix(path, prefix+"/") {
			return true
		}
	}
	return false
}

func writeChallenge(ctx context.Context, w http.ResponseWriter, ledger Ledger, verifier TxVerifier, cfg PaywallConfig, wallet string) {
	balance, err := ledger.GetBalance(ctx, wallet)
	if err != nil {
		balance = 0
	}
	challenge := verifier.BuildChallenge(cfg.PriceMicros)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusPaymentRequired)
	json.NewEncoder(w).Encode(map[string]any{
		"error":               "payment_required",
		"message":             fmt.Sprintf("insufficient balance, send payment to %s and retry with the %s header", challenge.RecipientWallet, HeaderPaymentTx),
		"current_balance_usd": models.USD(balance),
		"payment":             challenge,
		"instructions": fmt.Sprintf(
			"Transfer at least %.6f SOL or %.2f USDC to %s, then repeat the request with the transaction signature in %s.",
			challenge.Options[payment.TokenSOL].Amount,
			challenge.Options[payment.TokenUSDC].Amount,
			challenge.RecipientWallet,
			HeaderPaymentTx),
	})
}

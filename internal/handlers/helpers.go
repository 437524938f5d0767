package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/borderpay/backend/internal/middleware"
	"github.com/borderpay/backend/internal/signer"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeSigned wraps payload in a signed envelope and writes it. Signing
// failures degrade to a 500 rather than leaking an unsigned body.
func writeSigned(w http.ResponseWriter, status int, keys *signer.KeyManager, payload any, logger *slog.Logger) {
	envelope, err := keys.Active().Sign(payload, time.Now().Unix())
	if err != nil {
		logger.Error("sign response", "error", err)
		http.Error(w, `{"error":"internal"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, status, envelope)
}

// callerWallet resolves the requesting wallet: set by the paywall on metered
// paths, read from the header on exempt ones.
func callerWallet(r *http.Request) string {
	if w := middleware.WalletFromCtx(r.Context()); w != "" {
		return w
	}
	return r.Header.Get(middleware.HeaderWallet)
}

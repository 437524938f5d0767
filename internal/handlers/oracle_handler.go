package handlers

import (
	"net/http"

	"github.com/borderpay/backend/internal/signer"
)

// OracleHandler serves GET /oracle-key, the key discovery endpoint. The
// verification steps are documented here because compatible clients
// reimplement them bit for bit.
type OracleHandler struct {
	Provider string
	Keys     *signer.KeyManager
}

func (h *OracleHandler) GetPublicKey(w http.ResponseWriter, r *http.Request) {
	keys := h.Keys.PublicKeys()
	writeJSON(w, http.StatusOK, map[string]any{
		"provider":   h.Provider,
		"protocol":   "Ed25519",
		"public_key": keys[0],
		"all_keys":   keys,
		"usage": map[string]any{
			"verification_steps": []string{
				"1. Serialize the data field as JSON with lexicographically sorted keys and no whitespace",
				"2. Compute the SHA-256 hash of the canonical bytes and hex-encode it; it must equal data_hash",
				"3. Build the message string \"<data_hash>:<timestamp>\"",
				"4. Verify the hex signature over the message bytes with Ed25519 under provider_pubkey",
			},
		},
	})
}

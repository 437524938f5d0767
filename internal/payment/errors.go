package payment

import "net/http"

// Verification error kinds. These strings travel to clients in 402-flow
// responses, so they are part of the API surface.
const (
	ErrInvalidSignature   = "invalid_signature"
	ErrTxNotFound         = "transaction_not_found"
	ErrTxFailed           = "transaction_failed"
	ErrWrongRecipient     = "wrong_recipient"
	ErrInsufficientAmount = "insufficient_amount"
	ErrSelfTransfer       = "self_transfer"
	ErrRPCUnavailable     = "rpc_unavailable"
	ErrUnsupportedToken   = "unsupported_token"
	ErrUnknown            = "unknown_error"
)

// StatusForError maps a verification error kind to the HTTP status the access
// layer returns for it.
func StatusForError(kind string) int {
	switch kind {
	case ErrInvalidSignature, ErrUnsupportedToken:
		return http.StatusBadRequest
	case ErrTxNotFound:
		return http.StatusNotFound
	case ErrTxFailed, ErrInsufficientAmount:
		return http.StatusPaymentRequired
	case ErrWrongRecipient, ErrSelfTransfer:
		return http.StatusForbidden
	case ErrRPCUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

package models

import (
	"time"

	"github.com/google/uuid"
)

// Ledger entry types.
const (
	EntryTypeCredit = "credit"
	EntryTypeCharge = "charge"
)

// Balance is the denormalized per-wallet balance record. The invariant
// BalanceMicros == TotalCreditedMicros - TotalSpentMicros holds after every
// ledger operation, and BalanceMicros never goes negative (charges that would
// overdraw are rejected instead).
type Balance struct {
	Wallet              string    `json:"wallet"`
	BalanceMicros       int64     `json:"-"`
	TotalCreditedMicros int64     `json:"-"`
	TotalSpentMicros    int64     `json:"-"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// LedgerEntry is one row of the append-only transaction history. Amount is
// signed: positive for credits, negative for charges. History rows are an
// audit trail only; balances are never recomputed from them.
type LedgerEntry struct {
	ID           uuid.UUID `json:"id"`
	Wallet       string    `json:"wallet"`
	AmountMicros int64     `json:"-"`
	AmountUSD    float64   `json:"amount_usd"`
	EntryType    string    `json:"type"`
	Description  string    `json:"description"`
	CreatedAt    time.Time `json:"timestamp"`
}

package payment

import (
	"math"

	"github.com/borderpay/backend/internal/models"
)

// TokenOption quotes the price in one settlement token for a 402 challenge.
type TokenOption struct {
	Amount   float64 `json:"amount"`
	RawUnits uint64  `json:"raw_units"`
	Rate     float64 `json:"rate"`
}

// Challenge is the payment section of a 402 response.
type Challenge struct {
	AmountUSD       float64                `json:"amount_usd"`
	Options         map[string]TokenOption `json:"options"`
	RecipientWallet string                 `json:"recipient_wallet"`
	AcceptedTokens  []string               `json:"accepted_tokens"`
}

// BuildChallenge quotes amountMicros in every accepted token at the current
// configured rates. Quotes are computed fresh per rejection.
func (v *Verifier) BuildChallenge(amountMicros int64) Challenge {
	usd := models.USD(amountMicros)
	solAmount := usd / v.solPrice
	return Challenge{
		AmountUSD: usd,
		Options: map[string]TokenOption{
			TokenSOL: {
				Amount:   solAmount,
				RawUnits: uint64(math.Round(solAmount * LamportsPerSOL)),
				Rate:     v.solPrice,
			},
			TokenUSDC: {
				Amount:   usd,
				RawUnits: uint64(amountMicros),
				Rate:     1.0,
			},
		},
		RecipientWallet: v.merchant,
		AcceptedTokens:  []string{TokenSOL, TokenUSDC},
	}
}

package payment

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"time"

	solana "github.com/gagliardetto/solana-go"

	"github.com/borderpay/backend/internal/models"
)

// Accepted settlement tokens.
const (
	TokenSOL  = "SOL"
	TokenUSDC = "USDC"
)

const (
	LamportsPerSOL = 1_000_000_000
	USDCDecimals   = 6

	// Canonical USDC mint addresses.
	USDCMintMainnet = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
	USDCMintDevnet  = "4zMMC9srt5Ri5X14GAgXhaHii3GnPAEERYPJgZJDncDU"
)

// Result is the outcome of verifying one claimed payment transaction.
type Result struct {
	Verified     bool
	Error        string
	Token        string
	Sender       string
	AmountMicros int64
}

func failure(kind string) *Result {
	return &Result{Error: kind}
}

// Verifier confirms that a claimed on-chain transaction actually paid the
// merchant wallet enough, in an accepted token.
type Verifier struct {
	reader     chainReader
	merchant   string
	usdcMint   string
	solPrice   float64
	maxRetries int
	retryDelay time.Duration
	logger     *slog.Logger
}

// Options configures a Verifier.
type Options struct {
	RPCURL         string
	MerchantWallet string
	USDCMint       string
	SolUSDPrice    float64
	MaxRetries     int
	RetryDelay     time.Duration
}

func NewVerifier(opts Options, logger *slog.Logger) *Verifier {
	if opts.USDCMint == "" {
		opts.USDCMint = USDCMintMainnet
	}
	if opts.MaxRetries < 1 {
		opts.MaxRetries = 1
	}
	return &Verifier{
		reader:     newSolanaReader(opts.RPCURL),
		merchant:   opts.MerchantWallet,
		usdcMint:   opts.USDCMint,
		solPrice:   opts.SolUSDPrice,
		maxRetries: opts.MaxRetries,
		retryDelay: opts.RetryDelay,
		logger:     logger,
	}
}

// VerifyTransaction checks that signatureID paid the merchant at least
// requiredMicros (minus 1% tolerance) in one of acceptedTokens. The call may
// block for up to maxRetries*retryDelay while the RPC node is unreachable.
func (v *Verifier) VerifyTransaction(ctx context.Context, signatureID string, requiredMicros int64, acceptedTokens []string) *Result {
	if v.merchant == "" {
		return failure(ErrWrongRecipient)
	}
	if _, err := solana.PublicKeyFromBase58(v.merchant); err != nil {
		return failure(ErrWrongRecipient)
	}

	signature, err := solana.SignatureFromBase58(signatureID)
	if err != nil {
		return failure(ErrInvalidSignature)
	}

	detail, errKind := v.fetchWithRetry(ctx, signature)
	if errKind != "" {
		return failure(errKind)
	}
	if detail.Failed {
		return failure(ErrTxFailed)
	}

	for _, token := range acceptedTokens {
		var transfer *transfer
		switch token {
		case TokenSOL:
			transfer = extractSOLTransfer(detail)
		case TokenUSDC:
			transfer = extractUSDCTransfer(detail, v.usdcMint)
		default:
			return failure(ErrUnsupportedToken)
		}
		if transfer == nil || transfer.receiver != v.merchant {
			continue
		}
		if transfer.sender == transfer.receiver {
			return failure(ErrSelfTransfer)
		}

		received := v.normalize(token, transfer.rawAmount)
		// 1% tolerance for price movement and rounding between quote and
		// settlement.
		if received*100 < requiredMicros*99 {
			v.logger.Warn("payment below required amount",
				"token", token,
				"received_usd", models.USD(received),
				"required_usd", models.USD(requiredMicros))
			return failure(ErrInsufficientAmount)
		}
		return &Result{
			Verified:     true,
			Token:        token,
			Sender:       transfer.sender,
			AmountMicros: received,
		}
	}

	return failure(ErrWrongRecipient)
}

func (v *Verifier) fetchWithRetry(ctx context.Context, signature solana.Signature) (*txDetail, string) {
	var lastErr error
	for attempt := 1; attempt <= v.maxRetries; attempt++ {
		detail, err := v.reader.GetTransaction(ctx, signature)
		if err == nil {
			return detail, ""
		}
		if errors.Is(err, errTxNotFound) {
			return nil, ErrTxNotFound
		}
		lastErr = err
		v.logger.Warn("rpc fetch failed",
			"attempt", attempt,
			"max_attempts", v.maxRetries,
			"error", err)
		if attempt < v.maxRetries {
			select {
			case <-ctx.Done():
				return nil, ErrRPCUnavailable
			case <-time.After(v.retryDelay):
			}
		}
	}
	v.logger.Error("rpc unavailable after retries", "error", lastErr)
	return nil, ErrRPCUnavailable
}

// normalize converts a raw on-chain amount to micro-USD.
func (v *Verifier) normalize(token string, raw uint64) int64 {
	switch token {
	case TokenSOL:
		usd := float64(raw) / LamportsPerSOL * v.solPrice
		return int64(math.Round(usd * models.MicrosPerUSD))
	case TokenUSDC:
		// USDC raw units are 1e-6 of a dollar, the same scale as micro-USD.
		return int64(raw)
	default:
		return 0
	}
}

type transfer struct {
	sender    string
	receiver  string
	rawAmount uint64
}

// extractSOLTransfer identifies the native transfer by balance deltas: the
// account with the largest decrease is the sender, the largest increase the
// receiver. Picking the extremes keeps fee debits and multi-hop noise from
// being mistaken for the payment.
func extractSOLTransfer(detail *txDetail) *transfer {
	n := len(detail.AccountKeys)
	if n == 0 || len(detail.PreBalances) < n || len(detail.PostBalances) < n {
		return nil
	}

	var (
		sender, receiver string
		maxDown, maxUp   int64
	)
	for i := 0; i < n; i++ {
		delta := int64(detail.PostBalances[i]) - int64(detail.PreBalances[i])
		if delta < maxDown {
			maxDown = delta
			sender = detail.AccountKeys[i]
		}
		if delta > maxUp {
			maxUp = delta
			receiver = detail.AccountKeys[i]
		}
	}
	if receiver == "" || maxUp <= 0 {
		return nil
	}
	return &transfer{sender: sender, receiver: receiver, rawAmount: uint64(maxUp)}
}

// extractUSDCTransfer identifies the stablecoin transfer by per-owner token
// balance deltas restricted to the configured mint.
func extractUSDCTransfer(detail *txDetail, mint string) *transfer {
	deltas := make(map[string]int64)
	for _, b := range detail.PreTokenBalances {
		if b.Mint == mint {
			deltas[b.Owner] -= int64(b.Amount)
		}
	}
	for _, b := range detail.PostTokenBalances {
		if b.Mint == mint {
			deltas[b.Owner] += int64(b.Amount)
		}
	}

	var (
		sender, receiver string
		maxDown, maxUp   int64
	)
	for owner, delta := range deltas {
		if delta < maxDown {
			maxDown = delta
			sender = owner
		}
		if delta > maxUp {
			maxUp = delta
			receiver = owner
		}
	}
	if receiver == "" || maxUp <= 0 {
		return nil
	}
	return &transfer{sender: sender, receiver: receiver, rawAmount: uint64(maxUp)}
}

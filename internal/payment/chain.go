package payment

import (
	"context"
	"errors"
	"strconv"

	solana "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// errTxNotFound is returned by a chainReader when the signature does not
// correspond to any confirmed transaction.
var errTxNotFound = errors.New("transaction not found")

// tokenDelta is one account's token balance at a point in time, reduced to
// the fields transfer extraction needs.
type tokenDelta struct {
	Mint   string
	Owner  string
	Amount uint64
}

// txDetail is a confirmed transaction reduced to the balance movements
// verification cares about.
type txDetail struct {
	Failed            bool
	AccountKeys       []string
	PreBalances       []uint64
	PostBalances      []uint64
	PreTokenBalances  []tokenDelta
	PostTokenBalances []tokenDelta
}

// chainReader abstracts the RPC node so the verifier can be tested against
// canned transactions.
type chainReader interface {
	GetTransaction(ctx context.Context, signature solana.Signature) (*txDetail, error)
}

// solanaReader reads confirmed transactions from a Solana RPC node.
type solanaReader struct {
	client *rpc.Client
}

func newSolanaReader(rpcURL string) *solanaReader {
	return &solanaReader{client: rpc.New(rpcURL)}
}

func (r *solanaReader) GetTransaction(ctx context.Context, signature solana.Signature) (*txDetail, error) {
	maxVersion := uint64(0)
	result, err := r.client.GetTransaction(ctx, signature, &rpc.GetTransactionOpts{
		Commitment:                     rpc.CommitmentConfirmed,
		MaxSupportedTransactionVersion: &maxVersion,
	})
	if err != nil {
		if errors.Is(err, rpc.ErrNotFound) {
			return nil, errTxNotFound
		}
		return nil, err
	}
	if result == nil || result.Meta == nil {
		return nil, errTxNotFound
	}

	detail := &txDetail{
		Failed:       result.Meta.Err != nil,
		PreBalances:  result.Meta.PreBalances,
		PostBalances: result.Meta.PostBalances,
	}

	if result.Transaction != nil {
		tx, err := result.Transaction.GetTransaction()
		if err != nil {
			return nil, err
		}
		for _, key := range tx.Message.AccountKeys {
			detail.AccountKeys = append(detail.AccountKeys, key.String())
		}
	}
	// Versioned transactions list lookup-table accounts separately; their
	// balances appear after the static keys in pre/post arrays.
	for _, key := range result.Meta.LoadedAddresses.Writable {
		detail.AccountKeys = append(detail.AccountKeys, key.String())
	}
	for _, key := range result.Meta.LoadedAddresses.ReadOnly {
		detail.AccountKeys = append(detail.AccountKeys, key.String())
	}

	detail.PreTokenBalances = convertTokenBalances(result.Meta.PreTokenBalances)
	detail.PostTokenBalances = convertTokenBalances(result.Meta.PostTokenBalances)
	return detail, nil
}

func convertTokenBalances(balances []rpc.TokenBalance) []tokenDelta {
	out := make([]tokenDelta, 0, len(balances))
	for _, b := range balances {
		if b.Owner == nil || b.UiTokenAmount == nil {
			continue
		}
		raw, err := strconv.ParseUint(b.UiTokenAmount.Amount, 10, 64)
		if err != nil {
			continue
		}
		out = append(out, tokenDelta{
			Mint:   b.Mint.String(),
			Owner:  b.Owner.String(),
			Amount: raw,
		})
	}
	return out
}

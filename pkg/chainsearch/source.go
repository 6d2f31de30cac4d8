package chainsearch

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/keyproof/keyproofd/pkg/sign"
)

var (
	// ErrNoTransaction is returned by a source when the address has no
	// usable signed transaction within the inspected window.
	ErrNoTransaction = errors.New("no signed transaction for address")

	// ErrRateLimited is returned by a source when the backend throttled the
	// query; the orchestrator retries it with backoff.
	ErrRateLimited = errors.New("endpoint rate limited")

	// ErrNoSignedTransactionFound is returned by the orchestrator once every
	// configured endpoint has been exhausted without a hit.
	ErrNoSignedTransactionFound = errors.New("no signed transaction found on any chain")

	// ErrSearchTimedOut is returned when the caller-supplied deadline expires
	// before the search completes.
	ErrSearchTimedOut = errors.New("search timed out")
)

// Candidate is a raw signature extraction from one transaction, before codec
// validation. R, S and V are passed through exactly as the backend reported
// them; the orchestrator normalizes and validates.
type Candidate struct {
	TxHash      common.Hash
	BlockNumber uint64
	Digest      sign.MessageDigest
	R, S, V     *big.Int
	Value       decimal.Decimal
}

// SignedTransaction is a validated candidate: the signing digest together
// with its canonical signature and provenance.
type SignedTransaction struct {
	TxHash      common.Hash        `json:"tx_hash"`
	ChainID     uint64             `json:"chain_id"`
	BlockNumber uint64             `json:"block_number"`
	Digest      sign.MessageDigest `json:"-"`
	Signature   sign.Signature     `json:"signature"`
	Value       decimal.Decimal    `json:"value"`
}

// TransactionSource is one chain query backend. Implementations must be safe
// for concurrent use and must honor context cancellation on every network
// call.
type TransactionSource interface {
	// ChainID identifies the chain this source queries.
	ChainID() uint64
	// Endpoint returns the query URL, for diagnostics.
	Endpoint() string
	// FindSignedTransactions returns candidate transactions authored by addr,
	// most recent first, inspecting at most limit transactions. A clean miss
	// is ErrNoTransaction; throttling is ErrRateLimited.
	FindSignedTransactions(ctx context.Context, addr sign.Address, limit int) ([]Candidate, error)
}

package chainsearch

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"

	"github.com/keyproof/keyproofd/pkg/sign"
)

// defaultScanDepth bounds how many transactions a source inspects when the
// endpoint configuration does not say otherwise.
const defaultScanDepth = 25

// EthereumClient is the subset of the ethclient API used by RPCSource.
type EthereumClient interface {
	BlockNumber(ctx context.Context) (uint64, error)
	BlockByNumber(ctx context.Context, number *big.Int) (*types.Block, error)
}

var _ TransactionSource = (*RPCSource)(nil)

// RPCSource finds signed transactions by walking recent blocks of a JSON-RPC
// node, newest first, and matching the sender of every transaction.
type RPCSource struct {
	client   EthereumClient
	chainID  uint64
	endpoint string
}

// NewRPCSource dials the JSON-RPC node at rawurl.
func NewRPCSource(rawurl string, chainID uint64) (*RPCSource, error) {
	client, err := ethclient.Dial(rawurl)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to blockchain node: %w", err)
	}
	return &RPCSource{client: client, chainID: chainID, endpoint: rawurl}, nil
}

// NewRPCSourceWithClient wraps an existing client; used by tests and hosts
// that manage connections themselves.
func NewRPCSourceWithClient(client EthereumClient, chainID uint64, endpoint string) *RPCSource {
	return &RPCSource{client: client, chainID: chainID, endpoint: endpoint}
}

// ChainID identifies the chain this source queries.
func (s *RPCSource) ChainID() uint64 { return s.chainID }

// Endpoint returns the query URL.
func (s *RPCSource) Endpoint() string { return s.endpoint }

// FindSignedTransactions walks blocks from the head backwards until limit
// transactions have been inspected, collecting every transaction authored by
// addr. Contract deployments are skipped: only value transfers and
// message-carrying calls qualify.
func (s *RPCSource) FindSignedTransactions(ctx context.Context, addr sign.Address, limit int) ([]Candidate, error) {
	if limit <= 0 {
		limit = defaultScanDepth
	}

	head, err := s.client.BlockNumber(ctx)
	if err != nil {
		return nil, classifyRPCError(err)
	}

	signer := types.LatestSignerForChainID(new(big.Int).SetUint64(s.chainID))

	var out []Candidate
	inspected := 0
	scannedBlocks := 0
	for n := head; inspected < limit && scannedBlocks < limit; n-- {
		block, err := s.client.BlockByNumber(ctx, new(big.Int).SetUint64(n))
		if err != nil {
			return nil, classifyRPCError(err)
		}
		scannedBlocks++

		txs := block.Transactions()
		for i := len(txs) - 1; i >= 0 && inspected < limit; i-- {
			tx := txs[i]
			inspected++

			from, err := types.Sender(signer, tx)
			if err != nil {
				continue
			}
			if from != addr.Address {
				continue
			}
			if tx.To() == nil {
				continue
			}

			// Unprotected legacy transactions hash without the chain id.
			var digest common.Hash
			if tx.Type() == types.LegacyTxType && !tx.Protected() {
				digest = types.HomesteadSigner{}.Hash(tx)
			} else {
				digest = signer.Hash(tx)
			}

			v, r, sc := tx.RawSignatureValues()
			out = append(out, Candidate{
				TxHash:      tx.Hash(),
				BlockNumber: n,
				Digest:      sign.MessageDigest(digest),
				R:           r,
				S:           sc,
				V:           v,
				Value:       decimal.NewFromBigInt(tx.Value(), 0),
			})
		}

		if n == 0 {
			break
		}
	}

	if len(out) == 0 {
		return nil, ErrNoTransaction
	}
	return out, nil
}

// classifyRPCError maps throttling responses to ErrRateLimited and leaves
// context errors untouched so the orchestrator can tell timeouts apart.
func classifyRPCError(err error) error {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "429") || strings.Contains(msg, "rate limit") || strings.Contains(msg, "too many requests") {
		return fmt.Errorf("%w: %v", ErrRateLimited, err)
	}
	return err
}

package chainsearch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/keyproof/keyproofd/pkg/sign"
)

var _ TransactionSource = (*ExplorerSource)(nil)

// ExplorerSource finds signed transactions through an etherscan-style account
// API: the txlist action lists recent transactions for an address, and the
// eth_getTransactionByHash proxy action exposes the raw signature values.
type ExplorerSource struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	chainID    uint64
}

// NewExplorerSource creates a source for the explorer API at baseURL.
// Timeouts are governed by the caller's context, not the HTTP client.
func NewExplorerSource(baseURL, apiKey string, chainID uint64) *ExplorerSource {
	return &ExplorerSource{
		httpClient: &http.Client{},
		baseURL:    baseURL,
		apiKey:     apiKey,
		chainID:    chainID,
	}
}

// ChainID identifies the chain this source queries.
func (s *ExplorerSource) ChainID() uint64 { return s.chainID }

// Endpoint returns the query URL.
func (s *ExplorerSource) Endpoint() string { return s.baseURL }

type explorerEnvelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

type explorerListEntry struct {
	Hash string `json:"hash"`
	From string `json:"from"`
}

type proxyResponse struct {
	Result *proxyTransaction `json:"result"`
}

// proxyTransaction mirrors the hex-encoded eth_getTransactionByHash result.
type proxyTransaction struct {
	Hash                 string            `json:"hash"`
	Nonce                string            `json:"nonce"`
	BlockNumber          string            `json:"blockNumber"`
	To                   string            `json:"to"`
	Value                string            `json:"value"`
	Gas                  string            `json:"gas"`
	GasPrice             string            `json:"gasPrice"`
	Input                string            `json:"input"`
	Type                 string            `json:"type"`
	ChainID              string            `json:"chainId"`
	MaxFeePerGas         string            `json:"maxFeePerGas"`
	MaxPriorityFeePerGas string            `json:"maxPriorityFeePerGas"`
	AccessList           []proxyAccessStep `json:"accessList"`
	V                    string            `json:"v"`
	R                    string            `json:"r"`
	S                    string            `json:"s"`
}

type proxyAccessStep struct {
	Address     string   `json:"address"`
	StorageKeys []string `json:"storageKeys"`
}

// FindSignedTransactions lists the address's most recent transactions and
// fetches raw signature values for up to limit of them. Entries the source
// cannot reconstruct (unsupported tx types, partial explorer data) are
// skipped rather than failing the whole query.
func (s *ExplorerSource) FindSignedTransactions(ctx context.Context, addr sign.Address, limit int) ([]Candidate, error) {
	if limit <= 0 {
		limit = defaultScanDepth
	}

	entries, err := s.listTransactions(ctx, addr, limit)
	if err != nil {
		return nil, err
	}

	var out []Candidate
	for _, entry := range entries {
		if !strings.EqualFold(entry.From, addr.Address.Hex()) {
			continue
		}
		cand, err := s.fetchCandidate(ctx, entry.Hash)
		if err != nil {
			if errors.Is(err, ErrRateLimited) || ctx.Err() != nil {
				return nil, err
			}
			continue
		}
		out = append(out, cand)
	}

	if len(out) == 0 {
		return nil, ErrNoTransaction
	}
	return out, nil
}

func (s *ExplorerSource) listTransactions(ctx context.Context, addr sign.Address, limit int) ([]explorerListEntry, error) {
	query := url.Values{}
	query.Set("module", "account")
	query.Set("action", "txlist")
	query.Set("address", addr.Address.Hex())
	query.Set("sort", "desc")
	query.Set("page", "1")
	query.Set("offset", fmt.Sprintf("%d", limit))
	if s.apiKey != "" {
		query.Set("apikey", s.apiKey)
	}

	body, err := s.get(ctx, query)
	if err != nil {
		return nil, err
	}

	var envelope explorerEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, errors.Wrap(err, "decode explorer response")
	}
	if envelope.Status == "0" {
		msg := strings.ToLower(envelope.Message)
		switch {
		case strings.Contains(msg, "no transactions found"):
			return nil, ErrNoTransaction
		case strings.Contains(msg, "rate limit"):
			return nil, fmt.Errorf("%w: %s", ErrRateLimited, envelope.Message)
		default:
			return nil, errors.Errorf("explorer API error: %s", envelope.Message)
		}
	}

	var entries []explorerListEntry
	if err := json.Unmarshal(envelope.Result, &entries); err != nil {
		return nil, errors.Wrap(err, "decode transaction list")
	}
	if len(entries) == 0 {
		return nil, ErrNoTransaction
	}
	return entries, nil
}

func (s *ExplorerSource) fetchCandidate(ctx context.Context, txHash string) (Candidate, error) {
	query := url.Values{}
	query.Set("module", "proxy")
	query.Set("action", "eth_getTransactionByHash")
	query.Set("txhash", txHash)
	if s.apiKey != "" {
		query.Set("apikey", s.apiKey)
	}

	body, err := s.get(ctx, query)
	if err != nil {
		return Candidate{}, err
	}

	var resp proxyResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return Candidate{}, errors.Wrap(err, "decode proxy response")
	}
	if resp.Result == nil {
		return Candidate{}, errors.Errorf("transaction %s not found on explorer", txHash)
	}
	return s.buildCandidate(resp.Result)
}

func (s *ExplorerSource) get(ctx context.Context, query url.Values) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"?"+query.Encode(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("%w: HTTP 429", ErrRateLimited)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("explorer returned HTTP %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// buildCandidate reconstructs the signed payload so the signing hash can be
// recomputed locally; the explorer is only trusted for the raw fields.
func (s *ExplorerSource) buildCandidate(ptx *proxyTransaction) (Candidate, error) {
	if ptx.To == "" {
		return Candidate{}, errors.New("contract deployment, no recipient")
	}

	nonce, err := hexutil.DecodeUint64(ptx.Nonce)
	if err != nil {
		return Candidate{}, errors.Wrap(err, "parse nonce")
	}
	gas, err := hexutil.DecodeUint64(ptx.Gas)
	if err != nil {
		return Candidate{}, errors.Wrap(err, "parse gas")
	}
	value, err := hexutil.DecodeBig(ptx.Value)
	if err != nil {
		if ptx.Value == "0x0" || ptx.Value == "0x" {
			value = new(big.Int)
		} else {
			return Candidate{}, errors.Wrap(err, "parse value")
		}
	}
	input, err := hexutil.Decode(ptx.Input)
	if err != nil {
		return Candidate{}, errors.Wrap(err, "parse input")
	}
	r, err := hexutil.DecodeBig(ptx.R)
	if err != nil {
		return Candidate{}, errors.Wrap(err, "parse r")
	}
	sc, err := hexutil.DecodeBig(ptx.S)
	if err != nil {
		return Candidate{}, errors.Wrap(err, "parse s")
	}
	v, err := hexutil.DecodeBig(ptx.V)
	if err != nil {
		return Candidate{}, errors.Wrap(err, "parse v")
	}

	txType := uint64(types.LegacyTxType)
	if ptx.Type != "" {
		if txType, err = hexutil.DecodeUint64(ptx.Type); err != nil {
			return Candidate{}, errors.Wrap(err, "parse type")
		}
	}

	to := common.HexToAddress(ptx.To)
	chainID := new(big.Int).SetUint64(s.chainID)

	var inner types.TxData
	switch txType {
	case types.LegacyTxType:
		gasPrice, err := hexutil.DecodeBig(ptx.GasPrice)
		if err != nil {
			return Candidate{}, errors.Wrap(err, "parse gasPrice")
		}
		inner = &types.LegacyTx{
			Nonce:    nonce,
			GasPrice: gasPrice,
			Gas:      gas,
			To:       &to,
			Value:    value,
			Data:     input,
		}
	case types.AccessListTxType:
		gasPrice, err := hexutil.DecodeBig(ptx.GasPrice)
		if err != nil {
			return Candidate{}, errors.Wrap(err, "parse gasPrice")
		}
		inner = &types.AccessListTx{
			ChainID:    chainID,
			Nonce:      nonce,
			GasPrice:   gasPrice,
			Gas:        gas,
			To:         &to,
			Value:      value,
			Data:       input,
			AccessList: buildAccessList(ptx.AccessList),
		}
	case types.DynamicFeeTxType:
		tipCap, err := hexutil.DecodeBig(ptx.MaxPriorityFeePerGas)
		if err != nil {
			return Candidate{}, errors.Wrap(err, "parse maxPriorityFeePerGas")
		}
		feeCap, err := hexutil.DecodeBig(ptx.MaxFeePerGas)
		if err != nil {
			return Candidate{}, errors.Wrap(err, "parse maxFeePerGas")
		}
		inner = &types.DynamicFeeTx{
			ChainID:    chainID,
			Nonce:      nonce,
			GasTipCap:  tipCap,
			GasFeeCap:  feeCap,
			Gas:        gas,
			To:         &to,
			Value:      value,
			Data:       input,
			AccessList: buildAccessList(ptx.AccessList),
		}
	default:
		return Candidate{}, errors.Errorf("unsupported transaction type %d", txType)
	}

	tx := types.NewTx(inner)

	// Unprotected legacy transactions hash without the chain id.
	var digest common.Hash
	if txType == types.LegacyTxType && v.Cmp(big.NewInt(eip155Boundary)) < 0 {
		digest = types.HomesteadSigner{}.Hash(tx)
	} else {
		digest = types.LatestSignerForChainID(chainID).Hash(tx)
	}

	blockNumber := uint64(0)
	if ptx.BlockNumber != "" {
		if blockNumber, err = hexutil.DecodeUint64(ptx.BlockNumber); err != nil {
			return Candidate{}, errors.Wrap(err, "parse blockNumber")
		}
	}

	return Candidate{
		TxHash:      common.HexToHash(ptx.Hash),
		BlockNumber: blockNumber,
		Digest:      sign.MessageDigest(digest),
		R:           r,
		S:           sc,
		V:           v,
		Value:       decimal.NewFromBigInt(value, 0),
	}, nil
}

// eip155Boundary is the smallest EIP-155 V value; anything below it on a
// legacy transaction means the 27/28 unprotected encoding.
const eip155Boundary = 35

func buildAccessList(steps []proxyAccessStep) types.AccessList {
	if len(steps) == 0 {
		return nil
	}
	list := make(types.AccessList, 0, len(steps))
	for _, step := range steps {
		tuple := types.AccessTuple{Address: common.HexToAddress(step.Address)}
		for _, key := range step.StorageKeys {
			tuple.StorageKeys = append(tuple.StorageKeys, common.HexToHash(key))
		}
		list = append(list, tuple)
	}
	return list
}

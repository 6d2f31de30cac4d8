package proof

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/keyproof/keyproofd/pkg/chainsearch"
	"github.com/keyproof/keyproofd/pkg/log"
	"github.com/keyproof/keyproofd/pkg/sign"
)

// Searcher finds a signed transaction authored by an address. The accept
// callback vetoes candidates; see chainsearch.Orchestrator.
type Searcher interface {
	Search(ctx context.Context, addr sign.Address, accept chainsearch.AcceptFunc) (*chainsearch.SignedTransaction, []chainsearch.SearchAttempt, error)
}

// ResultStore persists verified results for audit and cache warm-up.
type ResultStore interface {
	Save(ctx context.Context, result *RecoveryResult) error
	LoadAll(ctx context.Context) ([]*RecoveryResult, error)
}

// Service runs the full recovery pipeline: search, recover, verify, cache.
type Service struct {
	searcher Searcher
	cache    *ResultCache
	store    ResultStore
	group    singleflight.Group
	logger   log.Logger
	now      func() time.Time
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithResultStore persists every verified result and enables WarmCache.
func WithResultStore(store ResultStore) ServiceOption {
	return func(s *Service) { s.store = store }
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

// NewService creates a Service around the given searcher. A nil logger is
// replaced with a noop one.
func NewService(searcher Searcher, logger log.Logger, opts ...ServiceOption) *Service {
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	s := &Service{
		searcher: searcher,
		cache:    NewResultCache(),
		logger:   logger.WithName("proof"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RecoverPublicKey proves which public key controls addr. Cached results are
// returned without touching the network; otherwise concurrent calls for the
// same address collapse into one search. Only results whose recovered key
// derives back to addr are ever returned or cached.
func (s *Service) RecoverPublicKey(ctx context.Context, addr sign.Address) (*RecoveryResult, error) {
	if result, ok := s.cache.Get(addr); ok {
		return result, nil
	}

	v, err, _ := s.group.Do(addr.String(), func() (any, error) {
		return s.recover(ctx, addr)
	})
	if err != nil {
		return nil, err
	}
	return v.(*RecoveryResult), nil
}

func (s *Service) recover(ctx context.Context, addr sign.Address) (*RecoveryResult, error) {
	// A flight that queued behind the winning one finds the result here.
	if result, ok := s.cache.Get(addr); ok {
		return result, nil
	}

	accept := func(stx chainsearch.SignedTransaction) bool {
		pk, err := sign.RecoverPublicKey(stx.Digest, stx.Signature)
		if err != nil {
			s.logger.Debug("candidate signature does not recover", "tx", stx.TxHash, "error", err)
			return false
		}
		return sign.VerifyAddress(pk, addr)
	}

	stx, attempts, err := s.searcher.Search(ctx, addr, accept)
	if err != nil {
		if errors.Is(err, chainsearch.ErrNoSignedTransactionFound) && hasRejection(attempts) {
			return nil, ErrVerificationMismatch
		}
		return nil, err
	}

	// The accepted candidate already passed this; recomputing keeps the
	// stored key authoritative rather than trusting callback state.
	pk, err := sign.RecoverPublicKey(stx.Digest, stx.Signature)
	if err != nil {
		return nil, fmt.Errorf("accepted candidate stopped recovering: %w", err)
	}
	if !sign.VerifyAddress(pk, addr) {
		return nil, ErrVerificationMismatch
	}

	result := s.cache.Put(&RecoveryResult{
		Address:       addr,
		PublicKey:     pk,
		Signature:     stx.Signature,
		SourceChainID: stx.ChainID,
		TxHash:        stx.TxHash,
		RecoveredAt:   s.now().UTC(),
		Attempts:      attempts,
	})

	if s.store != nil {
		if err := s.store.Save(ctx, result); err != nil {
			s.logger.Error("failed to persist recovery result", "address", addr, "error", err)
		}
	}

	s.logger.Info("recovered public key",
		"address", addr, "chain", result.SourceChainID, "tx", result.TxHash, "probes", len(attempts))
	return result, nil
}

// VerifySignedMessage checks a detached personal-message signature against an
// address. Pure computation: no network, no caching.
func (s *Service) VerifySignedMessage(message []byte, signatureHex string, addr sign.Address) (bool, error) {
	sig, err := sign.ParseSignatureHex(signatureHex)
	if err != nil {
		return false, err
	}
	pk, err := sign.RecoverPublicKey(sign.PersonalDigest(message), sig)
	if err != nil {
		return false, err
	}
	return sign.VerifyAddress(pk, addr), nil
}

// WarmCache loads previously verified results from the store. It returns the
// number of entries loaded and is a no-op without a store.
func (s *Service) WarmCache(ctx context.Context) (int, error) {
	if s.store == nil {
		return 0, nil
	}
	results, err := s.store.LoadAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load stored results: %w", err)
	}
	for _, result := range results {
		s.cache.Put(result)
	}
	return len(results), nil
}

// CacheSize reports how many addresses have verified results.
func (s *Service) CacheSize() int { return s.cache.Len() }

// Cached reports whether addr already has a verified result.
func (s *Service) Cached(addr sign.Address) bool {
	_, ok := s.cache.Get(addr)
	return ok
}

func hasRejection(attempts []chainsearch.SearchAttempt) bool {
	for _, attempt := range attempts {
		if attempt.Status == chainsearch.StatusRejected {
			return true
		}
	}
	return false
}

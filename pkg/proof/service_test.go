package proof

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keyproof/keyproofd/pkg/chainsearch"
	"github.com/keyproof/keyproofd/pkg/sign"
)

// fakeSearcher scripts search outcomes and honors the accept callback the
// way the orchestrator does: rejected candidates become rejected attempts.
type fakeSearcher struct {
	mu         sync.Mutex
	calls      int
	candidates []chainsearch.SignedTransaction
	err        error
	block      chan struct{} // when set, Search waits before answering
}

func (f *fakeSearcher) Search(ctx context.Context, _ sign.Address, accept chainsearch.AcceptFunc) (*chainsearch.SignedTransaction, []chainsearch.SearchAttempt, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, nil, chainsearch.ErrSearchTimedOut
		}
	}
	if f.err != nil {
		return nil, nil, f.err
	}

	var attempts []chainsearch.SearchAttempt
	for i := range f.candidates {
		stx := f.candidates[i]
		if accept == nil || accept(stx) {
			attempts = append(attempts, chainsearch.SearchAttempt{
				Endpoint: "fake", ChainID: stx.ChainID, Status: chainsearch.StatusSuccess,
			})
			return &stx, attempts, nil
		}
		attempts = append(attempts, chainsearch.SearchAttempt{
			Endpoint: "fake", ChainID: stx.ChainID, Status: chainsearch.StatusRejected,
		})
	}
	return nil, attempts, chainsearch.ErrNoSignedTransactionFound
}

func (f *fakeSearcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func signedTx(t *testing.T, signer *sign.Signer, chainID uint64, payload string) chainsearch.SignedTransaction {
	t.Helper()
	digest := sign.PersonalDigest([]byte(payload))
	sig, err := signer.Sign(digest)
	require.NoError(t, err)
	return chainsearch.SignedTransaction{
		TxHash:    common.HexToHash("0xabc"),
		ChainID:   chainID,
		Digest:    digest,
		Signature: sig,
	}
}

func TestServiceRecoverAndCache(t *testing.T) {
	signer, err := sign.GenerateSigner()
	require.NoError(t, err)
	addr := signer.Address()

	searcher := &fakeSearcher{candidates: []chainsearch.SignedTransaction{signedTx(t, signer, 137, "proof tx")}}
	fixed := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	svc := NewService(searcher, nil, WithClock(func() time.Time { return fixed }))

	result, err := svc.RecoverPublicKey(context.Background(), addr)
	require.NoError(t, err)
	assert.True(t, result.Address.Equals(addr))
	assert.True(t, sign.VerifyAddress(result.PublicKey, addr))
	assert.Equal(t, uint64(137), result.SourceChainID)
	assert.Equal(t, fixed, result.RecoveredAt)
	assert.Equal(t, 1, svc.CacheSize())

	// The second call is answered from cache without another search.
	again, err := svc.RecoverPublicKey(context.Background(), addr)
	require.NoError(t, err)
	assert.Same(t, result, again)
	assert.Equal(t, 1, searcher.callCount())
}

func TestServiceSingleFlight(t *testing.T) {
	signer, err := sign.GenerateSigner()
	require.NoError(t, err)
	addr := signer.Address()

	release := make(chan struct{})
	searcher := &fakeSearcher{
		candidates: []chainsearch.SignedTransaction{signedTx(t, signer, 1, "flight tx")},
		block:      release,
	}
	svc := NewService(searcher, nil)

	const callers = 8
	results := make([]*RecoveryResult, callers)
	var wg sync.WaitGroup
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r, err := svc.RecoverPublicKey(context.Background(), addr)
			require.NoError(t, err)
			results[i] = r
		}()
	}

	// Give the callers time to pile up behind the single flight.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, 1, searcher.callCount())
	for _, r := range results[1:] {
		assert.Same(t, results[0], r)
	}
}

func TestServiceRejectsForeignCandidates(t *testing.T) {
	signer, err := sign.GenerateSigner()
	require.NoError(t, err)
	stranger, err := sign.GenerateSigner()
	require.NoError(t, err)

	// The first candidate was signed by someone else; the search resumes and
	// the second one wins.
	searcher := &fakeSearcher{candidates: []chainsearch.SignedTransaction{
		signedTx(t, stranger, 1, "not yours"),
		signedTx(t, signer, 1, "yours"),
	}}
	svc := NewService(searcher, nil)

	result, err := svc.RecoverPublicKey(context.Background(), signer.Address())
	require.NoError(t, err)
	assert.True(t, sign.VerifyAddress(result.PublicKey, signer.Address()))

	require.Len(t, result.Attempts, 2)
	assert.Equal(t, chainsearch.StatusRejected, result.Attempts[0].Status)
	assert.Equal(t, chainsearch.StatusSuccess, result.Attempts[1].Status)
}

func TestServiceVerificationMismatch(t *testing.T) {
	signer, err := sign.GenerateSigner()
	require.NoError(t, err)
	stranger, err := sign.GenerateSigner()
	require.NoError(t, err)

	// Every candidate recovers to a different key.
	searcher := &fakeSearcher{candidates: []chainsearch.SignedTransaction{
		signedTx(t, stranger, 1, "tx one"),
		signedTx(t, stranger, 1, "tx two"),
	}}
	svc := NewService(searcher, nil)

	_, err = svc.RecoverPublicKey(context.Background(), signer.Address())
	assert.ErrorIs(t, err, ErrVerificationMismatch)
	assert.Equal(t, 0, svc.CacheSize())
}

func TestServiceSearchErrorsPassThrough(t *testing.T) {
	signer, err := sign.GenerateSigner()
	require.NoError(t, err)

	t.Run("no transaction", func(t *testing.T) {
		svc := NewService(&fakeSearcher{err: chainsearch.ErrNoSignedTransactionFound}, nil)
		_, err := svc.RecoverPublicKey(context.Background(), signer.Address())
		assert.ErrorIs(t, err, chainsearch.ErrNoSignedTransactionFound)
	})

	t.Run("timeout", func(t *testing.T) {
		svc := NewService(&fakeSearcher{err: chainsearch.ErrSearchTimedOut}, nil)
		_, err := svc.RecoverPublicKey(context.Background(), signer.Address())
		assert.ErrorIs(t, err, chainsearch.ErrSearchTimedOut)
	})
}

func TestServiceVerifySignedMessage(t *testing.T) {
	signer, err := sign.GenerateSigner()
	require.NoError(t, err)
	message := []byte("the device attests this payload")

	sig, err := signer.SignMessage(message)
	require.NoError(t, err)
	sigHex := sig.String()

	svc := NewService(&fakeSearcher{}, nil)

	ok, err := svc.VerifySignedMessage(message, sigHex, signer.Address())
	require.NoError(t, err)
	assert.True(t, ok)

	other, err := sign.GenerateSigner()
	require.NoError(t, err)
	ok, err = svc.VerifySignedMessage(message, sigHex, other.Address())
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = svc.VerifySignedMessage(message, "0x1234", signer.Address())
	assert.ErrorIs(t, err, sign.ErrMalformedSignature)
}

// recordingStore captures Save calls and serves LoadAll from a seed.
type recordingStore struct {
	mu    sync.Mutex
	saved []*RecoveryResult
	seed  []*RecoveryResult
	svErr error
	ldErr error
}

func (s *recordingStore) Save(_ context.Context, result *RecoveryResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.svErr != nil {
		return s.svErr
	}
	s.saved = append(s.saved, result)
	return nil
}

func (s *recordingStore) LoadAll(_ context.Context) ([]*RecoveryResult, error) {
	if s.ldErr != nil {
		return nil, s.ldErr
	}
	return s.seed, nil
}

func TestServiceResultStore(t *testing.T) {
	signer, err := sign.GenerateSigner()
	require.NoError(t, err)
	addr := signer.Address()

	searcher := &fakeSearcher{candidates: []chainsearch.SignedTransaction{signedTx(t, signer, 1, "stored tx")}}
	store := &recordingStore{}
	svc := NewService(searcher, nil, WithResultStore(store))

	result, err := svc.RecoverPublicKey(context.Background(), addr)
	require.NoError(t, err)

	store.mu.Lock()
	require.Len(t, store.saved, 1)
	assert.Same(t, result, store.saved[0])
	store.mu.Unlock()
}

func TestServiceStoreFailureDoesNotFailRecovery(t *testing.T) {
	signer, err := sign.GenerateSigner()
	require.NoError(t, err)

	searcher := &fakeSearcher{candidates: []chainsearch.SignedTransaction{signedTx(t, signer, 1, "tx")}}
	store := &recordingStore{svErr: errors.New("disk full")}
	svc := NewService(searcher, nil, WithResultStore(store))

	result, err := svc.RecoverPublicKey(context.Background(), signer.Address())
	require.NoError(t, err)
	assert.NotNil(t, result)
}

func TestServiceWarmCache(t *testing.T) {
	signer, err := sign.GenerateSigner()
	require.NoError(t, err)
	addr := signer.Address()

	sig, err := signer.SignMessage([]byte("warm tx"))
	require.NoError(t, err)
	seed := &RecoveryResult{
		Address:       addr,
		PublicKey:     signer.PublicKey(),
		Signature:     sig,
		SourceChainID: 10,
		RecoveredAt:   time.Now().UTC(),
	}

	searcher := &fakeSearcher{err: chainsearch.ErrNoSignedTransactionFound}
	svc := NewService(searcher, nil, WithResultStore(&recordingStore{seed: []*RecoveryResult{seed}}))

	n, err := svc.WarmCache(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// The warmed entry answers without any search.
	result, err := svc.RecoverPublicKey(context.Background(), addr)
	require.NoError(t, err)
	assert.Same(t, seed, result)
	assert.Equal(t, 0, searcher.callCount())
}

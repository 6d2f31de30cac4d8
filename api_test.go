package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keyproof/keyproofd/pkg/chainsearch"
	"github.com/keyproof/keyproofd/pkg/log"
	"github.com/keyproof/keyproofd/pkg/proof"
	"github.com/keyproof/keyproofd/pkg/sign"
)

// stubService scripts API-level service responses.
type stubService struct {
	result *proof.RecoveryResult
	err    error
	valid  bool
	vErr   error
	cached bool
}

func (s *stubService) RecoverPublicKey(_ context.Context, _ sign.Address) (*proof.RecoveryResult, error) {
	return s.result, s.err
}

func (s *stubService) VerifySignedMessage(_ []byte, _ string, _ sign.Address) (bool, error) {
	return s.valid, s.vErr
}

func (s *stubService) Cached(_ sign.Address) bool { return s.cached }

func newTestAPI(t *testing.T, svc RecoveryService) (*API, *httptest.Server) {
	t.Helper()
	metrics := NewMetricsWithRegistry(prometheus.NewRegistry())
	api := NewAPI(svc, NewAttemptHub(), metrics, log.NewNoopLogger())
	mux := http.NewServeMux()
	api.RegisterRoutes(mux)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return api, server
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	return resp
}

func TestAPIRecover(t *testing.T) {
	signer, err := sign.GenerateSigner()
	require.NoError(t, err)
	addr := signer.Address()
	sig, err := signer.SignMessage([]byte("proof"))
	require.NoError(t, err)

	svc := &stubService{result: &proof.RecoveryResult{
		Address:       addr,
		PublicKey:     signer.PublicKey(),
		Signature:     sig,
		SourceChainID: 137,
		TxHash:        common.HexToHash("0xbeef"),
		RecoveredAt:   time.Now().UTC(),
	}}
	_, server := newTestAPI(t, svc)

	resp := postJSON(t, server.URL+"/recover", recoverRequest{Address: addr.String()})
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result proof.RecoveryResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	assert.True(t, result.Address.Equals(addr))
	assert.Equal(t, signer.PublicKey().Bytes(), result.PublicKey.Bytes())
	assert.Equal(t, uint64(137), result.SourceChainID)
}

func TestAPIRecoverErrors(t *testing.T) {
	tcs := []struct {
		name           string
		address        string
		svcErr         error
		expectedStatus int
		expectedKind   string
	}{
		{
			name:           "invalid address",
			address:        "not-an-address",
			expectedStatus: http.StatusBadRequest,
			expectedKind:   "invalid_address",
		},
		{
			name:           "no signed transaction",
			address:        "0x8ba1f109551bD432803012645Ac136ddd64DBA72",
			svcErr:         chainsearch.ErrNoSignedTransactionFound,
			expectedStatus: http.StatusNotFound,
			expectedKind:   "no_signed_transaction_found",
		},
		{
			name:           "verification mismatch",
			address:        "0x8ba1f109551bD432803012645Ac136ddd64DBA72",
			svcErr:         proof.ErrVerificationMismatch,
			expectedStatus: http.StatusNotFound,
			expectedKind:   "verification_mismatch",
		},
		{
			name:           "search timeout",
			address:        "0x8ba1f109551bD432803012645Ac136ddd64DBA72",
			svcErr:         chainsearch.ErrSearchTimedOut,
			expectedStatus: http.StatusGatewayTimeout,
			expectedKind:   "search_timed_out",
		},
	}

	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			_, server := newTestAPI(t, &stubService{err: tc.svcErr})

			resp := postJSON(t, server.URL+"/recover", recoverRequest{Address: tc.address})
			defer resp.Body.Close()
			require.Equal(t, tc.expectedStatus, resp.StatusCode)

			var body errorResponse
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			assert.Equal(t, tc.expectedKind, body.Kind)
		})
	}
}

func TestAPIVerify(t *testing.T) {
	addr := "0x8ba1f109551bD432803012645Ac136ddd64DBA72"

	t.Run("valid", func(t *testing.T) {
		_, server := newTestAPI(t, &stubService{valid: true})
		resp := postJSON(t, server.URL+"/verify", verifyRequest{Message: "m", Signature: "0xsig", Address: addr})
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var body verifyResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.True(t, body.Valid)
	})

	t.Run("malformed signature", func(t *testing.T) {
		_, server := newTestAPI(t, &stubService{vErr: sign.ErrMalformedSignature})
		resp := postJSON(t, server.URL+"/verify", verifyRequest{Message: "m", Signature: "0x12", Address: addr})
		defer resp.Body.Close()
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)

		var body errorResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Equal(t, "malformed_signature", body.Kind)
	})
}

func TestAPIAttemptStream(t *testing.T) {
	api, server := newTestAPI(t, &stubService{})

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	defer conn.Close()

	// Subscription happens inside the handler; give it a moment.
	require.Eventually(t, func() bool {
		api.hub.mu.RLock()
		defer api.hub.mu.RUnlock()
		return len(api.hub.subs) == 1
	}, time.Second, 10*time.Millisecond)

	published := chainsearch.SearchAttempt{
		Endpoint: "https://rpc.example",
		ChainID:  1,
		Status:   chainsearch.StatusTimeout,
		Latency:  250 * time.Millisecond,
	}
	api.hub.Publish(published)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	var received chainsearch.SearchAttempt
	require.NoError(t, conn.ReadJSON(&received))
	assert.Equal(t, published, received)
}

package sign

import (
	"encoding/json"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSignature(t *testing.T) {
	t.Run("Round trip", func(t *testing.T) {
		signer, err := GenerateSigner()
		require.NoError(t, err)

		for _, msg := range []string{"hello", "", "a longer message with some length to it"} {
			sig, err := signer.SignMessage([]byte(msg))
			require.NoError(t, err)

			parsed, err := ParseSignature(sig.Bytes())
			require.NoError(t, err)
			assert.Equal(t, sig, parsed)
		}
	})

	t.Run("Wrong length", func(t *testing.T) {
		tests := []struct {
			name string
			raw  []byte
		}{
			{"Empty", nil},
			{"Too short", make([]byte, 64)},
			{"Too long", make([]byte, 66)},
		}

		for _, test := range tests {
			t.Run(test.name, func(t *testing.T) {
				_, err := ParseSignature(test.raw)
				assert.ErrorIs(t, err, ErrMalformedSignature)
			})
		}
	})

	t.Run("Zero components", func(t *testing.T) {
		raw := make([]byte, SignatureLength)
		raw[63] = 1 // s nonzero, r stays zero
		_, err := ParseSignature(raw)
		assert.ErrorIs(t, err, ErrMalformedSignature)

		raw = make([]byte, SignatureLength)
		raw[31] = 1 // r nonzero, s stays zero
		_, err = ParseSignature(raw)
		assert.ErrorIs(t, err, ErrMalformedSignature)
	})

	t.Run("Component above curve order", func(t *testing.T) {
		raw := make([]byte, SignatureLength)
		overOrder := new(big.Int).Add(curveOrder, big.NewInt(1))
		overOrder.FillBytes(raw[:32])
		raw[63] = 1
		_, err := ParseSignature(raw)
		assert.ErrorIs(t, err, ErrMalformedSignature)
	})

	t.Run("Invalid recovery id", func(t *testing.T) {
		raw := make([]byte, SignatureLength)
		raw[31] = 1
		raw[63] = 1
		raw[64] = 5
		_, err := ParseSignature(raw)
		assert.ErrorIs(t, err, ErrMalformedSignature)
	})
}

func TestParseSignatureHex(t *testing.T) {
	signer, err := GenerateSigner()
	require.NoError(t, err)
	sig, err := signer.SignMessage([]byte("hex round trip"))
	require.NoError(t, err)

	t.Run("With 0x prefix", func(t *testing.T) {
		parsed, err := ParseSignatureHex(sig.String())
		require.NoError(t, err)
		assert.Equal(t, sig, parsed)
	})

	t.Run("Without 0x prefix", func(t *testing.T) {
		parsed, err := ParseSignatureHex(sig.String()[2:])
		require.NoError(t, err)
		assert.Equal(t, sig, parsed)
	})

	t.Run("Invalid hex", func(t *testing.T) {
		_, err := ParseSignatureHex("0xzzzz")
		assert.ErrorIs(t, err, ErrMalformedSignature)
	})
}

func TestNormalizeRecoveryID(t *testing.T) {
	tests := []struct {
		name     string
		v        *big.Int
		expected uint8
		wantErr  bool
	}{
		{"Canonical 0", big.NewInt(0), 0, false},
		{"Canonical 1", big.NewInt(1), 1, false},
		{"Legacy 27", big.NewInt(27), 0, false},
		{"Legacy 28", big.NewInt(28), 1, false},
		{"EIP-155 mainnet even", big.NewInt(37), 0, false},
		{"EIP-155 mainnet odd", big.NewInt(38), 1, false},
		{"EIP-155 large chain", new(big.Int).SetUint64(2*137 + 35 + 1), 1, false},
		{"Out of range 2", big.NewInt(2), 0, true},
		{"Out of range 26", big.NewInt(26), 0, true},
		{"Out of range 29", big.NewInt(29), 0, true},
		{"Negative", big.NewInt(-1), 0, true},
		{"Nil", nil, 0, true},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			recID, err := NormalizeRecoveryID(test.v)
			if test.wantErr {
				assert.ErrorIs(t, err, ErrMalformedSignature)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, test.expected, recID)
		})
	}
}

func TestNewSignatureNormalizesOffsets(t *testing.T) {
	signer, err := GenerateSigner()
	require.NoError(t, err)
	sig, err := signer.SignMessage([]byte("offset normalization"))
	require.NoError(t, err)

	// Re-encode the same signature with a 27/28-style V.
	r := new(big.Int).SetBytes(sig.R[:])
	s := new(big.Int).SetBytes(sig.S[:])
	offset, err := NewSignature(r, s, big.NewInt(int64(sig.V)+27))
	require.NoError(t, err)

	assert.Equal(t, sig, offset)
	assert.LessOrEqual(t, offset.V, uint8(1))
}

func TestSignatureJSON(t *testing.T) {
	signer, err := GenerateSigner()
	require.NoError(t, err)
	sig, err := signer.SignMessage([]byte("json round trip"))
	require.NoError(t, err)

	jsonData, err := json.Marshal(sig)
	require.NoError(t, err)

	var unmarshaled Signature
	require.NoError(t, json.Unmarshal(jsonData, &unmarshaled))
	assert.Equal(t, sig, unmarshaled)

	t.Run("Unmarshaling errors", func(t *testing.T) {
		tests := []struct {
			name     string
			jsonData string
		}{
			{"Invalid JSON", `{invalid}`},
			{"Invalid hex", `"0xinvalidhex"`},
			{"Non-string", `123`},
			{"Wrong length", `"0x0102"`},
		}

		for _, test := range tests {
			t.Run(test.name, func(t *testing.T) {
				var out Signature
				assert.Error(t, json.Unmarshal([]byte(test.jsonData), &out))
			})
		}
	})
}

package sign

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

const (
	// SignatureLength is the compact wire size: r (32) || s (32) || v (1).
	SignatureLength = 65

	// componentLength is the size of each of the r and s words.
	componentLength = 32

	// legacyVOffset is the pre-EIP-155 recovery id offset (27/28).
	legacyVOffset = 27

	// eip155VBase is the base of EIP-155 V values: chainID*2 + 35 + recoveryID.
	eip155VBase = 35
)

// curveOrder is the order of the secp256k1 group; r and s must be below it.
var curveOrder = ethcrypto.S256().Params().N

// Signature is the algebraic representation of a compact ECDSA signature.
// V always carries the canonical 0/1 recovery id; constructors normalize
// legacy 27/28 and EIP-155 encodings. Immutable once constructed.
type Signature struct {
	R common.Hash
	S common.Hash
	V uint8
}

// NewSignature builds a Signature from its algebraic components, validating
// ranges and normalizing the recovery id. r and s must be nonzero and below
// the curve order; v may use any of the known encodings.
func NewSignature(r, s, v *big.Int) (Signature, error) {
	recID, err := NormalizeRecoveryID(v)
	if err != nil {
		return Signature{}, err
	}
	if err := checkComponent("r", r); err != nil {
		return Signature{}, err
	}
	if err := checkComponent("s", s); err != nil {
		return Signature{}, err
	}
	return Signature{
		R: common.BigToHash(r),
		S: common.BigToHash(s),
		V: recID,
	}, nil
}

// ParseSignature decodes a compact 65-byte signature. It is the exact inverse
// of Bytes: ParseSignature(sig.Bytes()) == sig for every valid signature.
func ParseSignature(raw []byte) (Signature, error) {
	if len(raw) != SignatureLength {
		return Signature{}, fmt.Errorf("%w: expected %d bytes, got %d", ErrMalformedSignature, SignatureLength, len(raw))
	}
	r := new(big.Int).SetBytes(raw[:componentLength])
	s := new(big.Int).SetBytes(raw[componentLength : 2*componentLength])
	v := new(big.Int).SetUint64(uint64(raw[SignatureLength-1]))
	return NewSignature(r, s, v)
}

// ParseSignatureHex decodes a hex-encoded compact signature, with or without
// the 0x prefix.
func ParseSignatureHex(hexSig string) (Signature, error) {
	if !strings.HasPrefix(hexSig, "0x") && !strings.HasPrefix(hexSig, "0X") {
		hexSig = "0x" + hexSig
	}
	raw, err := hexutil.Decode(hexSig)
	if err != nil {
		return Signature{}, fmt.Errorf("%w: %v", ErrMalformedSignature, err)
	}
	return ParseSignature(raw)
}

// NormalizeRecoveryID folds the three historical V encodings into the
// canonical 0/1 form: plain 0/1, legacy 27/28, and EIP-155 chainID*2+35+id.
func NormalizeRecoveryID(v *big.Int) (uint8, error) {
	if v == nil || v.Sign() < 0 {
		return 0, fmt.Errorf("%w: missing recovery id", ErrMalformedSignature)
	}
	switch {
	case v.Cmp(big.NewInt(2)) < 0:
		return uint8(v.Uint64()), nil
	case v.Cmp(big.NewInt(legacyVOffset)) == 0 || v.Cmp(big.NewInt(legacyVOffset+1)) == 0:
		return uint8(v.Uint64() - legacyVOffset), nil
	case v.Cmp(big.NewInt(eip155VBase)) >= 0:
		recID := new(big.Int).Sub(v, big.NewInt(eip155VBase))
		return uint8(recID.Bit(0)), nil
	default:
		return 0, fmt.Errorf("%w: recovery id %s out of range", ErrMalformedSignature, v)
	}
}

func checkComponent(name string, c *big.Int) error {
	if c == nil || c.Sign() <= 0 {
		return fmt.Errorf("%w: %s is zero", ErrMalformedSignature, name)
	}
	if c.BitLen() > componentLength*8 || c.Cmp(curveOrder) >= 0 {
		return fmt.Errorf("%w: %s exceeds curve order", ErrMalformedSignature, name)
	}
	return nil
}

// Bytes returns the canonical compact form r || s || v with v in {0, 1}.
func (sig Signature) Bytes() []byte {
	out := make([]byte, SignatureLength)
	copy(out[:componentLength], sig.R[:])
	copy(out[componentLength:2*componentLength], sig.S[:])
	out[SignatureLength-1] = sig.V
	return out
}

// String implements the fmt.Stringer interface.
func (sig Signature) String() string {
	return hexutil.Encode(sig.Bytes())
}

// MarshalJSON implements the json.Marshaler interface, encoding the signature
// as a hex string of its compact form.
func (sig Signature) MarshalJSON() ([]byte, error) {
	return json.Marshal(sig.String())
}

// UnmarshalJSON implements the json.Unmarshaler interface.
func (sig *Signature) UnmarshalJSON(data []byte) error {
	var hexStr string
	if err := json.Unmarshal(data, &hexStr); err != nil {
		return err
	}
	parsed, err := ParseSignatureHex(hexStr)
	if err != nil {
		return err
	}
	*sig = parsed
	return nil
}

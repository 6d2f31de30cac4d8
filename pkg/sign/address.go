package sign

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// PublicKey is an immutable secp256k1 public key.
type PublicKey struct {
	pk *ecdsa.PublicKey
}

// NewPublicKey wraps an ECDSA public key.
func NewPublicKey(pk *ecdsa.PublicKey) PublicKey {
	return PublicKey{pk: pk}
}

// PublicKeyFromBytes decodes an uncompressed 65-byte curve point.
func PublicKeyFromBytes(raw []byte) (PublicKey, error) {
	pk, err := ethcrypto.UnmarshalPubkey(raw)
	if err != nil {
		return PublicKey{}, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}
	return PublicKey{pk: pk}, nil
}

// Bytes returns the uncompressed 65-byte encoding (0x04 || x || y).
func (p PublicKey) Bytes() []byte { return ethcrypto.FromECDSAPub(p.pk) }

// CompressedBytes returns the 33-byte compressed encoding.
func (p PublicKey) CompressedBytes() []byte { return ethcrypto.CompressPubkey(p.pk) }

// ECDSA exposes the underlying key for callers that need the raw point.
func (p PublicKey) ECDSA() *ecdsa.PublicKey { return p.pk }

// MarshalText renders the uncompressed point as 0x-prefixed hex.
func (p PublicKey) MarshalText() ([]byte, error) {
	if p.pk == nil {
		return nil, ErrInvalidPublicKey
	}
	return []byte(hexutil.Encode(p.Bytes())), nil
}

// UnmarshalText decodes a 0x-prefixed uncompressed point.
func (p *PublicKey) UnmarshalText(text []byte) error {
	raw, err := hexutil.Decode(string(text))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}
	decoded, err := PublicKeyFromBytes(raw)
	if err != nil {
		return err
	}
	*p = decoded
	return nil
}

// Address is a 20-byte value derived deterministically from a PublicKey.
type Address struct {
	common.Address
}

// String renders the address with EIP-55 checksum casing.
func (a Address) String() string { return a.Address.Hex() }

// Equals compares addresses on their raw bytes; checksum casing never
// affects equality.
func (a Address) Equals(other Address) bool { return a.Address == other.Address }

// AddressFromHex parses a hex address string, case-insensitively.
func AddressFromHex(hexAddr string) (Address, error) {
	if !common.IsHexAddress(hexAddr) {
		return Address{}, fmt.Errorf("%w: %q", ErrInvalidAddress, hexAddr)
	}
	return Address{common.HexToAddress(hexAddr)}, nil
}

// DeriveAddress applies the canonical hash-and-truncate rule:
// keccak256(pubkey)[12:] over the unprefixed point encoding.
func DeriveAddress(p PublicKey) Address {
	return Address{ethcrypto.PubkeyToAddress(*p.pk)}
}

// VerifyAddress reports whether the public key derives to the given address.
func VerifyAddress(p PublicKey, addr Address) bool {
	if p.pk == nil {
		return false
	}
	return DeriveAddress(p).Address == addr.Address
}

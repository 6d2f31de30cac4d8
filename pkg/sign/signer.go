package sign

import (
	"crypto/ecdsa"
	"fmt"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Signer produces canonical signatures with a locally held private key.
// It exists for test-vector generation and host tooling; the recovery
// pipeline itself never touches private key material.
type Signer struct {
	privateKey *ecdsa.PrivateKey
}

// NewSigner creates a Signer from a hex-encoded private key.
func NewSigner(privateKeyHex string) (*Signer, error) {
	privateKeyHex = strings.TrimPrefix(privateKeyHex, "0x")
	key, err := ethcrypto.HexToECDSA(privateKeyHex)
	if err != nil {
		return nil, fmt.Errorf("could not parse private key: %w", err)
	}
	return &Signer{privateKey: key}, nil
}

// GenerateSigner creates a Signer with a fresh random key.
func GenerateSigner() (*Signer, error) {
	key, err := ethcrypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("could not generate private key: %w", err)
	}
	return &Signer{privateKey: key}, nil
}

// Sign signs a precomputed digest and returns the canonical signature.
func (s *Signer) Sign(digest MessageDigest) (Signature, error) {
	raw, err := ethcrypto.Sign(digest[:], s.privateKey)
	if err != nil {
		return Signature{}, err
	}
	return ParseSignature(raw)
}

// SignMessage signs the EIP-191 personal digest of a raw message.
func (s *Signer) SignMessage(message []byte) (Signature, error) {
	return s.Sign(PersonalDigest(message))
}

// PublicKey returns the public key associated with this signer.
func (s *Signer) PublicKey() PublicKey {
	return PublicKey{pk: s.privateKey.Public().(*ecdsa.PublicKey)}
}

// Address returns the address derived from the signer's public key.
func (s *Signer) Address() Address {
	return DeriveAddress(s.PublicKey())
}

package sign

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// DigestLength is the size of a message digest in bytes.
const DigestLength = 32

// personalMessagePrefix is the EIP-191 domain prefix for personal messages.
const personalMessagePrefix = "\x19Ethereum Signed Message:\n"

// MessageDigest is the fixed-size hash of a canonicalized message, the actual
// input to signature math. Computed, never mutated.
type MessageDigest [DigestLength]byte

// PersonalDigest computes the EIP-191 personal-message hash:
// keccak256("\x19Ethereum Signed Message:\n" + len(message) + message).
func PersonalDigest(message []byte) MessageDigest {
	prefix := fmt.Sprintf("%s%d", personalMessagePrefix, len(message))
	return MessageDigest(ethcrypto.Keccak256Hash([]byte(prefix), message))
}

// DigestFromBytes copies a raw 32-byte hash into a MessageDigest.
func DigestFromBytes(raw []byte) (MessageDigest, error) {
	if len(raw) != DigestLength {
		return MessageDigest{}, fmt.Errorf("digest must be %d bytes, got %d", DigestLength, len(raw))
	}
	var d MessageDigest
	copy(d[:], raw)
	return d, nil
}

// Bytes returns the digest as a byte slice.
func (d MessageDigest) Bytes() []byte { return d[:] }

// String implements the fmt.Stringer interface.
func (d MessageDigest) String() string { return hexutil.Encode(d[:]) }

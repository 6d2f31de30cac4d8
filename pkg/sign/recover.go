package sign

import (
	"fmt"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// RecoverPublicKey reconstructs the candidate public key that produced the
// signature over the given digest. It is pure and deterministic.
//
// It fails with ErrInvalidSignature when r or s is zero, when the recovery id
// yields no valid curve point, or when the reconstructed point is not on the
// curve.
func RecoverPublicKey(digest MessageDigest, sig Signature) (PublicKey, error) {
	if isZeroWord(sig.R) || isZeroWord(sig.S) {
		return PublicKey{}, fmt.Errorf("%w: zero r or s component", ErrInvalidSignature)
	}
	if sig.V > 1 {
		return PublicKey{}, fmt.Errorf("%w: recovery id %d", ErrInvalidSignature, sig.V)
	}
	pk, err := ethcrypto.SigToPub(digest[:], sig.Bytes())
	if err != nil {
		return PublicKey{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if pk.X == nil || pk.Y == nil || !pk.Curve.IsOnCurve(pk.X, pk.Y) {
		return PublicKey{}, fmt.Errorf("%w: recovered point not on curve", ErrInvalidSignature)
	}
	return PublicKey{pk: pk}, nil
}

// RecoverAddress recovers the public key and derives its address in one step.
func RecoverAddress(digest MessageDigest, sig Signature) (Address, error) {
	pk, err := RecoverPublicKey(digest, sig)
	if err != nil {
		return Address{}, err
	}
	return DeriveAddress(pk), nil
}

func isZeroWord(w [32]byte) bool {
	for _, b := range w {
		if b != 0 {
			return false
		}
	}
	return true
}

// Package sign implements the cryptographic half of the key recovery pipeline.
//
// It provides the signature codec (compact 65-byte wire form to and from the
// algebraic {R, S, V} representation, with recovery-id normalization),
// secp256k1 public-key recovery from a message digest, and address
// derivation/verification for recovered keys.
//
// All operations in this package are pure: no network access, no shared
// state, identical inputs always yield identical outputs.
//
// # Recovery ids
//
// The recovery id has been encoded three different ways in the wild:
// canonical 0/1, the legacy 27/28 offset, and EIP-155 values of the form
// chainID*2+35+id. Every constructor in this package normalizes to the
// canonical 0/1 form, so a Signature never carries an offset V.
//
// Usage
//
//	sig, err := sign.ParseSignatureHex(signatureHex)
//	if err != nil {
//	    return err
//	}
//	digest := sign.PersonalDigest([]byte(message))
//	pub, err := sign.RecoverPublicKey(digest, sig)
//	if err != nil {
//	    return err
//	}
//	ok := sign.VerifyAddress(pub, addr)
package sign

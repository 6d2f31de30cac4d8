package sign

import "errors"

var (
	// ErrMalformedSignature is returned when a signature cannot be decoded:
	// wrong byte length, or R, S or V outside their valid ranges.
	ErrMalformedSignature = errors.New("malformed signature")

	// ErrInvalidSignature is returned when a structurally well-formed
	// signature does not yield a valid curve point during recovery.
	ErrInvalidSignature = errors.New("invalid signature")

	// ErrInvalidPublicKey is returned when raw bytes do not encode a valid
	// point on the curve.
	ErrInvalidPublicKey = errors.New("invalid public key")

	// ErrInvalidAddress is returned when a string is not a valid hex-encoded
	// 20-byte address.
	ErrInvalidAddress = errors.New("invalid address")
)

package proof

import "errors"

// ErrVerificationMismatch is returned when signed transactions were found for
// the address but every recovered key failed the derivation check. It means
// either corrupted source data or an address the chain attributes differently
// than the caller expects.
var ErrVerificationMismatch = errors.New("recovered key does not derive the requested address")

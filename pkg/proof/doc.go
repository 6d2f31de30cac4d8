// Package proof turns the recovery pipeline into a service: it proves that
// an address controls a public key by finding one of the address's already
// broadcast transactions, recovering the key from its signature, and
// verifying that the key derives back to the requested address. Verified
// results are cached for the lifetime of the process.
package proof

// Package chainsearch locates, for a given address, a past transaction it
// authored across a prioritized list of chains, and extracts a usable
// signature from it.
//
// Sources implement the TransactionSource interface per chain query backend
// (JSON-RPC node, explorer API). The Orchestrator walks endpoints in strict
// priority tiers, applies per-endpoint timeout and retry policy, and returns
// the first candidate that passes structural validation and the caller's
// acceptance check. Per-endpoint SearchAttempt records are collected for
// diagnostics and metrics.
package chainsearch

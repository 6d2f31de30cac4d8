// Package log provides the structured logging interface used across the
// service and its libraries.
//
// Two backends implement the Logger interface:
//
//   - ZapLogger: zap with console, logfmt or json encoding, the default for
//     production deployments.
//   - IPFSLogger: the go-log subsystem logger, kept for deployments that
//     configure per-subsystem levels through the go-log machinery.
//
// A NoopLogger is available for tests and as the safe fallback returned by
// FromContext when no logger was attached.
package log

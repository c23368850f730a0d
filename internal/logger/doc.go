// Package logger provides a small wrapper around zap to offer:
//   - a global sugared logger with a console encoder writing to stderr,
//   - context helpers (ToContext/FromContext/WithName/WithKV),
//   - level parsing and configuration,
//   - key-value helpers (DebugKV, InfoKV, WarnKV, ErrorKV).
//
// Every updater and signer stage accepts a context and extracts the logger
// from it, so progress and failures are logged with the component name.
package logger

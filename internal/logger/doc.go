// Package logger wraps zap for the upgrader:
//   - a global sugared logger writing console lines to stderr,
//   - context helpers (ToContext/FromContext/WithName/WithKV),
//   - level parsing and runtime level switching,
//   - printf and key-value helpers (Infof, WarnKV, etc.).
//
// Every workflow component receives a context and logs through it, so the
// stage name and run attributes follow the call chain.
package logger

// Package errors provides standardized error handling patterns for paramstream.
//
// # Overview
//
// Errors fall into three classes: Transient (temporary, retryable), Invalid
// (bad input, non-retryable) and Fatal (unrecoverable, stop processing).
// Callers decide between retrying, dropping and escalating based on the class
// instead of matching error strings.
//
//   - Transient: dial failures, dropped sockets, timeouts
//   - Invalid: malformed frames, rejected definitions, unsupported operations
//   - Fatal: configuration errors, exhausted retry budgets
//
// # Error Wrapping Pattern
//
// All wrapping follows the format "component.method: action failed: cause":
//
//	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
//	    return errors.WrapTransient(err, "Channel", "flush", "write frame")
//	}
//
// Sentinels survive wrapping and are matched with Is:
//
//	if errors.Is(err, errors.ErrUnsupportedOperation) {
//	    // no write-capable channel configured
//	}
package errors

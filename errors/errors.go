// Package errors classifies paramstream errors as transient, invalid or fatal
// and wraps them with the component and method that produced them.
package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorClass tells a caller whether to retry, drop or escalate an error
type ErrorClass int

const (
	// ErrorTransient errors may succeed when retried
	ErrorTransient ErrorClass = iota
	// ErrorInvalid errors come from bad input or definitions and will not succeed on retry
	ErrorInvalid
	// ErrorFatal errors should stop the component that hit them
	ErrorFatal
)

var classNames = [...]string{
	ErrorTransient: "transient",
	ErrorInvalid:   "invalid",
	ErrorFatal:     "fatal",
}

// String returns the lower-case class name used in metric labels
func (ec ErrorClass) String() string {
	if ec < 0 || int(ec) >= len(classNames) {
		return "unknown"
	}
	return classNames[ec]
}

// Lifecycle
var (
	ErrAlreadyStarted = errors.New("component already started")
	ErrNotStarted     = errors.New("component not started")
	ErrShuttingDown   = errors.New("component is shutting down")
)

// Feed connections
var (
	ErrNoConnection      = errors.New("no connection available")
	ErrConnectionLost    = errors.New("connection lost")
	ErrConnectionTimeout = errors.New("connection timeout")
)

// Frames and definitions
var (
	ErrInvalidData   = errors.New("invalid data format")
	ErrParsingFailed = errors.New("parsing failed")

	// ErrUnsupportedOperation is returned when an operation needs a capability
	// that the current setup does not provide, such as a write without a
	// write-capable channel.
	ErrUnsupportedOperation = errors.New("unsupported operation")
)

// Configuration and resources
var (
	ErrConfiguration      = errors.New("configuration error")
	ErrInvalidConfig      = errors.New("invalid configuration")
	ErrMissingConfig      = errors.New("missing required configuration")
	ErrResourceExhausted  = errors.New("resource exhausted")
	ErrMaxRetriesExceeded = errors.New("maximum retries exceeded")
)

// sentinelClasses is checked in order; the first sentinel in an error's
// chain decides its class.
var sentinelClasses = []struct {
	err   error
	class ErrorClass
}{
	{ErrConnectionTimeout, ErrorTransient},
	{ErrConnectionLost, ErrorTransient},
	{ErrNoConnection, ErrorTransient},
	{context.DeadlineExceeded, ErrorTransient},
	{context.Canceled, ErrorTransient},
	{ErrInvalidConfig, ErrorFatal},
	{ErrMissingConfig, ErrorFatal},
	{ErrConfiguration, ErrorFatal},
	{ErrResourceExhausted, ErrorFatal},
	{ErrMaxRetriesExceeded, ErrorFatal},
	{ErrInvalidData, ErrorInvalid},
	{ErrParsingFailed, ErrorInvalid},
	{ErrUnsupportedOperation, ErrorInvalid},
}

// Socket and dial errors from the standard library carry no sentinel
var transientText = []string{"timeout", "connection", "network", "temporary", "unavailable", "refused"}

// ClassifiedError carries an explicit class along with where it happened
type ClassifiedError struct {
	Class     ErrorClass
	Err       error
	Message   string
	Component string
	Operation string
}

func (ce *ClassifiedError) Error() string {
	if ce.Message != "" {
		return ce.Message
	}
	return ce.Err.Error()
}

func (ce *ClassifiedError) Unwrap() error {
	return ce.Err
}

// classOf reports the class of err and whether anything in it decided one
func classOf(err error) (ErrorClass, bool) {
	if err == nil {
		return ErrorTransient, false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class, true
	}

	for _, s := range sentinelClasses {
		if errors.Is(err, s.err) {
			return s.class, true
		}
	}

	msg := strings.ToLower(err.Error())
	for _, pattern := range transientText {
		if strings.Contains(msg, pattern) {
			return ErrorTransient, true
		}
	}
	return ErrorTransient, false
}

func hasClass(err error, class ErrorClass) bool {
	c, ok := classOf(err)
	return ok && c == class
}

// IsTransient reports whether err is worth retrying
func IsTransient(err error) bool { return hasClass(err, ErrorTransient) }

// IsFatal reports whether err should stop processing
func IsFatal(err error) bool { return hasClass(err, ErrorFatal) }

// IsInvalid reports whether err comes from bad input
func IsInvalid(err error) bool { return hasClass(err, ErrorInvalid) }

// Classify returns the class of err. Errors nothing recognises are
// treated as transient so callers may retry them.
func Classify(err error) ErrorClass {
	c, _ := classOf(err)
	return c
}

// Wrap adds context in the form "component.method: action failed: cause"
func Wrap(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s.%s: %s failed: %w", component, method, action, err)
}

func wrapAs(class ErrorClass, err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrapped := Wrap(err, component, method, action)
	return &ClassifiedError{
		Class:     class,
		Err:       wrapped,
		Message:   wrapped.Error(),
		Component: component,
		Operation: method,
	}
}

// WrapTransient wraps err with context and marks it transient
func WrapTransient(err error, component, method, action string) error {
	return wrapAs(ErrorTransient, err, component, method, action)
}

// WrapFatal wraps err with context and marks it fatal
func WrapFatal(err error, component, method, action string) error {
	return wrapAs(ErrorFatal, err, component, method, action)
}

// WrapInvalid wraps err with context and marks it invalid
func WrapInvalid(err error, component, method, action string) error {
	return wrapAs(ErrorInvalid, err, component, method, action)
}

// Is, As and New are re-exported so files importing this package as
// "errors" keep the standard helpers.
func Is(err, target error) bool { return errors.Is(err, target) }

func As(err error, target any) bool { return errors.As(err, target) }

func New(text string) error { return errors.New(text) }

package helpers

import (
	"errors"
	"fmt"
)

// -----------------------------------------------------------------------------
// Custom Error Types
// -----------------------------------------------------------------------------

type GatewayError struct {
	Message string
	Cause   error
}

func (e *GatewayError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *GatewayError) Unwrap() error {
	return e.Cause
}

// -----------------------------------------------------------------------------
// Distinct error types. Each carries a different retry/propagation contract:
//
//   ProtocolError          - malformed frame, fatal to the owning connection
//   HandshakeTimeoutError  - retryable per the backoff policy
//   FetchTimeoutError      - surfaced to the caller, never auto-retried
//   SymbolResolutionError  - the symbol is bad, the connection stays open
//   SessionNotFoundError   - resolver-level, surfaced immediately
//   MissingCredentialFieldError - resolver-level, surfaced immediately
//   ConfigUnavailableError - non-fatal, the indicator is simply omitted
//   SessionInvalidError    - auth rejection, caller must re-capture credentials
// -----------------------------------------------------------------------------

type ProtocolError struct{ GatewayError }
type HandshakeTimeoutError struct{ GatewayError }
type FetchTimeoutError struct{ GatewayError }
type SymbolResolutionError struct{ GatewayError }
type SessionNotFoundError struct{ GatewayError }
type MissingCredentialFieldError struct{ GatewayError }
type ConfigUnavailableError struct{ GatewayError }
type SessionInvalidError struct{ GatewayError }

// -----------------------------------------------------------------------------
// Constructors
// -----------------------------------------------------------------------------

func NewProtocolError(msg string, cause error) error {
	return &ProtocolError{GatewayError{Message: msg, Cause: cause}}
}

func NewHandshakeTimeoutError(msg string, cause error) error {
	return &HandshakeTimeoutError{GatewayError{Message: msg, Cause: cause}}
}

func NewFetchTimeoutError(msg string, cause error) error {
	return &FetchTimeoutError{GatewayError{Message: msg, Cause: cause}}
}

func NewSymbolResolutionError(msg string) error {
	return &SymbolResolutionError{GatewayError{Message: msg}}
}

func NewSessionNotFoundError(msg string) error {
	return &SessionNotFoundError{GatewayError{Message: msg}}
}

func NewMissingCredentialFieldError(msg string) error {
	return &MissingCredentialFieldError{GatewayError{Message: msg}}
}

func NewConfigUnavailableError(msg string, cause error) error {
	return &ConfigUnavailableError{GatewayError{Message: msg, Cause: cause}}
}

func NewSessionInvalidError(msg string) error {
	return &SessionInvalidError{GatewayError{Message: msg}}
}

// -----------------------------------------------------------------------------
// Predicates
// -----------------------------------------------------------------------------

func IsProtocolError(err error) bool {
	var e *ProtocolError
	return errors.As(err, &e)
}

func IsHandshakeTimeout(err error) bool {
	var e *HandshakeTimeoutError
	return errors.As(err, &e)
}

func IsFetchTimeout(err error) bool {
	var e *FetchTimeoutError
	return errors.As(err, &e)
}

func IsSymbolResolution(err error) bool {
	var e *SymbolResolutionError
	return errors.As(err, &e)
}

func IsSessionNotFound(err error) bool {
	var e *SessionNotFoundError
	return errors.As(err, &e)
}

func IsMissingCredentialField(err error) bool {
	var e *MissingCredentialFieldError
	return errors.As(err, &e)
}

func IsConfigUnavailable(err error) bool {
	var e *ConfigUnavailableError
	return errors.As(err, &e)
}

func IsSessionInvalid(err error) bool {
	var e *SessionInvalidError
	return errors.As(err, &e)
}

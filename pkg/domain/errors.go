package domain

import (
	"errors"
	"fmt"
)

// ErrUnknownProvider is returned when a provider name is not registered.
var ErrUnknownProvider = errors.New("unknown provider")

// -----------------------------
// ProviderError
// -----------------------------

// ProviderError reports that a named provider failed an operation.
type ProviderError struct {
	Provider string
	Op       string
	Err      error
}

func NewProviderError(provider, op string, err error) *ProviderError {
	return &ProviderError{Provider: provider, Op: op, Err: err}
}

func (e *ProviderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("provider %s: %s failed: %v", e.Provider, e.Op, e.Err)
	}
	return fmt.Sprintf("provider %s: %s failed", e.Provider, e.Op)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

func IsProviderError(err error) bool {
	var target *ProviderError
	return errors.As(err, &target)
}

// -----------------------------
// NetworkError
// -----------------------------

// NetworkError is raised by providers when transport fails.
type NetworkError struct {
	Message string
	Cause   error
}

func NewNetworkError(message string, cause error) *NetworkError {
	return &NetworkError{Message: message, Cause: cause}
}

func (e *NetworkError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("network error: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("network error: %s", e.Message)
}

func (e *NetworkError) Unwrap() error {
	return e.Cause
}

func IsNetworkError(err error) bool {
	var target *NetworkError
	return errors.As(err, &target)
}

// -----------------------------
// ParseError
// -----------------------------

// ParseError is raised when provider data cannot be decoded.
type ParseError struct {
	Message string
	Cause   error
}

func NewParseError(message string, cause error) *ParseError {
	return &ParseError{Message: message, Cause: cause}
}

func (e *ParseError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("parse error: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("parse error: %s", e.Message)
}

func (e *ParseError) Unwrap() error {
	return e.Cause
}

func IsParseError(err error) bool {
	var target *ParseError
	return errors.As(err, &target)
}

// -----------------------------
// CircuitOpenError
// -----------------------------

// CircuitOpenError is returned without invoking the protected operation
// while a circuit breaker is open.
type CircuitOpenError struct {
	Name          string
	Failures      int
	RetryAfterMs  int64
	LastFailureMs int64
}

func (e *CircuitOpenError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("circuit open: %s (failures: %d, retry in %dms)", e.Name, e.Failures, e.RetryAfterMs)
	}
	return fmt.Sprintf("circuit open (failures: %d, retry in %dms)", e.Failures, e.RetryAfterMs)
}

func IsCircuitOpen(err error) bool {
	var target *CircuitOpenError
	return errors.As(err, &target)
}

// -----------------------------
// CacheError
// -----------------------------

// CacheError reports a local cache I/O failure. Callers treat it as a miss.
type CacheError struct {
	Op  string
	Key string
	Err error
}

func NewCacheError(op, key string, err error) *CacheError {
	return &CacheError{Op: op, Key: key, Err: err}
}

func (e *CacheError) Error() string {
	return fmt.Sprintf("cache %s %s: %v", e.Op, e.Key, e.Err)
}

func (e *CacheError) Unwrap() error {
	return e.Err
}

func IsCacheError(err error) bool {
	var target *CacheError
	return errors.As(err, &target)
}

// -----------------------------
// ConfigurationError
// -----------------------------

// ConfigurationError reports an invalid setup detected before any evaluation.
type ConfigurationError struct {
	Field   string
	Message string
}

func NewConfigurationError(field, message string) *ConfigurationError {
	return &ConfigurationError{Field: field, Message: message}
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error [%s]: %s", e.Field, e.Message)
}

func IsConfigurationError(err error) bool {
	var target *ConfigurationError
	return errors.As(err, &target)
}

// -----------------------------
// InvalidArgumentError
// -----------------------------

// InvalidArgumentError reports an argument outside its contract.
type InvalidArgumentError struct {
	Argument string
	Message  string
}

func NewInvalidArgumentError(argument, message string) *InvalidArgumentError {
	return &InvalidArgumentError{Argument: argument, Message: message}
}

func (e *InvalidArgumentError) Error() string {
	return fmt.Sprintf("invalid argument %s: %s", e.Argument, e.Message)
}

func IsInvalidArgument(err error) bool {
	var target *InvalidArgumentError
	return errors.As(err, &target)
}

package pennant

import (
	"errors"

	"github.com/OrlandoBitencourt/pennant/pkg/domain"
)

// Error types that may be returned by pennant operations. They are the
// pkg/domain types, re-exported.
type (
	ProviderError        = domain.ProviderError
	NetworkError         = domain.NetworkError
	ParseError           = domain.ParseError
	CircuitOpenError     = domain.CircuitOpenError
	CacheError           = domain.CacheError
	ConfigurationError   = domain.ConfigurationError
	InvalidArgumentError = domain.InvalidArgumentError
)

var (
	// ErrUnknownProvider is returned for a provider name that was never registered.
	ErrUnknownProvider = domain.ErrUnknownProvider

	// ErrClosed is returned by operations on a closed Manager.
	ErrClosed = errors.New("pennant: manager closed")

	// ErrAlreadyStarted is returned by a second call to Start.
	ErrAlreadyStarted = errors.New("pennant: manager already started")
)

var (
	IsProviderError      = domain.IsProviderError
	IsNetworkError       = domain.IsNetworkError
	IsParseError         = domain.IsParseError
	IsCircuitOpen        = domain.IsCircuitOpen
	IsCacheError         = domain.IsCacheError
	IsConfigurationError = domain.IsConfigurationError
	IsInvalidArgument    = domain.IsInvalidArgument
)

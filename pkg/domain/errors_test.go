package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestErrors_Error tests the message of every error type
func TestErrors_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantText string
	}{
		{"provider with cause", NewProviderError("remote", "refresh", errors.New("boom")), "provider remote: refresh failed: boom"},
		{"provider without cause", NewProviderError("remote", "bootstrap", nil), "provider remote: bootstrap failed"},
		{"network", NewNetworkError("request failed", nil), "network error: request failed"},
		{"network with cause", NewNetworkError("request failed", errors.New("reset")), "network error: request failed: reset"},
		{"parse", NewParseError("bad flag", errors.New("eof")), "parse error: bad flag: eof"},
		{"circuit named", &CircuitOpenError{Name: "remote", Failures: 3, RetryAfterMs: 500}, "circuit open: remote (failures: 3, retry in 500ms)"},
		{"circuit unnamed", &CircuitOpenError{Failures: 1, RetryAfterMs: 10}, "circuit open (failures: 1, retry in 10ms)"},
		{"cache", NewCacheError("load", "remote", errors.New("io")), "cache load remote: io"},
		{"configuration", NewConfigurationError("providers", "cannot be empty"), "configuration error [providers]: cannot be empty"},
		{"invalid argument", NewInvalidArgumentError("key", "cannot be empty"), "invalid argument key: cannot be empty"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantText, tt.err.Error())
		})
	}
}

// TestErrors_Classification tests the Is helpers through wrapping layers
func TestErrors_Classification(t *testing.T) {
	parse := NewParseError("bad snapshot", nil)
	network := NewNetworkError("request failed", errors.New("reset"))
	circuit := &CircuitOpenError{Name: "remote"}

	tests := []struct {
		name  string
		err   error
		is    func(error) bool
		wants bool
	}{
		{"parse direct", parse, IsParseError, true},
		{"parse in provider error", NewProviderError("remote", "refresh", parse), IsParseError, true},
		{"parse in fmt wrap of provider error", fmt.Errorf("sync: %w", NewProviderError("remote", "refresh", parse)), IsParseError, true},
		{"provider error detected", NewProviderError("remote", "refresh", parse), IsProviderError, true},
		{"network in provider error", NewProviderError("remote", "refresh", network), IsNetworkError, true},
		{"network is not parse", NewProviderError("remote", "refresh", network), IsParseError, false},
		{"circuit in provider error", NewProviderError("remote", "refresh", circuit), IsCircuitOpen, true},
		{"circuit is not network", circuit, IsNetworkError, false},
		{"cache wrapped", fmt.Errorf("load: %w", NewCacheError("load", "k", errors.New("io"))), IsCacheError, true},
		{"configuration wrapped", fmt.Errorf("new: %w", NewConfigurationError("f", "m")), IsConfigurationError, true},
		{"invalid argument wrapped", fmt.Errorf("set: %w", NewInvalidArgumentError("key", "m")), IsInvalidArgument, true},
		{"nil error", nil, IsProviderError, false},
		{"plain error", errors.New("x"), IsParseError, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wants, tt.is(tt.err))
		})
	}
}

// TestProviderError_As tests extracting the cause and the provider through wrapping
func TestProviderError_As(t *testing.T) {
	cause := NewParseError("bad snapshot", errors.New("unexpected end of JSON input"))
	err := fmt.Errorf("refresh: %w", NewProviderError("remote", "refresh", cause))

	var pe *ParseError
	require.True(t, errors.As(err, &pe))
	assert.Same(t, cause, pe)

	var provErr *ProviderError
	require.True(t, errors.As(err, &provErr))
	assert.Equal(t, "remote", provErr.Provider)
	assert.Equal(t, "refresh", provErr.Op)
	assert.ErrorIs(t, err, cause)
}

// TestErrors_Unwrap tests that causes are exposed to errors.Is
func TestErrors_Unwrap(t *testing.T) {
	root := errors.New("root")

	assert.ErrorIs(t, NewProviderError("p", "op", root), root)
	assert.ErrorIs(t, NewNetworkError("m", root), root)
	assert.ErrorIs(t, NewParseError("m", root), root)
	assert.ErrorIs(t, NewCacheError("save", "k", root), root)
	assert.Nil(t, NewNetworkError("m", nil).Unwrap())
}

// TestErrUnknownProvider tests sentinel matching through wrapping
func TestErrUnknownProvider(t *testing.T) {
	err := fmt.Errorf("%w: %s", ErrUnknownProvider, "remote")

	assert.ErrorIs(t, err, ErrUnknownProvider)
	assert.ErrorIs(t, NewProviderError("remote", "refresh", err), ErrUnknownProvider)
	assert.False(t, IsProviderError(err))
}

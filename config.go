package pennant

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/OrlandoBitencourt/pennant/pkg/cache"
	"github.com/OrlandoBitencourt/pennant/pkg/circuit"
	"github.com/OrlandoBitencourt/pennant/pkg/domain"
	"github.com/OrlandoBitencourt/pennant/pkg/provider"
	"github.com/OrlandoBitencourt/pennant/pkg/realtime"
	"github.com/OrlandoBitencourt/pennant/pkg/retry"
)

// Config holds all configuration for a Manager.
type Config struct {
	Settings

	// Providers in precedence order: for any key, the first provider whose
	// snapshot carries it wins.
	Providers []provider.FlagsProvider

	// Cache persists the last good snapshot per provider. Optional.
	Cache cache.FlagsCache

	// Defaults are used when no override, snapshot or provider resolves a
	// key and the caller supplied no default of its own.
	Defaults map[string]domain.FlagValue

	// Experiments are built-in definitions consulted after every provider.
	Experiments []domain.ExperimentDefinition
}

// Settings are the scalar knobs of a Manager. They can be loaded from the
// environment with ConfigFromEnv.
type Settings struct {
	// RefreshInterval is the period of the background refresh started by
	// Start. Zero disables periodic refresh.
	RefreshInterval time.Duration `env:"PENNANT_REFRESH_INTERVAL"`

	// BootstrapTimeout bounds the EnsureBootstrap call made by Start.
	BootstrapTimeout time.Duration `env:"PENNANT_BOOTSTRAP_TIMEOUT"`

	// FetchTimeout bounds a single provider fetch, retries included.
	FetchTimeout time.Duration `env:"PENNANT_FETCH_TIMEOUT"`

	// Circuit breaker, one per provider
	CircuitEnabled          bool          `env:"PENNANT_CIRCUIT_ENABLED"`
	CircuitFailureThreshold int           `env:"PENNANT_CIRCUIT_FAILURE_THRESHOLD"`
	CircuitSuccessThreshold int           `env:"PENNANT_CIRCUIT_SUCCESS_THRESHOLD"`
	CircuitTimeout          time.Duration `env:"PENNANT_CIRCUIT_TIMEOUT"`

	// Retry. A single attempt disables retrying.
	RetryMaxAttempts  int           `env:"PENNANT_RETRY_MAX_ATTEMPTS"`
	RetryInitialDelay time.Duration `env:"PENNANT_RETRY_INITIAL_DELAY"`
	RetryMaxDelay     time.Duration `env:"PENNANT_RETRY_MAX_DELAY"`
	RetryFactor       float64       `env:"PENNANT_RETRY_FACTOR"`

	// Realtime streaming for providers that support it
	RealtimeEnabled      bool          `env:"PENNANT_REALTIME_ENABLED"`
	RealtimeInitialDelay time.Duration `env:"PENNANT_REALTIME_INITIAL_DELAY"`
	RealtimeMaxDelay     time.Duration `env:"PENNANT_REALTIME_MAX_DELAY"`
	RealtimeMultiplier   float64       `env:"PENNANT_REALTIME_MULTIPLIER"`

	// ListenerTimeout caps how long one listener callback may hold up the
	// others. Zero waits indefinitely.
	ListenerTimeout time.Duration `env:"PENNANT_LISTENER_TIMEOUT"`

	// LogLevel is used when the manager builds its own logger (WithLogLevel).
	LogLevel string `env:"PENNANT_LOG_LEVEL"`
}

// DefaultConfig returns sensible default configuration
func DefaultConfig() Config {
	breaker := circuit.DefaultConfig()
	backoff := realtime.DefaultConfig()
	exp := retry.DefaultExponential()

	return Config{
		Settings: Settings{
			RefreshInterval:  5 * time.Minute,
			BootstrapTimeout: 10 * time.Second,
			FetchTimeout:     5 * time.Second,

			CircuitEnabled:          true,
			CircuitFailureThreshold: breaker.FailureThreshold,
			CircuitSuccessThreshold: breaker.SuccessThreshold,
			CircuitTimeout:          breaker.Timeout,

			RetryMaxAttempts:  1,
			RetryInitialDelay: exp.InitialDelay,
			RetryMaxDelay:     exp.MaxDelay,
			RetryFactor:       exp.Factor,

			RealtimeInitialDelay: backoff.InitialDelay,
			RealtimeMaxDelay:     backoff.MaxDelay,
			RealtimeMultiplier:   backoff.Multiplier,

			ListenerTimeout: 5 * time.Second,
			LogLevel:        "info",
		},
	}
}

// ConfigFromEnv returns DefaultConfig with any PENNANT_* variables applied.
// Providers, cache, defaults and experiments still have to be set in code.
func ConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()
	if err := env.Parse(&cfg.Settings); err != nil {
		return Config{}, domain.NewConfigurationError("env", err.Error())
	}
	return cfg, nil
}

// Validate checks if the configuration is valid
func (c Config) Validate() error {
	if len(c.Providers) == 0 {
		return domain.NewConfigurationError("providers", "at least one provider is required")
	}

	names := make(map[string]struct{}, len(c.Providers))
	for i, p := range c.Providers {
		if p == nil {
			return domain.NewConfigurationError("providers", fmt.Sprintf("provider %d is nil", i))
		}
		name := p.Name()
		if name == "" {
			return domain.NewConfigurationError("providers", fmt.Sprintf("provider %d has an empty name", i))
		}
		if _, dup := names[name]; dup {
			return domain.NewConfigurationError("providers", fmt.Sprintf("duplicate provider name %q", name))
		}
		names[name] = struct{}{}
	}

	keys := make(map[string]struct{}, len(c.Experiments))
	for _, exp := range c.Experiments {
		if err := exp.Validate(); err != nil {
			return err
		}
		if _, dup := keys[exp.Key]; dup {
			return domain.NewConfigurationError("experiments", fmt.Sprintf("duplicate experiment key %q", exp.Key))
		}
		if _, clash := c.Defaults[exp.Key]; clash {
			return domain.NewConfigurationError("experiments",
				fmt.Sprintf("key %q is both a flag default and an experiment", exp.Key))
		}
		keys[exp.Key] = struct{}{}
	}

	return c.Settings.Validate()
}

// Validate checks the scalar settings.
func (s Settings) Validate() error {
	if s.RefreshInterval < 0 {
		return domain.NewConfigurationError("refresh_interval", "must not be negative")
	}
	if s.BootstrapTimeout <= 0 {
		return domain.NewConfigurationError("bootstrap_timeout", "must be positive")
	}
	if s.FetchTimeout <= 0 {
		return domain.NewConfigurationError("fetch_timeout", "must be positive")
	}

	if s.CircuitEnabled {
		if s.CircuitFailureThreshold <= 0 {
			return domain.NewConfigurationError("circuit_failure_threshold", "must be positive")
		}
		if s.CircuitSuccessThreshold <= 0 {
			return domain.NewConfigurationError("circuit_success_threshold", "must be positive")
		}
		if s.CircuitTimeout <= 0 {
			return domain.NewConfigurationError("circuit_timeout", "must be positive")
		}
	}

	if s.RetryMaxAttempts < 1 {
		return domain.NewConfigurationError("retry_max_attempts", "must be at least 1")
	}
	if s.RetryMaxAttempts > 1 {
		if s.RetryInitialDelay <= 0 {
			return domain.NewConfigurationError("retry_initial_delay", "must be positive")
		}
		if s.RetryFactor < 1 {
			return domain.NewConfigurationError("retry_factor", "must be at least 1")
		}
	}

	if s.RealtimeEnabled {
		if s.RealtimeInitialDelay <= 0 {
			return domain.NewConfigurationError("realtime_initial_delay", "must be positive")
		}
		if s.RealtimeMultiplier < 1 {
			return domain.NewConfigurationError("realtime_multiplier", "must be at least 1")
		}
	}

	if s.ListenerTimeout < 0 {
		return domain.NewConfigurationError("listener_timeout", "must not be negative")
	}

	return nil
}

func (s Settings) retryPolicy() retry.Policy {
	if s.RetryMaxAttempts <= 1 {
		return retry.NoRetry{}
	}
	return retry.Exponential{
		Attempts:     s.RetryMaxAttempts,
		InitialDelay: s.RetryInitialDelay,
		MaxDelay:     s.RetryMaxDelay,
		Factor:       s.RetryFactor,
	}
}

func (s Settings) realtimeConfig() realtime.Config {
	return realtime.Config{
		InitialDelay: s.RealtimeInitialDelay,
		MaxDelay:     s.RealtimeMaxDelay,
		Multiplier:   s.RealtimeMultiplier,
	}
}

package realtime

import "time"

// Backoff yields reconnect delays: InitialDelay, then each delay multiplied
// by Multiplier, capped at MaxDelay. Reset returns to InitialDelay.
// A Backoff is owned by one loop and is not safe for concurrent use.
type Backoff struct {
	initial    time.Duration
	max        time.Duration
	multiplier float64
	current    time.Duration
}

// NewBackoff builds a Backoff from cfg after applying defaults.
func NewBackoff(cfg Config) *Backoff {
	cfg = cfg.withDefaults()
	return &Backoff{
		initial:    cfg.InitialDelay,
		max:        cfg.MaxDelay,
		multiplier: cfg.Multiplier,
		current:    cfg.InitialDelay,
	}
}

// Next returns the delay to wait now and advances the sequence.
func (b *Backoff) Next() time.Duration {
	d := b.current
	next := time.Duration(float64(b.current) * b.multiplier)
	if next > b.max || next < b.current {
		next = b.max
	}
	b.current = next
	return d
}

// Reset restarts the sequence at the initial delay.
func (b *Backoff) Reset() {
	b.current = b.initial
}

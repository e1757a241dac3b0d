package cache

import (
	"github.com/OrlandoBitencourt/pennant/pkg/codec"
)

// Option configures the persistent backends (DiskCache, RedisCache).
type Option func(*persistOptions)

type persistOptions struct {
	serializer codec.Serializer
	signer     codec.Signer
	verifier   codec.Verifier
}

func defaultPersistOptions() persistOptions {
	return persistOptions{serializer: codec.JSONSerializer{}}
}

func applyOptions(opts []Option) persistOptions {
	o := defaultPersistOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithSerializer replaces the default JSON serializer.
func WithSerializer(s codec.Serializer) Option {
	return func(o *persistOptions) {
		if s != nil {
			o.serializer = s
		}
	}
}

// WithHMAC signs saved snapshots and rejects loaded ones whose signature
// does not verify under key.
func WithHMAC(key []byte) Option {
	signer := codec.NewHMACSigner(key)
	return func(o *persistOptions) {
		o.signer = signer
		o.verifier = signer
	}
}

// WithSigning installs a custom signer and verifier pair.
func WithSigning(signer codec.Signer, verifier codec.Verifier) Option {
	return func(o *persistOptions) {
		o.signer = signer
		o.verifier = verifier
	}
}

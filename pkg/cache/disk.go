package cache

import (
	"context"
	"errors"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/OrlandoBitencourt/pennant/pkg/codec"
	"github.com/OrlandoBitencourt/pennant/pkg/domain"
)

const snapshotExt = ".snapshot.json"

// DiskCache persists one file per provider under a directory. Snapshots are
// returned regardless of TTL: on disk they are the last known good data.
type DiskCache struct {
	dir    string
	opts   persistOptions
	tracer trace.Tracer
	mu     sync.RWMutex
}

// NewDiskCache creates dir if needed.
func NewDiskCache(dir string, opts ...Option) (*DiskCache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, domain.NewCacheError("init", dir, err)
	}

	return &DiskCache{
		dir:    dir,
		opts:   applyOptions(opts),
		tracer: otel.Tracer("pennant.cache.disk"),
	}, nil
}

func (d *DiskCache) filePath(provider string) string {
	return filepath.Join(d.dir, url.PathEscape(provider)+snapshotExt)
}

func (d *DiskCache) Save(ctx context.Context, provider string, snapshot domain.ProviderSnapshot) error {
	ctx, span := d.tracer.Start(ctx, "disk.save", trace.WithAttributes(attribute.String("provider", provider)))
	defer span.End()

	if err := checkContext(ctx, "save", provider); err != nil {
		return err
	}

	data, err := codec.Seal(d.opts.serializer, d.opts.signer, snapshot)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return domain.NewCacheError("save", provider, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	// write then rename so a crash never leaves a torn file behind
	tmp, err := os.CreateTemp(d.dir, ".tmp-*")
	if err != nil {
		return domain.NewCacheError("save", provider, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return domain.NewCacheError("save", provider, err)
	}
	if err := tmp.Close(); err != nil {
		return domain.NewCacheError("save", provider, err)
	}
	if err := os.Rename(tmp.Name(), d.filePath(provider)); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return domain.NewCacheError("save", provider, err)
	}

	span.SetAttributes(attribute.Int("flags.count", len(snapshot.Flags)))
	return nil
}

func (d *DiskCache) Load(ctx context.Context, provider string) (*domain.ProviderSnapshot, error) {
	ctx, span := d.tracer.Start(ctx, "disk.load", trace.WithAttributes(attribute.String("provider", provider)))
	defer span.End()

	if err := checkContext(ctx, "load", provider); err != nil {
		return nil, err
	}

	d.mu.RLock()
	data, err := os.ReadFile(d.filePath(provider))
	d.mu.RUnlock()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, domain.NewCacheError("load", provider, err)
	}

	s, err := codec.Open(d.opts.serializer, d.opts.verifier, data)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, domain.NewCacheError("load", provider, err)
	}

	span.SetAttributes(attribute.Int("flags.loaded", len(s.Flags)))
	return &s, nil
}

func (d *DiskCache) Clear(ctx context.Context, provider string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := os.Remove(d.filePath(provider)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return domain.NewCacheError("clear", provider, err)
	}
	return nil
}

func (d *DiskCache) ClearAll(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	entries, err := os.ReadDir(d.dir)
	if err != nil {
		return domain.NewCacheError("clear_all", "", err)
	}

	for _, e := range entries {
		if strings.HasSuffix(e.Name(), snapshotExt) {
			os.Remove(filepath.Join(d.dir, e.Name()))
		}
	}
	return nil
}

// Providers lists the provider names with a file on disk.
func (d *DiskCache) Providers() ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	entries, err := os.ReadDir(d.dir)
	if err != nil {
		return nil, domain.NewCacheError("list", "", err)
	}

	var names []string
	for _, e := range entries {
		escaped, ok := strings.CutSuffix(e.Name(), snapshotExt)
		if !ok {
			continue
		}
		if name, err := url.PathUnescape(escaped); err == nil {
			names = append(names, name)
		}
	}
	return names, nil
}

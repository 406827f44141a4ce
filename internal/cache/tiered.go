package cache

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/cloo-solutions/servicechunks/internal/metrics"
)

// Tiered reads the local TTL cache first and falls back to a shared Remote.
// Remote failures are logged and treated as misses.
type Tiered[V any] struct {
	local  *TTL[V]
	remote Remote
	logger *zap.Logger
}

// NewTiered creates a tiered cache. remote may be nil.
func NewTiered[V any](local *TTL[V], remote Remote, logger *zap.Logger) *Tiered[V] {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tiered[V]{local: local, remote: remote, logger: logger}
}

// Get looks key up in both levels; a remote hit refills the local level
func (t *Tiered[V]) Get(ctx context.Context, key string) (V, bool) {
	if v, ok := t.local.Get(key); ok {
		metrics.CacheLookups.WithLabelValues(t.local.Name(), "hit").Inc()
		return v, true
	}

	if t.remote != nil {
		var v V
		found, err := t.remote.Get(ctx, key, &v)
		if err != nil {
			t.logger.Warn("remote cache get failed", zap.String("cache", t.local.Name()), zap.Error(err))
		}
		if found {
			t.local.Set(key, v)
			metrics.CacheLookups.WithLabelValues(t.local.Name(), "remote_hit").Inc()
			return v, true
		}
	}

	metrics.CacheLookups.WithLabelValues(t.local.Name(), "miss").Inc()
	var zero V
	return zero, false
}

// Set writes both levels
func (t *Tiered[V]) Set(ctx context.Context, key string, value V) {
	t.local.Set(key, value)
	if t.remote == nil {
		return
	}
	if err := t.remote.Set(ctx, key, value, t.local.TTL()); err != nil {
		t.logger.Warn("remote cache set failed", zap.String("cache", t.local.Name()), zap.Error(err))
	}
}

// Key joins normalized key parts
func Key(parts ...string) string {
	norm := make([]string, len(parts))
	for i, p := range parts {
		norm[i] = strings.ToLower(strings.TrimSpace(p))
	}
	return strings.Join(norm, "|")
}

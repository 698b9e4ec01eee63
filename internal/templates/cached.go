package templates

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/kiranshivaraju/enaupload/internal/cache"
)

// Cache is the subset of cache.Cache the template store uses.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// CachedStore keeps decoded templates in a shared cache so that object
// storage is hit at most once per TTL. Cache failures fall through to the
// underlying store.
type CachedStore struct {
	inner  Store
	cache  Cache
	ttl    time.Duration
	logger *slog.Logger
}

func NewCachedStore(inner Store, c Cache, ttl time.Duration, logger *slog.Logger) *CachedStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedStore{inner: inner, cache: c, ttl: ttl, logger: logger}
}

func (s *CachedStore) Load(ctx context.Context, name string) (map[string]any, error) {
	if err := validName(name); err != nil {
		return nil, err
	}
	key := cache.TemplateKey(name)

	raw, found, err := s.cache.Get(ctx, key)
	if err != nil {
		s.logger.Warn("template cache read failed", "template", name, "error", err)
	} else if found {
		var doc map[string]any
		if err := json.Unmarshal(raw, &doc); err == nil {
			return doc, nil
		}
		s.logger.Warn("discarding corrupt cached template", "template", name)
	}

	doc, err := s.inner.Load(ctx, name)
	if err != nil {
		return nil, err
	}

	if raw, err := json.Marshal(doc); err == nil {
		if err := s.cache.Set(ctx, key, raw, s.ttl); err != nil {
			s.logger.Warn("template cache write failed", "template", name, "error", err)
		}
	}
	return doc, nil
}

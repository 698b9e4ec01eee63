package templates

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mapCache struct {
	mu     sync.Mutex
	data   map[string][]byte
	getErr error
}

func newMapCache() *mapCache {
	return &mapCache{data: map[string][]byte{}}
}

func (c *mapCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.getErr != nil {
		return nil, false, c.getErr
	}
	v, ok := c.data[key]
	return v, ok, nil
}

func (c *mapCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
	return nil
}

type countingStore struct {
	Store
	loads int
}

func (s *countingStore) Load(ctx context.Context, name string) (map[string]any, error) {
	s.loads++
	return s.Store.Load(ctx, name)
}

func TestCachedStore_LoadsOnce(t *testing.T) {
	inner := &countingStore{Store: NewMemoryStore(map[string]map[string]any{
		"default": {"center_name": "UNI", "study": map[string]any{"alias": "s-{}"}},
	})}
	c := newMapCache()
	s := NewCachedStore(inner, c, time.Minute, nil)

	first, err := s.Load(context.Background(), "default")
	require.NoError(t, err)
	second, err := s.Load(context.Background(), "default")
	require.NoError(t, err)

	assert.Equal(t, 1, inner.loads)
	assert.Equal(t, first, second)
	assert.Equal(t, "s-{}", second["study"].(map[string]any)["alias"])
	assert.Contains(t, c.data, "template:default")
}

func TestCachedStore_CacheErrorFallsThrough(t *testing.T) {
	inner := &countingStore{Store: NewMemoryStore(map[string]map[string]any{"default": {"checklist": "ERC1"}})}
	c := newMapCache()
	c.getErr = errors.New("redis down")
	s := NewCachedStore(inner, c, time.Minute, nil)

	doc, err := s.Load(context.Background(), "default")
	require.NoError(t, err)
	assert.Equal(t, "ERC1", doc["checklist"])
	assert.Equal(t, 1, inner.loads)
}

func TestCachedStore_CorruptEntryReloaded(t *testing.T) {
	inner := &countingStore{Store: NewMemoryStore(map[string]map[string]any{"default": {"checklist": "ERC1"}})}
	c := newMapCache()
	c.data["template:default"] = []byte("{not json")
	s := NewCachedStore(inner, c, time.Minute, nil)

	doc, err := s.Load(context.Background(), "default")
	require.NoError(t, err)
	assert.Equal(t, "ERC1", doc["checklist"])
	assert.JSONEq(t, `{"checklist":"ERC1"}`, string(c.data["template:default"]))
}

func TestCachedStore_NotFoundNotCached(t *testing.T) {
	c := newMapCache()
	s := NewCachedStore(NewMemoryStore(nil), c, time.Minute, nil)

	_, err := s.Load(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrTemplateNotFound)
	assert.Empty(t, c.data)

	_, err = s.Load(context.Background(), "../etc/passwd")
	assert.ErrorIs(t, err, ErrTemplateNotFound)
}

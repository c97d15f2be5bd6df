package storage

import (
	"context"
	"sort"
	"sync"
)

// CacheKV buffers writes on top of a parent store. Reads see the buffered
// writes first. Write flushes them to the parent; dropping the cache
// discards them. Caches nest, which is how the host branches state for a
// submessage and throws the branch away when it fails.
type CacheKV struct {
	parent KV

	mu sync.Mutex
	// nil value marks a deleted key
	dirty map[string][]byte
}

var _ KV = (*CacheKV)(nil)

func NewCacheKV(parent KV) *CacheKV {
	return &CacheKV{parent: parent, dirty: make(map[string][]byte)}
}

func (c *CacheKV) Get(ctx context.Context, key []byte) ([]byte, bool, error) {
	c.mu.Lock()
	v, ok := c.dirty[string(key)]
	c.mu.Unlock()
	if ok {
		if v == nil {
			return nil, false, nil
		}
		return clone(v), true, nil
	}
	return c.parent.Get(ctx, key)
}

func (c *CacheKV) Set(_ context.Context, key, value []byte) error {
	if value == nil {
		value = []byte{}
	}
	c.mu.Lock()
	c.dirty[string(key)] = clone(value)
	c.mu.Unlock()
	return nil
}

func (c *CacheKV) Delete(_ context.Context, key []byte) error {
	c.mu.Lock()
	c.dirty[string(key)] = nil
	c.mu.Unlock()
	return nil
}

// Iterate merges the parent's view with buffered writes. The merged view is
// materialized before fn runs, so fn may write to the cache.
func (c *CacheKV) Iterate(ctx context.Context, prefix []byte, fn func(key, value []byte) error) error {
	merged := make(map[string][]byte)
	err := c.parent.Iterate(ctx, prefix, func(key, value []byte) error {
		merged[string(key)] = clone(value)
		return nil
	})
	if err != nil {
		return err
	}

	p := string(prefix)
	c.mu.Lock()
	for k, v := range c.dirty {
		if len(k) < len(p) || k[:len(p)] != p {
			continue
		}
		if v == nil {
			delete(merged, k)
			continue
		}
		merged[k] = clone(v)
	}
	c.mu.Unlock()

	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := fn([]byte(k), merged[k]); err != nil {
			return err
		}
	}
	return nil
}

// Write flushes buffered writes to the parent in key order and resets the
// cache.
func (c *CacheKV) Write(ctx context.Context) error {
	c.mu.Lock()
	ops := make([]Op, 0, len(c.dirty))
	for k, v := range c.dirty {
		ops = append(ops, Op{Key: []byte(k), Value: v})
	}
	c.dirty = make(map[string][]byte)
	c.mu.Unlock()

	if len(ops) == 0 {
		return nil
	}
	sort.Slice(ops, func(i, j int) bool { return string(ops[i].Key) < string(ops[j].Key) })
	return ApplyBatch(ctx, c.parent, ops)
}

// Len is the number of buffered writes.
func (c *CacheKV) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.dirty)
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

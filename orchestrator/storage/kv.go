// Package storage provides the durable key/value slots contracts persist
// their state in, plus the branch-and-commit cache the host wraps around
// every message so a failed call leaves no trace.
package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned by typed accessors when a key is absent.
var ErrNotFound = errors.New("not found")

// KV is an ordered byte key/value store.
type KV interface {
	// Get returns the value under key and whether it exists.
	Get(ctx context.Context, key []byte) ([]byte, bool, error)
	Set(ctx context.Context, key, value []byte) error
	Delete(ctx context.Context, key []byte) error
	// Iterate visits every key starting with prefix in ascending byte order.
	// fn may write to the store.
	Iterate(ctx context.Context, prefix []byte, fn func(key, value []byte) error) error
}

// Op is a single write in a batch. A nil Value deletes the key.
type Op struct {
	Key   []byte
	Value []byte
}

// Batcher is implemented by stores that can apply several writes atomically.
type Batcher interface {
	WriteBatch(ctx context.Context, ops []Op) error
}

// ApplyBatch writes ops atomically when kv supports it, one by one otherwise.
func ApplyBatch(ctx context.Context, kv KV, ops []Op) error {
	if b, ok := kv.(Batcher); ok {
		return b.WriteBatch(ctx, ops)
	}
	for _, op := range ops {
		var err error
		if op.Value == nil {
			err = kv.Delete(ctx, op.Key)
		} else {
			err = kv.Set(ctx, op.Key, op.Value)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// prefixEnd returns the smallest key greater than every key with the given
// prefix, or nil when no such key exists.
func prefixEnd(prefix []byte) []byte {
	end := make([]byte, len(prefix))
	copy(end, prefix)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xff {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}

// Prefixed scopes a store to a namespace. Keys seen by the caller never
// include the namespace.
type Prefixed struct {
	parent KV
	prefix []byte
}

var _ KV = (*Prefixed)(nil)

func NewPrefixed(parent KV, prefix string) *Prefixed {
	return &Prefixed{parent: parent, prefix: []byte(prefix)}
}

func (p *Prefixed) key(k []byte) []byte {
	out := make([]byte, 0, len(p.prefix)+len(k))
	out = append(out, p.prefix...)
	return append(out, k...)
}

func (p *Prefixed) Get(ctx context.Context, key []byte) ([]byte, bool, error) {
	return p.parent.Get(ctx, p.key(key))
}

func (p *Prefixed) Set(ctx context.Context, key, value []byte) error {
	return p.parent.Set(ctx, p.key(key), value)
}

func (p *Prefixed) Delete(ctx context.Context, key []byte) error {
	return p.parent.Delete(ctx, p.key(key))
}

func (p *Prefixed) Iterate(ctx context.Context, prefix []byte, fn func(key, value []byte) error) error {
	n := len(p.prefix)
	return p.parent.Iterate(ctx, p.key(prefix), func(key, value []byte) error {
		return fn(key[n:], value)
	})
}

func (p *Prefixed) WriteBatch(ctx context.Context, ops []Op) error {
	scoped := make([]Op, len(ops))
	for i, op := range ops {
		scoped[i] = Op{Key: p.key(op.Key), Value: op.Value}
	}
	return ApplyBatch(ctx, p.parent, scoped)
}

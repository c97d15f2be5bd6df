package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Item is a single JSON encoded value stored under a fixed key.
type Item[T any] struct {
	key []byte
}

func NewItem[T any](key string) Item[T] {
	return Item[T]{key: []byte(key)}
}

// Load returns the stored value or ErrNotFound.
func (i Item[T]) Load(ctx context.Context, kv KV) (T, error) {
	v, ok, err := i.May(ctx, kv)
	if err != nil {
		return v, err
	}
	if !ok {
		return v, fmt.Errorf("%s: %w", i.key, ErrNotFound)
	}
	return v, nil
}

// May returns the stored value and whether it was present.
func (i Item[T]) May(ctx context.Context, kv KV) (T, bool, error) {
	var v T
	raw, ok, err := kv.Get(ctx, i.key)
	if err != nil || !ok {
		return v, false, err
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, false, fmt.Errorf("decode %s: %w", i.key, err)
	}
	return v, true, nil
}

func (i Item[T]) Save(ctx context.Context, kv KV, v T) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", i.key, err)
	}
	return kv.Set(ctx, i.key, raw)
}

func (i Item[T]) Remove(ctx context.Context, kv KV) error {
	return kv.Delete(ctx, i.key)
}

// Map stores JSON encoded values under a namespace, keyed by strings.
// Callers that need ordered iteration should encode keys so that their
// byte order matches the wanted order.
type Map[T any] struct {
	namespace string
}

func NewMap[T any](namespace string) Map[T] {
	return Map[T]{namespace: namespace}
}

func (m Map[T]) key(k string) []byte {
	return []byte(m.namespace + "\x00" + k)
}

func (m Map[T]) Load(ctx context.Context, kv KV, k string) (T, error) {
	v, ok, err := m.May(ctx, kv, k)
	if err != nil {
		return v, err
	}
	if !ok {
		return v, fmt.Errorf("%s[%s]: %w", m.namespace, k, ErrNotFound)
	}
	return v, nil
}

func (m Map[T]) May(ctx context.Context, kv KV, k string) (T, bool, error) {
	var v T
	raw, ok, err := kv.Get(ctx, m.key(k))
	if err != nil || !ok {
		return v, false, err
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, false, fmt.Errorf("decode %s[%s]: %w", m.namespace, k, err)
	}
	return v, true, nil
}

func (m Map[T]) Has(ctx context.Context, kv KV, k string) (bool, error) {
	_, ok, err := kv.Get(ctx, m.key(k))
	return ok, err
}

func (m Map[T]) Save(ctx context.Context, kv KV, k string, v T) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s[%s]: %w", m.namespace, k, err)
	}
	return kv.Set(ctx, m.key(k), raw)
}

func (m Map[T]) Remove(ctx context.Context, kv KV, k string) error {
	return kv.Delete(ctx, m.key(k))
}

var errStop = errors.New("stop")

// Range visits entries in key order until fn returns false.
func (m Map[T]) Range(ctx context.Context, kv KV, fn func(k string, v T) bool) error {
	prefix := m.namespace + "\x00"
	err := kv.Iterate(ctx, []byte(prefix), func(key, raw []byte) error {
		var v T
		if err := json.Unmarshal(raw, &v); err != nil {
			return fmt.Errorf("decode %s: %w", key, err)
		}
		if !fn(strings.TrimPrefix(string(key), prefix), v) {
			return errStop
		}
		return nil
	})
	if errors.Is(err, errStop) {
		return nil
	}
	return err
}

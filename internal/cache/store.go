package cache

import (
	"context"
	"encoding/json"
	"time"
)

// Entry is a serialized value held by a durable Store.
type Entry struct {
	Value     []byte
	ExpiresAt time.Time
}

// Store is the optional durable tier behind the in-memory cache.
type Store interface {
	Get(ctx context.Context, key string) (Entry, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// NopStore keeps nothing.
type NopStore struct{}

func (NopStore) Get(context.Context, string) (Entry, bool, error) { return Entry{}, false, nil }
func (NopStore) Set(context.Context, string, []byte, time.Duration) error { return nil }
func (NopStore) Delete(context.Context, string) error { return nil }

// Codec serializes values for a Store.
type Codec[V any] interface {
	Marshal(V) ([]byte, error)
	Unmarshal([]byte) (V, error)
}

type JSONCodec[V any] struct{}

func (JSONCodec[V]) Marshal(v V) ([]byte, error) {
	return json.Marshal(v)
}

func (JSONCodec[V]) Unmarshal(data []byte) (V, error) {
	var v V
	err := json.Unmarshal(data, &v)
	return v, err
}

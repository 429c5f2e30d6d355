package cache

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Memory is an in-process Cache bounded by entry count and entry age.
type Memory struct {
	lru *expirable.LRU[string, []byte]
}

// NewMemory creates an in-memory cache holding at most size entries, each
// expiring ttl after it was set. A zero ttl disables expiry.
func NewMemory(size int, ttl time.Duration) *Memory {
	return &Memory{lru: expirable.NewLRU[string, []byte](size, nil, ttl)}
}

func (m *Memory) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if key == "" {
		return nil, false, ErrEmptyKey
	}
	v, ok := m.lru.Get(key)
	return v, ok, nil
}

func (m *Memory) Set(ctx context.Context, key string, value []byte) error {
	if key == "" {
		return ErrEmptyKey
	}
	m.lru.Add(key, value)
	return nil
}

func (m *Memory) Delete(ctx context.Context, key string) error {
	if key == "" {
		return ErrEmptyKey
	}
	m.lru.Remove(key)
	return nil
}

func (m *Memory) Close() error {
	return nil
}

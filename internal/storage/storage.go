// Package storage is the keyed storage substrate shared by every
// execution context. It is partitioned into a durable area and a
// session-scoped area that is cleared when the host restarts.
//
// Stores are atomic per key but not transactional across keys; callers
// treat every value as read-modify-write with last writer wins.
package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/goccy/go-json"
)

// Keys shared by the pipeline.
const (
	KeyClientID       = "client_id"
	KeySessionData    = "session_data"
	KeyUserProperties = "user_properties"
	KeyErrorBackup    = "error_backup"
)

// ErrNotFound is returned by Get when the key is absent.
var ErrNotFound = errors.New("storage: key not found")

// Store is an async get/set/remove keyed store.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Remove(ctx context.Context, key string) error
}

// Areas groups the two storage partitions.
type Areas struct {
	// Durable survives restarts.
	Durable Store
	// Session is cleared when the host restarts.
	Session Store
}

// NewMemoryAreas returns Areas backed by two independent in-memory stores.
func NewMemoryAreas() Areas {
	return Areas{Durable: NewMemory(), Session: NewMemory()}
}

// GetJSON loads key and decodes it into v.
func GetJSON(ctx context.Context, s Store, key string, v any) error {
	data, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

// SetJSON encodes v and stores it under key.
func SetJSON(ctx context.Context, s Store, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return s.Set(ctx, key, data)
}

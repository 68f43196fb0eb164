// Package kv defines the persistent key-value contract the sync queue
// serializes its state into, plus a few ready-made implementations.
// Values are opaque strings; callers own the encoding.
package kv

import "errors"

// ErrNotFound is returned by Get when no value is stored under the key.
var ErrNotFound = errors.New("no value stored for key")

// Store is a minimal durable key-value store.
type Store interface {
	Get(key string) (string, error)
	Set(key string, value string) error
	Remove(key string) error
}

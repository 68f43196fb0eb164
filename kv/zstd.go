package kv

import (
	"encoding/base64"
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// ZstdStore wraps another Store and zstd-compresses values before they
// are written. Queue snapshots are rewritten in full on every mutation,
// so compression keeps large backlogs cheap on flash storage. The
// compressed bytes are base64 encoded to stay within the opaque-string
// contract.
type ZstdStore struct {
	inner   Store
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// NewZstdStore ...
func NewZstdStore(inner Store) (*ZstdStore, error) {
	encoder, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	return &ZstdStore{inner: inner, encoder: encoder, decoder: decoder}, nil
}

// Get ...
func (s *ZstdStore) Get(key string) (string, error) {
	stored, err := s.inner.Get(key)
	if err != nil {
		return "", err
	}
	compressed, err := base64.StdEncoding.DecodeString(stored)
	if err != nil {
		return "", fmt.Errorf("decode stored value: %w", err)
	}
	value, err := s.decoder.DecodeAll(compressed, nil)
	if err != nil {
		return "", fmt.Errorf("decompress stored value: %w", err)
	}
	return string(value), nil
}

// Set ...
func (s *ZstdStore) Set(key, value string) error {
	compressed := s.encoder.EncodeAll([]byte(value), nil)
	return s.inner.Set(key, base64.StdEncoding.EncodeToString(compressed))
}

// Remove ...
func (s *ZstdStore) Remove(key string) error {
	return s.inner.Remove(key)
}

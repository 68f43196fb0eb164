package kv

import (
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
)

// FileStore persists each key as a separate file under a base directory.
// Writes go through a temp file and rename so a crash mid-write never
// leaves a truncated value behind.
type FileStore struct {
	baseDir string
}

// NewFileStore creates the base directory if needed.
func NewFileStore(baseDir string) (*FileStore, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("create base directory: %w", err)
	}
	return &FileStore{baseDir: baseDir}, nil
}

// Get ...
func (s *FileStore) Get(key string) (string, error) {
	data, err := os.ReadFile(s.pathForKey(key))
	if os.IsNotExist(err) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("read value: %w", err)
	}
	return string(data), nil
}

// Set ...
func (s *FileStore) Set(key, value string) error {
	tmp, err := os.CreateTemp(s.baseDir, "kv-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.WriteString(value); err != nil {
		tmp.Close()
		return fmt.Errorf("write value: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.pathForKey(key)); err != nil {
		return fmt.Errorf("move value into place: %w", err)
	}
	return nil
}

// Remove ...
func (s *FileStore) Remove(key string) error {
	err := os.Remove(s.pathForKey(key))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove value: %w", err)
	}
	return nil
}

// Keys can contain characters that aren't valid in file names, so the
// file name is a digest of the key.
func (s *FileStore) pathForKey(key string) string {
	return filepath.Join(s.baseDir, fmt.Sprintf("%x.kv", sha256.Sum256([]byte(key))))
}

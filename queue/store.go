package queue

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/fieldsync/go-fieldsync/kv"
)

// itemStore serializes the full item list as one opaque JSON value under
// the queue's key. The list is always read-modify-written as a whole;
// there are no field-level writes.
type itemStore[T any] struct {
	key    string
	store  kv.Store
	logger log.Logger
}

// load returns the persisted items. A read failure is logged and treated
// as an empty queue: an unreadable backlog must not brick the client.
func (s itemStore[T]) load() []SyncItem[T] {
	value, err := s.store.Get(s.key)
	if errors.Is(err, kv.ErrNotFound) {
		return nil
	}
	if err != nil {
		s.logger.Errorf("read queue %s: %s", s.key, err)
		return nil
	}

	var items []SyncItem[T]
	if err := json.Unmarshal([]byte(value), &items); err != nil {
		s.logger.Errorf("decode queue %s: %s", s.key, err)
		return nil
	}
	return items
}

func (s itemStore[T]) save(items []SyncItem[T]) error {
	if items == nil {
		items = []SyncItem[T]{}
	}
	value, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("encode queue %s: %w", s.key, err)
	}
	if err := s.store.Set(s.key, string(value)); err != nil {
		return fmt.Errorf("write queue %s: %w", s.key, err)
	}
	return nil
}

func (s itemStore[T]) clear() error {
	if err := s.store.Remove(s.key); err != nil {
		return fmt.Errorf("clear queue %s: %w", s.key, err)
	}
	return nil
}

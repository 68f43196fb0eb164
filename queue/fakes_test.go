package queue

import (
	"fmt"
	"sync"

	"github.com/fieldsync/go-fieldsync/kv"
)

type fakeEnvRepo struct {
	envVars map[string]string
}

func (repo fakeEnvRepo) Get(key string) string {
	return repo.envVars[key]
}

func (repo fakeEnvRepo) Set(key, value string) error {
	repo.envVars[key] = value
	return nil
}

func (repo fakeEnvRepo) Unset(key string) error {
	delete(repo.envVars, key)
	return nil
}

func (repo fakeEnvRepo) List() []string {
	envs := []string{}
	for k, v := range repo.envVars {
		envs = append(envs, fmt.Sprintf("%s=%s", k, v))
	}
	return envs
}

// fakeMonitor is a hand-driven reachability monitor.
type fakeMonitor struct {
	mu          sync.Mutex
	online      bool
	subscribers []chan bool
}

func newFakeMonitor(online bool) *fakeMonitor {
	return &fakeMonitor{online: online}
}

func (m *fakeMonitor) IsOnline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

func (m *fakeMonitor) Subscribe() (<-chan bool, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch := make(chan bool, 1)
	m.subscribers = append(m.subscribers, ch)
	return ch, func() {}
}

func (m *fakeMonitor) setOnline(online bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.online == online {
		return
	}
	m.online = online
	for _, ch := range m.subscribers {
		ch <- online
	}
}

// failingStore wraps a kv.Store and fails operations on demand.
type failingStore struct {
	inner     kv.Store
	failReads bool
	failsLeft int // writes to fail before recovering
}

func (s *failingStore) Get(key string) (string, error) {
	if s.failReads {
		return "", fmt.Errorf("disk read error")
	}
	return s.inner.Get(key)
}

func (s *failingStore) Set(key, value string) error {
	if s.failsLeft > 0 {
		s.failsLeft--
		return fmt.Errorf("disk write error")
	}
	return s.inner.Set(key, value)
}

func (s *failingStore) Remove(key string) error {
	return s.inner.Remove(key)
}

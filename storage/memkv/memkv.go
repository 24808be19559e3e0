// Package memkv provides an in-memory storage.KV used by tests and the CLI.
package memkv

import (
	"sync"

	"github.com/prepstock/go-prepstock-client/storage"
)

var _ storage.KV = (*Store)(nil)

type Store struct {
	lock   sync.RWMutex
	values map[string]string
}

func New() *Store {
	return &Store{values: make(map[string]string)}
}

func (s *Store) Get(key string) (string, bool) {
	s.lock.RLock()
	defer s.lock.RUnlock()

	v, ok := s.values[key]
	return v, ok
}

func (s *Store) Set(key, value string) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	s.values[key] = value
	return nil
}

func (s *Store) Delete(key string) {
	s.lock.Lock()
	defer s.lock.Unlock()

	delete(s.values, key)
}

func (s *Store) Keys() []string {
	s.lock.RLock()
	defer s.lock.RUnlock()

	keys := make([]string, 0, len(s.values))
	for k := range s.values {
		keys = append(keys, k)
	}
	return keys
}

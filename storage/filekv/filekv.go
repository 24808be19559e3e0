// Package filekv provides a JSON-file-backed storage.KV so the CLI keeps
// its session and pending invites across invocations.
package filekv

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"

	"github.com/prepstock/go-prepstock-client/storage"
)

var _ storage.KV = (*Store)(nil)

type Store struct {
	lock   sync.Mutex
	path   string
	values map[string]string
}

// Open loads the store at path, creating parent directories as needed.
// An unreadable file starts empty rather than failing.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, errors.Wrap(err, "[filekv.Open] mkdir")
	}

	store := &Store{path: path, values: make(map[string]string)}
	raw, err := os.ReadFile(path)
	if err == nil {
		if err := json.Unmarshal(raw, &store.values); err != nil {
			store.values = make(map[string]string)
		}
	}
	return store, nil
}

func (s *Store) Get(key string) (string, bool) {
	s.lock.Lock()
	defer s.lock.Unlock()

	v, ok := s.values[key]
	return v, ok
}

func (s *Store) Set(key, value string) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	s.values[key] = value
	return s.flush()
}

func (s *Store) Delete(key string) {
	s.lock.Lock()
	defer s.lock.Unlock()

	delete(s.values, key)
	_ = s.flush()
}

func (s *Store) Keys() []string {
	s.lock.Lock()
	defer s.lock.Unlock()

	keys := make([]string, 0, len(s.values))
	for k := range s.values {
		keys = append(keys, k)
	}
	return keys
}

func (s *Store) flush() error {
	raw, err := json.MarshalIndent(s.values, "", "  ")
	if err != nil {
		return errors.Wrap(err, "[filekv.flush] marshal")
	}
	return errors.Wrap(os.WriteFile(s.path, raw, 0o600), "[filekv.flush] write")
}

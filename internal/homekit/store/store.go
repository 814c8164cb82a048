// Package store keeps HomeKit pairing data in a bitcask database.
package store

import (
	"strings"
	"sync"

	"github.com/cybre/deskbridge/internal/errors"
	"go.mills.io/bitcask/v2"
)

type Store struct {
	mu sync.Mutex
	db bitcask.DB
}

func Open(path string) (*Store, error) {
	db, err := bitcask.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open bitcask database %s", path)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Set(key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.db.Put([]byte(key), value); err != nil {
		return errors.Wrapf(err, "put %s", key)
	}

	return nil
}

func (s *Store) Get(key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	value, err := s.db.Get([]byte(key))
	if err != nil {
		return nil, errors.Wrapf(err, "get %s", key)
	}

	return value, nil
}

func (s *Store) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.db.Delete([]byte(key)); err != nil {
		return errors.Wrapf(err, "delete %s", key)
	}

	return nil
}

// KeysWithSuffix lists the keys of the database itself, so every returned
// key has a value.
func (s *Store) KeysWithSuffix(suffix string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	matching := make([]string, 0)
	err := s.db.ForEach(func(key bitcask.Key) error {
		if k := string(key); strings.HasSuffix(k, suffix) {
			matching = append(matching, k)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "list keys with suffix %s", suffix)
	}

	return matching, nil
}

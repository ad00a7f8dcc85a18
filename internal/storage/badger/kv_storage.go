package badger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/bugowl/internal/interfaces"
)

// kvPrefix namespaces key/value entries away from badgerhold and queue keys
const kvPrefix = "kv:"

// KVStorage implements the KeyValueStorage interface on raw Badger entries.
// Expiry uses Badger's native per-entry TTL.
type KVStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewKVStorage creates a new KVStorage instance
func NewKVStorage(db *BadgerDB, logger arbor.ILogger) interfaces.KeyValueStorage {
	return &KVStorage{
		db:     db,
		logger: logger,
	}
}

// normalizeKey trims the key and applies the namespace
func (s *KVStorage) normalizeKey(key string) []byte {
	return []byte(kvPrefix + strings.TrimSpace(key))
}

// Get retrieves a live value by key
func (s *KVStorage) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.Badger().View(func(txn *badger.Txn) error {
		item, err := txn.Get(s.normalizeKey(key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			value = string(val)
			return nil
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return "", interfaces.ErrKeyNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to get key: %w", err)
	}
	return value, nil
}

// Set writes a value, expiring it after ttl when ttl > 0
func (s *KVStorage) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	entry := badger.NewEntry(s.normalizeKey(key), []byte(value))
	if ttl > 0 {
		entry = entry.WithTTL(ttl)
	}

	if err := s.db.Badger().Update(func(txn *badger.Txn) error {
		return txn.SetEntry(entry)
	}); err != nil {
		return fmt.Errorf("failed to set key: %w", err)
	}

	s.logger.Debug().Str("key", key).Dur("ttl", ttl).Msg("Key/value entry written")
	return nil
}

// Delete removes a key; missing keys are ignored
func (s *KVStorage) Delete(ctx context.Context, key string) error {
	if err := s.db.Badger().Update(func(txn *badger.Txn) error {
		return txn.Delete(s.normalizeKey(key))
	}); err != nil {
		return fmt.Errorf("failed to delete key: %w", err)
	}
	return nil
}

// ListByPrefix returns all live entries whose key starts with prefix
func (s *KVStorage) ListByPrefix(ctx context.Context, prefix string) (map[string]string, error) {
	result := map[string]string{}
	fullPrefix := s.normalizeKey(prefix)

	err := s.db.Badger().View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(fullPrefix); it.ValidForPrefix(fullPrefix); it.Next() {
			item := it.Item()
			key := strings.TrimPrefix(string(item.Key()), kvPrefix)
			if err := item.Value(func(val []byte) error {
				result[key] = string(val)
				return nil
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}
	return result, nil
}

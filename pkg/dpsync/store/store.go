// Package store provides the Badger-backed state of the sync engine: the
// ledger of files synced onto each target, the bounded cycle history and a
// checksum cache keyed by path, size and modification time.
package store

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/oklog/ulid/v2"

	"github.com/vladzaharia/dangerprep-sync/pkg/dpsync/types"
)

// Key prefixes for different data types
const (
	prefixTracked  = "t:" // t:<target>\x00<item id> -> LocalEntry
	prefixResult   = "r:" // r:<target>\x00<result id> -> SyncResult
	prefixChecksum = "c:" // c:<path> -> size, mtime, sha256
	prefixMeta     = "m:" // metadata (schema)
)

const sep = "\x00"

// ErrNotFound is returned when a key doesn't exist.
var ErrNotFound = errors.New("not found")

// Store is the engine state backed by Badger DB.
type Store struct {
	db *badger.DB
}

// Open opens or creates a store at the given path. A fresh database is
// stamped with the current schema version.
func Open(path string) (*Store, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening store %s: %w", path, err)
	}

	s := &Store{db: db}
	if s.GetSchema() == nil && !s.hasAnyEntries() {
		if err := s.SetSchema(&Schema{Version: CurrentSchemaVersion, UpdatedAt: time.Now()}); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return s, nil
}

// Close closes the store.
func (s *Store) Close() error {
	return s.db.Close()
}

func trackedKey(target, id string) []byte {
	return []byte(prefixTracked + target + sep + id)
}

func resultKey(target, id string) []byte {
	return []byte(prefixResult + target + sep + id)
}

// Track records that the engine synced e onto target.
func (s *Store) Track(target string, e types.LocalEntry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(trackedKey(target, e.ID), data)
	})
}

// Untrack forgets a tracked file. Unknown ids are not an error.
func (s *Store) Untrack(target, id string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(trackedKey(target, id))
	})
}

// Tracked returns the ledger entry for id on target.
func (s *Store) Tracked(target, id string) (types.LocalEntry, bool, error) {
	var e types.LocalEntry
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(trackedKey(target, id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &e)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return types.LocalEntry{}, false, nil
	}
	if err != nil {
		return types.LocalEntry{}, false, err
	}
	return e, true, nil
}

// TrackedEntries returns every tracked file on target ordered by id.
func (s *Store) TrackedEntries(target string) ([]types.LocalEntry, error) {
	var entries []types.LocalEntry
	err := s.scan([]byte(prefixTracked+target+sep), func(_ []byte, val []byte) error {
		var e types.LocalEntry
		if err := json.Unmarshal(val, &e); err != nil {
			return nil //nolint:nilerr // skip malformed entries
		}
		entries = append(entries, e)
		return nil
	})
	return entries, err
}

// AppendResult stores r in the history of its target and trims the history
// to the keep most recent results. keep <= 0 keeps everything.
func (s *Store) AppendResult(r types.SyncResult, keep int) error {
	if r.ID == "" {
		r.ID = ulid.Make().String()
	}
	data, err := json.Marshal(r)
	if err != nil {
		return err
	}
	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(resultKey(r.Target, r.ID), data)
	}); err != nil {
		return err
	}
	if keep > 0 {
		_, err = s.PruneHistory(r.Target, keep)
	}
	return err
}

// History returns up to limit results for target, newest first. Result ids
// are ULIDs so key order is chronological.
func (s *Store) History(target string, limit int) ([]types.SyncResult, error) {
	var results []types.SyncResult
	prefix := []byte(prefixResult + target + sep)

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()

		// Reverse iteration seeks to the last key with the prefix.
		seek := append(append([]byte{}, prefix...), 0xFF)
		for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
			if limit > 0 && len(results) >= limit {
				break
			}
			err := it.Item().Value(func(val []byte) error {
				var r types.SyncResult
				if err := json.Unmarshal(val, &r); err != nil {
					return nil //nolint:nilerr // skip malformed entries
				}
				results = append(results, r)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	return results, err
}

// PruneHistory deletes all but the keep newest results of target and
// returns how many were removed.
func (s *Store) PruneHistory(target string, keep int) (int, error) {
	var keys [][]byte
	if err := s.scan([]byte(prefixResult+target+sep), func(key, _ []byte) error {
		keys = append(keys, key)
		return nil
	}); err != nil {
		return 0, err
	}
	if len(keys) <= keep {
		return 0, nil
	}

	stale := keys[:len(keys)-keep]
	err := s.db.Update(func(txn *badger.Txn) error {
		for _, k := range stale {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(stale), nil
}

// Targets returns the names of every target with tracked files or history.
func (s *Store) Targets() ([]string, error) {
	seen := make(map[string]struct{})
	for _, p := range []string{prefixTracked, prefixResult} {
		err := s.scan([]byte(p), func(key, _ []byte) error {
			rest := string(key[len(p):])
			for i := 0; i < len(rest); i++ {
				if rest[i] == sep[0] {
					seen[rest[:i]] = struct{}{}
					break
				}
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)
	return names, nil
}

// PutChecksum caches the sha256 of the file at path for the given size and
// modification time.
func (s *Store) PutChecksum(path string, size int64, mtime time.Time, sum string) error {
	val := make([]byte, 16, 16+len(sum))
	binary.BigEndian.PutUint64(val[0:8], uint64(size))
	binary.BigEndian.PutUint64(val[8:16], uint64(mtime.UnixNano()))
	val = append(val, sum...)

	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(prefixChecksum+path), val)
	})
}

// LookupChecksum returns the cached sha256 for path when the cached size
// and modification time still match.
func (s *Store) LookupChecksum(path string, size int64, mtime time.Time) (string, bool) {
	var sum string
	_ = s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(prefixChecksum + path))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			if len(val) < 16 {
				return nil
			}
			if int64(binary.BigEndian.Uint64(val[0:8])) != size ||
				int64(binary.BigEndian.Uint64(val[8:16])) != mtime.UnixNano() {
				return nil
			}
			sum = string(val[16:])
			return nil
		})
	})
	return sum, sum != ""
}

// DeleteChecksum drops the cached checksum for path.
func (s *Store) DeleteChecksum(path string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(prefixChecksum + path))
	})
}

// DeletePrefix removes all keys with the given prefix.
func (s *Store) DeletePrefix(prefix string) error {
	return s.db.DropPrefix([]byte(prefix))
}

// ForgetTarget removes the ledger and history of target.
func (s *Store) ForgetTarget(target string) error {
	if err := s.DeletePrefix(prefixTracked + target + sep); err != nil {
		return err
	}
	return s.DeletePrefix(prefixResult + target + sep)
}

// scan calls fn with a copy of every key and value under prefix in key order.
func (s *Store) scan(prefix []byte, fn func(key, val []byte) error) error {
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			val, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if err := fn(item.KeyCopy(nil), val); err != nil {
				return err
			}
		}
		return nil
	})
}

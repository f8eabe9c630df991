package store

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/vladzaharia/dangerprep-sync/pkg/dpsync/types"
)

// Schema versions:
// 1 - tracked files (t:) and cycle history (r:)
// 2 - checksum cache (c:), seeded from tracked files
const CurrentSchemaVersion = 2

const schemaKey = prefixMeta + "__schema__"

// Schema holds database schema information.
type Schema struct {
	Version   int       `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}

// GetSchema returns the current schema version, or nil if not set.
func (s *Store) GetSchema() *Schema {
	var schema *Schema

	_ = s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(schemaKey))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			schema = &Schema{}
			return json.Unmarshal(val, schema)
		})
	})

	return schema
}

// SetSchema stores the schema version.
func (s *Store) SetSchema(schema *Schema) error {
	data, err := json.Marshal(schema)
	if err != nil {
		return err
	}

	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(schemaKey), data)
	})
}

// NeedsMigration returns true if the database needs migration.
func (s *Store) NeedsMigration() bool {
	schema := s.GetSchema()
	if schema == nil {
		return s.hasAnyEntries()
	}
	return schema.Version < CurrentSchemaVersion
}

func (s *Store) hasAnyEntries() bool {
	var found bool
	_ = s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if string(it.Item().Key()) != schemaKey {
				found = true
				return nil
			}
		}
		return nil
	})
	return found
}

// MigrationProgress reports migration progress.
type MigrationProgress struct {
	FromVersion int
	ToVersion   int
	Done        int
	Current     string
}

// MigrationProgressFunc is called with progress updates during migration.
type MigrationProgressFunc func(MigrationProgress)

// Migrate runs pending migrations and returns how many ran.
func (s *Store) Migrate(ctx context.Context, onProgress MigrationProgressFunc) (int, error) {
	fromVersion := 0
	if schema := s.GetSchema(); schema != nil {
		fromVersion = schema.Version
	} else if s.hasAnyEntries() {
		fromVersion = 1
	}
	if fromVersion >= CurrentSchemaVersion {
		return 0, nil
	}

	run := 0
	for version := fromVersion + 1; version <= CurrentSchemaVersion; version++ {
		if err := ctx.Err(); err != nil {
			return run, err
		}

		var err error
		switch version {
		case 2:
			err = s.migrateToV2(ctx, onProgress)
		}
		if err != nil {
			return run, err
		}

		if err := s.SetSchema(&Schema{Version: version, UpdatedAt: time.Now()}); err != nil {
			return run, err
		}
		run++
	}
	return run, nil
}

// migrateToV2 seeds the checksum cache from tracked files that are still on
// disk with the recorded size.
func (s *Store) migrateToV2(ctx context.Context, onProgress MigrationProgressFunc) error {
	var tracked []types.LocalEntry
	err := s.scan([]byte(prefixTracked), func(_, val []byte) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		var e types.LocalEntry
		if json.Unmarshal(val, &e) == nil {
			tracked = append(tracked, e)
		}
		return nil
	})
	if err != nil {
		return err
	}

	for i, e := range tracked {
		if err := ctx.Err(); err != nil {
			return err
		}
		if e.Checksum == "" || e.Path == "" {
			continue
		}
		info, err := os.Stat(e.Path)
		if err != nil || info.Size() != e.Size {
			continue
		}
		if err := s.PutChecksum(e.Path, info.Size(), info.ModTime(), e.Checksum); err != nil {
			return err
		}
		if onProgress != nil {
			onProgress(MigrationProgress{FromVersion: 1, ToVersion: 2, Done: i + 1, Current: e.Path})
		}
	}
	return nil
}

package storage

import (
	"fmt"
	"os"

	"github.com/dgraph-io/badger/v4"
)

// inMemoryOptions returns BadgerDB options for ephemeral sessions and
// tests. Nothing touches the disk.
func inMemoryOptions() badger.Options {
	opts := badger.DefaultOptions("").
		WithValueDir("").
		WithDir("").
		WithInMemory(true).
		WithNumVersionsToKeep(1).
		WithNumGoroutines(1).
		WithLogger(nil) // Disable logging noise

	return opts
}

// OpenDB opens the database at path, creating the directory first.
// An empty path or inMemory opens a throwaway in-memory database.
func OpenDB(path string, inMemory bool) (*badger.DB, error) {
	if inMemory || path == "" {
		db, err := badger.Open(inMemoryOptions())
		if err != nil {
			return nil, fmt.Errorf("opening in-memory database: %w", err)
		}
		return db, nil
	}

	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	opts := badger.DefaultOptions(path).
		WithLoggingLevel(badger.WARNING).
		WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	return db, nil
}

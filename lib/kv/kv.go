// Copyright 2026 The Vagent Authors
// SPDX-License-Identifier: Apache-2.0

// Package kv provides the embedded key-value store backing vagent's
// persisted state: encrypted conversation checkpoints and HITL pending
// markers.
//
// The store wraps BadgerDB. Badger was chosen over a SQL store because
// both record kinds carry a time-to-live, and Badger enforces entry
// TTLs in the storage layer itself; an expired HITL marker is gone
// after a process restart without any in-memory timer ever having
// existed. That property is what makes HITL timeouts correct across
// crashes.
package kv

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// ErrNotFound is returned by Get when the key does not exist or its
// TTL has lapsed.
var ErrNotFound = errors.New("kv: key not found")

// Config holds configuration for opening a Store.
type Config struct {
	// Path is the directory for the database files. Required unless
	// InMemory is true.
	Path string

	// InMemory enables in-memory mode (no disk persistence). For
	// tests.
	InMemory bool

	// SyncWrites enables synchronous writes. Checkpoints are the
	// bot's only durable memory, so production keeps this on.
	SyncWrites bool

	// Logger receives Badger's internal log output at Debug level.
	// If nil, Badger's internal logging is disabled.
	Logger *slog.Logger
}

// Store is a TTL-aware key-value store. Safe for concurrent use.
type Store struct {
	db *badger.DB
}

// Open opens (creating if necessary) the store described by config.
// The caller must Close the store when done.
func Open(config Config) (*Store, error) {
	if !config.InMemory && config.Path == "" {
		return nil, fmt.Errorf("kv: Path is required for a persistent store")
	}

	var options badger.Options
	if config.InMemory {
		options = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(config.Path, 0o750); err != nil {
			return nil, fmt.Errorf("kv: creating database directory %s: %w", config.Path, err)
		}
		options = badger.DefaultOptions(config.Path)
	}
	options = options.WithSyncWrites(config.SyncWrites)
	options = options.WithNumVersionsToKeep(1)

	if config.Logger != nil {
		options = options.WithLogger(&badgerLogger{logger: config.Logger})
	} else {
		options = options.WithLogger(nil)
	}

	db, err := badger.Open(options)
	if err != nil {
		return nil, fmt.Errorf("kv: opening database: %w", err)
	}
	return &Store{db: db}, nil
}

// OpenInMemory opens an in-memory store for tests.
func OpenInMemory() (*Store, error) {
	return Open(Config{InMemory: true})
}

// Set stores value under key. A positive ttl arms storage-layer
// expiry; zero means the entry never expires. Setting an existing key
// replaces both the value and the TTL, which is how checkpoint writes
// refresh the sliding expiry window.
func (s *Store) Set(key, value []byte, ttl time.Duration) error {
	return s.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry(key, value)
		if ttl > 0 {
			entry = entry.WithTTL(ttl)
		}
		return txn.SetEntry(entry)
	})
}

// Get returns a copy of the value stored under key, or ErrNotFound.
func (s *Store) Get(key []byte) ([]byte, error) {
	var value []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("kv: reading key: %w", err)
	}
	return value, nil
}

// Delete removes key. Deleting a missing key is not an error.
func (s *Store) Delete(key []byte) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key)
	})
}

// Close flushes and closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// RunValueLogGC triggers one round of Badger value log garbage
// collection. Returns true when a log file was rewritten. Callers run
// this periodically; Badger returns ErrNoRewrite when there is
// nothing worth collecting, which is reported as (false, nil).
func (s *Store) RunValueLogGC(discardRatio float64) (bool, error) {
	err := s.db.RunValueLogGC(discardRatio)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, badger.ErrNoRewrite) || errors.Is(err, badger.ErrRejected) {
		return false, nil
	}
	return false, fmt.Errorf("kv: value log GC: %w", err)
}

// badgerLogger adapts slog.Logger to Badger's Logger interface. All
// Badger chatter lands at Debug; real failures surface through
// returned errors, not the log.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...any)   { l.logger.Error(fmt.Sprintf(format, args...)) }
func (l *badgerLogger) Warningf(format string, args ...any) { l.logger.Warn(fmt.Sprintf(format, args...)) }
func (l *badgerLogger) Infof(format string, args ...any)    { l.logger.Debug(fmt.Sprintf(format, args...)) }
func (l *badgerLogger) Debugf(format string, args ...any)   { l.logger.Debug(fmt.Sprintf(format, args...)) }

// Copyright 2026 The Vagent Authors
// SPDX-License-Identifier: Apache-2.0

package checkpoint

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/verji/vagent/lib/clock"
	"github.com/verji/vagent/lib/codec"
	"github.com/verji/vagent/lib/kv"
	"github.com/verji/vagent/lib/secret"
	"github.com/verji/vagent/lib/session"
)

// ErrNotFound is returned by Get when the session has no checkpoint:
// either it never checkpointed or its TTL lapsed. The two are
// indistinguishable on purpose.
var ErrNotFound = errors.New("checkpoint: not found")

// ErrIntegrity is returned when a stored checkpoint exists but cannot
// be authenticated or decoded. Unlike ErrNotFound this is never
// normal; it means the master key changed, the database was tampered
// with, or a blob was moved between sessions.
var ErrIntegrity = errors.New("checkpoint: integrity failure")

// Shared zstd coder state. Both types are safe for concurrent use via
// EncodeAll/DecodeAll.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.SpeedDefault),
		zstd.WithEncoderConcurrency(1))
	if err != nil {
		panic("checkpoint: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
	if err != nil {
		panic("checkpoint: zstd decoder initialization failed: " + err.Error())
	}
}

// Config configures a Store.
type Config struct {
	// KV is the backing key-value store. Required. The Store does
	// not own it; the caller closes it after closing the Store.
	KV *kv.Store

	// MasterKey is the 32-byte deployment master key. Required. The
	// Store takes ownership and closes it.
	MasterKey *secret.Buffer

	// TTL is how long an untouched checkpoint survives. Every Put
	// restarts the window. Required, positive.
	TTL time.Duration

	// Clock supplies timestamps. Defaults to the real clock.
	Clock clock.Clock

	// Logger receives store diagnostics. Defaults to slog.Default().
	Logger *slog.Logger
}

// Store persists encrypted conversation checkpoints.
// Safe for concurrent use.
type Store struct {
	kv     *kv.Store
	keys   *KeySet
	ttl    time.Duration
	clock  clock.Clock
	logger *slog.Logger
}

// NewStore creates a checkpoint store.
func NewStore(config Config) (*Store, error) {
	if config.KV == nil {
		return nil, fmt.Errorf("checkpoint: Config.KV is required")
	}
	if config.TTL <= 0 {
		return nil, fmt.Errorf("checkpoint: Config.TTL must be positive")
	}
	keys, err := NewKeySet(config.MasterKey)
	if err != nil {
		return nil, err
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Store{
		kv:     config.KV,
		keys:   keys,
		ttl:    config.TTL,
		clock:  config.Clock,
		logger: config.Logger,
	}, nil
}

// Close zeroes the key material. The backing KV store is not closed.
func (store *Store) Close() error {
	return store.keys.Close()
}

// Put encrypts and stores state, stamping UpdatedAt and re-arming the
// TTL window.
func (store *Store) Put(state *State) error {
	state.UpdatedAt = store.clock.Now().UTC()
	if state.CreatedAt.IsZero() {
		state.CreatedAt = state.UpdatedAt
	}

	plaintext, err := codec.Marshal(state)
	if err != nil {
		return fmt.Errorf("checkpoint: encoding state: %w", err)
	}
	compressed := zstdEncoder.EncodeAll(plaintext, nil)

	blob, err := store.keys.Seal(compressed, state.Session)
	if err != nil {
		return err
	}

	if err := store.kv.Set(store.keys.StateKey(state.Session), blob, store.ttl); err != nil {
		return fmt.Errorf("checkpoint: writing state: %w", err)
	}

	store.logger.Debug("checkpoint stored",
		"messages", len(state.Messages),
		"pending", state.Pending != nil,
		"bytes", len(blob))
	return nil
}

// Get loads and decrypts the checkpoint for a session. Returns
// ErrNotFound when none exists, ErrIntegrity when one exists but
// fails authentication or decoding.
func (store *Store) Get(id session.ID) (*State, error) {
	blob, err := store.kv.Get(store.keys.StateKey(id))
	if errors.Is(err, kv.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("checkpoint: reading state: %w", err)
	}

	compressed, err := store.keys.Open(blob, id)
	if err != nil {
		store.logger.Warn("checkpoint rejected", "error", err)
		return nil, fmt.Errorf("%w: %w", ErrIntegrity, err)
	}

	plaintext, err := zstdDecoder.DecodeAll(compressed, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: decompressing state: %w", ErrIntegrity, err)
	}

	state := new(State)
	if err := codec.Unmarshal(plaintext, state); err != nil {
		return nil, fmt.Errorf("%w: decoding state: %w", ErrIntegrity, err)
	}
	return state, nil
}

// Delete removes a session's checkpoint and its pending marker.
// Deleting a session with no checkpoint is not an error.
func (store *Store) Delete(id session.ID) error {
	if err := store.kv.Delete(store.keys.StateKey(id)); err != nil {
		return fmt.Errorf("checkpoint: deleting state: %w", err)
	}
	if err := store.kv.Delete(store.keys.PendingKey(id)); err != nil {
		return fmt.Errorf("checkpoint: deleting pending marker: %w", err)
	}
	return nil
}

// SetPendingMarker arms (or re-arms) the session's HITL pending
// marker with the given TTL. The marker value is the pending action
// ID, which carries no conversation content; everything sensitive
// stays inside the encrypted checkpoint.
func (store *Store) SetPendingMarker(id session.ID, pendingID string, ttl time.Duration) error {
	if err := store.kv.Set(store.keys.PendingKey(id), []byte(pendingID), ttl); err != nil {
		return fmt.Errorf("checkpoint: writing pending marker: %w", err)
	}
	return nil
}

// PendingMarker returns the live pending action ID for a session, or
// ErrNotFound when no pause is waiting (none was armed, or it
// expired).
func (store *Store) PendingMarker(id session.ID) (string, error) {
	value, err := store.kv.Get(store.keys.PendingKey(id))
	if errors.Is(err, kv.ErrNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("checkpoint: reading pending marker: %w", err)
	}
	return string(value), nil
}

// ClearPendingMarker removes the session's pending marker.
func (store *Store) ClearPendingMarker(id session.ID) error {
	if err := store.kv.Delete(store.keys.PendingKey(id)); err != nil {
		return fmt.Errorf("checkpoint: clearing pending marker: %w", err)
	}
	return nil
}

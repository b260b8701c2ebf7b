// Copyright 2026 The Vagent Authors
// SPDX-License-Identifier: Apache-2.0

package kv

import (
	"bytes"
	"errors"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := OpenInMemory()
	if err != nil {
		t.Fatalf("OpenInMemory: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return store
}

func TestSetGetDelete(t *testing.T) {
	store := openTestStore(t)

	key := []byte("checkpoint:abc")
	value := []byte("payload")
	if err := store.Set(key, value, 0); err != nil {
		t.Fatalf("Set: %v", err)
	}

	got, err := store.Get(key)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !bytes.Equal(got, value) {
		t.Fatalf("Get = %q, want %q", got, value)
	}

	if err := store.Delete(key); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := store.Get(key); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get after Delete: err = %v, want ErrNotFound", err)
	}
}

func TestGetMissingKey(t *testing.T) {
	store := openTestStore(t)
	if _, err := store.Get([]byte("absent")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get missing key: err = %v, want ErrNotFound", err)
	}
}

func TestDeleteMissingKeyIsNoError(t *testing.T) {
	store := openTestStore(t)
	if err := store.Delete([]byte("absent")); err != nil {
		t.Fatalf("Delete missing key: %v", err)
	}
}

func TestSetReplacesValue(t *testing.T) {
	store := openTestStore(t)

	key := []byte("k")
	if err := store.Set(key, []byte("one"), 0); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := store.Set(key, []byte("two"), 0); err != nil {
		t.Fatalf("Set (replace): %v", err)
	}
	got, err := store.Get(key)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != "two" {
		t.Fatalf("Get = %q, want %q", got, "two")
	}
}

func TestTTLExpiry(t *testing.T) {
	store := openTestStore(t)

	key := []byte("pending:xyz")
	if err := store.Set(key, []byte("v"), 50*time.Millisecond); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if _, err := store.Get(key); err != nil {
		t.Fatalf("Get before expiry: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		_, err := store.Get(key)
		if errors.Is(err, ErrNotFound) {
			return
		}
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if time.Now().After(deadline) {
			t.Fatal("entry still readable long after its TTL")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestSetRefreshesTTL(t *testing.T) {
	store := openTestStore(t)

	key := []byte("k")
	if err := store.Set(key, []byte("v"), 100*time.Millisecond); err != nil {
		t.Fatalf("Set: %v", err)
	}
	// Rewriting with a long TTL must outlive the original deadline.
	if err := store.Set(key, []byte("v"), time.Hour); err != nil {
		t.Fatalf("Set (refresh): %v", err)
	}
	time.Sleep(300 * time.Millisecond)
	if _, err := store.Get(key); err != nil {
		t.Fatalf("Get after refresh window: %v", err)
	}
}

func TestOpenRequiresPath(t *testing.T) {
	if _, err := Open(Config{}); err == nil {
		t.Fatal("Open with no path: expected error")
	}
}

// Copyright 2026 The Vagent Authors
// SPDX-License-Identifier: Apache-2.0

package checkpoint

import (
	"bytes"
	"strings"
	"testing"

	"github.com/verji/vagent/lib/ref"
	"github.com/verji/vagent/lib/secret"
	"github.com/verji/vagent/lib/session"
)

func testMasterKey(t *testing.T, fill byte) *secret.Buffer {
	t.Helper()
	raw := bytes.Repeat([]byte{fill}, KeySize)
	buffer, err := secret.NewFromBytes(raw)
	if err != nil {
		t.Fatalf("NewFromBytes: %v", err)
	}
	return buffer
}

func testKeySet(t *testing.T, fill byte) *KeySet {
	t.Helper()
	keySet, err := NewKeySet(testMasterKey(t, fill))
	if err != nil {
		t.Fatalf("NewKeySet: %v", err)
	}
	t.Cleanup(func() { keySet.Close() })
	return keySet
}

func testSession(t *testing.T, room, user string) session.ID {
	t.Helper()
	return session.Compute(
		ref.MustParseRoomID(room),
		ref.MustParseUserID(user),
		"")
}

func TestSealOpenRoundtrip(t *testing.T) {
	keySet := testKeySet(t, 0x11)
	id := testSession(t, "!room:example.org", "@alice:example.org")
	plaintext := []byte("conversation state")

	blob, err := keySet.Seal(plaintext, id)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if bytes.Contains(blob, plaintext) {
		t.Fatal("blob contains plaintext")
	}

	opened, err := keySet.Open(blob, id)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if !bytes.Equal(opened, plaintext) {
		t.Fatalf("Open = %q, want %q", opened, plaintext)
	}
}

func TestOpenWrongSessionFails(t *testing.T) {
	keySet := testKeySet(t, 0x11)
	alice := testSession(t, "!room:example.org", "@alice:example.org")
	bob := testSession(t, "!room:example.org", "@bob:example.org")

	blob, err := keySet.Seal([]byte("alice's state"), alice)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if _, err := keySet.Open(blob, bob); err == nil {
		t.Fatal("opening under another session must fail")
	}
}

func TestOpenWrongKeyFails(t *testing.T) {
	id := testSession(t, "!room:example.org", "@alice:example.org")

	blob, err := testKeySet(t, 0x11).Seal([]byte("state"), id)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if _, err := testKeySet(t, 0x22).Open(blob, id); err == nil {
		t.Fatal("opening under another master key must fail")
	}
}

func TestOpenTamperedBlobFails(t *testing.T) {
	keySet := testKeySet(t, 0x11)
	id := testSession(t, "!room:example.org", "@alice:example.org")

	blob, err := keySet.Seal([]byte("state"), id)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}

	// Flip one ciphertext bit.
	tampered := append([]byte(nil), blob...)
	tampered[len(tampered)-1] ^= 0x01
	if _, err := keySet.Open(tampered, id); err == nil {
		t.Fatal("tampered ciphertext must fail")
	}

	// Flip the version byte.
	tampered = append([]byte(nil), blob...)
	tampered[0] = 0x7f
	if _, err := keySet.Open(tampered, id); err == nil {
		t.Fatal("tampered version byte must fail")
	}
}

func TestOpenShortBlobFails(t *testing.T) {
	keySet := testKeySet(t, 0x11)
	id := testSession(t, "!room:example.org", "@alice:example.org")
	if _, err := keySet.Open([]byte{blobVersion, 1, 2, 3}, id); err == nil {
		t.Fatal("short blob must fail")
	}
}

func TestSealFreshNonces(t *testing.T) {
	keySet := testKeySet(t, 0x11)
	id := testSession(t, "!room:example.org", "@alice:example.org")

	first, err := keySet.Seal([]byte("state"), id)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	second, err := keySet.Seal([]byte("state"), id)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if bytes.Equal(first, second) {
		t.Fatal("two seals of the same plaintext must differ")
	}
}

func TestStorageKeys(t *testing.T) {
	keySet := testKeySet(t, 0x11)
	alice := testSession(t, "!room:example.org", "@alice:example.org")
	bob := testSession(t, "!room:example.org", "@bob:example.org")

	aliceKey := string(keySet.StateKey(alice))
	if !strings.HasPrefix(aliceKey, stateKeyPrefix) {
		t.Errorf("state key %q lacks prefix %q", aliceKey, stateKeyPrefix)
	}
	// Deterministic.
	if aliceKey != string(keySet.StateKey(alice)) {
		t.Error("state key is not deterministic")
	}
	// Distinct per session.
	if aliceKey == string(keySet.StateKey(bob)) {
		t.Error("different sessions share a state key")
	}
	// Distinct per domain.
	pendingKey := string(keySet.PendingKey(alice))
	if strings.TrimPrefix(aliceKey, stateKeyPrefix) == strings.TrimPrefix(pendingKey, pendingKeyPrefix) {
		t.Error("state and pending keys share a digest")
	}
	// Opaque: no identifier fragments leak into the key.
	for _, fragment := range []string{"room", "alice", "example"} {
		if strings.Contains(aliceKey, fragment) {
			t.Errorf("state key %q leaks %q", aliceKey, fragment)
		}
	}
}

func TestStorageKeysDifferAcrossDeployments(t *testing.T) {
	id := testSession(t, "!room:example.org", "@alice:example.org")
	if string(testKeySet(t, 0x11).StateKey(id)) == string(testKeySet(t, 0x22).StateKey(id)) {
		t.Error("different master keys produce the same storage key")
	}
}

func TestNewKeySetRejectsBadKeySize(t *testing.T) {
	short, err := secret.NewFromBytes([]byte("too short"))
	if err != nil {
		t.Fatalf("NewFromBytes: %v", err)
	}
	if _, err := NewKeySet(short); err == nil {
		t.Fatal("expected error for short master key")
	}
	short.Close()
}

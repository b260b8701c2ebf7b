// Copyright 2026 The Vagent Authors
// SPDX-License-Identifier: Apache-2.0

package checkpoint

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/zeebo/blake3"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/verji/vagent/lib/secret"
	"github.com/verji/vagent/lib/session"
)

// KeySize is the size in bytes of the deployment master key and all
// keys derived from it.
const KeySize = 32

// blobVersion is the version byte prepended to every sealed
// checkpoint. It is part of the AEAD's additional authenticated
// data, so tampering with it fails authentication.
const blobVersion byte = 0x01

// blobOverhead is the fixed per-blob overhead:
// 1 (version) + 24 (XChaCha20-Poly1305 nonce) + 16 (Poly1305 tag).
const blobOverhead = 1 + chacha20poly1305.NonceSizeX + chacha20poly1305.Overhead

// HKDF info prefixes and BLAKE3 domain tags. The session's canonical
// key is appended to the info prefix, giving every session its own
// encryption key. Changing any of these strings invalidates all
// stored ciphertext.
var (
	hkdfInfoStateKey  = []byte("vagent.checkpoint.state.v1:")
	hkdfInfoObscuring = []byte("vagent.checkpoint.obscure.v1")

	domainState   = []byte("vagent.ref.state.v1:")
	domainPending = []byte("vagent.ref.pending.v1:")
)

// Storage key prefixes. The hex-encoded obscured hash follows.
const (
	stateKeyPrefix   = "checkpoint:"
	pendingKeyPrefix = "pending:"
)

// KeySet holds the deployment master key in guarded memory and
// derives everything else on demand: per-session encryption keys and
// obscured storage keys. Derivations are not cached; an HKDF-SHA256
// run costs about a microsecond, noise next to the storage write
// that follows.
type KeySet struct {
	masterKey    *secret.Buffer
	obscuringKey *secret.Buffer
}

// NewKeySet creates a key set. The masterKey buffer is owned by the
// KeySet and closed with it; the caller must not use masterKey after
// passing it in. Returns an error unless masterKey is exactly
// KeySize bytes.
func NewKeySet(masterKey *secret.Buffer) (*KeySet, error) {
	if masterKey.Len() != KeySize {
		return nil, fmt.Errorf("checkpoint: master key must be %d bytes, got %d", KeySize, masterKey.Len())
	}

	// The obscuring key is separated from the master key so that
	// storage-key computation never touches the key material that
	// protects ciphertext.
	obscuringKey, err := deriveKey(masterKey.Bytes(), hkdfInfoObscuring)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: deriving obscuring key: %w", err)
	}
	return &KeySet{masterKey: masterKey, obscuringKey: obscuringKey}, nil
}

// Close zeroes and releases all key material. Idempotent. After
// Close, all methods panic via secret.Buffer's closed check.
func (keySet *KeySet) Close() error {
	err := keySet.masterKey.Close()
	if closeErr := keySet.obscuringKey.Close(); err == nil {
		err = closeErr
	}
	return err
}

// Seal encrypts plaintext for a session and returns the blob:
//
//	[version: 1 byte] [nonce: 24 bytes, random] [ciphertext+tag]
//
// The encryption key is derived per session, and the session's
// canonical key is bound into the AAD alongside the version byte. A
// blob re-homed under another session's storage key fails both ways:
// the derived key differs and the AAD differs.
func (keySet *KeySet) Seal(plaintext []byte, id session.ID) ([]byte, error) {
	stateKey, err := keySet.deriveStateKey(id)
	if err != nil {
		return nil, err
	}
	defer stateKey.Close()

	aead, err := chacha20poly1305.NewX(stateKey.Bytes())
	if err != nil {
		return nil, fmt.Errorf("checkpoint: creating cipher: %w", err)
	}

	var nonce [chacha20poly1305.NonceSizeX]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("checkpoint: generating nonce: %w", err)
	}

	blob := make([]byte, 1+len(nonce), 1+len(nonce)+len(plaintext)+aead.Overhead())
	blob[0] = blobVersion
	copy(blob[1:], nonce[:])
	return aead.Seal(blob, nonce[:], plaintext, buildAAD(blobVersion, id)), nil
}

// Open decrypts a blob produced by Seal for the same session.
// Failures (short blob, unknown version, authentication) are all
// integrity failures; callers should surface them as ErrIntegrity.
func (keySet *KeySet) Open(blob []byte, id session.ID) ([]byte, error) {
	if len(blob) < blobOverhead {
		return nil, fmt.Errorf("checkpoint: blob is %d bytes, minimum is %d", len(blob), blobOverhead)
	}
	if blob[0] != blobVersion {
		return nil, fmt.Errorf("checkpoint: unsupported blob version %d", blob[0])
	}

	stateKey, err := keySet.deriveStateKey(id)
	if err != nil {
		return nil, err
	}
	defer stateKey.Close()

	aead, err := chacha20poly1305.NewX(stateKey.Bytes())
	if err != nil {
		return nil, fmt.Errorf("checkpoint: creating cipher: %w", err)
	}

	nonce := blob[1 : 1+chacha20poly1305.NonceSizeX]
	ciphertext := blob[1+chacha20poly1305.NonceSizeX:]

	plaintext, err := aead.Open(nil, nonce, ciphertext, buildAAD(blob[0], id))
	if err != nil {
		return nil, fmt.Errorf("checkpoint: authentication failed (wrong key, tampered data, or mismatched session): %w", err)
	}
	return plaintext, nil
}

// StateKey returns the storage key for a session's checkpoint. It is
// deterministic and opaque: a BLAKE3 keyed hash of the canonical
// session key, so the database never contains room, thread, or user
// identifiers.
func (keySet *KeySet) StateKey(id session.ID) []byte {
	return keySet.obscure(stateKeyPrefix, domainState, id)
}

// PendingKey returns the storage key for a session's HITL pending
// marker. A separate BLAKE3 domain keeps it from ever colliding with
// a checkpoint key.
func (keySet *KeySet) PendingKey(id session.ID) []byte {
	return keySet.obscure(pendingKeyPrefix, domainPending, id)
}

func (keySet *KeySet) deriveStateKey(id session.ID) (*secret.Buffer, error) {
	canonical := id.Canonical()
	info := make([]byte, 0, len(hkdfInfoStateKey)+len(canonical))
	info = append(info, hkdfInfoStateKey...)
	info = append(info, canonical...)

	stateKey, err := deriveKey(keySet.masterKey.Bytes(), info)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: deriving session key: %w", err)
	}
	return stateKey, nil
}

func (keySet *KeySet) obscure(prefix string, domainTag []byte, id session.ID) []byte {
	hasher, err := blake3.NewKeyed(keySet.obscuringKey.Bytes())
	if err != nil {
		panic("checkpoint: BLAKE3 keyed hash initialization failed (key must be 32 bytes): " + err.Error())
	}
	hasher.Write(domainTag)
	hasher.Write([]byte(id.Canonical()))
	digest := hasher.Sum(nil)

	key := make([]byte, len(prefix)+hex.EncodedLen(len(digest)))
	copy(key, prefix)
	hex.Encode(key[len(prefix):], digest)
	return key
}

// deriveKey is the shared HKDF-SHA256 derivation. The salt is nil:
// the input key material is already uniformly random, so the extract
// phase with a zero key suffices per RFC 5869.
func deriveKey(inputKeyMaterial, info []byte) (*secret.Buffer, error) {
	reader := hkdf.New(sha256.New, inputKeyMaterial, nil, info)
	derived := make([]byte, KeySize)
	if _, err := io.ReadFull(reader, derived); err != nil {
		secret.Zero(derived)
		return nil, fmt.Errorf("HKDF derivation failed: %w", err)
	}
	// NewFromBytes copies into mmap and zeros the heap slice.
	return secret.NewFromBytes(derived)
}

// buildAAD constructs the additional authenticated data: the version
// byte followed by the canonical session key.
func buildAAD(version byte, id session.ID) []byte {
	canonical := id.Canonical()
	aad := make([]byte, 1+len(canonical))
	aad[0] = version
	copy(aad[1:], canonical)
	return aad
}

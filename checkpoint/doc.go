// Copyright 2026 The Vagent Authors
// SPDX-License-Identifier: Apache-2.0

// Package checkpoint persists conversation state between workflow
// invocations.
//
// Every run of the workflow engine loads its session's checkpoint,
// appends the turn's messages, and writes the checkpoint back. A
// human-in-the-loop pause is just a checkpoint whose state carries a
// pending action; resuming is loading that checkpoint and continuing.
// The engine itself holds no state between invocations.
//
// Checkpoints are encrypted at rest. The plaintext conversation state
// is CBOR-encoded, zstd-compressed, and sealed with
// XChaCha20-Poly1305 under a per-session key derived from the
// deployment master key via HKDF-SHA256 with the session's canonical
// key in the derivation info. The canonical key is also bound into
// the AEAD's additional authenticated data, so a ciphertext moved to
// another session's storage slot fails authentication rather than
// decrypting into the wrong conversation.
//
// Storage keys are BLAKE3 keyed hashes of the canonical session key,
// so the database on disk reveals neither room, thread, nor user
// identifiers.
//
// Checkpoints expire: each write re-arms a time-to-live in the
// storage layer, and an untouched conversation disappears from disk
// after the window lapses.
package checkpoint

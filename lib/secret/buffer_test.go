// Copyright 2026 The Vagent Authors
// SPDX-License-Identifier: Apache-2.0

package secret

import (
	"bytes"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"
)

func TestNewFromBytesZerosSource(t *testing.T) {
	source := []byte("super-secret-value")
	buffer, err := NewFromBytes(source)
	if err != nil {
		t.Fatalf("NewFromBytes: %v", err)
	}
	defer buffer.Close()

	for index, b := range source {
		if b != 0 {
			t.Fatalf("source[%d] = %d, want 0 (source must be zeroed)", index, b)
		}
	}
	if got := buffer.String(); got != "super-secret-value" {
		t.Errorf("String() = %q, want original secret", got)
	}
}

func TestCloseIsIdempotentAndPanicsOnRead(t *testing.T) {
	buffer, err := NewFromBytes([]byte("value"))
	if err != nil {
		t.Fatalf("NewFromBytes: %v", err)
	}
	if err := buffer.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := buffer.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	defer func() {
		if recover() == nil {
			t.Error("Bytes() after Close did not panic")
		}
	}()
	buffer.Bytes()
}

func TestReadFromPathTrimsWhitespace(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token")
	if err := os.WriteFile(path, []byte("  tok_value\n"), 0600); err != nil {
		t.Fatal(err)
	}

	buffer, err := ReadFromPath(path)
	if err != nil {
		t.Fatalf("ReadFromPath: %v", err)
	}
	defer buffer.Close()

	if got := buffer.String(); got != "tok_value" {
		t.Errorf("String() = %q, want %q", got, "tok_value")
	}
}

func TestReadFromPathEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty")
	if err := os.WriteFile(path, []byte("\n \n"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadFromPath(path); err == nil {
		t.Error("ReadFromPath accepted an empty secret")
	}
}

func TestReadHexKeyFromPath(t *testing.T) {
	rawKey := bytes.Repeat([]byte{0xAB}, 32)
	path := filepath.Join(t.TempDir(), "master.key")
	if err := os.WriteFile(path, []byte(hex.EncodeToString(rawKey)+"\n"), 0600); err != nil {
		t.Fatal(err)
	}

	buffer, err := ReadHexKeyFromPath(path, 32)
	if err != nil {
		t.Fatalf("ReadHexKeyFromPath: %v", err)
	}
	defer buffer.Close()

	if !bytes.Equal(buffer.Bytes(), rawKey) {
		t.Error("decoded key does not match original bytes")
	}
}

func TestReadHexKeyFromPathWrongSize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "short.key")
	if err := os.WriteFile(path, []byte("abcd"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadHexKeyFromPath(path, 32); err == nil {
		t.Error("ReadHexKeyFromPath accepted a short key")
	}
}

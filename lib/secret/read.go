// Copyright 2026 The Vagent Authors
// SPDX-License-Identifier: Apache-2.0

package secret

import (
	"bufio"
	"bytes"
	"encoding/hex"
	"fmt"
	"os"
)

// ReadFromPath reads a secret from a file path, or from stdin if path
// is "-". The returned buffer is mmap-backed and must be closed by the
// caller. Leading/trailing whitespace is trimmed before storing.
// Returns an error if the source is empty after trimming.
func ReadFromPath(path string) (*Buffer, error) {
	var data []byte

	if path == "-" {
		scanner := bufio.NewScanner(os.Stdin)
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return nil, fmt.Errorf("reading stdin: %w", err)
			}
			return nil, fmt.Errorf("stdin is empty")
		}
		data = scanner.Bytes()
	} else {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, err
		}
	}

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		Zero(data)
		return nil, fmt.Errorf("secret is empty")
	}

	// NewFromBytes copies into mmap-backed memory and zeros trimmed.
	buffer, err := NewFromBytes(trimmed)
	// Zero remaining bytes (whitespace prefix/suffix) not covered by
	// trimmed.
	Zero(data)
	if err != nil {
		return nil, err
	}
	return buffer, nil
}

// ReadHexKeyFromPath reads a hex-encoded key file and returns the
// decoded raw bytes in a guarded buffer. wantSize is the required
// decoded length in bytes; pass 0 to accept any non-empty key.
//
// Key files store hex rather than raw bytes so they survive editors
// and line-ending normalization; the hex intermediate is zeroed before
// returning.
func ReadHexKeyFromPath(path string, wantSize int) (*Buffer, error) {
	hexBuffer, err := ReadFromPath(path)
	if err != nil {
		return nil, err
	}
	defer hexBuffer.Close()

	decoded := make([]byte, hex.DecodedLen(hexBuffer.Len()))
	n, err := hex.Decode(decoded, hexBuffer.Bytes())
	if err != nil {
		Zero(decoded)
		return nil, fmt.Errorf("secret: key file %s is not valid hex: %w", path, err)
	}
	if wantSize > 0 && n != wantSize {
		Zero(decoded)
		return nil, fmt.Errorf("secret: key file %s decodes to %d bytes, want %d", path, n, wantSize)
	}

	return NewFromBytes(decoded[:n])
}

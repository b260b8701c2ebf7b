// Copyright 2026 The Vagent Authors
// SPDX-License-Identifier: Apache-2.0

// Package ref provides validated value types for Matrix identifiers.
//
// Raw identifier strings from the homeserver (room IDs, user IDs,
// event IDs) are parsed into these types at the process boundary and
// carried as immutable values everywhere else. The zero value of each
// type is invalid; use IsZero to check.
//
// All types implement encoding.TextMarshaler and TextUnmarshaler so
// they serialize as plain strings in JSON and CBOR, with validation
// applied on the way back in.
package ref

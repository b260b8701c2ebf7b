// Copyright 2026 The Vagent Authors
// SPDX-License-Identifier: Apache-2.0

// Package session derives the stable conversation identity used as the
// checkpoint and HITL partition key everywhere in vagent.
//
// A session is the triple (room, thread, user). Two sessions are the
// same iff all three components match: the same user in two threads of
// one room holds two isolated conversations, and two users in the same
// thread each hold their own.
//
// The canonical string form is "room:thread:user" with each component
// escaped so that the ':' delimiter is unambiguous. Matrix identifiers
// themselves contain colons ("@alice:example.org"), so a naive 3-way
// split would mis-parse every real identifier; escaping '%' and ':'
// inside components makes Parse an exact left inverse of Canonical for
// all valid identifiers.
package session

import (
	"fmt"
	"strings"

	"github.com/verji/vagent/lib/ref"
)

// MainThread is the sentinel thread identifier for messages that are
// not part of a sub-thread.
const MainThread = "main"

// ID identifies one isolated conversation context. The zero value is
// invalid; use IsZero to check.
type ID struct {
	room   ref.RoomID
	thread string
	user   ref.UserID
}

// Compute derives the session identity for a message. An empty
// threadID means the room's main timeline and maps to the MainThread
// sentinel. Compute is total: any valid room/user pair yields a
// session.
func Compute(room ref.RoomID, user ref.UserID, threadID string) ID {
	if threadID == "" {
		threadID = MainThread
	}
	return ID{room: room, thread: threadID, user: user}
}

// Room returns the session's room component.
func (id ID) Room() ref.RoomID { return id.room }

// Thread returns the session's thread component (MainThread when the
// conversation is on the room's main timeline).
func (id ID) Thread() string { return id.thread }

// User returns the session's user component.
func (id ID) User() ref.UserID { return id.user }

// IsZero reports whether the ID is the zero value (uninitialized).
func (id ID) IsZero() bool { return id.room.IsZero() }

// Canonical returns the canonical string form "room:thread:user" with
// component escaping. The result is stable: it is the KDF salt for the
// session's checkpoint encryption key and the input to the obscured
// storage key, so its byte content must never change for a given
// triple.
func (id ID) Canonical() string {
	return escapeComponent(id.room.String()) + ":" +
		escapeComponent(id.thread) + ":" +
		escapeComponent(id.user.String())
}

// String returns the canonical form. Implements fmt.Stringer for
// logging.
func (id ID) String() string { return id.Canonical() }

// MarshalText implements encoding.TextMarshaler using the canonical
// form, so IDs serialize as plain strings in JSON and CBOR.
func (id ID) MarshalText() ([]byte, error) {
	if id.IsZero() {
		return []byte{}, nil
	}
	return []byte(id.Canonical()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler via Parse.
func (id *ID) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// Parse recovers a session ID from its canonical string form. Returns
// an error when the string does not have exactly three colon-delimited
// segments, when a segment carries invalid escaping, or when the room
// or user component is not a valid Matrix identifier.
func Parse(canonical string) (ID, error) {
	segments := strings.Split(canonical, ":")
	if len(segments) != 3 {
		return ID{}, fmt.Errorf("session: canonical key %q has %d segments, want 3", canonical, len(segments))
	}

	roomRaw, err := unescapeComponent(segments[0])
	if err != nil {
		return ID{}, fmt.Errorf("session: room segment of %q: %w", canonical, err)
	}
	thread, err := unescapeComponent(segments[1])
	if err != nil {
		return ID{}, fmt.Errorf("session: thread segment of %q: %w", canonical, err)
	}
	userRaw, err := unescapeComponent(segments[2])
	if err != nil {
		return ID{}, fmt.Errorf("session: user segment of %q: %w", canonical, err)
	}

	room, err := ref.ParseRoomID(roomRaw)
	if err != nil {
		return ID{}, fmt.Errorf("session: %w", err)
	}
	user, err := ref.ParseUserID(userRaw)
	if err != nil {
		return ID{}, fmt.Errorf("session: %w", err)
	}
	if thread == "" {
		return ID{}, fmt.Errorf("session: canonical key %q has empty thread segment", canonical)
	}

	return ID{room: room, thread: thread, user: user}, nil
}

// escapeComponent makes a component safe to join with ':'. Only '%'
// and ':' need escaping; everything else passes through unchanged, so
// canonical keys stay readable in logs and Redis-style key listings.
func escapeComponent(component string) string {
	component = strings.ReplaceAll(component, "%", "%25")
	return strings.ReplaceAll(component, ":", "%3A")
}

// unescapeComponent reverses escapeComponent. Rejects truncated or
// unknown escape sequences rather than guessing.
func unescapeComponent(escaped string) (string, error) {
	var builder strings.Builder
	builder.Grow(len(escaped))

	for i := 0; i < len(escaped); i++ {
		c := escaped[i]
		if c != '%' {
			builder.WriteByte(c)
			continue
		}
		if i+2 >= len(escaped) {
			return "", fmt.Errorf("truncated escape sequence at offset %d", i)
		}
		switch escaped[i+1 : i+3] {
		case "25":
			builder.WriteByte('%')
		case "3A", "3a":
			builder.WriteByte(':')
		default:
			return "", fmt.Errorf("unknown escape sequence %%%s at offset %d", escaped[i+1:i+3], i)
		}
		i += 2
	}
	return builder.String(), nil
}

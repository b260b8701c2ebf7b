// Copyright 2026 The Vagent Authors
// SPDX-License-Identifier: Apache-2.0

// Package sse reads and writes Server-Sent Event streams. Both the
// model-provider client and the workflow bridge speak SSE, so the
// framing lives here rather than in either consumer.
package sse

import (
	"bufio"
	"io"
	"strings"
)

// Event is a single Server-Sent Event parsed from a stream.
type Event struct {
	// Type is the event type from the "event:" field. Empty when the
	// stream uses the default event type.
	Type string

	// Data is the event payload. Multiple "data:" lines within one
	// event are joined with newlines, as the SSE specification
	// requires.
	Data string
}

// Scanner reads Server-Sent Events from an [io.Reader].
//
// Events are delimited by blank lines. Comment lines (leading ":")
// and fields other than "event" and "data" are skipped.
//
//	scanner := NewScanner(reader)
//	for scanner.Next() {
//	    event := scanner.Event()
//	}
//	if err := scanner.Err(); err != nil { ... }
type Scanner struct {
	lines   *bufio.Scanner
	current Event
	eof     bool
}

// NewScanner creates a scanner that reads SSE events from reader.
func NewScanner(reader io.Reader) *Scanner {
	lines := bufio.NewScanner(reader)
	// Model providers pack entire JSON chunks into single data lines,
	// so the default 64KB token limit is too small for large tool
	// arguments.
	lines.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	return &Scanner{lines: lines}
}

// Next advances to the next event. Returns false at end of stream or
// on a read error; check [Err] afterwards to tell the two apart.
func (scanner *Scanner) Next() bool {
	if scanner.eof {
		return false
	}

	var eventType string
	var dataLines []string

	emit := func() bool {
		if len(dataLines) == 0 {
			return false
		}
		scanner.current = Event{
			Type: eventType,
			Data: strings.Join(dataLines, "\n"),
		}
		return true
	}

	for scanner.lines.Scan() {
		line := strings.TrimSuffix(scanner.lines.Text(), "\r")

		if line == "" {
			// Event boundary. Only fields seen since the last boundary
			// belong to the next event.
			if emit() {
				return true
			}
			eventType = ""
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		// The spec strips exactly one leading space from the value.
		value = strings.TrimPrefix(value, " ")

		switch field {
		case "event":
			eventType = value
		case "data":
			dataLines = append(dataLines, value)
		}
	}

	// Stream ended. A stream that is cut off mid-event still yields
	// the partial event once.
	scanner.eof = true
	return emit()
}

// Event returns the most recently parsed event. Only valid after
// [Next] returns true.
func (scanner *Scanner) Event() Event {
	return scanner.current
}

// Err returns the first read error encountered. Returns nil when
// scanning ended at a clean EOF.
func (scanner *Scanner) Err() error {
	return scanner.lines.Err()
}

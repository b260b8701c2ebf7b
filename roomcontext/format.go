// Copyright 2026 The Vagent Authors
// SPDX-License-Identifier: Apache-2.0

package roomcontext

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	contextHeader  = "Recent room discussion:"
	contextTrailer = "Answer the user's question based on the above context and conversation history."

	// assistantLabel replaces the bot's own localpart so the model
	// recognizes its earlier turns in the room.
	assistantLabel = "Assistant"
)

// Format renders a snapshot as the system-message text injected into
// a workflow request:
//
//	Recent room discussion:
//	Alice: are we still on for 3pm?
//	Assistant: yes, the room is booked.
//
//	Answer the user's question based on the above context and conversation history.
//
// An empty snapshot formats to the empty string, meaning no system
// message is injected at all.
func Format(messages []Message) string {
	if len(messages) == 0 {
		return ""
	}

	var builder strings.Builder
	builder.WriteString(contextHeader)
	builder.WriteByte('\n')
	for _, message := range messages {
		builder.WriteString(displayName(message))
		builder.WriteString(": ")
		builder.WriteString(message.Body)
		builder.WriteByte('\n')
	}
	builder.WriteByte('\n')
	builder.WriteString(contextTrailer)
	return builder.String()
}

// displayName labels a message's author: "Assistant" for the bot,
// otherwise the sender's localpart with its first letter upcased
// ("@alice:example.org" becomes "Alice").
func displayName(message Message) string {
	if message.FromBot {
		return assistantLabel
	}
	localpart := message.Sender.Localpart()
	first, size := utf8.DecodeRuneInString(localpart)
	if first == utf8.RuneError {
		return localpart
	}
	return string(unicode.ToUpper(first)) + localpart[size:]
}

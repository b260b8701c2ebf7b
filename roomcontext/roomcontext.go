// Copyright 2026 The Vagent Authors
// SPDX-License-Identifier: Apache-2.0

// Package roomcontext snapshots recent room discussion for use as
// ambient context in a workflow request.
//
// The snapshot is advisory. It is injected into the model request as
// a transient system message and never persisted: checkpoints carry
// only the conversation itself, so a room snapshot cannot fossilize
// into a session's history. Fetch failures degrade to an empty
// snapshot rather than failing the request.
package roomcontext

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/verji/vagent/lib/ref"
	"github.com/verji/vagent/messaging"
)

// maxPages bounds backward pagination. Rooms dominated by non-text
// events (state changes, reactions, media) need more than one page to
// fill the snapshot, but an empty noisy room must not turn into an
// unbounded history walk.
const maxPages = 3

// Message is one text message from the room timeline.
type Message struct {
	// Sender is the authoring user.
	Sender ref.UserID

	// Body is the plain-text message body.
	Body string

	// FromBot marks messages sent by the bot itself.
	FromBot bool

	// Timestamp is the server's origin timestamp.
	Timestamp time.Time
}

// MessageSource is the slice of the Matrix client the fetcher needs.
type MessageSource interface {
	RoomMessages(ctx context.Context, roomID ref.RoomID, options messaging.RoomMessagesOptions) (*messaging.RoomMessagesResponse, error)
}

// Fetcher retrieves recent text messages from a room.
type Fetcher struct {
	source  MessageSource
	botUser ref.UserID
	limit   int
	logger  *slog.Logger
}

// NewFetcher creates a fetcher. botUser identifies the bot's own
// messages so formatting can label them. limit is the number of
// messages per snapshot; non-positive limits disable fetching.
func NewFetcher(source MessageSource, botUser ref.UserID, limit int, logger *slog.Logger) *Fetcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{source: source, botUser: botUser, limit: limit, logger: logger}
}

// Fetch returns up to the configured limit of recent text messages,
// oldest first. excludeEvent drops the triggering message itself from
// the snapshot (it arrives separately as the user's turn). On any
// fetch error the snapshot degrades to empty; the error is logged,
// never returned.
func (fetcher *Fetcher) Fetch(ctx context.Context, room ref.RoomID, excludeEvent ref.EventID) []Message {
	if fetcher.limit <= 0 {
		return nil
	}

	// Paginate backward from the live edge, newest first.
	var collected []Message
	from := ""
	for page := 0; page < maxPages && len(collected) < fetcher.limit; page++ {
		response, err := fetcher.source.RoomMessages(ctx, room, messaging.RoomMessagesOptions{
			From:      from,
			Direction: "b",
			Limit:     fetcher.limit,
		})
		if err != nil {
			fetcher.logger.Warn("room context fetch failed, continuing without",
				"room", room, "error", err)
			return nil
		}

		for _, event := range response.Chunk {
			if len(collected) >= fetcher.limit {
				break
			}
			if event.EventID == excludeEvent {
				continue
			}
			body, ok := textBody(event)
			if !ok {
				continue
			}
			collected = append(collected, Message{
				Sender:    event.Sender,
				Body:      body,
				FromBot:   event.Sender == fetcher.botUser,
				Timestamp: time.UnixMilli(event.OriginServerTS),
			})
		}

		if response.End == "" || len(response.Chunk) == 0 {
			break
		}
		from = response.End
	}

	// Collected newest-first; the model reads oldest-first.
	for i, j := 0, len(collected)-1; i < j; i, j = i+1, j-1 {
		collected[i], collected[j] = collected[j], collected[i]
	}
	return collected
}

// textBody extracts the plain-text body from an m.room.message event.
// Only msgtype m.text qualifies; media, notices, and redacted events
// are skipped.
func textBody(event messaging.Event) (string, bool) {
	if event.Type != "m.room.message" {
		return "", false
	}
	if msgtype, _ := event.Content["msgtype"].(string); msgtype != "m.text" {
		return "", false
	}
	body, _ := event.Content["body"].(string)
	if strings.TrimSpace(body) == "" {
		return "", false
	}
	return body, true
}

// Copyright 2026 The Vagent Authors
// SPDX-License-Identifier: Apache-2.0

// Package bot is the chat-facing front door: it syncs against the
// Matrix homeserver, maps each inbound text message to its session,
// and drives the workflow bridge, relaying the answer back into the
// originating room and thread.
//
// Concurrency model: the sync loop dispatches each message on its own
// goroutine, so different sessions run fully in parallel. Within a
// session a keyed lock serializes handling: a session never has two
// in-flight requests, which is what makes the approval coordinator's
// check-then-act atomic.
package bot

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/verji/vagent/bridge"
	"github.com/verji/vagent/lib/clock"
	"github.com/verji/vagent/lib/ref"
	"github.com/verji/vagent/lib/session"
	"github.com/verji/vagent/messaging"
	"github.com/verji/vagent/roomcontext"
)

// typingTimeout is how long a typing indicator stays up without a
// refresh. Long enough to cover a slow model call.
const typingTimeout = 30 * time.Second

// syncTimeoutMS is the /sync long-poll timeout in milliseconds.
const syncTimeoutMS = 30000

// forgetCommand erases the sender's conversation for this session.
const forgetCommand = "!forget"

// ChatClient is the slice of the Matrix session the bot consumes.
// *messaging.Session satisfies it.
type ChatClient interface {
	UserID() ref.UserID
	SendMessage(ctx context.Context, roomID ref.RoomID, content messaging.MessageContent) (ref.EventID, error)
	SendTyping(ctx context.Context, roomID ref.RoomID, typing bool, timeout time.Duration) error
	JoinRoom(ctx context.Context, roomID ref.RoomID) (ref.RoomID, error)
	Sync(ctx context.Context, options messaging.SyncOptions) (*messaging.SyncResponse, error)
	RoomMessages(ctx context.Context, roomID ref.RoomID, options messaging.RoomMessagesOptions) (*messaging.RoomMessagesResponse, error)
}

// Config configures a Bot.
type Config struct {
	// Chat is the authenticated Matrix session. Required.
	Chat ChatClient

	// Handler is the workflow bridge. Required.
	Handler bridge.Handler

	// ContextMessages is the room-context snapshot size. Defaults to
	// 20; negative disables room context.
	ContextMessages int

	// RelayProgress posts workflow progress updates into the room.
	// Off by default; typing indicators alone are less noisy.
	RelayProgress bool

	// Clock supplies time for backoff. Defaults to the real clock.
	Clock clock.Clock

	// Logger receives bot diagnostics. Defaults to slog.Default().
	Logger *slog.Logger
}

// Bot wires the chat surface to the workflow bridge.
type Bot struct {
	chat          ChatClient
	handler       bridge.Handler
	fetcher       *roomcontext.Fetcher
	locks         *sessionLocks
	relayProgress bool
	clock         clock.Clock
	logger        *slog.Logger
}

// New creates a Bot.
func New(config Config) (*Bot, error) {
	if config.Chat == nil {
		return nil, fmt.Errorf("bot: Config.Chat is required")
	}
	if config.Handler == nil {
		return nil, fmt.Errorf("bot: Config.Handler is required")
	}
	if config.ContextMessages == 0 {
		config.ContextMessages = 20
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Bot{
		chat:          config.Chat,
		handler:       config.Handler,
		fetcher:       roomcontext.NewFetcher(config.Chat, config.Chat.UserID(), config.ContextMessages, config.Logger),
		locks:         newSessionLocks(),
		relayProgress: config.RelayProgress,
		clock:         config.Clock,
		logger:        config.Logger,
	}, nil
}

// Run syncs against the homeserver until ctx is cancelled. Invites
// are accepted automatically; each text message is dispatched on its
// own goroutine.
func (bot *Bot) Run(ctx context.Context) error {
	filter := messaging.SyncFilter{
		TimelineTypes: []string{"m.room.message"},
		TimelineLimit: 50,
		ExcludeState:  true,
	}
	inlineFilter := filter.InlineJSON()

	// Initial sync establishes the position; its backlog is not
	// replayed to the workflow.
	initial, err := bot.chat.Sync(ctx, messaging.SyncOptions{
		Timeout:    0,
		SetTimeout: true,
		Filter:     inlineFilter,
	})
	if err != nil {
		return fmt.Errorf("bot: initial sync: %w", err)
	}
	since := initial.NextBatch

	bot.logger.Info("bot running", "user_id", bot.chat.UserID())

	for {
		response, err := bot.chat.Sync(ctx, messaging.SyncOptions{
			Since:      since,
			Timeout:    syncTimeoutMS,
			SetTimeout: true,
			Filter:     inlineFilter,
		})
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			bot.logger.Warn("sync failed, backing off", "error", err)
			bot.clock.Sleep(5 * time.Second)
			continue
		}
		since = response.NextBatch

		for roomID := range response.Rooms.Invite {
			bot.acceptInvite(ctx, roomID)
		}
		for roomID, joined := range response.Rooms.Join {
			for _, event := range joined.Timeline.Events {
				bot.dispatch(ctx, roomID, event)
			}
		}
	}
}

func (bot *Bot) acceptInvite(ctx context.Context, roomID ref.RoomID) {
	if _, err := bot.chat.JoinRoom(ctx, roomID); err != nil {
		bot.logger.Warn("joining invited room failed", "room_id", roomID, "error", err)
		return
	}
	bot.logger.Info("joined room", "room_id", roomID)
}

// dispatch filters one timeline event and hands it to OnMessage on
// its own goroutine.
func (bot *Bot) dispatch(ctx context.Context, roomID ref.RoomID, event messaging.Event) {
	if event.Sender == bot.chat.UserID() {
		return
	}
	if event.Type != "m.room.message" {
		return
	}
	msgtype, body := event.MessageBody()
	if msgtype != "m.text" || strings.TrimSpace(body) == "" {
		return
	}
	go bot.OnMessage(ctx, roomID, event)
}

// OnMessage handles one inbound text message end to end. It is the
// single entry point for conversation traffic; the sync loop calls it
// per event, and tests call it directly.
func (bot *Bot) OnMessage(ctx context.Context, roomID ref.RoomID, event messaging.Event) {
	threadRoot := event.ThreadRoot()
	threadID := ""
	if !threadRoot.IsZero() {
		threadID = threadRoot.String()
	}
	id := session.Compute(roomID, event.Sender, threadID)

	release := bot.locks.acquire(id)
	defer release()

	_, body := event.MessageBody()
	body = strings.TrimSpace(body)

	if strings.EqualFold(body, forgetCommand) {
		bot.forget(ctx, roomID, threadRoot, id)
		return
	}

	bot.startTyping(ctx, roomID)
	defer bot.stopTyping(roomID)

	request := bridge.Request{
		RequestID:   uuid.NewString(),
		Session:     id,
		Room:        roomID,
		User:        event.Sender,
		Query:       body,
		RoomContext: bot.fetcher.Fetch(ctx, roomID, event.EventID),
	}

	err := bot.handler.Process(ctx, request, func(streamEvent bridge.Event) error {
		bot.deliver(ctx, roomID, threadRoot, streamEvent)
		return nil
	})
	if err != nil {
		bot.logger.Error("bridge request failed",
			"request_id", request.RequestID,
			"session", id,
			"error", err,
		)
		bot.reply(ctx, roomID, threadRoot, "Something went wrong handling your message. Please try again.")
	}
}

// deliver relays one stream event into the room.
func (bot *Bot) deliver(ctx context.Context, roomID ref.RoomID, threadRoot ref.EventID, event bridge.Event) {
	switch event.Type {
	case bridge.EventProgress:
		// Typing is already showing; progress text is opt-in.
		if bot.relayProgress {
			bot.reply(ctx, roomID, threadRoot, event.Text)
		}
	case bridge.EventFinal:
		bot.reply(ctx, roomID, threadRoot, event.Text)
	case bridge.EventHITL:
		bot.reply(ctx, roomID, threadRoot, formatQuestion(event))
	case bridge.EventError:
		bot.reply(ctx, roomID, threadRoot, event.Message)
	}
}

func (bot *Bot) forget(ctx context.Context, roomID ref.RoomID, threadRoot ref.EventID, id session.ID) {
	if err := bot.handler.Forget(ctx, bridge.ForgetRequest{Session: id}); err != nil {
		bot.logger.Error("forget failed", "session", id, "error", err)
		bot.reply(ctx, roomID, threadRoot, "Could not forget this conversation. Please try again.")
		return
	}
	bot.reply(ctx, roomID, threadRoot, "Okay, I've forgotten this conversation.")
}

// reply sends text into the room, threaded when the triggering
// message was in a thread.
func (bot *Bot) reply(ctx context.Context, roomID ref.RoomID, threadRoot ref.EventID, text string) {
	if text == "" {
		return
	}
	var content messaging.MessageContent
	if threadRoot.IsZero() {
		content = messaging.NewTextMessage(text)
	} else {
		content = messaging.NewThreadReply(threadRoot, text)
	}
	if _, err := bot.chat.SendMessage(ctx, roomID, content); err != nil {
		bot.logger.Error("sending reply failed", "room_id", roomID, "error", err)
	}
}

func (bot *Bot) startTyping(ctx context.Context, roomID ref.RoomID) {
	if err := bot.chat.SendTyping(ctx, roomID, true, typingTimeout); err != nil {
		bot.logger.Debug("typing notification failed", "room_id", roomID, "error", err)
	}
}

func (bot *Bot) stopTyping(roomID ref.RoomID) {
	// Clearing the indicator must not be tied to a request context
	// that may already be cancelled.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := bot.chat.SendTyping(ctx, roomID, false, 0); err != nil {
		bot.logger.Debug("clearing typing notification failed", "room_id", roomID, "error", err)
	}
}

// formatQuestion renders an approval request for the room.
func formatQuestion(event bridge.Event) string {
	if len(event.Options) == 0 {
		return event.Question
	}
	return fmt.Sprintf("%s\n\nReply with one of: %s.", event.Question, strings.Join(event.Options, ", "))
}

// Copyright 2026 The Vagent Authors
// SPDX-License-Identifier: Apache-2.0

// Package bridge carries conversation requests between the
// chat-facing process and the workflow process: one request out, zero
// or more progress events back, and exactly one terminal event
// (final answer, approval request, or error) per request.
//
// The Handler interface is the transport-independent contract. The
// in-process implementation is [Service], which wraps the workflow
// engine and HITL coordinator directly. [Server] and [Client] put the
// same contract over HTTP, streaming events as SSE, for deployments
// that split the two processes.
package bridge

import (
	"context"

	"github.com/verji/vagent/lib/ref"
	"github.com/verji/vagent/lib/session"
	"github.com/verji/vagent/roomcontext"
)

// Request is one inbound conversation message.
type Request struct {
	// RequestID correlates the request with its event stream in logs.
	RequestID string `json:"request_id"`

	// Session identifies the conversation.
	Session session.ID `json:"session_id"`

	// Room and User locate and attribute the message.
	Room ref.RoomID `json:"room_id"`
	User ref.UserID `json:"user_id"`

	// Query is the message text.
	Query string `json:"query"`

	// RoomContext is the ephemeral room snapshot, oldest first.
	RoomContext []roomcontext.Message `json:"room_context,omitempty"`
}

// EventType discriminates stream events.
type EventType string

const (
	// EventProgress is a transient status update.
	EventProgress EventType = "progress"
	// EventHITL asks the user an approval question. Terminal: the
	// workflow is suspended and the request is over.
	EventHITL EventType = "hitl_request"
	// EventFinal carries the answer. Terminal.
	EventFinal EventType = "final"
	// EventError reports a failure. Terminal.
	EventError EventType = "error"
)

// Terminal reports whether the event ends its request's stream.
func (t EventType) Terminal() bool {
	return t == EventHITL || t == EventFinal || t == EventError
}

// Event is one message on a request's stream.
type Event struct {
	Type EventType `json:"type"`

	// Text carries progress status or the final answer.
	Text string `json:"text,omitempty"`

	// Question, Options, and TimeoutSeconds describe an approval
	// request.
	Question       string   `json:"question,omitempty"`
	Options        []string `json:"options,omitempty"`
	TimeoutSeconds int      `json:"timeout_seconds,omitempty"`

	// Code and Message describe an error.
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// Error codes carried by EventError events.
const (
	// CodeStateUnavailable means the session's persisted state failed
	// integrity checks and the conversation cannot proceed.
	CodeStateUnavailable = "state_unavailable"
	// CodeWrongUser means the message tried to answer another user's
	// pending approval.
	CodeWrongUser = "wrong_user"
	// CodeInternal is an unclassified workflow failure.
	CodeInternal = "internal"
)

// Feedback explicitly answers a pending approval.
type Feedback struct {
	Session session.ID `json:"session_id"`
	Room    ref.RoomID `json:"room_id"`
	User    ref.UserID `json:"user_id"`
	Reply   string     `json:"reply"`
}

// FeedbackAck reports whether a Feedback reply was accepted.
type FeedbackAck struct {
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitempty"`

	// Answer is the workflow's answer after an accepted reply.
	Answer string `json:"answer,omitempty"`
}

// ForgetRequest asks for a session's state to be erased.
type ForgetRequest struct {
	Session session.ID `json:"session_id"`
}

// EventSink receives the events of one request, in order. A non-nil
// error tells the producer the consumer is gone; the producer stops.
type EventSink func(Event) error

// Handler is the workflow side of the bridge.
type Handler interface {
	// Process handles one inbound message: zero or more progress
	// events, then exactly one terminal event, delivered to sink.
	// The returned error reports transport-level failure only;
	// workflow failures arrive as EventError events.
	Process(ctx context.Context, request Request, sink EventSink) error

	// Feedback answers a pending approval without opening a stream.
	Feedback(ctx context.Context, feedback Feedback) (FeedbackAck, error)

	// Forget erases a session's persisted state.
	Forget(ctx context.Context, request ForgetRequest) error
}

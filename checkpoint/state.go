// Copyright 2026 The Vagent Authors
// SPDX-License-Identifier: Apache-2.0

package checkpoint

import (
	"time"

	"github.com/verji/vagent/lib/llm"
	"github.com/verji/vagent/lib/session"
)

// State is the durable record of one conversation session. It is the
// unit of checkpointing: the engine loads it, mutates it through the
// append helpers, and stores it back after every mutation.
//
// Only the durable conversation lives here. Ambient room context is
// injected as a transient system message at request time and is never
// part of State, so a stale room snapshot cannot fossilize into a
// session's history.
type State struct {
	// Session identifies the conversation this state belongs to.
	Session session.ID `cbor:"session"`

	// Messages is the conversation history in order: user turns,
	// assistant turns, and tool results.
	Messages []llm.Message `cbor:"messages"`

	// Pending is the action awaiting human approval, if the
	// conversation is paused at a human-in-the-loop gate.
	Pending *PendingAction `cbor:"pending,omitempty"`

	// CreatedAt is when the session first checkpointed.
	CreatedAt time.Time `cbor:"created_at"`

	// UpdatedAt is when the state last changed. Maintained by the
	// store on every Put.
	UpdatedAt time.Time `cbor:"updated_at"`
}

// PendingAction records a paused workflow waiting on a human
// decision.
type PendingAction struct {
	// ID is a unique identifier for this pause, minted when the
	// workflow suspends. The HITL coordinator uses it to tell a live
	// pause apart from a superseded or expired one.
	ID string `cbor:"id"`

	// Owner is the user whose message triggered the pause. Only the
	// owner's reply can resolve it.
	Owner string `cbor:"owner"`

	// Prompt is the question shown to the human.
	Prompt string `cbor:"prompt"`

	// Options are the accepted answers. Matching is case-insensitive.
	Options []string `cbor:"options"`

	// ToolUse is the intercepted tool invocation awaiting approval,
	// if the pause guards a tool call.
	ToolUse *llm.ToolUse `cbor:"tool_use,omitempty"`

	// CreatedAt is when the workflow suspended.
	CreatedAt time.Time `cbor:"created_at"`
}

// New creates an empty state for a session.
func New(id session.ID, now time.Time) *State {
	return &State{
		Session:   id,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// AppendUser appends a user text message to the history.
func (state *State) AppendUser(text string) {
	state.Messages = append(state.Messages, llm.UserMessage(text))
}

// AppendAssistant appends a full assistant response, preserving text
// and tool-use blocks.
func (state *State) AppendAssistant(content []llm.ContentBlock) {
	state.Messages = append(state.Messages, llm.Message{
		Role:    llm.RoleAssistant,
		Content: content,
	})
}

// AppendToolResult appends a tool result as a user-role message, the
// form the model API expects results in.
func (state *State) AppendToolResult(toolUseID, content string, isError bool) {
	state.Messages = append(state.Messages, llm.Message{
		Role:    llm.RoleUser,
		Content: []llm.ContentBlock{llm.ToolResultBlock(toolUseID, content, isError)},
	})
}

// SetPending suspends the conversation on a pending action.
// An existing pending action is superseded.
func (state *State) SetPending(pending *PendingAction) {
	state.Pending = pending
}

// ClearPending resolves the pending action, if any.
func (state *State) ClearPending() {
	state.Pending = nil
}

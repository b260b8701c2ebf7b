// Copyright 2026 The Vagent Authors
// SPDX-License-Identifier: Apache-2.0

// Package engine runs the conversation workflow: a small node graph
// executed once per inbound request. The graph loads the session's
// encrypted checkpoint, injects ephemeral room context, calls the
// model, executes approved tools in a bounded loop, and either
// responds or suspends at a human-approval gate.
//
// The central design choice is that suspension never blocks. When a
// sensitive tool call needs human sign-off the engine checkpoints the
// conversation with a pending action, arms a TTL-bound marker, and
// returns. No goroutine, connection, or timer waits for the human;
// the pause exists only as persisted state. Resume re-enters the
// graph from the checkpoint with the human's decision applied.
//
// Every node transition that mutates conversation state checkpoints
// before control returns to the caller, so a crash between nodes
// loses at most the in-flight model call.
package engine

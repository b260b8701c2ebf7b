// Copyright 2026 The Vagent Authors
// SPDX-License-Identifier: Apache-2.0

// Package hitl decides what an inbound chat message means for a
// session: the answer to a suspended approval gate, or a fresh query.
//
// The gate itself lives in two places. The sensitive half (question,
// options, intercepted tool call) sits inside the encrypted
// checkpoint. The liveness half is a small TTL-bound marker in the
// key-value store holding only the pending action ID. Expiry is
// enforced by the storage layer, so it survives process restarts and
// costs no in-memory timer. When the marker lapses the gate is dead:
// the next message starts a fresh query, silently.
//
// A second gate raised for a session supersedes the first. The
// checkpoint that raised the second gate overwrote the workflow state
// behind the first, so the old question has nothing left to resume
// into; the coordinator detects the stale marker by ID mismatch and
// discards it.
package hitl

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/verji/vagent/checkpoint"
	"github.com/verji/vagent/lib/ref"
	"github.com/verji/vagent/lib/session"
)

// ErrWrongUser reports a reply from a user who does not own the
// pending gate. The session key embeds the user, so this only fires
// on caller misuse; but ownership is checked on every resolution
// regardless.
var ErrWrongUser = errors.New("hitl: reply from a user who does not own the pending request")

// Disposition classifies an inbound message for a session.
type Disposition int

const (
	// NewQuery means no live gate exists; the message is a fresh
	// query for the workflow engine.
	NewQuery Disposition = iota

	// Resume means the message validly answers the pending gate; the
	// caller resumes the workflow with it.
	Resume

	// Reprompt means a gate is live but the reply did not match the
	// accepted options. The gate and its TTL are untouched; the
	// caller sends Interception.Reprompt back to the user.
	Reprompt
)

// Interception is the coordinator's verdict on one inbound message.
type Interception struct {
	Disposition Disposition

	// Pending is the live gate, set for Resume and Reprompt.
	Pending *checkpoint.PendingAction

	// Reprompt is the re-ask text, set for Reprompt.
	Reprompt string
}

// Coordinator arbitrates pending approval gates. Safe for concurrent
// use across sessions; within a session the caller's per-session
// serialization makes check-then-act atomic.
type Coordinator struct {
	store  *checkpoint.Store
	logger *slog.Logger
}

// NewCoordinator creates a Coordinator over the checkpoint store.
func NewCoordinator(store *checkpoint.Store, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{store: store, logger: logger}
}

// Intercept classifies an inbound message. It must be consulted
// before the message is treated as a new query.
func (coordinator *Coordinator) Intercept(id session.ID, sender ref.UserID, text string) (*Interception, error) {
	pendingID, err := coordinator.store.PendingMarker(id)
	if errors.Is(err, checkpoint.ErrNotFound) {
		// No marker: never armed, expired, or already resolved.
		return &Interception{Disposition: NewQuery}, nil
	}
	if err != nil {
		return nil, err
	}

	state, err := coordinator.store.Get(id)
	if errors.Is(err, checkpoint.ErrNotFound) {
		// Marker outlived its checkpoint. Clean up and move on.
		coordinator.discardMarker(id, "checkpoint gone")
		return &Interception{Disposition: NewQuery}, nil
	}
	if err != nil {
		return nil, err
	}

	pending := state.Pending
	if pending == nil || pending.ID != pendingID {
		// The gate behind this marker was superseded or cleared.
		coordinator.discardMarker(id, "gate superseded")
		return &Interception{Disposition: NewQuery}, nil
	}

	if pending.Owner != sender.String() {
		return nil, fmt.Errorf("%w: pending owned by %s", ErrWrongUser, pending.Owner)
	}

	if !replyMatches(text, pending.Options) {
		return &Interception{
			Disposition: Reprompt,
			Pending:     pending,
			Reprompt:    repromptText(pending),
		}, nil
	}

	return &Interception{Disposition: Resume, Pending: pending}, nil
}

// Cancel tears down a session's gate: marker removed, pending action
// cleared from the checkpoint. The gated tool call gets an explicit
// not-executed result; a tool call left unanswered in the history
// would be rejected by the model provider on every later turn. A
// missing gate is not an error.
func (coordinator *Coordinator) Cancel(id session.ID) error {
	if err := coordinator.store.ClearPendingMarker(id); err != nil {
		return err
	}

	state, err := coordinator.store.Get(id)
	if errors.Is(err, checkpoint.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if state.Pending == nil {
		return nil
	}
	if use := state.Pending.ToolUse; use != nil {
		state.AppendToolResult(use.ID,
			"The approval request was cancelled; the action was not executed.", true)
	}
	state.ClearPending()
	return coordinator.store.Put(state)
}

func (coordinator *Coordinator) discardMarker(id session.ID, reason string) {
	if err := coordinator.store.ClearPendingMarker(id); err != nil {
		coordinator.logger.Warn("discarding stale pending marker failed",
			"reason", reason,
			"error", err,
		)
	}
}

// replyMatches validates a candidate reply against the gate's
// options: case-insensitive literal match after trimming. A gate
// without options accepts any non-empty text.
func replyMatches(text string, options []string) bool {
	trimmed := strings.TrimSpace(text)
	if len(options) == 0 {
		return trimmed != ""
	}
	for _, option := range options {
		if strings.EqualFold(trimmed, strings.TrimSpace(option)) {
			return true
		}
	}
	return false
}

// repromptText re-asks the pending question after an invalid reply.
func repromptText(pending *checkpoint.PendingAction) string {
	if len(pending.Options) == 0 {
		return pending.Prompt
	}
	return fmt.Sprintf("Please answer with one of: %s.\n\n%s",
		strings.Join(pending.Options, ", "), pending.Prompt)
}

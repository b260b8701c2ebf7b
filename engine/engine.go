// Copyright 2026 The Vagent Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/verji/vagent/checkpoint"
	"github.com/verji/vagent/lib/clock"
	"github.com/verji/vagent/lib/llm"
	"github.com/verji/vagent/lib/ref"
	"github.com/verji/vagent/lib/session"
	"github.com/verji/vagent/roomcontext"
)

// ErrNoPending reports a Resume call for a session that has no
// suspended approval. Resuming without a pending gate is a protocol
// error, never silently treated as a fresh query.
var ErrNoPending = errors.New("engine: no pending approval for session")

// Progress messages emitted as the workflow moves between nodes.
// Relayed to the originating room so the user sees the bot working.
const (
	progressAnalyzing   = "🔍 Analyzing your question..."
	progressThinking    = "🧠 Thinking about the best response..."
	progressFormulating = "✍️ Formulating answer..."
)

// ProgressFunc receives progress notifications during a run. Calls
// happen on the engine's goroutine; implementations must not block
// for long.
type ProgressFunc func(text string)

// Authorizer is the tool-filtering oracle. Implementations decide
// which of the named tools the user may exercise in the given room.
// The engine treats any error as "allow nothing".
type Authorizer interface {
	FilterTools(ctx context.Context, user ref.UserID, room ref.RoomID, names []string) ([]string, error)
}

// HITLRequest describes a suspended approval gate, surfaced to the
// user as a question.
type HITLRequest struct {
	Question string
	Options  []string
	Timeout  time.Duration
}

// Result is the terminal outcome of a Process or Resume run. Exactly
// one of Answer (terminal response) or HITL (suspended awaiting a
// human) is meaningful; HITL non-nil means suspended.
type Result struct {
	Answer string
	HITL   *HITLRequest
}

// Request is one forward invocation of the workflow.
type Request struct {
	Session session.ID
	Room    ref.RoomID
	User    ref.UserID
	Query   string

	// RoomContext is the ephemeral multi-party context snapshot. It
	// shapes this invocation's model input only and never reaches
	// the checkpoint.
	RoomContext []roomcontext.Message

	// Progress receives node-transition notifications. Optional.
	Progress ProgressFunc
}

// ResumeRequest resumes a suspended session with the human's reply.
type ResumeRequest struct {
	Session session.ID
	Room    ref.RoomID
	User    ref.UserID
	Reply   string

	RoomContext []roomcontext.Message
	Progress    ProgressFunc
}

// Config configures an Engine.
type Config struct {
	// Provider is the model backend. Required.
	Provider llm.Provider

	// Store persists conversation checkpoints. Required. The engine
	// does not own it.
	Store *checkpoint.Store

	// Tools is the full tool set. Required (may be empty).
	Tools *Registry

	// Authorizer filters tools per user and room. A nil Authorizer
	// offers no tools at all; absence of policy is not permission.
	Authorizer Authorizer

	// Model is the model identifier sent to the provider. Required.
	Model string

	// SystemPrompt is the standing instruction set, sent first on
	// every model call. Optional.
	SystemPrompt string

	// MaxTokens bounds each completion. Defaults to 1024.
	MaxTokens int

	// MaxToolRounds bounds the reason/tool loop per invocation.
	// Defaults to 8.
	MaxToolRounds int

	// HITLTimeout is how long a suspended approval stays answerable.
	// Defaults to one hour.
	HITLTimeout time.Duration

	// Clock supplies timestamps. Defaults to the real clock.
	Clock clock.Clock

	// Logger receives engine diagnostics. Defaults to slog.Default().
	Logger *slog.Logger
}

// Engine executes the conversation workflow. Safe for concurrent use
// across sessions; the caller serializes invocations within a
// session.
type Engine struct {
	provider      llm.Provider
	store         *checkpoint.Store
	tools         *Registry
	authorizer    Authorizer
	model         string
	systemPrompt  string
	maxTokens     int
	maxToolRounds int
	hitlTimeout   time.Duration
	clock         clock.Clock
	logger        *slog.Logger
}

// New creates an Engine.
func New(config Config) (*Engine, error) {
	if config.Provider == nil {
		return nil, fmt.Errorf("engine: Config.Provider is required")
	}
	if config.Store == nil {
		return nil, fmt.Errorf("engine: Config.Store is required")
	}
	if config.Tools == nil {
		return nil, fmt.Errorf("engine: Config.Tools is required")
	}
	if config.Model == "" {
		return nil, fmt.Errorf("engine: Config.Model is required")
	}
	if config.MaxTokens <= 0 {
		config.MaxTokens = 1024
	}
	if config.MaxToolRounds <= 0 {
		config.MaxToolRounds = 8
	}
	if config.HITLTimeout <= 0 {
		config.HITLTimeout = time.Hour
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Engine{
		provider:      config.Provider,
		store:         config.Store,
		tools:         config.Tools,
		authorizer:    config.Authorizer,
		model:         config.Model,
		systemPrompt:  config.SystemPrompt,
		maxTokens:     config.MaxTokens,
		maxToolRounds: config.MaxToolRounds,
		hitlTimeout:   config.HITLTimeout,
		clock:         config.Clock,
		logger:        config.Logger,
	}, nil
}

// HITLTimeout reports the configured approval window.
func (engine *Engine) HITLTimeout() time.Duration {
	return engine.hitlTimeout
}

// Process runs the workflow forward for one user query. It returns a
// terminal answer or a suspended HITL request; the HITL case holds no
// live resources, only persisted state.
func (engine *Engine) Process(ctx context.Context, request Request) (*Result, error) {
	progress := progressOrNoop(request.Progress)
	progress(progressAnalyzing)

	state, err := engine.loadOrCreate(request.Session)
	if err != nil {
		return nil, err
	}

	// A gate still in the checkpoint here means its marker lapsed or
	// was superseded; the coordinator has already routed this message
	// as a fresh query. Close the gate before the new turn so the
	// gated tool call does not dangle unanswered in the history.
	engine.resolveStaleGate(state)

	state.AppendUser(request.Query)
	if err := engine.store.Put(state); err != nil {
		return nil, err
	}

	return engine.reason(ctx, state, runInput{
		room:      request.Room,
		user:      request.User,
		directive: roomcontext.Format(request.RoomContext),
		progress:  progress,
	})
}

// Resume continues a suspended session with the human's decision.
// The reply must already be validated (ownership, option matching) by
// the HITL coordinator; Resume applies it, clears the gate, and
// re-enters the workflow.
func (engine *Engine) Resume(ctx context.Context, request ResumeRequest) (*Result, error) {
	progress := progressOrNoop(request.Progress)

	state, err := engine.store.Get(request.Session)
	if errors.Is(err, checkpoint.ErrNotFound) {
		return nil, fmt.Errorf("%w: checkpoint missing", ErrNoPending)
	}
	if err != nil {
		return nil, err
	}
	pending := state.Pending
	if pending == nil {
		return nil, ErrNoPending
	}

	if pending.ToolUse != nil {
		if isAffirmative(request.Reply) {
			engine.executeTool(ctx, state, pending.ToolUse)
		} else {
			state.AppendToolResult(pending.ToolUse.ID, "The user declined this action.", true)
		}
	} else {
		state.AppendUser(request.Reply)
	}

	state.ClearPending()
	if err := engine.store.ClearPendingMarker(request.Session); err != nil {
		return nil, err
	}
	if err := engine.store.Put(state); err != nil {
		return nil, err
	}

	return engine.reason(ctx, state, runInput{
		room:      request.Room,
		user:      request.User,
		directive: roomcontext.Format(request.RoomContext),
		progress:  progress,
	})
}

// Forget erases a session: checkpoint, pending gate, marker. The next
// message starts a fresh conversation.
func (engine *Engine) Forget(ctx context.Context, id session.ID) error {
	if err := engine.store.ClearPendingMarker(id); err != nil {
		return err
	}
	return engine.store.Delete(id)
}

// resolveStaleGate closes an approval gate that expired or was
// superseded before the owner answered. Every tool call in the
// history must carry a result: providers reject an assistant tool
// call with no answer, so an open gate left in place would fail every
// later turn on the session.
func (engine *Engine) resolveStaleGate(state *checkpoint.State) {
	pending := state.Pending
	if pending == nil {
		return
	}
	if pending.ToolUse != nil {
		state.AppendToolResult(pending.ToolUse.ID,
			"The approval request expired before it was answered; the action was not executed.", true)
	}
	state.ClearPending()
	engine.logger.Info("stale approval gate resolved",
		"pending_id", pending.ID,
		"session", state.Session,
	)
}

// runInput carries the per-invocation values threaded through the
// reason loop.
type runInput struct {
	room      ref.RoomID
	user      ref.UserID
	directive string
	progress  ProgressFunc
}

// reason is the core loop: call the model, then respond, execute
// tools and loop, or suspend at an approval gate.
func (engine *Engine) reason(ctx context.Context, state *checkpoint.State, input runInput) (*Result, error) {
	allowedNames, allowed := engine.allowedTools(ctx, input.user, input.room)

	for round := 0; round < engine.maxToolRounds; round++ {
		input.progress(progressThinking)

		response, err := engine.provider.Complete(ctx, engine.buildRequest(state, input.directive, allowedNames))
		if err != nil {
			return nil, fmt.Errorf("engine: model call: %w", err)
		}

		state.AppendAssistant(response.Content)

		toolUses := response.ToolUses()
		if response.StopReason != llm.StopReasonToolUse || len(toolUses) == 0 {
			// respond node: terminal.
			state.ClearPending()
			if err := engine.store.Put(state); err != nil {
				return nil, err
			}
			input.progress(progressFormulating)
			return &Result{Answer: response.Text()}, nil
		}

		if err := engine.store.Put(state); err != nil {
			return nil, err
		}

		for i, use := range toolUses {
			spec, known := engine.tools.Get(use.Name)
			switch {
			case !known:
				state.AppendToolResult(use.ID, fmt.Sprintf("unknown tool %q", use.Name), true)
			case !allowed[use.Name]:
				// The model can name tools it was never offered;
				// authorization holds at execution, not just at
				// advertisement.
				state.AppendToolResult(use.ID, fmt.Sprintf("tool %q is not permitted", use.Name), true)
			case spec.Sensitive:
				// The rest of the batch cannot run while this call
				// waits for approval. Answer the held calls now so
				// none of them dangles in the history; the model can
				// re-request them after the resume.
				for _, held := range toolUses[i+1:] {
					state.AppendToolResult(held.ID,
						"Not executed: another action in this response is awaiting approval.", true)
				}
				return engine.suspend(state, input.user, use)
			default:
				engine.executeTool(ctx, state, use)
			}
		}
		if err := engine.store.Put(state); err != nil {
			return nil, err
		}
	}

	return nil, fmt.Errorf("engine: tool loop exceeded %d rounds for session %s",
		engine.maxToolRounds, state.Session)
}

// suspend checkpoints the approval gate and exits without blocking.
func (engine *Engine) suspend(state *checkpoint.State, user ref.UserID, use *llm.ToolUse) (*Result, error) {
	pending := &checkpoint.PendingAction{
		ID:        uuid.NewString(),
		Owner:     user.String(),
		Prompt:    approvalPrompt(use),
		Options:   []string{"yes", "no"},
		ToolUse:   use,
		CreatedAt: engine.clock.Now().UTC(),
	}
	state.SetPending(pending)

	if err := engine.store.Put(state); err != nil {
		return nil, err
	}
	if err := engine.store.SetPendingMarker(state.Session, pending.ID, engine.hitlTimeout); err != nil {
		return nil, err
	}

	engine.logger.Info("workflow suspended for approval",
		"pending_id", pending.ID,
		"tool", use.Name,
	)
	return &Result{HITL: &HITLRequest{
		Question: pending.Prompt,
		Options:  pending.Options,
		Timeout:  engine.hitlTimeout,
	}}, nil
}

// executeTool runs a tool and appends its result to the history.
// Handler errors become error results for the model, not engine
// failures.
func (engine *Engine) executeTool(ctx context.Context, state *checkpoint.State, use *llm.ToolUse) {
	spec, known := engine.tools.Get(use.Name)
	if !known {
		state.AppendToolResult(use.ID, fmt.Sprintf("unknown tool %q", use.Name), true)
		return
	}
	output, err := spec.Run(ctx, use.Input)
	if err != nil {
		engine.logger.Warn("tool execution failed", "tool", use.Name, "error", err)
		state.AppendToolResult(use.ID, err.Error(), true)
		return
	}
	state.AppendToolResult(use.ID, output, false)
}

// allowedTools consults the authorization oracle. Any failure, and a
// nil oracle, yield the empty set; never the full set.
func (engine *Engine) allowedTools(ctx context.Context, user ref.UserID, room ref.RoomID) ([]string, map[string]bool) {
	if engine.authorizer == nil {
		return nil, nil
	}
	names, err := engine.authorizer.FilterTools(ctx, user, room, engine.tools.Names())
	if err != nil {
		engine.logger.Warn("tool authorization failed, offering no tools",
			"user", user,
			"error", err,
		)
		return nil, nil
	}
	allowed := make(map[string]bool, len(names))
	for _, name := range names {
		allowed[name] = true
	}
	return names, allowed
}

// buildRequest assembles the model input: system prompt, then the
// ephemeral room-context directive, then the persisted history. The
// directive is positionally first in the conversation and has no
// persisted ordinal; it is rebuilt fresh on every call.
func (engine *Engine) buildRequest(state *checkpoint.State, directive string, allowedNames []string) llm.Request {
	messages := make([]llm.Message, 0, len(state.Messages)+1)
	if directive != "" {
		messages = append(messages, llm.SystemMessage(directive))
	}
	messages = append(messages, state.Messages...)

	return llm.Request{
		Model:     engine.model,
		System:    engine.systemPrompt,
		Messages:  messages,
		Tools:     engine.tools.Definitions(allowedNames),
		MaxTokens: engine.maxTokens,
	}
}

// loadOrCreate fetches the session checkpoint, starting fresh when
// none exists. Integrity failures propagate; corrupted state is
// never silently replaced.
func (engine *Engine) loadOrCreate(id session.ID) (*checkpoint.State, error) {
	state, err := engine.store.Get(id)
	if errors.Is(err, checkpoint.ErrNotFound) {
		return checkpoint.New(id, engine.clock.Now().UTC()), nil
	}
	if err != nil {
		return nil, err
	}
	return state, nil
}

// approvalPrompt renders the human-facing question for a gated tool
// call.
func approvalPrompt(use *llm.ToolUse) string {
	input := strings.TrimSpace(string(use.Input))
	if input == "" || input == "{}" || input == "null" {
		return fmt.Sprintf("The assistant wants to run %q. Reply \"yes\" to approve or \"no\" to decline.", use.Name)
	}
	return fmt.Sprintf("The assistant wants to run %q with input %s. Reply \"yes\" to approve or \"no\" to decline.", use.Name, input)
}

// isAffirmative reports whether a validated HITL reply approves the
// pending action.
func isAffirmative(reply string) bool {
	switch strings.ToLower(strings.TrimSpace(reply)) {
	case "yes", "y", "approve", "approved", "ok", "confirm":
		return true
	}
	return false
}

func progressOrNoop(progress ProgressFunc) ProgressFunc {
	if progress == nil {
		return func(string) {}
	}
	return progress
}

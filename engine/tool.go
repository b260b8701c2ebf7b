// Copyright 2026 The Vagent Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/verji/vagent/lib/llm"
)

// Handler executes a tool invocation. The returned string is fed back
// to the model as the tool result; a non-nil error is reported to the
// model as an error result, not raised to the caller.
type Handler func(ctx context.Context, input json.RawMessage) (string, error)

// Spec describes one tool the engine can offer to the model.
type Spec struct {
	// Tool is the model-facing definition (name, description, input
	// schema).
	Tool llm.Tool

	// Sensitive marks the tool as requiring human approval. The
	// engine suspends at a HITL gate before executing it.
	Sensitive bool

	// Run executes the tool. Required.
	Run Handler
}

// Registry holds the full tool set. The per-request tool list offered
// to the model is always a filtered subset of the registry, computed
// through the authorization oracle.
type Registry struct {
	byName map[string]Spec
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]Spec)}
}

// Register adds a tool. Duplicate names and nil handlers are
// programming errors.
func (registry *Registry) Register(spec Spec) error {
	if spec.Tool.Name == "" {
		return fmt.Errorf("engine: tool name is required")
	}
	if spec.Run == nil {
		return fmt.Errorf("engine: tool %q has no handler", spec.Tool.Name)
	}
	if _, exists := registry.byName[spec.Tool.Name]; exists {
		return fmt.Errorf("engine: tool %q registered twice", spec.Tool.Name)
	}
	registry.byName[spec.Tool.Name] = spec
	return nil
}

// Names returns all registered tool names, sorted.
func (registry *Registry) Names() []string {
	names := make([]string, 0, len(registry.byName))
	for name := range registry.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Get looks up a tool by name.
func (registry *Registry) Get(name string) (Spec, bool) {
	spec, ok := registry.byName[name]
	return spec, ok
}

// Definitions returns the model-facing definitions for the given
// names, in the given order. Unknown names are skipped.
func (registry *Registry) Definitions(names []string) []llm.Tool {
	definitions := make([]llm.Tool, 0, len(names))
	for _, name := range names {
		if spec, ok := registry.byName[name]; ok {
			definitions = append(definitions, spec.Tool)
		}
	}
	return definitions
}

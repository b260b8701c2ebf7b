// Copyright 2026 The Vagent Authors
// SPDX-License-Identifier: Apache-2.0

// Package authz decides which tools a Matrix user may invoke through
// the workflow engine.
//
// Users are assigned a role; roles are granted tool name patterns.
// Everything is fail-closed: a user with no role assignment falls back
// to the DefaultRole, a role with no pattern list can invoke nothing,
// and a malformed pattern matches nothing. The tool list presented to
// the model is filtered before the request is built, so an
// unauthorized tool is never even visible to the model, and tool
// invocations are checked again at execution time in case the model
// names a tool it was not offered.
//
// Tool names are hierarchical strings using "/" as separator. Patterns
// use glob semantics: "*" matches one segment, "?" matches a single
// non-slash character, and "**" matches any number of segments.
//
//	"search"       matches "search" exactly
//	"calendar/*"   matches "calendar/read" but not "calendar/a/b"
//	"calendar/**"  matches any tool under calendar/
//	"**"           matches every tool
package authz

import (
	"context"
	"path"
	"strings"

	"github.com/verji/vagent/lib/ref"
)

// DefaultRole is assumed for users with no explicit role assignment.
const DefaultRole = "default"

// Policy maps users to roles and roles to invocable tool patterns.
// Policy is immutable after construction and safe for concurrent use.
type Policy struct {
	roles     map[ref.UserID]string
	roleTools map[string][]string
}

// NewPolicy builds a policy from configuration maps. userRoles keys
// are full Matrix user IDs; entries with unparseable IDs are dropped.
// roleTools maps role names to tool name patterns.
func NewPolicy(userRoles map[string]string, roleTools map[string][]string) *Policy {
	policy := &Policy{
		roles:     make(map[ref.UserID]string, len(userRoles)),
		roleTools: make(map[string][]string, len(roleTools)),
	}
	for rawUser, role := range userRoles {
		user, err := ref.ParseUserID(rawUser)
		if err != nil {
			continue
		}
		policy.roles[user] = role
	}
	for role, patterns := range roleTools {
		policy.roleTools[role] = append([]string(nil), patterns...)
	}
	return policy
}

// Role returns the role assigned to user, or DefaultRole.
func (policy *Policy) Role(user ref.UserID) string {
	if role, ok := policy.roles[user]; ok {
		return role
	}
	return DefaultRole
}

// Allowed reports whether user may invoke the named tool.
func (policy *Policy) Allowed(user ref.UserID, tool string) bool {
	patterns := policy.roleTools[policy.Role(user)]
	for _, pattern := range patterns {
		if matchTool(pattern, tool) {
			return true
		}
	}
	return false
}

// FilterTools implements the engine's authorization oracle over the
// static policy. The room is ignored: role assignments are global.
func (policy *Policy) FilterTools(_ context.Context, user ref.UserID, _ ref.RoomID, tools []string) ([]string, error) {
	return policy.FilterNames(user, tools), nil
}

// FilterNames returns the subset of tool names user may invoke,
// preserving order.
func (policy *Policy) FilterNames(user ref.UserID, tools []string) []string {
	var allowed []string
	for _, tool := range tools {
		if policy.Allowed(user, tool) {
			allowed = append(allowed, tool)
		}
	}
	return allowed
}

// matchTool checks a tool name against a glob pattern. "**" patterns
// are expanded by hand; everything else delegates to path.Match,
// whose "*" and "?" correctly stop at "/" boundaries. Malformed
// patterns match nothing.
func matchTool(pattern, tool string) bool {
	if pattern == "**" {
		return true
	}

	if !strings.Contains(pattern, "**") {
		matched, err := path.Match(pattern, tool)
		return err == nil && matched
	}

	// "prefix/**": the prefix alone, or the prefix plus any deeper
	// segments.
	if prefix, ok := strings.CutSuffix(pattern, "/**"); ok {
		if matchTool(prefix, tool) {
			return true
		}
		head, _, found := cutAtDepth(tool, strings.Count(prefix, "/")+1)
		return found && matchTool(prefix, head)
	}

	// "**/suffix": the suffix alone, or any leading segments plus the
	// suffix.
	if suffix, ok := strings.CutPrefix(pattern, "**/"); ok {
		if matchTool(suffix, tool) {
			return true
		}
		segments := strings.Split(tool, "/")
		suffixDepth := strings.Count(suffix, "/") + 1
		if len(segments) <= suffixDepth {
			return false
		}
		tail := strings.Join(segments[len(segments)-suffixDepth:], "/")
		return matchTool(suffix, tail)
	}

	// Interior "**" is not supported; treat as malformed.
	return false
}

// cutAtDepth splits s after the first depth "/"-separated segments.
// found is false when s has no more than depth segments.
func cutAtDepth(s string, depth int) (head, tail string, found bool) {
	index := 0
	for range depth {
		next := strings.Index(s[index:], "/")
		if next < 0 {
			return "", "", false
		}
		index += next + 1
	}
	return s[:index-1], s[index:], true
}

// Copyright 2026 The Vagent Authors
// SPDX-License-Identifier: Apache-2.0

package authz

import (
	"testing"

	"github.com/verji/vagent/lib/ref"
)

var (
	alice = ref.MustParseUserID("@alice:example.org")
	bob   = ref.MustParseUserID("@bob:example.org")
	carol = ref.MustParseUserID("@carol:example.org")
)

func testPolicy() *Policy {
	return NewPolicy(
		map[string]string{
			"@alice:example.org": "admin",
			"@bob:example.org":   "member",
			"not-a-user-id":      "admin",
		},
		map[string][]string{
			"admin":   {"**"},
			"member":  {"search", "calendar/*"},
			"default": {},
		},
	)
}

func TestRoleAssignment(t *testing.T) {
	policy := testPolicy()

	if got := policy.Role(alice); got != "admin" {
		t.Errorf("Role(alice) = %q, want admin", got)
	}
	if got := policy.Role(carol); got != DefaultRole {
		t.Errorf("Role(carol) = %q, want %q", got, DefaultRole)
	}
}

func TestAllowed(t *testing.T) {
	policy := testPolicy()

	tests := []struct {
		user ref.UserID
		tool string
		want bool
	}{
		{alice, "search", true},
		{alice, "calendar/delete/all", true},
		{bob, "search", true},
		{bob, "calendar/read", true},
		{bob, "calendar/read/deep", false},
		{bob, "shell", false},
		// Unassigned users get the empty default role.
		{carol, "search", false},
	}
	for _, test := range tests {
		if got := policy.Allowed(test.user, test.tool); got != test.want {
			t.Errorf("Allowed(%s, %q) = %v, want %v", test.user, test.tool, got, test.want)
		}
	}
}

func TestUnknownRoleFailsClosed(t *testing.T) {
	policy := NewPolicy(map[string]string{"@alice:example.org": "ghost"}, nil)
	if policy.Allowed(alice, "search") {
		t.Error("role with no tool list must invoke nothing")
	}
}

func TestFilterNames(t *testing.T) {
	policy := testPolicy()

	got := policy.FilterNames(bob, []string{"shell", "search", "calendar/read", "admin/wipe"})
	want := []string{"search", "calendar/read"}
	if len(got) != len(want) {
		t.Fatalf("FilterNames = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("FilterNames = %v, want %v", got, want)
		}
	}
}

func TestMatchTool(t *testing.T) {
	tests := []struct {
		pattern string
		tool    string
		want    bool
	}{
		{"search", "search", true},
		{"search", "searches", false},
		{"**", "anything/at/all", true},
		{"calendar/*", "calendar/read", true},
		{"calendar/*", "calendar", false},
		{"calendar/*", "calendar/a/b", false},
		{"calendar/**", "calendar", true},
		{"calendar/**", "calendar/a/b/c", true},
		{"calendar/**", "mail/read", false},
		{"**/read", "read", true},
		{"**/read", "calendar/read", true},
		{"**/read", "calendar/read/x", false},
		{"too?s", "tools", true},
		{"too?s", "too/s", false},
		// Malformed patterns match nothing.
		{"[", "anything", false},
		{"a/**/b", "a/x/b", false},
	}
	for _, test := range tests {
		if got := matchTool(test.pattern, test.tool); got != test.want {
			t.Errorf("matchTool(%q, %q) = %v, want %v", test.pattern, test.tool, got, test.want)
		}
	}
}

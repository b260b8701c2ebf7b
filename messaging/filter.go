// Copyright 2026 The Vagent Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import "encoding/json"

// SyncFilter restricts what the /sync endpoint returns. The bot's
// dispatch loop only cares about timeline messages and invites, so the
// default filter drops presence and account data entirely.
type SyncFilter struct {
	// TimelineTypes restricts timeline events to these Matrix event
	// types (e.g., "m.room.message"). An empty slice means all types.
	TimelineTypes []string

	// TimelineLimit caps the number of timeline events per room per
	// /sync response. Zero means server default.
	TimelineLimit int

	// ExcludeState suppresses state events from joined rooms. Invite
	// state is unaffected; invites always arrive with their state.
	ExcludeState bool
}

// InlineJSON renders the filter as an inline JSON filter string for the
// /sync "filter" query parameter. Inline filters avoid the separate
// filter-registration round trip and work identically on every
// homeserver.
func (f *SyncFilter) InlineJSON() string {
	roomFilter := map[string]any{}

	if len(f.TimelineTypes) > 0 {
		timeline := map[string]any{"types": f.TimelineTypes}
		if f.TimelineLimit > 0 {
			timeline["limit"] = f.TimelineLimit
		}
		roomFilter["timeline"] = timeline
	} else if f.TimelineLimit > 0 {
		roomFilter["timeline"] = map[string]any{"limit": f.TimelineLimit}
	}

	if f.ExcludeState {
		roomFilter["state"] = map[string]any{"types": []string{}}
	}

	top := map[string]any{
		"room":         roomFilter,
		"presence":     map[string]any{"types": []string{}},
		"account_data": map[string]any{"types": []string{}},
	}

	data, _ := json.Marshal(top)
	return string(data)
}

// Copyright 2026 The Vagent Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/verji/vagent/lib/ref"
)

// testSession wires a Session to the given handler via httptest.
func testSession(t *testing.T, handler http.Handler) *Session {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClient(ClientConfig{HomeserverURL: server.URL})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	session, err := client.SessionFromToken(ref.MustParseUserID("@vagent:example.com"), "syt_test")
	if err != nil {
		t.Fatalf("SessionFromToken: %v", err)
	}
	t.Cleanup(func() { session.Close() })
	return session
}

func TestSendMessageIdempotentPut(t *testing.T) {
	var paths []string
	session := testSession(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			t.Errorf("method = %s, want PUT", r.Method)
		}
		paths = append(paths, r.URL.Path)
		var content MessageContent
		if err := json.NewDecoder(r.Body).Decode(&content); err != nil {
			t.Errorf("decoding message content: %v", err)
		}
		if content.MsgType != "m.text" {
			t.Errorf("msgtype = %q", content.MsgType)
		}
		json.NewEncoder(w).Encode(SendEventResponse{EventID: ref.MustParseEventID("$sent1")})
	}))

	roomID := ref.MustParseRoomID("!room:example.com")
	eventID, err := session.SendMessage(context.Background(), roomID, NewTextMessage("hello"))
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if eventID.String() != "$sent1" {
		t.Errorf("event ID = %q", eventID)
	}
	if _, err := session.SendMessage(context.Background(), roomID, NewTextMessage("again")); err != nil {
		t.Fatalf("second SendMessage: %v", err)
	}

	if len(paths) != 2 {
		t.Fatalf("got %d requests, want 2", len(paths))
	}
	for _, path := range paths {
		if !strings.Contains(path, "/send/m.room.message/vagent-") {
			t.Errorf("path %q missing transaction ID segment", path)
		}
	}
	if paths[0] == paths[1] {
		t.Error("transaction IDs must be unique across sends")
	}
}

func TestThreadReplyContent(t *testing.T) {
	root := ref.MustParseEventID("$root")
	content := NewThreadReply(root, "reply body")

	if content.RelatesTo == nil {
		t.Fatal("thread reply has no m.relates_to")
	}
	if content.RelatesTo.RelType != "m.thread" {
		t.Errorf("rel_type = %q", content.RelatesTo.RelType)
	}
	if content.RelatesTo.EventID != root {
		t.Errorf("thread root = %q", content.RelatesTo.EventID)
	}
	if content.RelatesTo.InReplyTo == nil || content.RelatesTo.InReplyTo.EventID != root {
		t.Error("fallback in_reply_to must reference the thread root")
	}
}

func TestSendTyping(t *testing.T) {
	var gotPath string
	var gotRequest TypingRequest
	session := testSession(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			t.Errorf("method = %s, want PUT", r.Method)
		}
		gotPath = r.URL.Path
		var request TypingRequest
		if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
			t.Errorf("decoding typing request: %v", err)
		}
		gotRequest = request
		w.Write([]byte("{}"))
	}))

	roomID := ref.MustParseRoomID("!room:example.com")
	if err := session.SendTyping(context.Background(), roomID, true, 30*time.Second); err != nil {
		t.Fatalf("SendTyping: %v", err)
	}

	if !strings.HasSuffix(gotPath, "/typing/"+"@vagent:example.com") && !strings.Contains(gotPath, "typing") {
		t.Errorf("typing path = %q", gotPath)
	}
	if !gotRequest.Typing || gotRequest.Timeout != 30000 {
		t.Errorf("typing request = %+v", gotRequest)
	}

	// Clearing the indicator omits the timeout.
	if err := session.SendTyping(context.Background(), roomID, false, time.Minute); err != nil {
		t.Fatalf("SendTyping(false): %v", err)
	}
	if gotRequest.Typing || gotRequest.Timeout != 0 {
		t.Errorf("clear request = %+v", gotRequest)
	}
}

func TestRoomMessagesQuery(t *testing.T) {
	session := testSession(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		if query.Get("dir") != "b" {
			t.Errorf("dir = %q, want backward default", query.Get("dir"))
		}
		if query.Get("limit") != "20" {
			t.Errorf("limit = %q", query.Get("limit"))
		}
		if query.Get("from") != "tok123" {
			t.Errorf("from = %q", query.Get("from"))
		}
		json.NewEncoder(w).Encode(RoomMessagesResponse{
			Start: "tok123",
			End:   "tok456",
			Chunk: []Event{{
				EventID: ref.MustParseEventID("$m1"),
				Type:    "m.room.message",
				Sender:  ref.MustParseUserID("@alice:example.com"),
				Content: map[string]any{"msgtype": "m.text", "body": "hi"},
			}},
		})
	}))

	response, err := session.RoomMessages(context.Background(), ref.MustParseRoomID("!room:example.com"), RoomMessagesOptions{
		From:  "tok123",
		Limit: 20,
	})
	if err != nil {
		t.Fatalf("RoomMessages: %v", err)
	}
	if len(response.Chunk) != 1 || response.End != "tok456" {
		t.Errorf("response = %+v", response)
	}
	msgtype, body := response.Chunk[0].MessageBody()
	if msgtype != "m.text" || body != "hi" {
		t.Errorf("MessageBody = %q, %q", msgtype, body)
	}
}

func TestThreadMessagesPath(t *testing.T) {
	var gotPath string
	session := testSession(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		json.NewEncoder(w).Encode(ThreadMessagesResponse{})
	}))

	_, err := session.ThreadMessages(context.Background(),
		ref.MustParseRoomID("!room:example.com"),
		ref.MustParseEventID("$root"),
		ThreadMessagesOptions{Limit: 50},
	)
	if err != nil {
		t.Fatalf("ThreadMessages: %v", err)
	}
	if !strings.HasSuffix(gotPath, "/relations/%24root/m.thread") && !strings.HasSuffix(gotPath, "/relations/$root/m.thread") {
		t.Errorf("thread path = %q", gotPath)
	}
}

func TestSyncLongPoll(t *testing.T) {
	session := testSession(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		if query.Get("since") != "s1" {
			t.Errorf("since = %q", query.Get("since"))
		}
		if query.Get("timeout") != "30000" {
			t.Errorf("timeout = %q", query.Get("timeout"))
		}
		if query.Get("filter") == "" {
			t.Error("filter not sent")
		}
		json.NewEncoder(w).Encode(SyncResponse{
			NextBatch: "s2",
			Rooms: RoomsSection{
				Join: map[ref.RoomID]JoinedRoom{
					ref.MustParseRoomID("!room:example.com"): {
						Timeline: TimelineSection{Events: []Event{{
							EventID: ref.MustParseEventID("$e1"),
							Type:    "m.room.message",
							Sender:  ref.MustParseUserID("@alice:example.com"),
							Content: map[string]any{"msgtype": "m.text", "body": "ping"},
						}}},
					},
				},
			},
		})
	}))

	filter := SyncFilter{TimelineTypes: []string{"m.room.message"}}
	response, err := session.Sync(context.Background(), SyncOptions{
		Since:      "s1",
		Timeout:    30000,
		SetTimeout: true,
		Filter:     filter.InlineJSON(),
	})
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if response.NextBatch != "s2" {
		t.Errorf("next batch = %q", response.NextBatch)
	}
	joined := response.Rooms.Join[ref.MustParseRoomID("!room:example.com")]
	if len(joined.Timeline.Events) != 1 {
		t.Fatalf("timeline events = %d", len(joined.Timeline.Events))
	}
}

func TestEventThreadRoot(t *testing.T) {
	threaded := Event{Content: map[string]any{
		"msgtype": "m.text",
		"body":    "in thread",
		"m.relates_to": map[string]any{
			"rel_type": "m.thread",
			"event_id": "$root",
		},
	}}
	if got := threaded.ThreadRoot(); got.String() != "$root" {
		t.Errorf("ThreadRoot = %q", got)
	}

	plain := Event{Content: map[string]any{"msgtype": "m.text", "body": "top level"}}
	if got := plain.ThreadRoot(); !got.IsZero() {
		t.Errorf("ThreadRoot of plain message = %q", got)
	}

	reaction := Event{Content: map[string]any{
		"m.relates_to": map[string]any{
			"rel_type": "m.annotation",
			"event_id": "$other",
		},
	}}
	if got := reaction.ThreadRoot(); !got.IsZero() {
		t.Errorf("ThreadRoot of annotation = %q", got)
	}
}

func TestSyncFilterInlineJSON(t *testing.T) {
	filter := SyncFilter{
		TimelineTypes: []string{"m.room.message"},
		TimelineLimit: 10,
		ExcludeState:  true,
	}

	var decoded map[string]any
	if err := json.Unmarshal([]byte(filter.InlineJSON()), &decoded); err != nil {
		t.Fatalf("filter is not valid JSON: %v", err)
	}

	room := decoded["room"].(map[string]any)
	timeline := room["timeline"].(map[string]any)
	types := timeline["types"].([]any)
	if len(types) != 1 || types[0] != "m.room.message" {
		t.Errorf("timeline types = %v", types)
	}
	if timeline["limit"].(float64) != 10 {
		t.Errorf("timeline limit = %v", timeline["limit"])
	}
	if _, ok := room["state"]; !ok {
		t.Error("state suppression missing")
	}
	presence := decoded["presence"].(map[string]any)
	if len(presence["types"].([]any)) != 0 {
		t.Error("presence not filtered out")
	}
}

// Copyright 2026 The Vagent Authors
// SPDX-License-Identifier: Apache-2.0

package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestOpenAIComplete(t *testing.T) {
	var gotRequest openaiRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("path = %q, want /v1/chat/completions", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotRequest); err != nil {
			t.Errorf("decoding request: %v", err)
		}
		io.WriteString(w, `{
			"model": "test-model",
			"choices": [{"index": 0, "finish_reason": "stop",
				"message": {"role": "assistant", "content": "hello there"}}],
			"usage": {"prompt_tokens": 12, "completion_tokens": 3}
		}`)
	}))
	defer server.Close()

	provider := NewOpenAI(server.Client(), server.URL+"/v1", nil)
	response, err := provider.Complete(context.Background(), Request{
		Model:     "test-model",
		System:    "be brief",
		Messages:  []Message{UserMessage("hi")},
		MaxTokens: 64,
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}

	if response.Text() != "hello there" {
		t.Errorf("Text = %q, want %q", response.Text(), "hello there")
	}
	if response.StopReason != StopReasonEndTurn {
		t.Errorf("StopReason = %q, want end_turn", response.StopReason)
	}
	if response.Usage.InputTokens != 12 || response.Usage.OutputTokens != 3 {
		t.Errorf("Usage = %+v", response.Usage)
	}

	// System prompt becomes the leading system wire message.
	if len(gotRequest.Messages) != 2 {
		t.Fatalf("sent %d wire messages, want 2", len(gotRequest.Messages))
	}
	if gotRequest.Messages[0].Role != "system" {
		t.Errorf("first wire role = %q, want system", gotRequest.Messages[0].Role)
	}
}

func TestOpenAICompleteToolCalls(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{
			"model": "test-model",
			"choices": [{"index": 0, "finish_reason": "tool_calls",
				"message": {"role": "assistant", "tool_calls": [
					{"id": "call_1", "type": "function",
					 "function": {"name": "lookup", "arguments": "{\"q\":\"go\"}"}}]}}],
			"usage": {"prompt_tokens": 5, "completion_tokens": 9}
		}`)
	}))
	defer server.Close()

	provider := NewOpenAI(server.Client(), server.URL, nil)
	response, err := provider.Complete(context.Background(), Request{Model: "test-model", MaxTokens: 64})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}

	if response.StopReason != StopReasonToolUse {
		t.Errorf("StopReason = %q, want tool_use", response.StopReason)
	}
	uses := response.ToolUses()
	if len(uses) != 1 {
		t.Fatalf("got %d tool uses, want 1", len(uses))
	}
	if uses[0].ID != "call_1" || uses[0].Name != "lookup" {
		t.Errorf("tool use = %+v", uses[0])
	}
	if string(uses[0].Input) != `{"q":"go"}` {
		t.Errorf("tool input = %s", uses[0].Input)
	}
}

func TestOpenAIErrorResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		io.WriteString(w, `{"error":{"type":"rate_limit_error","message":"slow down"}}`)
	}))
	defer server.Close()

	provider := NewOpenAI(server.Client(), server.URL, nil)
	_, err := provider.Complete(context.Background(), Request{Model: "m", MaxTokens: 1})
	if err == nil {
		t.Fatal("expected error")
	}

	var providerErr *ProviderError
	if !errors.As(err, &providerErr) {
		t.Fatalf("error type %T, want *ProviderError", err)
	}
	if !providerErr.IsRateLimited() {
		t.Errorf("IsRateLimited = false for status %d", providerErr.StatusCode)
	}
	if providerErr.Type != "rate_limit_error" || providerErr.Message != "slow down" {
		t.Errorf("unexpected error fields: %+v", providerErr)
	}
}

const streamBody = `data: {"id":"c1","model":"test-model","choices":[{"index":0,"delta":{"role":"assistant","content":"Hel"},"finish_reason":null}]}

data: {"id":"c1","choices":[{"index":0,"delta":{"content":"lo"},"finish_reason":null}]}

data: {"id":"c1","choices":[{"index":0,"delta":{},"finish_reason":"stop"}]}

data: {"id":"c1","choices":[],"usage":{"prompt_tokens":4,"completion_tokens":2}}

data: [DONE]

`

func TestOpenAIStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, streamBody)
	}))
	defer server.Close()

	provider := NewOpenAI(server.Client(), server.URL, nil)
	stream, err := provider.Stream(context.Background(), Request{Model: "test-model", MaxTokens: 16})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	defer stream.Close()

	var deltas string
	for {
		event, err := stream.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if event.Type == EventTextDelta {
			deltas += event.Text
		}
	}

	if deltas != "Hello" {
		t.Errorf("accumulated deltas = %q, want Hello", deltas)
	}

	response := stream.Response()
	if response.Text() != "Hello" {
		t.Errorf("response text = %q, want Hello", response.Text())
	}
	if response.StopReason != StopReasonEndTurn {
		t.Errorf("StopReason = %q, want end_turn", response.StopReason)
	}
	if response.Model != "test-model" {
		t.Errorf("Model = %q, want test-model", response.Model)
	}
	if response.Usage.InputTokens != 4 || response.Usage.OutputTokens != 2 {
		t.Errorf("Usage = %+v", response.Usage)
	}
}

const toolStreamBody = `data: {"id":"c2","model":"test-model","choices":[{"index":0,"delta":{"role":"assistant","tool_calls":[{"index":0,"id":"call_9","type":"function","function":{"name":"search","arguments":"{\"q\":"}}]},"finish_reason":null}]}

data: {"id":"c2","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"\"go\"}"}}]},"finish_reason":null}]}

data: {"id":"c2","choices":[{"index":0,"delta":{},"finish_reason":"tool_calls"}]}

data: [DONE]

`

func TestOpenAIStreamToolCalls(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, toolStreamBody)
	}))
	defer server.Close()

	provider := NewOpenAI(server.Client(), server.URL, nil)
	stream, err := provider.Stream(context.Background(), Request{Model: "test-model", MaxTokens: 16})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	defer stream.Close()

	for {
		_, err := stream.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
	}

	response := stream.Response()
	if response.StopReason != StopReasonToolUse {
		t.Errorf("StopReason = %q, want tool_use", response.StopReason)
	}
	uses := response.ToolUses()
	if len(uses) != 1 {
		t.Fatalf("got %d tool uses, want 1", len(uses))
	}
	if uses[0].ID != "call_9" || uses[0].Name != "search" {
		t.Errorf("tool use = %+v", uses[0])
	}
	if string(uses[0].Input) != `{"q":"go"}` {
		t.Errorf("assembled arguments = %s", uses[0].Input)
	}
}

func TestOpenAIStreamError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, "data: {\"error\":{\"type\":\"overloaded\",\"message\":\"busy\"}}\n\ndata: [DONE]\n\n")
	}))
	defer server.Close()

	provider := NewOpenAI(server.Client(), server.URL, nil)
	stream, err := provider.Stream(context.Background(), Request{Model: "m", MaxTokens: 1})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	defer stream.Close()

	event, err := stream.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if event.Type != EventError || event.Error == nil {
		t.Fatalf("event = %+v, want EventError", event)
	}
}

func TestToolResultsBecomeToolMessages(t *testing.T) {
	message := Message{Role: RoleUser, Content: []ContentBlock{
		TextBlock("context"),
		ToolResultBlock("call_1", "42", false),
	}}

	wire := toOpenAIMessages(message)
	if len(wire) != 2 {
		t.Fatalf("got %d wire messages, want 2", len(wire))
	}
	if wire[0].Role != "user" || wire[1].Role != "tool" {
		t.Errorf("roles = %q, %q", wire[0].Role, wire[1].Role)
	}
	if wire[1].ToolCallID != "call_1" {
		t.Errorf("tool_call_id = %q, want call_1", wire[1].ToolCallID)
	}
}

// Copyright 2026 The Vagent Authors
// SPDX-License-Identifier: Apache-2.0

package llm

import (
	"encoding/json"
	"strings"
)

// Role identifies the author of a [Message].
type Role string

const (
	// RoleSystem carries instructions and ambient context. System
	// messages are visible to the model but belong to the application,
	// not the conversation itself.
	RoleSystem Role = "system"
	// RoleUser is the human side of the conversation, including tool
	// results fed back to the model.
	RoleUser Role = "user"
	// RoleAssistant is the model side of the conversation.
	RoleAssistant Role = "assistant"
)

// ContentType discriminates the variants of a [ContentBlock].
type ContentType string

const (
	ContentText       ContentType = "text"
	ContentToolUse    ContentType = "tool_use"
	ContentToolResult ContentType = "tool_result"
)

// ContentBlock is one unit of message content. Exactly one of the
// variant fields is populated, selected by Type.
type ContentBlock struct {
	Type ContentType `json:"type"`

	// Text is set when Type is ContentText.
	Text string `json:"text,omitempty"`

	// ToolUse is set when Type is ContentToolUse.
	ToolUse *ToolUse `json:"tool_use,omitempty"`

	// ToolResult is set when Type is ContentToolResult.
	ToolResult *ToolResult `json:"tool_result,omitempty"`
}

// ToolUse is a model request to invoke a tool.
type ToolUse struct {
	// ID correlates this invocation with its eventual ToolResult.
	ID string `json:"id"`

	// Name is the tool being invoked.
	Name string `json:"name"`

	// Input is the invocation arguments as a JSON object.
	Input json.RawMessage `json:"input"`
}

// ToolResult is the outcome of a tool invocation, fed back to the
// model in a user message.
type ToolResult struct {
	// ToolUseID matches the ID of the ToolUse this answers.
	ToolUseID string `json:"tool_use_id"`

	// Content is the tool output as text.
	Content string `json:"content"`

	// IsError marks the content as an error description rather than
	// a successful result.
	IsError bool `json:"is_error,omitempty"`
}

// TextBlock builds a text content block.
func TextBlock(text string) ContentBlock {
	return ContentBlock{Type: ContentText, Text: text}
}

// ToolUseBlock builds a tool-use content block.
func ToolUseBlock(id, name string, input json.RawMessage) ContentBlock {
	return ContentBlock{Type: ContentToolUse, ToolUse: &ToolUse{ID: id, Name: name, Input: input}}
}

// ToolResultBlock builds a tool-result content block.
func ToolResultBlock(toolUseID, content string, isError bool) ContentBlock {
	return ContentBlock{Type: ContentToolResult, ToolResult: &ToolResult{
		ToolUseID: toolUseID,
		Content:   content,
		IsError:   isError,
	}}
}

// Message is one turn of a conversation.
type Message struct {
	Role    Role           `json:"role"`
	Content []ContentBlock `json:"content"`
}

// UserMessage builds a user message with a single text block.
func UserMessage(text string) Message {
	return Message{Role: RoleUser, Content: []ContentBlock{TextBlock(text)}}
}

// AssistantMessage builds an assistant message with a single text block.
func AssistantMessage(text string) Message {
	return Message{Role: RoleAssistant, Content: []ContentBlock{TextBlock(text)}}
}

// SystemMessage builds a system message with a single text block.
func SystemMessage(text string) Message {
	return Message{Role: RoleSystem, Content: []ContentBlock{TextBlock(text)}}
}

// Text returns the message's text blocks concatenated in order.
func (message Message) Text() string {
	var builder strings.Builder
	for _, block := range message.Content {
		if block.Type == ContentText {
			builder.WriteString(block.Text)
		}
	}
	return builder.String()
}

// Tool describes a tool the model may invoke.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// Request is a provider-agnostic completion request.
type Request struct {
	Model         string
	System        string
	Messages      []Message
	Tools         []Tool
	MaxTokens     int
	Temperature   *float64
	StopSequences []string
}

// StopReason reports why the model stopped generating.
type StopReason string

const (
	StopReasonEndTurn   StopReason = "end_turn"
	StopReasonToolUse   StopReason = "tool_use"
	StopReasonMaxTokens StopReason = "max_tokens"
)

// Usage reports token accounting for a request.
type Usage struct {
	InputTokens     int64
	OutputTokens    int64
	CacheReadTokens int64
}

// Response is a provider-agnostic completion response.
type Response struct {
	Model      string
	Content    []ContentBlock
	StopReason StopReason
	Usage      Usage
}

// Text returns the response's text blocks concatenated in order.
func (response *Response) Text() string {
	return Message{Content: response.Content}.Text()
}

// ToolUses returns the tool invocations requested by the response,
// in content order.
func (response *Response) ToolUses() []*ToolUse {
	var uses []*ToolUse
	for _, block := range response.Content {
		if block.Type == ContentToolUse && block.ToolUse != nil {
			uses = append(uses, block.ToolUse)
		}
	}
	return uses
}

// EventType discriminates [StreamEvent] variants.
type EventType string

const (
	// EventTextDelta carries an incremental chunk of text content.
	EventTextDelta EventType = "text_delta"
	// EventContentBlockDone carries a finalized content block.
	EventContentBlockDone EventType = "content_block_done"
	// EventDone marks the end of the stream.
	EventDone EventType = "done"
	// EventError carries a mid-stream error reported by the provider.
	EventError EventType = "error"
)

// StreamEvent is one event from a streaming response.
type StreamEvent struct {
	Type EventType

	// Text is set for EventTextDelta.
	Text string

	// ContentBlock is set for EventContentBlockDone.
	ContentBlock ContentBlock

	// Error is set for EventError.
	Error error
}

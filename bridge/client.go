// Copyright 2026 The Vagent Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/verji/vagent/lib/netutil"
	"github.com/verji/vagent/lib/sse"
)

// Client implements Handler over the HTTP transport, for running the
// chat-facing process apart from the workflow process.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a bridge client against baseURL. A nil httpClient
// uses http.DefaultClient; for /v1/process the client must have no
// overall timeout, since the stream stays open for the whole
// workflow run.
func NewClient(baseURL string, httpClient *http.Client) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("bridge: baseURL is required")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("bridge: invalid baseURL %q: %w", baseURL, err)
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
	}, nil
}

// Process implements Handler. A stream that ends without a terminal
// event is surfaced to the sink as an error event, so the consumer's
// exactly-one-terminal contract holds even across transport failure.
func (client *Client) Process(ctx context.Context, request Request, sink EventSink) error {
	response, err := client.post(ctx, "/v1/process", request)
	if err != nil {
		return err
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return fmt.Errorf("bridge: process returned %d: %s",
			response.StatusCode, netutil.ErrorBody(response.Body))
	}

	scanner := sse.NewScanner(response.Body)
	for scanner.Next() {
		var event Event
		if err := json.Unmarshal([]byte(scanner.Event().Data), &event); err != nil {
			return fmt.Errorf("bridge: decoding stream event: %w", err)
		}
		if err := sink(event); err != nil {
			return err
		}
		if event.Type.Terminal() {
			return nil
		}
	}

	// The stream ended without a terminal event: connection lost or
	// server died mid-request.
	truncated := Event{
		Type:    EventError,
		Code:    CodeInternal,
		Message: "event stream ended unexpectedly",
	}
	if err := scanner.Err(); err != nil {
		truncated.Message = fmt.Sprintf("event stream failed: %v", err)
	}
	return sink(truncated)
}

// Feedback implements Handler.
func (client *Client) Feedback(ctx context.Context, feedback Feedback) (FeedbackAck, error) {
	response, err := client.post(ctx, "/v1/feedback", feedback)
	if err != nil {
		return FeedbackAck{}, err
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return FeedbackAck{}, fmt.Errorf("bridge: feedback returned %d: %s",
			response.StatusCode, netutil.ErrorBody(response.Body))
	}

	var ack FeedbackAck
	if err := netutil.DecodeResponse(response.Body, &ack); err != nil {
		return FeedbackAck{}, fmt.Errorf("bridge: decoding feedback ack: %w", err)
	}
	return ack, nil
}

// Forget implements Handler.
func (client *Client) Forget(ctx context.Context, request ForgetRequest) error {
	response, err := client.post(ctx, "/v1/forget", request)
	if err != nil {
		return err
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return fmt.Errorf("bridge: forget returned %d: %s",
			response.StatusCode, netutil.ErrorBody(response.Body))
	}
	return nil
}

func (client *Client) post(ctx context.Context, path string, payload any) (*http.Response, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("bridge: encoding request: %w", err)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost,
		client.baseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return nil, fmt.Errorf("bridge: creating request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")

	response, err := client.httpClient.Do(request)
	if err != nil {
		return nil, fmt.Errorf("bridge: request to %s failed: %w", path, err)
	}
	return response, nil
}

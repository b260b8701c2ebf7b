// Copyright 2026 The Vagent Authors
// SPDX-License-Identifier: Apache-2.0

package netutil

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

// brokenReader fails after yielding a prefix of its payload.
type brokenReader struct {
	prefix string
	done   bool
}

func (r *brokenReader) Read(p []byte) (int, error) {
	if !r.done {
		r.done = true
		return copy(p, r.prefix), nil
	}
	return 0, errors.New("connection reset")
}

// endlessReader yields 'x' bytes forever.
type endlessReader struct{}

func (endlessReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = 'x'
	}
	return len(p), nil
}

func TestReadResponseBoundsBody(t *testing.T) {
	// A body that never ends comes back truncated to exactly
	// MaxResponseSize, without error.
	data, err := ReadResponse(endlessReader{})
	if err != nil {
		t.Fatalf("ReadResponse: %v", err)
	}
	if int64(len(data)) != MaxResponseSize {
		t.Errorf("read %d bytes, want cap of %d", len(data), MaxResponseSize)
	}
}

func TestReadResponsePassesThroughSmallBodies(t *testing.T) {
	data, err := ReadResponse(strings.NewReader(`{"ok":true}`))
	if err != nil {
		t.Fatalf("ReadResponse: %v", err)
	}
	if string(data) != `{"ok":true}` {
		t.Errorf("body = %q", data)
	}
}

func TestReadResponsePropagatesReadErrors(t *testing.T) {
	if _, err := ReadResponse(&brokenReader{prefix: "{"}); err == nil {
		t.Error("ReadResponse swallowed a transport error")
	}
}

func TestDecodeResponse(t *testing.T) {
	var payload struct {
		Answer  string `json:"answer"`
		Retries int    `json:"retries"`
	}
	err := DecodeResponse(bytes.NewReader([]byte(`{"answer":"yes","retries":3}`)), &payload)
	if err != nil {
		t.Fatalf("DecodeResponse: %v", err)
	}
	if payload.Answer != "yes" || payload.Retries != 3 {
		t.Errorf("decoded %+v", payload)
	}
}

func TestDecodeResponseRejectsMalformedJSON(t *testing.T) {
	var payload map[string]any
	if err := DecodeResponse(strings.NewReader("<html>gateway error</html>"), &payload); err == nil {
		t.Error("DecodeResponse accepted a non-JSON body")
	}
}

func TestDecodeResponseWrapsTransportErrors(t *testing.T) {
	var payload map[string]any
	err := DecodeResponse(&brokenReader{prefix: `{"ans`}, &payload)
	if err == nil {
		t.Fatal("DecodeResponse swallowed a transport error")
	}
	if !strings.Contains(err.Error(), "reading response body") {
		t.Errorf("error %q lacks the read-stage prefix", err)
	}
}

func TestErrorBodyNeverFails(t *testing.T) {
	if got := ErrorBody(strings.NewReader(`{"errcode":"M_LIMIT_EXCEEDED"}`)); !strings.Contains(got, "M_LIMIT_EXCEEDED") {
		t.Errorf("ErrorBody = %q", got)
	}
	// A mid-read failure still returns whatever arrived.
	if got := ErrorBody(&brokenReader{prefix: "partial"}); got != "partial" {
		t.Errorf("ErrorBody on broken reader = %q, want the partial prefix", got)
	}
	if got := ErrorBody(strings.NewReader("")); got != "" {
		t.Errorf("ErrorBody on empty body = %q", got)
	}
}

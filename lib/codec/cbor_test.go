// Copyright 2026 The Vagent Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"bytes"
	"testing"

	"github.com/verji/vagent/lib/ref"
)

type sampleRecord struct {
	Question string     `cbor:"question"`
	Options  []string   `cbor:"options,omitempty"`
	Owner    ref.UserID `cbor:"owner"`
	Timeout  int        `cbor:"timeout"`
}

func TestMarshalUnmarshalRoundtrip(t *testing.T) {
	original := sampleRecord{
		Question: "Delete the shared document?",
		Options:  []string{"yes", "no"},
		Owner:    ref.MustParseUserID("@alice:example.org"),
		Timeout:  3600,
	}

	data, err := Marshal(original)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("Marshal produced empty output")
	}

	var decoded sampleRecord
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if decoded.Question != original.Question ||
		decoded.Owner != original.Owner ||
		decoded.Timeout != original.Timeout ||
		len(decoded.Options) != len(original.Options) {
		t.Errorf("roundtrip mismatch: got %+v, want %+v", decoded, original)
	}
}

func TestMarshalDeterministic(t *testing.T) {
	record := sampleRecord{
		Question: "Proceed?",
		Owner:    ref.MustParseUserID("@bob:example.org"),
		Timeout:  60,
	}

	first, err := Marshal(record)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	second, err := Marshal(record)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Error("deterministic encoding produced different bytes for equal values")
	}
}

func TestTextMarshalerAsString(t *testing.T) {
	// ref types carry unexported fields. Without the TextMarshaler
	// configuration they would encode as empty maps and lose identity.
	userID := ref.MustParseUserID("@carol:example.org")

	data, err := Marshal(userID)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var decoded ref.UserID
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if decoded != userID {
		t.Errorf("user ID did not survive CBOR roundtrip: got %v, want %v", decoded, userID)
	}
}

func TestUnmarshalIgnoresUnknownFields(t *testing.T) {
	type extended struct {
		Question string `cbor:"question"`
		Extra    string `cbor:"extra"`
	}
	data, err := Marshal(extended{Question: "q", Extra: "surplus"})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var narrow struct {
		Question string `cbor:"question"`
	}
	if err := Unmarshal(data, &narrow); err != nil {
		t.Fatalf("Unmarshal with unknown field: %v", err)
	}
	if narrow.Question != "q" {
		t.Errorf("Question = %q, want %q", narrow.Question, "q")
	}
}

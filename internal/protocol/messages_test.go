package protocol

import (
	"encoding/json"
	"testing"

	"github.com/friendlychat/chat-app/internal/chat"
)

// ---------------------------------------------------------------------------
// Test: Parsing client messages
// ---------------------------------------------------------------------------

func TestParseClientMessage_Append(t *testing.T) {
	input := []byte(`{"type":"append","ref":"r1","text":"hi","name":"Alice"}`)

	msgType, msg, err := ParseClientMessage(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msgType != TypeAppend {
		t.Fatalf("expected type %q, got %q", TypeAppend, msgType)
	}

	am, ok := msg.(AppendMsg)
	if !ok {
		t.Fatalf("expected AppendMsg, got %T", msg)
	}
	if am.Ref != "r1" {
		t.Errorf("expected ref %q, got %q", "r1", am.Ref)
	}
	rec := am.Message()
	if rec.Text == nil || *rec.Text != "hi" || rec.PhotoURL != nil || rec.Name != "Alice" {
		t.Errorf("unexpected record: %+v", rec)
	}
}

func TestParseClientMessage_Auth(t *testing.T) {
	msgType, msg, err := ParseClientMessage([]byte(`{"type":"auth","token":"abc"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msgType != TypeAuth {
		t.Fatalf("expected type %q, got %q", TypeAuth, msgType)
	}
	if am := msg.(AuthMsg); am.Token != "abc" {
		t.Errorf("expected token abc, got %q", am.Token)
	}
}

func TestParseClientMessage_SubscribeAndPing(t *testing.T) {
	for _, typ := range []string{TypeSubscribe, TypeUnsubscribe, TypePing} {
		msgType, _, err := ParseClientMessage([]byte(`{"type":"` + typ + `"}`))
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", typ, err)
		}
		if msgType != typ {
			t.Errorf("expected %q, got %q", typ, msgType)
		}
	}
}

func TestParseClientMessage_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"invalid json", `{not json`},
		{"missing type", `{"text":"hi"}`},
		{"unknown type", `{"type":"explode"}`},
		{"server-only type", `{"type":"child_added"}`},
		{"bad payload", `{"type":"append","text":42}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := ParseClientMessage([]byte(tt.input)); err == nil {
				t.Fatal("expected error, got nil")
			}
		})
	}
}

// ---------------------------------------------------------------------------
// Test: Server messages
// ---------------------------------------------------------------------------

func TestNewMessage_InjectsType(t *testing.T) {
	data, err := NewMessage(TypeAppended, AppendedMsg{Ref: "r1", Key: "1-0"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if m["type"] != TypeAppended {
		t.Errorf("expected type %q, got %v", TypeAppended, m["type"])
	}
	if m["key"] != "1-0" || m["ref"] != "r1" {
		t.Errorf("unexpected payload: %v", m)
	}
}

func TestChildAdded_ThroughServerParser(t *testing.T) {
	text := "hi"
	data, err := NewMessage(TypeChildAdded, NewChildAdded("s1", chat.Message{Key: "k1", Text: &text, Name: "Alice"}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	msgType, msg, err := ParseServerMessage(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msgType != TypeChildAdded {
		t.Fatalf("expected %q, got %q", TypeChildAdded, msgType)
	}
	added := msg.(ChildAddedMsg)
	if added.Sub != "s1" {
		t.Errorf("expected sub s1, got %q", added.Sub)
	}
	rec := added.Message()
	if rec.Key != "k1" || rec.Text == nil || *rec.Text != "hi" || rec.PhotoURL != nil {
		t.Errorf("unexpected record: %+v", rec)
	}
}

func TestParseServerMessage_Unknown(t *testing.T) {
	if _, _, err := ParseServerMessage([]byte(`{"type":"append"}`)); err == nil {
		t.Fatal("expected error for client-only type")
	}
}

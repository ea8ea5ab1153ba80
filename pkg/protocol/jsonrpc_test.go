package protocol

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestNewRequest_Serialization(t *testing.T) {
	req, err := NewRequest(1, "initialize", map[string]string{"channel_id": "test"})
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	out, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	s := string(out)
	if !strings.Contains(s, `"jsonrpc":"2.0"`) {
		t.Errorf("missing jsonrpc version: %s", s)
	}
	if !strings.Contains(s, `"id":1`) {
		t.Errorf("missing id: %s", s)
	}
	if !strings.Contains(s, `"method":"initialize"`) {
		t.Errorf("missing method: %s", s)
	}
}

func TestNewNotification_HasNoID(t *testing.T) {
	notif, err := NewNotification("inbound_message", map[string]string{"text": "hi"})
	if err != nil {
		t.Fatalf("NewNotification: %v", err)
	}
	out, _ := json.Marshal(notif)
	if strings.Contains(string(out), `"id"`) {
		t.Errorf("notification should omit id: %s", out)
	}
	if !notif.IsNotification() {
		t.Error("IsNotification() = false, want true")
	}
}

func TestSuccess_OmitsError(t *testing.T) {
	id := uint64(1)
	resp := Success(&id, map[string]string{"channel_type": "slack"})
	out, _ := json.Marshal(resp)
	s := string(out)
	if !strings.Contains(s, `"result"`) {
		t.Errorf("missing result: %s", s)
	}
	if strings.Contains(s, `"error"`) {
		t.Errorf("unexpected error field: %s", s)
	}
}

func TestErrorResponse_OmitsResult(t *testing.T) {
	id := uint64(1)
	resp := ErrorResponse(&id, MethodNotFound, "unknown method")
	out, _ := json.Marshal(resp)
	s := string(out)
	if !strings.Contains(s, `"error"`) {
		t.Errorf("missing error: %s", s)
	}
	if strings.Contains(s, `"result"`) {
		t.Errorf("unexpected result field: %s", s)
	}
	if !strings.Contains(s, "-32601") {
		t.Errorf("missing error code: %s", s)
	}
}

func TestRoundtripRequest(t *testing.T) {
	req, _ := NewRequest(42, "send", map[string]string{"text": "hello"})
	out, _ := json.Marshal(req)
	var parsed JSONRPCRequest
	if err := json.Unmarshal(out, &parsed); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if parsed.ID == nil || *parsed.ID != 42 {
		t.Errorf("ID = %v, want 42", parsed.ID)
	}
	if parsed.Method != "send" {
		t.Errorf("Method = %q, want send", parsed.Method)
	}
}

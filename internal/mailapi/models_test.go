package mailapi

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestMessageUnmarshalFlatShape(t *testing.T) {
	data := `{
		"id": "m-1",
		"sender_email": "alice@example.com",
		"sender_name": "Alice",
		"receiver_email": "bob@example.com",
		"subject": "Hi",
		"body": "Hello",
		"read": false,
		"is_starred": true,
		"read_limit": 3,
		"sent_at": "2024-05-01T10:00:00Z",
		"attachments": [{"name": "a.txt", "url": "/files/a.txt"}]
	}`
	var msg Message
	if err := json.Unmarshal([]byte(data), &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if msg.ID != "m-1" || msg.From() != "Alice" || msg.Party() != "alice@example.com" {
		t.Errorf("identity fields = %+v", msg)
	}
	if !msg.Starred || msg.Read || !msg.SelfDestructing() {
		t.Errorf("flags = %+v", msg)
	}
	if !msg.SentAt.Equal(time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)) {
		t.Errorf("sent at = %v", msg.SentAt)
	}
	if len(msg.Attachments) != 1 || msg.Attachments[0].URL != "/files/a.txt" {
		t.Errorf("attachments = %+v", msg.Attachments)
	}
}

func TestMessageUnmarshalNestedShape(t *testing.T) {
	data := `{
		"id": 42,
		"subject": "Report",
		"is_read": true,
		"read_limit": 0,
		"created_at": "2024-05-02T08:30:00Z",
		"expires_at": "0001-01-01T00:00:00Z",
		"sender": {"id": 1, "email": "carol@example.com"},
		"receiver": {"id": 2, "email": "dave@example.com"}
	}`
	var msg Message
	if err := json.Unmarshal([]byte(data), &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if msg.ID != "42" {
		t.Errorf("id = %q", msg.ID)
	}
	if msg.SenderEmail != "carol@example.com" || msg.ReceiverEmail != "dave@example.com" {
		t.Errorf("parties = %q -> %q", msg.SenderEmail, msg.ReceiverEmail)
	}
	if !msg.Read || msg.SelfDestructing() || !msg.ExpiresAt.IsZero() {
		t.Errorf("flags = %+v", msg)
	}
}

func TestPartyFallsBackToReceiver(t *testing.T) {
	msg := Message{ReceiverEmail: "to@example.com"}
	if msg.Party() != "to@example.com" {
		t.Errorf("party = %q", msg.Party())
	}
}

func TestReadsLeft(t *testing.T) {
	tests := []struct {
		limit, count, want int
	}{
		{0, 0, 0},
		{3, 0, 3},
		{3, 2, 1},
		{2, 5, 0},
	}
	for _, tt := range tests {
		msg := Message{ReadLimit: tt.limit, ReadCount: tt.count}
		if got := msg.ReadsLeft(); got != tt.want {
			t.Errorf("ReadsLeft(limit=%d, count=%d) = %d, want %d", tt.limit, tt.count, got, tt.want)
		}
	}
}

func TestParseFolder(t *testing.T) {
	for _, name := range []string{"inbox", "SENT", " spam ", "trash"} {
		if _, err := ParseFolder(name); err != nil {
			t.Errorf("ParseFolder(%q) = %v", name, err)
		}
	}
	if _, err := ParseFolder("drafts"); !errors.Is(err, ErrInvalidFolder) {
		t.Errorf("ParseFolder(drafts) err = %v", err)
	}
}

func TestParseReadLimit(t *testing.T) {
	for _, option := range ReadLimitOptions {
		raw, _ := json.Marshal(option)
		got, err := ParseReadLimit(string(raw))
		if err != nil || got != option {
			t.Errorf("ParseReadLimit(%d) = %d, %v", option, got, err)
		}
	}
	for _, bad := range []string{"", "0", "4", "-1", "ten"} {
		if _, err := ParseReadLimit(bad); !errors.Is(err, ErrInvalidReadLimit) {
			t.Errorf("ParseReadLimit(%q) err = %v", bad, err)
		}
	}
}

func TestValidateSendRequest(t *testing.T) {
	valid := SendRequest{ReceiverEmail: "a@b.com", Subject: "Hi", Body: "Hello"}
	if err := valid.Validate(); err != nil {
		t.Fatalf("valid request: %v", err)
	}
	tests := []SendRequest{
		{Subject: "Hi", Body: "Hello"},
		{ReceiverEmail: "a@b.com", Body: "Hello"},
		{ReceiverEmail: "a@b.com", Subject: "Hi", Body: "   "},
		{ReceiverEmail: "a@b.com", Subject: "Hi", Body: "Hello", ReadLimit: 7},
	}
	for _, req := range tests {
		if err := req.Validate(); err == nil {
			t.Errorf("Validate(%+v) = nil, want error", req)
		}
	}
}

package telegram

import (
	"testing"

	"github.com/mymmrac/telego"

	"github.com/nextlevelbuilder/aobot-gateway/internal/bus"
)

func TestExtractCommand_StripsSlashAndBotSuffix(t *testing.T) {
	msg := &telego.Message{
		Text:     "/new@mybot hello",
		Entities: []telego.MessageEntity{{Type: "bot_command", Offset: 0, Length: len("/new@mybot")}},
	}
	cmd, ok := extractCommand(msg)
	if !ok || cmd != "new" {
		t.Errorf("extractCommand() = (%q, %v), want (new, true)", cmd, ok)
	}
}

func TestExtractCommand_NoEntityMeansNoCommand(t *testing.T) {
	msg := &telego.Message{Text: "just chatting"}
	if _, ok := extractCommand(msg); ok {
		t.Error("expected no command for plain text")
	}
}

func TestDecodeAttachment_RoundTripsBase64(t *testing.T) {
	att := bus.Attachment{Data: encodeBase64([]byte("hello world")), FileName: "f.txt"}
	data, err := decodeAttachment(att)
	if err != nil {
		t.Fatalf("decodeAttachment: %v", err)
	}
	if string(data) != "hello world" {
		t.Errorf("decodeAttachment() = %q, want %q", data, "hello world")
	}
}

func TestDecodeAttachment_InvalidBase64Errors(t *testing.T) {
	if _, err := decodeAttachment(bus.Attachment{Data: "not-base64!!"}); err == nil {
		t.Error("expected error for invalid base64")
	}
}

func TestParseChatID(t *testing.T) {
	id, err := parseChatID("-100123456")
	if err != nil || id != -100123456 {
		t.Errorf("parseChatID() = (%d, %v), want (-100123456, nil)", id, err)
	}
}

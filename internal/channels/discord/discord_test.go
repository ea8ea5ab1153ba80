package discord

import (
	"testing"

	"github.com/nextlevelbuilder/aobot-gateway/internal/bus"
)

func TestExtractCommand_StripsBangPrefix(t *testing.T) {
	cmd, ok := extractCommand("!new session please")
	if !ok || cmd != "new" {
		t.Errorf("extractCommand() = (%q, %v), want (new, true)", cmd, ok)
	}
}

func TestExtractCommand_NoBangMeansNoCommand(t *testing.T) {
	if _, ok := extractCommand("just chatting"); ok {
		t.Error("expected no command for plain text")
	}
}

func TestClassifyAttachment(t *testing.T) {
	cases := map[string]bus.AttachmentKind{
		"image/png":       bus.AttachmentImage,
		"audio/mpeg":       bus.AttachmentAudio,
		"application/pdf":  bus.AttachmentDocument,
		"":                 bus.AttachmentDocument,
	}
	for mime, want := range cases {
		if got := classifyAttachment(mime); got != want {
			t.Errorf("classifyAttachment(%q) = %q, want %q", mime, got, want)
		}
	}
}

func TestDecodeAttachment_RoundTripsBase64(t *testing.T) {
	att := bus.Attachment{Data: encodeBase64([]byte("hello")), FileName: "f.txt"}
	data, err := decodeAttachment(att)
	if err != nil {
		t.Fatalf("decodeAttachment: %v", err)
	}
	if string(data) != "hello" {
		t.Errorf("decodeAttachment() = %q, want %q", data, "hello")
	}
}

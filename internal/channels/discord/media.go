package discord

import (
	"encoding/base64"
	"fmt"

	"github.com/nextlevelbuilder/aobot-gateway/internal/bus"
)

func encodeBase64(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// decodeAttachment reverses the base64 encoding applied to an outbound
// attachment's Data field.
func decodeAttachment(att bus.Attachment) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(att.Data)
	if err != nil {
		return nil, fmt.Errorf("decode attachment %q: %w", att.FileName, err)
	}
	return data, nil
}

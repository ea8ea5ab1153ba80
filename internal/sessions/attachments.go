package sessions

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/nextlevelbuilder/aobot-gateway/internal/bus"
	"github.com/nextlevelbuilder/aobot-gateway/internal/providers"
)

// lowerAttachments reconstructs the user content a prompt call actually
// sees: the message text, followed by an inline block per non-image
// attachment, plus the set of images to send alongside as vision content.
// Images are lowered to provider ImageContent. Documents are lowered to
// their decoded text when the MIME type says they're text, otherwise to a
// one-line stub noting the file's presence. Audio has no transcription
// path here, so it is always lowered to a stub.
func lowerAttachments(text string, attachments []bus.Attachment) (string, []providers.ImageContent) {
	var images []providers.ImageContent
	var b strings.Builder
	b.WriteString(text)

	for _, a := range attachments {
		switch a.Kind {
		case bus.AttachmentImage:
			images = append(images, providers.ImageContent{MimeType: a.MimeType, Data: a.Data})
		case bus.AttachmentDocument:
			if b.Len() > 0 {
				b.WriteString("\n\n")
			}
			if strings.HasPrefix(a.MimeType, "text/") {
				if decoded, err := base64.StdEncoding.DecodeString(a.Data); err == nil {
					fmt.Fprintf(&b, "[attached file %s]\n%s", displayName(a), decoded)
					continue
				}
			}
			fmt.Fprintf(&b, "[attached file %s, %s, not inlined]", displayName(a), a.MimeType)
		case bus.AttachmentAudio:
			if b.Len() > 0 {
				b.WriteString("\n\n")
			}
			fmt.Fprintf(&b, "[attached audio %s, transcription not available]", displayName(a))
		}
	}

	return b.String(), images
}

func displayName(a bus.Attachment) string {
	if a.FileName != "" {
		return a.FileName
	}
	return string(a.Kind)
}

package broker

import (
	"strings"

	"github.com/bazelment/agentbroker/protocol"
	"github.com/bazelment/agentbroker/wire"
)

// maxImageBytes is the ceiling on an image attachment's decoded size.
const maxImageBytes = 5 * 1024 * 1024

// supportedImageTypes is the fixed allow-list of image media types the
// agent accepts. Anything else image-shaped is rejected up front.
var supportedImageTypes = map[string]bool{
	"image/png":  true,
	"image/jpeg": true,
	"image/gif":  true,
	"image/webp": true,
}

// BuildContentBlocks assembles the ordered content blocks of a user
// envelope from free text plus attachments. The envelope must never be
// content-less: empty input yields a single empty text block.
func BuildContentBlocks(text string, attachments []wire.Attachment) ([]protocol.ContentBlock, error) {
	var blocks []protocol.ContentBlock

	if text != "" {
		blocks = append(blocks, protocol.NewTextBlock(text))
	}

	for _, att := range attachments {
		block, err := attachmentBlock(att)
		if err != nil {
			return nil, err
		}
		blocks = append(blocks, block)
	}

	if len(blocks) == 0 {
		blocks = append(blocks, protocol.NewTextBlock(""))
	}

	return blocks, nil
}

func attachmentBlock(att wire.Attachment) (protocol.ContentBlock, error) {
	switch {
	case isTextualMediaType(att.MediaType):
		return protocol.NewTextBlock(att.Content), nil

	case strings.HasPrefix(att.MediaType, "image/"):
		if !supportedImageTypes[att.MediaType] {
			return nil, &ValidationError{
				Filename: att.Filename,
				Reason:   ReasonUnsupportedAttachmentType,
			}
		}
		// Content is already base64; estimate the decoded size from the
		// encoded length (4 encoded chars per 3 bytes).
		if len(att.Content)/4*3 > maxImageBytes {
			return nil, &ValidationError{
				Filename: att.Filename,
				Reason:   ReasonAttachmentTooLarge,
			}
		}
		return protocol.NewImageBlock(att.MediaType, att.Content), nil

	default:
		return nil, &ValidationError{
			Filename: att.Filename,
			Reason:   ReasonUnsupportedAttachmentType,
		}
	}
}

// isTextualMediaType reports whether the attachment content can be inlined
// as a text block.
func isTextualMediaType(mediaType string) bool {
	if strings.HasPrefix(mediaType, "text/") {
		return true
	}
	switch mediaType {
	case "application/json", "application/xml", "application/yaml",
		"application/x-yaml", "application/javascript":
		return true
	}
	return false
}

package protocol

import (
	"encoding/json"
	"log/slog"
	"strings"
)

// ContentBlockType identifies the kind of content block.
type ContentBlockType string

const (
	ContentBlockTypeText       ContentBlockType = "text"
	ContentBlockTypeThinking   ContentBlockType = "thinking"
	ContentBlockTypeToolUse    ContentBlockType = "tool_use"
	ContentBlockTypeToolResult ContentBlockType = "tool_result"
	ContentBlockTypeImage      ContentBlockType = "image"
)

// ContentBlock is the interface for content block discrimination.
type ContentBlock interface {
	BlockType() ContentBlockType
}

// TextBlock contains plain text.
type TextBlock struct {
	Type ContentBlockType `json:"type"`
	Text string           `json:"text"`
}

// BlockType returns the content block type.
func (b TextBlock) BlockType() ContentBlockType { return ContentBlockTypeText }

// ThinkingBlock contains extended thinking text.
type ThinkingBlock struct {
	Type      ContentBlockType `json:"type"`
	Thinking  string           `json:"thinking"`
	Signature string           `json:"signature,omitempty"`
}

// BlockType returns the content block type.
func (b ThinkingBlock) BlockType() ContentBlockType { return ContentBlockTypeThinking }

// ToolUseBlock describes a tool invocation.
type ToolUseBlock struct {
	Input map[string]interface{} `json:"input"`
	Type  ContentBlockType       `json:"type"`
	ID    string                 `json:"id"`
	Name  string                 `json:"name"`
}

// BlockType returns the content block type.
func (b ToolUseBlock) BlockType() ContentBlockType { return ContentBlockTypeToolUse }

// ToolResultBlock carries the output of an executed tool back to the model.
type ToolResultBlock struct {
	IsError   *bool            `json:"is_error,omitempty"`
	Type      ContentBlockType `json:"type"`
	ToolUseID string           `json:"tool_use_id"`
	Content   FlexibleContent  `json:"content"`
}

// BlockType returns the content block type.
func (b ToolResultBlock) BlockType() ContentBlockType { return ContentBlockTypeToolResult }

// ContentText flattens the block's content to its text parts. String
// content is returned as-is; array content contributes the text of each
// nested text block, joined by newlines.
func (b ToolResultBlock) ContentText() string {
	if s, ok := b.Content.AsString(); ok {
		return s
	}
	blocks, ok := b.Content.AsBlocks()
	if !ok {
		return ""
	}
	var parts []string
	for _, inner := range blocks {
		if tb, ok := inner.(TextBlock); ok {
			parts = append(parts, tb.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// ImageSource is the payload of an image block.
type ImageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

// ImageBlock contains a base64-encoded image.
type ImageBlock struct {
	Type   ContentBlockType `json:"type"`
	Source ImageSource      `json:"source"`
}

// BlockType returns the content block type.
func (b ImageBlock) BlockType() ContentBlockType { return ContentBlockTypeImage }

// NewTextBlock constructs a text content block.
func NewTextBlock(text string) TextBlock {
	return TextBlock{Type: ContentBlockTypeText, Text: text}
}

// NewImageBlock constructs a base64 image content block.
func NewImageBlock(mediaType, base64Data string) ImageBlock {
	return ImageBlock{
		Type: ContentBlockTypeImage,
		Source: ImageSource{
			Type:      "base64",
			MediaType: mediaType,
			Data:      base64Data,
		},
	}
}

// UnmarshalContentBlock decodes a single content block. Unknown block types
// return (nil, nil) so callers can skip them.
func UnmarshalContentBlock(data json.RawMessage) (ContentBlock, error) {
	var base struct {
		Type ContentBlockType `json:"type"`
	}
	if err := json.Unmarshal(data, &base); err != nil {
		return nil, err
	}

	switch base.Type {
	case ContentBlockTypeText:
		var b TextBlock
		if err := json.Unmarshal(data, &b); err != nil {
			return nil, err
		}
		return b, nil
	case ContentBlockTypeThinking:
		var b ThinkingBlock
		if err := json.Unmarshal(data, &b); err != nil {
			return nil, err
		}
		return b, nil
	case ContentBlockTypeToolUse:
		var b ToolUseBlock
		if err := json.Unmarshal(data, &b); err != nil {
			return nil, err
		}
		return b, nil
	case ContentBlockTypeToolResult:
		var b ToolResultBlock
		if err := json.Unmarshal(data, &b); err != nil {
			return nil, err
		}
		return b, nil
	case ContentBlockTypeImage:
		var b ImageBlock
		if err := json.Unmarshal(data, &b); err != nil {
			return nil, err
		}
		return b, nil
	default:
		slog.Warn("skipping unknown content block type", "type", base.Type)
		return nil, nil
	}
}

// ContentBlocks is a list of content blocks that skips unknown types when
// unmarshaling.
type ContentBlocks []ContentBlock

// UnmarshalJSON implements json.Unmarshaler.
func (cb *ContentBlocks) UnmarshalJSON(data []byte) error {
	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return err
	}

	blocks := make(ContentBlocks, 0, len(raws))
	for _, raw := range raws {
		block, err := UnmarshalContentBlock(raw)
		if err != nil {
			return err
		}
		if block != nil {
			blocks = append(blocks, block)
		}
	}
	*cb = blocks
	return nil
}

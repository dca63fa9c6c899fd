package agentproto

import (
	"encoding/json"
	"strings"
)

// Content block type discriminants.
const (
	BlockText       = "text"
	BlockThinking   = "thinking"
	BlockToolUse    = "tool_use"
	BlockToolResult = "tool_result"
	BlockImage      = "image"
)

// ContentBlock is a single typed unit inside an assistant or user message.
// Only the fields relevant to its Type are populated.
type ContentBlock struct {
	Type string `json:"type"`

	// text
	Text string `json:"text,omitempty"`

	// thinking
	Thinking string `json:"thinking,omitempty"`

	// tool_use
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	// tool_result
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"` // string | []ContentBlock
	IsError   bool            `json:"is_error,omitempty"`

	// image
	Source *ImageSource `json:"source,omitempty"`
}

// ImageSource describes an inline image payload.
type ImageSource struct {
	Type      string `json:"type"` // base64 | url
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`
	URL       string `json:"url,omitempty"`
}

// InputMap decodes the tool_use block's Input into a generic map, the shape
// package translate's title, kind and plan helpers consume.
func (c ContentBlock) InputMap() map[string]any {
	if len(c.Input) == 0 {
		return map[string]any{}
	}
	var m map[string]any
	if err := json.Unmarshal(c.Input, &m); err != nil {
		return map[string]any{}
	}
	return m
}

// ResultText renders a tool_result's Content as plain text, tolerating both
// the bare-string and block-array shapes the child may emit.
func (c ContentBlock) ResultText() string {
	if len(c.Content) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(c.Content, &s); err == nil {
		return s
	}
	blocks, err := parseContentBlocks(c.Content)
	if err != nil {
		return ""
	}
	return joinText(blocks)
}

// ResultObject attempts to decode a tool_result's Content as a structured
// object, for the §4.7 "object-shaped response" extraction path.
func (c ContentBlock) ResultObject() (map[string]any, bool) {
	if len(c.Content) == 0 {
		return nil, false
	}
	var m map[string]any
	if err := json.Unmarshal(c.Content, &m); err != nil {
		return nil, false
	}
	return m, true
}

// parseContentBlocks decodes a message's content field, which the agent may
// emit either as a bare string (wrapped here as a single text block) or as
// an array of ContentBlock objects.
func parseContentBlocks(raw json.RawMessage) ([]ContentBlock, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return nil, nil
	}
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, err
		}
		return []ContentBlock{{Type: BlockText, Text: s}}, nil
	}
	var blocks []ContentBlock
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return nil, err
	}
	return blocks, nil
}

// joinText concatenates the text of every text block, in order.
func joinText(blocks []ContentBlock) string {
	var sb strings.Builder
	for _, b := range blocks {
		if b.Type == BlockText {
			sb.WriteString(b.Text)
		}
	}
	return sb.String()
}

// IsSingleTextBlock reports whether blocks contains exactly one block and it
// is a text block — the §4.5.3 "internal echo" drop condition.
func IsSingleTextBlock(blocks []ContentBlock) bool {
	return len(blocks) == 1 && blocks[0].Type == BlockText
}

// Package acp implements the upstream-facing side of the bridge: the ACP
// agent role that an editor/IDE client connects to over stdin/stdout,
// built on top of github.com/coder/acp-go-sdk's symmetric connection
// machinery (spec §4.9). Everything below this layer speaks the orchestrator's
// session-oriented vocabulary, not raw JSON-RPC.
package acp

import (
	"fmt"
	"strings"

	"github.com/coder/acp-go-sdk"
)

// mcpPrefixRewrite rewrites the `/mcp:<server>:<command> <args>` shorthand a
// client may send as a text prompt part before it reaches the child
// (spec §6 "Prompt-part mapping").
var mcpPrefixRewrite = func(text string) string {
	if !strings.HasPrefix(text, "/mcp:") {
		return text
	}
	rest := text[len("/mcp:"):]
	parts := strings.SplitN(rest, " ", 2)
	head := parts[0]
	args := ""
	if len(parts) == 2 {
		args = " " + parts[1]
	}
	headParts := strings.SplitN(head, ":", 2)
	if len(headParts) != 2 {
		return text
	}
	server, command := headParts[0], headParts[1]
	return fmt.Sprintf("/%s:%s (MCP)%s", server, command, args)
}

// PromptPart is the bridge's own flattened view of one ACP content block
// from a prompt, ready to be folded into the child's user-message content
// array.
type PromptPart struct {
	Text      string // set for text parts; empty for image parts
	ImageB64  string
	ImageURL  string
	MediaType string
	IsImage   bool
	Ignored   bool
}

// FlattenPromptParts converts one prompt's ACP content blocks into the
// bridge's internal representation, applying the exact mapping spec §6
// specifies: text gets the /mcp: rewrite; resource_link becomes a markdown
// link; resource with embedded text becomes a link plus a trailing context
// block; images pass through base64 or URL sources; everything else
// (blob resources, audio, unknown chunk types) is ignored.
func FlattenPromptParts(blocks []acp.ContentBlock) []PromptPart {
	var parts []PromptPart
	var contextBlocks []string

	for _, b := range blocks {
		switch {
		case b.Text != nil:
			parts = append(parts, PromptPart{Text: mcpPrefixRewrite(b.Text.Text)})

		case b.ResourceLink != nil:
			parts = append(parts, PromptPart{Text: resourceLinkText(b.ResourceLink.Uri, b.ResourceLink.Name)})

		case b.Resource != nil:
			res := b.Resource.Resource
			if res.TextResourceContents != nil {
				name := basenameOf(res.TextResourceContents.Uri)
				parts = append(parts, PromptPart{Text: resourceLinkText(res.TextResourceContents.Uri, name)})
				contextBlocks = append(contextBlocks, fmt.Sprintf(
					"\n<context ref=%q>\n%s\n</context>", res.TextResourceContents.Uri, res.TextResourceContents.Text))
			}
			// Blob resources are ignored per spec.

		case b.Image != nil:
			if b.Image.Data != "" {
				parts = append(parts, PromptPart{IsImage: true, ImageB64: b.Image.Data, MediaType: b.Image.MimeType})
			} else if b.Image.Uri != "" && (strings.HasPrefix(b.Image.Uri, "http://") || strings.HasPrefix(b.Image.Uri, "https://")) {
				parts = append(parts, PromptPart{IsImage: true, ImageURL: b.Image.Uri})
			}
			// Other image forms (e.g. neither data nor http(s) uri) ignored.

		default:
			// audio and any other chunk type: ignored.
		}
	}

	for _, c := range contextBlocks {
		parts = append(parts, PromptPart{Text: c})
	}
	return parts
}

func resourceLinkText(uri, name string) string {
	if strings.HasPrefix(uri, "file://") || strings.HasPrefix(uri, "zed://") {
		base := name
		if base == "" {
			base = basenameOf(uri)
		}
		return fmt.Sprintf("[@%s](%s)", base, uri)
	}
	return uri
}

func basenameOf(uri string) string {
	if i := strings.LastIndexByte(uri, '/'); i >= 0 {
		return uri[i+1:]
	}
	return uri
}

// ToChildContent renders flattened prompt parts into the JSON-marshalable
// content array the child's user message expects (agentproto's text/image
// content block shapes).
func ToChildContent(parts []PromptPart) []map[string]any {
	content := make([]map[string]any, 0, len(parts))
	for _, p := range parts {
		switch {
		case p.IsImage && p.ImageB64 != "":
			content = append(content, map[string]any{
				"type": "image",
				"source": map[string]any{
					"type":       "base64",
					"media_type": p.MediaType,
					"data":       p.ImageB64,
				},
			})
		case p.IsImage && p.ImageURL != "":
			content = append(content, map[string]any{
				"type":   "image",
				"source": map[string]any{"type": "url", "url": p.ImageURL},
			})
		case p.Text != "":
			content = append(content, map[string]any{"type": "text", "text": p.Text})
		}
	}
	return content
}

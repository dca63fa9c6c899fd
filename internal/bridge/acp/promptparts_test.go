package acp

import (
	"testing"

	"github.com/coder/acp-go-sdk"
	"github.com/stretchr/testify/require"
)

func TestFlattenPromptPartsText(t *testing.T) {
	parts := FlattenPromptParts([]acp.ContentBlock{acp.TextBlock("hello world")})
	require.Len(t, parts, 1)
	require.Equal(t, "hello world", parts[0].Text)
	require.False(t, parts[0].IsImage)
}

func TestFlattenPromptPartsMCPRewrite(t *testing.T) {
	parts := FlattenPromptParts([]acp.ContentBlock{acp.TextBlock("/mcp:github:list_prs --open")})
	require.Len(t, parts, 1)
	require.Equal(t, "/github:list_prs (MCP) --open", parts[0].Text)
}

func TestFlattenPromptPartsImageBase64(t *testing.T) {
	parts := FlattenPromptParts([]acp.ContentBlock{acp.ImageBlock("base64data", "image/jpeg")})
	require.Len(t, parts, 1)
	require.True(t, parts[0].IsImage)
	require.Equal(t, "base64data", parts[0].ImageB64)
	require.Equal(t, "image/jpeg", parts[0].MediaType)
}

func TestFlattenPromptPartsResourceLink(t *testing.T) {
	parts := FlattenPromptParts([]acp.ContentBlock{acp.ResourceLinkBlock("file.txt", "file:///path/to/file.txt")})
	require.Len(t, parts, 1)
	require.Equal(t, "[@file.txt](file:///path/to/file.txt)", parts[0].Text)
}

func TestFlattenPromptPartsResourceLinkNonFileScheme(t *testing.T) {
	parts := FlattenPromptParts([]acp.ContentBlock{acp.ResourceLinkBlock("example", "https://example.com/a")})
	require.Len(t, parts, 1)
	require.Equal(t, "https://example.com/a", parts[0].Text)
}

func TestFlattenPromptPartsResourceWithTextContents(t *testing.T) {
	mime := "text/plain"
	cb := acp.ResourceBlock(acp.EmbeddedResourceResource{
		TextResourceContents: &acp.TextResourceContents{
			Uri:      "file:///readme.md",
			Text:     "# Hello",
			MimeType: &mime,
		},
	})
	parts := FlattenPromptParts([]acp.ContentBlock{cb})
	require.Len(t, parts, 2)
	require.Equal(t, "[@readme.md](file:///readme.md)", parts[0].Text)
	require.Contains(t, parts[1].Text, "<context ref=\"file:///readme.md\">")
	require.Contains(t, parts[1].Text, "# Hello")
}

func TestFlattenPromptPartsResourceWithBlobContentsIgnored(t *testing.T) {
	mime := "application/octet-stream"
	cb := acp.ResourceBlock(acp.EmbeddedResourceResource{
		BlobResourceContents: &acp.BlobResourceContents{
			Uri:      "file:///data.bin",
			Blob:     "blobdata",
			MimeType: &mime,
		},
	})
	parts := FlattenPromptParts([]acp.ContentBlock{cb})
	require.Empty(t, parts)
}

func TestFlattenPromptPartsAudioIgnored(t *testing.T) {
	parts := FlattenPromptParts([]acp.ContentBlock{acp.AudioBlock("audiodata", "audio/mp3")})
	require.Empty(t, parts)
}

func TestFlattenPromptPartsUnknownIgnored(t *testing.T) {
	parts := FlattenPromptParts([]acp.ContentBlock{{}})
	require.Empty(t, parts)
}

func TestToChildContent(t *testing.T) {
	parts := []PromptPart{
		{Text: "hi"},
		{IsImage: true, ImageB64: "abc", MediaType: "image/png"},
		{IsImage: true, ImageURL: "https://example.com/x.png"},
	}
	content := ToChildContent(parts)
	require.Len(t, content, 3)
	require.Equal(t, "text", content[0]["type"])
	require.Equal(t, "hi", content[0]["text"])
	require.Equal(t, "image", content[1]["type"])
	require.Equal(t, "image", content[2]["type"])
}

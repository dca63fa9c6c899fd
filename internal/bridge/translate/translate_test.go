package translate

import (
	"encoding/json"
	"testing"

	"github.com/kandev/agentbridge/internal/bridge/agentproto"
	"github.com/kandev/agentbridge/internal/bridge/bgtask"
	"github.com/kandev/agentbridge/internal/bridge/toolcache"
	"github.com/kandev/agentbridge/internal/common/logger"
)

func newTestTranslator() *Translator {
	return New(toolcache.New(), bgtask.New(), logger.Default())
}

func TestHandleStreamEventTextDelta(t *testing.T) {
	tr := newTestTranslator()
	updates := tr.HandleStreamEvent(agentproto.StreamEventBody{
		Type:  "content_block_delta",
		Delta: &agentproto.StreamDelta{Type: "text_delta", Text: "hello"},
	}, "")
	if len(updates) != 1 || updates[0].Kind != KindAgentMessageChunk || updates[0].Text != "hello" {
		t.Fatalf("unexpected updates: %+v", updates)
	}
}

func TestHandleStreamEventInputJSONDeltaIsSilent(t *testing.T) {
	tr := newTestTranslator()
	updates := tr.HandleStreamEvent(agentproto.StreamEventBody{
		Type:  "content_block_delta",
		Delta: &agentproto.StreamDelta{Type: "input_json_delta", PartialJSON: `{"a":1`},
	}, "")
	if len(updates) != 0 {
		t.Fatalf("expected no emission for input_json_delta, got %+v", updates)
	}
}

func TestHandleStreamEventToolUseStartAnnouncesPendingCall(t *testing.T) {
	tr := newTestTranslator()
	updates := tr.HandleStreamEvent(agentproto.StreamEventBody{
		Type: "content_block_start",
		ContentBlock: &agentproto.ContentBlock{
			Type: agentproto.BlockToolUse,
			ID:   "tu-1",
			Name: ToolBash,
		},
	}, "")
	if len(updates) != 1 || updates[0].Kind != KindToolCall || updates[0].Status != ToolStatusPending {
		t.Fatalf("expected pending tool_call, got %+v", updates)
	}
	if updates[0].ToolKind != ToolKindBash {
		t.Fatalf("expected bash kind, got %q", updates[0].ToolKind)
	}
}

func TestHandleAssistantMessageSkipsDoubleEmissionForAnnouncedTool(t *testing.T) {
	tr := newTestTranslator()
	tr.HandleStreamEvent(agentproto.StreamEventBody{
		Type: "content_block_start",
		ContentBlock: &agentproto.ContentBlock{
			Type: agentproto.BlockToolUse,
			ID:   "tu-2",
			Name: ToolRead,
		},
	}, "")

	input, _ := json.Marshal(map[string]any{"file_path": "/tmp/a.go"})
	content, _ := json.Marshal([]agentproto.ContentBlock{
		{Type: agentproto.BlockToolUse, ID: "tu-2", Name: ToolRead, Input: input},
	})
	updates, err := tr.HandleAssistantMessage(agentproto.AssistantMessage{
		Type:    "assistant",
		Message: agentproto.AssistantBody{Role: "assistant", Content: content},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(updates) != 1 || updates[0].Kind != KindToolCallUpdate {
		t.Fatalf("expected a single tool_call_update for an already-announced tool, got %+v", updates)
	}
}

func TestHandleAssistantMessageDropsTextAndThinkingBlocks(t *testing.T) {
	tr := newTestTranslator()
	content, _ := json.Marshal([]agentproto.ContentBlock{
		{Type: agentproto.BlockText, Text: "already streamed"},
		{Type: agentproto.BlockThinking, Thinking: "also streamed"},
	})
	updates, err := tr.HandleAssistantMessage(agentproto.AssistantMessage{
		Message: agentproto.AssistantBody{Role: "assistant", Content: content},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(updates) != 0 {
		t.Fatalf("expected text/thinking blocks to be dropped, got %+v", updates)
	}
}

func TestHandleAssistantMessageDetectsLoginRequired(t *testing.T) {
	tr := newTestTranslator()
	content, _ := json.Marshal("Please run /login to continue.")
	_, err := tr.HandleAssistantMessage(agentproto.AssistantMessage{
		Message: agentproto.AssistantBody{Role: "assistant", Content: content},
	})
	if err == nil {
		t.Fatalf("expected login-required error")
	}
	if _, ok := err.(*ErrLoginRequired); !ok {
		t.Fatalf("expected *ErrLoginRequired, got %T", err)
	}
}

func TestHandleUserMessageDropsSingleTextBlockEcho(t *testing.T) {
	tr := newTestTranslator()
	content, _ := json.Marshal("just echoing the prompt back")
	updates, err := tr.HandleUserMessage(agentproto.UserMessage{
		Message: agentproto.UserBody{Role: "user", Content: content},
	})
	if err != nil || len(updates) != 0 {
		t.Fatalf("expected internal echo to be dropped, got updates=%+v err=%v", updates, err)
	}
}

func TestHandleUserMessageUnwrapsLocalCommandStdout(t *testing.T) {
	tr := newTestTranslator()
	content, _ := json.Marshal("<local-command-stdout>\nbuild succeeded\n</local-command-stdout>")
	updates, err := tr.HandleUserMessage(agentproto.UserMessage{
		Message: agentproto.UserBody{Role: "user", Content: content},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(updates) != 1 || updates[0].Kind != KindAgentMessageChunk {
		t.Fatalf("expected one agent_message_chunk, got %+v", updates)
	}
	if updates[0].Text != "build succeeded" {
		t.Fatalf("expected stripped text, got %q", updates[0].Text)
	}
}

func TestHandleUserMessageSuppressesLocalCommandStderr(t *testing.T) {
	tr := newTestTranslator()
	content, _ := json.Marshal("<local-command-stderr>\nwarning: deprecated flag\n</local-command-stderr>")
	updates, err := tr.HandleUserMessage(agentproto.UserMessage{
		Message: agentproto.UserBody{Role: "user", Content: content},
	})
	if err != nil || len(updates) != 0 {
		t.Fatalf("expected stderr wrapper to be suppressed, got updates=%+v err=%v", updates, err)
	}
}

func TestHandleUserMessageTranslatesToolResult(t *testing.T) {
	tr := newTestTranslator()
	tr.HandleStreamEvent(agentproto.StreamEventBody{
		Type: "content_block_start",
		ContentBlock: &agentproto.ContentBlock{Type: agentproto.BlockToolUse, ID: "tu-3", Name: ToolBash},
	}, "")

	resultContent, _ := json.Marshal("exit 0")
	content, _ := json.Marshal([]agentproto.ContentBlock{
		{Type: agentproto.BlockToolResult, ToolUseID: "tu-3", Content: resultContent},
	})
	updates, err := tr.HandleUserMessage(agentproto.UserMessage{
		Message: agentproto.UserBody{Role: "user", Content: content},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(updates) != 1 || updates[0].Kind != KindToolCallUpdate || updates[0].Status != ToolStatusCompleted {
		t.Fatalf("expected a completed tool_call_update, got %+v", updates)
	}
}

func TestHandleUserMessageUnknownToolUseIDProducesNoUpdate(t *testing.T) {
	tr := newTestTranslator()

	resultContent, _ := json.Marshal("exit 0")
	content, _ := json.Marshal([]agentproto.ContentBlock{
		{Type: agentproto.BlockToolResult, ToolUseID: "tu-unknown", Content: resultContent},
	})
	updates, err := tr.HandleUserMessage(agentproto.UserMessage{
		Message: agentproto.UserBody{Role: "user", Content: content},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(updates) != 0 {
		t.Fatalf("expected zero updates for an unknown tool-use id, got %+v", updates)
	}
}

func TestHandleUserMessageBackgroundToolResultPopulatesMap(t *testing.T) {
	tr := newTestTranslator()
	tr.cache.Announce("tu-4", ToolTask, nil, "")
	tr.cache.MarkBackground("tu-4")

	resultContent, _ := json.Marshal(map[string]any{"task_id": "bg-1", "output_file": "/tmp/bg.json"})
	content, _ := json.Marshal([]agentproto.ContentBlock{
		{Type: agentproto.BlockToolResult, ToolUseID: "tu-4", Content: resultContent},
	})
	_, err := tr.HandleUserMessage(agentproto.UserMessage{
		Message: agentproto.UserBody{Role: "user", Content: content},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id, ok := tr.bg.Resolve("bg-1", ""); !ok || id != "tu-4" {
		t.Fatalf("expected background task map to be populated, got id=%q ok=%v", id, ok)
	}
}

func TestHandleResultDetectsLoginRequired(t *testing.T) {
	tr := newTestTranslator()
	err := tr.HandleResult(agentproto.ResultMessage{Result: "Please run /login"})
	if err == nil {
		t.Fatalf("expected login-required error")
	}
}

func TestPlanFromInputRejectsMalformedStatus(t *testing.T) {
	entries, ok := planFromInput(map[string]any{
		"todos": []any{
			map[string]any{"content": "write tests", "status": "bogus"},
		},
	})
	if !ok || len(entries) != 1 || entries[0].Status != "pending" {
		t.Fatalf("expected malformed status to fall back to pending, got %+v ok=%v", entries, ok)
	}
}

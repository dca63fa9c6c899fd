package translate

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/kandev/agentbridge/internal/bridge/agentproto"
	"github.com/kandev/agentbridge/internal/bridge/bgtask"
	"github.com/kandev/agentbridge/internal/bridge/toolcache"
	"github.com/kandev/agentbridge/internal/common/logger"
	"go.uber.org/zap"
)

// inputMap decodes a tool-use entry's raw JSON input into a generic map,
// tolerating nil/empty payloads — the toolcache.Entry counterpart of
// agentproto.ContentBlock.InputMap.
func inputMap(raw json.RawMessage) map[string]any {
	if len(raw) == 0 {
		return map[string]any{}
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return map[string]any{}
	}
	return m
}

// Translator converts one session's stream of agent-subprocess messages into
// ACP updates. It owns no transport state — only the tool-use cache and
// background-task map it shares with the orchestrator's turn loop (spec
// §4.5, §4.6, §4.7).
type Translator struct {
	cache  *toolcache.Cache
	bg     *bgtask.Map
	logger *logger.Logger
}

// New constructs a Translator bound to a session's tool-use cache and
// background-task map.
func New(cache *toolcache.Cache, bg *bgtask.Map, log *logger.Logger) *Translator {
	return &Translator{
		cache:  cache,
		bg:     bg,
		logger: log.WithFields(zap.String("component", "translate")),
	}
}

// HandleStreamEvent converts one streaming delta into zero or one updates
// (spec §4.5.1).
func (t *Translator) HandleStreamEvent(ev agentproto.StreamEventBody, parentToolUseID string) []Update {
	switch ev.Type {
	case "content_block_start":
		if ev.ContentBlock == nil {
			return nil
		}
		if ev.ContentBlock.Type == agentproto.BlockToolUse {
			entry := t.cache.Announce(ev.ContentBlock.ID, ev.ContentBlock.Name, ev.ContentBlock.Input, parentToolUseID)
			if isPlanningTool(entry.ToolName) {
				return nil // plan emission waits for the finalised, complete input
			}
			meta := synthesize(entry.ToolName, inputMap(entry.Input))
			return []Update{{
				Kind:            KindToolCall,
				ToolCallID:      entry.ToolUseID,
				Title:           meta.Title,
				ToolKind:        meta.Kind,
				Status:          ToolStatusPending,
				Locations:       meta.Locations,
				ParentToolUseID: parentToolUseID,
			}}
		}
		return nil
	case "content_block_delta":
		if ev.Delta == nil {
			return nil
		}
		switch ev.Delta.Type {
		case "text_delta":
			return []Update{{Kind: KindAgentMessageChunk, Text: ev.Delta.Text, ParentToolUseID: parentToolUseID}}
		case "thinking_delta":
			return []Update{{Kind: KindAgentThoughtChunk, Text: ev.Delta.Thinking, ParentToolUseID: parentToolUseID}}
		default:
			return nil // input_json_delta, signature_delta, citations_delta: no emission
		}
	default:
		return nil // message_start, content_block_stop, message_delta, message_stop
	}
}

// HandleAssistantMessage converts a finalised assistant message into zero or
// more updates (spec §4.5.2). Text and thinking blocks are dropped — they
// were already emitted as streaming chunks.
func (t *Translator) HandleAssistantMessage(msg agentproto.AssistantMessage) ([]Update, error) {
	if detectLoginRequired(msg.Message.Text()) {
		return nil, &ErrLoginRequired{Detail: "assistant message"}
	}

	blocks, err := msg.Message.Blocks()
	if err != nil {
		t.logger.Warn("protocol fault: malformed assistant content", zap.Error(err))
		return nil, nil
	}

	var updates []Update
	for _, b := range blocks {
		if b.Type != agentproto.BlockToolUse {
			continue
		}
		input := b.InputMap()

		if isPlanningTool(b.Name) {
			if entries, ok := planFromInput(input); ok {
				updates = append(updates, Update{Kind: KindPlan, PlanEntries: entries})
				continue
			}
		}

		meta := synthesize(b.Name, input)
		entry, alreadyAnnounced := t.cache.Finalize(b.ID, b.Name, b.Input, msg.ParentToolUseID)
		_ = entry
		if alreadyAnnounced {
			updates = append(updates, Update{
				Kind:            KindToolCallUpdate,
				ToolCallID:      b.ID,
				Title:           meta.Title,
				ToolKind:        meta.Kind,
				RawInput:        b.Input,
				Locations:       meta.Locations,
				ParentToolUseID: msg.ParentToolUseID,
			})
		} else {
			updates = append(updates, Update{
				Kind:            KindToolCall,
				ToolCallID:      b.ID,
				Title:           meta.Title,
				ToolKind:        meta.Kind,
				Status:          ToolStatusPending,
				RawInput:        b.Input,
				Locations:       meta.Locations,
				ParentToolUseID: msg.ParentToolUseID,
			})
		}
	}
	return updates, nil
}

var (
	reLocalStdout = regexp.MustCompile(`(?s)<local-command-stdout>(.*?)</local-command-stdout>`)
	reLocalStderr = regexp.MustCompile(`(?s)<local-command-stderr>(.*?)</local-command-stderr>`)
)

// HandleUserMessage converts a user-role message emitted by the agent —
// tool-results and local-command wrapper payloads — into zero or more
// updates (spec §4.5.3).
func (t *Translator) HandleUserMessage(msg agentproto.UserMessage) ([]Update, error) {
	blocks, err := msg.Message.Blocks()
	if err != nil {
		t.logger.Warn("protocol fault: malformed user content", zap.Error(err))
		return nil, nil
	}

	if full := joinAllText(blocks); full != "" {
		if m := reLocalStdout.FindStringSubmatch(full); m != nil {
			return []Update{{Kind: KindAgentMessageChunk, Text: strings.TrimSpace(m[1]), ParentToolUseID: msg.ParentToolUseID}}, nil
		}
		if m := reLocalStderr.FindStringSubmatch(full); m != nil {
			t.logger.Debug("local command stderr", zap.String("text", strings.TrimSpace(m[1])))
			return nil, nil
		}
	}

	if agentproto.IsSingleTextBlock(blocks) {
		return nil, nil // internal echo of the prompt
	}

	var updates []Update
	for _, b := range blocks {
		if b.Type != agentproto.BlockToolResult {
			continue
		}
		u, err := t.translateToolResult(b, msg.ParentToolUseID)
		if err != nil {
			return updates, err
		}
		if u != nil {
			updates = append(updates, *u)
		}
	}
	return updates, nil
}

// translateToolResult returns nil, nil when the tool-use identifier is
// unknown to the cache (a protocol fault — logged here, dropped by the
// caller rather than surfaced as an update; spec §7/§8 "tool_results for
// unknown identifiers produce zero updates and exactly one log line").
func (t *Translator) translateToolResult(b agentproto.ContentBlock, parentToolUseID string) (*Update, error) {
	text := b.ResultText()
	if detectLoginRequired(text) {
		return nil, &ErrLoginRequired{Detail: "tool result"}
	}

	entry, known := t.cache.Get(b.ToolUseID)
	if !known {
		t.logger.Warn("protocol fault: tool result for unknown tool-use id", zap.String("tool_use_id", b.ToolUseID))
		return nil, nil
	}

	status := ToolStatusCompleted
	if b.IsError {
		status = ToolStatusFailed
	}

	if entry.Background {
		var extracted bgtask.Extracted
		if obj, ok := b.ResultObject(); ok {
			extracted = bgtask.Extract(obj)
		} else {
			extracted = bgtask.Extract(text)
		}
		if !extracted.Empty() {
			t.bg.Insert(b.ToolUseID, extracted)
		}
	}

	content := []ToolCallContent{{Type: "content", Text: truncate(text, 4000)}}

	toolName := entry.ToolName
	if toolName == ToolEdit || toolName == ToolWrite {
		input := inputMap(entry.Input)
		oldStr := getString(input, "old_string")
		newStr := getString(input, "new_string")
		if toolName == ToolWrite {
			newStr = getString(input, "content")
		}
		if generateUnifiedDiff(oldStr, newStr, getString(input, "file_path")) != "" {
			content = append(content, ToolCallContent{Type: "diff", Path: getString(input, "file_path"), OldText: oldStr, NewText: newStr})
		}
	}

	t.cache.Resolve(b.ToolUseID, b.IsError)
	t.cache.Evict(b.ToolUseID)

	return &Update{
		Kind:            KindToolCallUpdate,
		ToolCallID:      b.ToolUseID,
		Status:          status,
		Content:         content,
		ParentToolUseID: parentToolUseID,
	}, nil
}

// HandleResult checks the terminal result message's text for the
// login-required phrase; callers build the result-metadata block separately
// (orchestrator concern, spec §4.6 prompt()).
func (t *Translator) HandleResult(msg agentproto.ResultMessage) error {
	if detectLoginRequired(msg.Result) {
		return &ErrLoginRequired{Detail: "result message"}
	}
	for _, e := range msg.Errors {
		if detectLoginRequired(e) {
			return &ErrLoginRequired{Detail: "result message"}
		}
	}
	return nil
}

func joinAllText(blocks []agentproto.ContentBlock) string {
	var sb strings.Builder
	for _, b := range blocks {
		sb.WriteString(blockText(b))
	}
	return sb.String()
}

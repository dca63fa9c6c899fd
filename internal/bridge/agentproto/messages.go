// Package agentproto describes the NDJSON control/content protocol spoken by
// an agent subprocess over its stdin/stdout pipes: system/assistant/user/
// result messages, streaming content deltas, and control request/response
// envelopes multiplexed onto the same stream.
package agentproto

import "encoding/json"

// Message type discriminants, top level of every line on the child's stdout.
const (
	TypeSystem          = "system"
	TypeAssistant       = "assistant"
	TypeUser            = "user"
	TypeResult          = "result"
	TypeStreamEvent     = "stream_event"
	TypeControlRequest  = "control_request"
	TypeControlResponse = "control_response"
)

// System message subtypes.
const (
	SystemSubtypeInit             = "init"
	SystemSubtypeTaskNotification = "task_notification"
	SystemSubtypeCompactBoundary  = "compact_boundary"
	SystemSubtypeHookLifecycle    = "hook_lifecycle"
	SystemSubtypeFilesPersisted   = "files_persisted"
	SystemSubtypeStatus           = "status"
	SystemSubtypeAuthStatus       = "auth_status"
)

// Envelope is the minimal shared shape used to sniff a line's type before
// unmarshalling the rest of it. Every concrete message type below re-parses
// the same bytes into its richer shape.
type Envelope struct {
	Type    string `json:"type"`
	Subtype string `json:"subtype,omitempty"`
}

// SystemMessage carries out-of-band signals: session init, deferred
// task-completion notifications (consumed by the router's intercept plane,
// see bgtask), compaction boundaries, hook lifecycle events, and status
// changes.
type SystemMessage struct {
	Type    string `json:"type"`
	Subtype string `json:"subtype"`

	// TaskNotification fields (subtype=task_notification). AgentID is an
	// alternate task identifier some child versions emit instead of TaskID;
	// OutputFile is the "file:<output-file>" lookup-key fallback.
	TaskID     string `json:"task_id,omitempty"`
	AgentID    string `json:"agentId,omitempty"`
	OutputFile string `json:"output_file,omitempty"`
	Status     string `json:"status,omitempty"` // completed | failed
	Summary    string `json:"summary,omitempty"`

	// Generic free-form payload for other subtypes (auth_status, status,
	// files_persisted, hook_lifecycle, compact_boundary).
	Data json.RawMessage `json:"data,omitempty"`
}

// AssistantMessage is a finalised (non-streaming) turn of model output.
type AssistantMessage struct {
	Type             string          `json:"type"`
	Message          AssistantBody   `json:"message"`
	ParentToolUseID  string          `json:"parent_tool_use_id,omitempty"`
	SessionID        string          `json:"session_id,omitempty"`
}

// AssistantBody holds the role/content of an assistant message. Content may
// arrive as a bare string or as a list of ContentBlock objects.
type AssistantBody struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
	Model   string          `json:"model,omitempty"`
	Usage   *Usage          `json:"usage,omitempty"`
}

// Blocks parses Content into a slice of ContentBlock, tolerating the
// bare-string shape by wrapping it as a single text block.
func (b AssistantBody) Blocks() ([]ContentBlock, error) {
	return parseContentBlocks(b.Content)
}

// Text concatenates every text block's text, ignoring non-text blocks.
func (b AssistantBody) Text() string {
	blocks, err := b.Blocks()
	if err != nil {
		return ""
	}
	return joinText(blocks)
}

// UserMessage is a user-role message emitted by the agent: tool-results,
// local-command wrapper payloads, or internal echo of the prompt.
type UserMessage struct {
	Type            string          `json:"type"`
	Message         UserBody        `json:"message"`
	ParentToolUseID string          `json:"parent_tool_use_id,omitempty"`
	SessionID       string          `json:"session_id,omitempty"`
}

// UserBody mirrors AssistantBody's content flexibility.
type UserBody struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

func (b UserBody) Blocks() ([]ContentBlock, error) {
	return parseContentBlocks(b.Content)
}

// ResultMessage is the terminal message of a turn.
type ResultMessage struct {
	Type            string                    `json:"type"`
	Subtype         string                    `json:"subtype"` // success | error_during_execution | max_turns | ...
	IsError         bool                      `json:"is_error"`
	Result          string                    `json:"result,omitempty"`
	Errors          []string                  `json:"errors,omitempty"`
	DurationMS      int64                     `json:"duration_ms,omitempty"`
	DurationAPIMS   int64                     `json:"duration_api_ms,omitempty"`
	NumTurns        int                       `json:"num_turns,omitempty"`
	CostUSD         float64                   `json:"cost_usd,omitempty"`
	TotalInputTok   int64                     `json:"total_input_tokens,omitempty"`
	TotalOutputTok  int64                     `json:"total_output_tokens,omitempty"`
	ModelUsage      map[string]ModelUsageStat `json:"model_usage,omitempty"`
	PermissionDenied []string                 `json:"permission_denials,omitempty"`
	StructuredOutput json.RawMessage          `json:"structured_output,omitempty"`
}

// ModelUsageStat records per-model token accounting for a turn.
type ModelUsageStat struct {
	InputTokens    int64  `json:"input_tokens"`
	OutputTokens   int64  `json:"output_tokens"`
	ContextWindow  *int64 `json:"context_window,omitempty"`
}

// Usage is the per-message token usage block some assistant messages carry.
type Usage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

// StreamEvent carries one partial delta of a streaming assistant turn:
// message_start, content_block_start, content_block_delta,
// content_block_stop, message_delta, message_stop.
type StreamEvent struct {
	Type  string          `json:"type"`
	Event StreamEventBody `json:"event"`
}

// StreamEventBody is the inner Anthropic-style streaming event.
type StreamEventBody struct {
	Type         string          `json:"type"` // message_start|content_block_start|content_block_delta|content_block_stop|message_delta|message_stop
	Index        int             `json:"index"`
	ContentBlock *ContentBlock   `json:"content_block,omitempty"`
	Delta        *StreamDelta    `json:"delta,omitempty"`
}

// StreamDelta is the delta payload of a content_block_delta / message_delta
// event. Exactly one of the typed fields is populated, keyed by Type.
type StreamDelta struct {
	Type        string `json:"type"` // text_delta|thinking_delta|input_json_delta|signature_delta|citations_delta
	Text        string `json:"text,omitempty"`
	Thinking    string `json:"thinking,omitempty"`
	PartialJSON string `json:"partial_json,omitempty"`
}

// RawLine preserves the original bytes of an inbound message for advanced or
// best-effort parsing.
type RawLine = json.RawMessage

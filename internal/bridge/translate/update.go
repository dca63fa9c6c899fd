// Package translate converts agent-subprocess protocol messages into ACP
// session updates (spec §4.5). It is the layer between the router/toolcache
// and the orchestrator's turn loop.
package translate

import "encoding/json"

// Update kind discriminants, the closed set spec §6 enumerates.
const (
	KindAgentMessageChunk      = "agent_message_chunk"
	KindUserMessageChunk       = "user_message_chunk"
	KindAgentThoughtChunk      = "agent_thought_chunk"
	KindToolCall               = "tool_call"
	KindToolCallUpdate         = "tool_call_update"
	KindPlan                   = "plan"
	KindCurrentModeUpdate      = "current_mode_update"
	KindAvailableCommandsUpdate = "available_commands_update"
	KindSessionInfoUpdate      = "session_info_update"
)

// Tool-call status values carried by ToolCall/ToolCallUpdate.
const (
	ToolStatusPending   = "pending"
	ToolStatusCompleted = "completed"
	ToolStatusFailed    = "failed"
)

// Tool-call kind values, the closed set spec §4.5 names.
const (
	ToolKindRead  = "read"
	ToolKindWrite = "write"
	ToolKindEdit  = "edit"
	ToolKindBash  = "bash"
	ToolKindAgent = "agent"
	ToolKindWeb   = "web"
	ToolKindSearch = "search"
	ToolKindOther = "other"
)

// Update is one ACP session update, tagged by Kind; only the fields relevant
// to that kind are populated.
type Update struct {
	Kind string `json:"kind"`

	// agent_message_chunk / user_message_chunk / agent_thought_chunk
	Text string `json:"text,omitempty"`

	// tool_call / tool_call_update
	ToolCallID string          `json:"toolCallId,omitempty"`
	Title      string          `json:"title,omitempty"`
	ToolKind   string          `json:"toolKind,omitempty"`
	Status     string          `json:"status,omitempty"`
	RawInput   json.RawMessage `json:"rawInput,omitempty"`
	Content    []ToolCallContent `json:"content,omitempty"`
	Locations  []ToolCallLocation `json:"locations,omitempty"`

	// plan
	PlanEntries []PlanEntry `json:"planEntries,omitempty"`

	// current_mode_update
	CurrentModeID string `json:"currentModeId,omitempty"`

	// available_commands_update
	AvailableCommands []AvailableCommand `json:"availableCommands,omitempty"`

	// session_info_update
	SessionTitle string `json:"sessionTitle,omitempty"`

	// ParentToolUseID links this update back to the tool-use that produced it
	// (non-empty only for updates nested under a subagent's Task tool-call).
	// Internal bookkeeping for session history/subagent aggregation, never
	// sent to the ACP client.
	ParentToolUseID string `json:"-"`
}

// ToolCallContent is one attachment on a tool-call/tool-call-update: a text
// preview, a raw-output block, or a unified diff.
type ToolCallContent struct {
	Type    string `json:"type"` // content | diff
	Text    string `json:"text,omitempty"`
	Path    string `json:"path,omitempty"`
	OldText string `json:"oldText,omitempty"`
	NewText string `json:"newText,omitempty"`
}

// ToolCallLocation points at a source file the tool call touched, letting
// clients offer "jump to file" affordances.
type ToolCallLocation struct {
	Path string `json:"path"`
	Line int    `json:"line,omitempty"`
}

// PlanEntry is one todo item inside a plan update.
type PlanEntry struct {
	Content  string `json:"content"`
	Status   string `json:"status"` // pending | in_progress | completed
	Priority string `json:"priority,omitempty"`
}

// AvailableCommand describes one slash command the session currently
// exposes.
type AvailableCommand struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// ErrLoginRequired is returned by translation functions when the agent's
// output contains the literal "Please run /login" phrase (spec §4.5.4,
// §7 authentication-required).
type ErrLoginRequired struct{ Detail string }

func (e *ErrLoginRequired) Error() string {
	return "authentication required: " + e.Detail
}

// detectLoginRequired scans free text for the literal phrase the agent emits
// when it needs an interactive re-authentication.
func detectLoginRequired(s string) bool {
	return containsFold(s, "please run /login")
}

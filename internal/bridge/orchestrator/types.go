// Package orchestrator is the ACP-facing façade: session lifecycle, the turn
// loop, the permission/tool-call tracker, and background-task wiring (spec
// §4.6). It knows nothing about the wire-level ACP JSON-RPC types — those
// live one layer up, in package acp — so it can be exercised and tested
// without the acp-go-sdk dependency in the loop.
package orchestrator

import (
	"encoding/json"
	"time"
)

// ClientCapabilities mirrors the subset of capabilities the bridge consumes
// from the upstream ACP client (spec §6).
type ClientCapabilities struct {
	ReadTextFile    bool
	WriteTextFile   bool
	Terminal        bool
	TerminalAuthExec bool
}

// InitializeResult is what Initialize() reports back.
type InitializeResult struct {
	AgentName    string
	AgentVersion string
	Models       []string
	Modes        []string
	AuthMethod   string
}

// PromptItem is the orchestrator's neutral view of one flattened prompt part
// (already stripped of ACP-specific content-block shape by the caller).
type PromptItem struct {
	Text      string
	IsImage   bool
	ImageB64  string
	ImageURL  string
	MediaType string
}

// StopReason is the closed set a prompt turn ends with.
type StopReason string

const (
	StopEndTurn          StopReason = "end_turn"
	StopCancelled        StopReason = "cancelled"
	StopMaxTurnRequests  StopReason = "max_turn_requests"
)

// ResultMeta carries the accounting the terminal result message reports.
type ResultMeta struct {
	DurationMS       int64
	DurationAPIMS    int64
	NumTurns         int
	CostUSD          float64
	TotalInputTokens int64
	TotalOutputTokens int64
	ModelUsage       map[string]ModelUsage
	PermissionDenials []string
	StructuredOutput json.RawMessage
}

// ModelUsage is per-model token accounting, surfaced verbatim from the
// child's result message.
type ModelUsage struct {
	InputTokens   int64
	OutputTokens  int64
	ContextWindow *int64
}

// SessionInfo is returned from newSession/forkSession/resumeSession.
type SessionInfo struct {
	SessionID string
	Models    []string
	Modes     []string
}

// SessionSummary is one row of list-sessions.
type SessionSummary struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	UpdatedAt time.Time `json:"updatedAt"`
	ParentID  string    `json:"parentId,omitempty"` // non-empty when this session is a detected team member
}

// SubagentInfo is one entry of sessions/getSubagents: a Task tool-call the
// leader dispatched, detected from its transcript (spec §4.6 team-member
// detection, ParentToolUseID nesting).
type SubagentInfo struct {
	ToolUseID string `json:"toolUseId"`
	Title     string `json:"title"`
}

// TaskInfo is one entry of tasks/list: a tool-call still awaiting its
// terminal tool-call-update, background or otherwise.
type TaskInfo struct {
	ToolUseID string `json:"toolUseId"`
	Title     string `json:"title"`
	ToolKind  string `json:"toolKind"`
	Status    string `json:"status"`
}

// PermissionDecision is the outcome of a pre-tool permission check.
type PermissionDecision struct {
	Behavior string // allow | deny | ask
	RuleName string
}

// PermissionOptionKind mirrors the closed set of permission option kinds the
// client presents (allow-once, allow-always, reject-once, reject-always).
type PermissionOptionKind string

const (
	PermissionAllowOnce   PermissionOptionKind = "allow_once"
	PermissionAllowAlways PermissionOptionKind = "allow_always"
	PermissionRejectOnce  PermissionOptionKind = "reject_once"
)

// PermissionQuery is what the orchestrator asks its caller to resolve when
// the running mode requires client involvement.
type PermissionQuery struct {
	SessionID string
	ToolName  string
	ToolUseID string
	Input     map[string]any
	Options   []PermissionOptionKind
}

// PermissionAnswer is the caller's resolution of a PermissionQuery.
type PermissionAnswer struct {
	Selected  PermissionOptionKind
	Cancelled bool
}

// PermissionAsker is implemented by the acp layer: it presents a permission
// query to the upstream client and blocks for the human's answer.
type PermissionAsker func(q PermissionQuery) (PermissionAnswer, error)

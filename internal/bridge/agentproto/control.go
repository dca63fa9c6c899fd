package agentproto

import "encoding/json"

// Control request subtypes the bridge sends to the child (bridge → agent).
const (
	CtrlSubtypeInitialize            = "initialize"
	CtrlSubtypeInterrupt              = "interrupt"
	CtrlSubtypeSetPermissionMode      = "set_permission_mode"
	CtrlSubtypeSetModel               = "set_model"
	CtrlSubtypeSetMaxThinkingTokens    = "set_max_thinking_tokens"
	CtrlSubtypeMcpReconnect           = "mcp_reconnect"
	CtrlSubtypeMcpToggle              = "mcp_toggle"
	CtrlSubtypeMcpSetServers          = "mcp_set_servers"
	CtrlSubtypeSupportedModels        = "supported_models"
	CtrlSubtypeSupportedCommands      = "supported_commands"
	CtrlSubtypeRewindFiles            = "rewind_files"
	CtrlSubtypeAccountInfo            = "account_info"
)

// Control request subtypes the child sends to the bridge (agent → bridge).
const (
	CtrlSubtypeCanUseTool = "can_use_tool"
	CtrlSubtypeHookCallback = "hook_callback"
)

// OutgoingControlRequest is a control_request the bridge writes to the
// child's stdin.
type OutgoingControlRequest struct {
	Type      string                 `json:"type"`
	RequestID string                 `json:"request_id"`
	Request   OutgoingControlRequestBody `json:"request"`
}

// OutgoingControlRequestBody is the subtype-discriminated payload of a
// bridge-issued control request.
type OutgoingControlRequestBody struct {
	Subtype            string          `json:"subtype"`
	Mode               string          `json:"mode,omitempty"`
	Model               string         `json:"model,omitempty"`
	MaxThinkingTokens   int             `json:"max_thinking_tokens,omitempty"`
	McpServers          json.RawMessage `json:"mcp_servers,omitempty"`
	Hooks               json.RawMessage `json:"hooks,omitempty"`
}

// IncomingControlRequest is a control_request the child writes to us — a
// permission query or a hook callback — which must be answered with a
// ControlResponseMessage carrying the same RequestID.
type IncomingControlRequest struct {
	Type      string                 `json:"type"`
	RequestID string                 `json:"request_id"`
	Request   *ControlRequestBody    `json:"request"`
}

// ControlRequestBody is the subtype-discriminated payload of a child-issued
// control request.
type ControlRequestBody struct {
	Subtype             string          `json:"subtype"`
	ToolName            string          `json:"tool_name,omitempty"`
	Input               json.RawMessage `json:"input,omitempty"`
	ToolUseID           string          `json:"tool_use_id,omitempty"`
	HookName            string          `json:"hook_name,omitempty"`
	HookInput           json.RawMessage `json:"hook_input,omitempty"`
	PermissionSuggestions []PermissionUpdate `json:"permission_suggestions,omitempty"`
}

// PermissionUpdate is a suggested rule update accompanying a permission
// query or an allow/deny decision.
type PermissionUpdate struct {
	Tool    string `json:"tool"`
	Pattern string `json:"pattern,omitempty"`
	Allow   bool   `json:"allow"`
}

// ControlResponseMessage is a response the bridge writes back for an
// IncomingControlRequest, or the response the child writes back for an
// OutgoingControlRequest — the envelope shape is shared in both directions.
type ControlResponseMessage struct {
	Type      string           `json:"type"`
	RequestID string           `json:"request_id,omitempty"`
	Response  *ControlResponseBody `json:"response,omitempty"`
}

// IncomingControlResponse is the agent's answer to a bridge-issued
// OutgoingControlRequest. RequestID lives inside the response body, not at
// the envelope's top level, mirroring the child's actual wire shape.
type IncomingControlResponse struct {
	RequestID string               `json:"request_id"`
	Subtype   string               `json:"subtype"`
	Response  *InitializeResponseData `json:"response,omitempty"`
	Error     string               `json:"error,omitempty"`
}

// ControlResponseBody is the payload of a control response in either
// direction.
type ControlResponseBody struct {
	Subtype            string           `json:"subtype"` // success | error
	Result             *PermissionResult `json:"result,omitempty"`
	Error              string           `json:"error,omitempty"`
}

// PermissionResult is the decision the bridge hands back to the child in
// answer to a can_use_tool control request.
type PermissionResult struct {
	Behavior           string            `json:"behavior"` // allow | deny
	UpdatedInput       json.RawMessage   `json:"updated_input,omitempty"`
	UpdatedPermissions []PermissionUpdate `json:"updated_permissions,omitempty"`
	Message            string            `json:"message,omitempty"`
	Interrupt          *bool             `json:"interrupt,omitempty"`
}

// InitializeResponseData is the payload of a successful initialize control
// response.
type InitializeResponseData struct {
	Commands []Command `json:"commands,omitempty"`
	Agents   []string  `json:"agents,omitempty"`
}

// Command describes one slash command the child advertises at initialize
// time.
type Command struct {
	Name          string `json:"name"`
	Description   string `json:"description,omitempty"`
	ArgumentHint  string `json:"argument_hint,omitempty"`
}

// OutgoingUserMessage is a prompt pushed to the child's stdin.
type OutgoingUserMessage struct {
	Type    string            `json:"type"`
	Message OutgoingUserBody `json:"message"`
}

// OutgoingUserBody is the role/content of a prompt pushed to the child.
type OutgoingUserBody struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

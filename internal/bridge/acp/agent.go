package acp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/coder/acp-go-sdk"

	"github.com/kandev/agentbridge/internal/bridge/orchestrator"
	"github.com/kandev/agentbridge/internal/bridge/transport"
	"github.com/kandev/agentbridge/internal/bridge/translate"
	"github.com/kandev/agentbridge/internal/common/logger"
	"go.uber.org/zap"
)

// Agent implements the acp-go-sdk's agent-side role: the editor/IDE client
// drives these methods over JSON-RPC, symmetric to how Client (consumed
// elsewhere in the corpus) implements the client-side role the agent drives
// (spec §4.9, resolved Open Question — acp-go-sdk exposes this role by the
// same request/response types the Client-role code already consumes).
type Agent struct {
	orch   *orchestrator.Orchestrator
	logger *logger.Logger
	conn   *acp.AgentSideConnection

	agentName    string
	agentVersion string

	clientCaps orchestrator.ClientCapabilities
}

// New constructs an Agent bound to an Orchestrator. SetConnection must be
// called once the stdio transport is wired, before any client request
// arrives.
func New(orch *orchestrator.Orchestrator, log *logger.Logger, agentName, agentVersion string) *Agent {
	return &Agent{
		orch:         orch,
		logger:       log.WithFields(zap.String("component", "acp-agent")),
		agentName:    agentName,
		agentVersion: agentVersion,
	}
}

// SetConnection installs the live connection, used both to push session
// updates and to issue RequestPermission calls back to the client.
func (a *Agent) SetConnection(conn *acp.AgentSideConnection) {
	a.conn = conn
}

// SetOrchestrator installs the orchestrator once constructed. Needed because
// the orchestrator itself is constructed with Agent.AskPermission as its
// PermissionAsker callback, creating a one-step circular wiring at startup
// that only a post-construction setter can resolve.
func (a *Agent) SetOrchestrator(orch *orchestrator.Orchestrator) {
	a.orch = orch
}

// Initialize answers the client's initial handshake, recording the client's
// reported fs/terminal capabilities so every session spawned afterwards on
// this connection can gate the child's native tool allow-list accordingly
// (spec §6 "Client capabilities consumed").
func (a *Agent) Initialize(ctx context.Context, req acp.InitializeRequest) (acp.InitializeResponse, error) {
	a.clientCaps = orchestrator.ClientCapabilities{
		ReadTextFile:  req.ClientCapabilities.Fs.ReadTextFile,
		WriteTextFile: req.ClientCapabilities.Fs.WriteTextFile,
		Terminal:      req.ClientCapabilities.Terminal,
	}

	return acp.InitializeResponse{
		ProtocolVersion: acp.ProtocolVersionNumber,
		AgentInfo: &acp.Implementation{
			Name:    a.agentName,
			Version: a.agentVersion,
		},
		AgentCapabilities: acp.AgentCapabilities{
			LoadSession: true,
			PromptCapabilities: acp.PromptCapabilities{
				Image:           true,
				EmbeddedContext: true,
			},
		},
		AuthMethods: []acp.AuthMethod{},
	}, nil
}

// Authenticate is unimplemented: the bridge relies on the child's own
// out-of-band login flow (spec §7 authentication-required handling) rather
// than ACP-level auth methods.
func (a *Agent) Authenticate(ctx context.Context, req acp.AuthenticateRequest) (acp.AuthenticateResponse, error) {
	return acp.AuthenticateResponse{}, fmt.Errorf("acp: authenticate is not supported; re-authenticate the child directly")
}

// NewSession opens a fresh session against the requested working directory.
func (a *Agent) NewSession(ctx context.Context, req acp.NewSessionRequest) (acp.NewSessionResponse, error) {
	mcpServers, err := mcpServersJSON(req.McpServers)
	if err != nil {
		a.logger.Warn("failed to render mcp server config, starting session without it", zap.Error(err))
		mcpServers = nil
	}

	sess, info, err := a.orch.NewSession(ctx, req.Cwd, "", orchestrator.ModeDefault, mcpServers, a.clientCaps)
	if err != nil {
		return acp.NewSessionResponse{}, err
	}
	_ = info
	return acp.NewSessionResponse{
		SessionId: acp.SessionId(sess.ID),
		Modes: &acp.SessionModeState{
			CurrentModeId: acp.SessionModeId(orchestrator.ModeDefault),
			AvailableModes: availableModes(),
		},
	}, nil
}

// LoadSession resumes an existing session's transcript in place.
func (a *Agent) LoadSession(ctx context.Context, req acp.LoadSessionRequest) (acp.LoadSessionResponse, error) {
	sess, _, err := a.orch.ResumeSession(ctx, req.Cwd, string(req.SessionId), "", orchestrator.ModeDefault, a.clientCaps)
	if err != nil {
		return acp.LoadSessionResponse{}, err
	}
	return acp.LoadSessionResponse{
		Modes: &acp.SessionModeState{
			CurrentModeId:  acp.SessionModeId(orchestrator.ModeDefault),
			AvailableModes: availableModes(),
		},
		SessionId: acp.SessionId(sess.ID),
	}, nil
}

// mcpServersJSON renders the client's requested MCP servers into the
// --mcp-config JSON blob the child expects, following the same stdio/sse
// shape the corpus's own ACP adapter builds servers in (the reverse
// direction: there it's the client assembling acp.McpServer to send, here
// it's the agent unpacking one to forward).
func mcpServersJSON(servers []acp.McpServer) (json.RawMessage, error) {
	if len(servers) == 0 {
		return nil, nil
	}

	entries := make([]transport.McpServerEntry, 0, len(servers))
	for _, s := range servers {
		switch {
		case s.Stdio != nil:
			entries = append(entries, transport.McpServerEntry{
				Name:    s.Stdio.Name,
				Command: s.Stdio.Command,
				Args:    s.Stdio.Args,
			})
		case s.Sse != nil:
			entries = append(entries, transport.McpServerEntry{
				Name: s.Sse.Name,
				URL:  s.Sse.Url,
				Type: s.Sse.Type,
			})
		}
	}

	return transport.BuildMcpServersJSON(entries)
}

func availableModes() []acp.SessionMode {
	modes := make([]acp.SessionMode, 0, len(ValidModes))
	for _, m := range ValidModes {
		modes = append(modes, acp.SessionMode{Id: acp.SessionModeId(m), Name: m})
	}
	return modes
}

// Prompt drives one turn, streaming session updates to the client as they
// are produced and returning once a stop reason is reached.
func (a *Agent) Prompt(ctx context.Context, req acp.PromptRequest) (acp.PromptResponse, error) {
	items := promptItemsOf(FlattenPromptParts(req.Prompt))

	reason, _, err := a.orch.Prompt(ctx, string(req.SessionId), items, func(u translate.Update) {
		if a.conn == nil {
			return
		}
		notif := acp.SessionNotification{
			SessionId: req.SessionId,
			Update:    ToSessionUpdate(u),
		}
		if sendErr := a.conn.SessionUpdate(ctx, notif); sendErr != nil {
			a.logger.Warn("failed to push session update", zap.Error(sendErr))
		}
	})
	if err != nil {
		if _, ok := err.(*translate.ErrLoginRequired); ok {
			return acp.PromptResponse{StopReason: acp.StopReasonRefusal}, nil
		}
		return acp.PromptResponse{}, err
	}

	return acp.PromptResponse{StopReason: stopReasonOf(reason)}, nil
}

func stopReasonOf(r orchestrator.StopReason) acp.StopReason {
	switch r {
	case orchestrator.StopCancelled:
		return acp.StopReasonCancelled
	case orchestrator.StopMaxTurnRequests:
		return acp.StopReasonMaxTurnRequests
	default:
		return acp.StopReasonEndTurn
	}
}

func promptItemsOf(parts []PromptPart) []orchestrator.PromptItem {
	items := make([]orchestrator.PromptItem, 0, len(parts))
	for _, p := range parts {
		items = append(items, orchestrator.PromptItem{
			Text:      p.Text,
			IsImage:   p.IsImage,
			ImageB64:  p.ImageB64,
			ImageURL:  p.ImageURL,
			MediaType: p.MediaType,
		})
	}
	return items
}

// Cancel interrupts a session's in-flight turn.
func (a *Agent) Cancel(ctx context.Context, req acp.CancelNotification) error {
	return a.orch.Cancel(ctx, string(req.SessionId))
}

// SetSessionMode is the ACP-spec extension method for switching a session's
// permission mode mid-conversation.
func (a *Agent) SetSessionMode(ctx context.Context, req acp.SetSessionModeRequest) (acp.SetSessionModeResponse, error) {
	if err := a.orch.SetSessionMode(ctx, string(req.SessionId), string(req.ModeId)); err != nil {
		return acp.SetSessionModeResponse{}, err
	}
	return acp.SetSessionModeResponse{}, nil
}

// AskPermission implements orchestrator.PermissionAsker by round-tripping an
// acp.RequestPermission call to the upstream client.
func (a *Agent) AskPermission(q orchestrator.PermissionQuery) (orchestrator.PermissionAnswer, error) {
	if a.conn == nil {
		return orchestrator.PermissionAnswer{Cancelled: true}, fmt.Errorf("acp: no active connection")
	}

	options := make([]acp.PermissionOption, 0, len(q.Options))
	for _, o := range q.Options {
		options = append(options, acp.PermissionOption{
			OptionId: acp.PermissionOptionId(o),
			Name:     string(o),
			Kind:     permissionOptionKindOf(o),
		})
	}

	rawInput, _ := json.Marshal(q.Input)
	resp, err := a.conn.RequestPermission(context.Background(), acp.RequestPermissionRequest{
		SessionId: acp.SessionId(q.SessionID),
		Options:   options,
		ToolCall: acp.ToolCallUpdate{
			ToolCallId: acp.ToolCallId(q.ToolUseID),
			RawInput:   rawInput,
		},
	})
	if err != nil {
		return orchestrator.PermissionAnswer{}, err
	}
	if resp.Outcome.Cancelled != nil {
		return orchestrator.PermissionAnswer{Cancelled: true}, nil
	}
	if resp.Outcome.Selected != nil {
		return orchestrator.PermissionAnswer{Selected: orchestrator.PermissionOptionKind(resp.Outcome.Selected.OptionId)}, nil
	}
	return orchestrator.PermissionAnswer{Cancelled: true}, nil
}

// ReadTextFile proxies a file read to the upstream ACP client (spec §6
// "read-text-file (pass-through to client)"), used when the child's native
// Read tool has been disallowed because the client advertised fs.readTextFile
// at Initialize. Grounded on the teacher's own acp.Client.ReadTextFile
// implementation (apps/backend/internal/agentctl/acp/client.go), the same
// request/response pair used here in the reverse direction.
func (a *Agent) ReadTextFile(ctx context.Context, sessionID, path string, line, limit *int) (string, error) {
	if a.conn == nil {
		return "", fmt.Errorf("acp: no active connection")
	}
	resp, err := a.conn.ReadTextFile(ctx, acp.ReadTextFileRequest{
		SessionId: acp.SessionId(sessionID),
		Path:      path,
		Line:      line,
		Limit:     limit,
	})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

// WriteTextFile proxies a file write to the upstream ACP client (spec §6
// "write-text-file (pass-through to client)"), the Write/Edit-tool
// counterpart of ReadTextFile.
func (a *Agent) WriteTextFile(ctx context.Context, sessionID, path, content string) error {
	if a.conn == nil {
		return fmt.Errorf("acp: no active connection")
	}
	_, err := a.conn.WriteTextFile(ctx, acp.WriteTextFileRequest{
		SessionId: acp.SessionId(sessionID),
		Path:      path,
		Content:   content,
	})
	return err
}

func permissionOptionKindOf(k orchestrator.PermissionOptionKind) acp.PermissionOptionKind {
	switch k {
	case orchestrator.PermissionAllowAlways:
		return acp.PermissionOptionKindAllowAlways
	case orchestrator.PermissionRejectOnce:
		return acp.PermissionOptionKindRejectOnce
	default:
		return acp.PermissionOptionKindAllowOnce
	}
}

var _ acp.Agent = (*Agent)(nil)

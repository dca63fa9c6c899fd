package acp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/kandev/agentbridge/internal/bridge/orchestrator"
	"github.com/kandev/agentbridge/internal/bridge/translate"
)

// ExtMethod answers the ext-method dispatch table spec §6 names alongside
// the core ACP methods: session/fork, session/resume, session/setModel,
// sessions/list, sessions/getHistory, sessions/getSubagentHistory,
// sessions/rename, sessions/delete, sessions/getAvailableCommands,
// sessions/autoRename, tasks/list and sessions/getSubagents. acp-go-sdk
// calls this when an incoming request's method isn't one of the core
// Agent interface methods; everything below delegates to orchestrator
// calls that already existed but, before this, had no wire-reachable path.
func (a *Agent) ExtMethod(ctx context.Context, method string, params json.RawMessage) (json.RawMessage, error) {
	switch method {
	case "session/fork":
		return a.extForkSession(ctx, params)
	case "session/resume":
		return a.extResumeSession(ctx, params)
	case "session/setModel":
		return a.extSetSessionModel(ctx, params)
	case "sessions/list":
		return a.extListSessions(ctx, params)
	case "sessions/getHistory":
		return a.extGetHistory(ctx, params)
	case "sessions/getSubagentHistory":
		return a.extGetSubagentHistory(ctx, params)
	case "sessions/rename":
		return a.extRenameSession(ctx, params)
	case "sessions/delete":
		return a.extDeleteSession(ctx, params)
	case "sessions/getAvailableCommands":
		return a.extGetAvailableCommands(ctx, params)
	case "sessions/autoRename":
		return a.extAutoRename(ctx, params)
	case "tasks/list":
		return a.extListTasks(ctx, params)
	case "sessions/getSubagents":
		return a.extGetSubagents(ctx, params)
	default:
		return nil, fmt.Errorf("acp: unrecognised ext method %q", method)
	}
}

func (a *Agent) extForkSession(ctx context.Context, params json.RawMessage) (json.RawMessage, error) {
	var req struct {
		Cwd            string `json:"cwd"`
		SessionID      string `json:"sessionId"`
		Model          string `json:"model"`
		PermissionMode string `json:"permissionMode"`
	}
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, fmt.Errorf("acp: session/fork: %w", err)
	}
	sess, _, err := a.orch.ForkSession(ctx, req.Cwd, req.SessionID, req.Model, req.PermissionMode, a.clientCaps)
	if err != nil {
		return nil, err
	}
	return json.Marshal(struct {
		SessionID string `json:"sessionId"`
	}{SessionID: sess.ID})
}

func (a *Agent) extResumeSession(ctx context.Context, params json.RawMessage) (json.RawMessage, error) {
	var req struct {
		Cwd            string `json:"cwd"`
		SessionID      string `json:"sessionId"`
		Model          string `json:"model"`
		PermissionMode string `json:"permissionMode"`
	}
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, fmt.Errorf("acp: session/resume: %w", err)
	}
	sess, _, err := a.orch.ResumeSession(ctx, req.Cwd, req.SessionID, req.Model, req.PermissionMode, a.clientCaps)
	if err != nil {
		return nil, err
	}
	return json.Marshal(struct {
		SessionID string `json:"sessionId"`
	}{SessionID: sess.ID})
}

func (a *Agent) extSetSessionModel(ctx context.Context, params json.RawMessage) (json.RawMessage, error) {
	var req struct {
		SessionID string `json:"sessionId"`
		Model     string `json:"model"`
	}
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, fmt.Errorf("acp: session/setModel: %w", err)
	}
	if err := a.orch.SetSessionModel(ctx, req.SessionID, req.Model); err != nil {
		return nil, err
	}
	return json.Marshal(struct{}{})
}

func (a *Agent) extListSessions(ctx context.Context, params json.RawMessage) (json.RawMessage, error) {
	var req struct {
		Cwd string `json:"cwd"`
	}
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, fmt.Errorf("acp: sessions/list: %w", err)
	}
	summaries, err := a.orch.ListSessions(ctx, req.Cwd)
	if err != nil {
		return nil, err
	}
	return json.Marshal(struct {
		Sessions []orchestrator.SessionSummary `json:"sessions"`
	}{Sessions: summaries})
}

func sessionIDParam(params json.RawMessage) (string, error) {
	var req struct {
		SessionID string `json:"sessionId"`
	}
	if err := json.Unmarshal(params, &req); err != nil {
		return "", err
	}
	if req.SessionID == "" {
		return "", fmt.Errorf("missing sessionId")
	}
	return req.SessionID, nil
}

func (a *Agent) extGetHistory(ctx context.Context, params json.RawMessage) (json.RawMessage, error) {
	sessionID, err := sessionIDParam(params)
	if err != nil {
		return nil, fmt.Errorf("acp: sessions/getHistory: %w", err)
	}
	updates, err := a.orch.GetHistory(sessionID)
	if err != nil {
		return nil, err
	}
	return json.Marshal(struct {
		Updates []translate.Update `json:"updates"`
	}{Updates: updates})
}

func (a *Agent) extGetSubagentHistory(ctx context.Context, params json.RawMessage) (json.RawMessage, error) {
	var req struct {
		SessionID  string `json:"sessionId"`
		SubagentID string `json:"subagentId"`
	}
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, fmt.Errorf("acp: sessions/getSubagentHistory: %w", err)
	}
	updates, err := a.orch.GetSubagentHistory(req.SessionID, req.SubagentID)
	if err != nil {
		return nil, err
	}
	return json.Marshal(struct {
		Updates []translate.Update `json:"updates"`
	}{Updates: updates})
}

func (a *Agent) extRenameSession(ctx context.Context, params json.RawMessage) (json.RawMessage, error) {
	var req struct {
		SessionID string `json:"sessionId"`
		Title     string `json:"title"`
	}
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, fmt.Errorf("acp: sessions/rename: %w", err)
	}
	if err := a.orch.RenameSession(ctx, req.SessionID, req.Title); err != nil {
		return nil, err
	}
	return json.Marshal(struct{}{})
}

func (a *Agent) extDeleteSession(ctx context.Context, params json.RawMessage) (json.RawMessage, error) {
	sessionID, err := sessionIDParam(params)
	if err != nil {
		return nil, fmt.Errorf("acp: sessions/delete: %w", err)
	}
	if err := a.orch.DeleteSession(ctx, sessionID); err != nil {
		return nil, err
	}
	return json.Marshal(struct{}{})
}

func (a *Agent) extGetAvailableCommands(ctx context.Context, params json.RawMessage) (json.RawMessage, error) {
	sessionID, err := sessionIDParam(params)
	if err != nil {
		return nil, fmt.Errorf("acp: sessions/getAvailableCommands: %w", err)
	}
	cmds, err := a.orch.GetAvailableCommands(sessionID)
	if err != nil {
		return nil, err
	}
	return json.Marshal(struct {
		AvailableCommands []translate.AvailableCommand `json:"availableCommands"`
	}{AvailableCommands: cmds})
}

func (a *Agent) extAutoRename(ctx context.Context, params json.RawMessage) (json.RawMessage, error) {
	sessionID, err := sessionIDParam(params)
	if err != nil {
		return nil, fmt.Errorf("acp: sessions/autoRename: %w", err)
	}
	title, err := a.orch.AutoRename(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return json.Marshal(struct {
		Title string `json:"title"`
	}{Title: title})
}

func (a *Agent) extListTasks(ctx context.Context, params json.RawMessage) (json.RawMessage, error) {
	sessionID, err := sessionIDParam(params)
	if err != nil {
		return nil, fmt.Errorf("acp: tasks/list: %w", err)
	}
	tasks, err := a.orch.GetTasks(sessionID)
	if err != nil {
		return nil, err
	}
	return json.Marshal(struct {
		Tasks []orchestrator.TaskInfo `json:"tasks"`
	}{Tasks: tasks})
}

func (a *Agent) extGetSubagents(ctx context.Context, params json.RawMessage) (json.RawMessage, error) {
	sessionID, err := sessionIDParam(params)
	if err != nil {
		return nil, fmt.Errorf("acp: sessions/getSubagents: %w", err)
	}
	subagents, err := a.orch.GetSubagents(sessionID)
	if err != nil {
		return nil, err
	}
	return json.Marshal(struct {
		Subagents []orchestrator.SubagentInfo `json:"subagents"`
	}{Subagents: subagents})
}

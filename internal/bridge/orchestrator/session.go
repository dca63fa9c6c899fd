package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kandev/agentbridge/internal/bridge/agentproto"
	"github.com/kandev/agentbridge/internal/bridge/bgtask"
	"github.com/kandev/agentbridge/internal/bridge/correlator"
	"github.com/kandev/agentbridge/internal/bridge/router"
	"github.com/kandev/agentbridge/internal/bridge/toolcache"
	"github.com/kandev/agentbridge/internal/bridge/transport"
	"github.com/kandev/agentbridge/internal/bridge/translate"
	"github.com/kandev/agentbridge/internal/bridge/workerpool"
	"github.com/kandev/agentbridge/internal/common/logger"
	"github.com/kandev/agentbridge/internal/common/stringutil"
	"github.com/kandev/agentbridge/internal/common/tracing"
	"go.uber.org/zap"
)

// ToolExitPlanMode is the tool name the child uses to signal it wants to
// leave plan mode; permission queries for it get the special three-way
// handling spec §4.6 describes rather than the ordinary allow/deny/ask path.
const ToolExitPlanMode = "ExitPlanMode"

// Session is one live conversation with an agent subprocess: its own
// transport, router, correlator, tool-use cache, and background-task map
// (spec §3 "Session").
type Session struct {
	ID      string
	WorkDir string

	transport  *transport.Transport
	router     *router.Router
	correlator *correlator.Correlator
	cache      *toolcache.Cache
	bg         *bgtask.Map
	translator *translate.Translator
	settings   *sharedSettings
	ask        PermissionAsker
	pool       *workerpool.Pool
	titleHook  func(sessionID, title string)

	logger *logger.Logger

	cancelled atomic.Bool

	mu                sync.Mutex
	title             string
	renameAttempted   bool
	updatedAt         time.Time
	currentEmit       func(translate.Update)
	transcript        []translate.Update
}

func (s *Session) touch() {
	s.mu.Lock()
	s.updatedAt = time.Now()
	s.mu.Unlock()
}

// emit records u in the session's transcript (used by sessions/getHistory,
// sessions/getSubagentHistory, sessions/getSubagents and tasks/list) before
// forwarding it to whichever Prompt call is currently live.
func (s *Session) emit(u translate.Update) {
	s.mu.Lock()
	s.transcript = append(s.transcript, u)
	cb := s.currentEmit
	s.mu.Unlock()
	if cb != nil {
		cb(u)
	}
}

// History returns a snapshot of every update this session has emitted across
// its lifetime (spec §6 sessions/getHistory).
func (s *Session) History() []translate.Update {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]translate.Update, len(s.transcript))
	copy(out, s.transcript)
	return out
}

// Subagents reports the Task tool-calls this session's transcript has
// launched so far (spec §6 sessions/getSubagents, §4.6 team-member
// detection). A Task tool-use id doubles as the subagent id consumed by
// SubagentHistory.
func (s *Session) Subagents() []SubagentInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []SubagentInfo
	seen := make(map[string]bool)
	for _, u := range s.transcript {
		if u.Kind != translate.KindToolCall || u.ToolKind != translate.ToolKindAgent {
			continue
		}
		if seen[u.ToolCallID] {
			continue
		}
		seen[u.ToolCallID] = true
		out = append(out, SubagentInfo{ToolUseID: u.ToolCallID, Title: u.Title})
	}
	return out
}

// SubagentHistory returns every update nested under the given Task tool-use
// id (spec §6 sessions/getSubagentHistory).
func (s *Session) SubagentHistory(toolUseID string) []translate.Update {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []translate.Update
	for _, u := range s.transcript {
		if u.ParentToolUseID == toolUseID {
			out = append(out, u)
		}
	}
	return out
}

// Tasks reports every tool-call whose most recently seen status is still
// pending (spec §6 tasks/list) — background shell commands and in-flight
// subagents alike.
func (s *Session) Tasks() []TaskInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	latest := make(map[string]TaskInfo)
	order := make([]string, 0)
	for _, u := range s.transcript {
		if u.Kind != translate.KindToolCall && u.Kind != translate.KindToolCallUpdate {
			continue
		}
		if _, ok := latest[u.ToolCallID]; !ok {
			order = append(order, u.ToolCallID)
		}
		info := latest[u.ToolCallID]
		info.ToolUseID = u.ToolCallID
		if u.Title != "" {
			info.Title = u.Title
		}
		if u.ToolKind != "" {
			info.ToolKind = u.ToolKind
		}
		if u.Status != "" {
			info.Status = u.Status
		}
		latest[u.ToolCallID] = info
	}

	out := make([]TaskInfo, 0, len(order))
	for _, id := range order {
		info := latest[id]
		if info.Status == translate.ToolStatusPending {
			out = append(out, info)
		}
	}
	return out
}

// AvailableCommands returns the available-commands list from the most
// recent such update the child has emitted, or nil if it never has — the
// child's protocol has no subtype that populates this today, so the common
// case is an empty list (see DESIGN.md).
func (s *Session) AvailableCommands() []translate.AvailableCommand {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.transcript) - 1; i >= 0; i-- {
		if s.transcript[i].Kind == translate.KindAvailableCommandsUpdate {
			return s.transcript[i].AvailableCommands
		}
	}
	return nil
}

// AutoRename synchronously asks the pre-warmed pool for a fresh title from
// the session's transcript so far (spec §6 sessions/autoRename) — unlike the
// detached refineTitle used right after a session opens, a caller invoking
// this ext method directly is already waiting on the result.
func (s *Session) AutoRename(ctx context.Context) (string, error) {
	if s.pool == nil {
		return "", fmt.Errorf("orchestrator: no worker pool configured for title refinement")
	}

	summary := s.transcriptTextSample()
	if summary == "" {
		return "", fmt.Errorf("orchestrator: nothing to summarize yet")
	}

	title, err := s.pool.Query(ctx, fmt.Sprintf(
		"Reply with only a concise 4-8 word title (no quotes, no trailing punctuation) summarizing this conversation:\n\n%s", summary))
	if err != nil {
		return "", err
	}
	title = stringutil.TruncateStringWithEllipsis(strings.TrimSpace(title), 80)
	if title == "" {
		return "", fmt.Errorf("orchestrator: empty title from auxiliary model")
	}

	s.mu.Lock()
	s.title = title
	s.mu.Unlock()
	if s.titleHook != nil {
		s.titleHook(s.ID, title)
	}
	return title, nil
}

func (s *Session) transcriptTextSample() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var sb strings.Builder
	for _, u := range s.transcript {
		if u.Kind == translate.KindAgentMessageChunk && u.Text != "" {
			sb.WriteString(u.Text)
			sb.WriteString("\n")
		}
		if sb.Len() > 2000 {
			break
		}
	}
	return stringutil.TruncateStringWithEllipsis(sb.String(), 2000)
}

// onTaskNotification is the router's InterceptHandler for this session: it
// resolves a deferred background-task completion and emits the matching
// tool-call-update directly from the reader goroutine (spec §4.7 "Map
// consumption happens in the router's intercept plane").
func (s *Session) onTaskNotification(msg *agentproto.SystemMessage) {
	toolUseID, found := s.bg.Resolve(msg.TaskID, msg.OutputFile)
	if !found && msg.AgentID != "" {
		toolUseID, found = s.bg.Resolve(msg.AgentID, "")
	}
	if !found {
		s.logger.Warn("protocol fault: task notification with no matching background tool-use",
			zap.String("task_id", msg.TaskID))
		return
	}

	status := translate.ToolStatusCompleted
	failed := msg.Status == "failed"
	if failed {
		status = translate.ToolStatusFailed
	}
	s.cache.Resolve(toolUseID, failed)
	s.cache.Evict(toolUseID)

	u := translate.Update{
		Kind:       translate.KindToolCallUpdate,
		ToolCallID: toolUseID,
		Status:     status,
	}
	if msg.Summary != "" {
		u.Title = msg.Summary
		u.Content = []translate.ToolCallContent{
			{Type: "content", Text: msg.Summary},
		}
	}
	s.emit(u)
}

// Cancel flips the cancelled flag and asks the child to interrupt the
// in-flight turn (spec §4.6 cancel()).
func (s *Session) Cancel(ctx context.Context) {
	s.cancelled.Store(true)
	_, _ = s.correlator.SendToAgent(ctx, agentproto.OutgoingControlRequestBody{Subtype: agentproto.CtrlSubtypeInterrupt})
}

// Close tears down the session's subprocess and correlator.
func (s *Session) Close() error {
	s.correlator.Close()
	return s.transport.Close()
}

// Prompt runs one turn: pushes the flattened prompt onto the child's stdin,
// then drives the turn loop until a terminal result message, cancellation,
// or subprocess death (spec §4.6 prompt()).
func (s *Session) Prompt(ctx context.Context, items []PromptItem, emit func(translate.Update)) (StopReason, *ResultMeta, error) {
	s.cancelled.Store(false)
	s.mu.Lock()
	s.currentEmit = emit
	refine := false
	if s.title == "" {
		s.title = firstTextOf(items)
		if s.pool != nil && !s.renameAttempted {
			s.renameAttempted = true
			refine = true
		}
	}
	s.mu.Unlock()
	if refine {
		go s.refineTitle(items)
	}

	content := make([]map[string]any, 0, len(items))
	for _, it := range items {
		if it.IsImage {
			src := map[string]any{}
			if it.ImageB64 != "" {
				src["type"] = "base64"
				src["media_type"] = it.MediaType
				src["data"] = it.ImageB64
			} else {
				src["type"] = "url"
				src["url"] = it.ImageURL
			}
			content = append(content, map[string]any{"type": "image", "source": src})
			continue
		}
		content = append(content, map[string]any{"type": "text", "text": it.Text})
	}

	if err := s.transport.Write(agentproto.OutgoingUserMessage{
		Type:    "user",
		Message: agentproto.OutgoingUserBody{Role: "user", Content: content},
	}); err != nil {
		return "", nil, &ErrSessionDead{SessionID: s.ID, Err: fmt.Errorf("write: %w", err)}
	}

	for {
		msg, err := s.router.Next()
		if err != nil {
			if s.cancelled.Load() {
				return StopCancelled, nil, nil
			}
			return "", nil, &ErrSessionDead{SessionID: s.ID, Err: err}
		}

		if s.cancelled.Load() {
			return StopCancelled, nil, nil
		}

		switch msg.Envelope.Type {
		case agentproto.TypeStreamEvent:
			var ev agentproto.StreamEvent
			if err := json.Unmarshal(msg.Raw, &ev); err != nil {
				s.logger.Warn("protocol fault: malformed stream event", zap.Error(err))
				continue
			}
			for _, u := range s.translator.HandleStreamEvent(ev.Event, "") {
				s.emit(u)
			}

		case agentproto.TypeAssistant:
			var am agentproto.AssistantMessage
			if err := json.Unmarshal(msg.Raw, &am); err != nil {
				s.logger.Warn("protocol fault: malformed assistant message", zap.Error(err))
				continue
			}
			updates, err := s.translator.HandleAssistantMessage(am)
			if err != nil {
				return "", nil, err
			}
			for _, u := range updates {
				s.emit(u)
			}

		case agentproto.TypeUser:
			var um agentproto.UserMessage
			if err := json.Unmarshal(msg.Raw, &um); err != nil {
				s.logger.Warn("protocol fault: malformed user message", zap.Error(err))
				continue
			}
			updates, err := s.translator.HandleUserMessage(um)
			if err != nil {
				return "", nil, err
			}
			for _, u := range updates {
				s.emit(u)
			}

		case agentproto.TypeControlRequest:
			var req agentproto.IncomingControlRequest
			if err := json.Unmarshal(msg.Raw, &req); err != nil {
				s.logger.Warn("protocol fault: malformed control request", zap.Error(err))
				continue
			}
			if err := s.handleIncomingControlRequest(ctx, &req); err != nil {
				return "", nil, err
			}

		case agentproto.TypeControlResponse:
			var resp agentproto.IncomingControlResponse
			if err := json.Unmarshal(msg.Raw, &resp); err != nil {
				s.logger.Warn("protocol fault: malformed control response", zap.Error(err))
				continue
			}
			if !s.correlator.ResolveFromAgentResponse(&resp) {
				s.logger.Warn("protocol fault: control response with no matching request",
					zap.String("request_id", resp.RequestID))
			}

		case agentproto.TypeSystem:
			var sys agentproto.SystemMessage
			if err := json.Unmarshal(msg.Raw, &sys); err != nil {
				s.logger.Warn("protocol fault: malformed system message", zap.Error(err))
				continue
			}
			s.logger.Debug("system notification", zap.String("subtype", sys.Subtype))

		case agentproto.TypeResult:
			var res agentproto.ResultMessage
			if err := json.Unmarshal(msg.Raw, &res); err != nil {
				return "", nil, fmt.Errorf("orchestrator: malformed result message: %w", err)
			}
			if err := s.translator.HandleResult(res); err != nil {
				return "", nil, err
			}
			s.touch()
			if res.IsError {
				return StopEndTurn, resultMetaOf(res), resultErrorOf(res)
			}
			return stopReasonOf(res), resultMetaOf(res), nil

		default:
			s.logger.Warn("protocol fault: unrecognised message type", zap.String("type", msg.Envelope.Type))
		}
	}
}

// ErrSessionDead reports that the subprocess transport itself failed — as
// opposed to the child reporting an ordinary is_error turn result — so the
// orchestrator knows to evict the session rather than leave it registered
// for a turn that can never succeed (spec §7 "the orchestrator evicts the
// session").
type ErrSessionDead struct {
	SessionID string
	Err       error
}

func (e *ErrSessionDead) Error() string {
	return fmt.Sprintf("orchestrator: session %s subprocess died: %v", e.SessionID, e.Err)
}

func (e *ErrSessionDead) Unwrap() error { return e.Err }

// stopReasonOf classifies a non-error result. Callers must check res.IsError
// first and surface resultErrorOf instead (spec §4.6/§7: an is_error result
// is an internal error, not a normal end_turn).
func stopReasonOf(res agentproto.ResultMessage) StopReason {
	switch res.Subtype {
	case "max_turns":
		return StopMaxTurnRequests
	default:
		return StopEndTurn
	}
}

// resultErrorOf joins a failed turn's reported errors into one error value.
func resultErrorOf(res agentproto.ResultMessage) error {
	if len(res.Errors) == 0 {
		return fmt.Errorf("orchestrator: turn ended in error (%s)", res.Subtype)
	}
	return fmt.Errorf("orchestrator: turn failed: %s", strings.Join(res.Errors, "; "))
}

func resultMetaOf(res agentproto.ResultMessage) *ResultMeta {
	usage := make(map[string]ModelUsage, len(res.ModelUsage))
	for model, stat := range res.ModelUsage {
		usage[model] = ModelUsage{InputTokens: stat.InputTokens, OutputTokens: stat.OutputTokens, ContextWindow: stat.ContextWindow}
	}
	return &ResultMeta{
		DurationMS:        res.DurationMS,
		DurationAPIMS:     res.DurationAPIMS,
		NumTurns:          res.NumTurns,
		CostUSD:           res.CostUSD,
		TotalInputTokens:  res.TotalInputTok,
		TotalOutputTokens: res.TotalOutputTok,
		ModelUsage:        usage,
		PermissionDenials: res.PermissionDenied,
		StructuredOutput:  res.StructuredOutput,
	}
}

// refineTitle asks the pre-warmed auxiliary pool for a short title and
// overwrites the truncated-prompt fallback firstTextOf set synchronously.
// Runs detached from the turn it was triggered by: a slow or failed
// auxiliary query must never hold up the real conversation (spec §4.8
// "routing decisions, title generation" as the pool's auxiliary use case).
func (s *Session) refineTitle(items []PromptItem) {
	prompt := firstTextOf(items)
	if prompt == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	title, err := s.pool.Query(ctx, fmt.Sprintf(
		"Reply with only a concise 4-8 word title (no quotes, no trailing punctuation) summarizing this request:\n\n%s", prompt))
	if err != nil || strings.TrimSpace(title) == "" {
		return
	}
	title = stringutil.TruncateStringWithEllipsis(strings.TrimSpace(title), 80)

	s.mu.Lock()
	s.title = title
	s.mu.Unlock()

	if s.titleHook != nil {
		s.titleHook(s.ID, title)
	}
}

func firstTextOf(items []PromptItem) string {
	for _, it := range items {
		if !it.IsImage && it.Text != "" {
			return stringutil.TruncateStringWithEllipsis(it.Text, 80)
		}
	}
	return ""
}

// handleIncomingControlRequest answers a child-issued control request —
// either a permission query (can_use_tool) or a hook callback — writing a
// ControlResponseMessage back on the same request identifier.
func (s *Session) handleIncomingControlRequest(ctx context.Context, req *agentproto.IncomingControlRequest) error {
	if req.Request == nil {
		return nil
	}

	ctx, span := tracing.Tracer("agentbridge/orchestrator").Start(ctx, "bridge.from_agent."+req.Request.Subtype)
	defer span.End()

	switch req.Request.Subtype {
	case agentproto.CtrlSubtypeCanUseTool:
		return s.handlePermissionQuery(ctx, req)
	case agentproto.CtrlSubtypeHookCallback:
		return s.handleHookCallback(req)
	default:
		s.logger.Warn("protocol fault: unrecognised control request subtype", zap.String("subtype", req.Request.Subtype))
		return nil
	}
}

func (s *Session) handlePermissionQuery(ctx context.Context, req *agentproto.IncomingControlRequest) error {
	body := req.Request
	input := inputMapFromRaw(body.Input)

	if body.ToolName == ToolExitPlanMode {
		return s.handlePlanExitQuery(ctx, req, input)
	}

	decision := s.settings.decide(body.ToolName)
	if decision.Behavior != "ask" {
		return s.respondPermission(req.RequestID, decision.Behavior == "allow", decision.RuleName)
	}

	if s.ask == nil {
		return s.respondPermission(req.RequestID, false, "no-client-handler")
	}

	answer, err := s.ask(PermissionQuery{
		SessionID: s.ID,
		ToolName:  body.ToolName,
		ToolUseID: body.ToolUseID,
		Input:     input,
		Options:   []PermissionOptionKind{PermissionAllowAlways, PermissionAllowOnce, PermissionRejectOnce},
	})
	if err != nil {
		return err // cancellation mid-query interrupts the turn, per spec §4.6
	}
	if answer.Cancelled || answer.Selected == PermissionRejectOnce {
		return s.respondPermission(req.RequestID, false, "")
	}
	if answer.Selected == PermissionAllowAlways {
		s.settings.addRule(body.ToolName, true)
	}
	return s.respondPermission(req.RequestID, true, string(answer.Selected))
}

func (s *Session) handlePlanExitQuery(ctx context.Context, req *agentproto.IncomingControlRequest, input map[string]any) error {
	if s.ask == nil {
		return s.respondPermission(req.RequestID, false, "no-client-handler")
	}
	answer, err := s.ask(PermissionQuery{
		SessionID: s.ID,
		ToolName:  ToolExitPlanMode,
		ToolUseID: req.Request.ToolUseID,
		Input:     input,
		Options:   []PermissionOptionKind{PermissionAllowAlways, PermissionAllowOnce, PermissionRejectOnce},
	})
	if err != nil {
		return err
	}
	if answer.Cancelled || answer.Selected == PermissionRejectOnce {
		return s.respondPermission(req.RequestID, false, "keep-planning")
	}
	mode := ModeDefault
	if answer.Selected == PermissionAllowAlways {
		mode = ModeAcceptEdits
	}
	s.settings.setMode(mode)
	return s.respondPermission(req.RequestID, true, "plan-exit:"+mode)
}

func (s *Session) handleHookCallback(req *agentproto.IncomingControlRequest) error {
	var payload struct {
		ToolUseID  string `json:"tool_use_id"`
		Background bool   `json:"background"`
	}
	if len(req.Request.HookInput) > 0 {
		_ = json.Unmarshal(req.Request.HookInput, &payload)
	}
	if payload.Background && payload.ToolUseID != "" {
		s.cache.MarkBackground(payload.ToolUseID)
	}
	return s.correlator.RespondToAgent(req.RequestID, agentproto.ControlResponseBody{Subtype: "success"})
}

func (s *Session) respondPermission(requestID string, allow bool, ruleName string) error {
	behavior := "deny"
	if allow {
		behavior = "allow"
	}
	var rules []agentproto.PermissionUpdate
	if ruleName != "" {
		rules = []agentproto.PermissionUpdate{{Tool: ruleName, Allow: allow}}
	}
	return s.correlator.RespondToAgent(requestID, agentproto.ControlResponseBody{
		Subtype: "success",
		Result: &agentproto.PermissionResult{
			Behavior:           behavior,
			UpdatedPermissions: rules,
		},
	})
}

func inputMapFromRaw(raw json.RawMessage) map[string]any {
	if len(raw) == 0 {
		return map[string]any{}
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return map[string]any{}
	}
	return m
}

package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kandev/agentbridge/internal/bridge/agentproto"
	"github.com/kandev/agentbridge/internal/bridge/bgtask"
	"github.com/kandev/agentbridge/internal/bridge/correlator"
	"github.com/kandev/agentbridge/internal/bridge/router"
	"github.com/kandev/agentbridge/internal/bridge/toolcache"
	"github.com/kandev/agentbridge/internal/bridge/transport"
	"github.com/kandev/agentbridge/internal/bridge/translate"
	"github.com/kandev/agentbridge/internal/bridge/workerpool"
	"github.com/kandev/agentbridge/internal/common/appctx"
	"github.com/kandev/agentbridge/internal/common/config"
	"github.com/kandev/agentbridge/internal/common/logger"
	"github.com/kandev/agentbridge/internal/sessionindex"
	"go.uber.org/zap"
)

// Orchestrator is the top-level session-lifecycle façade: it owns every live
// session, the per-workdir shared-settings registry, and the disk-backed
// session index (spec §4.6).
type Orchestrator struct {
	cfg    *config.Config
	logger *logger.Logger
	index  *sessionindex.Store
	ask    PermissionAsker
	pool   *workerpool.Pool

	mu       sync.Mutex
	sessions map[string]*Session
	settings map[string]*sharedSettings
}

// New constructs an Orchestrator. ask is the callback the acp layer installs
// to resolve permission queries against the upstream client; idx may be nil
// when no session-index path is configured.
func New(cfg *config.Config, log *logger.Logger, idx *sessionindex.Store, ask PermissionAsker) *Orchestrator {
	return &Orchestrator{
		cfg:      cfg,
		logger:   log.WithFields(zap.String("component", "orchestrator")),
		index:    idx,
		ask:      ask,
		sessions: make(map[string]*Session),
		settings: make(map[string]*sharedSettings),
	}
}

// SetWorkerPool installs the pre-warmed auxiliary pool used for background
// title refinement. Mirrors Agent.SetOrchestrator: constructing the pool
// needs a logger and config already built, so wiring it in is a
// post-construction step rather than a New() parameter.
func (o *Orchestrator) SetWorkerPool(pool *workerpool.Pool) {
	o.pool = pool
}

// sessionOpts groups the knobs NewSession/ForkSession/ResumeSession share.
type sessionOpts struct {
	WorkDir       string
	Model         string
	PermissionMode string
	ResumeID      string
	ForkID        string
	McpServers    json.RawMessage
	ClientCaps    ClientCapabilities
}

// NewSession spawns a fresh agent subprocess and registers the session (spec
// §4.6 newSession()). mcpServers is the already-rendered --mcp-config JSON
// blob (see internal/bridge/transport.BuildMcpServersJSON); nil when the
// client's session/new request carried none. caps is the client's
// capabilities as reported at Initialize time (spec §6 "Client capabilities
// consumed") and gates which of the child's native tools get disallowed.
func (o *Orchestrator) NewSession(ctx context.Context, workDir string, model string, permissionMode string, mcpServers json.RawMessage, caps ClientCapabilities) (*Session, SessionInfo, error) {
	return o.spawnSession(ctx, sessionOpts{WorkDir: workDir, Model: model, PermissionMode: permissionMode, McpServers: mcpServers, ClientCaps: caps})
}

// ForkSession spawns a subprocess resuming from an existing session as a new
// independent branch (spec §4.6 forkSession()).
func (o *Orchestrator) ForkSession(ctx context.Context, workDir, parentSessionID, model, permissionMode string, caps ClientCapabilities) (*Session, SessionInfo, error) {
	return o.spawnSession(ctx, sessionOpts{WorkDir: workDir, Model: model, PermissionMode: permissionMode, ForkID: parentSessionID, ClientCaps: caps})
}

// ResumeSession reattaches to a prior session's transcript in-place (spec
// §4.6 resumeSession()).
func (o *Orchestrator) ResumeSession(ctx context.Context, workDir, sessionID, model, permissionMode string, caps ClientCapabilities) (*Session, SessionInfo, error) {
	return o.spawnSession(ctx, sessionOpts{WorkDir: workDir, Model: model, PermissionMode: permissionMode, ResumeID: sessionID, ClientCaps: caps})
}

func (o *Orchestrator) spawnSession(ctx context.Context, opts sessionOpts) (*Session, SessionInfo, error) {
	mode := opts.PermissionMode
	if mode == "" {
		mode = ModeDefault
	}

	settings := o.acquireSettings(opts.WorkDir, mode)

	allowBypass := mode == ModeBypassPermissions && bypassPermissionsAllowed()
	spawnOpts := transport.SpawnOptions{
		WorkDir:                         opts.WorkDir,
		Model:                           opts.Model,
		PermissionMode:                  mode,
		AllowDangerouslySkipPermissions: allowBypass,
		PartialMessages:                 true,
		ResumeSessionID:                 opts.ResumeID,
		ForkSessionID:                   opts.ForkID,
		McpServers:                      opts.McpServers,
		ToolDisallowList:                toolDisallowListFor(opts.ClientCaps),
	}

	tp, err := transport.Spawn(ctx, o.cfg.Subprocess.Command, spawnOpts, o.cfg.Subprocess.ShutdownGrace, o.logger)
	if err != nil {
		settings.release()
		return nil, SessionInfo{}, fmt.Errorf("orchestrator: spawn: %w", err)
	}

	cache := toolcache.New()
	bg := bgtask.New()
	tr := translate.New(cache, bg, o.logger)

	id := opts.ResumeID
	if id == "" {
		id = uuid.New().String()
	}

	sess := &Session{
		ID:         id,
		WorkDir:    opts.WorkDir,
		transport:  tp,
		cache:      cache,
		bg:         bg,
		translator: tr,
		settings:   settings,
		ask:        o.ask,
		logger:     o.logger.WithFields(zap.String("session_id", id)),
		updatedAt:  time.Now(),
		pool:       o.pool,
		titleHook:  o.handleTitleRefined,
	}
	sess.correlator = correlator.New(tp)
	sess.router = router.New(tp, sess.onTaskNotification, o.logger)

	initCtx, cancel := context.WithTimeout(ctx, o.cfg.Subprocess.InitializeTimeout)
	defer cancel()
	_, err = sess.correlator.SendToAgent(initCtx, agentproto.OutgoingControlRequestBody{Subtype: agentproto.CtrlSubtypeInitialize})
	if err != nil {
		sess.Close()
		settings.release()
		return nil, SessionInfo{}, fmt.Errorf("orchestrator: initialize handshake: %w", err)
	}

	o.mu.Lock()
	o.sessions[id] = sess
	o.mu.Unlock()

	if o.index != nil {
		_ = o.index.Upsert(ctx, sessionindex.Entry{ID: id, WorkDir: opts.WorkDir, UpdatedAt: sess.updatedAt})
	}

	return sess, SessionInfo{SessionID: id}, nil
}

// handleTitleRefined persists a session's worker-pool-refined title to the
// index once background refinement completes (spec §4.8 title-generation
// use case). Installed on each Session as titleHook so the refinement
// goroutine never needs to reach back into Orchestrator's own locking.
func (o *Orchestrator) handleTitleRefined(sessionID, title string) {
	if o.index == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := o.index.Rename(ctx, sessionID, title); err != nil {
		o.logger.Warn("failed to persist refined session title", zap.String("session_id", sessionID), zap.Error(err))
	}
}

func (o *Orchestrator) acquireSettings(workDir, mode string) *sharedSettings {
	o.mu.Lock()
	defer o.mu.Unlock()

	s, ok := o.settings[workDir]
	if !ok {
		s = newSharedSettings(workDir, mode)
		o.settings[workDir] = s
	}
	s.acquire()
	return s
}

// Session looks up a live session by ID.
func (o *Orchestrator) Session(id string) (*Session, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	s, ok := o.sessions[id]
	return s, ok
}

// Prompt drives one turn of an existing session (spec §4.6 prompt()).
func (o *Orchestrator) Prompt(ctx context.Context, sessionID string, items []PromptItem, emit func(translate.Update)) (StopReason, *ResultMeta, error) {
	sess, ok := o.Session(sessionID)
	if !ok {
		return "", nil, fmt.Errorf("orchestrator: unknown session %s", sessionID)
	}
	reason, meta, err := sess.Prompt(ctx, items, emit)

	var deadErr *ErrSessionDead
	if errors.As(err, &deadErr) {
		o.evictSession(sessionID)
		return reason, meta, err
	}

	if o.index != nil {
		_ = o.index.Upsert(ctx, sessionindex.Entry{ID: sess.ID, WorkDir: sess.WorkDir, Title: sess.title, UpdatedAt: time.Now()})
	}
	return reason, meta, err
}

// evictSession removes a session whose subprocess died from the live
// registry, releasing its shared-settings handle. The disk index entry is
// left in place so the session still shows up in list-sessions/history for
// a later resume attempt against a fresh subprocess.
func (o *Orchestrator) evictSession(sessionID string) {
	o.mu.Lock()
	sess, ok := o.sessions[sessionID]
	delete(o.sessions, sessionID)
	o.mu.Unlock()
	if !ok {
		return
	}
	if sess.settings.release() {
		o.mu.Lock()
		delete(o.settings, sess.WorkDir)
		o.mu.Unlock()
	}
	_ = sess.Close()
}

// Cancel interrupts a session's in-flight turn.
func (o *Orchestrator) Cancel(ctx context.Context, sessionID string) error {
	sess, ok := o.Session(sessionID)
	if !ok {
		return fmt.Errorf("orchestrator: unknown session %s", sessionID)
	}
	sess.Cancel(ctx)
	return nil
}

// SetSessionMode pushes a permission-mode change both to the shared settings
// handle and to the live subprocess (spec §4.6 setSessionMode()).
func (o *Orchestrator) SetSessionMode(ctx context.Context, sessionID, mode string) error {
	sess, ok := o.Session(sessionID)
	if !ok {
		return fmt.Errorf("orchestrator: unknown session %s", sessionID)
	}
	sess.settings.setMode(mode)
	_, err := sess.correlator.SendToAgent(ctx, agentproto.OutgoingControlRequestBody{Subtype: agentproto.CtrlSubtypeSetPermissionMode, Mode: mode})
	return err
}

// SetSessionModel pushes a model change to the live subprocess.
func (o *Orchestrator) SetSessionModel(ctx context.Context, sessionID, model string) error {
	sess, ok := o.Session(sessionID)
	if !ok {
		return fmt.Errorf("orchestrator: unknown session %s", sessionID)
	}
	_, err := sess.correlator.SendToAgent(ctx, agentproto.OutgoingControlRequestBody{Subtype: agentproto.CtrlSubtypeSetModel, Model: model})
	return err
}

// ListSessions merges the disk-backed index with any live in-memory sessions
// for a given working directory (spec §4.6 listSessions()).
func (o *Orchestrator) ListSessions(ctx context.Context, workDir string) ([]SessionSummary, error) {
	var rows []sessionindex.Entry
	if o.index != nil {
		var err error
		rows, err = o.index.List(ctx, workDir)
		if err != nil {
			return nil, fmt.Errorf("orchestrator: list sessions: %w", err)
		}
	}

	out := make([]SessionSummary, 0, len(rows))
	seen := make(map[string]bool, len(rows))
	for _, r := range rows {
		out = append(out, SessionSummary{ID: r.ID, Title: r.Title, UpdatedAt: r.UpdatedAt, ParentID: parentIDFromMetadata(r.Metadata)})
		seen[r.ID] = true
	}

	o.mu.Lock()
	for id, sess := range o.sessions {
		if seen[id] || sess.WorkDir != workDir {
			continue
		}
		sess.mu.Lock()
		title, updated := sess.title, sess.updatedAt
		sess.mu.Unlock()
		out = append(out, SessionSummary{ID: id, Title: title, UpdatedAt: updated})
	}
	o.mu.Unlock()

	return out, nil
}

func parentIDFromMetadata(meta map[string]any) string {
	if meta == nil {
		return ""
	}
	if v, ok := meta["parent_id"].(string); ok {
		return v
	}
	return ""
}

// RenameSession updates a session's title both in-memory and in the index.
func (o *Orchestrator) RenameSession(ctx context.Context, sessionID, title string) error {
	if sess, ok := o.Session(sessionID); ok {
		sess.mu.Lock()
		sess.title = title
		sess.mu.Unlock()
	}
	if o.index == nil {
		return nil
	}
	return o.index.Rename(ctx, sessionID, title)
}

// DeleteSession closes a live session (if any) and removes it from the
// index.
func (o *Orchestrator) DeleteSession(ctx context.Context, sessionID string) error {
	o.mu.Lock()
	sess, ok := o.sessions[sessionID]
	delete(o.sessions, sessionID)
	o.mu.Unlock()

	if ok {
		if sess.settings.release() {
			o.mu.Lock()
			delete(o.settings, sess.WorkDir)
			o.mu.Unlock()
		}
		_ = sess.Close()
	}
	if o.index == nil {
		return nil
	}
	return o.index.Delete(ctx, sessionID)
}

// GetHistory returns every update a live session has emitted so far (spec §6
// sessions/getHistory). Only in-memory sessions are covered — the disk index
// stores title/metadata, not full transcripts (see DESIGN.md).
func (o *Orchestrator) GetHistory(sessionID string) ([]translate.Update, error) {
	sess, ok := o.Session(sessionID)
	if !ok {
		return nil, fmt.Errorf("orchestrator: unknown session %s", sessionID)
	}
	return sess.History(), nil
}

// GetSubagents reports the Task tool-calls a session has launched so far
// (spec §6 sessions/getSubagents).
func (o *Orchestrator) GetSubagents(sessionID string) ([]SubagentInfo, error) {
	sess, ok := o.Session(sessionID)
	if !ok {
		return nil, fmt.Errorf("orchestrator: unknown session %s", sessionID)
	}
	return sess.Subagents(), nil
}

// GetSubagentHistory returns the updates nested under one subagent's Task
// tool-use id (spec §6 sessions/getSubagentHistory).
func (o *Orchestrator) GetSubagentHistory(sessionID, subagentToolUseID string) ([]translate.Update, error) {
	sess, ok := o.Session(sessionID)
	if !ok {
		return nil, fmt.Errorf("orchestrator: unknown session %s", sessionID)
	}
	return sess.SubagentHistory(subagentToolUseID), nil
}

// GetTasks reports every tool-call still pending a terminal update (spec §6
// tasks/list).
func (o *Orchestrator) GetTasks(sessionID string) ([]TaskInfo, error) {
	sess, ok := o.Session(sessionID)
	if !ok {
		return nil, fmt.Errorf("orchestrator: unknown session %s", sessionID)
	}
	return sess.Tasks(), nil
}

// GetAvailableCommands reports the session's most recently known slash
// command list (spec §6 sessions/getAvailableCommands).
func (o *Orchestrator) GetAvailableCommands(sessionID string) ([]translate.AvailableCommand, error) {
	sess, ok := o.Session(sessionID)
	if !ok {
		return nil, fmt.Errorf("orchestrator: unknown session %s", sessionID)
	}
	return sess.AvailableCommands(), nil
}

// AutoRename asks the worker pool to summarize the session's transcript so
// far into a fresh title (spec §6 sessions/autoRename).
func (o *Orchestrator) AutoRename(ctx context.Context, sessionID string) (string, error) {
	sess, ok := o.Session(sessionID)
	if !ok {
		return "", fmt.Errorf("orchestrator: unknown session %s", sessionID)
	}
	title, err := sess.AutoRename(ctx)
	if err != nil {
		return "", err
	}
	if o.index != nil {
		_ = o.index.Rename(ctx, sessionID, title)
	}
	return title, nil
}

// Shutdown closes every live session, used at process exit (spec §6 "Exit
// behaviour").
func (o *Orchestrator) Shutdown() {
	o.mu.Lock()
	sessions := make([]*Session, 0, len(o.sessions))
	for _, s := range o.sessions {
		sessions = append(sessions, s)
	}
	o.sessions = make(map[string]*Session)
	o.mu.Unlock()

	var wg sync.WaitGroup
	for _, s := range sessions {
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			if err := s.Close(); err != nil {
				o.logger.Warn("error closing session at shutdown", zap.String("session_id", s.ID), zap.Error(err))
			}
		}(s)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	// Shutdown takes no context: the drain wait is bounded only by the
	// shutdown grace period, so a cancelled request or signal context never
	// short-circuits draining the sessions we just asked to close.
	ctx, cancel := appctx.Detached(context.Background(), nil, o.cfg.Subprocess.ShutdownGrace)
	defer cancel()
	select {
	case <-done:
	case <-ctx.Done():
		o.logger.Warn("shutdown grace period elapsed with sessions still closing")
	}
}

package orchestrator

import (
	"os"
	"sync"

	"github.com/kandev/agentbridge/internal/bridge/translate"
)

// Permission mode closed set (spec §6). Mirrored here, rather than imported
// from package acp, to keep the dependency direction one-way: acp depends on
// orchestrator, not the reverse.
const (
	ModeDefault           = "default"
	ModeAcceptEdits       = "acceptEdits"
	ModeBypassPermissions = "bypassPermissions"
	ModeDontAsk           = "dontAsk"
	ModePlan              = "plan"
	ModeDelegate          = "delegate"
)

// bypassPermissionsAllowed reports whether bypassPermissions may be honoured
// in the current process — disabled when running as root.
func bypassPermissionsAllowed() bool {
	return os.Geteuid() != 0
}

// rule is one remembered allow/deny decision, scoped to a tool name (spec
// §4.6 "a rule name for logging").
type rule struct {
	tool  string
	allow bool
}

// sharedSettings is the reference-counted, per-working-directory settings
// handle sessions opened against the same workdir share (spec §3 "a
// reference-counted shared settings handle keyed by working directory").
type sharedSettings struct {
	mu       sync.Mutex
	workDir  string
	refCount int
	mode     string
	rules    []rule
}

func newSharedSettings(workDir, initialMode string) *sharedSettings {
	return &sharedSettings{workDir: workDir, mode: initialMode}
}

func (s *sharedSettings) acquire() {
	s.mu.Lock()
	s.refCount++
	s.mu.Unlock()
}

// release returns true when the last reference has been dropped and the
// handle should be evicted from the orchestrator's registry.
func (s *sharedSettings) release() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refCount--
	return s.refCount <= 0
}

func (s *sharedSettings) setMode(mode string) {
	s.mu.Lock()
	s.mode = mode
	s.mu.Unlock()
}

func (s *sharedSettings) getMode() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

func (s *sharedSettings) addRule(toolName string, allow bool) {
	s.mu.Lock()
	s.rules = append(s.rules, rule{tool: toolName, allow: allow})
	s.mu.Unlock()
}

func (s *sharedSettings) matchRule(toolName string) (rule, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.rules) - 1; i >= 0; i-- {
		if s.rules[i].tool == toolName {
			return s.rules[i], true
		}
	}
	return rule{}, false
}

// toolDisallowListFor maps the client capabilities reported at Initialize
// time onto the child's --disallowed-tools list: when the client can serve a
// capability itself (reading/writing files, running a terminal), the child's
// matching native tool is disallowed so the request routes through the
// client instead (spec §6 "Client capabilities consumed").
func toolDisallowListFor(caps ClientCapabilities) []string {
	var out []string
	if caps.ReadTextFile {
		out = append(out, translate.ToolRead)
	}
	if caps.WriteTextFile {
		out = append(out, translate.ToolEdit, translate.ToolWrite, translate.ToolNotebookEdit)
	}
	if caps.Terminal {
		out = append(out, translate.ToolBash)
	}
	return out
}

// decide implements the pre-tool hook's allow/deny/ask decision (spec §4.6,
// "consults the shared settings to decide allow/deny/ask").
func (s *sharedSettings) decide(toolName string) PermissionDecision {
	mode := s.getMode()

	if mode == ModeBypassPermissions && bypassPermissionsAllowed() {
		return PermissionDecision{Behavior: "allow", RuleName: "bypassPermissions"}
	}
	if mode == ModeAcceptEdits && translate.IsEditTool(toolName) {
		return PermissionDecision{Behavior: "allow", RuleName: "acceptEdits:" + toolName}
	}
	if r, ok := s.matchRule(toolName); ok {
		if r.allow {
			return PermissionDecision{Behavior: "allow", RuleName: "session-rule:" + toolName}
		}
		return PermissionDecision{Behavior: "deny", RuleName: "session-rule:" + toolName}
	}
	if mode == ModeDontAsk {
		return PermissionDecision{Behavior: "allow", RuleName: "dontAsk"}
	}
	return PermissionDecision{Behavior: "ask"}
}

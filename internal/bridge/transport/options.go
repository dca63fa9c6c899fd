package transport

import (
	"encoding/json"
	"strconv"
	"strings"
)

// SystemPromptMode selects whether SystemPrompt replaces or appends to the
// child's preset system prompt.
type SystemPromptMode int

const (
	// SystemPromptLiteral passes SystemPrompt as the entire system prompt.
	SystemPromptLiteral SystemPromptMode = iota
	// SystemPromptAppend appends SystemPrompt to the child's own preset.
	SystemPromptAppend
)

// SpawnOptions enumerates every flag the bridge forwards to the agent
// subprocess at spawn time (spec §4.1).
type SpawnOptions struct {
	WorkDir string

	Model            string
	FallbackModel    string
	MaxTurns         int
	MaxBudgetUSD     float64
	MaxThinkingTokens int

	SystemPrompt     string
	SystemPromptMode SystemPromptMode

	PermissionMode              string
	AllowDangerouslySkipPermissions bool // only honoured when not running as root

	ToolAllowList    []string
	ToolDisallowList []string

	// PartialMessages is always true per spec; kept explicit so callers can
	// see it is a deliberate, non-configurable choice rather than an
	// oversight.
	PartialMessages bool

	McpServers json.RawMessage // merged user + internal server configs
	Hooks      json.RawMessage // merged user hooks + the two internal hooks

	ResumeSessionID string
	ForkSessionID   string

	// Executable overrides the configured subprocess.command (env/path
	// override). ExtraArgs are placed before the bridge's own flags, which
	// args() always appends last.
	Executable string
	ExtraArgs  []string
	Env        []string
}

// args renders the options into a child argv, always appending the bridge's
// own framing flags last so they can never be shadowed by ExtraArgs.
func (o SpawnOptions) args() []string {
	a := append([]string{}, o.ExtraArgs...)

	if o.Model != "" {
		a = append(a, "--model", o.Model)
	}
	if o.FallbackModel != "" {
		a = append(a, "--fallback-model", o.FallbackModel)
	}
	if o.MaxTurns > 0 {
		a = append(a, "--max-turns", itoa(o.MaxTurns))
	}
	if o.MaxBudgetUSD > 0 {
		a = append(a, "--max-budget-usd", ftoa(o.MaxBudgetUSD))
	}
	if o.MaxThinkingTokens > 0 {
		a = append(a, "--max-thinking-tokens", itoa(o.MaxThinkingTokens))
	}
	if o.SystemPrompt != "" {
		if o.SystemPromptMode == SystemPromptAppend {
			a = append(a, "--append-system-prompt", o.SystemPrompt)
		} else {
			a = append(a, "--system-prompt", o.SystemPrompt)
		}
	}
	if o.PermissionMode != "" {
		a = append(a, "--permission-mode", o.PermissionMode)
	}
	if o.AllowDangerouslySkipPermissions {
		a = append(a, "--dangerously-skip-permissions")
	}
	if len(o.ToolAllowList) > 0 {
		a = append(a, "--allowed-tools", joinComma(o.ToolAllowList))
	}
	if len(o.ToolDisallowList) > 0 {
		a = append(a, "--disallowed-tools", joinComma(o.ToolDisallowList))
	}
	if len(o.McpServers) > 0 {
		a = append(a, "--mcp-config", string(o.McpServers))
	}
	if o.ResumeSessionID != "" {
		a = append(a, "--resume", o.ResumeSessionID)
	}
	if o.ForkSessionID != "" {
		a = append(a, "--fork-session", o.ForkSessionID)
	}

	a = append(a,
		"--input-format", "stream-json",
		"--output-format", "stream-json",
		"--verbose",
	)
	return a
}

func itoa(v int) string {
	return strconv.Itoa(v)
}

func ftoa(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func joinComma(items []string) string {
	return strings.Join(items, ",")
}

package translate

import (
	"fmt"
	"strings"

	"github.com/kandev/agentbridge/internal/bridge/agentproto"
)

// Tool name constants, matching the child's native tool vocabulary.
const (
	ToolEdit         = "Edit"
	ToolWrite        = "Write"
	ToolNotebookEdit = "NotebookEdit"
	ToolRead         = "Read"
	ToolGlob         = "Glob"
	ToolGrep         = "Grep"
	ToolBash         = "Bash"
	ToolBashOutput   = "BashOutput"
	ToolKillShell    = "KillShell"
	ToolWebFetch     = "WebFetch"
	ToolWebSearch    = "WebSearch"
	ToolTask         = "Task"
	ToolTodoWrite    = "TodoWrite"
)

// toolMeta is the synthesised title and kind for one tool-use, derived from
// its name and input.
type toolMeta struct {
	Title     string
	Kind      string
	Locations []ToolCallLocation
}

// synthesize maps a tool name and its input into a title/kind pair and any
// source-file locations it names (spec §4.5 "Title and kind synthesis").
// Grounded directly on the teacher's streamjson.Normalizer tool-name switch.
func synthesize(toolName string, input map[string]any) toolMeta {
	switch toolName {
	case ToolEdit, ToolWrite, ToolNotebookEdit:
		path := getString(input, "file_path")
		kind := ToolKindEdit
		verb := "Edit"
		if toolName == ToolWrite {
			kind = ToolKindWrite
			verb = "Write"
		}
		return toolMeta{
			Title:     fmt.Sprintf("%s %s", verb, basename(path)),
			Kind:      kind,
			Locations: locIfSet(path),
		}
	case ToolRead:
		path := getString(input, "file_path")
		return toolMeta{
			Title:     fmt.Sprintf("Read %s", basename(path)),
			Kind:      ToolKindRead,
			Locations: locIfSet(path),
		}
	case ToolGlob, ToolGrep:
		pattern := getString(input, "pattern")
		return toolMeta{
			Title: fmt.Sprintf("Search %q", truncate(pattern, 60)),
			Kind:  ToolKindSearch,
		}
	case ToolBash:
		cmd := getString(input, "command")
		return toolMeta{
			Title: truncate(cmd, 80),
			Kind:  ToolKindBash,
		}
	case ToolBashOutput, ToolKillShell:
		return toolMeta{Title: toolName, Kind: ToolKindBash}
	case ToolWebFetch, ToolWebSearch:
		target := getString(input, "url")
		if target == "" {
			target = getString(input, "query")
		}
		return toolMeta{
			Title: fmt.Sprintf("%s %s", toolName, truncate(target, 60)),
			Kind:  ToolKindWeb,
		}
	case ToolTask:
		desc := getString(input, "description")
		if desc == "" {
			desc = "subagent task"
		}
		return toolMeta{
			Title: desc,
			Kind:  ToolKindAgent,
		}
	default:
		return toolMeta{Title: toolName, Kind: ToolKindOther}
	}
}

// isPlanningTool reports whether toolName is the canonical todo-list tool,
// whose input should be translated to a plan update rather than a tool-call.
func isPlanningTool(toolName string) bool {
	return toolName == ToolTodoWrite
}

// planFromInput converts a TodoWrite-shaped input into plan entries. Returns
// false if the input does not have the canonical {todos: [...]} shape.
func planFromInput(input map[string]any) ([]PlanEntry, bool) {
	raw, ok := input["todos"].([]any)
	if !ok {
		return nil, false
	}
	entries := make([]PlanEntry, 0, len(raw))
	for _, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		status := getString(m, "status")
		switch status {
		case "pending", "in_progress", "completed":
		default:
			status = "pending"
		}
		entries = append(entries, PlanEntry{
			Content: getString(m, "content"),
			Status:  status,
		})
	}
	return entries, true
}

// IsEditTool reports whether toolName belongs to the named subset of
// file-write/file-edit tools the orchestrator auto-allows under
// acceptEdits mode (spec §4.6 permission query handler). Exported so the
// orchestrator's acceptEdits check shares this one definition rather than
// keeping its own copy of the tool-name set.
func IsEditTool(toolName string) bool {
	switch toolName {
	case ToolEdit, ToolWrite, ToolNotebookEdit:
		return true
	default:
		return false
	}
}

func getString(m map[string]any, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

func basename(path string) string {
	if path == "" {
		return ""
	}
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		return path[i+1:]
	}
	return path
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "…"
}

func locIfSet(path string) []ToolCallLocation {
	if path == "" {
		return nil
	}
	return []ToolCallLocation{{Path: path}}
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

// generateUnifiedDiff renders a minimal git-style unified diff between
// oldStr and newStr for the given path. Grounded on the teacher's
// streamjson.generateUnifiedDiff.
func generateUnifiedDiff(oldStr, newStr, path string) string {
	if oldStr == "" && newStr == "" {
		return ""
	}
	oldLines := splitLines(oldStr)
	newLines := splitLines(newStr)

	var sb strings.Builder
	fmt.Fprintf(&sb, "diff --git a/%s b/%s\n", path, path)
	sb.WriteString("index 0000000..0000000 100644\n")
	fmt.Fprintf(&sb, "--- a/%s\n", path)
	fmt.Fprintf(&sb, "+++ b/%s\n", path)
	fmt.Fprintf(&sb, "@@ -1,%d +1,%d @@\n", len(oldLines), len(newLines))
	for _, line := range oldLines {
		sb.WriteString("-")
		sb.WriteString(line)
		sb.WriteString("\n")
	}
	for _, line := range newLines {
		sb.WriteString("+")
		sb.WriteString(line)
		sb.WriteString("\n")
	}
	return sb.String()
}

func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n")
}

// blockText is a small convenience shared by the message handlers to pull
// plain text out of a content block regardless of its concrete shape.
func blockText(b agentproto.ContentBlock) string {
	switch b.Type {
	case agentproto.BlockText:
		return b.Text
	case agentproto.BlockThinking:
		return b.Thinking
	default:
		return ""
	}
}

// Package bgtask implements the background-task correlation map and the
// field-extraction heuristics that populate it (spec §4.7).
package bgtask

import (
	"encoding/json"
	"regexp"
	"sync"
)

// Map holds the two parallel string→tool-use-identifier mappings: one keyed
// by the agent-assigned task identifier, one keyed by "file:"+output-file.
// Both point at the same tool-use identifier. Owned by the orchestrator;
// written by the translator (turn plane) and read/deleted by the router's
// intercept handler — access is serialised by a single mutex (spec §5).
type Map struct {
	mu      sync.Mutex
	byTask  map[string]string
	byFile  map[string]string
}

// New constructs an empty background-task map.
func New() *Map {
	return &Map{
		byTask: make(map[string]string),
		byFile: make(map[string]string),
	}
}

// Extracted is the result of applying the §4.7 extraction rules to a tool
// result payload.
type Extracted struct {
	TaskID     string
	OutputFile string
}

// Empty reports whether neither field was found.
func (e Extracted) Empty() bool {
	return e.TaskID == "" && e.OutputFile == ""
}

var (
	reTaskID     = regexp.MustCompile(`(?i)(?:task[_\s-]?id|agentId)[:\s]+"?([^"\s,}]+)"?`)
	reOutputFile = regexp.MustCompile(`(?i)output[_\s-]?file[:\s]+"?([^"\s,}]+)"?`)
)

// Extract applies the three precedence-ordered extraction rules: structured
// object fields first, then a regex scan of free text, then a
// JSON-serialise-then-rescan fallback for anything else. Implementations
// must preserve this ordering — it is deliberately heuristic, not NLP
// (spec §9 Open Question).
func Extract(result any) Extracted {
	switch v := result.(type) {
	case map[string]any:
		return extractFromObject(v)
	case string:
		return extractFromText(v)
	case []any:
		return extractFromText(joinAnyText(v))
	default:
		b, err := json.Marshal(result)
		if err != nil {
			return Extracted{}
		}
		return extractFromText(string(b))
	}
}

func extractFromObject(m map[string]any) Extracted {
	var e Extracted
	if v, ok := m["task_id"].(string); ok {
		e.TaskID = v
	} else if v, ok := m["agentId"].(string); ok {
		e.TaskID = v
	}
	if v, ok := m["output_file"].(string); ok {
		e.OutputFile = v
	}
	if e.Empty() {
		// Structured shape present but no recognised fields — fall back to
		// scanning its serialised form, rule 3.
		b, err := json.Marshal(m)
		if err == nil {
			return extractFromText(string(b))
		}
	}
	return e
}

func extractFromText(s string) Extracted {
	var e Extracted
	if m := reTaskID.FindStringSubmatch(s); m != nil {
		e.TaskID = m[1]
	}
	if m := reOutputFile.FindStringSubmatch(s); m != nil {
		e.OutputFile = m[1]
	}
	return e
}

func joinAnyText(items []any) string {
	out := ""
	for _, it := range items {
		if m, ok := it.(map[string]any); ok {
			if t, ok := m["text"].(string); ok {
				out += t + "\n"
				continue
			}
		}
		if b, err := json.Marshal(it); err == nil {
			out += string(b) + "\n"
		}
	}
	return out
}

// Insert records the given extraction against toolUseID. Idempotent per
// spec §3: if either key is already present it is left untouched (first
// writer wins).
func (m *Map) Insert(toolUseID string, e Extracted) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e.TaskID != "" {
		if _, exists := m.byTask[e.TaskID]; !exists {
			m.byTask[e.TaskID] = toolUseID
		}
	}
	if e.OutputFile != "" {
		key := "file:" + e.OutputFile
		if _, exists := m.byFile[key]; !exists {
			m.byFile[key] = toolUseID
		}
	}
}

// Resolve looks up a tool-use identifier by task ID first, then by output
// file, and removes both keys if found. The second return value is false
// when neither key matched.
func (m *Map) Resolve(taskID, outputFile string) (toolUseID string, found bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var id string
	var ok bool
	if taskID != "" {
		id, ok = m.byTask[taskID]
	}
	if !ok && outputFile != "" {
		id, ok = m.byFile["file:"+outputFile]
	}
	if !ok {
		return "", false
	}
	// The paired key may not be named by the caller, so drop every key that
	// points at the resolved tool-use identifier.
	for k, v := range m.byTask {
		if v == id {
			delete(m.byTask, k)
		}
	}
	for k, v := range m.byFile {
		if v == id {
			delete(m.byFile, k)
		}
	}
	return id, true
}

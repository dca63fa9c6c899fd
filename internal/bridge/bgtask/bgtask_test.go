package bgtask

import "testing"

func TestExtractFromObject(t *testing.T) {
	e := Extract(map[string]any{"task_id": "t-1", "output_file": "/tmp/out.json"})
	if e.TaskID != "t-1" || e.OutputFile != "/tmp/out.json" {
		t.Fatalf("unexpected extraction: %+v", e)
	}
}

func TestExtractFromObjectAgentIDAlias(t *testing.T) {
	e := Extract(map[string]any{"agentId": "a-2"})
	if e.TaskID != "a-2" {
		t.Fatalf("expected agentId alias to populate TaskID, got %+v", e)
	}
}

func TestExtractFromText(t *testing.T) {
	e := Extract(`Launched background job, task_id: abc123, output_file: /var/log/x.json`)
	if e.TaskID != "abc123" {
		t.Fatalf("expected task id extraction, got %+v", e)
	}
	if e.OutputFile != "/var/log/x.json" {
		t.Fatalf("expected output file extraction, got %+v", e)
	}
}

func TestExtractFromUnstructuredObjectFallsBackToTextScan(t *testing.T) {
	e := Extract(map[string]any{"note": "task_id: nested-1"})
	if e.TaskID != "nested-1" {
		t.Fatalf("expected fallback scan to find nested task id, got %+v", e)
	}
}

func TestExtractEmpty(t *testing.T) {
	e := Extract(42)
	if !e.Empty() {
		t.Fatalf("expected empty extraction for unmatched payload, got %+v", e)
	}
}

func TestMapInsertAndResolveByTask(t *testing.T) {
	m := New()
	m.Insert("tool-1", Extracted{TaskID: "task-a", OutputFile: "/tmp/a.json"})

	id, ok := m.Resolve("task-a", "")
	if !ok || id != "tool-1" {
		t.Fatalf("expected resolve by task id to find tool-1, got %q ok=%v", id, ok)
	}

	// Resolved entries are consumed — a second resolve must miss.
	if _, ok := m.Resolve("task-a", ""); ok {
		t.Fatalf("expected second resolve to miss after consumption")
	}
	if _, ok := m.Resolve("", "/tmp/a.json"); ok {
		t.Fatalf("expected paired file key to be cleaned up alongside task key")
	}
}

func TestMapResolveByFileFallback(t *testing.T) {
	m := New()
	m.Insert("tool-2", Extracted{OutputFile: "/tmp/b.json"})

	id, ok := m.Resolve("unknown-task", "/tmp/b.json")
	if !ok || id != "tool-2" {
		t.Fatalf("expected fallback resolve by output file, got %q ok=%v", id, ok)
	}
}

func TestMapInsertFirstWriterWins(t *testing.T) {
	m := New()
	m.Insert("tool-3", Extracted{TaskID: "dup"})
	m.Insert("tool-4", Extracted{TaskID: "dup"})

	id, ok := m.Resolve("dup", "")
	if !ok || id != "tool-3" {
		t.Fatalf("expected first insert to win, got %q ok=%v", id, ok)
	}
}

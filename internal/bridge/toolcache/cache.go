// Package toolcache implements the tool-use cache: an aggregating state
// machine keyed by the agent-assigned tool-use identifier (spec §3, §4.5,
// §9 "tool-use cache as aggregating state machine").
package toolcache

import (
	"encoding/json"
	"sync"
)

// State is the tool-use entry's position in its lifecycle.
type State int

const (
	// AnnouncedPartial: a streaming tool_use block-start has been seen; the
	// input may still be incomplete.
	AnnouncedPartial State = iota
	// AnnouncedFull: the finalised assistant message supplied the complete
	// input.
	AnnouncedFull
	// BackgroundPending: the tool result indicated a background task has
	// been launched; the real completion arrives later via a task
	// notification.
	BackgroundPending
	// Completed or Failed: the tool-call-update terminal state has been
	// emitted and the entry may be evicted.
	Completed
	Failed
)

// Entry is one tool-use cache record.
type Entry struct {
	ToolUseID       string
	ToolName        string
	Input           json.RawMessage
	State           State
	Background      bool
	ParentToolUseID string
}

// Cache is the orchestrator-owned, mutex-serialised tool-use cache. It is
// written by the turn loop and read/deleted by the router's intercept
// handler (background-task completions), so all access goes through a
// single mutex (spec §5 "Shared resources").
type Cache struct {
	mu      sync.Mutex
	entries map[string]*Entry
}

// New constructs an empty tool-use cache.
func New() *Cache {
	return &Cache{entries: make(map[string]*Entry)}
}

// Announce records a tool-use block-start or, if already present, leaves the
// existing entry untouched (block-starts are never re-announced for the same
// identifier per the spec's invariants).
func (c *Cache) Announce(id, name string, input json.RawMessage, parentToolUseID string) *Entry {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[id]; ok {
		return e
	}
	e := &Entry{
		ToolUseID:       id,
		ToolName:        name,
		Input:           input,
		State:           AnnouncedPartial,
		ParentToolUseID: parentToolUseID,
	}
	c.entries[id] = e
	return e
}

// Finalize updates an entry with the complete input from a finalised
// assistant message. Reports whether the entry had already been announced
// during streaming (false means this is the entry's first appearance —
// announced directly via a finalised message with no preceding
// block-start).
func (c *Cache) Finalize(id, name string, input json.RawMessage, parentToolUseID string) (entry *Entry, alreadyAnnounced bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[id]
	if !ok {
		e = &Entry{ToolUseID: id, ParentToolUseID: parentToolUseID}
		c.entries[id] = e
	}
	e.ToolName = name
	e.Input = input
	e.State = AnnouncedFull
	return e, ok
}

// Get returns the entry for id, if any.
func (c *Cache) Get(id string) (*Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[id]
	return e, ok
}

// MarkBackground flips an entry to background-pending state.
func (c *Cache) MarkBackground(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[id]; ok {
		e.Background = true
		e.State = BackgroundPending
	}
}

// Resolve transitions an entry to its terminal state and returns it, or
// false if the identifier is unknown (a protocol fault — the caller should
// log and drop).
func (c *Cache) Resolve(id string, failed bool) (*Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[id]
	if !ok {
		return nil, false
	}
	if failed {
		e.State = Failed
	} else {
		e.State = Completed
	}
	return e, true
}

// Evict removes an entry, called once its terminal tool-call-update has been
// emitted.
func (c *Cache) Evict(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, id)
}

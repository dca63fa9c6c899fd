// Package correlator implements the control-request correlator: two
// independent tables of pending requests, one per direction (spec §4.4).
package correlator

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// ErrClosed is returned to any caller waiting on a pending entry when the
// table is closed out from under it (subprocess died).
var ErrClosed = fmt.Errorf("correlator: closed")

// Table is a one-directional correlator: it allocates unique request
// identifiers, tracks a one-shot resolver per identifier, and completes it
// exactly once when a matching response arrives.
type Table[T any] struct {
	mu      sync.Mutex
	pending map[string]chan result[T]
	closed  bool
}

type result[T any] struct {
	value T
	err   error
}

// NewTable constructs an empty correlator table.
func NewTable[T any]() *Table[T] {
	return &Table[T]{pending: make(map[string]chan result[T])}
}

// Begin allocates a fresh request identifier and installs its one-shot
// resolver. The entry is completed by Resolve or Reject with the returned
// identifier; the returned await func blocks until then (or ctx is done).
func (t *Table[T]) Begin() (id string, await func(ctx context.Context) (T, error)) {
	id = uuid.New().String()
	ch := make(chan result[T], 1)

	t.mu.Lock()
	t.pending[id] = ch
	t.mu.Unlock()

	await = func(ctx context.Context) (T, error) {
		defer t.forget(id)
		select {
		case r := <-ch:
			return r.value, r.err
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		}
	}
	return id, await
}

// Resolve completes the pending entry for id with a success value. It is a
// no-op (duplicate identifiers are a protocol fault, logged by the caller)
// if id is not outstanding.
func (t *Table[T]) Resolve(id string, value T) bool {
	return t.complete(id, result[T]{value: value})
}

// Reject completes the pending entry for id with an error.
func (t *Table[T]) Reject(id string, err error) bool {
	return t.complete(id, result[T]{err: err})
}

func (t *Table[T]) complete(id string, r result[T]) bool {
	t.mu.Lock()
	ch, ok := t.pending[id]
	if ok {
		delete(t.pending, id)
	}
	t.mu.Unlock()

	if !ok {
		return false
	}
	ch <- r
	return true
}

func (t *Table[T]) forget(id string) {
	t.mu.Lock()
	delete(t.pending, id)
	t.mu.Unlock()
}

// CloseAll rejects every outstanding entry with ErrClosed. Used when the
// owning subprocess dies so no caller is left parked forever.
func (t *Table[T]) CloseAll() {
	t.mu.Lock()
	pending := t.pending
	t.pending = make(map[string]chan result[T])
	t.closed = true
	t.mu.Unlock()

	for _, ch := range pending {
		ch <- result[T]{err: ErrClosed}
	}
}

// Outstanding reports the number of requests awaiting a response — used by
// callers that must enforce "only one mutating request in flight" (spec
// §4.4's bridge→agent table).
func (t *Table[T]) Outstanding() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

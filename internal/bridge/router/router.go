// Package router implements the two-plane demultiplexer that sits between a
// transport.Transport and the orchestrator's turn loop (spec §4.3).
package router

import (
	"encoding/json"
	"sync"

	"github.com/kandev/agentbridge/internal/bridge/agentproto"
	"github.com/kandev/agentbridge/internal/bridge/transport"
	"github.com/kandev/agentbridge/internal/common/logger"
	"go.uber.org/zap"
)

// InterceptHandler is invoked synchronously, on the reader goroutine itself,
// for every message that belongs on the intercept plane (deferred
// task-completion notifications). It must not block.
type InterceptHandler func(msg *agentproto.SystemMessage)

// Message is one turn-plane message, already sniffed for its top-level type
// but not yet deeply parsed — the orchestrator's classifier does that.
type Message struct {
	Envelope agentproto.Envelope
	Raw      json.RawMessage
}

// Router wraps one transport.Transport's inbound line sequence and splits it
// into the intercept plane (dispatched inline, see InterceptHandler) and the
// turn plane (buffered FIFO, drained via Next).
type Router struct {
	t       *transport.Transport
	logger  *logger.Logger
	onTask  InterceptHandler

	mu      sync.Mutex
	buf     []Message
	waiter  chan struct{} // closed and replaced each time buf transitions empty->non-empty
	done    bool
	doneErr error
}

// New constructs a Router and starts its background reader goroutine
// immediately; it runs until the transport's Lines() channel closes.
func New(t *transport.Transport, onTask InterceptHandler, log *logger.Logger) *Router {
	r := &Router{
		t:      t,
		logger: log.WithFields(zap.String("component", "router")),
		onTask: onTask,
		waiter: make(chan struct{}),
	}
	go r.readLoop()
	return r
}

// Next blocks until the next turn-plane message is available or the router
// reaches a terminal state (child stream ended); it takes no context.
// A nil Message with a non-nil error means the stream ended (err may be
// io.EOF) — callers should treat this as "no more messages this session".
func (r *Router) Next() (*Message, error) {
	for {
		r.mu.Lock()
		if len(r.buf) > 0 {
			m := r.buf[0]
			r.buf = r.buf[1:]
			r.mu.Unlock()
			return &m, nil
		}
		if r.done {
			err := r.doneErr
			r.mu.Unlock()
			return nil, err
		}
		wait := r.waiter
		r.mu.Unlock()
		<-wait
	}
}

func (r *Router) readLoop() {
	for line := range r.t.Lines() {
		if line.Err != nil {
			r.finish(line.Err)
			return
		}
		r.dispatch(line.Raw)
	}
}

func (r *Router) dispatch(raw json.RawMessage) {
	var env agentproto.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		r.logger.Warn("protocol fault: unparseable line", zap.Error(err))
		return
	}

	if env.Type == agentproto.TypeSystem && env.Subtype == agentproto.SystemSubtypeTaskNotification {
		var sys agentproto.SystemMessage
		if err := json.Unmarshal(raw, &sys); err != nil {
			r.logger.Warn("protocol fault: malformed task notification", zap.Error(err))
			return
		}
		if r.onTask != nil {
			r.onTask(&sys)
		}
		return
	}

	r.push(Message{Envelope: env, Raw: raw})
}

func (r *Router) push(m Message) {
	r.mu.Lock()
	r.buf = append(r.buf, m)
	old := r.waiter
	r.waiter = make(chan struct{})
	r.mu.Unlock()
	close(old)
}

func (r *Router) finish(err error) {
	r.mu.Lock()
	r.done = true
	r.doneErr = err
	old := r.waiter
	r.mu.Unlock()
	close(old)
}

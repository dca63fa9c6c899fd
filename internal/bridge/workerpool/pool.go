// Package workerpool implements the pre-warmed auxiliary worker pool: a
// small set of long-lived agent subprocesses kept warm for short, one-shot
// calls (routing decisions, title generation) so callers never pay the
// multi-second spawn-and-warmup cost inline (spec §4.8).
package workerpool

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/kandev/agentbridge/internal/bridge/agentproto"
	"github.com/kandev/agentbridge/internal/bridge/router"
	"github.com/kandev/agentbridge/internal/bridge/transport"
	"github.com/kandev/agentbridge/internal/common/logger"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// readyProbe is the deterministic prompt pushed to a freshly spawned worker
// during warmup; the worker counts as ready once the probe's turn ends with a
// result message (the reply text is not inspected).
const readyProbe = "Reply with the single word: ready."

// Options configures the pool's sizing (spec §4.8 "Parameters").
type Options struct {
	InitialSize  int
	SoftMax      int
	MaxUses      int
	SystemPrompt string

	Executable    string
	ExtraArgs     []string
	ShutdownGrace time.Duration
}

type worker struct {
	tp     *transport.Transport
	router *router.Router
	uses   int
	idle   bool
}

// Pool is the orchestrator-independent pre-warmed worker pool.
type Pool struct {
	opts   Options
	logger *logger.Logger

	mu       sync.Mutex
	workers  []*worker
	warmOnce sync.Once
	warmErr  error
	warmDone chan struct{}
}

// New constructs a Pool. Call Warmup before the first Query, or let Query
// trigger it lazily.
func New(opts Options, log *logger.Logger) *Pool {
	return &Pool{
		opts:     opts,
		logger:   log.WithFields(zap.String("component", "workerpool")),
		warmDone: make(chan struct{}),
	}
}

// Warmup spawns the initial pool and blocks until every worker has answered
// its ready-probe. Concurrent callers share one underlying warmup (spec
// §4.8 "Idempotent: concurrent warmup() calls share one promise").
func (p *Pool) Warmup(ctx context.Context) error {
	p.warmOnce.Do(func() {
		defer close(p.warmDone)
		p.warmErr = p.warmupOnce(ctx)
	})
	<-p.warmDone
	return p.warmErr
}

func (p *Pool) warmupOnce(ctx context.Context) error {
	n := p.opts.InitialSize
	if n <= 0 {
		n = 1
	}

	var g errgroup.Group
	workers := make([]*worker, n)
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			w, err := p.spawnAndWarm(ctx)
			if err != nil {
				return fmt.Errorf("workerpool: warmup worker %d: %w", i, err)
			}
			workers[i] = w
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	p.mu.Lock()
	p.workers = append(p.workers, workers...)
	p.mu.Unlock()
	return nil
}

func (p *Pool) spawnAndWarm(ctx context.Context) (*worker, error) {
	tp, err := transport.Spawn(ctx, p.opts.Executable, transport.SpawnOptions{
		SystemPrompt:     p.opts.SystemPrompt,
		SystemPromptMode: transport.SystemPromptLiteral,
		PartialMessages:  true,
		ExtraArgs:        p.opts.ExtraArgs,
	}, p.opts.ShutdownGrace, p.logger)
	if err != nil {
		return nil, err
	}

	r := router.New(tp, nil, p.logger)
	w := &worker{tp: tp, router: r, idle: true}

	if err := p.probe(w, readyProbe); err != nil {
		_ = tp.Close()
		return nil, err
	}
	return w, nil
}

// probe pushes a prompt and drains turn-plane messages until a terminal
// result, discarding everything else — the pool only ever needs the final
// text, not streaming granularity.
func (p *Pool) probe(w *worker, prompt string) (err error) {
	if writeErr := w.tp.Write(agentproto.OutgoingUserMessage{
		Type:    "user",
		Message: agentproto.OutgoingUserBody{Role: "user", Content: []map[string]any{{"type": "text", "text": prompt}}},
	}); writeErr != nil {
		return writeErr
	}

	for {
		msg, nextErr := w.router.Next()
		if nextErr != nil {
			return nextErr
		}
		if msg.Envelope.Type == agentproto.TypeResult {
			return nil
		}
	}
}

// Query acquires a worker, pushes prompt, drains a single assistant
// response's text, and releases the worker (spec §4.8 "query(prompt)").
func (p *Pool) Query(ctx context.Context, prompt string) (string, error) {
	if err := p.Warmup(ctx); err != nil {
		return "", err
	}

	w, err := p.acquire(ctx)
	if err != nil {
		return "", err
	}

	text, queryErr := p.runQuery(w, prompt)
	if queryErr != nil {
		p.evict(w)
		replacement, spawnErr := p.spawnAndWarm(ctx)
		if spawnErr == nil {
			p.mu.Lock()
			p.workers = append(p.workers, replacement)
			p.mu.Unlock()
		} else {
			p.logger.Warn("workerpool: failed to spawn replacement after query failure", zap.Error(spawnErr))
		}
		return "", fmt.Errorf("workerpool: query: %w", queryErr)
	}

	p.release(w)
	return text, nil
}

func (p *Pool) runQuery(w *worker, prompt string) (string, error) {
	if err := w.tp.Write(agentproto.OutgoingUserMessage{
		Type:    "user",
		Message: agentproto.OutgoingUserBody{Role: "user", Content: []map[string]any{{"type": "text", "text": prompt}}},
	}); err != nil {
		return "", err
	}

	var text string
	for {
		msg, err := w.router.Next()
		if err != nil {
			return "", err
		}
		switch msg.Envelope.Type {
		case agentproto.TypeAssistant:
			var am agentproto.AssistantMessage
			if jsonErr := json.Unmarshal(msg.Raw, &am); jsonErr == nil {
				if t := am.Message.Text(); t != "" {
					text = t
				}
			}
		case agentproto.TypeResult:
			w.uses++
			return text, nil
		}
	}
}

// acquire finds an idle ready worker, overflows below the soft cap, or
// polls for a freed worker once at capacity (spec §4.8 "acquire").
func (p *Pool) acquire(ctx context.Context) (*worker, error) {
	for {
		p.mu.Lock()
		for _, w := range p.workers {
			if w.idle {
				w.idle = false
				p.mu.Unlock()
				return w, nil
			}
		}
		overflow := len(p.workers) < max(p.opts.SoftMax, p.opts.InitialSize)
		p.mu.Unlock()

		if overflow {
			w, err := p.spawnAndWarm(ctx)
			if err != nil {
				return nil, err
			}
			w.idle = false
			p.mu.Lock()
			p.workers = append(p.workers, w)
			p.mu.Unlock()
			return w, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(25 * time.Millisecond):
		}
	}
}

// release marks a worker idle, recycling it if it has exceeded its maximum
// use count (spec §4.8 "Release").
func (p *Pool) release(w *worker) {
	if p.opts.MaxUses > 0 && w.uses >= p.opts.MaxUses {
		p.evict(w)
		go func() {
			replacement, err := p.spawnAndWarm(context.Background())
			if err != nil {
				p.logger.Warn("workerpool: failed to spawn recycle replacement", zap.Error(err))
				return
			}
			p.mu.Lock()
			p.workers = append(p.workers, replacement)
			p.mu.Unlock()
		}()
		return
	}

	p.mu.Lock()
	w.idle = true
	p.mu.Unlock()
}

func (p *Pool) evict(w *worker) {
	p.mu.Lock()
	for i, cur := range p.workers {
		if cur == w {
			p.workers = append(p.workers[:i], p.workers[i+1:]...)
			break
		}
	}
	p.mu.Unlock()
	_ = w.tp.Close()
}

// Shutdown closes every worker and drops references (spec §4.8
// "shutdown()").
func (p *Pool) Shutdown() {
	p.mu.Lock()
	workers := p.workers
	p.workers = nil
	p.mu.Unlock()

	for _, w := range workers {
		_ = w.tp.Close()
	}
}

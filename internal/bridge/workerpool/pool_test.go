package workerpool

import (
	"context"
	"testing"
	"time"

	"github.com/kandev/agentbridge/internal/common/logger"
)

// fakeAgentScript is a minimal shell "agent": for every stdin line it reads,
// it emits one assistant message echoing a fixed reply, followed by a
// terminal result message. Good enough to exercise warmup/query/release
// without a real model subprocess, in the spirit of the teacher's use of
// `cat`/`sh` stand-ins for process-level tests.
const fakeAgentScript = `while IFS= read -r line; do
  printf '{"type":"assistant","message":{"role":"assistant","content":[{"type":"text","text":"ready"}]}}\n'
  printf '{"type":"result","subtype":"success"}\n'
done`

func TestQueryRoundTrip(t *testing.T) {
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "text", OutputPath: "stderr"})
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	p := New(Options{
		InitialSize:   1,
		SoftMax:       1,
		MaxUses:       10,
		Executable:    "sh",
		ExtraArgs:     []string{"-c", fakeAgentScript},
		ShutdownGrace: 2 * time.Second,
	}, log)
	t.Cleanup(p.Shutdown)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	text, err := p.Query(ctx, "hello")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if text != "ready" {
		t.Fatalf("expected %q, got %q", "ready", text)
	}
}

func TestQueryRecyclesAfterMaxUses(t *testing.T) {
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "text", OutputPath: "stderr"})
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	p := New(Options{
		InitialSize:   1,
		SoftMax:       1,
		MaxUses:       1,
		Executable:    "sh",
		ExtraArgs:     []string{"-c", fakeAgentScript},
		ShutdownGrace: 2 * time.Second,
	}, log)
	t.Cleanup(p.Shutdown)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := p.Query(ctx, "one"); err != nil {
		t.Fatalf("first query: %v", err)
	}
	// Give the async recycle goroutine a moment to spawn the replacement.
	time.Sleep(200 * time.Millisecond)
	if _, err := p.Query(ctx, "two"); err != nil {
		t.Fatalf("second query after recycle: %v", err)
	}
}

package orchestrator

import (
	"bufio"
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kandev/agentbridge/internal/bridge/agentproto"
	"github.com/kandev/agentbridge/internal/bridge/bgtask"
	"github.com/kandev/agentbridge/internal/bridge/correlator"
	"github.com/kandev/agentbridge/internal/bridge/router"
	"github.com/kandev/agentbridge/internal/bridge/testagent"
	"github.com/kandev/agentbridge/internal/bridge/toolcache"
	"github.com/kandev/agentbridge/internal/bridge/transport"
	"github.com/kandev/agentbridge/internal/bridge/translate"
	"github.com/kandev/agentbridge/internal/common/logger"
)

// newPipeSession wires a Session to an in-process testagent instead of a
// real subprocess, with io.Pipe standing in for the child's stdin/stdout.
func newPipeSession(t *testing.T, scenario testagent.Scenario, ask PermissionAsker) *Session {
	t.Helper()

	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "text", OutputPath: "stderr"})
	require.NoError(t, err)

	agentStdinR, agentStdinW := io.Pipe()
	agentStdoutR, agentStdoutW := io.Pipe()

	go func() {
		_ = testagent.Run(bufio.NewReader(agentStdinR), bufio.NewWriter(agentStdoutW), scenario)
		_ = agentStdoutW.Close()
	}()

	tp := transport.NewPipe(agentStdinW, agentStdoutR, time.Second, log)
	cache := toolcache.New()
	bg := bgtask.New()

	sess := &Session{
		ID:         "test-session",
		WorkDir:    "/tmp",
		transport:  tp,
		cache:      cache,
		bg:         bg,
		translator: translate.New(cache, bg, log),
		settings:   newSharedSettings("/tmp", ModeDefault),
		ask:        ask,
		logger:     log,
	}
	sess.correlator = correlator.New(tp)
	sess.router = router.New(tp, sess.onTaskNotification, log)

	initCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err = sess.correlator.SendToAgent(initCtx, agentproto.OutgoingControlRequestBody{Subtype: agentproto.CtrlSubtypeInitialize})
	require.NoError(t, err)

	t.Cleanup(func() { _ = sess.Close() })
	return sess
}

func TestSessionPromptSimpleText(t *testing.T) {
	sess := newPipeSession(t, testagent.ScenarioSimpleText, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	var updates []translate.Update
	reason, _, err := sess.Prompt(ctx, []PromptItem{{Text: "hello there"}}, func(u translate.Update) {
		updates = append(updates, u)
	})
	require.NoError(t, err)
	require.Equal(t, StopEndTurn, reason)
	require.NotEmpty(t, updates)
	require.Equal(t, "hello there", sess.title)
}

func TestSessionPromptToolPermission(t *testing.T) {
	answered := false
	asker := func(q PermissionQuery) (PermissionAnswer, error) {
		answered = true
		require.Equal(t, "Bash", q.ToolName)
		return PermissionAnswer{Selected: PermissionAllowOnce}, nil
	}

	sess := newPipeSession(t, testagent.ScenarioToolPermission, asker)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	reason, _, err := sess.Prompt(ctx, []PromptItem{{Text: "run a command"}}, func(translate.Update) {})
	require.NoError(t, err)
	require.Equal(t, StopEndTurn, reason)
	require.True(t, answered)
}

func TestSessionHistoryRecordsEveryEmittedUpdate(t *testing.T) {
	sess := newPipeSession(t, testagent.ScenarioSimpleText, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	var emitted []translate.Update
	_, _, err := sess.Prompt(ctx, []PromptItem{{Text: "hello there"}}, func(u translate.Update) {
		emitted = append(emitted, u)
	})
	require.NoError(t, err)

	history := sess.History()
	require.Equal(t, len(emitted), len(history))
	require.Equal(t, emitted, history)
}

func TestSessionTasksEmptyAfterTurnCompletes(t *testing.T) {
	sess := newPipeSession(t, testagent.ScenarioToolPermission, func(q PermissionQuery) (PermissionAnswer, error) {
		return PermissionAnswer{Selected: PermissionAllowOnce}, nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	_, _, err := sess.Prompt(ctx, []PromptItem{{Text: "run a command"}}, func(translate.Update) {})
	require.NoError(t, err)

	// Every tool-call in this scenario resolves before the turn ends, so
	// nothing should still be reported pending.
	require.Empty(t, sess.Tasks())
}

func TestSessionPromptError(t *testing.T) {
	sess := newPipeSession(t, testagent.ScenarioError, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	reason, meta, err := sess.Prompt(ctx, []PromptItem{{Text: "cause a failure"}}, func(translate.Update) {})
	require.Error(t, err)
	require.Contains(t, err.Error(), "simulated failure")
	require.Equal(t, StopEndTurn, reason)
	require.NotNil(t, meta)
}

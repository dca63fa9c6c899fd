package acp

import (
	"testing"

	"github.com/coder/acp-go-sdk"
	"github.com/stretchr/testify/require"

	"github.com/kandev/agentbridge/internal/bridge/orchestrator"
	"github.com/kandev/agentbridge/internal/common/logger"
)

func TestStopReasonOf(t *testing.T) {
	cases := []struct {
		in   orchestrator.StopReason
		want acp.StopReason
	}{
		{orchestrator.StopEndTurn, acp.StopReasonEndTurn},
		{orchestrator.StopCancelled, acp.StopReasonCancelled},
		{orchestrator.StopMaxTurnRequests, acp.StopReasonMaxTurnRequests},
	}
	for _, c := range cases {
		require.Equal(t, c.want, stopReasonOf(c.in))
	}
}

func TestPromptItemsOf(t *testing.T) {
	parts := []PromptPart{
		{Text: "hello"},
		{IsImage: true, ImageB64: "abc", MediaType: "image/png"},
	}
	items := promptItemsOf(parts)
	require.Len(t, items, 2)
	require.Equal(t, "hello", items[0].Text)
	require.True(t, items[1].IsImage)
	require.Equal(t, "abc", items[1].ImageB64)
	require.Equal(t, "image/png", items[1].MediaType)
}

func TestPermissionOptionKindOf(t *testing.T) {
	require.Equal(t, acp.PermissionOptionKindAllowAlways, permissionOptionKindOf(orchestrator.PermissionAllowAlways))
	require.Equal(t, acp.PermissionOptionKindRejectOnce, permissionOptionKindOf(orchestrator.PermissionRejectOnce))
	require.Equal(t, acp.PermissionOptionKindAllowOnce, permissionOptionKindOf(orchestrator.PermissionAllowOnce))
}

func TestAvailableModes(t *testing.T) {
	modes := availableModes()
	require.Len(t, modes, len(ValidModes))
	ids := make(map[string]bool, len(modes))
	for _, m := range modes {
		ids[string(m.Id)] = true
	}
	require.True(t, ids[orchestrator.ModeDefault])
}

func TestAskPermissionWithoutConnection(t *testing.T) {
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "text", OutputPath: "stderr"})
	require.NoError(t, err)

	a := New(nil, log, "agentbridge", "0.1.0")
	_, err = a.AskPermission(orchestrator.PermissionQuery{SessionID: "s1", ToolName: "Bash"})
	require.Error(t, err)
}

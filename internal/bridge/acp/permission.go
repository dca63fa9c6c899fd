package acp

import "github.com/kandev/agentbridge/internal/bridge/orchestrator"

// Permission mode closed set (spec §6), re-exported from orchestrator so
// callers that only deal with the wire layer need not import it directly.
const (
	ModeDefault           = orchestrator.ModeDefault
	ModeAcceptEdits       = orchestrator.ModeAcceptEdits
	ModeBypassPermissions = orchestrator.ModeBypassPermissions
	ModeDontAsk           = orchestrator.ModeDontAsk
	ModePlan              = orchestrator.ModePlan
	ModeDelegate          = orchestrator.ModeDelegate
)

// ValidModes lists the full closed set, in the order the client's mode
// picker should present them.
var ValidModes = []string{ModeDefault, ModeAcceptEdits, ModeBypassPermissions, ModeDontAsk, ModePlan, ModeDelegate}

// IsValidMode reports whether mode is one of the closed set.
func IsValidMode(mode string) bool {
	for _, m := range ValidModes {
		if m == mode {
			return true
		}
	}
	return false
}

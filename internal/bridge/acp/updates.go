package acp

import (
	"github.com/coder/acp-go-sdk"

	"github.com/kandev/agentbridge/internal/bridge/translate"
)

// toolKindOf maps the bridge's internal tool-kind vocabulary onto the SDK's
// acp.ToolKind closed set.
func toolKindOf(kind string) acp.ToolKind {
	switch kind {
	case translate.ToolKindRead:
		return acp.ToolKindRead
	case translate.ToolKindWrite:
		return acp.ToolKindEdit
	case translate.ToolKindEdit:
		return acp.ToolKindEdit
	case translate.ToolKindBash:
		return acp.ToolKindExecute
	case translate.ToolKindAgent:
		return acp.ToolKindThink
	case translate.ToolKindWeb:
		return acp.ToolKindFetch
	case translate.ToolKindSearch:
		return acp.ToolKindSearch
	default:
		return acp.ToolKindOther
	}
}

func toolStatusOf(status string) acp.ToolCallStatus {
	switch status {
	case translate.ToolStatusCompleted:
		return acp.ToolCallStatusCompleted
	case translate.ToolStatusFailed:
		return acp.ToolCallStatusFailed
	default:
		return acp.ToolCallStatusPending
	}
}

func locationsOf(locs []translate.ToolCallLocation) []acp.ToolCallLocation {
	if len(locs) == 0 {
		return nil
	}
	out := make([]acp.ToolCallLocation, 0, len(locs))
	for _, l := range locs {
		loc := acp.ToolCallLocation{Path: l.Path}
		if l.Line > 0 {
			line := l.Line
			loc.Line = &line
		}
		out = append(out, loc)
	}
	return out
}

func contentOf(items []translate.ToolCallContent) []acp.ToolCallContent {
	if len(items) == 0 {
		return nil
	}
	out := make([]acp.ToolCallContent, 0, len(items))
	for _, c := range items {
		switch c.Type {
		case "diff":
			out = append(out, acp.ToolCallContent{
				Diff: &acp.Diff{Path: c.Path, OldText: &c.OldText, NewText: c.NewText},
			})
		default:
			out = append(out, acp.ToolCallContent{
				Content: &acp.ContentToolCallContent{
					Content: acp.ContentBlock{Text: &acp.TextContent{Text: c.Text}},
				},
			})
		}
	}
	return out
}

// ToSessionUpdate converts one internal Update into the acp-go-sdk's wire
// representation, ready to be wrapped in a SessionNotification and sent to
// the upstream client (spec §6 "Update kinds emitted").
func ToSessionUpdate(u translate.Update) acp.SessionUpdate {
	switch u.Kind {
	case translate.KindAgentMessageChunk:
		return acp.SessionUpdate{AgentMessageChunk: &acp.ContentChunk{
			Content: acp.ContentBlock{Text: &acp.TextContent{Text: u.Text}},
		}}
	case translate.KindUserMessageChunk:
		return acp.SessionUpdate{UserMessageChunk: &acp.ContentChunk{
			Content: acp.ContentBlock{Text: &acp.TextContent{Text: u.Text}},
		}}
	case translate.KindAgentThoughtChunk:
		return acp.SessionUpdate{AgentThoughtChunk: &acp.ContentChunk{
			Content: acp.ContentBlock{Text: &acp.TextContent{Text: u.Text}},
		}}
	case translate.KindToolCall:
		return acp.SessionUpdate{ToolCall: &acp.ToolCall{
			ToolCallId: acp.ToolCallId(u.ToolCallID),
			Title:      u.Title,
			Kind:       toolKindOf(u.ToolKind),
			Status:     toolStatusOf(u.Status),
			RawInput:   u.RawInput,
			Locations:  locationsOf(u.Locations),
			Content:    contentOf(u.Content),
		}}
	case translate.KindToolCallUpdate:
		status := toolStatusOf(u.Status)
		return acp.SessionUpdate{ToolCallUpdate: &acp.ToolCallUpdate{
			ToolCallId: acp.ToolCallId(u.ToolCallID),
			Title:      &u.Title,
			Status:     &status,
			RawInput:   u.RawInput,
			Locations:  locationsOf(u.Locations),
			Content:    contentOf(u.Content),
		}}
	case translate.KindPlan:
		entries := make([]acp.PlanEntry, 0, len(u.PlanEntries))
		for _, e := range u.PlanEntries {
			entries = append(entries, acp.PlanEntry{
				Content:  e.Content,
				Status:   acp.PlanEntryStatus(e.Status),
				Priority: acp.PlanEntryPriority(e.Priority),
			})
		}
		return acp.SessionUpdate{Plan: &acp.Plan{Entries: entries}}
	case translate.KindCurrentModeUpdate:
		return acp.SessionUpdate{CurrentModeUpdate: &acp.CurrentModeUpdate{
			CurrentModeId: acp.SessionModeId(u.CurrentModeID),
		}}
	case translate.KindAvailableCommandsUpdate:
		cmds := make([]acp.AvailableCommand, 0, len(u.AvailableCommands))
		for _, c := range u.AvailableCommands {
			cmds = append(cmds, acp.AvailableCommand{Name: c.Name, Description: c.Description})
		}
		return acp.SessionUpdate{AvailableCommandsUpdate: &acp.AvailableCommandsUpdate{AvailableCommands: cmds}}
	default:
		return acp.SessionUpdate{}
	}
}

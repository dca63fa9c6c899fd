// Package testagent is a small in-process fake agent subprocess speaking
// agentproto over a pair of pipes, modelled on cmd/mock-agent's scenario
// router but emitting wire-correct agentproto messages instead of that
// tool's ad-hoc demo shapes. Used to back transport/router/orchestrator
// tests with io.Pipe standing in for a real subprocess's stdin/stdout.
package testagent

import (
	"bufio"
	"encoding/json"
	"strings"
)

// Scenario selects how Run responds to the next prompt it reads.
type Scenario string

const (
	// ScenarioSimpleText replies with one assistant text block and a
	// success result.
	ScenarioSimpleText Scenario = "simple-text"
	// ScenarioToolPermission issues a can_use_tool control request before
	// replying, requiring the bridge to answer it.
	ScenarioToolPermission Scenario = "tool-permission"
	// ScenarioError replies with an error result.
	ScenarioError Scenario = "error"
)

type envelope struct {
	Type      string          `json:"type"`
	RequestID string          `json:"request_id,omitempty"`
	Message   *inboundMessage `json:"message,omitempty"`
}

type inboundMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

// Run drives one fake turn per line read from r, writing agentproto
// messages to w, until r reaches EOF. It answers the bridge's initial
// "initialize" control request automatically, then serves scenario for
// every subsequent user-role line.
func Run(r *bufio.Reader, w *bufio.Writer, scenario Scenario) error {
	enc := json.NewEncoder(w)
	scanner := bufio.NewScanner(r)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 4*1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var env envelope
		if err := json.Unmarshal(line, &env); err != nil {
			continue
		}

		switch env.Type {
		case "control_request":
			if err := encodeFlush(w, enc, map[string]any{
				"type":       "control_response",
				"request_id": env.RequestID,
				"subtype":    "success",
				"response": map[string]any{
					"commands": []any{},
					"agents":   []any{},
				},
			}); err != nil {
				return err
			}
		case "user":
			if err := serveScenario(w, enc, scenario); err != nil {
				return err
			}
		}
	}
	return scanner.Err()
}

func serveScenario(w *bufio.Writer, enc *json.Encoder, scenario Scenario) error {
	switch scenario {
	case ScenarioToolPermission:
		return serveToolPermission(w, enc)
	case ScenarioError:
		return serveError(w, enc)
	default:
		return serveSimpleText(w, enc)
	}
}

func serveSimpleText(w *bufio.Writer, enc *json.Encoder) error {
	if err := encodeFlush(w, enc, textDeltaEvent("ready")); err != nil {
		return err
	}
	if err := encodeFlush(w, enc, assistantTextMessage("ready")); err != nil {
		return err
	}
	return encodeFlush(w, enc, successResult())
}

func textDeltaEvent(text string) map[string]any {
	return map[string]any{
		"type": "stream_event",
		"event": map[string]any{
			"type":  "content_block_delta",
			"index": 0,
			"delta": map[string]any{
				"type": "text_delta",
				"text": text,
			},
		},
	}
}

func serveToolPermission(w *bufio.Writer, enc *json.Encoder) error {
	if err := encodeFlush(w, enc, map[string]any{
		"type":       "control_request",
		"request_id": "perm-1",
		"request": map[string]any{
			"subtype":     "can_use_tool",
			"tool_name":   "Bash",
			"tool_use_id": "tool-1",
			"input":       map[string]any{"command": "echo hi"},
		},
	}); err != nil {
		return err
	}
	if err := encodeFlush(w, enc, assistantTextMessage("ran the command")); err != nil {
		return err
	}
	return encodeFlush(w, enc, successResult())
}

func serveError(w *bufio.Writer, enc *json.Encoder) error {
	return encodeFlush(w, enc, map[string]any{
		"type":     "result",
		"subtype":  "error_during_execution",
		"is_error": true,
		"errors":   []string{"simulated failure"},
	})
}

func assistantTextMessage(text string) map[string]any {
	return map[string]any{
		"type": "assistant",
		"message": map[string]any{
			"role": "assistant",
			"content": []map[string]any{
				{"type": "text", "text": text},
			},
		},
	}
}

func successResult() map[string]any {
	return map[string]any{
		"type":     "result",
		"subtype":  "success",
		"is_error": false,
		"result":   "done",
	}
}

func encodeFlush(w *bufio.Writer, enc *json.Encoder, v any) error {
	if err := enc.Encode(v); err != nil {
		return err
	}
	return w.Flush()
}

// TrimmedPrompt extracts the first text fragment of an outgoing user
// message's content, tolerating both the bare-string and block-list shapes
// real agents accept.
func TrimmedPrompt(content any) string {
	switch c := content.(type) {
	case string:
		return strings.TrimSpace(c)
	case []any:
		for _, block := range c {
			m, ok := block.(map[string]any)
			if !ok {
				continue
			}
			if text, ok := m["text"].(string); ok {
				return strings.TrimSpace(text)
			}
		}
	}
	return ""
}

package transport

import "encoding/json"

// McpServerEntry is one server definition destined for the child's
// --mcp-config flag: stdio transport via Command/Args, or SSE/HTTP via
// URL/Type.
type McpServerEntry struct {
	Name    string
	Command string
	Args    []string
	URL     string
	Type    string
}

// BuildMcpServersJSON renders entries into the `{ "name": {...} }` shape the
// child's --mcp-config flag expects, or nil if entries is empty. The bridge
// never dials an MCP server itself — this is pure opaque JSON construction,
// forwarded to the child exactly as it would build its own config file.
func BuildMcpServersJSON(entries []McpServerEntry) (json.RawMessage, error) {
	if len(entries) == 0 {
		return nil, nil
	}

	mcpConfig := make(map[string]any, len(entries))
	for _, e := range entries {
		def := make(map[string]any)
		switch {
		case e.Command != "":
			def["command"] = e.Command
			if len(e.Args) > 0 {
				def["args"] = e.Args
			}
		case e.URL != "":
			def["url"] = e.URL
			if e.Type != "" {
				def["type"] = e.Type
			}
		}
		mcpConfig[e.Name] = def
	}

	return json.Marshal(mcpConfig)
}

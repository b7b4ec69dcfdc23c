package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// registerTools registers all DataGate MCP tools on the given server.
func (s *MCPServer) registerTools(srv *server.MCPServer) {

	srv.AddTool(
		mcp.NewTool("datagate_list_connectors",
			mcp.WithDescription(
				"List all data connectors registered in DataGate. Returns each "+
					"connector's name, proxy type, read-only flag, and last test "+
					"status. Use this first to discover what data is reachable "+
					"before querying.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
		),
		s.handleListConnectors,
	)

	srv.AddTool(
		mcp.NewTool("datagate_query",
			mcp.WithDescription(
				"Run a read-only query through a DataGate connector and return "+
					"the standard response envelope as JSON.\n\n"+
					"The query format depends on the connector's proxy type:\n"+
					"  - relational-mysql / relational-postgres / columnar-clickhouse: SQL SELECT\n"+
					"  - document-mongo: a JSON filter document\n"+
					"  - object-storage: an object key prefix\n"+
					"  - generic-api: an endpoint path joined onto the connector's base URL\n\n"+
					"Omit the query to run the connector's default.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
			mcp.WithString("connector",
				mcp.Required(),
				mcp.Description("Name of the connector to query"),
			),
			mcp.WithString("query",
				mcp.Description("Query in the connector family's native format"),
			),
		),
		s.handleQuery,
	)
}

// handleListConnectors implements the datagate_list_connectors tool.
func (s *MCPServer) handleListConnectors(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	conns, err := s.store.ListConnectors(ctx)
	if err != nil {
		return toolError("failed to list connectors: %v", err)
	}

	out := make([]map[string]interface{}, 0, len(conns))
	for i := range conns {
		c := &conns[i]
		if !c.IsActive {
			continue
		}
		out = append(out, map[string]interface{}{
			"name":        c.Name,
			"proxy_type":  c.Type,
			"read_only":   c.ReadOnly,
			"test_status": c.TestStatus,
		})
	}
	return successJSON(map[string]interface{}{"connectors": out})
}

// handleQuery implements the datagate_query tool.
func (s *MCPServer) handleQuery(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	connector, err := request.RequireString("connector")
	if err != nil {
		return toolError("missing required parameter %q", "connector")
	}
	query := request.GetString("query", "")

	resp, err := s.dispatcher.DispatchLocal(ctx, connector, query, nil)
	if err != nil {
		return toolError("query failed: %v", err)
	}
	return successJSON(resp)
}

// successJSON marshals data to JSON and returns it as a tool result.
func successJSON(data interface{}) (*mcp.CallToolResult, error) {
	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal response: %w", err)
	}
	return mcp.NewToolResultText(string(b)), nil
}

// toolError returns a tool-level error result. Errors returned this way are
// visible to the LLM so it can self-correct; they do NOT terminate the MCP
// session.
func toolError(format string, args ...interface{}) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultError(fmt.Sprintf(format, args...)), nil
}

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/petal-labs/petalstat/dispatch"
	"github.com/petal-labs/petalstat/tool"
)

// NewMCPServer exposes every catalogued tool as an MCP tool. Calls go through
// engine like any other transport; a failed call is a tool result with
// isError set, carrying the error envelope as structured content.
func NewMCPServer(engine Engine, version string) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{Name: "petalstat", Version: version}, nil)
	for _, def := range engine.Registry().List() {
		server.AddTool(&mcp.Tool{
			Name:        def.Name,
			Description: def.Description,
			InputSchema: def.Input.JSONSchema(),
		}, mcpToolHandler(engine, def.Name))
	}
	return server
}

// ServeMCP runs server over the process's stdin/stdout until the client
// disconnects or ctx is done.
func ServeMCP(ctx context.Context, server *mcp.Server) error {
	return server.Run(ctx, &mcp.StdioTransport{})
}

// NewMCPHandler serves server over MCP streamable HTTP.
func NewMCPHandler(server *mcp.Server) http.Handler {
	return mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return server }, nil)
}

func mcpToolHandler(engine Engine, name string) mcp.ToolHandler {
	return func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id := uuid.NewString()
		args, err := decodeArguments(req.Params.Arguments)
		if err != nil {
			return toolResult(dispatch.ErrorResponse(id, tool.NewToolError(
				tool.KindInvalidRequest, "arguments must be a JSON object: "+err.Error(), err,
			))), nil
		}
		resp := engine.Dispatch(dispatch.WithTransport(ctx, TransportMCP), dispatch.Request{
			ID:   id,
			Tool: name,
			Args: args,
		})
		return toolResult(resp), nil
	}
}

func decodeArguments(raw json.RawMessage) (map[string]any, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	decoder := json.NewDecoder(bytes.NewReader(trimmed))
	decoder.UseNumber()
	var args map[string]any
	if err := decoder.Decode(&args); err != nil {
		return nil, err
	}
	return args, nil
}

func toolResult(resp dispatch.Response) *mcp.CallToolResult {
	text := ""
	if resp.Error != nil {
		text = resp.Error.Kind + ": " + resp.Error.Message
	} else if data, err := json.Marshal(resp.Result); err == nil {
		text = string(data)
	}
	return &mcp.CallToolResult{
		Content:           []mcp.Content{&mcp.TextContent{Text: text}},
		StructuredContent: resp,
		IsError:           resp.Error != nil,
	}
}

package loqui

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/loqui-ai/loqui-go/pkg/core"
	"github.com/loqui-ai/loqui-go/pkg/protocol"
)

// MCPExecutor executes tool calls through the service's MCP proxy endpoint
// (POST /api/mcp-proxy). Declarations are supplied by the caller, who knows
// which tools the remote server exposes.
type MCPExecutor struct {
	client    *Client
	serverURL string
	decls     []protocol.FunctionDeclaration
}

// NewMCPExecutor creates an executor proxying calls to serverURL.
func (c *Client) NewMCPExecutor(serverURL string, decls []protocol.FunctionDeclaration) *MCPExecutor {
	return &MCPExecutor{client: c, serverURL: serverURL, decls: decls}
}

// Declarations implements ToolExecutor.
func (m *MCPExecutor) Declarations() []protocol.FunctionDeclaration {
	return m.decls
}

// Execute implements ToolExecutor.
func (m *MCPExecutor) Execute(ctx context.Context, name string, args map[string]any) (any, error) {
	payload := map[string]any{
		"tool_name":  name,
		"arguments":  args,
		"server_url": m.serverURL,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, core.NewToolExecutionError(name, err)
	}

	endpoint := m.client.endpoint("/api/mcp-proxy")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, core.NewToolExecutionError(name, err)
	}
	req.Header.Set("Content-Type", "application/json")
	m.client.authorize(req.Header)

	resp, err := m.client.httpClient.Do(req)
	if err != nil {
		return nil, core.NewToolExecutionError(name, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, core.NewToolExecutionError(name, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, core.NewToolExecutionError(name,
			fmt.Errorf("proxy status %d: %s", resp.StatusCode, strings.TrimSpace(string(data))))
	}

	var result any
	if err := json.Unmarshal(data, &result); err != nil {
		// Non-JSON tool output is passed through verbatim.
		return string(data), nil
	}
	return result, nil
}

package msmcp_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/server"

	msmcp "github.com/sqlctx/mssql-mcp"
)

type mcpTestServer struct {
	baseURL string
}

// startMCPTestServer registers MCP tools for a sqlmock-backed instance,
// starts a stateless streamable HTTP server on a free port, and returns a
// handle for issuing JSON-RPC requests against it.
func startMCPTestServer(t *testing.T, config msmcp.Config) *mcpTestServer {
	t.Helper()

	m, _ := newMockInstance(t, config, "")

	l, err := net.Listen("tcp", ":0")
	if err != nil {
		t.Fatalf("failed to get free port: %v", err)
	}
	port := l.Addr().(*net.TCPAddr).Port
	l.Close()

	mcpServer := server.NewMCPServer("gomsmcp-test", "1.0.0",
		server.WithToolCapabilities(true),
	)
	msmcp.RegisterMCPTools(mcpServer, m)

	addr := fmt.Sprintf(":%d", port)
	mux := http.NewServeMux()

	httpSrv := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	streamableServer := server.NewStreamableHTTPServer(mcpServer,
		server.WithEndpointPath("/mcp"),
		server.WithStateLess(true),
		server.WithStreamableHTTPServer(httpSrv),
	)
	mux.Handle("/mcp", streamableServer)

	go func() {
		if err := streamableServer.Start(addr); err != nil && err != http.ErrServerClosed {
			t.Logf("server error: %v", err)
		}
	}()

	time.Sleep(200 * time.Millisecond)
	t.Cleanup(func() { streamableServer.Shutdown(context.Background()) })

	return &mcpTestServer{baseURL: fmt.Sprintf("http://localhost:%d", port)}
}

// jsonRPC sends a JSON-RPC request to the MCP endpoint and returns the parsed response.
func (s *mcpTestServer) jsonRPC(t *testing.T, method string, params interface{}) map[string]interface{} {
	t.Helper()

	reqBody := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  method,
	}
	if params != nil {
		reqBody["params"] = params
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		t.Fatalf("failed to marshal request: %v", err)
	}

	resp, err := http.Post(
		s.baseURL+"/mcp",
		"application/json",
		strings.NewReader(string(bodyBytes)),
	)
	if err != nil {
		t.Fatalf("JSON-RPC request failed: %v", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d; body: %s", resp.StatusCode, string(respBody))
	}

	var result map[string]interface{}
	if err := json.Unmarshal(respBody, &result); err != nil {
		t.Fatalf("failed to parse response JSON: %v; body: %s", err, string(respBody))
	}

	return result
}

// toolNames extracts the registered tool names from a tools/list response.
func toolNames(t *testing.T, result map[string]interface{}) map[string]bool {
	t.Helper()

	resultObj, ok := result["result"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected result object, got %v", result)
	}
	tools, ok := resultObj["tools"].([]interface{})
	if !ok {
		t.Fatalf("expected tools array, got %T: %v", resultObj["tools"], resultObj["tools"])
	}

	names := make(map[string]bool, len(tools))
	for _, tool := range tools {
		toolObj, ok := tool.(map[string]interface{})
		if !ok {
			t.Fatalf("expected tool object, got %T", tool)
		}
		names[toolObj["name"].(string)] = true
	}
	return names
}

func TestMCPServer_ToolListComplete(t *testing.T) {
	t.Parallel()
	s := startMCPTestServer(t, defaultConfig())

	names := toolNames(t, s.jsonRPC(t, "tools/list", map[string]interface{}{}))

	want := []string{
		"list_tables",
		"list_databases",
		"get_table_schema",
		"list_stored_procedures",
		"get_stored_procedure_definition",
		"get_command_timeout_settings",
		"get_session_status",
		"get_session_results",
		"stop_session",
		"list_sessions",
		"execute_query",
		"execute_stored_procedure",
		"start_query",
		"start_stored_procedure",
	}
	for _, name := range want {
		if !names[name] {
			t.Errorf("tool %q not registered", name)
		}
	}
	if len(names) != len(want) {
		t.Errorf("got %d tools, want %d: %v", len(names), len(want), names)
	}
}

func TestMCPServer_DisabledToolsNotRegistered(t *testing.T) {
	t.Parallel()
	config := defaultConfig()
	config.Tools.EnableExecuteQuery = false
	config.Tools.EnableExecuteStoredProcedure = false
	config.Tools.EnableStartQuery = false
	config.Tools.EnableStartStoredProcedure = false
	s := startMCPTestServer(t, config)

	names := toolNames(t, s.jsonRPC(t, "tools/list", map[string]interface{}{}))

	for _, name := range []string{"execute_query", "execute_stored_procedure", "start_query", "start_stored_procedure"} {
		if names[name] {
			t.Errorf("tool %q registered despite being disabled", name)
		}
	}
	for _, name := range []string{"list_tables", "get_command_timeout_settings", "list_sessions"} {
		if !names[name] {
			t.Errorf("tool %q not registered", name)
		}
	}
}

func TestMCPServer_CommandTimeoutSettingsTool(t *testing.T) {
	t.Parallel()
	config := defaultConfig()
	config.Query.TotalToolCallTimeoutSeconds = 120
	s := startMCPTestServer(t, config)

	result := s.jsonRPC(t, "tools/call", map[string]interface{}{
		"name": "get_command_timeout_settings",
	})

	resultObj, ok := result["result"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected result object, got %v", result)
	}
	content, ok := resultObj["content"].([]interface{})
	if !ok || len(content) == 0 {
		t.Fatalf("expected content array, got %v", resultObj["content"])
	}
	text := content[0].(map[string]interface{})["text"].(string)

	var settings msmcp.TimeoutSettings
	if err := json.Unmarshal([]byte(text), &settings); err != nil {
		t.Fatalf("failed to parse tool result %q: %v", text, err)
	}
	if settings.TotalToolCallTimeoutSeconds != 120 {
		t.Errorf("TotalToolCallTimeoutSeconds = %d, want 120", settings.TotalToolCallTimeoutSeconds)
	}
	if settings.DefaultCommandTimeoutSeconds != config.Query.DefaultCommandTimeoutSeconds {
		t.Errorf("DefaultCommandTimeoutSeconds = %d, want %d",
			settings.DefaultCommandTimeoutSeconds, config.Query.DefaultCommandTimeoutSeconds)
	}
}

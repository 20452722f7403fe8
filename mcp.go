package msmcp

import (
	"context"
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// RegisterMCPTools registers the introspection, execution, and session tools
// on the given MCP server. Introspection and session-polling tools are always
// registered; the execution tools (execute_query, execute_stored_procedure,
// start_query, start_stored_procedure) appear only when enabled in the
// Tools configuration.
func RegisterMCPTools(mcpServer *server.MCPServer, m *MssqlMcp) {
	registerIntrospectionTools(mcpServer, m)
	registerSessionTools(mcpServer, m)

	if m.config.Tools.EnableExecuteQuery {
		executeQueryTool := mcp.NewTool("execute_query",
			mcp.WithDescription("Execute a T-SQL query against the SQL Server database. Returns results as JSON."),
			mcp.WithString("sql",
				mcp.Required(),
				mcp.Description("The T-SQL query to execute"),
			),
			mcp.WithString("database",
				mcp.Description("Database to run against (defaults to the connection's database)"),
			),
			mcp.WithNumber("timeout_seconds",
				mcp.Description("Command timeout in seconds (defaults to the configured timeout)"),
			),
		)
		mcpServer.AddTool(executeQueryTool, m.loggedToolHandler("execute_query", func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			sqlText, err := req.RequireString("sql")
			if err != nil {
				return mcp.NewToolResultError("sql parameter is required"), nil
			}
			reader, err := m.ExecuteQuery(ctx, ExecuteQueryInput{
				SQL:            sqlText,
				Database:       req.GetString("database", ""),
				TimeoutSeconds: req.GetInt("timeout_seconds", 0),
			})
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			result, err := m.materialize(reader)
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			return marshalToolResult(result)
		}))
	}

	if m.config.Tools.EnableExecuteStoredProcedure {
		executeProcTool := mcp.NewTool("execute_stored_procedure",
			mcp.WithDescription("Execute a stored procedure with named parameters. Returns results as JSON."),
			mcp.WithString("procedure",
				mcp.Required(),
				mcp.Description("Stored procedure name, optionally schema-qualified (defaults to dbo)"),
			),
			mcp.WithObject("parameters",
				mcp.Description("Named parameters passed to the procedure"),
			),
			mcp.WithString("database",
				mcp.Description("Database to run against (defaults to the connection's database)"),
			),
			mcp.WithNumber("timeout_seconds",
				mcp.Description("Command timeout in seconds (defaults to the configured timeout)"),
			),
		)
		mcpServer.AddTool(executeProcTool, m.loggedToolHandler("execute_stored_procedure", func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			procedure, err := req.RequireString("procedure")
			if err != nil {
				return mcp.NewToolResultError("procedure parameter is required"), nil
			}
			reader, err := m.ExecuteStoredProcedure(ctx, ExecuteProcedureInput{
				Procedure:      procedure,
				Parameters:     objectArgument(req, "parameters"),
				Database:       req.GetString("database", ""),
				TimeoutSeconds: req.GetInt("timeout_seconds", 0),
			})
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			result, err := m.materialize(reader)
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			return marshalToolResult(result)
		}))
	}

	if m.config.Tools.EnableStartQuery {
		startQueryTool := mcp.NewTool("start_query",
			mcp.WithDescription("Start a T-SQL query in a background session and return the session ID immediately. Poll with get_session_status, fetch results with get_session_results."),
			mcp.WithString("sql",
				mcp.Required(),
				mcp.Description("The T-SQL query to execute"),
			),
			mcp.WithString("database",
				mcp.Description("Database to run against (defaults to the connection's database)"),
			),
			mcp.WithNumber("timeout_seconds",
				mcp.Description("Command timeout in seconds (defaults to the configured timeout)"),
			),
		)
		mcpServer.AddTool(startQueryTool, m.loggedToolHandler("start_query", func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			sqlText, err := req.RequireString("sql")
			if err != nil {
				return mcp.NewToolResultError("sql parameter is required"), nil
			}
			id, err := m.StartQuery(ctx, StartQueryInput{
				SQL:            sqlText,
				Database:       req.GetString("database", ""),
				TimeoutSeconds: req.GetInt("timeout_seconds", 0),
			})
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			return marshalToolResult(map[string]string{"session_id": id})
		}))
	}

	if m.config.Tools.EnableStartStoredProcedure {
		startProcTool := mcp.NewTool("start_stored_procedure",
			mcp.WithDescription("Start a stored procedure in a background session and return the session ID immediately."),
			mcp.WithString("procedure",
				mcp.Required(),
				mcp.Description("Stored procedure name, optionally schema-qualified (defaults to dbo)"),
			),
			mcp.WithObject("parameters",
				mcp.Description("Named parameters passed to the procedure"),
			),
			mcp.WithString("database",
				mcp.Description("Database to run against (defaults to the connection's database)"),
			),
			mcp.WithNumber("timeout_seconds",
				mcp.Description("Command timeout in seconds (defaults to the configured timeout)"),
			),
		)
		mcpServer.AddTool(startProcTool, m.loggedToolHandler("start_stored_procedure", func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			procedure, err := req.RequireString("procedure")
			if err != nil {
				return mcp.NewToolResultError("procedure parameter is required"), nil
			}
			id, err := m.StartStoredProcedure(ctx, StartProcedureInput{
				Procedure:      procedure,
				Parameters:     objectArgument(req, "parameters"),
				Database:       req.GetString("database", ""),
				TimeoutSeconds: req.GetInt("timeout_seconds", 0),
			})
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			return marshalToolResult(map[string]string{"session_id": id})
		}))
	}
}

func registerIntrospectionTools(mcpServer *server.MCPServer, m *MssqlMcp) {
	listTablesTool := mcp.NewTool("list_tables",
		mcp.WithDescription("List all user tables in the database with per-table statistics where the server supports them."),
		mcp.WithString("database",
			mcp.Description("Database to inspect (defaults to the connection's database)"),
		),
		mcp.WithReadOnlyHintAnnotation(true),
	)
	mcpServer.AddTool(listTablesTool, m.loggedToolHandler("list_tables", func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		output, err := m.ListTables(ctx, ListTablesInput{Database: req.GetString("database", "")})
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return marshalToolResult(output)
	}))

	listDatabasesTool := mcp.NewTool("list_databases",
		mcp.WithDescription("List all databases on the server with state and compatibility level."),
		mcp.WithReadOnlyHintAnnotation(true),
	)
	mcpServer.AddTool(listDatabasesTool, m.loggedToolHandler("list_databases", func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		output, err := m.ListDatabases(ctx)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return marshalToolResult(output)
	}))

	tableSchemaTool := mcp.NewTool("get_table_schema",
		mcp.WithDescription("Describe the schema of a table including columns, indexes, and foreign keys."),
		mcp.WithString("table",
			mcp.Required(),
			mcp.Description("Table name, optionally schema-qualified (defaults to dbo)"),
		),
		mcp.WithString("database",
			mcp.Description("Database to inspect (defaults to the connection's database)"),
		),
		mcp.WithReadOnlyHintAnnotation(true),
	)
	mcpServer.AddTool(tableSchemaTool, m.loggedToolHandler("get_table_schema", func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		table, err := req.RequireString("table")
		if err != nil {
			return mcp.NewToolResultError("table parameter is required"), nil
		}
		output, err := m.GetTableSchema(ctx, GetTableSchemaInput{
			Table:    table,
			Database: req.GetString("database", ""),
		})
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return marshalToolResult(output)
	}))

	listProcsTool := mcp.NewTool("list_stored_procedures",
		mcp.WithDescription("List all user stored procedures in the database."),
		mcp.WithString("database",
			mcp.Description("Database to inspect (defaults to the connection's database)"),
		),
		mcp.WithReadOnlyHintAnnotation(true),
	)
	mcpServer.AddTool(listProcsTool, m.loggedToolHandler("list_stored_procedures", func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		output, err := m.ListStoredProcedures(ctx, ListProceduresInput{Database: req.GetString("database", "")})
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return marshalToolResult(output)
	}))

	procDefTool := mcp.NewTool("get_stored_procedure_definition",
		mcp.WithDescription("Return the T-SQL source of a stored procedure. Encrypted procedures are reported as a permission error."),
		mcp.WithString("procedure",
			mcp.Required(),
			mcp.Description("Stored procedure name, optionally schema-qualified (defaults to dbo)"),
		),
		mcp.WithString("database",
			mcp.Description("Database to inspect (defaults to the connection's database)"),
		),
		mcp.WithReadOnlyHintAnnotation(true),
	)
	mcpServer.AddTool(procDefTool, m.loggedToolHandler("get_stored_procedure_definition", func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		procedure, err := req.RequireString("procedure")
		if err != nil {
			return mcp.NewToolResultError("procedure parameter is required"), nil
		}
		output, err := m.GetStoredProcedureDefinition(ctx, GetProcedureDefinitionInput{
			Procedure: procedure,
			Database:  req.GetString("database", ""),
		})
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return marshalToolResult(output)
	}))

	timeoutSettingsTool := mcp.NewTool("get_command_timeout_settings",
		mcp.WithDescription("Report the configured per-statement and total tool-call timeouts."),
		mcp.WithReadOnlyHintAnnotation(true),
	)
	mcpServer.AddTool(timeoutSettingsTool, m.loggedToolHandler("get_command_timeout_settings", func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return marshalToolResult(m.GetCommandTimeoutSettings())
	}))
}

func registerSessionTools(mcpServer *server.MCPServer, m *MssqlMcp) {
	statusTool := mcp.NewTool("get_session_status",
		mcp.WithDescription("Return the status of a background session."),
		mcp.WithString("session_id",
			mcp.Required(),
			mcp.Description("The session ID returned by start_query or start_stored_procedure"),
		),
		mcp.WithReadOnlyHintAnnotation(true),
	)
	mcpServer.AddTool(statusTool, m.loggedToolHandler("get_session_status", func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("session_id")
		if err != nil {
			return mcp.NewToolResultError("session_id parameter is required"), nil
		}
		snapshot, err := m.GetSessionStatus(ctx, id)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return marshalToolResult(snapshot)
	}))

	resultsTool := mcp.NewTool("get_session_results",
		mcp.WithDescription("Return the results of a completed background session."),
		mcp.WithString("session_id",
			mcp.Required(),
			mcp.Description("The session ID returned by start_query or start_stored_procedure"),
		),
		mcp.WithReadOnlyHintAnnotation(true),
	)
	mcpServer.AddTool(resultsTool, m.loggedToolHandler("get_session_results", func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("session_id")
		if err != nil {
			return mcp.NewToolResultError("session_id parameter is required"), nil
		}
		result, err := m.GetSessionResults(ctx, id)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return marshalToolResult(result)
	}))

	stopTool := mcp.NewTool("stop_session",
		mcp.WithDescription("Request cancellation of a running background session."),
		mcp.WithString("session_id",
			mcp.Required(),
			mcp.Description("The session ID to stop"),
		),
	)
	mcpServer.AddTool(stopTool, m.loggedToolHandler("stop_session", func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("session_id")
		if err != nil {
			return mcp.NewToolResultError("session_id parameter is required"), nil
		}
		snapshot, err := m.StopSession(ctx, id)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return marshalToolResult(snapshot)
	}))

	listTool := mcp.NewTool("list_sessions",
		mcp.WithDescription("List all retained background sessions, oldest first."),
		mcp.WithReadOnlyHintAnnotation(true),
	)
	mcpServer.AddTool(listTool, m.loggedToolHandler("list_sessions", func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return marshalToolResult(m.ListSessions(ctx))
	}))
}

// objectArgument extracts a map argument from the tool request, returning
// nil when absent or of an unexpected shape.
func objectArgument(req mcp.CallToolRequest, key string) map[string]any {
	args := req.GetArguments()
	if v, ok := args[key].(map[string]any); ok {
		return v
	}
	return nil
}

func marshalToolResult(v any) (*mcp.CallToolResult, error) {
	jsonBytes, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError("failed to marshal tool result"), nil
	}
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

// loggedToolHandler wraps a tool handler to log request and response lengths.
func (p *MssqlMcp) loggedToolHandler(tool string, handler server.ToolHandlerFunc) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		reqLen := requestLength(req)
		result, err := handler(ctx, req)
		respLen := resultLength(result)
		p.logger.Info().
			Str("tool", tool).
			Int("request_bytes", reqLen).
			Int("response_bytes", respLen).
			Msg("tool call")
		return result, err
	}
}

// requestLength returns the JSON-encoded byte length of the request arguments.
func requestLength(req mcp.CallToolRequest) int {
	args := req.GetArguments()
	if len(args) == 0 {
		return 0
	}
	b, err := json.Marshal(args)
	if err != nil {
		return 0
	}
	return len(b)
}

// resultLength returns the total byte length of text content in a CallToolResult.
func resultLength(result *mcp.CallToolResult) int {
	if result == nil {
		return 0
	}
	total := 0
	for _, c := range result.Content {
		if tc, ok := c.(mcp.TextContent); ok {
			total += len(tc.Text)
		}
	}
	return total
}

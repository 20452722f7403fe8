// Package msmcp provides controlled SQL Server access for AI agents through
// the Model Context Protocol (MCP).
//
// It exposes introspection tools (list_tables, list_databases,
// get_table_schema, list_stored_procedures, get_stored_procedure_definition,
// get_command_timeout_settings),
// execution tools (execute_query, execute_stored_procedure), and background
// sessions (start_query, start_stored_procedure plus the session polling
// tools). Execution tools are disabled by default and must be enabled in the
// Tools configuration.
//
// Every operation runs under a total-call timeout budget: the first statement
// that would start after the budget is exhausted fails fast with a timeout
// error instead of dispatching to the server. Introspection queries are built
// per the detected server capability tier, so columns that a server version
// cannot provide are never requested from it.
//
// A database argument on any operation pins a dedicated connection, verifies
// the target database is ONLINE, switches to it with USE, and restores the
// original catalog when the operation finishes. Parameter values always
// travel as named T-SQL parameters, never as inlined text.
//
// # Library Usage
//
//	m, err := msmcp.New(ctx, connString, msmcp.Config{
//		Query: msmcp.QueryConfig{
//			DefaultCommandTimeoutSeconds: 30,
//			TotalToolCallTimeoutSeconds:  120,
//		},
//		Tools: msmcp.ToolsConfig{EnableExecuteQuery: true},
//	}, logger)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer m.Close(ctx)
//
//	// Use directly
//	out, err := m.ListTables(ctx, msmcp.ListTablesInput{})
//
//	// Or register as MCP tools
//	msmcp.RegisterMCPTools(mcpServer, m)
//
// # Sessions
//
// StartQuery and StartStoredProcedure validate their input synchronously,
// then run on a background context that outlives the tool call. Poll with
// GetSessionStatus, fetch materialized rows with GetSessionResults, and
// cancel with StopSession. A stopped session never reports Completed, even
// if its statement finished in the window between the stop request and the
// cancellation taking effect.
package msmcp

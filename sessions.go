package msmcp

import (
	"context"
	"strings"
	"time"

	"github.com/sqlctx/mssql-mcp/internal/session"
	"github.com/sqlctx/mssql-mcp/internal/sqlerr"
)

// StartQuery validates the input synchronously, then launches the query in a
// background session and returns its ID immediately. The session runs on its
// own context; cancelling the caller's context does not affect it. Disabled
// unless Tools.EnableStartQuery is set.
func (p *MssqlMcp) StartQuery(ctx context.Context, input StartQueryInput) (string, error) {
	if !p.config.Tools.EnableStartQuery {
		return "", sqlerr.New(sqlerr.KindValidation, "start_query is disabled by configuration")
	}
	if strings.TrimSpace(input.SQL) == "" {
		return "", sqlerr.New(sqlerr.KindValidation, "sql must not be empty")
	}
	if len(input.SQL) > p.config.Query.MaxSQLLength {
		return "", sqlerr.New(sqlerr.KindValidation,
			"SQL query too long: %d bytes exceeds maximum of %d bytes", len(input.SQL), p.config.Query.MaxSQLLength)
	}
	p.pruneSessions()

	id := p.sessions.Start(session.KindQuery, input.Database, func(runCtx context.Context) (*session.Result, error) {
		reader, err := p.executeQuery(runCtx, ExecuteQueryInput(input))
		if err != nil {
			return nil, err
		}
		return p.materialize(reader)
	})
	return id, nil
}

// StartStoredProcedure launches a stored procedure in a background session.
// Name and parameter validation happens before the session is created, so a
// malformed request fails synchronously. Disabled unless
// Tools.EnableStartStoredProcedure is set.
func (p *MssqlMcp) StartStoredProcedure(ctx context.Context, input StartProcedureInput) (string, error) {
	if !p.config.Tools.EnableStartStoredProcedure {
		return "", sqlerr.New(sqlerr.KindValidation, "start_stored_procedure is disabled by configuration")
	}
	name := strings.TrimSpace(input.Procedure)
	if name == "" {
		return "", sqlerr.New(sqlerr.KindValidation, "procedure name must not be empty")
	}
	if !procIdentRe.MatchString(name) {
		return "", sqlerr.New(sqlerr.KindValidation, "invalid procedure name %q", name)
	}
	for pn := range input.Parameters {
		if !paramNameRe.MatchString(pn) {
			return "", sqlerr.New(sqlerr.KindValidation, "invalid parameter name %q", pn)
		}
	}
	p.pruneSessions()

	id := p.sessions.Start(session.KindStoredProcedure, input.Database, func(runCtx context.Context) (*session.Result, error) {
		reader, err := p.executeProcedure(runCtx, ExecuteProcedureInput(input))
		if err != nil {
			return nil, err
		}
		return p.materialize(reader)
	})
	return id, nil
}

// GetSessionStatus returns the current snapshot of one session.
func (p *MssqlMcp) GetSessionStatus(ctx context.Context, id string) (session.Snapshot, error) {
	return p.sessions.Status(id)
}

// GetSessionResults returns the materialized result of a completed session.
// While the session is still running it fails with a not-ready error; after
// a failure it returns the session's buffered error verbatim.
func (p *MssqlMcp) GetSessionResults(ctx context.Context, id string) (*session.Result, error) {
	return p.sessions.Results(id)
}

// StopSession requests cancellation of a running session and returns the
// resulting snapshot. Stopping an already-terminal session is a no-op.
func (p *MssqlMcp) StopSession(ctx context.Context, id string) (session.Snapshot, error) {
	return p.sessions.Stop(id)
}

// ListSessions returns snapshots of all retained sessions, oldest first.
func (p *MssqlMcp) ListSessions(ctx context.Context) []session.Snapshot {
	return p.sessions.List()
}

// pruneSessions opportunistically drops terminal sessions past the retention
// window. Runs at session creation so an idle server never accumulates.
func (p *MssqlMcp) pruneSessions() {
	retention := time.Duration(p.config.Query.SessionRetentionMinutes) * time.Minute
	if retention <= 0 {
		return
	}
	if n := p.sessions.Prune(retention); n > 0 {
		p.logger.Debug().Int("pruned", n).Msg("pruned expired sessions")
	}
}

// materialize drains a ResultReader into a session.Result, capped at the
// configured row limit. The reader is always closed.
func (p *MssqlMcp) materialize(reader *ResultReader) (*session.Result, error) {
	defer reader.Close()

	maxRows := p.config.Query.MaxSessionResultRows
	maxLen := p.config.Query.MaxResultLength
	result := &session.Result{
		Columns: reader.Columns(),
		Rows:    []map[string]any{},
	}
	for reader.Next() {
		if maxRows > 0 && len(result.Rows) >= maxRows {
			result.Truncated = true
			break
		}
		row := reader.Row()
		if maxLen > 0 {
			for k, v := range row {
				if s, ok := v.(string); ok && len(s) > maxLen {
					row[k] = truncateString(s, maxLen)
				}
			}
		}
		result.Rows = append(result.Rows, row)
	}
	if err := reader.Err(); err != nil {
		return nil, err
	}
	result.RowsAffected = int64(len(result.Rows))
	if result.Truncated {
		p.logger.Warn().
			Int("rows_kept", len(result.Rows)).
			Msg("session result truncated to max_session_result_rows")
	}
	return result, nil
}

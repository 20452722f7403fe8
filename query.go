package msmcp

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sqlctx/mssql-mcp/internal/sqlerr"
)

// Procedure names may be schema-qualified; parameter names are bare T-SQL
// identifiers.
var (
	procIdentRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)
	paramNameRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
)

// ExecuteQuery runs one SQL batch and returns a streaming ResultReader that
// owns the connection. The caller must Close the reader; until then the
// connection stays pinned and, if a database override was given, switched.
// Disabled unless Tools.EnableExecuteQuery is set.
func (p *MssqlMcp) ExecuteQuery(ctx context.Context, input ExecuteQueryInput) (*ResultReader, error) {
	if !p.config.Tools.EnableExecuteQuery {
		return nil, sqlerr.New(sqlerr.KindValidation, "execute_query is disabled by configuration")
	}
	return p.executeQuery(ctx, input)
}

// executeQuery is the ungated pipeline shared with StartQuery.
func (p *MssqlMcp) executeQuery(ctx context.Context, input ExecuteQueryInput) (*ResultReader, error) {
	startTime := time.Now()
	sqlText := input.SQL

	// Validation happens before any slot or connection is taken.
	if strings.TrimSpace(sqlText) == "" {
		return nil, sqlerr.New(sqlerr.KindValidation, "sql must not be empty")
	}
	if len(sqlText) > p.config.Query.MaxSQLLength {
		return nil, sqlerr.New(sqlerr.KindValidation,
			"SQL query too long: %d bytes exceeds maximum of %d bytes", len(sqlText), p.config.Query.MaxSQLLength)
	}

	release, err := p.acquireSlot(ctx)
	if err != nil {
		return nil, err
	}

	b := p.newBudget()
	requested := time.Duration(input.TimeoutSeconds) * time.Second
	timeoutRule := ""
	if requested <= 0 {
		requested, timeoutRule = p.timeoutMgr.GetTimeoutWithPattern(sqlText)
	}

	oc, err := p.acquireConn(ctx, b, input.Database)
	if err != nil {
		release()
		return nil, p.decorateErr(err)
	}

	grant, err := b.Effective(requested)
	if err != nil {
		oc.Close()
		release()
		return nil, err
	}
	qctx, cancel := context.WithTimeout(ctx, grant.Timeout)

	rows, err := oc.conn.QueryContext(qctx, sqlText)
	if err != nil {
		cancel()
		oc.Close()
		release()
		return nil, p.decorateErr(wrapStatementErr(err, grant, b))
	}

	reader, err := newResultReader(rows, oc, cancel, release, p.sanitizer, grant, b)
	if err != nil {
		cancel()
		oc.Close()
		release()
		return nil, p.decorateErr(err)
	}

	logEvent := p.logger.Info().
		Str("sql", truncateString(sqlText, 200)).
		Dur("dispatch", time.Since(startTime)).
		Dur("timeout", grant.Timeout)
	if input.Database != "" {
		logEvent = logEvent.Str("database", input.Database)
	}
	if timeoutRule != "" {
		logEvent = logEvent.Str("timeout_rule", timeoutRule)
	}
	logEvent.Msg("query streaming")

	return reader, nil
}

// ExecuteStoredProcedure executes a stored procedure with named parameters
// and returns a streaming ResultReader. Disabled unless
// Tools.EnableExecuteStoredProcedure is set.
func (p *MssqlMcp) ExecuteStoredProcedure(ctx context.Context, input ExecuteProcedureInput) (*ResultReader, error) {
	if !p.config.Tools.EnableExecuteStoredProcedure {
		return nil, sqlerr.New(sqlerr.KindValidation, "execute_stored_procedure is disabled by configuration")
	}
	return p.executeProcedure(ctx, input)
}

// executeProcedure is the ungated pipeline shared with StartStoredProcedure.
func (p *MssqlMcp) executeProcedure(ctx context.Context, input ExecuteProcedureInput) (*ResultReader, error) {
	startTime := time.Now()

	name := strings.TrimSpace(input.Procedure)
	if name == "" {
		return nil, sqlerr.New(sqlerr.KindValidation, "procedure name must not be empty")
	}
	if !procIdentRe.MatchString(name) {
		return nil, sqlerr.New(sqlerr.KindValidation, "invalid procedure name %q", name)
	}
	paramNames := make([]string, 0, len(input.Parameters))
	for pn := range input.Parameters {
		if !paramNameRe.MatchString(pn) {
			return nil, sqlerr.New(sqlerr.KindValidation, "invalid parameter name %q", pn)
		}
		paramNames = append(paramNames, pn)
	}
	sort.Strings(paramNames)

	release, err := p.acquireSlot(ctx)
	if err != nil {
		return nil, err
	}

	b := p.newBudget()
	oc, err := p.acquireConn(ctx, b, input.Database)
	if err != nil {
		release()
		return nil, p.decorateErr(err)
	}

	qualified := qualifyObjectName(name)
	if err := p.verifyProcedureExists(ctx, b, oc, qualified); err != nil {
		oc.Close()
		release()
		return nil, p.decorateErr(err)
	}

	stmt, args := buildExecStatement(qualified, paramNames, input.Parameters)

	grant, err := b.Effective(time.Duration(input.TimeoutSeconds) * time.Second)
	if err != nil {
		oc.Close()
		release()
		return nil, err
	}
	qctx, cancel := context.WithTimeout(ctx, grant.Timeout)

	rows, err := oc.conn.QueryContext(qctx, stmt, args...)
	if err != nil {
		cancel()
		oc.Close()
		release()
		return nil, p.decorateErr(wrapStatementErr(err, grant, b))
	}

	reader, err := newResultReader(rows, oc, cancel, release, p.sanitizer, grant, b)
	if err != nil {
		cancel()
		oc.Close()
		release()
		return nil, p.decorateErr(err)
	}

	p.logger.Info().
		Str("procedure", qualified).
		Int("param_count", len(paramNames)).
		Dur("dispatch", time.Since(startTime)).
		Msg("stored procedure streaming")

	return reader, nil
}

// buildExecStatement assembles "EXEC [schema].[name] @a = @a, ..." with
// named driver arguments. Parameter values travel as parameters, never as
// inlined text.
func buildExecStatement(qualified string, paramNames []string, params map[string]any) (string, []any) {
	var sb strings.Builder
	sb.WriteString("EXEC ")
	sb.WriteString(quoteQualifiedIdent(qualified))
	args := make([]any, 0, len(paramNames))
	for i, pn := range paramNames {
		if i > 0 {
			sb.WriteString(",")
		}
		fmt.Fprintf(&sb, " @%s = @%s", pn, pn)
		args = append(args, sql.Named(pn, params[pn]))
	}
	return sb.String(), args
}

// qualifyObjectName defaults the schema to dbo.
func qualifyObjectName(name string) string {
	if strings.Contains(name, ".") {
		return name
	}
	return "dbo." + name
}

// quoteQualifiedIdent bracket-quotes each part of a schema-qualified name.
func quoteQualifiedIdent(qualified string) string {
	parts := strings.Split(qualified, ".")
	for i, part := range parts {
		parts[i] = quoteIdent(part)
	}
	return strings.Join(parts, ".")
}

// decorateErr logs an operation error and appends any configured guidance
// prompts to its message, preserving the error kind and cause.
func (p *MssqlMcp) decorateErr(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	patterns := p.errPrompts.MatchedPatterns(msg)

	logEvent := p.logger.Error().Err(err)
	if len(patterns) > 0 {
		logEvent = logEvent.Strs("error_prompts", patterns)
	}
	logEvent.Msg("operation error")

	guidance := p.errPrompts.Guidance(msg)
	if guidance == "" {
		return err
	}
	var e *sqlerr.Error
	if errors.As(err, &e) {
		return &sqlerr.Error{Kind: e.Kind, Message: msg + "\n\n" + guidance, Err: err}
	}
	return fmt.Errorf("%s\n\n%s", msg, guidance)
}

// truncateString truncates s to at most maxLen bytes without splitting a
// UTF-8 sequence, appending a marker when anything was cut.
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	truncateAt := maxLen
	for truncateAt > 0 && !utf8.RuneStart(s[truncateAt]) {
		truncateAt--
	}
	return s[:truncateAt] + "...[truncated]"
}

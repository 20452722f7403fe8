package msmcp

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/sqlctx/mssql-mcp/internal/querybuild"
	"github.com/sqlctx/mssql-mcp/internal/sqlerr"
	"github.com/sqlctx/mssql-mcp/internal/timeout"
)

// restoreTimeout bounds the context-restoring USE statement. It runs on a
// fresh context because the operation's context may already be cancelled.
const restoreTimeout = 5 * time.Second

// operationConn pins one connection for the duration of one logical
// operation and owns the database-context-switch protocol: if the operation
// targets a non-default catalog the switch is performed up front and the
// original catalog is restored in Close, success or failure.
type operationConn struct {
	conn            *sql.Conn
	originalCatalog string
	switched        bool
	logger          zerolog.Logger
	closed          bool
}

// acquireConn opens a pinned connection and switches it to database when one
// is requested. Every statement issued here (catalog lookup, online check,
// USE) is budget-checked individually.
func (p *MssqlMcp) acquireConn(ctx context.Context, b timeout.Budget, database string) (*operationConn, error) {
	database = strings.TrimSpace(database)

	conn, err := p.db.Conn(ctx)
	if err != nil {
		return nil, sqlerr.Wrap(sqlerr.KindConnection, err)
	}
	oc := &operationConn{conn: conn, logger: p.logger}

	if database == "" {
		return oc, nil
	}

	original, err := oc.queryCurrentCatalog(ctx, b)
	if err != nil {
		conn.Close()
		return nil, err
	}
	if original == database {
		return oc, nil
	}

	if err := p.verifyDatabaseOnline(ctx, b, oc, database); err != nil {
		conn.Close()
		return nil, err
	}

	grant, err := b.Effective(0)
	if err != nil {
		conn.Close()
		return nil, err
	}
	useCtx, cancel := context.WithTimeout(ctx, grant.Timeout)
	defer cancel()
	if _, err := conn.ExecContext(useCtx, "USE "+quoteIdent(database)); err != nil {
		conn.Close()
		return nil, wrapStatementErr(err, grant, b)
	}

	oc.originalCatalog = original
	oc.switched = true
	return oc, nil
}

func (oc *operationConn) queryCurrentCatalog(ctx context.Context, b timeout.Budget) (string, error) {
	grant, err := b.Effective(0)
	if err != nil {
		return "", err
	}
	qctx, cancel := context.WithTimeout(ctx, grant.Timeout)
	defer cancel()

	var catalog string
	if err := oc.conn.QueryRowContext(qctx, querybuild.CurrentDatabaseQuery).Scan(&catalog); err != nil {
		return "", wrapStatementErr(err, grant, b)
	}
	return catalog, nil
}

// verifyDatabaseOnline fails with DatabaseNotFoundOrOffline unless the
// target database exists and is ONLINE.
func (p *MssqlMcp) verifyDatabaseOnline(ctx context.Context, b timeout.Budget, oc *operationConn, database string) error {
	grant, err := b.Effective(0)
	if err != nil {
		return err
	}
	qctx, cancel := context.WithTimeout(ctx, grant.Timeout)
	defer cancel()

	var state string
	err = oc.conn.QueryRowContext(qctx, querybuild.DatabaseStateQuery, database).Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
		return sqlerr.New(sqlerr.KindDatabaseNotFoundOrOffline, "database '%s' not found", database)
	}
	if err != nil {
		return wrapStatementErr(err, grant, b)
	}
	if state != "ONLINE" {
		return sqlerr.New(sqlerr.KindDatabaseNotFoundOrOffline, "database '%s' is %s, not ONLINE", database, state)
	}
	return nil
}

// Close restores the original catalog if a switch was performed, then
// releases the connection back to the pool. Idempotent.
func (oc *operationConn) Close() error {
	if oc.closed {
		return nil
	}
	oc.closed = true

	if oc.switched {
		restoreCtx, cancel := context.WithTimeout(context.Background(), restoreTimeout)
		defer cancel()
		if _, err := oc.conn.ExecContext(restoreCtx, "USE "+quoteIdent(oc.originalCatalog)); err != nil {
			// The pooled connection would come back with the wrong catalog;
			// closing the raw connection instead keeps the pool clean.
			oc.logger.Error().Err(err).
				Str("catalog", oc.originalCatalog).
				Msg("failed to restore database context, discarding connection")
			oc.conn.Raw(func(any) error { return driver.ErrBadConn })
			return oc.conn.Close()
		}
	}
	return oc.conn.Close()
}

// quoteIdent escapes a T-SQL identifier: doubles embedded closing brackets
// and wraps in brackets.
func quoteIdent(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}

// wrapStatementErr converts a driver error into the engine taxonomy.
// A deadline hit on a budget-clamped statement means the total budget ran
// out, not the statement's own allowance. Server messages pass through
// verbatim.
func wrapStatementErr(err error, grant timeout.Grant, b timeout.Budget) error {
	if err == nil {
		return nil
	}
	// Drivers report context expiry with their own cancellation errors and
	// do not reliably wrap context.DeadlineExceeded, so an exhausted budget
	// counts as a deadline hit regardless of the error's shape.
	if grant.BudgetLimited && (errors.Is(err, context.DeadlineExceeded) || b.Remaining() <= 0) {
		return timeout.ExceededError(b.Total)
	}
	if sqlerr.KindOf(err) != sqlerr.KindUnknown {
		return err
	}
	return sqlerr.Wrap(sqlerr.KindQueryExecution, err)
}

package msmcp

import (
	"context"
	"database/sql"
	"time"

	"github.com/sqlctx/mssql-mcp/internal/capability"
	"github.com/sqlctx/mssql-mcp/internal/querybuild"
	"github.com/sqlctx/mssql-mcp/internal/sqlerr"
	"github.com/sqlctx/mssql-mcp/internal/timeout"
)

// ListTables returns every user table in the target database, enriched with
// per-table statistics where the server's capability tier allows. A single
// table whose statistics query fails is returned without that statistic;
// only budget exhaustion aborts the enhancement pass.
func (p *MssqlMcp) ListTables(ctx context.Context, input ListTablesInput) (*ListTablesOutput, error) {
	startTime := time.Now()

	release, err := p.acquireSlot(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	b := p.newBudget()
	caps, err := p.capabilities(ctx, b)
	if err != nil {
		return nil, p.decorateErr(err)
	}

	oc, err := p.acquireConn(ctx, b, input.Database)
	if err != nil {
		return nil, p.decorateErr(err)
	}
	defer oc.Close()

	tables, err := p.scanTableList(ctx, b, oc, caps)
	if err != nil {
		return nil, p.decorateErr(err)
	}

	for i, t := range tables {
		enhanced, err := p.enhanceTable(ctx, b, oc, caps, t)
		if err != nil {
			return nil, p.decorateErr(err)
		}
		tables[i] = enhanced
	}

	p.logger.Info().
		Int("table_count", len(tables)).
		Dur("duration", time.Since(startTime)).
		Msg("list tables")
	return &ListTablesOutput{Tables: tables}, nil
}

func (p *MssqlMcp) scanTableList(ctx context.Context, b timeout.Budget, oc *operationConn, caps capability.Descriptor) ([]TableInfo, error) {
	grant, err := b.Effective(0)
	if err != nil {
		return nil, err
	}
	qctx, cancel := context.WithTimeout(ctx, grant.Timeout)
	defer cancel()

	rows, err := oc.conn.QueryContext(qctx, querybuild.TableListQuery(caps))
	if err != nil {
		return nil, wrapStatementErr(err, grant, b)
	}
	defer rows.Close()

	tables := []TableInfo{}
	for rows.Next() {
		var t TableInfo
		var scanErr error
		if caps.SupportsTemporalTables {
			scanErr = rows.Scan(&t.Schema, &t.Name, &t.Type, &t.CreatedAt, &t.TemporalType)
		} else {
			scanErr = rows.Scan(&t.Schema, &t.Name, &t.Type, &t.CreatedAt)
		}
		if scanErr != nil {
			return nil, sqlerr.Wrap(sqlerr.KindQueryExecution, scanErr)
		}
		tables = append(tables, t)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStatementErr(err, grant, b)
	}
	return tables, nil
}

// enhanceTable runs the per-table statistics queries the capability tier
// supports. Statistics failures for a single table are logged and skipped;
// budget exhaustion is the only error that propagates.
func (p *MssqlMcp) enhanceTable(ctx context.Context, b timeout.Budget, oc *operationConn, caps capability.Descriptor, t TableInfo) (TableInfo, error) {
	qualified := t.Schema + "." + t.Name

	if caps.SupportsExactRowCount {
		rcQuery, err := querybuild.RowCountQuery(caps)
		if err != nil {
			return t, err
		}
		var n int64
		switch err := p.scalarQuery(ctx, b, oc, rcQuery, qualified, &n); {
		case err == nil:
			t = t.WithRowCount(n)
		case sqlerr.Is(err, sqlerr.KindTimeoutExceeded):
			return t, err
		default:
			p.logger.Warn().Err(err).Str("table", qualified).Msg("row count unavailable")
		}

		szQuery, err := querybuild.TableSizeQuery(caps)
		if err != nil {
			return t, err
		}
		var kb int64
		switch err := p.scalarQuery(ctx, b, oc, szQuery, qualified, &kb); {
		case err == nil:
			t = t.WithSizeKB(kb)
		case sqlerr.Is(err, sqlerr.KindTimeoutExceeded):
			return t, err
		default:
			p.logger.Warn().Err(err).Str("table", qualified).Msg("table size unavailable")
		}
	}

	if caps.SupportsDetailedIndexMetadata {
		icQuery, err := querybuild.IndexCountQuery(caps)
		if err != nil {
			return t, err
		}
		var n int
		switch err := p.scalarQuery(ctx, b, oc, icQuery, qualified, &n); {
		case err == nil:
			t = t.WithIndexCount(n)
		case sqlerr.Is(err, sqlerr.KindTimeoutExceeded):
			return t, err
		default:
			p.logger.Warn().Err(err).Str("table", qualified).Msg("index count unavailable")
		}
	}

	return t, nil
}

// scalarQuery runs a single-value query with @p1 bound to the qualified
// object name, under a fresh per-statement budget check.
func (p *MssqlMcp) scalarQuery(ctx context.Context, b timeout.Budget, oc *operationConn, query, qualified string, dest any) error {
	grant, err := b.Effective(0)
	if err != nil {
		return err
	}
	qctx, cancel := context.WithTimeout(ctx, grant.Timeout)
	defer cancel()

	if err := oc.conn.QueryRowContext(qctx, query, sql.Named("p1", qualified)).Scan(dest); err != nil {
		return wrapStatementErr(err, grant, b)
	}
	return nil
}

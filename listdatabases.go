package msmcp

import (
	"context"
	"database/sql"
	"time"

	"github.com/sqlctx/mssql-mcp/internal/querybuild"
	"github.com/sqlctx/mssql-mcp/internal/sqlerr"
)

// ListDatabases returns every database on the target server with its state
// and compatibility level. Total file size is included when the capability
// tier supports it. The statement always runs against the connection's
// default catalog; sys.databases is server-wide.
func (p *MssqlMcp) ListDatabases(ctx context.Context) (*ListDatabasesOutput, error) {
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

	oc, err := p.acquireConn(ctx, b, "")
	if err != nil {
		return nil, p.decorateErr(err)
	}
	defer oc.Close()

	grant, err := b.Effective(0)
	if err != nil {
		return nil, err
	}
	qctx, cancel := context.WithTimeout(ctx, grant.Timeout)
	defer cancel()

	rows, err := oc.conn.QueryContext(qctx, querybuild.DatabaseListQuery(caps))
	if err != nil {
		return nil, p.decorateErr(wrapStatementErr(err, grant, b))
	}
	defer rows.Close()

	out := &ListDatabasesOutput{Databases: []DatabaseInfo{}}
	for rows.Next() {
		var d DatabaseInfo
		var scanErr error
		if caps.SupportsExactRowCount {
			var sizeKB sql.NullInt64
			scanErr = rows.Scan(&d.Name, &d.State, &d.CreatedAt, &d.CompatibilityLevel, &sizeKB)
			if scanErr == nil && sizeKB.Valid {
				d = d.WithSizeKB(sizeKB.Int64)
			}
		} else {
			scanErr = rows.Scan(&d.Name, &d.State, &d.CreatedAt, &d.CompatibilityLevel)
		}
		if scanErr != nil {
			return nil, p.decorateErr(sqlerr.Wrap(sqlerr.KindQueryExecution, scanErr))
		}
		out.Databases = append(out.Databases, d)
	}
	if err := rows.Err(); err != nil {
		return nil, p.decorateErr(wrapStatementErr(err, grant, b))
	}

	p.logger.Info().
		Int("database_count", len(out.Databases)).
		Dur("duration", time.Since(startTime)).
		Msg("list databases")
	return out, nil
}

package msmcp

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/sqlctx/mssql-mcp/internal/capability"
	"github.com/sqlctx/mssql-mcp/internal/querybuild"
	"github.com/sqlctx/mssql-mcp/internal/sqlerr"
	"github.com/sqlctx/mssql-mcp/internal/timeout"
)

// GetTableSchema returns columns, indexes, and foreign keys for one table.
// The table name may be schema-qualified; the schema defaults to dbo. Index
// filter metadata appears only on servers that expose it.
func (p *MssqlMcp) GetTableSchema(ctx context.Context, input GetTableSchemaInput) (*TableSchema, error) {
	startTime := time.Now()

	name := strings.TrimSpace(input.Table)
	if name == "" {
		return nil, sqlerr.New(sqlerr.KindValidation, "table name must not be empty")
	}
	if !procIdentRe.MatchString(name) {
		return nil, sqlerr.New(sqlerr.KindValidation, "invalid table name %q", name)
	}
	schema, bare := splitTableName(name)
	qualified := schema + "." + bare

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

	if err := p.verifyTableExists(ctx, b, oc, qualified); err != nil {
		return nil, p.decorateErr(err)
	}

	out := &TableSchema{Schema: schema, Name: bare}
	if out.Columns, err = p.scanColumns(ctx, b, oc, schema, bare); err != nil {
		return nil, p.decorateErr(err)
	}
	if out.Indexes, err = p.scanIndexes(ctx, b, oc, caps, qualified); err != nil {
		return nil, p.decorateErr(err)
	}
	if out.ForeignKeys, err = p.scanForeignKeys(ctx, b, oc, qualified); err != nil {
		return nil, p.decorateErr(err)
	}

	p.logger.Info().
		Str("table", qualified).
		Int("column_count", len(out.Columns)).
		Dur("duration", time.Since(startTime)).
		Msg("get table schema")
	return out, nil
}

func (p *MssqlMcp) verifyTableExists(ctx context.Context, b timeout.Budget, oc *operationConn, qualified string) error {
	grant, err := b.Effective(0)
	if err != nil {
		return err
	}
	qctx, cancel := context.WithTimeout(ctx, grant.Timeout)
	defer cancel()

	var found int
	err = oc.conn.QueryRowContext(qctx, querybuild.TableExistsQuery,
		sql.Named("p1", qualified)).Scan(&found)
	if err != nil {
		return wrapStatementErr(err, grant, b)
	}
	if found == 0 {
		return sqlerr.New(sqlerr.KindObjectNotFound, "table '%s' not found", qualified)
	}
	return nil
}

func (p *MssqlMcp) scanColumns(ctx context.Context, b timeout.Budget, oc *operationConn, schema, table string) ([]ColumnInfo, error) {
	grant, err := b.Effective(0)
	if err != nil {
		return nil, err
	}
	qctx, cancel := context.WithTimeout(ctx, grant.Timeout)
	defer cancel()

	rows, err := oc.conn.QueryContext(qctx, querybuild.ColumnListQuery,
		sql.Named("p1", schema), sql.Named("p2", table))
	if err != nil {
		return nil, wrapStatementErr(err, grant, b)
	}
	defer rows.Close()

	cols := []ColumnInfo{}
	for rows.Next() {
		var c ColumnInfo
		if err := rows.Scan(&c.Name, &c.Type, &c.Nullable, &c.Default, &c.IsPrimaryKey); err != nil {
			return nil, sqlerr.Wrap(sqlerr.KindQueryExecution, err)
		}
		cols = append(cols, c)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStatementErr(err, grant, b)
	}
	return cols, nil
}

func (p *MssqlMcp) scanIndexes(ctx context.Context, b timeout.Budget, oc *operationConn, caps capability.Descriptor, qualified string) ([]IndexInfo, error) {
	grant, err := b.Effective(0)
	if err != nil {
		return nil, err
	}
	qctx, cancel := context.WithTimeout(ctx, grant.Timeout)
	defer cancel()

	rows, err := oc.conn.QueryContext(qctx, querybuild.IndexListQuery(caps),
		sql.Named("p1", qualified))
	if err != nil {
		return nil, wrapStatementErr(err, grant, b)
	}
	defer rows.Close()

	indexes := []IndexInfo{}
	for rows.Next() {
		var ix IndexInfo
		var scanErr error
		if caps.SupportsDetailedIndexMetadata {
			var fillFactor int
			var hasFilter bool
			var filterDef string
			scanErr = rows.Scan(&ix.Name, &ix.Type, &ix.IsUnique, &ix.IsPrimary,
				&fillFactor, &hasFilter, &filterDef)
			if scanErr == nil {
				ix.FillFactor = &fillFactor
				ix.HasFilter = &hasFilter
				ix.FilterDefinition = &filterDef
			}
		} else {
			scanErr = rows.Scan(&ix.Name, &ix.Type, &ix.IsUnique, &ix.IsPrimary)
		}
		if scanErr != nil {
			return nil, sqlerr.Wrap(sqlerr.KindQueryExecution, scanErr)
		}
		indexes = append(indexes, ix)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStatementErr(err, grant, b)
	}
	return indexes, nil
}

// scanForeignKeys merges the per-column result rows into one ForeignKeyInfo
// per constraint, preserving the key column order.
func (p *MssqlMcp) scanForeignKeys(ctx context.Context, b timeout.Budget, oc *operationConn, qualified string) ([]ForeignKeyInfo, error) {
	grant, err := b.Effective(0)
	if err != nil {
		return nil, err
	}
	qctx, cancel := context.WithTimeout(ctx, grant.Timeout)
	defer cancel()

	rows, err := oc.conn.QueryContext(qctx, querybuild.ForeignKeyListQuery,
		sql.Named("p1", qualified))
	if err != nil {
		return nil, wrapStatementErr(err, grant, b)
	}
	defer rows.Close()

	fks := []ForeignKeyInfo{}
	for rows.Next() {
		var fkName, column, refSchema, refTable, refColumn, onUpdate, onDelete string
		if err := rows.Scan(&fkName, &column, &refSchema, &refTable, &refColumn, &onUpdate, &onDelete); err != nil {
			return nil, sqlerr.Wrap(sqlerr.KindQueryExecution, err)
		}
		if n := len(fks); n > 0 && fks[n-1].Name == fkName {
			fks[n-1].Columns += ", " + column
			fks[n-1].ReferencedColumns += ", " + refColumn
			continue
		}
		fks = append(fks, ForeignKeyInfo{
			Name:              fkName,
			Columns:           column,
			ReferencedTable:   refSchema + "." + refTable,
			ReferencedColumns: refColumn,
			OnUpdate:          onUpdate,
			OnDelete:          onDelete,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStatementErr(err, grant, b)
	}
	return fks, nil
}

// splitTableName splits "schema.table", defaulting the schema to dbo.
func splitTableName(name string) (schema, table string) {
	if i := strings.IndexByte(name, '.'); i >= 0 {
		return name[:i], name[i+1:]
	}
	return "dbo", name
}

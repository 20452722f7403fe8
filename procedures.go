package msmcp

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/sqlctx/mssql-mcp/internal/querybuild"
	"github.com/sqlctx/mssql-mcp/internal/sqlerr"
	"github.com/sqlctx/mssql-mcp/internal/timeout"
)

// verifyProcedureExists checks sys.procedures before we build an EXEC
// statement, so a typo surfaces as a not-found error rather than a raw
// server message.
func (p *MssqlMcp) verifyProcedureExists(ctx context.Context, b timeout.Budget, oc *operationConn, qualified string) error {
	grant, err := b.Effective(0)
	if err != nil {
		return err
	}
	qctx, cancel := context.WithTimeout(ctx, grant.Timeout)
	defer cancel()

	var found int
	err = oc.conn.QueryRowContext(qctx, querybuild.ProcedureExistsQuery,
		sql.Named("p1", qualified)).Scan(&found)
	if err != nil {
		return wrapStatementErr(err, grant, b)
	}
	if found == 0 {
		return sqlerr.New(sqlerr.KindObjectNotFound, "stored procedure '%s' not found", qualified)
	}
	return nil
}

// ListStoredProcedures returns every stored procedure visible in the target
// database, ordered by schema then name.
func (p *MssqlMcp) ListStoredProcedures(ctx context.Context, input ListProceduresInput) (*ListProceduresOutput, error) {
	startTime := time.Now()

	release, err := p.acquireSlot(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	b := p.newBudget()
	oc, err := p.acquireConn(ctx, b, input.Database)
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

	rows, err := oc.conn.QueryContext(qctx, querybuild.ProcedureListQuery)
	if err != nil {
		return nil, p.decorateErr(wrapStatementErr(err, grant, b))
	}
	defer rows.Close()

	out := &ListProceduresOutput{Procedures: []StoredProcedureInfo{}}
	for rows.Next() {
		var sp StoredProcedureInfo
		if err := rows.Scan(&sp.Schema, &sp.Name, &sp.CreatedAt, &sp.ModifiedAt); err != nil {
			return nil, p.decorateErr(sqlerr.Wrap(sqlerr.KindQueryExecution, err))
		}
		out.Procedures = append(out.Procedures, sp)
	}
	if err := rows.Err(); err != nil {
		return nil, p.decorateErr(wrapStatementErr(err, grant, b))
	}

	p.logger.Info().
		Int("procedure_count", len(out.Procedures)).
		Dur("duration", time.Since(startTime)).
		Msg("list stored procedures")
	return out, nil
}

// GetStoredProcedureDefinition fetches the T-SQL source of a stored
// procedure. Encrypted procedures have a NULL OBJECT_DEFINITION, which is
// reported as a permission error rather than an empty body.
func (p *MssqlMcp) GetStoredProcedureDefinition(ctx context.Context, input GetProcedureDefinitionInput) (*ProcedureDefinition, error) {
	name := strings.TrimSpace(input.Procedure)
	if name == "" {
		return nil, sqlerr.New(sqlerr.KindValidation, "procedure name must not be empty")
	}
	if !procIdentRe.MatchString(name) {
		return nil, sqlerr.New(sqlerr.KindValidation, "invalid procedure name %q", name)
	}

	release, err := p.acquireSlot(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	b := p.newBudget()
	oc, err := p.acquireConn(ctx, b, input.Database)
	if err != nil {
		return nil, p.decorateErr(err)
	}
	defer oc.Close()

	qualified := qualifyObjectName(name)
	if err := p.verifyProcedureExists(ctx, b, oc, qualified); err != nil {
		return nil, p.decorateErr(err)
	}

	grant, err := b.Effective(0)
	if err != nil {
		return nil, err
	}
	qctx, cancel := context.WithTimeout(ctx, grant.Timeout)
	defer cancel()

	var definition sql.NullString
	err = oc.conn.QueryRowContext(qctx, querybuild.ProcedureDefinitionQuery,
		sql.Named("p1", qualified)).Scan(&definition)
	if err != nil {
		return nil, p.decorateErr(wrapStatementErr(err, grant, b))
	}
	if !definition.Valid {
		return nil, p.decorateErr(sqlerr.New(sqlerr.KindPermissionDenied,
			"definition of stored procedure '%s' is not available; it may be encrypted", qualified))
	}

	return &ProcedureDefinition{
		Procedure:  qualified,
		Definition: definition.String,
	}, nil
}

package msmcp

import (
	"context"
	"database/sql"
	"encoding/base64"
	"time"

	"github.com/sqlctx/mssql-mcp/internal/sanitize"
	"github.com/sqlctx/mssql-mcp/internal/timeout"
)

// ResultReader is an owning handle over one live connection and one open
// cursor. It produces a lazy, single-pass, non-restartable sequence of rows.
// Closing it restores the connection's database context and releases the
// connection; a reader that is never closed leaks its connection and its
// operation slot by design.
//
// Not safe for concurrent use.
type ResultReader struct {
	rows    *sql.Rows
	columns []string
	conn    *operationConn
	cancel  context.CancelFunc
	release func()
	san     *sanitize.Sanitizer
	grant   timeout.Grant
	budget  timeout.Budget

	current map[string]any
	err     error
	closed  bool
}

func newResultReader(rows *sql.Rows, conn *operationConn, cancel context.CancelFunc, release func(), san *sanitize.Sanitizer, grant timeout.Grant, budget timeout.Budget) (*ResultReader, error) {
	columns, err := rows.Columns()
	if err != nil {
		rows.Close()
		return nil, wrapStatementErr(err, grant, budget)
	}
	return &ResultReader{
		rows:    rows,
		columns: columns,
		conn:    conn,
		cancel:  cancel,
		release: release,
		san:     san,
		grant:   grant,
		budget:  budget,
	}, nil
}

// Columns returns the result column names in select order.
func (r *ResultReader) Columns() []string {
	return r.columns
}

// Next fetches the next row. It returns false at the end of the result set
// or on error; check Err after a false return.
func (r *ResultReader) Next() bool {
	if r.err != nil || r.closed {
		return false
	}
	if !r.rows.Next() {
		if err := r.rows.Err(); err != nil {
			r.err = wrapStatementErr(err, r.grant, r.budget)
		}
		return false
	}

	values := make([]any, len(r.columns))
	ptrs := make([]any, len(r.columns))
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := r.rows.Scan(ptrs...); err != nil {
		r.err = wrapStatementErr(err, r.grant, r.budget)
		return false
	}

	row := make(map[string]any, len(r.columns))
	for i, col := range r.columns {
		row[col] = convertValue(values[i])
	}
	r.current = r.san.ApplyRow(row)
	return true
}

// Row returns the row fetched by the last successful Next. The map is owned
// by the caller; the reader does not reuse it.
func (r *ResultReader) Row() map[string]any {
	return r.current
}

// Err returns the first error encountered while streaming, if any.
func (r *ResultReader) Err() error {
	return r.err
}

// Close drains nothing: it closes the cursor, restores the connection's
// original database context, releases the connection, and frees the
// operation slot. Idempotent.
func (r *ResultReader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true

	r.rows.Close()
	err := r.conn.Close()
	r.cancel()
	r.release()
	return err
}

// convertValue normalizes a driver value into a JSON-friendly Go type.
// database/sql hands over int64/float64/bool/string/[]byte/time.Time.
func convertValue(v any) any {
	switch val := v.(type) {
	case nil:
		return nil
	case time.Time:
		return val.Format(time.RFC3339Nano)
	case []byte:
		// varbinary, uniqueidentifier read untyped, etc.
		return base64.StdEncoding.EncodeToString(val)
	default:
		return val
	}
}

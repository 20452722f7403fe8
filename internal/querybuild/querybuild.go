// Package querybuild produces capability-gated T-SQL for the engine's
// catalog and introspection queries. Every builder is a pure function over
// a capability.Descriptor: optional columns appear if and only if the gating
// flag is set — capability is never inferred from a failed query.
package querybuild

import (
	"strings"

	"github.com/sqlctx/mssql-mcp/internal/capability"
	"github.com/sqlctx/mssql-mcp/internal/sqlerr"
)

// Fixed statements shared by every capability tier.
const (
	// CurrentDatabaseQuery returns the connection's active catalog.
	CurrentDatabaseQuery = `SELECT DB_NAME()`

	// DatabaseStateQuery returns the state of one database by name.
	DatabaseStateQuery = `SELECT state_desc FROM sys.databases WHERE name = @p1`

	// ProcedureExistsQuery returns 1 if the named stored procedure exists.
	ProcedureExistsQuery = `SELECT CASE WHEN OBJECT_ID(@p1, 'P') IS NULL THEN 0 ELSE 1 END`

	// ProcedureDefinitionQuery returns the procedure source, or NULL when
	// the definition is encrypted or unreadable by the current principal.
	ProcedureDefinitionQuery = `SELECT OBJECT_DEFINITION(OBJECT_ID(@p1, 'P'))`

	// TableExistsQuery returns 1 if the named table or view exists.
	TableExistsQuery = `SELECT CASE WHEN OBJECT_ID(@p1) IS NULL THEN 0 ELSE 1 END`
)

// TableListQuery lists user tables with schema, type, and creation date.
// Temporal columns are included only when the server supports system-versioned
// temporal tables.
func TableListQuery(d capability.Descriptor) string {
	var b strings.Builder
	b.WriteString(`SELECT
    s.name AS schema_name,
    t.name AS table_name,
    t.type_desc AS type_desc,
    t.create_date AS create_date`)
	if d.SupportsTemporalTables {
		b.WriteString(`,
    t.temporal_type_desc AS temporal_type_desc`)
	}
	b.WriteString(`
FROM sys.tables t
JOIN sys.schemas s ON s.schema_id = t.schema_id
ORDER BY s.name, t.name`)
	return b.String()
}

// DatabaseListQuery lists databases with state and compatibility level.
// The total size column requires sys.dm_db_partition_stats-era DMVs and is
// gated by the exact-row-count flag.
func DatabaseListQuery(d capability.Descriptor) string {
	var b strings.Builder
	b.WriteString(`SELECT
    d.name AS name,
    d.state_desc AS state_desc,
    d.create_date AS create_date,
    d.compatibility_level AS compatibility_level`)
	if d.SupportsExactRowCount {
		b.WriteString(`,
    (SELECT SUM(CAST(mf.size AS bigint)) * 8
     FROM sys.master_files mf
     WHERE mf.database_id = d.database_id) AS size_kb`)
	}
	b.WriteString(`
FROM sys.databases d
ORDER BY d.name`)
	return b.String()
}

// ColumnListQuery lists columns with a primary-key flag for one table.
// Parameters: @p1 = schema name, @p2 = table name.
const ColumnListQuery = `SELECT
    c.COLUMN_NAME AS name,
    c.DATA_TYPE AS type,
    CASE c.IS_NULLABLE WHEN 'YES' THEN 1 ELSE 0 END AS nullable,
    ISNULL(c.COLUMN_DEFAULT, '') AS default_val,
    CASE WHEN pk.COLUMN_NAME IS NOT NULL THEN 1 ELSE 0 END AS is_primary_key
FROM INFORMATION_SCHEMA.COLUMNS c
LEFT JOIN (
    SELECT kcu.COLUMN_NAME
    FROM INFORMATION_SCHEMA.TABLE_CONSTRAINTS tc
    JOIN INFORMATION_SCHEMA.KEY_COLUMN_USAGE kcu
        ON tc.CONSTRAINT_NAME = kcu.CONSTRAINT_NAME
        AND tc.TABLE_SCHEMA = kcu.TABLE_SCHEMA
    WHERE tc.CONSTRAINT_TYPE = 'PRIMARY KEY'
        AND tc.TABLE_SCHEMA = @p1
        AND tc.TABLE_NAME = @p2
) pk ON pk.COLUMN_NAME = c.COLUMN_NAME
WHERE c.TABLE_SCHEMA = @p1
    AND c.TABLE_NAME = @p2
ORDER BY c.ORDINAL_POSITION`

// IndexListQuery lists indexes for one table (@p1 = qualified table name).
// Filter metadata columns require the detailed-index-metadata capability.
func IndexListQuery(d capability.Descriptor) string {
	var b strings.Builder
	b.WriteString(`SELECT
    i.name AS name,
    i.type_desc AS type_desc,
    i.is_unique AS is_unique,
    i.is_primary_key AS is_primary_key`)
	if d.SupportsDetailedIndexMetadata {
		b.WriteString(`,
    i.fill_factor AS fill_factor,
    i.has_filter AS has_filter,
    ISNULL(i.filter_definition, '') AS filter_definition`)
	}
	b.WriteString(`
FROM sys.indexes i
WHERE i.object_id = OBJECT_ID(@p1)
  AND i.type > 0
ORDER BY i.name`)
	return b.String()
}

// ForeignKeyListQuery lists foreign keys, one row per constrained column
// (@p1 = qualified table name); the caller merges rows per constraint.
const ForeignKeyListQuery = `SELECT
    fk.name AS name,
    pc.name AS column_name,
    rs.name AS referenced_schema,
    rt.name AS referenced_table,
    rc.name AS referenced_column,
    fk.update_referential_action_desc AS on_update,
    fk.delete_referential_action_desc AS on_delete
FROM sys.foreign_keys fk
JOIN sys.foreign_key_columns fkc ON fkc.constraint_object_id = fk.object_id
JOIN sys.columns pc ON pc.object_id = fkc.parent_object_id AND pc.column_id = fkc.parent_column_id
JOIN sys.columns rc ON rc.object_id = fkc.referenced_object_id AND rc.column_id = fkc.referenced_column_id
JOIN sys.tables rt ON rt.object_id = fk.referenced_object_id
JOIN sys.schemas rs ON rs.schema_id = rt.schema_id
WHERE fk.parent_object_id = OBJECT_ID(@p1)
ORDER BY fk.name, fkc.constraint_column_id`

// ProcedureListQuery lists user stored procedures.
const ProcedureListQuery = `SELECT
    s.name AS schema_name,
    p.name AS procedure_name,
    p.create_date AS create_date,
    p.modify_date AS modify_date
FROM sys.procedures p
JOIN sys.schemas s ON s.schema_id = p.schema_id
WHERE p.is_ms_shipped = 0
ORDER BY s.name, p.name`

// RowCountQuery returns the exact-row-count enhancement query
// (@p1 = qualified table name). Fails with CapabilityUnsupported below the
// required server version.
func RowCountQuery(d capability.Descriptor) (string, error) {
	if !d.SupportsExactRowCount {
		return "", sqlerr.New(sqlerr.KindCapabilityUnsupported,
			"exact row counts require SQL Server major version 10 or later (detected %d)", d.MajorVersion)
	}
	return `SELECT ISNULL(SUM(ps.row_count), 0)
FROM sys.dm_db_partition_stats ps
WHERE ps.object_id = OBJECT_ID(@p1)
  AND ps.index_id IN (0, 1)`, nil
}

// TableSizeQuery returns the used-space enhancement query in KB
// (@p1 = qualified table name). Gated with RowCountQuery: both read
// sys.dm_db_partition_stats.
func TableSizeQuery(d capability.Descriptor) (string, error) {
	if !d.SupportsExactRowCount {
		return "", sqlerr.New(sqlerr.KindCapabilityUnsupported,
			"table size statistics require SQL Server major version 10 or later (detected %d)", d.MajorVersion)
	}
	return `SELECT ISNULL(SUM(ps.used_page_count), 0) * 8
FROM sys.dm_db_partition_stats ps
WHERE ps.object_id = OBJECT_ID(@p1)`, nil
}

// IndexCountQuery returns the per-table index count enhancement query
// (@p1 = qualified table name). Requires detailed index metadata support.
func IndexCountQuery(d capability.Descriptor) (string, error) {
	if !d.SupportsDetailedIndexMetadata {
		return "", sqlerr.New(sqlerr.KindCapabilityUnsupported,
			"index statistics require SQL Server major version 11 or later (detected %d)", d.MajorVersion)
	}
	return `SELECT COUNT(*)
FROM sys.indexes i
WHERE i.object_id = OBJECT_ID(@p1)
  AND i.type > 0`, nil
}

package msmcp

import "time"

// ExecuteQueryInput is the input for the ExecuteQuery operation.
type ExecuteQueryInput struct {
	SQL            string `json:"sql"`
	Database       string `json:"database,omitempty"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty"`
}

// ExecuteProcedureInput is the input for the ExecuteStoredProcedure
// operation. Parameters are passed as named T-SQL parameters.
type ExecuteProcedureInput struct {
	Procedure      string         `json:"procedure"`
	Parameters     map[string]any `json:"parameters,omitempty"`
	Database       string         `json:"database,omitempty"`
	TimeoutSeconds int            `json:"timeout_seconds,omitempty"`
}

// ListTablesInput is the input for the ListTables operation.
type ListTablesInput struct {
	Database string `json:"database,omitempty"`
}

// TableInfo describes one user table. It is an immutable value: the
// enhancement pass derives new values via the With* constructors instead of
// mutating in place. Fields gated by an unsupported capability are nil and
// omitted from JSON rather than defaulted to misleading zeroes.
type TableInfo struct {
	Schema       string    `json:"schema"`
	Name         string    `json:"name"`
	Type         string    `json:"type"`
	CreatedAt    time.Time `json:"created_at"`
	TemporalType string    `json:"temporal_type,omitempty"`
	RowCount     *int64    `json:"row_count,omitempty"`
	SizeKB       *int64    `json:"size_kb,omitempty"`
	IndexCount   *int      `json:"index_count,omitempty"`
}

// WithRowCount returns a copy with the exact row count set.
func (t TableInfo) WithRowCount(n int64) TableInfo {
	t.RowCount = &n
	return t
}

// WithSizeKB returns a copy with the used space set.
func (t TableInfo) WithSizeKB(kb int64) TableInfo {
	t.SizeKB = &kb
	return t
}

// WithIndexCount returns a copy with the index count set.
func (t TableInfo) WithIndexCount(n int) TableInfo {
	t.IndexCount = &n
	return t
}

// ListTablesOutput is the output of the ListTables operation.
type ListTablesOutput struct {
	Tables []TableInfo `json:"tables"`
}

// DatabaseInfo describes one database on the target server.
type DatabaseInfo struct {
	Name               string    `json:"name"`
	State              string    `json:"state"`
	CreatedAt          time.Time `json:"created_at"`
	CompatibilityLevel int       `json:"compatibility_level"`
	SizeKB             *int64    `json:"size_kb,omitempty"`
}

// WithSizeKB returns a copy with the total file size set.
func (d DatabaseInfo) WithSizeKB(kb int64) DatabaseInfo {
	d.SizeKB = &kb
	return d
}

// ListDatabasesOutput is the output of the ListDatabases operation.
type ListDatabasesOutput struct {
	Databases []DatabaseInfo `json:"databases"`
}

// GetTableSchemaInput is the input for the GetTableSchema operation.
// Table may be schema-qualified ("sales.orders"); the schema defaults to dbo.
type GetTableSchemaInput struct {
	Table    string `json:"table"`
	Database string `json:"database,omitempty"`
}

// ColumnInfo describes a single column.
type ColumnInfo struct {
	Name         string `json:"name"`
	Type         string `json:"type"`
	Nullable     bool   `json:"nullable"`
	Default      string `json:"default,omitempty"`
	IsPrimaryKey bool   `json:"is_primary_key"`
}

// IndexInfo describes a single index. Filter metadata is only present when
// the server supports detailed index metadata.
type IndexInfo struct {
	Name             string  `json:"name"`
	Type             string  `json:"type"`
	IsUnique         bool    `json:"is_unique"`
	IsPrimary        bool    `json:"is_primary"`
	FillFactor       *int    `json:"fill_factor,omitempty"`
	HasFilter        *bool   `json:"has_filter,omitempty"`
	FilterDefinition *string `json:"filter_definition,omitempty"`
}

// ForeignKeyInfo describes a single foreign key.
type ForeignKeyInfo struct {
	Name              string `json:"name"`
	Columns           string `json:"columns"`
	ReferencedTable   string `json:"referenced_table"`
	ReferencedColumns string `json:"referenced_columns"`
	OnUpdate          string `json:"on_update"`
	OnDelete          string `json:"on_delete"`
}

// TableSchema is the output of the GetTableSchema operation.
type TableSchema struct {
	Schema      string           `json:"schema"`
	Name        string           `json:"name"`
	Columns     []ColumnInfo     `json:"columns"`
	Indexes     []IndexInfo      `json:"indexes"`
	ForeignKeys []ForeignKeyInfo `json:"foreign_keys"`
}

// ListProceduresInput is the input for the ListStoredProcedures operation.
type ListProceduresInput struct {
	Database string `json:"database,omitempty"`
}

// StoredProcedureInfo describes one user stored procedure.
type StoredProcedureInfo struct {
	Schema     string    `json:"schema"`
	Name       string    `json:"name"`
	CreatedAt  time.Time `json:"created_at"`
	ModifiedAt time.Time `json:"modified_at"`
}

// ListProceduresOutput is the output of the ListStoredProcedures operation.
type ListProceduresOutput struct {
	Procedures []StoredProcedureInfo `json:"procedures"`
}

// GetProcedureDefinitionInput is the input for GetStoredProcedureDefinition.
type GetProcedureDefinitionInput struct {
	Procedure string `json:"procedure"`
	Database  string `json:"database,omitempty"`
}

// ProcedureDefinition is the output of GetStoredProcedureDefinition.
type ProcedureDefinition struct {
	Procedure  string `json:"procedure"`
	Definition string `json:"definition"`
}

// StartQueryInput is the input for the StartQuery operation.
type StartQueryInput struct {
	SQL            string `json:"sql"`
	Database       string `json:"database,omitempty"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty"`
}

// StartProcedureInput is the input for the StartStoredProcedure operation.
type StartProcedureInput struct {
	Procedure      string         `json:"procedure"`
	Parameters     map[string]any `json:"parameters,omitempty"`
	Database       string         `json:"database,omitempty"`
	TimeoutSeconds int            `json:"timeout_seconds,omitempty"`
}

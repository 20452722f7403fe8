package msmcp_test

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	msmcp "github.com/sqlctx/mssql-mcp"
)

func TestGetTableSchemaValidation(t *testing.T) {
	t.Parallel()
	m, mock := newMockInstance(t, defaultConfig(), "appdb")

	for _, name := range []string{"", "  ", "orders; DROP TABLE x", "a.b.c"} {
		_, err := m.GetTableSchema(context.Background(), msmcp.GetTableSchemaInput{Table: name})
		expectKind(t, err, msmcp.KindValidation)
	}
	verifyExpectations(t, mock)
}

func TestGetTableSchemaNotFound(t *testing.T) {
	t.Parallel()
	m, mock := newMockInstance(t, defaultConfig(), "appdb")

	expectCapabilityProbe(mock, "16.0.1000.6", 3)
	mock.ExpectQuery("OBJECT_ID").
		WillReturnRows(sqlmock.NewRows([]string{"found"}).AddRow(0))

	_, err := m.GetTableSchema(context.Background(), msmcp.GetTableSchemaInput{Table: "ghost"})
	expectKind(t, err, msmcp.KindObjectNotFound)
	verifyExpectations(t, mock)
}

func TestGetTableSchemaFullMetadata(t *testing.T) {
	t.Parallel()
	m, mock := newMockInstance(t, defaultConfig(), "appdb")

	expectCapabilityProbe(mock, "16.0.1000.6", 3)
	mock.ExpectQuery("OBJECT_ID").
		WillReturnRows(sqlmock.NewRows([]string{"found"}).AddRow(1))
	mock.ExpectQuery("INFORMATION_SCHEMA.COLUMNS").
		WithArgs("sales", "orders").
		WillReturnRows(sqlmock.NewRows([]string{"name", "type", "nullable", "default_val", "is_primary_key"}).
			AddRow("id", "int", false, "", true).
			AddRow("note", "nvarchar", true, "('')", false))
	mock.ExpectQuery("FROM sys.indexes").
		WillReturnRows(sqlmock.NewRows([]string{"name", "type_desc", "is_unique", "is_primary_key", "fill_factor", "has_filter", "filter_definition"}).
			AddRow("PK_orders", "CLUSTERED", true, true, 0, false, "").
			AddRow("IX_orders_open", "NONCLUSTERED", false, false, 80, true, "([status]='open')"))
	mock.ExpectQuery("FROM sys.foreign_keys").
		WillReturnRows(sqlmock.NewRows([]string{"name", "column_name", "referenced_schema", "referenced_table", "referenced_column", "on_update", "on_delete"}).
			AddRow("FK_orders_customers", "customer_id", "dbo", "customers", "id", "NO_ACTION", "CASCADE").
			AddRow("FK_orders_regions", "region_code", "dbo", "regions", "code", "NO_ACTION", "NO_ACTION").
			AddRow("FK_orders_regions", "region_country", "dbo", "regions", "country", "NO_ACTION", "NO_ACTION"))

	out, err := m.GetTableSchema(context.Background(), msmcp.GetTableSchemaInput{Table: "sales.orders"})
	if err != nil {
		t.Fatalf("GetTableSchema failed: %v", err)
	}
	if out.Schema != "sales" || out.Name != "orders" {
		t.Errorf("unexpected identity: %s.%s", out.Schema, out.Name)
	}
	if len(out.Columns) != 2 {
		t.Fatalf("got %d columns, want 2", len(out.Columns))
	}
	if !out.Columns[0].IsPrimaryKey || out.Columns[0].Name != "id" {
		t.Errorf("unexpected first column: %+v", out.Columns[0])
	}
	if !out.Columns[1].Nullable {
		t.Errorf("note should be nullable: %+v", out.Columns[1])
	}

	if len(out.Indexes) != 2 {
		t.Fatalf("got %d indexes, want 2", len(out.Indexes))
	}
	filtered := out.Indexes[1]
	if filtered.FillFactor == nil || *filtered.FillFactor != 80 {
		t.Errorf("FillFactor = %v, want 80", filtered.FillFactor)
	}
	if filtered.HasFilter == nil || !*filtered.HasFilter {
		t.Errorf("HasFilter = %v, want true", filtered.HasFilter)
	}
	if filtered.FilterDefinition == nil || *filtered.FilterDefinition != "([status]='open')" {
		t.Errorf("FilterDefinition = %v", filtered.FilterDefinition)
	}

	// Multi-column FK rows are merged into one entry per constraint.
	if len(out.ForeignKeys) != 2 {
		t.Fatalf("got %d foreign keys, want 2", len(out.ForeignKeys))
	}
	composite := out.ForeignKeys[1]
	if composite.Columns != "region_code, region_country" {
		t.Errorf("Columns = %q", composite.Columns)
	}
	if composite.ReferencedColumns != "code, country" {
		t.Errorf("ReferencedColumns = %q", composite.ReferencedColumns)
	}
	if composite.ReferencedTable != "dbo.regions" {
		t.Errorf("ReferencedTable = %q", composite.ReferencedTable)
	}
	if out.ForeignKeys[0].OnDelete != "CASCADE" {
		t.Errorf("OnDelete = %q, want CASCADE", out.ForeignKeys[0].OnDelete)
	}
	verifyExpectations(t, mock)
}

func TestGetTableSchemaLegacyIndexTier(t *testing.T) {
	t.Parallel()
	m, mock := newMockInstance(t, defaultConfig(), "appdb")

	// Major version 10: exact row counts yes, detailed index metadata no.
	expectCapabilityProbe(mock, "10.50.2500", 3)
	mock.ExpectQuery("OBJECT_ID").
		WillReturnRows(sqlmock.NewRows([]string{"found"}).AddRow(1))
	mock.ExpectQuery("INFORMATION_SCHEMA.COLUMNS").
		WithArgs("dbo", "orders").
		WillReturnRows(sqlmock.NewRows([]string{"name", "type", "nullable", "default_val", "is_primary_key"}).
			AddRow("id", "int", false, "", true))
	mock.ExpectQuery("FROM sys.indexes").
		WillReturnRows(sqlmock.NewRows([]string{"name", "type_desc", "is_unique", "is_primary_key"}).
			AddRow("PK_orders", "CLUSTERED", true, true))
	mock.ExpectQuery("FROM sys.foreign_keys").
		WillReturnRows(sqlmock.NewRows([]string{"name", "column_name", "referenced_schema", "referenced_table", "referenced_column", "on_update", "on_delete"}))

	out, err := m.GetTableSchema(context.Background(), msmcp.GetTableSchemaInput{Table: "orders"})
	if err != nil {
		t.Fatalf("GetTableSchema failed: %v", err)
	}
	ix := out.Indexes[0]
	if ix.FillFactor != nil || ix.HasFilter != nil || ix.FilterDefinition != nil {
		t.Errorf("expected no filter metadata on legacy tier, got %+v", ix)
	}
	if len(out.ForeignKeys) != 0 {
		t.Errorf("expected no foreign keys, got %d", len(out.ForeignKeys))
	}
	verifyExpectations(t, mock)
}

package msmcp_test

import (
	"context"
	"database/sql"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/rs/zerolog"
	msmcp "github.com/sqlctx/mssql-mcp"
)

// sampleTime is a fixed timestamp for catalog rows.
func sampleTime() time.Time {
	return time.Date(2024, 3, 15, 10, 30, 0, 0, time.UTC)
}

func testLogger() zerolog.Logger {
	return zerolog.New(os.Stderr).Level(zerolog.Disabled)
}

func defaultConfig() msmcp.Config {
	return msmcp.Config{
		Pool: msmcp.PoolConfig{MaxOpenConns: 5},
		Query: msmcp.QueryConfig{
			DefaultCommandTimeoutSeconds: 30,
			MaxSQLLength:                 100000,
			MaxSessionResultRows:         10000,
		},
		Tools: msmcp.ToolsConfig{
			EnableExecuteQuery:           true,
			EnableExecuteStoredProcedure: true,
			EnableStartQuery:             true,
			EnableStartStoredProcedure:   true,
		},
	}
}

// newMockInstance builds an engine over a sqlmock pool logged into
// defaultCatalog. Expectations are matched as regular expressions against
// the statement text, in order.
func newMockInstance(t *testing.T, config msmcp.Config, defaultCatalog string) (*msmcp.MssqlMcp, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	m, err := msmcp.New(context.Background(), "", config, testLogger(), msmcp.WithDB(db, defaultCatalog))
	if err != nil {
		t.Fatalf("failed to create MssqlMcp: %v", err)
	}
	t.Cleanup(func() { m.Close(context.Background()) })
	return m, mock
}

// expectCapabilityProbe queues the version probe that introspection
// operations run on first use.
func expectCapabilityProbe(mock sqlmock.Sqlmock, version string, edition int) {
	mock.ExpectQuery("SERVERPROPERTY").
		WillReturnRows(sqlmock.NewRows([]string{"version", "edition"}).AddRow(version, edition))
}

func verifyExpectations(t *testing.T, mock sqlmock.Sqlmock) {
	t.Helper()
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet sqlmock expectations: %v", err)
	}
}

// expectKind asserts err carries the given engine error kind.
func expectKind(t *testing.T, err error, kind msmcp.ErrorKind) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error of kind %v, got nil", kind)
	}
	if got := msmcp.ErrorKindOf(err); got != kind {
		t.Fatalf("expected error kind %v, got %v (error: %v)", kind, got, err)
	}
}

// expectPanic calls f and asserts that it panics with a message containing substr.
func expectPanic(t *testing.T, substr string, f func()) {
	t.Helper()
	defer func() {
		r := recover()
		if r == nil {
			t.Fatalf("expected panic containing %q, but no panic occurred", substr)
		}
		msg := ""
		switch v := r.(type) {
		case string:
			msg = v
		case error:
			msg = v.Error()
		default:
			t.Fatalf("expected panic string/error containing %q, got %T: %v", substr, r, r)
		}
		if !strings.Contains(msg, substr) {
			t.Fatalf("expected panic containing %q, got %q", substr, msg)
		}
	}()
	f()
}

// expectNoPanic calls f and asserts that it does NOT panic.
func expectNoPanic(t *testing.T, f func()) {
	t.Helper()
	defer func() {
		if r := recover(); r != nil {
			t.Fatalf("expected no panic, got: %v", r)
		}
	}()
	f()
}

// mockDB returns a bare sqlmock pool for tests that only exercise New.
func mockDB(t *testing.T) *sql.DB {
	t.Helper()
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

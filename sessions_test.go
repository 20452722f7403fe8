package msmcp_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	msmcp "github.com/sqlctx/mssql-mcp"
	"github.com/sqlctx/mssql-mcp/internal/session"
)

// waitForTerminal polls the session until it reaches a terminal status.
func waitForTerminal(t *testing.T, m *msmcp.MssqlMcp, id string) session.Snapshot {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		snap, err := m.GetSessionStatus(context.Background(), id)
		if err != nil {
			t.Fatalf("GetSessionStatus failed: %v", err)
		}
		if snap.Status.Terminal() {
			return snap
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("session did not reach a terminal status in time")
	return session.Snapshot{}
}

func TestStartQueryDisabled(t *testing.T) {
	t.Parallel()
	config := defaultConfig()
	config.Tools.EnableStartQuery = false
	m, mock := newMockInstance(t, config, "")

	_, err := m.StartQuery(context.Background(), msmcp.StartQueryInput{SQL: "SELECT 1"})
	expectKind(t, err, msmcp.KindValidation)
	verifyExpectations(t, mock)
}

func TestStartQueryValidatesSynchronously(t *testing.T) {
	t.Parallel()
	m, mock := newMockInstance(t, defaultConfig(), "")

	_, err := m.StartQuery(context.Background(), msmcp.StartQueryInput{SQL: "  "})
	expectKind(t, err, msmcp.KindValidation)

	if sessions := m.ListSessions(context.Background()); len(sessions) != 0 {
		t.Errorf("invalid input must not create a session, got %d", len(sessions))
	}
	verifyExpectations(t, mock)
}

func TestStartQueryCompletes(t *testing.T) {
	t.Parallel()
	m, mock := newMockInstance(t, defaultConfig(), "")

	mock.ExpectQuery("SELECT id FROM users").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)).AddRow(int64(2)))

	id, err := m.StartQuery(context.Background(), msmcp.StartQueryInput{SQL: "SELECT id FROM users"})
	if err != nil {
		t.Fatalf("StartQuery failed: %v", err)
	}

	snap := waitForTerminal(t, m, id)
	if snap.Status != session.StatusCompleted {
		t.Fatalf("Status = %v, want Completed (error: %s)", snap.Status, snap.Error)
	}
	if snap.Kind != session.KindQuery {
		t.Errorf("Kind = %v, want query", snap.Kind)
	}
	if snap.RowCount != 2 {
		t.Errorf("RowCount = %d, want 2", snap.RowCount)
	}

	result, err := m.GetSessionResults(context.Background(), id)
	if err != nil {
		t.Fatalf("GetSessionResults failed: %v", err)
	}
	if len(result.Rows) != 2 || result.Rows[0]["id"] != int64(1) {
		t.Errorf("unexpected rows: %+v", result.Rows)
	}
	if result.Truncated {
		t.Error("result.Truncated = true for a complete result")
	}
	verifyExpectations(t, mock)
}

func TestStartQueryReturnsBeforeExecution(t *testing.T) {
	t.Parallel()
	m, mock := newMockInstance(t, defaultConfig(), "")

	mock.ExpectQuery("WAITFOR").
		WillDelayFor(300 * time.Millisecond).
		WillReturnRows(sqlmock.NewRows([]string{"n"}).AddRow(1))

	start := time.Now()
	id, err := m.StartQuery(context.Background(), msmcp.StartQueryInput{SQL: "WAITFOR DELAY '00:00:01'; SELECT 1"})
	if err != nil {
		t.Fatalf("StartQuery failed: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("StartQuery blocked for %v", elapsed)
	}
	waitForTerminal(t, m, id)
	verifyExpectations(t, mock)
}

func TestStartQueryFailurePreservesServerMessage(t *testing.T) {
	t.Parallel()
	m, mock := newMockInstance(t, defaultConfig(), "")

	serverMsg := "mssql: Divide by zero error encountered."
	mock.ExpectQuery("SELECT 1/0").
		WillReturnError(errServer(serverMsg))

	id, err := m.StartQuery(context.Background(), msmcp.StartQueryInput{SQL: "SELECT 1/0"})
	if err != nil {
		t.Fatalf("StartQuery failed: %v", err)
	}

	snap := waitForTerminal(t, m, id)
	if snap.Status != session.StatusFailed {
		t.Fatalf("Status = %v, want Failed", snap.Status)
	}
	if !strings.Contains(snap.Error, serverMsg) {
		t.Errorf("snapshot error = %q, want server message", snap.Error)
	}

	_, err = m.GetSessionResults(context.Background(), id)
	if err == nil || !strings.Contains(err.Error(), serverMsg) {
		t.Errorf("GetSessionResults error = %v, want buffered server message", err)
	}
	verifyExpectations(t, mock)
}

// A session whose total budget runs out finishes TimedOut with the budget
// message, not a generic deadline error.
func TestStartQueryTimesOutOnBudget(t *testing.T) {
	t.Parallel()
	config := defaultConfig()
	config.Query.TotalToolCallTimeoutSeconds = 1
	m, mock := newMockInstance(t, config, "")

	mock.ExpectQuery("SELECT slow").
		WillDelayFor(1500 * time.Millisecond).
		WillReturnRows(sqlmock.NewRows([]string{"n"}).AddRow(1))

	id, err := m.StartQuery(context.Background(), msmcp.StartQueryInput{SQL: "SELECT slow"})
	if err != nil {
		t.Fatalf("StartQuery failed: %v", err)
	}

	snap := waitForTerminal(t, m, id)
	if snap.Status != session.StatusTimedOut {
		t.Fatalf("Status = %v, want TimedOut (error: %s)", snap.Status, snap.Error)
	}
	if !strings.Contains(snap.Error, "Total tool timeout of 1s exceeded") {
		t.Errorf("snapshot error = %q, want budget message", snap.Error)
	}
	verifyExpectations(t, mock)
}

func TestStopSessionCancelsRunningQuery(t *testing.T) {
	t.Parallel()
	m, mock := newMockInstance(t, defaultConfig(), "")

	mock.ExpectQuery("SELECT slow").
		WillDelayFor(10 * time.Second).
		WillReturnRows(sqlmock.NewRows([]string{"n"}).AddRow(1))

	id, err := m.StartQuery(context.Background(), msmcp.StartQueryInput{SQL: "SELECT slow"})
	if err != nil {
		t.Fatalf("StartQuery failed: %v", err)
	}
	// Give the goroutine a moment to dispatch.
	time.Sleep(50 * time.Millisecond)

	snap, err := m.StopSession(context.Background(), id)
	if err != nil {
		t.Fatalf("StopSession failed: %v", err)
	}
	if snap.Status != session.StatusCancelled {
		t.Fatalf("Status = %v, want Cancelled", snap.Status)
	}

	// The terminal status must never change after the stop.
	final := waitForTerminal(t, m, id)
	if final.Status != session.StatusCancelled {
		t.Errorf("Status flipped to %v after stop", final.Status)
	}

	_, err = m.GetSessionResults(context.Background(), id)
	if err == nil {
		t.Error("expected error from GetSessionResults on a cancelled session")
	}
}

func TestSessionResultsWhileRunning(t *testing.T) {
	t.Parallel()
	m, mock := newMockInstance(t, defaultConfig(), "")

	mock.ExpectQuery("SELECT slow").
		WillDelayFor(10 * time.Second).
		WillReturnRows(sqlmock.NewRows([]string{"n"}).AddRow(1))

	id, err := m.StartQuery(context.Background(), msmcp.StartQueryInput{SQL: "SELECT slow"})
	if err != nil {
		t.Fatalf("StartQuery failed: %v", err)
	}
	t.Cleanup(func() { m.StopSession(context.Background(), id) })
	time.Sleep(20 * time.Millisecond)

	_, err = m.GetSessionResults(context.Background(), id)
	expectKind(t, err, msmcp.KindSessionNotReady)
}

func TestSessionUnknownID(t *testing.T) {
	t.Parallel()
	m, _ := newMockInstance(t, defaultConfig(), "")

	if _, err := m.GetSessionStatus(context.Background(), "nope"); msmcp.ErrorKindOf(err) != msmcp.KindSessionNotFound {
		t.Errorf("GetSessionStatus error = %v, want SessionNotFound", err)
	}
	if _, err := m.GetSessionResults(context.Background(), "nope"); msmcp.ErrorKindOf(err) != msmcp.KindSessionNotFound {
		t.Errorf("GetSessionResults error = %v, want SessionNotFound", err)
	}
	if _, err := m.StopSession(context.Background(), "nope"); msmcp.ErrorKindOf(err) != msmcp.KindSessionNotFound {
		t.Errorf("StopSession error = %v, want SessionNotFound", err)
	}
}

func TestStartQueryTruncatesResultRows(t *testing.T) {
	t.Parallel()
	config := defaultConfig()
	config.Query.MaxSessionResultRows = 2
	m, mock := newMockInstance(t, config, "")

	rows := sqlmock.NewRows([]string{"n"})
	for i := 0; i < 5; i++ {
		rows.AddRow(int64(i))
	}
	mock.ExpectQuery("SELECT n FROM big").WillReturnRows(rows)

	id, err := m.StartQuery(context.Background(), msmcp.StartQueryInput{SQL: "SELECT n FROM big"})
	if err != nil {
		t.Fatalf("StartQuery failed: %v", err)
	}
	snap := waitForTerminal(t, m, id)
	if snap.Status != session.StatusCompleted {
		t.Fatalf("Status = %v, want Completed (error: %s)", snap.Status, snap.Error)
	}

	result, err := m.GetSessionResults(context.Background(), id)
	if err != nil {
		t.Fatalf("GetSessionResults failed: %v", err)
	}
	if len(result.Rows) != 2 {
		t.Errorf("got %d rows, want 2 (truncated)", len(result.Rows))
	}
	if !result.Truncated {
		t.Error("result.Truncated = false, want true")
	}
	verifyExpectations(t, mock)
}

func TestStartQueryCapsStringCellValues(t *testing.T) {
	t.Parallel()
	config := defaultConfig()
	config.Query.MaxResultLength = 16
	m, mock := newMockInstance(t, config, "")

	long := strings.Repeat("x", 40)
	mock.ExpectQuery("SELECT body FROM notes").
		WillReturnRows(sqlmock.NewRows([]string{"body"}).AddRow(long).AddRow("short"))

	id, err := m.StartQuery(context.Background(), msmcp.StartQueryInput{SQL: "SELECT body FROM notes"})
	if err != nil {
		t.Fatalf("StartQuery failed: %v", err)
	}
	snap := waitForTerminal(t, m, id)
	if snap.Status != session.StatusCompleted {
		t.Fatalf("Status = %v, want Completed (error: %s)", snap.Status, snap.Error)
	}

	result, err := m.GetSessionResults(context.Background(), id)
	if err != nil {
		t.Fatalf("GetSessionResults failed: %v", err)
	}
	got, _ := result.Rows[0]["body"].(string)
	if want := strings.Repeat("x", 16) + "...[truncated]"; got != want {
		t.Errorf("capped cell = %q, want %q", got, want)
	}
	if result.Rows[1]["body"] != "short" {
		t.Errorf("short cell modified: %v", result.Rows[1]["body"])
	}
	verifyExpectations(t, mock)
}

func TestStartStoredProcedureSession(t *testing.T) {
	t.Parallel()
	m, mock := newMockInstance(t, defaultConfig(), "")

	mock.ExpectQuery("OBJECT_ID").
		WillReturnRows(sqlmock.NewRows([]string{"found"}).AddRow(1))
	mock.ExpectQuery(`EXEC \[dbo\]\.\[usp_rollup\]`).
		WillReturnRows(sqlmock.NewRows([]string{"total"}).AddRow(int64(3)))

	id, err := m.StartStoredProcedure(context.Background(), msmcp.StartProcedureInput{Procedure: "usp_rollup"})
	if err != nil {
		t.Fatalf("StartStoredProcedure failed: %v", err)
	}
	snap := waitForTerminal(t, m, id)
	if snap.Status != session.StatusCompleted {
		t.Fatalf("Status = %v, want Completed (error: %s)", snap.Status, snap.Error)
	}
	if snap.Kind != session.KindStoredProcedure {
		t.Errorf("Kind = %v, want stored_procedure", snap.Kind)
	}
	verifyExpectations(t, mock)
}

func TestListSessionsOrderedByCreation(t *testing.T) {
	t.Parallel()
	m, mock := newMockInstance(t, defaultConfig(), "")

	for i := 0; i < 3; i++ {
		mock.ExpectQuery("SELECT 1").
			WillReturnRows(sqlmock.NewRows([]string{"n"}).AddRow(1))
	}

	var ids []string
	for i := 0; i < 3; i++ {
		id, err := m.StartQuery(context.Background(), msmcp.StartQueryInput{SQL: "SELECT 1"})
		if err != nil {
			t.Fatalf("StartQuery failed: %v", err)
		}
		ids = append(ids, id)
		waitForTerminal(t, m, id)
	}

	sessions := m.ListSessions(context.Background())
	if len(sessions) != 3 {
		t.Fatalf("got %d sessions, want 3", len(sessions))
	}
	for i, snap := range sessions {
		if snap.ID != ids[i] {
			t.Errorf("session %d = %s, want %s", i, snap.ID, ids[i])
		}
	}
}

// Package session runs engine operations as cancellable, pollable
// background sessions with buffered outcomes.
package session

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sqlctx/mssql-mcp/internal/sqlerr"
)

// Kind identifies what a session executes.
type Kind string

const (
	KindQuery           Kind = "query"
	KindStoredProcedure Kind = "stored_procedure"
)

// Status is a session lifecycle state. Transitions are monotonic:
// Created → Running → one terminal state, and terminal states are final.
type Status string

const (
	StatusCreated   Status = "Created"
	StatusRunning   Status = "Running"
	StatusCompleted Status = "Completed"
	StatusFailed    Status = "Failed"
	StatusCancelled Status = "Cancelled"
	StatusTimedOut  Status = "TimedOut"
)

// Terminal reports whether the status admits no further transition.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusTimedOut:
		return true
	}
	return false
}

// ErrCancelled is the buffered error of a session stopped by the caller.
var ErrCancelled = errors.New("session cancelled")

// Result is a fully materialized operation outcome. Written once at
// completion and never modified afterwards.
type Result struct {
	Columns      []string         `json:"columns"`
	Rows         []map[string]any `json:"rows"`
	RowsAffected int64            `json:"rows_affected"`
	// Truncated reports that the operation produced more rows than the
	// session was allowed to buffer.
	Truncated bool `json:"truncated,omitempty"`
}

// Snapshot is an immutable copy of a session's state. Callers only ever see
// snapshots, never the live session.
type Snapshot struct {
	ID             string    `json:"id"`
	Kind           Kind      `json:"kind"`
	TargetDatabase string    `json:"target_database,omitempty"`
	Status         Status    `json:"status"`
	CreatedAt      time.Time `json:"created_at"`
	CompletedAt    time.Time `json:"completed_at,omitzero"`
	RowCount       int       `json:"row_count,omitempty"`
	Error          string    `json:"error,omitempty"`
}

// RunFunc is the operation a session executes. It must honor ctx
// cancellation at every I/O boundary.
type RunFunc func(ctx context.Context) (*Result, error)

type session struct {
	id        string
	kind      Kind
	targetDB  string
	createdAt time.Time
	cancel    context.CancelFunc

	stopRequested atomic.Bool

	// mu guards transitions and the write-once result/err pair; snap is
	// stored last so a terminal snapshot read via Status/List happens-after
	// the result write.
	mu     sync.Mutex
	snap   atomic.Pointer[Snapshot]
	result *Result
	err    error
}

func (s *session) transition(status Status, result *Result, err error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur := s.snap.Load()
	if cur.Status.Terminal() {
		return false
	}
	next := *cur
	next.Status = status
	if status.Terminal() {
		next.CompletedAt = time.Now()
		s.result = result
		s.err = err
		if result != nil {
			next.RowCount = len(result.Rows)
		}
		if err != nil {
			next.Error = err.Error()
		}
	}
	s.snap.Store(&next)
	return true
}

// Manager owns every session. All methods are safe for concurrent use.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*session
	logger   zerolog.Logger
}

// NewManager creates an empty Manager.
func NewManager(logger zerolog.Logger) *Manager {
	return &Manager{sessions: make(map[string]*session), logger: logger}
}

// Start allocates a session and launches run on a background goroutine.
// It returns the session id immediately without waiting on run; the session
// outlives the caller's request context, so run receives an independent,
// per-session cancellation context.
func (m *Manager) Start(kind Kind, targetDatabase string, run RunFunc) string {
	ctx, cancel := context.WithCancel(context.Background())
	s := &session{
		id:        uuid.NewString(),
		kind:      kind,
		targetDB:  targetDatabase,
		createdAt: time.Now(),
		cancel:    cancel,
	}
	s.snap.Store(&Snapshot{
		ID:             s.id,
		Kind:           kind,
		TargetDatabase: targetDatabase,
		Status:         StatusCreated,
		CreatedAt:      s.createdAt,
	})

	m.mu.Lock()
	m.sessions[s.id] = s
	m.mu.Unlock()

	s.transition(StatusRunning, nil, nil)
	m.logger.Info().
		Str("session_id", s.id).
		Str("kind", string(kind)).
		Str("target_database", targetDatabase).
		Msg("session started")

	go func() {
		defer cancel()
		result, err := run(ctx)
		status := StatusCompleted
		switch {
		case s.stopRequested.Load():
			// A stopped session must not report a late success.
			status, result, err = StatusCancelled, nil, ErrCancelled
		case err != nil && sqlerr.Is(err, sqlerr.KindTimeoutExceeded):
			status, result = StatusTimedOut, nil
		case err != nil:
			status, result = StatusFailed, nil
		}
		if s.transition(status, result, err) {
			m.logger.Info().
				Str("session_id", s.id).
				Str("status", string(status)).
				Msg("session finished")
		}
	}()

	return s.id
}

func (m *Manager) find(id string) (*session, error) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, sqlerr.New(sqlerr.KindSessionNotFound, "session %s not found", id)
	}
	return s, nil
}

// Status returns the current snapshot of a session without taking locks on
// the session itself.
func (m *Manager) Status(id string) (Snapshot, error) {
	s, err := m.find(id)
	if err != nil {
		return Snapshot{}, err
	}
	return *s.snap.Load(), nil
}

// Results returns the buffered outcome of a terminal session. While the
// session is still running it fails with SessionNotReady.
func (m *Manager) Results(id string) (*Result, error) {
	s, err := m.find(id)
	if err != nil {
		return nil, err
	}
	snap := s.snap.Load()
	if !snap.Status.Terminal() {
		return nil, sqlerr.New(sqlerr.KindSessionNotReady,
			"session %s is still %s", id, snap.Status)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return s.result, nil
}

// Stop signals cooperative cancellation. The session transitions to
// Cancelled locally; whether the server aborts the in-flight statement is
// best-effort (the driver sends a TDS attention on context cancellation, but
// the engine does not wait for acknowledgement).
func (m *Manager) Stop(id string) (Snapshot, error) {
	s, err := m.find(id)
	if err != nil {
		return Snapshot{}, err
	}
	s.stopRequested.Store(true)
	s.cancel()
	if s.transition(StatusCancelled, nil, ErrCancelled) {
		m.logger.Info().Str("session_id", id).Msg("session cancelled")
	}
	return *s.snap.Load(), nil
}

// List returns snapshots of all sessions in stable order: creation time,
// then id.
func (m *Manager) List() []Snapshot {
	m.mu.RLock()
	snaps := make([]Snapshot, 0, len(m.sessions))
	for _, s := range m.sessions {
		snaps = append(snaps, *s.snap.Load())
	}
	m.mu.RUnlock()

	sort.Slice(snaps, func(i, j int) bool {
		if !snaps[i].CreatedAt.Equal(snaps[j].CreatedAt) {
			return snaps[i].CreatedAt.Before(snaps[j].CreatedAt)
		}
		return snaps[i].ID < snaps[j].ID
	})
	return snaps
}

// Prune expunges terminal sessions that completed more than keep ago and
// returns how many were removed.
func (m *Manager) Prune(keep time.Duration) int {
	cutoff := time.Now().Add(-keep)
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for id, s := range m.sessions {
		snap := s.snap.Load()
		if snap.Status.Terminal() && snap.CompletedAt.Before(cutoff) {
			delete(m.sessions, id)
			removed++
		}
	}
	return removed
}

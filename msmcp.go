package msmcp

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/microsoft/go-mssqldb"
	"github.com/microsoft/go-mssqldb/msdsn"
	"github.com/rs/zerolog"

	"github.com/sqlctx/mssql-mcp/internal/capability"
	"github.com/sqlctx/mssql-mcp/internal/errprompt"
	"github.com/sqlctx/mssql-mcp/internal/sanitize"
	"github.com/sqlctx/mssql-mcp/internal/session"
	"github.com/sqlctx/mssql-mcp/internal/sqlerr"
	"github.com/sqlctx/mssql-mcp/internal/timeout"
)

// defaultSemaphoreSize bounds concurrent operations when the pool size is
// not known (injected *sql.DB).
const defaultSemaphoreSize = 16

// MssqlMcp is the core engine that introspects and executes statements
// against one SQL Server target on behalf of a tool-calling front end.
// All exported methods are safe for concurrent use from multiple goroutines.
type MssqlMcp struct {
	config         Config
	db             *sql.DB
	target         string
	defaultCatalog string
	serverMode     bool
	semaphore      chan struct{}
	detector       *capability.Detector
	timeoutMgr     *timeout.Manager
	sanitizer      *sanitize.Sanitizer
	errPrompts     *errprompt.Matcher
	sessions       *session.Manager
	logger         zerolog.Logger
}

// Option is a functional option for New().
type Option func(*options)

type options struct {
	db             *sql.DB
	defaultCatalog string
}

// WithDB injects an existing *sql.DB instead of opening one from the
// connection string. defaultCatalog is the catalog the injected pool logs
// into ("" for server mode). Intended for embedding and tests; pool settings
// in Config are not applied to an injected DB.
func WithDB(db *sql.DB, defaultCatalog string) Option {
	return func(o *options) {
		o.db = db
		o.defaultCatalog = defaultCatalog
	}
}

// New creates a new MssqlMcp instance. connString is a SQL Server connection
// string (must include credentials); its database parameter decides, once,
// whether the engine runs in database mode (pinned default catalog) or
// server mode. Panics on invalid config. Returns an error only for runtime
// failures (unparseable connection string, pool creation).
func New(ctx context.Context, connString string, config Config, logger zerolog.Logger, opts ...Option) (*MssqlMcp, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	// --- Config validation (panics on invalid config) ---

	if o.db == nil && connString == "" {
		panic("msmcp: connString must be non-empty")
	}
	if config.Query.DefaultCommandTimeoutSeconds <= 0 {
		panic("msmcp: query.default_command_timeout_seconds must be > 0")
	}
	if config.Query.TotalToolCallTimeoutSeconds < 0 {
		panic("msmcp: query.total_tool_call_timeout_seconds must be >= 0")
	}
	if o.db == nil && config.Pool.MaxOpenConns <= 0 {
		panic("msmcp: pool.max_open_conns must be > 0")
	}

	// Apply defaults for zero values
	if config.Query.MaxSQLLength == 0 {
		config.Query.MaxSQLLength = 100000
	}
	if config.Query.MaxSQLLength < 0 {
		panic("msmcp: query.max_sql_length must be > 0")
	}
	if config.Query.MaxResultLength < 0 {
		panic("msmcp: query.max_result_length must be >= 0")
	}
	if config.Query.MaxSessionResultRows == 0 {
		config.Query.MaxSessionResultRows = 10000
	}
	if config.Query.MaxSessionResultRows < 0 {
		panic("msmcp: query.max_session_result_rows must be > 0")
	}
	if config.Query.SessionRetentionMinutes < 0 {
		panic("msmcp: query.session_retention_minutes must be >= 0")
	}

	// --- Open / adopt the pool ---

	var (
		db             *sql.DB
		target         string
		defaultCatalog string
		semSize        int
	)
	if o.db != nil {
		db = o.db
		target = "injected"
		defaultCatalog = o.defaultCatalog
		semSize = defaultSemaphoreSize
	} else {
		dsn, err := msdsn.Parse(connString)
		if err != nil {
			return nil, fmt.Errorf("failed to parse connection string: %w", err)
		}
		defaultCatalog = dsn.Database
		target = connString

		db, err = sql.Open("sqlserver", connString)
		if err != nil {
			return nil, fmt.Errorf("failed to open connection pool: %w", err)
		}
		db.SetMaxOpenConns(config.Pool.MaxOpenConns)
		db.SetMaxIdleConns(config.Pool.MaxIdleConns)
		if config.Pool.ConnMaxLifetime != "" {
			d, err := time.ParseDuration(config.Pool.ConnMaxLifetime)
			if err != nil {
				panic(fmt.Sprintf("msmcp: invalid pool.conn_max_lifetime %q: %v", config.Pool.ConnMaxLifetime, err))
			}
			db.SetConnMaxLifetime(d)
		}
		if config.Pool.ConnMaxIdleTime != "" {
			d, err := time.ParseDuration(config.Pool.ConnMaxIdleTime)
			if err != nil {
				panic(fmt.Sprintf("msmcp: invalid pool.conn_max_idle_time %q: %v", config.Pool.ConnMaxIdleTime, err))
			}
			db.SetConnMaxIdleTime(d)
		}
		semSize = config.Pool.MaxOpenConns
	}

	// --- Initialize internal components ---

	timeoutRules := make([]timeout.Rule, len(config.Query.TimeoutRules))
	for i, r := range config.Query.TimeoutRules {
		timeoutRules[i] = timeout.Rule{
			Pattern: r.Pattern,
			Timeout: time.Duration(r.TimeoutSeconds) * time.Second,
		}
	}
	tmgr, err := timeout.NewManager(timeout.Config{
		DefaultTimeout: time.Duration(config.Query.DefaultCommandTimeoutSeconds) * time.Second,
		Rules:          timeoutRules,
	})
	if err != nil {
		return nil, err
	}

	sanRules := make([]sanitize.Rule, len(config.Sanitization))
	for i, r := range config.Sanitization {
		sanRules[i] = sanitize.Rule{Pattern: r.Pattern, Replacement: r.Replacement}
	}
	san, err := sanitize.New(sanRules)
	if err != nil {
		return nil, err
	}

	promptRules := make([]errprompt.Rule, len(config.ErrorPrompts))
	for i, r := range config.ErrorPrompts {
		promptRules[i] = errprompt.Rule{Pattern: r.Pattern, Message: r.Message}
	}
	matcher, err := errprompt.New(promptRules)
	if err != nil {
		return nil, err
	}

	return &MssqlMcp{
		config:         config,
		db:             db,
		target:         target,
		defaultCatalog: defaultCatalog,
		serverMode:     defaultCatalog == "",
		semaphore:      make(chan struct{}, semSize),
		detector:       capability.NewDetector(),
		timeoutMgr:     tmgr,
		sanitizer:      san,
		errPrompts:     matcher,
		sessions:       session.NewManager(logger),
		logger:         logger,
	}, nil
}

// Close closes the connection pool. Sessions still running lose their
// connections; stop or drain them first.
func (p *MssqlMcp) Close(ctx context.Context) {
	p.db.Close()
}

// Ping verifies the target is reachable.
func (p *MssqlMcp) Ping(ctx context.Context) error {
	if err := p.db.PingContext(ctx); err != nil {
		return sqlerr.Wrap(sqlerr.KindConnection, err)
	}
	return nil
}

// ServerMode reports whether the engine runs without a pinned default
// catalog.
func (p *MssqlMcp) ServerMode() bool {
	return p.serverMode
}

// GetCommandTimeoutSettings reports the configured timeout surface.
func (p *MssqlMcp) GetCommandTimeoutSettings() TimeoutSettings {
	return TimeoutSettings{
		TotalToolCallTimeoutSeconds:  p.config.Query.TotalToolCallTimeoutSeconds,
		DefaultCommandTimeoutSeconds: p.config.Query.DefaultCommandTimeoutSeconds,
	}
}

// newBudget seeds a total-call budget for one logical operation.
func (p *MssqlMcp) newBudget() timeout.Budget {
	return timeout.NewBudget(
		time.Duration(p.config.Query.TotalToolCallTimeoutSeconds)*time.Second,
		time.Duration(p.config.Query.DefaultCommandTimeoutSeconds)*time.Second,
	)
}

// capabilities returns the memoized capability descriptor for the target,
// probing on first use. The probe counts as an underlying statement against
// the operation's budget.
func (p *MssqlMcp) capabilities(ctx context.Context, b timeout.Budget) (capability.Descriptor, error) {
	return p.detector.Detect(ctx, p.target, func(ctx context.Context) (string, int, error) {
		grant, err := b.Effective(0)
		if err != nil {
			return "", 0, err
		}
		probeCtx, cancel := context.WithTimeout(ctx, grant.Timeout)
		defer cancel()

		var version string
		var edition int
		if err := p.db.QueryRowContext(probeCtx, capability.ProbeSQL).Scan(&version, &edition); err != nil {
			return "", 0, err
		}
		return version, edition, nil
	})
}

// acquireSlot takes one operation slot, respecting context cancellation.
func (p *MssqlMcp) acquireSlot(ctx context.Context) (release func(), err error) {
	select {
	case p.semaphore <- struct{}{}:
		return func() { <-p.semaphore }, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("failed to acquire operation slot: all %d slots are in use, context cancelled while waiting: %w", cap(p.semaphore), ctx.Err())
	}
}

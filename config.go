package msmcp

// Config is the base configuration used by library mode via New().
type Config struct {
	Pool         PoolConfig         `json:"pool"`
	Query        QueryConfig        `json:"query"`
	Tools        ToolsConfig        `json:"tools"`
	ErrorPrompts []ErrorPromptRule  `json:"error_prompts"`
	Sanitization []SanitizationRule `json:"sanitization"`
}

// ServerConfig embeds Config and adds server-only fields for CLI mode.
type ServerConfig struct {
	Config
	Connection ConnectionConfig `json:"connection"`
	Server     ServerSettings   `json:"server"`
	Logging    LoggingConfig    `json:"logging"`
}

// ConnectionConfig holds SQL Server connection parameters used by CLI mode.
// Database left empty puts the server in multi-database ("server") mode;
// a non-empty Database pins the default catalog ("database" mode). The mode
// is selected once at startup and never re-evaluated per call.
type ConnectionConfig struct {
	Host                   string `json:"host"`
	Port                   int    `json:"port"`
	Instance               string `json:"instance"`
	Database               string `json:"database"`
	Encrypt                string `json:"encrypt"` // "true", "false", "disable"
	TrustServerCertificate bool   `json:"trust_server_certificate"`
}

// PoolConfig holds database/sql pool settings.
type PoolConfig struct {
	MaxOpenConns    int    `json:"max_open_conns"`
	MaxIdleConns    int    `json:"max_idle_conns"`
	ConnMaxLifetime string `json:"conn_max_lifetime"`
	ConnMaxIdleTime string `json:"conn_max_idle_time"`
}

// ServerSettings holds transport settings for CLI mode. Port 0 serves MCP
// over stdio; a positive port serves streamable HTTP.
type ServerSettings struct {
	Port               int    `json:"port"`
	HealthCheckEnabled bool   `json:"health_check_enabled"`
	HealthCheckPath    string `json:"health_check_path"`
}

// LoggingConfig holds logging settings for CLI mode.
type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // json, text
	Output string `json:"output"` // stdout, stderr, or file path
}

// ToolsConfig gates which mutating and long-running operations are reachable.
// Read-only introspection operations are always reachable. All fields
// default to false (disabled).
type ToolsConfig struct {
	EnableExecuteQuery           bool `json:"enable_execute_query"`
	EnableExecuteStoredProcedure bool `json:"enable_execute_stored_procedure"`
	EnableStartQuery             bool `json:"enable_start_query"`
	EnableStartStoredProcedure   bool `json:"enable_start_stored_procedure"`
}

// QueryConfig holds statement execution settings.
type QueryConfig struct {
	// DefaultCommandTimeoutSeconds is the per-statement timeout applied when
	// a caller does not request one. Must be > 0.
	DefaultCommandTimeoutSeconds int `json:"default_command_timeout_seconds"`
	// TotalToolCallTimeoutSeconds caps the combined duration of every
	// statement issued by one logical operation. 0 disables the cap.
	TotalToolCallTimeoutSeconds int `json:"total_tool_call_timeout_seconds"`
	// MaxSQLLength bounds incoming statement text, in bytes.
	MaxSQLLength int `json:"max_sql_length"`
	// MaxResultLength bounds individual string cell values in buffered
	// session results, in bytes. Oversized values are truncated with a
	// marker. 0 disables the cap.
	MaxResultLength int `json:"max_result_length"`
	// MaxSessionResultRows bounds how many rows a background session
	// buffers; rows beyond the cap are dropped and the truncation logged.
	MaxSessionResultRows int `json:"max_session_result_rows"`
	// SessionRetentionMinutes controls how long terminal sessions stay
	// pollable; they are expunged opportunistically on the next session
	// start. 0 keeps them for the process lifetime.
	SessionRetentionMinutes int `json:"session_retention_minutes"`
	// TimeoutRules override the default per-statement timeout for matching
	// SQL. First match wins.
	TimeoutRules []TimeoutRule `json:"timeout_rules"`
}

// TimeoutRule maps a SQL pattern to a specific timeout duration.
type TimeoutRule struct {
	Pattern        string `json:"pattern"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// ErrorPromptRule maps an error message pattern to a guidance message.
type ErrorPromptRule struct {
	Pattern string `json:"pattern"`
	Message string `json:"message"`
}

// SanitizationRule defines a regex-based field sanitization rule.
type SanitizationRule struct {
	Pattern     string `json:"pattern"`
	Replacement string `json:"replacement"`
	Description string `json:"description"`
}

// TimeoutSettings is the GetCommandTimeoutSettings response.
type TimeoutSettings struct {
	TotalToolCallTimeoutSeconds  int `json:"total_tool_call_timeout_seconds"`
	DefaultCommandTimeoutSeconds int `json:"default_command_timeout_seconds"`
}

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"

	msmcp "github.com/sqlctx/mssql-mcp"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"
	"golang.org/x/term"
)

func runServe() error {
	ctx := context.Background()

	serverConfig, err := loadServerConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Resolve connection string from the environment, or assemble one from
	// the config plus interactively prompted credentials.
	connString := os.Getenv("GOMSMCP_CONNSTRING")
	if connString == "" {
		username := promptInput("Username: ")
		password := promptPassword("Password: ")
		connString = buildConnString(serverConfig.Connection, username, password)
	}

	logger := setupLogger(serverConfig.Logging)

	m, err := msmcp.New(ctx, connString, serverConfig.Config, logger)
	if err != nil {
		return fmt.Errorf("failed to create MssqlMcp: %w", err)
	}
	defer m.Close(ctx)

	logger.Info().Msg("testing database connection")
	if err := m.Ping(ctx); err != nil {
		logger.Error().Err(err).Msg("database connection test failed")
		return fmt.Errorf("database connection test failed: %w", err)
	}
	logger.Info().Bool("server_mode", m.ServerMode()).Msg("database connection test successful")

	hooks := &server.Hooks{}
	hooks.AddAfterInitialize(func(ctx context.Context, id any, req *mcp.InitializeRequest, result *mcp.InitializeResult) {
		logger.Info().
			Str("client_name", req.Params.ClientInfo.Name).
			Str("client_version", req.Params.ClientInfo.Version).
			Msg("AI agent connected (MCP initialize)")
	})

	mcpServer := server.NewMCPServer("gomsmcp", "1.0.0",
		server.WithToolCapabilities(true),
		server.WithHooks(hooks),
	)

	msmcp.RegisterMCPTools(mcpServer, m)

	// Port 0 serves MCP over stdio; a positive port serves streamable HTTP.
	if serverConfig.Server.Port <= 0 {
		logger.Info().Msg("starting gomsmcp server on stdio")
		return server.ServeStdio(mcpServer)
	}

	addr := fmt.Sprintf(":%d", serverConfig.Server.Port)
	mux := http.NewServeMux()

	// Health check endpoint (process liveness only, not DB connectivity)
	if serverConfig.Server.HealthCheckEnabled {
		if serverConfig.Server.HealthCheckPath == "" {
			panic("gomsmcp: health_check_path must be set when health_check_enabled is true")
		}
		mux.HandleFunc(serverConfig.Server.HealthCheckPath, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"status":"ok"}`))
		})
	}

	httpSrv := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	streamableServer := server.NewStreamableHTTPServer(mcpServer,
		server.WithEndpointPath("/mcp"),
		server.WithStateLess(true),
		server.WithStreamableHTTPServer(httpSrv),
	)

	// Start() does not register the MCP handler when a custom *http.Server
	// is provided via WithStreamableHTTPServer.
	mux.Handle("/mcp", streamableServer)

	logger.Info().Int("port", serverConfig.Server.Port).Msg("starting gomsmcp server")
	return streamableServer.Start(addr)
}

func loadServerConfig() (*msmcp.ServerConfig, error) {
	configPath := os.Getenv("GOMSMCP_CONFIG_PATH")
	if configPath == "" {
		configPath = ".gomsmcp/config.json"
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	var config msmcp.ServerConfig
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return &config, nil
}

// buildConnString assembles a go-mssqldb URL connection string. The URL form
// handles special characters in credentials without escaping rules leaking
// into the config file.
func buildConnString(conn msmcp.ConnectionConfig, username, password string) string {
	host := conn.Host
	if host == "" {
		host = "localhost"
	}
	u := &url.URL{
		Scheme: "sqlserver",
		Host:   host,
	}
	if conn.Port > 0 {
		u.Host = fmt.Sprintf("%s:%d", host, conn.Port)
	}
	if conn.Instance != "" {
		u.Path = conn.Instance
	}
	if username != "" {
		u.User = url.UserPassword(username, password)
	}

	q := url.Values{}
	if conn.Database != "" {
		q.Set("database", conn.Database)
	}
	if conn.Encrypt != "" {
		q.Set("encrypt", conn.Encrypt)
	}
	if conn.TrustServerCertificate {
		q.Set("trustservercertificate", "true")
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func setupLogger(config msmcp.LoggingConfig) zerolog.Logger {
	level := zerolog.InfoLevel
	switch strings.ToLower(config.Level) {
	case "debug":
		level = zerolog.DebugLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}

	var output io.Writer = os.Stderr
	if config.Output == "stdout" {
		output = os.Stdout
	} else if config.Output != "" && config.Output != "stderr" {
		f, err := os.OpenFile(config.Output, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err == nil {
			output = f
		}
	}

	if config.Format == "text" {
		output = zerolog.ConsoleWriter{Out: output}
	}

	return zerolog.New(output).Level(level).With().Timestamp().Logger()
}

func promptInput(prompt string) string {
	fmt.Fprint(os.Stderr, prompt)
	var input string
	fmt.Scanln(&input)
	return input
}

func promptPassword(prompt string) string {
	fmt.Fprint(os.Stderr, prompt)
	password, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr) // newline after password input
	if err != nil {
		return ""
	}
	return string(password)
}

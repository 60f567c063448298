package cmd

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/docmeter/docmeter/internal/instrumentation"
	"github.com/docmeter/docmeter/internal/ledger"
	"github.com/docmeter/docmeter/internal/resources"
	"github.com/docmeter/docmeter/internal/search"
	"github.com/docmeter/docmeter/internal/server"
	"github.com/docmeter/docmeter/internal/tools/search_tools"
)

// LedgerConfig holds credit-ledger backend configuration
type LedgerConfig struct {
	// Backend is the ledger store type: "memory" or "postgres" (default: "memory")
	Backend string

	// DatabaseURL is the Postgres connection string (used when Backend is "postgres")
	DatabaseURL string

	// InitialCredits seeds the default user's balance in memory mode.
	// Useful for local development on the stdio transport.
	InitialCredits int64
}

// OAuthConfig holds the OAuth settings for the HTTP transport
type OAuthConfig struct {
	// Issuer is the external authorization server URL
	Issuer string

	// UserinfoURL overrides the provider userinfo endpoint
	UserinfoURL string

	// Scopes advertised in the protected-resource metadata
	Scopes []string

	// TrustProxy enables X-Forwarded-For as the client address
	TrustProxy bool
}

// MetricsConfig holds configuration for the metrics server
type MetricsConfig struct {
	// Enabled determines whether to start the metrics server (default: true)
	Enabled bool

	// Addr is the address for the metrics server (e.g., ":9090")
	Addr string
}

func newServeCmd() *cobra.Command {
	var (
		debugMode        bool
		transport        string
		httpAddr         string
		baseURL          string
		searchBackendURL string
		defaultUser      string
		// Ledger configuration
		ledgerBackend  string
		ledgerURL      string
		initialCredits int64
		// OAuth configuration (HTTP transport only)
		oauthIssuer      string
		oauthUserinfoURL string
		oauthScopes      []string
		trustProxy       bool
		// Metrics server configuration
		metricsEnabled bool
		metricsAddr    string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the MCP server",
		Long: `Start the Model Context Protocol (MCP) server exposing credit-metered
documentation-search tools for AI assistants.

Supports multiple transport types:
  - stdio: Standard input/output (default)
  - streamable-http: Streamable HTTP transport
  - sse: Server-Sent Events transport

Credit Ledger:
  Balances live in an append-only ledger. Use --ledger-backend postgres
  with --ledger-database-url (or LEDGER_DATABASE_URL) for durable
  storage; the default in-memory ledger is for development only.

Identity:
  HTTP Transport:
    Requests authenticate with OAuth 2.1 Bearer tokens issued by an
    external provider. --oauth-issuer (or OAUTH_ISSUER) is required.

  STDIO Transport:
    There is no token to validate; --default-user (or
    DOCMETER_DEFAULT_USER) names the local ledger account.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ledgerConfig := LedgerConfig{
				Backend:        ledgerBackend,
				DatabaseURL:    ledgerURL,
				InitialCredits: initialCredits,
			}
			loadLedgerEnvVars(cmd, &ledgerConfig)

			oauthConfig := OAuthConfig{
				Issuer:      oauthIssuer,
				UserinfoURL: oauthUserinfoURL,
				Scopes:      oauthScopes,
				TrustProxy:  trustProxy,
			}
			if oauthConfig.Issuer == "" {
				oauthConfig.Issuer = os.Getenv("OAUTH_ISSUER")
			}
			if oauthConfig.UserinfoURL == "" {
				oauthConfig.UserinfoURL = os.Getenv("OAUTH_USERINFO_URL")
			}

			metricsConfig := MetricsConfig{
				Enabled: metricsEnabled,
				Addr:    metricsAddr,
			}

			return runServe(transport, debugMode, httpAddr, baseURL, searchBackendURL, defaultUser, ledgerConfig, oauthConfig, metricsConfig)
		},
	}

	cmd.Flags().BoolVar(&debugMode, "debug", false, "Enable debug logging")
	cmd.Flags().StringVar(&transport, "transport", "stdio", "Transport type: stdio, streamable-http, or sse")
	cmd.Flags().StringVar(&httpAddr, "http-addr", ":8080", "HTTP server address (for HTTP transports)")
	cmd.Flags().StringVar(&baseURL, "base-url", "", "Public base URL of this server (HTTP transports only). Required for deployed instances. Can also use MCP_BASE_URL env var. Example: https://docs-mcp.example.com")
	cmd.Flags().StringVar(&searchBackendURL, "search-backend-url", "", "Base URL of the documentation search backend. Can also use SEARCH_BACKEND_URL env var.")
	cmd.Flags().StringVar(&defaultUser, "default-user", "", "Ledger account used on the stdio transport. Can also use DOCMETER_DEFAULT_USER env var.")

	// Ledger flags
	cmd.Flags().StringVar(&ledgerBackend, "ledger-backend", "memory", "Ledger store backend: memory or postgres. Can also use LEDGER_BACKEND env var.")
	cmd.Flags().StringVar(&ledgerURL, "ledger-database-url", "", "Postgres connection string for the ledger (postgres backend only). Can also use LEDGER_DATABASE_URL env var.")
	cmd.Flags().Int64Var(&initialCredits, "initial-credits", 0, "Seed the default user's balance on startup (memory backend only, development convenience)")

	// OAuth flags (HTTP transports only)
	cmd.Flags().StringVar(&oauthIssuer, "oauth-issuer", "", "External OAuth 2.1 authorization server URL. Required for HTTP transports. Can also use OAUTH_ISSUER env var.")
	cmd.Flags().StringVar(&oauthUserinfoURL, "oauth-userinfo-url", "", "Provider userinfo endpoint used for token validation. Defaults to {issuer}/userinfo. Can also use OAUTH_USERINFO_URL env var.")
	cmd.Flags().StringSliceVar(&oauthScopes, "oauth-scopes", []string{"openid", "profile", "email"}, "Scopes advertised in the protected-resource metadata")
	cmd.Flags().BoolVar(&trustProxy, "trust-proxy", false, "Trust X-Forwarded-For / X-Real-IP headers for rate limiting. Only enable behind a trusted proxy.")

	// Metrics server flags
	cmd.Flags().BoolVar(&metricsEnabled, "metrics-enabled", true, "Enable the metrics server on a dedicated port. Can also use METRICS_ENABLED env var.")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", ":9090", "Metrics server address. Can also use METRICS_ADDR env var.")

	return cmd
}

func runServe(transport string, debugMode bool, httpAddr, baseURL, searchBackendURL, defaultUser string, ledgerConfig LedgerConfig, oauthConfig OAuthConfig, metricsConfig MetricsConfig) error {
	// Setup graceful shutdown
	shutdownCtx, cancel := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Load remaining settings from environment if not set via flags
	if searchBackendURL == "" {
		searchBackendURL = os.Getenv("SEARCH_BACKEND_URL")
	}
	if searchBackendURL == "" {
		return fmt.Errorf("search backend URL is required (--search-backend-url or SEARCH_BACKEND_URL)")
	}
	if defaultUser == "" {
		defaultUser = os.Getenv("DOCMETER_DEFAULT_USER")
	}
	if !metricsConfig.Enabled {
		if os.Getenv("METRICS_ENABLED") == "true" {
			metricsConfig.Enabled = true
		}
	}
	if metricsConfig.Addr == "" || metricsConfig.Addr == ":9090" {
		if addr := os.Getenv("METRICS_ADDR"); addr != "" {
			metricsConfig.Addr = addr
		}
	}

	// Initialize instrumentation provider
	instrConfig := instrumentation.DefaultConfig()
	instrConfig.ServiceVersion = version

	provider, err := instrumentation.NewProvider(shutdownCtx, instrConfig)
	if err != nil {
		return fmt.Errorf("failed to create instrumentation provider: %w", err)
	}
	defer func() {
		if err := provider.Shutdown(shutdownCtx); err != nil {
			if transport != "stdio" {
				log.Printf("Error during instrumentation shutdown: %v", err)
			}
		}
	}()

	// Start metrics server if enabled and not in stdio mode
	var metricsServer *server.MetricsServer
	if transport != "stdio" && metricsConfig.Enabled && provider.Enabled() {
		var err error
		metricsServer, err = server.NewMetricsServer(server.MetricsServerConfig{
			Addr:                    metricsConfig.Addr,
			Enabled:                 true,
			InstrumentationProvider: provider,
		})
		if err != nil {
			return fmt.Errorf("failed to create metrics server: %w", err)
		}

		// Use ready channel to confirm metrics server started successfully
		metricsReady := make(chan struct{})
		metricsErr := make(chan error, 1)
		go func() {
			if err := metricsServer.StartWithReadySignal(metricsReady); err != nil && err != http.ErrServerClosed {
				metricsErr <- err
			}
			close(metricsErr)
		}()

		// Wait for metrics server to be ready or fail
		select {
		case <-metricsReady:
			log.Printf("Metrics server started on %s", metricsServer.Addr())
		case err := <-metricsErr:
			return fmt.Errorf("metrics server failed to start: %w", err)
		case <-time.After(5 * time.Second):
			return fmt.Errorf("metrics server startup timed out")
		}
	}

	// Create the ledger store
	store, err := openLedgerStore(shutdownCtx, ledgerConfig, transport)
	if err != nil {
		return err
	}

	// Seed the default user's balance for local development
	if ledgerConfig.InitialCredits > 0 && ledgerConfig.Backend == "memory" && defaultUser != "" {
		if err := store.Credit(shutdownCtx, defaultUser, ledgerConfig.InitialCredits); err != nil {
			return fmt.Errorf("failed to seed initial credits: %w", err)
		}
	}

	// Create the search backend client
	querier := search.NewHTTPClient(searchBackendURL)

	// The debit executor counts its retries through the server context's
	// metrics, which are attached after the context is created.
	var serverContext *server.ServerContext
	executor := ledger.NewExecutor(store,
		ledger.WithRetryNotify(func(_ error, _ time.Duration) {
			if serverContext == nil {
				return
			}
			if m := serverContext.Metrics(); m != nil {
				m.RecordLedgerDebitRetry(context.Background())
			}
		}))

	serverContext = server.NewServerContext(shutdownCtx, store, querier,
		server.WithExecutor(executor),
		server.WithDefaultUser(defaultUser))

	// Set metrics and audit logger on server context for tool instrumentation
	if provider.Enabled() {
		serverContext.SetMetrics(provider.Metrics())
		serverContext.SetAuditLogger(instrumentation.NewAuditLoggerWithConfig(nil, instrConfig.AuditLogging))
	}
	defer func() {
		// Shutdown metrics server first
		if metricsServer != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := metricsServer.Shutdown(shutdownCtx); err != nil {
				log.Printf("Error during metrics server shutdown: %v", err)
			}
		}
		if err := serverContext.Shutdown(); err != nil {
			if transport != "stdio" {
				log.Printf("Error during server context shutdown: %v", err)
			}
		}
	}()

	// Create MCP server
	mcpSrv := mcpserver.NewMCPServer("docmeter", version,
		mcpserver.WithToolCapabilities(true),
		mcpserver.WithResourceCapabilities(false, false), // Subscribe and listChanged
	)

	// Register all tools and resources
	if err := search_tools.RegisterSearchTools(mcpSrv, serverContext); err != nil {
		return fmt.Errorf("failed to register search tools: %w", err)
	}
	if err := resources.RegisterAccountResources(mcpSrv, serverContext); err != nil {
		return fmt.Errorf("failed to register account resources: %w", err)
	}

	// Start the appropriate server based on transport type
	switch transport {
	case "stdio":
		return runStdioServer(mcpSrv)
	case "streamable-http", "sse":
		fmt.Printf("Starting docmeter MCP server with %s transport...\n", transport)
		return runHTTPServer(mcpSrv, serverContext, transport, httpAddr, shutdownCtx, baseURL, oauthConfig, metricsConfig, provider)
	default:
		return fmt.Errorf("unsupported transport type: %s (supported: stdio, streamable-http, sse)", transport)
	}
}

// openLedgerStore creates the configured ledger store.
func openLedgerStore(ctx context.Context, config LedgerConfig, transport string) (ledger.Store, error) {
	switch config.Backend {
	case "memory", "":
		if transport != "stdio" {
			log.Println("WARNING: in-memory ledger selected; balances are lost on restart. Use --ledger-backend postgres for production.")
		}
		return ledger.NewMemoryStore(), nil

	case "postgres":
		if config.DatabaseURL == "" {
			return nil, fmt.Errorf("postgres ledger backend requires --ledger-database-url or LEDGER_DATABASE_URL")
		}
		store, err := ledger.NewPostgresStore(ctx, config.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open ledger database: %w", err)
		}
		return store, nil

	default:
		return nil, fmt.Errorf("unsupported ledger backend: %s (supported: memory, postgres)", config.Backend)
	}
}

func runStdioServer(mcpSrv *mcpserver.MCPServer) error {
	serverDone := make(chan error, 1)
	go func() {
		defer close(serverDone)
		if err := mcpserver.ServeStdio(mcpSrv); err != nil {
			serverDone <- err
		}
	}()

	err := <-serverDone
	if err != nil {
		return fmt.Errorf("server stopped with error: %w", err)
	}
	return nil
}

func runHTTPServer(mcpSrv *mcpserver.MCPServer, serverContext *server.ServerContext, transport, addr string, ctx context.Context, baseURL string, oauthConfig OAuthConfig, metricsConfig MetricsConfig, instrProvider *instrumentation.Provider) error {
	// Determine base URL from flag, environment variable, or auto-detection
	if baseURL == "" {
		baseURL = os.Getenv("MCP_BASE_URL")
	}
	if baseURL == "" {
		// Fall back to auto-detection for local development
		baseURL = fmt.Sprintf("http://%s", addr)
		if addr[0] == ':' {
			baseURL = fmt.Sprintf("http://localhost%s", addr)
		}
		log.Printf("No base URL configured, using auto-detected: %s", baseURL)
		log.Printf("For deployed instances, set --base-url flag or MCP_BASE_URL env var")
	} else {
		log.Printf("Using configured base URL: %s", baseURL)
	}

	oauthServer, err := server.NewOAuthHTTPServer(mcpSrv, transport, server.HTTPServerConfig{
		BaseURL:     baseURL,
		Issuer:      oauthConfig.Issuer,
		UserinfoURL: oauthConfig.UserinfoURL,
		Scopes:      oauthConfig.Scopes,
		TrustProxy:  oauthConfig.TrustProxy,
	})
	if err != nil {
		return fmt.Errorf("failed to create OAuth HTTP server: %w", err)
	}

	// Set up health checker for health check endpoints
	healthChecker := server.NewHealthChecker(serverContext)
	oauthServer.SetHealthChecker(healthChecker)

	// Set up HTTP instrumentation for metrics
	if instrProvider != nil && instrProvider.Enabled() {
		oauthServer.SetMetrics(instrProvider.Metrics())
		oauthServer.Sessions().OnCountChange(server.MetricsCallback(serverContext))
	}

	fmt.Printf("HTTP server with OAuth authentication starting on %s\n", addr)
	if transport == "sse" {
		fmt.Printf("  SSE endpoints: /sse, /message\n")
	} else {
		fmt.Printf("  HTTP endpoint: /mcp\n")
	}
	fmt.Printf("  Health endpoints: /healthz, /readyz\n")
	fmt.Printf("  OAuth metadata: /.well-known/oauth-protected-resource\n")
	fmt.Printf("  Authorization Server: %s\n", oauthConfig.Issuer)
	if metricsConfig.Enabled {
		fmt.Printf("  Metrics endpoint: %s/metrics\n", metricsConfig.Addr)
	}

	fmt.Println("\nClients must present a Bearer token from the authorization server.")
	fmt.Println("The MCP client (e.g., Cursor, Claude Desktop) will handle the OAuth flow automatically.")

	serverDone := make(chan error, 1)
	go func() {
		defer close(serverDone)
		if err := oauthServer.Start(addr); err != nil {
			serverDone <- err
		}
	}()

	select {
	case <-ctx.Done():
		fmt.Println("Shutdown signal received, stopping HTTP server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := oauthServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("error shutting down HTTP server: %w", err)
		}
	case err := <-serverDone:
		if err != nil {
			return fmt.Errorf("HTTP server stopped with error: %w", err)
		}
		fmt.Println("HTTP server stopped normally")
	}

	fmt.Println("HTTP server gracefully stopped")
	return nil
}

// loadLedgerEnvVars loads ledger configuration from environment variables.
// Environment variables only override flag values when the flag was not
// explicitly set.
func loadLedgerEnvVars(cmd *cobra.Command, config *LedgerConfig) {
	if !cmd.Flags().Changed("ledger-backend") {
		if backend := os.Getenv("LEDGER_BACKEND"); backend != "" {
			config.Backend = backend
		}
	}

	if !cmd.Flags().Changed("ledger-database-url") {
		if url := os.Getenv("LEDGER_DATABASE_URL"); url != "" {
			config.DatabaseURL = url
		}
	}

	if !cmd.Flags().Changed("initial-credits") {
		if creditsStr := os.Getenv("DOCMETER_INITIAL_CREDITS"); creditsStr != "" {
			if credits, err := strconv.ParseInt(creditsStr, 10, 64); err == nil && credits > 0 {
				config.InitialCredits = credits
			}
		}
	}
}

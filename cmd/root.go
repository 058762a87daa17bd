// Package cmd implements the copilot binary's cobra root command:
// flag parsing, process-wide logger/config wiring, and the blocking
// HTTP server run loop.
package cmd

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kcmh-his/sql-copilot/internal/auth"
	"github.com/kcmh-his/sql-copilot/internal/catalog"
	"github.com/kcmh-his/sql-copilot/internal/concepts"
	"github.com/kcmh-his/sql-copilot/internal/config"
	"github.com/kcmh-his/sql-copilot/internal/executor"
	"github.com/kcmh-his/sql-copilot/internal/httpserver"
	"github.com/kcmh-his/sql-copilot/internal/llm"
	"github.com/kcmh-his/sql-copilot/internal/log"
	"github.com/kcmh-his/sql-copilot/internal/orchestrator"
	"github.com/kcmh-his/sql-copilot/internal/ratelimit"
	"github.com/kcmh-his/sql-copilot/internal/session"
)

//go:embed version.txt
var versionString string

// ServerConfig is the handful of settings controllable by CLI flag.
// Everything else (API keys, DB credentials, PHI-adjacent file paths)
// is environment-only — see internal/config — so it never shows up in
// `ps` output or shell history.
type ServerConfig struct {
	Address   string
	Port      int
	LogLevel  string
	LogFormat string
}

// Command wraps a cobra.Command with the flag-derived ServerConfig
// tests assert against, matching the teacher's cfg-after-Execute
// pattern.
type Command struct {
	*cobra.Command
	cfg ServerConfig
}

// NewCommand builds the root command with its flags bound directly to
// cfg fields, so cfg reflects parsed flags as soon as Execute returns
// — independent of whatever RunE does (tests override RunE to a
// no-op and still assert on cfg).
func NewCommand() *Command {
	c := &Command{cfg: ServerConfig{
		Address:   "127.0.0.1",
		Port:      8080,
		LogLevel:  "INFO",
		LogFormat: "standard",
	}}

	cmd := &cobra.Command{
		Use:     "copilot",
		Short:   "Clinical analytics SQL copilot server",
		Version: strings.TrimSpace(versionString),
		PersistentPreRunE: func(*cobra.Command, []string) error {
			if _, err := log.SeverityToLevel(c.cfg.LogLevel); err != nil {
				return fmt.Errorf("--log-level %q: %w", c.cfg.LogLevel, err)
			}
			switch strings.ToLower(c.cfg.LogFormat) {
			case "standard", "json":
			default:
				return fmt.Errorf("--log-format must be \"standard\" or \"json\", got %q", c.cfg.LogFormat)
			}
			return nil
		},
	}
	cmd.SetVersionTemplate("{{.Version}}\n")

	flags := cmd.Flags()
	flags.StringVarP(&c.cfg.Address, "address", "a", c.cfg.Address, "address the server listens on")
	flags.IntVarP(&c.cfg.Port, "port", "p", c.cfg.Port, "port the server listens on")
	flags.StringVar(&c.cfg.LogLevel, "log-level", c.cfg.LogLevel, "logging level: DEBUG, INFO, WARN, or ERROR")
	flags.StringVar(&c.cfg.LogFormat, "log-format", c.cfg.LogFormat, "logging format: standard or json")

	cmd.RunE = func(cc *cobra.Command, args []string) error {
		return c.run(cc.Context())
	}

	c.Command = cmd
	return c
}

// run loads full process configuration (environment, overridden by
// the flag-derived ServerConfig), wires every dependency, and blocks
// serving HTTP until the process receives a termination signal.
func (c *Command) run(ctx context.Context) error {
	settings, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	if c.Flags().Changed("address") {
		settings.Address = c.cfg.Address
	}
	if c.Flags().Changed("port") {
		settings.Port = c.cfg.Port
	}
	if c.Flags().Changed("log-level") {
		settings.LogLevel = c.cfg.LogLevel
	}
	if c.Flags().Changed("log-format") {
		settings.LogFormat = c.cfg.LogFormat
	}

	logger, err := log.NewLogger(settings.LogFormat, settings.LogLevel, c.OutOrStdout(), c.ErrOrStderr())
	if err != nil {
		return fmt.Errorf("setting up logger: %w", err)
	}

	logger.InfoContext(ctx, "starting sql-copilot", "version", strings.TrimSpace(versionString), "model", settings.ClaudeModel)

	cat, err := catalog.LoadCSV(
		filepath.Join(settings.SchemaDir(), "tables.csv"),
		filepath.Join(settings.SchemaDir(), "columns.csv"),
		filepath.Join(settings.SchemaDir(), "join_edges.csv"),
	)
	if err != nil {
		return fmt.Errorf("loading schema catalog: %w", err)
	}
	catHandle := catalog.NewHandle(cat)

	conceptsLib, err := concepts.Load(settings.ConceptsPath())
	if err != nil {
		return fmt.Errorf("loading concepts library: %w", err)
	}

	users, err := auth.LoadUserStore(settings.UsersCSVPath(), settings.SuperUsersPath())
	if err != nil {
		return fmt.Errorf("loading user roster: %w", err)
	}
	logger.InfoContext(ctx, "user roster loaded", "user_count", users.UserCount())

	pool, err := executor.Connect(ctx, settings.DatabaseDSN())
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	exec := executor.New(pool, settings.SQLStatementTimeoutMS, settings.SQLMaxRows)
	defer exec.Close()

	llmClt := llm.NewClient(settings.AnthropicAPIKey, settings.ClaudeModel)
	sessions := session.NewManager(time.Duration(settings.SessionMaxAgeSec) * time.Second)
	limiter := ratelimit.New()

	orch := orchestrator.New(sessions, llmClt, exec, catHandle, conceptsLib, logger, settings.SQLStatementTimeoutMS, settings.SQLMaxRows)

	srv := httpserver.New(orch, exec, users, limiter, logger,
		settings.SecretKey, settings.SessionCookieName, time.Duration(settings.SessionMaxAgeSec)*time.Second)

	addr := settings.Address + ":" + strconv.Itoa(settings.Port)
	httpSrv := &http.Server{Addr: addr, Handler: srv.Router()}

	serveErr := make(chan error, 1)
	go func() {
		logger.InfoContext(ctx, "listening", "address", addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case <-sigCtx.Done():
		logger.InfoContext(ctx, "shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	case err := <-serveErr:
		return err
	}
}

// Execute runs the root command against the real OS args.
func Execute() error {
	return NewCommand().Execute()
}

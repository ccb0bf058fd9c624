package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mbisonn/holistic-payment-bounceback-sub000/internal/config"
)

// Build-time variables set via -ldflags
var (
	version = "dev"
	commit  = "unknown"
)

const (
	exitSuccess       = 0
	exitRuntimeError  = 1
	exitInvalidConfig = 2
)

// exitError carries a process exit code through cobra's RunE.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	return e.err.Error()
}

func (e *exitError) Unwrap() error {
	return e.err
}

func runtimeError(err error) error {
	return &exitError{code: exitRuntimeError, err: err}
}

func main() {
	os.Exit(execute(os.Args[1:]))
}

func execute(args []string) int {
	cmd := newRootCommand()
	cmd.SetArgs(args)
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitCode(err)
	}
	return exitSuccess
}

func exitCode(err error) int {
	if err == nil {
		return exitSuccess
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	var verrs config.ValidationErrors
	if errors.As(err, &verrs) {
		return exitInvalidConfig
	}
	return exitRuntimeError
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "automationd",
		Short:         "automationd - commerce rule automation engine",
		Long:          usage,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		newServeCommand(),
		newValidateCommand(),
		newConfigCommand(),
		newVersionCommand(),
	)
	return root
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the event bus, worker pool and HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			if err := config.Validate(cfg); err != nil {
				return fmt.Errorf("configuration error: %w", err)
			}
			return runServe(cfg)
		},
	}
}

func newValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate configuration and the rules file (no connections made)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			if err := config.Validate(cfg); err != nil {
				return err
			}
			if cfg.RulesFile != "" {
				if _, err := loadSeed(cfg.RulesFile, builtinCatalog()); err != nil {
					return &exitError{code: exitInvalidConfig, err: err}
				}
			}
			fmt.Fprintln(cmd.OutOrStdout(), "configuration valid")
			return nil
		},
	}
}

func newConfigCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print effective configuration as JSON (secrets masked)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := config.Load().MaskedJSON()
			if err != nil {
				return runtimeError(fmt.Errorf("failed to marshal config: %w", err))
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		},
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "automationd version %s (commit: %s)\n", version, commit)
		},
	}
}

const usage = `automationd - commerce rule automation engine

Environment Variables:
  STORE_DRIVER              Record store: postgres or memory (default: "postgres")
  DATABASE_URL              PostgreSQL connection string (required for postgres)
  RULES_FILE                YAML file of rules and schedules to seed (optional)
  HTTP_ADDR                 HTTP server address (default: ":8080", or ":$PORT")

  DB_OP_TIMEOUT             Database operation timeout (default: "5s")
  DB_MAX_OPEN_CONNS         Max open database connections (default: "25")
  DB_MAX_IDLE_CONNS         Max idle database connections (default: "5")
  DB_CONN_MAX_LIFETIME      Max connection lifetime (default: "30m")
  DB_CONN_MAX_IDLE_TIME     Max connection idle time (default: "5m")

  MAX_CONCURRENT            Worker pool size (default: "5")
  MAX_RETRIES               Attempts per execution (default: "3")
  EXECUTION_TICK_INTERVAL   Worker pool tick (default: "1s")
  EVENT_DRAIN_INTERVAL      Event queue drain tick (default: "500ms")
  RETRY_BACKOFF             Delays between retries, last repeats (default: "2s,10s,30s")
  HANDLER_TIMEOUT           Per-attempt handler deadline, 0 disables (default: "0s")
  DRAIN_TIMEOUT             Shutdown drain timeout (default: "30s")
  HTTP_SHUTDOWN_TIMEOUT     Graceful HTTP shutdown timeout (default: "10s")

  CIRCUIT_BREAKER_THRESHOLD Webhook failures before opening, 0 disables (default: "5")
  CIRCUIT_BREAKER_COOLDOWN  Open circuit cooldown (default: "2m")

  NATS_URL                  NATS server for ingress and notify_nats (optional)
  NATS_INGRESS_SUBJECT      Subject to consume events from (default: "commerce.events.>")
  SCHEDULE_TICK_INTERVAL    Scheduled trigger tick (default: "30s")

  REDIS_ADDR                Redis address for analytics (optional)
  ANALYTICS_WINDOW          Analytics bucket size (default: "1h")
  ANALYTICS_RETENTION       Analytics key TTL (default: "168h")

  METRICS_ENABLED           Enable Prometheus metrics (default: "false")
  METRICS_PATH              Metrics endpoint path (default: "/metrics")
  METRICS_PORT              Separate metrics port; empty serves on HTTP_ADDR

  RECONCILE_ENABLED         Enable orphan execution reconciler (default: "false")
  RECONCILE_INTERVAL        How often to scan for orphans (default: "5m")
  RECONCILE_THRESHOLD       Age before execution is orphaned (default: "15m")
  RECONCILE_BATCH_SIZE      Max orphans per cycle (default: "100")`

/*
main.go - Application entry point

PURPOSE:
  Starts the installment ledger server and its maintenance commands.
  Handles configuration, dependency injection, and graceful shutdown.

COMMANDS:
  serve                 Run the HTTP API (default when no command is given)
  summary --cliente ID  Print a client's billing summary and exit

STARTUP SEQUENCE:
  1. Load .env and environment (config.Load)
  2. Configure zerolog
  3. Open the store (SQLite or PostgreSQL, by DB_DRIVER)
  4. Pick the locker (Redis when REDIS_ADDR is set, else in process)
  5. Build the ledger, handler and router
  6. Start server with graceful shutdown

FLAGS:
  --addr    HTTP listen address (overrides APP_ADDR)
  --db      SQLite database path (overrides SQLITE_PATH)
            Use ":memory:" for an in-memory database
  --scenario  Demo scenario to load at startup (needs ENABLE_DEMO in production)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests (APP_SHUTDOWN_TIMEOUT)
  3. Close store and Redis connections

SEE ALSO:
  - config/config.go: Environment variables
  - api/server.go: Router configuration
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/warp/installment-ledger/api"
	"github.com/warp/installment-ledger/config"
	"github.com/warp/installment-ledger/ledger"
	"github.com/warp/installment-ledger/lock"
	"github.com/warp/installment-ledger/logger"
	"github.com/warp/installment-ledger/store/postgres"
	"github.com/warp/installment-ledger/store/sqlite"
)

var (
	flagAddr     string
	flagDB       string
	flagScenario string
	flagCliente  string
)

func main() {
	root := &cobra.Command{
		Use:           "ledger",
		Short:         "Installment ledger for the CRM financial tab",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runServe,
	}
	root.PersistentFlags().StringVar(&flagDB, "db", "", "SQLite database path (overrides SQLITE_PATH)")

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE:  runServe,
	}
	serve.Flags().StringVar(&flagAddr, "addr", "", "HTTP listen address (overrides APP_ADDR)")
	serve.Flags().StringVar(&flagScenario, "scenario", "", "demo scenario to load at startup")

	summary := &cobra.Command{
		Use:   "summary",
		Short: "Print a client's billing summary",
		RunE:  runSummary,
	}
	summary.Flags().StringVar(&flagCliente, "cliente", "", "client id")
	_ = summary.MarkFlagRequired("cliente")

	root.AddCommand(serve, summary)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// =============================================================================
// WIRING
// =============================================================================

type app struct {
	cfg    *config.Config
	store  ledger.TxStore
	ledger *ledger.Ledger
	close  []func()
}

func (a *app) Close() {
	for i := len(a.close) - 1; i >= 0; i-- {
		a.close[i]()
	}
}

func setup(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if flagDB != "" {
		cfg.DBDriver = config.DriverSQLite
		cfg.SQLitePath = flagDB
	}
	if err := logger.Setup(cfg.Logger()); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg}
	if err := a.openStore(ctx); err != nil {
		a.Close()
		return nil, err
	}
	locker, err := a.openLocker(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.ledger = ledger.New(a.store,
		ledger.WithLocker(locker),
		ledger.WithLocation(loc),
		ledger.WithLogger(logger.WithComponent("ledger")),
	)
	return a, nil
}

func (a *app) openStore(ctx context.Context) error {
	log := logger.WithComponent("store")
	switch a.cfg.DBDriver {
	case config.DriverPostgres:
		s, err := postgres.Connect(ctx, a.cfg.PGDSN)
		if err != nil {
			return fmt.Errorf("failed to connect to postgres: %w", err)
		}
		a.store = s
		a.close = append(a.close, s.Close)
		log.Info().Msg("using postgres store")
	default:
		s, err := sqlite.New(a.cfg.SQLitePath)
		if err != nil {
			return fmt.Errorf("failed to initialize database: %w", err)
		}
		a.store = s
		a.close = append(a.close, func() { _ = s.Close() })
		log.Info().Str("path", a.cfg.SQLitePath).Msg("using sqlite store")
	}
	return nil
}

func (a *app) openLocker(ctx context.Context) (ledger.Locker, error) {
	log := logger.WithComponent("lock")
	if a.cfg.RedisAddr == "" {
		log.Info().Msg("using in-process installment locks")
		return lock.NewKeyed(), nil
	}
	client, err := lock.Connect(ctx, a.cfg.RedisAddr)
	if err != nil {
		return nil, err
	}
	a.close = append(a.close, func() { _ = client.Close() })
	log.Info().Str("addr", a.cfg.RedisAddr).Dur("ttl", a.cfg.LockTTL).Msg("using redis installment locks")
	return lock.NewRedis(client, a.cfg.LockTTL).WithLogger(logger.WithComponent("lock")), nil
}

// =============================================================================
// COMMANDS
// =============================================================================

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := setup(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	cfg := a.cfg
	if flagAddr != "" {
		cfg.AppAddr = flagAddr
	}

	handler := api.NewHandler(a.ledger, a.store, logger.WithComponent("api"))
	if flagScenario != "" {
		if !cfg.DemoEnabled() {
			return errors.New("demo scenarios are disabled in production; set ENABLE_DEMO=true")
		}
		if err := handler.LoadScenarioByID(ctx, flagScenario); err != nil {
			return fmt.Errorf("failed to load scenario: %w", err)
		}
	}
	router := api.NewRouter(handler, api.RouterConfig{
		Logger:             logger.WithComponent("http"),
		CORSOrigins:        cfg.CORSOrigins,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		JWTSecret:          cfg.JWTSecret,
		RequestTimeout:     cfg.RequestTimeout,
		Production:         cfg.IsProduction(),
		DemoScenarios:      cfg.DemoEnabled(),
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.AppAddr).Str("env", cfg.AppEnv).Msg("server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	log.Info().Msg("server stopped")
	return nil
}

func runSummary(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, err := setup(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	s, err := a.ledger.SummarizeClient(ctx, flagCliente)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Cliente %s (hoje: %s)\n", s.ClienteID, a.ledger.Today().Display())
	printSummary(cmd, "Geral", s.Overall)
	printSummary(cmd, "Contrato", s.Contract)
	for _, d := range s.Debts {
		printSummary(cmd, d.Divida.Titulo, d.Summary)
	}
	return nil
}

func printSummary(cmd *cobra.Command, title string, s ledger.Summary) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "\n%s\n", title)
	fmt.Fprintf(out, "  Total:     %s\n", ledger.FormatBRL(s.Total))
	fmt.Fprintf(out, "  Pago:      %s\n", ledger.FormatBRL(s.Pago))
	fmt.Fprintf(out, "  Pendente:  %s\n", ledger.FormatBRL(s.Pendente))
	fmt.Fprintf(out, "  Atrasado:  %s\n", ledger.FormatBRL(s.Atrasado))
	fmt.Fprintf(out, "  Parcelas:  %d pendente, %d atrasado, %d parcial, %d pago\n",
		s.Counts.Pendente, s.Counts.Atrasado, s.Counts.Parcial, s.Counts.Pago)
	if s.NextDue != nil {
		fmt.Fprintf(out, "  Próximo vencimento: parcela %d em %s (%s)\n",
			s.NextDue.NumeroParcela, s.NextDue.DataVencimento.Display(), ledger.FormatBRL(s.NextDue.Outstanding()))
	}
}

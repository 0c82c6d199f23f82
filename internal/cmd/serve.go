package cmd

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/vantage-io/vantage/internal/admission"
	"github.com/vantage-io/vantage/internal/budget"
	"github.com/vantage-io/vantage/internal/config"
	"github.com/vantage-io/vantage/internal/events"
	"github.com/vantage-io/vantage/internal/idempotency"
	"github.com/vantage-io/vantage/internal/llm"
	"github.com/vantage-io/vantage/internal/pipeline"
	"github.com/vantage-io/vantage/internal/posture"
	"github.com/vantage-io/vantage/internal/proposal"
	"github.com/vantage-io/vantage/internal/schedule"
	"github.com/vantage-io/vantage/internal/server"
	"github.com/vantage-io/vantage/internal/snapshot"
	"github.com/vantage-io/vantage/internal/synth"
	"github.com/vantage-io/vantage/internal/tenant"
)

var (
	serveAddr      string
	serveRateLimit int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the Vantage server with trigger intake and deferred-retry dispatch",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "HTTP listen address (overrides config)")
	serveCmd.Flags().IntVar(&serveRateLimit, "rate-limit", 10, "per-tenant requests per second (0 disables)")
	rootCmd.AddCommand(serveCmd)
}

// parseAPIKeys returns a map of key -> tenant_id from VANTAGE_API_KEYS (comma-separated; each entry key or key:tenant_id).
func parseAPIKeys(env string) map[string]string {
	m := make(map[string]string)
	if env == "" {
		return m
	}
	for _, part := range strings.Split(env, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		tenantID := "default"
		if idx := strings.Index(part, ":"); idx > 0 {
			tenantID = strings.TrimSpace(part[idx+1:])
			part = strings.TrimSpace(part[:idx])
		}
		m[part] = tenantID
	}
	return m
}

// providerAPIKey resolves the credential for the configured provider from the
// conventional env var.
func providerAPIKey(providerName string) string {
	switch providerName {
	case "openai":
		return os.Getenv("OPENAI_API_KEY")
	case "anthropic":
		return os.Getenv("ANTHROPIC_API_KEY")
	default:
		return ""
	}
}

// tenantsFromAPIKeys derives the tenant set from the configured API keys.
// Every tenant gets the same rate limit; 0 disables limiting.
func tenantsFromAPIKeys(apiKeys map[string]string, rateLimit int) []tenant.Tenant {
	seen := make(map[string]bool)
	var tenants []tenant.Tenant
	for _, tenantID := range apiKeys {
		if seen[tenantID] {
			continue
		}
		seen[tenantID] = true
		tenants = append(tenants, tenant.Tenant{ID: tenantID, RateLimit: rateLimit})
	}
	return tenants
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.EnsureDataDir(); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	db, err := sql.Open("sqlite3", cfg.StoreDBPath()+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return fmt.Errorf("opening store database: %w", err)
	}
	defer db.Close()

	keys, err := idempotency.NewStore(db)
	if err != nil {
		return fmt.Errorf("initializing idempotency store: %w", err)
	}
	runStates, err := admission.NewRunStateStore(db)
	if err != nil {
		return fmt.Errorf("initializing run state store: %w", err)
	}
	schedStore, err := schedule.NewStore(db)
	if err != nil {
		return fmt.Errorf("initializing scheduler store: %w", err)
	}
	proposals, err := proposal.NewStoreWithDB(db)
	if err != nil {
		return fmt.Errorf("initializing proposal store: %w", err)
	}

	budgets, err := budget.NewService(
		cfg.StoreDBPath()+"?_journal_mode=WAL&_busy_timeout=5000",
		budget.Defaults{DailyDecisions: cfg.DailyDecisions, MonthlyCost: cfg.MonthlyCost},
	)
	if err != nil {
		return fmt.Errorf("initializing budget ledger: %w", err)
	}
	defer budgets.Close()

	provider := llm.NewProviderWithBaseURL(cfg.Provider, providerAPIKey(cfg.Provider), cfg.ProviderBaseURL)
	if provider == nil {
		return fmt.Errorf("unknown provider %q", cfg.Provider)
	}
	if providerAPIKey(cfg.Provider) == "" {
		log.Warn().Str("provider", cfg.Provider).Msg("provider API key not set — generative calls will fail")
	}

	postures := posture.NewFileProvider(cfg.PostureDir)
	emitter := events.LogEmitter{}
	registry := admission.DefaultRegistry()

	pipe := pipeline.New(pipeline.Deps{
		Keys:        keys,
		Registry:    registry,
		RunStates:   runStates,
		Evaluator:   admission.NewEvaluator(runStates, registry),
		Budgets:     budgets,
		Scheduler:   schedStore,
		Postures:    postures,
		Assembler:   snapshot.NewAssembler(postures, cfg.PolicyDir),
		Synthesizer: synth.NewSynthesizer(provider, cfg.Model),
		Proposals:   proposals,
		Emitter:     emitter,
	})

	dispatcher := schedule.NewDispatcher(schedStore, pipe)
	if err := dispatcher.Start(); err != nil {
		return fmt.Errorf("starting deferred-run dispatcher: %w", err)
	}
	defer dispatcher.Stop()

	workflow := proposal.NewWorkflow(proposals, emitter)

	apiKeys := parseAPIKeys(os.Getenv("VANTAGE_API_KEYS"))
	if len(apiKeys) == 0 {
		log.Warn().Msg("VANTAGE_API_KEYS not set — all API endpoints will return 401. Set for production.")
	}

	srv := server.NewServer(
		pipe, proposals, workflow, apiKeys,
		server.WithTenantManager(tenant.NewManager(tenantsFromAPIKeys(apiKeys, serveRateLimit))),
		server.WithScheduler(schedStore),
	)

	addr := cfg.ListenAddr
	if serveAddr != "" {
		addr = serveAddr
	}
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      srv.Routes(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	log.Info().
		Str("addr", addr).
		Str("provider", cfg.Provider).
		Str("model", cfg.Model).
		Int("tenants", len(tenantsFromAPIKeys(apiKeys, serveRateLimit))).
		Int("rate_limit_per_s", serveRateLimit).
		Msg("vantage_serve_started")

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown_signal_received")
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	log.Info().Msg("server_stopped")
	return nil
}

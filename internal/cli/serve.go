package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/laurelhq/laurel/internal/api"
	"github.com/laurelhq/laurel/internal/app/delegation"
	"github.com/laurelhq/laurel/internal/app/fulfillment"
	"github.com/laurelhq/laurel/internal/app/ledger"
	"github.com/laurelhq/laurel/internal/app/redemption"
	"github.com/laurelhq/laurel/internal/auth"
	"github.com/laurelhq/laurel/internal/daemon"
	"github.com/laurelhq/laurel/internal/domain"
	"github.com/laurelhq/laurel/internal/infra/observability"
	"github.com/laurelhq/laurel/internal/infra/sqlite"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the platform API server",
	Long: `Start the HTTP API server with the background workers: the
fulfillment pool, the stale-redemption watchdog and (when enabled)
the inactive-wallet expiry sweeper.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := daemon.Load(configPath)
	if err != nil {
		return err
	}
	if cfg.Auth.JWTSecret == "" {
		return fmt.Errorf("no JWT secret configured: set auth.jwt_secret in %s or the LAUREL_JWT_SECRET environment variable", configPath)
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Storage.Path), 0o755); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}

	db, err := sqlite.New(cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	log := slog.Default()
	log.Info("storage ready", "path", cfg.Storage.Path)

	tracer := observability.NewTracer(observability.DefaultTracerConfig())
	l := ledger.New(db, log)
	engine := delegation.New(db, l, log)
	machine := redemption.New(redemption.Config{
		OTPTTL:            cfg.OTPTTL(),
		MaxOTPAttempts:    cfg.Redemption.MaxOTPAttempts,
		ProcessingTimeout: cfg.ProcessingTimeout(),
	}, db, l, tracer, log)

	poolCfg := fulfillment.DefaultConfig()
	poolCfg.MaxConcurrent = cfg.Redemption.MaxConcurrentFulfillments
	pool := fulfillment.New(poolCfg, machine, log)
	pool.RegisterBackend(domain.ItemVoucher, &fulfillment.SimulatedVoucherBackend{Latency: 2 * time.Second})
	pool.RegisterBackend(domain.ItemMerch, &fulfillment.SimulatedMerchBackend{Latency: 2 * time.Second})
	machine.SetFulfiller(pool)

	jwtMgr := auth.NewJWTManager(cfg.Auth.JWTSecret, cfg.TokenTTL())
	invites := auth.NewInviteManager(cfg.Auth.JWTSecret, cfg.Auth.InviteBaseURL)

	srv := api.NewServer(db, l, engine, machine, pool, jwtMgr, invites, tracer)
	if cfg.API.MetricsEnabled {
		srv.EnableMetrics()
	}

	httpSrv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go staleWatchdog(ctx, machine, log)
	if cfg.Expiry.Enabled {
		go expirySweeper(ctx, cfg, db, l, log)
	}

	go func() {
		log.Info("api server listening", "addr", cfg.Addr())
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("api server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown failed", "error", err)
	}
	pool.Wait()
	return nil
}

// staleWatchdog periodically fails redemptions stuck in PROCESSING so their
// reserved points flow back to the wallet.
func staleWatchdog(ctx context.Context, machine *redemption.Machine, log *slog.Logger) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := machine.FailStale(ctx)
			if err != nil {
				log.Error("stale redemption sweep failed", "error", err)
				continue
			}
			if n > 0 {
				log.Warn("failed stale redemptions", "count", n)
			}
		}
	}
}

// expirySweeper debits wallets that have seen no activity past the configured
// cutoff, tenant by tenant.
func expirySweeper(ctx context.Context, cfg *daemon.Config, db *sqlite.DB, l *ledger.Ledger, log *slog.Logger) {
	ticker := time.NewTicker(cfg.ExpiryInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tenants, err := db.ListTenants(ctx)
			if err != nil {
				log.Error("expiry sweep failed", "error", err)
				continue
			}
			cutoff := cfg.InactiveCutoff(time.Now().UTC())
			for _, tenant := range tenants {
				n, err := l.ExpireInactive(ctx, tenant.ID, cutoff)
				if err != nil {
					log.Error("expiry sweep failed", "tenant", tenant.ID, "error", err)
					continue
				}
				if n > 0 {
					log.Info("expired inactive wallets", "tenant", tenant.ID, "count", n)
				}
			}
		}
	}
}

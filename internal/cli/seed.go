package cli

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/laurelhq/laurel/internal/app/delegation"
	"github.com/laurelhq/laurel/internal/app/ledger"
	"github.com/laurelhq/laurel/internal/daemon"
	"github.com/laurelhq/laurel/internal/domain"
	"github.com/laurelhq/laurel/internal/infra/sqlite"
)

func init() {
	rootCmd.AddCommand(seedCmd)
	seedCmd.Flags().Int64("points", 1_000_000, "Points to inject into the platform pool")
}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Create a demo tenant with a funded budget hierarchy",
	Long: `Create a demo tenant with one account per tier (platform pool,
tenant pool, department budget, lead allocation, user wallet) and move
points down the chain. Useful for local development against a fresh
database.`,
	RunE: runSeed,
}

func runSeed(cmd *cobra.Command, args []string) error {
	cfg, err := daemon.Load(configPath)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Storage.Path), 0o755); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}
	db, err := sqlite.New(cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	points, _ := cmd.Flags().GetInt64("points")
	log := slog.Default()
	l := ledger.New(db, log)
	engine := delegation.New(db, l, log)
	ctx := cmd.Context()

	tenant := &domain.Tenant{Name: "Demo Org", DomainWhitelist: []string{"demo.example"}}
	if err := db.CreateTenant(ctx, tenant); err != nil {
		return fmt.Errorf("create tenant: %w", err)
	}

	accounts := []*domain.Account{
		{Kind: domain.KindPlatformPool},
		{Kind: domain.KindTenantPool, TenantID: tenant.ID},
		{Kind: domain.KindDepartmentBudget, TenantID: tenant.ID, OwnerRef: "engineering"},
		{Kind: domain.KindLeadAllocation, TenantID: tenant.ID, OwnerRef: "demo-lead"},
		{Kind: domain.KindUserWallet, TenantID: tenant.ID, OwnerRef: "demo-user"},
	}
	for _, a := range accounts {
		if err := db.CreateAccount(ctx, a); err != nil {
			return fmt.Errorf("create %s account: %w", a.Kind, err)
		}
	}
	pool, tpool, dept, lead, wallet := accounts[0], accounts[1], accounts[2], accounts[3], accounts[4]

	if _, err := engine.Inject(ctx, pool.ID, points, "demo seed", "seed"); err != nil {
		return fmt.Errorf("inject: %w", err)
	}
	for _, step := range []struct {
		from, to *domain.Account
		amount   int64
	}{
		{pool, tpool, points / 2},
		{tpool, dept, points / 4},
		{dept, lead, points / 8},
	} {
		if err := engine.Delegate(ctx, step.from.ID, step.to.ID, step.amount, "demo seed", "seed"); err != nil {
			return fmt.Errorf("delegate %s -> %s: %w", step.from.Kind, step.to.Kind, err)
		}
	}
	if err := engine.Award(ctx, lead.ID, wallet.ID, points/16, "welcome aboard", "demo-lead"); err != nil {
		return fmt.Errorf("award: %w", err)
	}

	fmt.Println("Demo tenant seeded:")
	fmt.Printf("  tenant            %s\n", tenant.ID)
	fmt.Printf("  platform pool     %s\n", pool.ID)
	fmt.Printf("  tenant pool       %s\n", tpool.ID)
	fmt.Printf("  department budget %s\n", dept.ID)
	fmt.Printf("  lead allocation   %s\n", lead.ID)
	fmt.Printf("  user wallet       %s\n", wallet.ID)
	return nil
}

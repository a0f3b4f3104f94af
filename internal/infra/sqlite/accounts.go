package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/laurelhq/laurel/internal/domain"
)

// Interface checks live here so a storage refactor fails loudly at compile time.
var (
	_ domain.AccountStore = (*DB)(nil)
	_ domain.TenantStore  = (*DB)(nil)
)

// ─── Account Operations ─────────────────────────────────────────────────────

// CreateAccount persists a new account, generating its id if unset.
func (d *DB) CreateAccount(ctx context.Context, a *domain.Account) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	if !a.Kind.Valid() {
		return fmt.Errorf("create account: unknown kind %q", a.Kind)
	}

	_, err := d.db.ExecContext(ctx, `
		INSERT INTO accounts (id, kind, tenant_id, owner_ref, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, a.ID, string(a.Kind), a.TenantID, a.OwnerRef, formatTime(a.CreatedAt))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return domain.ErrDuplicateAccount
		}
		return fmt.Errorf("insert account: %w", err)
	}
	return nil
}

// GetAccount retrieves an account by id.
func (d *DB) GetAccount(ctx context.Context, id string) (*domain.Account, error) {
	a := &domain.Account{}
	var kind, createdAt string
	err := d.db.QueryRowContext(ctx, `
		SELECT id, kind, tenant_id, owner_ref, created_at FROM accounts WHERE id = ?
	`, id).Scan(&a.ID, &kind, &a.TenantID, &a.OwnerRef, &createdAt)
	if err == sql.ErrNoRows {
		return nil, domain.ErrInvalidAccount
	}
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}
	a.Kind = domain.AccountKind(kind)
	a.CreatedAt = parseTime(createdAt)
	return a, nil
}

// ListAccounts returns a tenant's accounts, optionally filtered by kind.
func (d *DB) ListAccounts(ctx context.Context, tenantID string, kind domain.AccountKind) ([]domain.Account, error) {
	q := `SELECT id, kind, tenant_id, owner_ref, created_at FROM accounts WHERE tenant_id = ?`
	args := []any{tenantID}
	if kind != "" {
		q += ` AND kind = ?`
		args = append(args, string(kind))
	}
	q += ` ORDER BY created_at`

	rows, err := d.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []domain.Account
	for rows.Next() {
		var a domain.Account
		var k, createdAt string
		if err := rows.Scan(&a.ID, &k, &a.TenantID, &a.OwnerRef, &createdAt); err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		a.Kind = domain.AccountKind(k)
		a.CreatedAt = parseTime(createdAt)
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

// ─── Tenant Operations ──────────────────────────────────────────────────────

// CreateTenant persists a new tenant and its domain whitelist.
func (d *DB) CreateTenant(ctx context.Context, t *domain.Tenant) error {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}

	return d.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO tenants (id, name, created_at) VALUES (?, ?, ?)
		`, t.ID, t.Name, formatTime(t.CreatedAt)); err != nil {
			return fmt.Errorf("insert tenant: %w", err)
		}
		for _, dom := range t.DomainWhitelist {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO tenant_domains (tenant_id, domain) VALUES (?, ?)
			`, t.ID, dom); err != nil {
				return fmt.Errorf("insert tenant domain: %w", err)
			}
		}
		return nil
	})
}

// GetTenant retrieves a tenant with its domain whitelist.
func (d *DB) GetTenant(ctx context.Context, id string) (*domain.Tenant, error) {
	t := &domain.Tenant{}
	var createdAt string
	err := d.db.QueryRowContext(ctx, `
		SELECT id, name, created_at FROM tenants WHERE id = ?
	`, id).Scan(&t.ID, &t.Name, &createdAt)
	if err == sql.ErrNoRows {
		return nil, domain.ErrTenantNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get tenant: %w", err)
	}
	t.CreatedAt = parseTime(createdAt)

	rows, err := d.db.QueryContext(ctx, `
		SELECT domain FROM tenant_domains WHERE tenant_id = ? ORDER BY domain
	`, id)
	if err != nil {
		return nil, fmt.Errorf("get tenant domains: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var dom string
		if err := rows.Scan(&dom); err != nil {
			return nil, fmt.Errorf("scan tenant domain: %w", err)
		}
		t.DomainWhitelist = append(t.DomainWhitelist, dom)
	}
	return t, rows.Err()
}

// ListTenants returns all tenants without their whitelists.
func (d *DB) ListTenants(ctx context.Context) ([]domain.Tenant, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, name, created_at FROM tenants ORDER BY created_at
	`)
	if err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
	}
	defer rows.Close()

	var tenants []domain.Tenant
	for rows.Next() {
		var t domain.Tenant
		var createdAt string
		if err := rows.Scan(&t.ID, &t.Name, &createdAt); err != nil {
			return nil, fmt.Errorf("scan tenant: %w", err)
		}
		t.CreatedAt = parseTime(createdAt)
		tenants = append(tenants, t)
	}
	return tenants, rows.Err()
}

// SetDomainWhitelist replaces a tenant's domain whitelist.
func (d *DB) SetDomainWhitelist(ctx context.Context, tenantID string, domains []string) error {
	if _, err := d.GetTenant(ctx, tenantID); err != nil {
		return err
	}
	return d.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM tenant_domains WHERE tenant_id = ?
		`, tenantID); err != nil {
			return fmt.Errorf("clear tenant domains: %w", err)
		}
		for _, dom := range domains {
			if _, err := tx.ExecContext(ctx, `
				INSERT OR IGNORE INTO tenant_domains (tenant_id, domain) VALUES (?, ?)
			`, tenantID, dom); err != nil {
				return fmt.Errorf("insert tenant domain: %w", err)
			}
		}
		return nil
	})
}

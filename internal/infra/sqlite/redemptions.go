package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/laurelhq/laurel/internal/domain"
)

var _ domain.RedemptionStore = (*DB)(nil)

// ─── Redemption Operations ──────────────────────────────────────────────────

// InsertRedemption persists a new redemption record.
func (d *DB) InsertRedemption(ctx context.Context, r *domain.Redemption) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = now

	var expiry any
	if !r.OTPExpiry.IsZero() {
		expiry = formatTime(r.OTPExpiry)
	}

	_, err := d.db.ExecContext(ctx, `
		INSERT INTO redemptions (id, user_id, wallet_account_id, item_type, item_ref, point_cost,
			status, otp_hash, otp_expiry, otp_attempts, debit_tx_id, failure_reason, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, r.ID, r.UserID, r.WalletAccountID, string(r.ItemType), r.ItemRef, r.PointCost,
		string(r.Status), r.OTPHash, expiry, r.OTPAttempts, r.DebitTxID, r.FailureReason,
		formatTime(r.CreatedAt), formatTime(r.UpdatedAt))
	if err != nil {
		return fmt.Errorf("insert redemption: %w", err)
	}
	return nil
}

// GetRedemption retrieves a redemption by id.
func (d *DB) GetRedemption(ctx context.Context, id string) (*domain.Redemption, error) {
	row := d.db.QueryRowContext(ctx, `
		SELECT id, user_id, wallet_account_id, item_type, item_ref, point_cost,
			status, otp_hash, otp_expiry, otp_attempts, debit_tx_id, delivery_json,
			failure_reason, created_at, updated_at
		FROM redemptions WHERE id = ?
	`, id)
	r, err := scanRedemption(row)
	if err == sql.ErrNoRows {
		return nil, domain.ErrRedemptionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get redemption: %w", err)
	}
	return r, nil
}

func scanRedemption(row rowScanner) (*domain.Redemption, error) {
	r := &domain.Redemption{}
	var itemType, status, createdAt, updatedAt string
	var expiry, delivery sql.NullString
	err := row.Scan(&r.ID, &r.UserID, &r.WalletAccountID, &itemType, &r.ItemRef, &r.PointCost,
		&status, &r.OTPHash, &expiry, &r.OTPAttempts, &r.DebitTxID, &delivery,
		&r.FailureReason, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	r.ItemType = domain.ItemType(itemType)
	r.Status = domain.RedemptionStatus(status)
	if expiry.Valid {
		r.OTPExpiry = parseTime(expiry.String)
	}
	if delivery.Valid && delivery.String != "" {
		details := &domain.DeliveryDetails{}
		if err := json.Unmarshal([]byte(delivery.String), details); err != nil {
			return nil, fmt.Errorf("decode delivery details: %w", err)
		}
		r.DeliveryDetails = details
	}
	r.CreatedAt = parseTime(createdAt)
	r.UpdatedAt = parseTime(updatedAt)
	return r, nil
}

// SetRedemptionOTP stores the code hash and expiry, promoting INITIATED to
// OTP_PENDING.
func (d *DB) SetRedemptionOTP(ctx context.Context, id, hash string, expiry time.Time) error {
	res, err := d.db.ExecContext(ctx, `
		UPDATE redemptions SET otp_hash = ?, otp_expiry = ?, status = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`, hash, formatTime(expiry), string(domain.RedemptionOTPPending), formatTime(time.Now()),
		id, string(domain.RedemptionInitiated))
	if err != nil {
		return fmt.Errorf("set redemption otp: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrInvalidTransition
	}
	return nil
}

// UpdateRedemptionStatus transitions a redemption, recording the failure
// reason for terminal failures.
func (d *DB) UpdateRedemptionStatus(ctx context.Context, id string, status domain.RedemptionStatus, failureReason string) error {
	res, err := d.db.ExecContext(ctx, `
		UPDATE redemptions SET status = ?, failure_reason = ?, updated_at = ? WHERE id = ?
	`, string(status), failureReason, formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("update redemption status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrRedemptionNotFound
	}
	return nil
}

// IncrementOTPAttempts bumps the attempt counter and returns the new value.
func (d *DB) IncrementOTPAttempts(ctx context.Context, id string) (int, error) {
	_, err := d.db.ExecContext(ctx, `
		UPDATE redemptions SET otp_attempts = otp_attempts + 1, updated_at = ? WHERE id = ?
	`, formatTime(time.Now()), id)
	if err != nil {
		return 0, fmt.Errorf("increment otp attempts: %w", err)
	}
	var attempts int
	err = d.db.QueryRowContext(ctx, `
		SELECT otp_attempts FROM redemptions WHERE id = ?
	`, id).Scan(&attempts)
	if err == sql.ErrNoRows {
		return 0, domain.ErrRedemptionNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("read otp attempts: %w", err)
	}
	return attempts, nil
}

// SetRedemptionDelivery stores validated shipping details.
func (d *DB) SetRedemptionDelivery(ctx context.Context, id string, details *domain.DeliveryDetails) error {
	data, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("encode delivery details: %w", err)
	}
	res, err := d.db.ExecContext(ctx, `
		UPDATE redemptions SET delivery_json = ?, updated_at = ? WHERE id = ?
	`, string(data), formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("set redemption delivery: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrRedemptionNotFound
	}
	return nil
}

// ListRedemptionsByUser returns a user's redemptions newest first.
func (d *DB) ListRedemptionsByUser(ctx context.Context, userID string, limit int) ([]domain.Redemption, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, user_id, wallet_account_id, item_type, item_ref, point_cost,
			status, otp_hash, otp_expiry, otp_attempts, debit_tx_id, delivery_json,
			failure_reason, created_at, updated_at
		FROM redemptions WHERE user_id = ?
		ORDER BY created_at DESC LIMIT ?
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list redemptions by user: %w", err)
	}
	defer rows.Close()
	return collectRedemptions(rows)
}

// ListStaleProcessing returns redemptions stuck in PROCESSING since before
// the cutoff.
func (d *DB) ListStaleProcessing(ctx context.Context, before time.Time) ([]domain.Redemption, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, user_id, wallet_account_id, item_type, item_ref, point_cost,
			status, otp_hash, otp_expiry, otp_attempts, debit_tx_id, delivery_json,
			failure_reason, created_at, updated_at
		FROM redemptions WHERE status = ? AND updated_at < ?
	`, string(domain.RedemptionProcessing), formatTime(before))
	if err != nil {
		return nil, fmt.Errorf("list stale processing: %w", err)
	}
	defer rows.Close()
	return collectRedemptions(rows)
}

// ListExpiredOTP returns redemptions abandoned in OTP_PENDING whose code
// expired before now.
func (d *DB) ListExpiredOTP(ctx context.Context, now time.Time) ([]domain.Redemption, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, user_id, wallet_account_id, item_type, item_ref, point_cost,
			status, otp_hash, otp_expiry, otp_attempts, debit_tx_id, delivery_json,
			failure_reason, created_at, updated_at
		FROM redemptions WHERE status = ? AND otp_expiry < ?
	`, string(domain.RedemptionOTPPending), formatTime(now))
	if err != nil {
		return nil, fmt.Errorf("list expired otp: %w", err)
	}
	defer rows.Close()
	return collectRedemptions(rows)
}

func collectRedemptions(rows *sql.Rows) ([]domain.Redemption, error) {
	var out []domain.Redemption
	for rows.Next() {
		r, err := scanRedemption(rows)
		if err != nil {
			return nil, fmt.Errorf("scan redemption: %w", err)
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

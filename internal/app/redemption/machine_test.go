package redemption

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/laurelhq/laurel/internal/app/ledger"
	"github.com/laurelhq/laurel/internal/domain"
	"github.com/laurelhq/laurel/internal/infra/observability"
	"github.com/laurelhq/laurel/internal/infra/sqlite"
)

// captureFulfiller records enqueued redemptions instead of executing them.
type captureFulfiller struct {
	mu       sync.Mutex
	enqueued []domain.Redemption
}

func (c *captureFulfiller) Enqueue(r domain.Redemption) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enqueued = append(c.enqueued, r)
	return nil
}

func (c *captureFulfiller) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.enqueued)
}

type fixture struct {
	machine   *Machine
	ledger    *ledger.Ledger
	db        *sqlite.DB
	fulfiller *captureFulfiller
	wallet    *domain.Account
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	db, err := sqlite.New(filepath.Join(t.TempDir(), "redemption-test.db"))
	if err != nil {
		t.Fatalf("sqlite.New failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	ctx := context.Background()
	l := ledger.New(db, slog.Default())
	wallet := &domain.Account{Kind: domain.KindUserWallet, TenantID: "t1", OwnerRef: "user-1"}
	if err := db.CreateAccount(ctx, wallet); err != nil {
		t.Fatalf("CreateAccount failed: %v", err)
	}
	if _, err := l.Append(ctx, &domain.Transaction{
		AccountID: wallet.ID, Amount: 500, Type: domain.TxAdjustment,
	}); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	tracer := observability.NewTracer(observability.TracerConfig{Enabled: true, MaxSpans: 100})
	m := New(cfg, db, l, tracer, slog.Default())
	cf := &captureFulfiller{}
	m.SetFulfiller(cf)
	return &fixture{machine: m, ledger: l, db: db, fulfiller: cf, wallet: wallet}
}

func (f *fixture) available(t *testing.T) int64 {
	t.Helper()
	avail, err := f.ledger.AvailableOf(context.Background(), f.wallet.ID)
	if err != nil {
		t.Fatalf("AvailableOf failed: %v", err)
	}
	return avail
}

// TestVoucherHappyPath walks a 500-point wallet through a 500-point voucher:
// initiate reserves the full balance, OTP verification enqueues fulfillment,
// and the success callback settles the reservation.
func TestVoucherHappyPath(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()

	r, code, err := f.machine.Initiate(ctx, "user-1", f.wallet.ID, domain.ItemVoucher, "amazon-500", 500)
	if err != nil {
		t.Fatalf("Initiate failed: %v", err)
	}
	if r.Status != domain.RedemptionOTPPending {
		t.Errorf("status = %s, want OTP_PENDING", r.Status)
	}
	if len(code) != 6 {
		t.Errorf("otp length = %d, want 6", len(code))
	}
	if got := f.available(t); got != 0 {
		t.Errorf("available after initiate = %d, want 0 (fully reserved)", got)
	}

	// The reservation blocks a second redemption of the same points.
	if _, _, err := f.machine.Initiate(ctx, "user-1", f.wallet.ID, domain.ItemVoucher, "amazon-500", 500); !errors.Is(err, domain.ErrInsufficientFunds) {
		t.Errorf("second Initiate = %v, want ErrInsufficientFunds", err)
	}

	r, err = f.machine.VerifyOTP(ctx, r.ID, code)
	if err != nil {
		t.Fatalf("VerifyOTP failed: %v", err)
	}
	if r.Status != domain.RedemptionProcessing {
		t.Errorf("status = %s, want PROCESSING (voucher skips delivery)", r.Status)
	}
	if f.fulfiller.count() != 1 {
		t.Errorf("enqueued = %d, want 1", f.fulfiller.count())
	}

	if err := f.machine.HandleFulfillment(ctx, r.ID, true, ""); err != nil {
		t.Fatalf("HandleFulfillment failed: %v", err)
	}
	got, err := f.machine.Get(ctx, r.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Status != domain.RedemptionCompleted {
		t.Errorf("status = %s, want COMPLETED", got.Status)
	}

	balance, _ := f.ledger.BalanceOf(ctx, f.wallet.ID)
	if balance != 0 {
		t.Errorf("balance after settlement = %d, want 0", balance)
	}
}

func TestVerifyOTP_ThreeStrikes(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()

	r, code, err := f.machine.Initiate(ctx, "user-1", f.wallet.ID, domain.ItemVoucher, "v1", 200)
	if err != nil {
		t.Fatalf("Initiate failed: %v", err)
	}
	wrong := "000000"
	if wrong == code {
		wrong = "000001"
	}

	for i := 0; i < 2; i++ {
		if _, err := f.machine.VerifyOTP(ctx, r.ID, wrong); !errors.Is(err, domain.ErrOtpMismatch) {
			t.Fatalf("attempt %d = %v, want ErrOtpMismatch", i+1, err)
		}
	}
	if _, err := f.machine.VerifyOTP(ctx, r.ID, wrong); !errors.Is(err, domain.ErrMaxAttemptsExceeded) {
		t.Fatalf("third attempt = %v, want ErrMaxAttemptsExceeded", err)
	}

	got, _ := f.machine.Get(ctx, r.ID)
	if got.Status != domain.RedemptionFailed {
		t.Errorf("status = %s, want FAILED", got.Status)
	}
	if got := f.available(t); got != 500 {
		t.Errorf("available = %d, want 500 (reservation reversed)", got)
	}

	// The correct code is useless now.
	if _, err := f.machine.VerifyOTP(ctx, r.ID, code); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Errorf("VerifyOTP after failure = %v, want ErrInvalidTransition", err)
	}
}

func TestVerifyOTP_Expired(t *testing.T) {
	cfg := DefaultConfig()
	cfg.OTPTTL = time.Nanosecond
	f := newFixture(t, cfg)
	ctx := context.Background()

	r, code, err := f.machine.Initiate(ctx, "user-1", f.wallet.ID, domain.ItemVoucher, "v1", 100)
	if err != nil {
		t.Fatalf("Initiate failed: %v", err)
	}
	time.Sleep(10 * time.Millisecond)
	if _, err := f.machine.VerifyOTP(ctx, r.ID, code); !errors.Is(err, domain.ErrOtpExpired) {
		t.Fatalf("VerifyOTP = %v, want ErrOtpExpired", err)
	}

	got, _ := f.machine.Get(ctx, r.ID)
	if got.Status != domain.RedemptionFailed {
		t.Errorf("status = %s, want FAILED", got.Status)
	}
	if got := f.available(t); got != 500 {
		t.Errorf("available = %d, want 500 (reservation reversed)", got)
	}
}

func TestMerchFlow(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()

	r, code, err := f.machine.Initiate(ctx, "user-1", f.wallet.ID, domain.ItemMerch, "hoodie-xl", 300)
	if err != nil {
		t.Fatalf("Initiate failed: %v", err)
	}
	r, err = f.machine.VerifyOTP(ctx, r.ID, code)
	if err != nil {
		t.Fatalf("VerifyOTP failed: %v", err)
	}
	if r.Status != domain.RedemptionAwaitingDelivery {
		t.Errorf("status = %s, want AWAITING_DELIVERY_DETAILS", r.Status)
	}
	if f.fulfiller.count() != 0 {
		t.Errorf("enqueued = %d, want 0 before delivery details", f.fulfiller.count())
	}

	t.Run("incomplete details rejected", func(t *testing.T) {
		_, err := f.machine.SubmitDeliveryDetails(ctx, r.ID, &domain.DeliveryDetails{FullName: "A"})
		if !errors.Is(err, domain.ErrIncompleteDeliveryDetails) {
			t.Errorf("SubmitDeliveryDetails = %v, want ErrIncompleteDeliveryDetails", err)
		}
	})

	details := &domain.DeliveryDetails{
		FullName: "Asha Rao", PhoneNumber: "9876543210",
		AddressLine1: "42 MG Road", City: "Bengaluru", Pincode: "560001",
	}
	r, err = f.machine.SubmitDeliveryDetails(ctx, r.ID, details)
	if err != nil {
		t.Fatalf("SubmitDeliveryDetails failed: %v", err)
	}
	if r.Status != domain.RedemptionProcessing {
		t.Errorf("status = %s, want PROCESSING", r.Status)
	}
	if f.fulfiller.count() != 1 {
		t.Errorf("enqueued = %d, want 1", f.fulfiller.count())
	}
}

func TestHandleFulfillment_Idempotent(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()

	r, code, err := f.machine.Initiate(ctx, "user-1", f.wallet.ID, domain.ItemVoucher, "v1", 100)
	if err != nil {
		t.Fatalf("Initiate failed: %v", err)
	}
	if _, err := f.machine.VerifyOTP(ctx, r.ID, code); err != nil {
		t.Fatalf("VerifyOTP failed: %v", err)
	}
	if err := f.machine.HandleFulfillment(ctx, r.ID, true, ""); err != nil {
		t.Fatalf("HandleFulfillment failed: %v", err)
	}

	// Replays, including a contradictory one, change nothing.
	for _, ok := range []bool{true, false} {
		if err := f.machine.HandleFulfillment(ctx, r.ID, ok, "late"); err != nil {
			t.Fatalf("replayed HandleFulfillment(%v) = %v, want nil", ok, err)
		}
	}
	got, _ := f.machine.Get(ctx, r.ID)
	if got.Status != domain.RedemptionCompleted {
		t.Errorf("status = %s, want COMPLETED after replays", got.Status)
	}
	balance, _ := f.ledger.BalanceOf(ctx, f.wallet.ID)
	if balance != 400 {
		t.Errorf("balance = %d, want 400 (debited exactly once)", balance)
	}
}

func TestHandleFulfillment_Failure(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()

	r, code, err := f.machine.Initiate(ctx, "user-1", f.wallet.ID, domain.ItemVoucher, "v1", 100)
	if err != nil {
		t.Fatalf("Initiate failed: %v", err)
	}
	if _, err := f.machine.VerifyOTP(ctx, r.ID, code); err != nil {
		t.Fatalf("VerifyOTP failed: %v", err)
	}
	if err := f.machine.HandleFulfillment(ctx, r.ID, false, "vendor unavailable"); err != nil {
		t.Fatalf("HandleFulfillment failed: %v", err)
	}

	got, _ := f.machine.Get(ctx, r.ID)
	if got.Status != domain.RedemptionFailed {
		t.Errorf("status = %s, want FAILED", got.Status)
	}
	if got.FailureReason != "vendor unavailable" {
		t.Errorf("FailureReason = %q, want vendor unavailable", got.FailureReason)
	}
	if got := f.available(t); got != 500 {
		t.Errorf("available = %d, want 500 (reservation reversed)", got)
	}
}

func TestFailStale(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ProcessingTimeout = time.Nanosecond
	f := newFixture(t, cfg)
	ctx := context.Background()

	r, code, err := f.machine.Initiate(ctx, "user-1", f.wallet.ID, domain.ItemVoucher, "v1", 100)
	if err != nil {
		t.Fatalf("Initiate failed: %v", err)
	}
	if _, err := f.machine.VerifyOTP(ctx, r.ID, code); err != nil {
		t.Fatalf("VerifyOTP failed: %v", err)
	}

	time.Sleep(10 * time.Millisecond)
	n, err := f.machine.FailStale(ctx)
	if err != nil {
		t.Fatalf("FailStale failed: %v", err)
	}
	if n != 1 {
		t.Errorf("FailStale = %d, want 1", n)
	}

	got, _ := f.machine.Get(ctx, r.ID)
	if got.Status != domain.RedemptionFailed {
		t.Errorf("status = %s, want FAILED", got.Status)
	}
	if got.FailureReason != "fulfillment timeout" {
		t.Errorf("FailureReason = %q, want fulfillment timeout", got.FailureReason)
	}
	if got := f.available(t); got != 500 {
		t.Errorf("available = %d, want 500 (reservation reversed)", got)
	}
}

func TestFailStale_AbandonedOTP(t *testing.T) {
	cfg := DefaultConfig()
	cfg.OTPTTL = time.Nanosecond
	f := newFixture(t, cfg)
	ctx := context.Background()

	// The user walks away after initiation: no VerifyOTP call ever comes.
	r, _, err := f.machine.Initiate(ctx, "user-1", f.wallet.ID, domain.ItemVoucher, "v1", 500)
	if err != nil {
		t.Fatalf("Initiate failed: %v", err)
	}
	if got := f.available(t); got != 0 {
		t.Fatalf("available = %d, want 0 while reserved", got)
	}

	time.Sleep(10 * time.Millisecond)
	n, err := f.machine.FailStale(ctx)
	if err != nil {
		t.Fatalf("FailStale failed: %v", err)
	}
	if n != 1 {
		t.Errorf("FailStale = %d, want 1", n)
	}

	got, _ := f.machine.Get(ctx, r.ID)
	if got.Status != domain.RedemptionFailed {
		t.Errorf("status = %s, want FAILED", got.Status)
	}
	if got.FailureReason != "otp expired" {
		t.Errorf("FailureReason = %q, want otp expired", got.FailureReason)
	}
	if got := f.available(t); got != 500 {
		t.Errorf("available = %d, want 500 (reservation reversed)", got)
	}

	// A live OTP must not be swept.
	f2 := newFixture(t, DefaultConfig())
	if _, _, err := f2.machine.Initiate(ctx, "user-1", f2.wallet.ID, domain.ItemVoucher, "v1", 100); err != nil {
		t.Fatalf("Initiate failed: %v", err)
	}
	if n, err := f2.machine.FailStale(ctx); err != nil || n != 0 {
		t.Errorf("FailStale = %d, %v, want 0 for a live OTP", n, err)
	}
}

func TestInitiateValidation(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()

	tests := []struct {
		name     string
		itemType domain.ItemType
		cost     int64
		wantErr  error
	}{
		{"unknown item type", "GIFT", 100, domain.ErrInvalidItemType},
		{"zero cost", domain.ItemVoucher, 0, domain.ErrAmountNotPositive},
		{"cost above balance", domain.ItemVoucher, 501, domain.ErrInsufficientFunds},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := f.machine.Initiate(ctx, "user-1", f.wallet.ID, tt.itemType, "x", tt.cost)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Initiate = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

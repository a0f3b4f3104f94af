// Package redemption implements the OTP-gated redemption workflow.
//
// A redemption reserves wallet points the moment it is initiated (a PENDING
// REDEMPTION debit on the ledger) and holds that reservation across the OTP
// gate and asynchronous fulfillment. Exactly one of two things happens to
// the reservation: it settles (COMPLETED) when fulfillment succeeds, or it
// is reversed when the redemption fails for any reason. Points are never
// lost in between.
//
// The state machine:
//
//	INITIATED → OTP_PENDING → OTP_VERIFIED ┬→ PROCESSING → COMPLETED
//	                                       └→ AWAITING_DELIVERY_DETAILS → PROCESSING
//	(any non-terminal) → FAILED
//
// VOUCHER redemptions skip the delivery-details step.
package redemption

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/laurelhq/laurel/internal/app/ledger"
	"github.com/laurelhq/laurel/internal/domain"
	"github.com/laurelhq/laurel/internal/infra/observability"
)

// Fulfiller accepts redemptions ready for asynchronous fulfillment.
type Fulfiller interface {
	Enqueue(r domain.Redemption) error
}

// Config controls redemption behavior.
type Config struct {
	OTPTTL            time.Duration // OTP validity window (default: 10m)
	MaxOTPAttempts    int           // wrong codes before the redemption fails (default: 3)
	ProcessingTimeout time.Duration // PROCESSING watchdog cutoff (default: 15m)
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		OTPTTL:            10 * time.Minute,
		MaxOTPAttempts:    3,
		ProcessingTimeout: 15 * time.Minute,
	}
}

// Machine drives redemptions through the state machine.
type Machine struct {
	config    Config
	store     domain.RedemptionStore
	ledger    *ledger.Ledger
	tracer    *observability.Tracer
	log       *slog.Logger
	fulfiller Fulfiller

	mu    sync.Mutex
	locks map[string]*sync.Mutex // per-redemption serialization
}

// New creates a redemption machine. The fulfiller is attached separately via
// SetFulfiller because the worker pool needs the machine for its completion
// callback.
func New(cfg Config, store domain.RedemptionStore, l *ledger.Ledger, tracer *observability.Tracer, log *slog.Logger) *Machine {
	if cfg.OTPTTL <= 0 {
		cfg.OTPTTL = DefaultConfig().OTPTTL
	}
	if cfg.MaxOTPAttempts <= 0 {
		cfg.MaxOTPAttempts = DefaultConfig().MaxOTPAttempts
	}
	if cfg.ProcessingTimeout <= 0 {
		cfg.ProcessingTimeout = DefaultConfig().ProcessingTimeout
	}
	return &Machine{
		config: cfg,
		store:  store,
		ledger: l,
		tracer: tracer,
		log:    log.With("component", "redemption"),
		locks:  make(map[string]*sync.Mutex),
	}
}

// SetFulfiller attaches the worker pool that executes PROCESSING redemptions.
func (m *Machine) SetFulfiller(f Fulfiller) { m.fulfiller = f }

// lockFor returns the mutex serializing operations on one redemption.
func (m *Machine) lockFor(id string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[id]
	if !ok {
		l = &sync.Mutex{}
		m.locks[id] = l
	}
	return l
}

// releaseLock drops the per-redemption mutex once the redemption is terminal.
func (m *Machine) releaseLock(id string) {
	m.mu.Lock()
	delete(m.locks, id)
	m.mu.Unlock()
}

// ─── Initiate ───────────────────────────────────────────────────────────────

// Initiate starts a redemption: it reserves the point cost on the wallet,
// generates the OTP and returns the redemption together with the plaintext
// code. The code is handed to the out-of-band delivery channel (email, SMS)
// by the caller and is not retrievable afterwards.
func (m *Machine) Initiate(ctx context.Context, userID, walletID string, itemType domain.ItemType, itemRef string, pointCost int64) (*domain.Redemption, string, error) {
	span := m.tracer.StartSpan(ctx, "redemption.initiate", map[string]string{"item_type": string(itemType)})

	r, code, err := m.initiate(ctx, userID, walletID, itemType, itemRef, pointCost)
	m.tracer.EndSpan(span, err)
	return r, code, err
}

func (m *Machine) initiate(ctx context.Context, userID, walletID string, itemType domain.ItemType, itemRef string, pointCost int64) (*domain.Redemption, string, error) {
	if !itemType.Valid() {
		return nil, "", domain.ErrInvalidItemType
	}
	if pointCost <= 0 {
		return nil, "", domain.ErrAmountNotPositive
	}

	// Reserve the cost. The PENDING debit holds the points against
	// concurrent spends without settling them.
	debit := &domain.Transaction{
		AccountID:     walletID,
		Amount:        -pointCost,
		Type:          domain.TxRedemption,
		Status:        domain.TxPending,
		ReferenceNote: fmt.Sprintf("redemption of %s", itemRef),
		CreatedBy:     userID,
	}
	txID, err := m.ledger.Append(ctx, debit)
	if err != nil {
		return nil, "", err
	}

	r := &domain.Redemption{
		UserID:          userID,
		WalletAccountID: walletID,
		ItemType:        itemType,
		ItemRef:         itemRef,
		PointCost:       pointCost,
		Status:          domain.RedemptionInitiated,
		DebitTxID:       txID,
	}
	if err := m.store.InsertRedemption(ctx, r); err != nil {
		// The reservation must not outlive a redemption that never existed.
		if rerr := m.ledger.Reverse(ctx, txID, "redemption insert failed", "system"); rerr != nil {
			m.log.Error("orphaned reservation", "tx_id", txID, "error", rerr)
		}
		return nil, "", err
	}

	code, err := generateOTP()
	if err != nil {
		m.fail(ctx, r, "otp generation failed")
		return nil, "", err
	}
	hash, err := hashOTP(code)
	if err != nil {
		m.fail(ctx, r, "otp generation failed")
		return nil, "", err
	}
	if err := m.store.SetRedemptionOTP(ctx, r.ID, hash, time.Now().Add(m.config.OTPTTL)); err != nil {
		m.fail(ctx, r, "otp storage failed")
		return nil, "", err
	}
	r.Status = domain.RedemptionOTPPending

	observability.RedemptionTransitions.WithLabelValues(string(domain.RedemptionOTPPending)).Inc()
	m.log.Info("redemption initiated",
		"redemption_id", r.ID, "user_id", userID,
		"item_type", itemType, "item_ref", itemRef, "cost", pointCost)
	return r, code, nil
}

// ─── VerifyOTP ──────────────────────────────────────────────────────────────

// VerifyOTP checks the submitted code. On success the redemption advances to
// AWAITING_DELIVERY_DETAILS (MERCH) or straight to PROCESSING (VOUCHER). An
// expired code or a third wrong attempt terminalizes the redemption and
// reverses the reservation.
func (m *Machine) VerifyOTP(ctx context.Context, redemptionID, code string) (*domain.Redemption, error) {
	lock := m.lockFor(redemptionID)
	lock.Lock()
	defer lock.Unlock()

	span := m.tracer.StartSpan(ctx, "redemption.verify_otp", map[string]string{"redemption_id": redemptionID})
	r, err := m.verifyOTP(ctx, redemptionID, code)
	m.tracer.EndSpan(span, err)
	return r, err
}

func (m *Machine) verifyOTP(ctx context.Context, redemptionID, code string) (*domain.Redemption, error) {
	r, err := m.store.GetRedemption(ctx, redemptionID)
	if err != nil {
		return nil, err
	}
	if r.Status != domain.RedemptionOTPPending {
		return nil, domain.ErrInvalidTransition
	}

	if time.Now().After(r.OTPExpiry) {
		observability.OTPFailures.WithLabelValues("expired").Inc()
		m.fail(ctx, r, "otp expired")
		return nil, domain.ErrOtpExpired
	}

	if !checkOTP(r.OTPHash, code) {
		attempts, err := m.store.IncrementOTPAttempts(ctx, redemptionID)
		if err != nil {
			return nil, err
		}
		if attempts >= m.config.MaxOTPAttempts {
			observability.OTPFailures.WithLabelValues("max_attempts").Inc()
			m.fail(ctx, r, "otp attempts exhausted")
			return nil, domain.ErrMaxAttemptsExceeded
		}
		observability.OTPFailures.WithLabelValues("mismatch").Inc()
		return nil, domain.ErrOtpMismatch
	}

	// Verified. The OTP_VERIFIED row is persisted so pollers observe it,
	// then the redemption advances immediately: merchandise needs a shipping
	// address before fulfillment; vouchers go straight to the worker pool.
	if err := m.transition(ctx, r, domain.RedemptionOTPVerified, ""); err != nil {
		return nil, err
	}
	next := domain.RedemptionAwaitingDelivery
	if r.ItemType == domain.ItemVoucher {
		next = domain.RedemptionProcessing
	}
	if err := m.transition(ctx, r, next, ""); err != nil {
		return nil, err
	}
	if next == domain.RedemptionProcessing {
		m.enqueue(r)
	}

	m.log.Info("otp verified", "redemption_id", r.ID, "next", next)
	return r, nil
}

// ─── SubmitDeliveryDetails ──────────────────────────────────────────────────

// SubmitDeliveryDetails attaches shipping information to a MERCH redemption
// and advances it to PROCESSING.
func (m *Machine) SubmitDeliveryDetails(ctx context.Context, redemptionID string, details *domain.DeliveryDetails) (*domain.Redemption, error) {
	lock := m.lockFor(redemptionID)
	lock.Lock()
	defer lock.Unlock()

	r, err := m.store.GetRedemption(ctx, redemptionID)
	if err != nil {
		return nil, err
	}
	if r.Status != domain.RedemptionAwaitingDelivery {
		return nil, domain.ErrInvalidTransition
	}
	if err := details.Validate(); err != nil {
		return nil, err
	}

	if err := m.store.SetRedemptionDelivery(ctx, redemptionID, details); err != nil {
		return nil, err
	}
	r.DeliveryDetails = details
	if err := m.transition(ctx, r, domain.RedemptionProcessing, ""); err != nil {
		return nil, err
	}
	m.enqueue(r)

	m.log.Info("delivery details submitted", "redemption_id", r.ID, "city", details.City)
	return r, nil
}

// ─── HandleFulfillment ──────────────────────────────────────────────────────

// HandleFulfillment is the outcome callback from the fulfillment workers.
// Success settles the reservation; failure reverses it. The callback is
// idempotent: replays against a terminal redemption are no-ops.
func (m *Machine) HandleFulfillment(ctx context.Context, redemptionID string, ok bool, reason string) error {
	lock := m.lockFor(redemptionID)
	lock.Lock()
	defer lock.Unlock()

	r, err := m.store.GetRedemption(ctx, redemptionID)
	if err != nil {
		return err
	}
	if r.Status.Terminal() {
		m.log.Debug("duplicate fulfillment callback ignored",
			"redemption_id", redemptionID, "status", r.Status)
		return nil
	}
	if r.Status != domain.RedemptionProcessing {
		return domain.ErrInvalidTransition
	}

	if !ok {
		m.fail(ctx, r, reason)
		m.releaseLock(redemptionID)
		return nil
	}

	if err := m.ledger.CompletePending(ctx, r.DebitTxID); err != nil {
		return err
	}
	if err := m.transition(ctx, r, domain.RedemptionCompleted, ""); err != nil {
		return err
	}
	m.releaseLock(redemptionID)

	m.log.Info("redemption completed", "redemption_id", r.ID, "item_ref", r.ItemRef)
	return nil
}

// ─── Queries ────────────────────────────────────────────────────────────────

// Get returns a redemption by id.
func (m *Machine) Get(ctx context.Context, redemptionID string) (*domain.Redemption, error) {
	return m.store.GetRedemption(ctx, redemptionID)
}

// ListByUser returns a user's recent redemptions, newest first.
func (m *Machine) ListByUser(ctx context.Context, userID string, limit int) ([]domain.Redemption, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return m.store.ListRedemptionsByUser(ctx, userID, limit)
}

// ─── Watchdog ───────────────────────────────────────────────────────────────

// FailStale fails redemptions the user or the workers abandoned: those stuck
// in PROCESSING beyond the configured timeout, and those still in OTP_PENDING
// past their code's expiry. Both hold a wallet reservation that must flow
// back. Returns the number failed. Runs from the daemon's watchdog ticker.
func (m *Machine) FailStale(ctx context.Context) (int, error) {
	now := time.Now()

	stale, err := m.store.ListStaleProcessing(ctx, now.Add(-m.config.ProcessingTimeout))
	if err != nil {
		return 0, err
	}
	failed := m.failEach(ctx, stale, domain.RedemptionProcessing, "fulfillment timeout")

	expired, err := m.store.ListExpiredOTP(ctx, now)
	if err != nil {
		return failed, err
	}
	failed += m.failEach(ctx, expired, domain.RedemptionOTPPending, "otp expired")

	if failed > 0 {
		m.log.Warn("stale redemptions failed", "count", failed)
	}
	return failed, nil
}

// failEach terminalizes each listed redemption still in the expected state.
func (m *Machine) failEach(ctx context.Context, rs []domain.Redemption, expect domain.RedemptionStatus, reason string) int {
	failed := 0
	for i := range rs {
		r := &rs[i]
		lock := m.lockFor(r.ID)
		lock.Lock()
		// Recheck under the lock: a verify or fulfillment callback may have
		// landed between the listing and here.
		cur, err := m.store.GetRedemption(ctx, r.ID)
		if err == nil && cur.Status == expect {
			m.fail(ctx, cur, reason)
			failed++
		}
		lock.Unlock()
		m.releaseLock(r.ID)
	}
	return failed
}

// ─── Internal Transitions ───────────────────────────────────────────────────

// transition validates and persists a state change.
func (m *Machine) transition(ctx context.Context, r *domain.Redemption, to domain.RedemptionStatus, reason string) error {
	if !domain.CanTransition(r.Status, to) {
		return domain.ErrInvalidTransition
	}
	if err := m.store.UpdateRedemptionStatus(ctx, r.ID, to, reason); err != nil {
		return err
	}
	r.Status = to
	r.FailureReason = reason
	observability.RedemptionTransitions.WithLabelValues(string(to)).Inc()
	return nil
}

// fail terminalizes the redemption and reverses its reservation. Errors are
// logged rather than returned: fail runs on paths that already carry a more
// specific error for the caller.
func (m *Machine) fail(ctx context.Context, r *domain.Redemption, reason string) {
	if err := m.transition(ctx, r, domain.RedemptionFailed, reason); err != nil {
		m.log.Error("failed to terminalize redemption",
			"redemption_id", r.ID, "reason", reason, "error", err)
		return
	}
	if r.DebitTxID != "" {
		if err := m.ledger.Reverse(ctx, r.DebitTxID, reason, "system"); err != nil {
			m.log.Error("failed to reverse reservation",
				"redemption_id", r.ID, "tx_id", r.DebitTxID, "error", err)
		}
	}
	m.log.Info("redemption failed", "redemption_id", r.ID, "reason", reason)
}

// enqueue hands the redemption to the fulfillment pool. A missing or full
// pool is not fatal; the watchdog will fail the redemption if nothing picks
// it up.
func (m *Machine) enqueue(r *domain.Redemption) {
	if m.fulfiller == nil {
		m.log.Warn("no fulfiller attached", "redemption_id", r.ID)
		return
	}
	if err := m.fulfiller.Enqueue(*r); err != nil {
		m.log.Error("fulfillment enqueue failed", "redemption_id", r.ID, "error", err)
	}
}

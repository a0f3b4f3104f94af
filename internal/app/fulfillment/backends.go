package fulfillment

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/laurelhq/laurel/internal/domain"
)

// SimulatedVoucherBackend issues voucher codes without a vendor call.
type SimulatedVoucherBackend struct {
	Latency time.Duration // optional artificial delay
}

// Fulfill returns a generated voucher code as the vendor reference.
func (b *SimulatedVoucherBackend) Fulfill(ctx context.Context, r domain.Redemption) (string, error) {
	if b.Latency > 0 {
		select {
		case <-time.After(b.Latency):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return fmt.Sprintf("VCH-%s", uuid.NewString()[:8]), nil
}

// SimulatedMerchBackend creates shipment orders without a vendor call. It
// rejects redemptions that reached it without delivery details.
type SimulatedMerchBackend struct {
	Latency time.Duration
}

// Fulfill returns a generated shipment id as the vendor reference.
func (b *SimulatedMerchBackend) Fulfill(ctx context.Context, r domain.Redemption) (string, error) {
	if err := r.DeliveryDetails.Validate(); err != nil {
		return "", err
	}
	if b.Latency > 0 {
		select {
		case <-time.After(b.Latency):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return fmt.Sprintf("SHP-%s", uuid.NewString()[:8]), nil
}

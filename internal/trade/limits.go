package trade

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/papertrade/trading-engine/internal/model"
)

var (
	// ErrQuantityLimitExceeded is returned when an order asks for more
	// shares than a single order may carry.
	ErrQuantityLimitExceeded = fmt.Errorf("%w: quantity limit exceeded", model.ErrInvalidOrder)

	// ErrNotionalLimitExceeded is returned when price × quantity exceeds the
	// maximum value of a single order.
	ErrNotionalLimitExceeded = fmt.Errorf("%w: notional limit exceeded", model.ErrInvalidOrder)
)

// Limits caps the size of a single order. A zero field disables that cap.
type Limits struct {
	// MaxQuantity is the largest share count accepted in one order.
	MaxQuantity int64

	// MaxNotional is the largest order total (price × quantity) accepted.
	MaxNotional decimal.Decimal
}

// NewLimits creates per-order limits. Negative values are treated as zero.
func NewLimits(maxQuantity int64, maxNotional decimal.Decimal) Limits {
	if maxQuantity < 0 {
		maxQuantity = 0
	}
	if maxNotional.IsNegative() {
		maxNotional = decimal.Zero
	}
	return Limits{MaxQuantity: maxQuantity, MaxNotional: maxNotional}
}

// Check validates an order's quantity and total against the limits.
func (l Limits) Check(quantity int64, total decimal.Decimal) error {
	if l.MaxQuantity > 0 && quantity > l.MaxQuantity {
		return fmt.Errorf("%w: %d > %d", ErrQuantityLimitExceeded, quantity, l.MaxQuantity)
	}
	if l.MaxNotional.IsPositive() && total.GreaterThan(l.MaxNotional) {
		return fmt.Errorf("%w: %s > %s", ErrNotionalLimitExceeded,
			total.StringFixed(model.MoneyScale), l.MaxNotional.StringFixed(model.MoneyScale))
	}
	return nil
}

package app

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"budgetsync/internal/budget"
)

// ParseAmount parses a non-negative decimal amount such as "1200" or "89.90".
func ParseAmount(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: amount %q is not a number", budget.ErrInvalidInput, s)
	}
	if d.IsNegative() {
		return decimal.Zero, fmt.Errorf("%w: amount %s must not be negative", budget.ErrInvalidInput, s)
	}
	return d, nil
}

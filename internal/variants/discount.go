package variants

import (
	"github.com/shopspring/decimal"

	"github.com/utafrali/cartengine/internal/domain"
)

// TagPercentageDiscount is the registry tag of PercentageDiscount.
const TagPercentageDiscount = "percentage_discount"

var hundred = decimal.NewFromInt(100)

// PercentageDiscount takes a percentage off the subtotal.
type PercentageDiscount struct {
	Percentage decimal.Decimal `json:"percentage" validate:"gt=0,lte=100"`
}

// Total is the negated share of subtotal, truncated toward zero to whole
// cents.
func (d *PercentageDiscount) Total(subtotal decimal.Decimal) decimal.Decimal {
	return domain.TruncateMoney(subtotal.Mul(d.Percentage).Div(hundred)).Neg()
}

package domain

import "github.com/shopspring/decimal"

// MoneyPlaces is the number of fraction digits every total carries.
const MoneyPlaces = 2

// Zero is the zero amount.
var Zero = decimal.Zero

// RoundMoney rounds half away from zero to two places.
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(MoneyPlaces)
}

// TruncateMoney drops digits beyond two places, rounding toward zero.
func TruncateMoney(d decimal.Decimal) decimal.Decimal {
	return d.Truncate(MoneyPlaces)
}

// FormatMoney renders d with exactly two fraction digits.
func FormatMoney(d decimal.Decimal) string {
	return d.StringFixed(MoneyPlaces)
}

// Package utils provides small helpers shared across the backend.
package utils

import (
	"strings"

	"github.com/shopspring/decimal"
)

// FormatSymbol normalizes a trading symbol for storage and lookup.
func FormatSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// IsBlank reports whether a symbol is empty or all whitespace.
func IsBlank(symbol string) bool {
	return strings.TrimSpace(symbol) == ""
}

// Percent converts a ratio to a percentage value.
func Percent(ratio decimal.Decimal) decimal.Decimal {
	return ratio.Mul(decimal.NewFromInt(100))
}

// ClampUnit clamps v into [0, 1].
func ClampUnit(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

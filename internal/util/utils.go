package util

import (
	"strconv"
	"strings"
)

func ParseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

// ParseOptionalFloat returns nil for empty or malformed input.
func ParseOptionalFloat(s string) *float64 {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &f
}

// SymbolToMEXC converts "BTC/USDT" into the exchange id "BTCUSDT".
func SymbolToMEXC(symbol string) string {
	return strings.ToUpper(strings.ReplaceAll(symbol, "/", ""))
}

// SymbolFromAssets builds the unified "BASE/QUOTE" symbol.
func SymbolFromAssets(base, quote string) string {
	return strings.ToUpper(base) + "/" + strings.ToUpper(quote)
}

// FormatFixed renders v with exactly digits decimal places.
func FormatFixed(v float64, digits int) string {
	if digits < 0 {
		digits = 0
	}
	return strconv.FormatFloat(v, 'f', digits, 64)
}

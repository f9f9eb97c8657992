// Package numfmt converts between numbers and the compact "12.3K" / "1.4M"
// display form used on the card.
package numfmt

import (
	"math"
	"math/big"
	"strconv"
	"strings"
)

const (
	thousand = 1_000
	million  = 1_000_000
)

// FormatCompact renders v with one decimal and a K or M suffix from a thousand
// upwards, and with two plain decimals below that. Negative values are out of
// contract; NaN and infinities render as "0.00".
func FormatCompact(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return ToFixed(0, 2)
	}
	switch {
	case v >= million:
		return ToFixed(v/million, 1) + "M"
	case v >= thousand:
		return ToFixed(v/thousand, 1) + "K"
	default:
		return ToFixed(v, 2)
	}
}

// ParseCompact reverses FormatCompact. A malformed numeral yields NaN.
func ParseCompact(s string) float64 {
	s = strings.TrimSpace(s)

	multiplier := 1.0
	switch {
	case strings.HasSuffix(s, "K"):
		s, multiplier = strings.TrimSuffix(s, "K"), thousand
	case strings.HasSuffix(s, "M"):
		s, multiplier = strings.TrimSuffix(s, "M"), million
	}

	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return math.NaN()
	}
	return f * multiplier
}

// OrZero maps NaN and infinities to zero.
func OrZero(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

// ToFixed formats v with exactly digits decimals. Rounding is done on the
// exact binary value of v and ties round away from zero, which matches
// Number.prototype.toFixed rather than strconv's round-half-even.
func ToFixed(v float64, digits int) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return strconv.FormatFloat(v, 'f', digits, 64)
	}

	negative := v < 0
	if negative {
		v = -v
	}

	scale := new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(digits)), nil))
	scaled := new(big.Float).SetPrec(512).SetFloat64(v)
	scaled.Mul(scaled, scale)

	n, _ := scaled.Int(nil)
	frac := new(big.Float).SetPrec(512).Sub(scaled, new(big.Float).SetInt(n))
	if frac.Cmp(big.NewFloat(0.5)) >= 0 {
		n.Add(n, big.NewInt(1))
	}

	s := n.String()
	if digits > 0 {
		if len(s) <= digits {
			s = strings.Repeat("0", digits-len(s)+1) + s
		}
		s = s[:len(s)-digits] + "." + s[len(s)-digits:]
	}
	if negative {
		s = "-" + s
	}
	return s
}

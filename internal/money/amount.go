// Package money converts provider amount strings into fixed-point minor units.
package money

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
)

// MinorDigits is the number of fractional digits kept (Rappen for CHF).
const MinorDigits = 2

var (
	errEmpty = errors.New("empty amount")

	// Symmetric so that Abs never overflows.
	maxMinor = decimal.NewFromInt(math.MaxInt64)
	minMinor = decimal.NewFromInt(-math.MaxInt64)
)

// ParseMinor parses a locale formatted amount such as "65.50", "65,50",
// "1'234.50", "1.234,50", "CHF -12.00" or "(3.20)" into minor units.
func ParseMinor(raw string) (int64, error) {
	d, err := ParseDecimal(raw)
	if err != nil {
		return 0, err
	}
	return ToMinor(d)
}

// ParseDecimal normalizes separators and returns the amount as a decimal.
func ParseDecimal(raw string) (decimal.Decimal, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return decimal.Zero, errEmpty
	}

	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = s[1 : len(s)-1]
	}

	// Drop currency codes, symbols and grouping characters.
	var b strings.Builder
	for _, r := range s {
		switch {
		case unicode.IsDigit(r), r == '.', r == ',':
			b.WriteRune(r)
		case r == '-', r == '−':
			negative = !negative
		case r == '+':
		case r == '\'', r == '’', unicode.IsSpace(r):
		case unicode.IsLetter(r):
		default:
			return decimal.Zero, fmt.Errorf("invalid character %q in amount %q", r, raw)
		}
	}
	s = b.String()
	if s == "" {
		return decimal.Zero, fmt.Errorf("no digits in amount %q", raw)
	}

	s = normalizeSeparators(s)
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parsing amount %q: %w", raw, err)
	}
	if negative {
		d = d.Neg()
	}
	return d, nil
}

// normalizeSeparators rewrites s so that '.' is the only, decimal, separator.
func normalizeSeparators(s string) string {
	lastDot := strings.LastIndex(s, ".")
	lastComma := strings.LastIndex(s, ",")

	switch {
	case lastDot >= 0 && lastComma >= 0:
		if lastComma > lastDot {
			s = strings.ReplaceAll(s, ".", "")
			return strings.Replace(s, ",", ".", 1)
		}
		return strings.ReplaceAll(s, ",", "")
	case lastComma >= 0:
		if strings.Count(s, ",") > 1 || len(s)-lastComma-1 == 3 {
			return strings.ReplaceAll(s, ",", "")
		}
		return strings.Replace(s, ",", ".", 1)
	case strings.Count(s, ".") > 1:
		return strings.ReplaceAll(s, ".", "")
	}
	return s
}

// ToMinor converts d to minor units. Amounts with sub-minor precision are rejected.
func ToMinor(d decimal.Decimal) (int64, error) {
	shifted := d.Shift(MinorDigits)
	if !shifted.Equal(shifted.Truncate(0)) {
		return 0, fmt.Errorf("amount %s has more than %d decimal places", d.String(), MinorDigits)
	}
	if shifted.GreaterThan(maxMinor) || shifted.LessThan(minMinor) {
		return 0, fmt.Errorf("amount %s is out of range", d.String())
	}
	return shifted.IntPart(), nil
}

// FromMinor returns the decimal value of a minor-unit amount.
func FromMinor(minor int64) decimal.Decimal {
	return decimal.New(minor, -MinorDigits)
}

// Format renders minor units as a plain two-digit decimal string.
func Format(minor int64) string {
	return FromMinor(minor).StringFixed(MinorDigits)
}

// Abs returns the absolute value of a minor-unit amount.
func Abs(minor int64) int64 {
	if minor < 0 {
		return -minor
	}
	return minor
}

// Package money provides shared amount parsing and formatting utilities.
//
// Amounts travel through the API as decimal strings with 2 decimal
// places and are handled internally as big.Int in the smallest unit
// (1 RWF = 100 units). Arithmetic never touches floats.
package money

import (
	"math/big"
	"strings"
)

const Decimals = 2

// Parse converts a decimal string (e.g. "1500.50") to its smallest-unit
// big.Int representation (150050). Returns (nil, false) on invalid input.
//
// Rules:
//   - Empty string returns (0, true)
//   - Negative amounts are rejected
//   - Multiple decimal points are rejected
//   - Fractional parts are padded/truncated to 2 decimal places
func Parse(s string) (*big.Int, bool) {
	if s == "" {
		return big.NewInt(0), true
	}

	if strings.HasPrefix(s, "-") {
		return nil, false
	}

	parts := strings.Split(s, ".")
	if len(parts) > 2 {
		return nil, false
	}
	whole := parts[0]
	frac := ""
	if len(parts) > 1 {
		frac = parts[1]
	}

	// Pad or trim to 2 decimals
	for len(frac) < Decimals {
		frac += "0"
	}
	frac = frac[:Decimals]

	combined := whole + frac
	result, ok := new(big.Int).SetString(combined, 10)
	return result, ok
}

// ParsePositive is Parse restricted to strictly positive amounts.
func ParsePositive(s string) (*big.Int, bool) {
	v, ok := Parse(s)
	if !ok || v.Sign() <= 0 {
		return nil, false
	}
	return v, true
}

// Format converts a smallest-unit big.Int to a human-readable decimal
// string with exactly 2 decimal places (e.g. "1500.50").
func Format(amount *big.Int) string {
	if amount == nil {
		return "0.00"
	}
	neg := amount.Sign() < 0
	abs := new(big.Int).Abs(amount)
	s := abs.String()
	for len(s) < Decimals+1 {
		s = "0" + s
	}
	decimal := len(s) - Decimals
	result := s[:decimal] + "." + s[decimal:]
	if neg {
		result = "-" + result
	}
	return result
}

// Normalize re-formats a decimal string to canonical form with exactly
// 2 decimal places. Invalid input comes back unchanged.
func Normalize(s string) string {
	v, ok := Parse(s)
	if !ok {
		return s
	}
	return Format(v)
}

// Sub returns a-b as a formatted string. Returns ("", false) if either
// input is invalid or the result would be negative.
func Sub(a, b string) (string, bool) {
	av, ok := Parse(a)
	if !ok {
		return "", false
	}
	bv, ok := Parse(b)
	if !ok {
		return "", false
	}
	diff := new(big.Int).Sub(av, bv)
	if diff.Sign() < 0 {
		return "", false
	}
	return Format(diff), true
}

// Add returns a+b as a formatted string. Returns ("", false) if either
// input is invalid.
func Add(a, b string) (string, bool) {
	av, ok := Parse(a)
	if !ok {
		return "", false
	}
	bv, ok := Parse(b)
	if !ok {
		return "", false
	}
	return Format(new(big.Int).Add(av, bv)), true
}

// Cmp compares two amount strings. Returns -1, 0, or 1 like big.Int.Cmp,
// and false if either input is invalid.
func Cmp(a, b string) (int, bool) {
	av, ok := Parse(a)
	if !ok {
		return 0, false
	}
	bv, ok := Parse(b)
	if !ok {
		return 0, false
	}
	return av.Cmp(bv), true
}

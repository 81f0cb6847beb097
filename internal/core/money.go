// Package core holds the expense-splitting domain: participants, expenses,
// balance aggregation and settlement matching.
//
// This file contains the numeric helpers shared by the aggregator and the
// matcher, plus amount parsing for callers that collect user input.
package core

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// MaxAmount is the largest amount or share accepted from callers. Above
// 2^53 a float64 can no longer represent every integer, so owed sums would
// lose exactness.
const MaxAmount int64 = 1 << 53

// Round rounds to the nearest integer with halves rounded up
// (towards positive infinity), so Round(-2.5) == -2. Values beyond
// ±math.MaxInt64 saturate, so the result can always be negated.
func Round(x float64) int64 {
	switch {
	case math.IsNaN(x):
		return 0
	case x >= math.MaxInt64:
		return math.MaxInt64
	case x <= -math.MaxInt64:
		return -math.MaxInt64
	}
	f := math.Floor(x)
	if x-f >= 0.5 {
		f++
	}
	return int64(f)
}

// addSaturating adds two amounts, sticking at the int64 limits instead of
// wrapping around.
func addSaturating(a, b int64) int64 {
	sum := a + b
	if a > 0 && b > 0 && sum < 0 {
		return math.MaxInt64
	}
	if a < 0 && b < 0 && (sum >= 0 || sum == math.MinInt64) {
		return -math.MaxInt64
	}
	return sum
}

// ClampShare floors a custom share at zero.
func ClampShare(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}

// ConvertToBase converts an amount entered in a foreign currency into the
// base currency using rate base units per foreign unit. Inputs or results
// above MaxAmount are rejected.
func ConvertToBase(raw int64, rate float64) (int64, error) {
	if math.IsNaN(rate) || math.IsInf(rate, 0) || rate <= 0 {
		return 0, ErrInvalidExchangeRate
	}
	if raw < 0 || raw > MaxAmount {
		return 0, ErrInvalidAmount
	}
	converted := Round(float64(raw) * rate)
	if converted > MaxAmount {
		return 0, fmt.Errorf("%w: converted amount exceeds %d", ErrInvalidAmount, MaxAmount)
	}
	return converted, nil
}

// ParseAmount parses a user-entered amount into whole base-currency units.
//
// Thousands separators (",", "_", spaces) are ignored and a fractional part
// is rounded half up. Zero, negative, malformed and values above MaxAmount
// are rejected.
//
// Examples:
//
//	ParseAmount("12,000") -> 12000, nil
//	ParseAmount("12.5")   -> 13, nil
//	ParseAmount("-1")     -> 0, ErrInvalidAmount
func ParseAmount(s string) (int64, error) {
	s = strings.TrimSpace(s)
	s = strings.NewReplacer(",", "", "_", "", " ", "").Replace(s)
	if s == "" || strings.HasPrefix(s, "+") || strings.HasPrefix(s, "-") {
		return 0, ErrInvalidAmount
	}
	parts := strings.Split(s, ".")
	if len(parts) > 2 {
		return 0, ErrInvalidAmount
	}
	for _, part := range parts {
		for _, r := range part {
			if r < '0' || r > '9' {
				return 0, ErrInvalidAmount
			}
		}
	}
	if parts[0] == "" {
		parts[0] = "0"
	}
	v, err := strconv.ParseFloat(strings.Join(parts, "."), 64)
	if err != nil || v > float64(MaxAmount) {
		return 0, ErrInvalidAmount
	}
	amount := Round(v)
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}
	return amount, nil
}

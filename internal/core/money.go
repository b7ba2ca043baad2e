// Package core provides money parsing and handling utilities.
//
// Amounts are whole won. Parsing accepts the forms users type on the record
// page: plain digits, thousands separators and a trailing "원".
package core

import (
	"strconv"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
)

// ParseWon converts user input to a positive amount.
//
// Examples:
//
//	ParseWon("4500")    -> 4500, nil
//	ParseWon("4,500")   -> 4500, nil
//	ParseWon("4,500원") -> 4500, nil
//	ParseWon("0")       -> 0, ErrInvalidAmount
func ParseWon(s string) (Won, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "원")
	s = strings.ReplaceAll(s, ",", "")
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, ErrInvalidAmount
	}
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return 0, ErrInvalidAmount
		}
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil || v <= 0 {
		return 0, ErrInvalidAmount
	}
	return Won(v), nil
}

// String formats the amount with thousands separators, e.g. "45,000원".
func (w Won) String() string {
	neg := w < 0
	if neg {
		w = -w
	}
	digits := strconv.FormatInt(int64(w), 10)
	var b strings.Builder
	if neg {
		b.WriteByte('-')
	}
	lead := len(digits) % 3
	if lead > 0 {
		b.WriteString(digits[:lead])
	}
	for i := lead; i < len(digits); i += 3 {
		if b.Len() > 0 && !(neg && b.Len() == 1) {
			b.WriteByte(',')
		}
		b.WriteString(digits[i : i+3])
	}
	b.WriteString("원")
	return b.String()
}

// Progress returns total/target as a percentage rounded to one decimal
// place. A non-positive target yields zero.
func Progress(total, target Won) decimal.Decimal {
	if target <= 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(int64(total)).
		Mul(decimal.NewFromInt(100)).
		Div(decimal.NewFromInt(int64(target))).
		Round(1)
}

// Experience is the experience earned for an amount: one point per 1,000
// won, at least one.
func Experience(amount Won) int {
	if xp := int(amount / 1000); xp > 1 {
		return xp
	}
	return 1
}

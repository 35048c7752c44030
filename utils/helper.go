package utils

import (
	"strings"

	"github.com/shopspring/decimal"
)

func NewTrue() *bool {
	b := true
	return &b
}

func NewFalse() *bool {
	b := false
	return &b
}

// CoercePrice parses a price out of a dirty scraper string ("$5.99",
// "5.99 USD", " 12,49"). Returns nil when nothing numeric survives.
func CoercePrice(raw string) *decimal.Decimal {
	var b strings.Builder
	for _, r := range strings.TrimSpace(raw) {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.':
			b.WriteRune(r)
		case r == ',':
			// European decimal comma; harmless as thousands separator too
			// since list prices stay under four digits.
			b.WriteRune('.')
		}
	}
	cleaned := b.String()
	if cleaned == "" {
		return nil
	}
	d, err := decimal.NewFromString(cleaned)
	if err != nil || d.IsNegative() {
		return nil
	}
	return &d
}

// UniqueSlice removes duplicates while preserving first-seen order.
func UniqueSlice[T comparable](in []T) []T {
	seen := make(map[T]struct{}, len(in))
	out := make([]T, 0, len(in))
	for _, v := range in {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

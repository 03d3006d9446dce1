// Package codes implements the sequential order and invoice code scheme:
// "<prefix><2-digit-year>.<4-digit-zero-padded-sequence>", e.g. "O/24.0007".
// Codes are audit-critical: once issued they never change, and allocation
// must be serialized per (prefix, year).
package codes

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/go-faster/errors"
)

const (
	// OrderPrefix marks order codes.
	OrderPrefix = "O/"
	// RealInvoicePrefix marks invoices issued for paid orders.
	RealInvoicePrefix = "I/"
	// ProformaInvoicePrefix marks invoices issued ahead of payment
	// (bank-transfer orders).
	ProformaInvoicePrefix = "F/"

	sequenceDigits = 4
)

// Format renders a code for the given prefix, year and sequence number.
func Format(prefix string, year, seq int) string {
	return fmt.Sprintf("%s%02d.%0*d", prefix, year%100, sequenceDigits, seq)
}

// First returns the first code of a (prefix, year) series.
func First(prefix string, year int) string {
	return Format(prefix, year, 1)
}

// Increment returns the code following the given one: the numeric suffix
// plus one, zero-padded back to fixed width. The fixed width is what makes
// plain string comparison find the latest code.
func Increment(code string) (string, error) {
	head, number, ok := strings.Cut(code, ".")
	if !ok {
		return "", errors.Errorf("malformed code %q", code)
	}
	n, err := strconv.Atoi(number)
	if err != nil {
		return "", errors.Wrapf(err, "malformed code %q", code)
	}
	return fmt.Sprintf("%s.%0*d", head, sequenceDigits, n+1), nil
}

// NextAfter returns the code to allocate given the lexicographically-maximal
// existing code of the series, or the first code when the series is empty.
func NextAfter(prefix string, year int, latest string) (string, error) {
	if latest == "" {
		return First(prefix, year), nil
	}
	return Increment(latest)
}

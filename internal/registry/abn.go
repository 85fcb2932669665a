// Package registry looks up business identifiers in the public business
// register and parses its JSON(P) and SOAP responses into one record type.
package registry

import (
	"errors"
	"strings"
)

// ErrInvalidIdentifier is returned for identifiers that fail the format or
// checksum test. Callers treat it as a boundary validation failure.
var ErrInvalidIdentifier = errors.New("registry: invalid identifier")

var abnWeights = [11]int{10, 1, 3, 5, 7, 9, 11, 13, 15, 17, 19}

// NormalizeABN strips everything but digits.
func NormalizeABN(s string) string {
	return strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, s)
}

// ValidABN applies the 11-digit weighted checksum: subtract one from the
// first digit, weight each digit, and require the sum to divide by 89.
func ValidABN(s string) bool {
	digits := NormalizeABN(s)
	if len(digits) != 11 {
		return false
	}
	sum := 0
	for i := 0; i < 11; i++ {
		d := int(digits[i] - '0')
		if i == 0 {
			d--
		}
		sum += d * abnWeights[i]
	}
	return sum%89 == 0
}

// Package phone canonicalizes phone-number input into the WhatsApp channel
// address used as the unique lead key.
//
// Input arrives in every shape operators and providers produce: with or
// without the "whatsapp:" channel prefix, with or without the country code,
// with spaces, dashes, or a dropped mobile trunk digit. All of them must
// collapse to one canonical form, otherwise the same lead ends up with
// multiple records.
package phone

import (
	"errors"
	"fmt"
	"strings"
)

const (
	// ChannelPrefix is the WhatsApp address scheme used by the provider.
	ChannelPrefix = "whatsapp:"
	// DefaultCountryCode is prepended to national numbers (Brazil).
	DefaultCountryCode = "55"
	// areaCodeLength is the length of Brazilian area codes.
	areaCodeLength = 2
	// trunkDigit is the mobile trunk digit commonly dropped when numbers are
	// stored in their older 8-digit-line form.
	trunkDigit = "9"
)

// ErrInvalidPhone indicates input that cannot be canonicalized. Callers must
// reject the operation explicitly rather than fall back to a default.
var ErrInvalidPhone = errors.New("invalid phone number")

// Normalize canonicalizes raw phone input into "whatsapp:+<country><national>".
//
// Digit-count rules: 10 or 11 digits are treated as a national number missing
// the country code; 12 or 13 digits must already start with the country code.
// A 12-digit result is a mobile number stored without the trunk digit, which
// is reinserted after the area code. Every valid input normalizes to exactly
// 13 digits, and Normalize is idempotent over its own output.
func Normalize(raw string) (string, error) {
	digits := stripNonDigits(raw)

	switch {
	case len(digits) == 10 || len(digits) == 11:
		digits = DefaultCountryCode + digits
	case len(digits) == 12 || len(digits) == 13:
		if !strings.HasPrefix(digits, DefaultCountryCode) {
			return "", fmt.Errorf("%w: %q does not start with country code %s", ErrInvalidPhone, raw, DefaultCountryCode)
		}
	default:
		return "", fmt.Errorf("%w: %q has %d digits", ErrInvalidPhone, raw, len(digits))
	}

	// 12 digits = country code + area code + 8-digit line: the mobile trunk
	// digit was dropped. Reinsert it right after the area code.
	if len(digits) == len(DefaultCountryCode)+areaCodeLength+8 {
		cut := len(DefaultCountryCode) + areaCodeLength
		digits = digits[:cut] + trunkDigit + digits[cut:]
	}

	return ChannelPrefix + "+" + digits, nil
}

// stripNonDigits removes everything except ASCII digits.
func stripNonDigits(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] >= '0' && s[i] <= '9' {
			b.WriteByte(s[i])
		}
	}
	return b.String()
}

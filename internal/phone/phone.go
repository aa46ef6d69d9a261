// Package phone normalizes raw phone numbers into the E.164 form consumed by
// messaging transports.
package phone

import (
	"fmt"
	"regexp"
	"strings"
)

// DefaultCountryCode is the local dialing prefix (Chile).
const DefaultCountryCode = "56"

var nonDigits = regexp.MustCompile(`\D`)

// Normalize strips every non-digit, prepends countryCode unless the digits
// already start with it, and prefixes "+". The result is not validated.
func Normalize(raw, countryCode string) string {
	if countryCode == "" {
		countryCode = DefaultCountryCode
	}

	digits := nonDigits.ReplaceAllString(raw, "")
	if digits == "" {
		return ""
	}

	if strings.HasPrefix(digits, countryCode) {
		return "+" + digits
	}
	return "+" + countryCode + digits
}

// Valid reports whether normalized matches +<countryCode><8-9 digits>.
func Valid(normalized, countryCode string) bool {
	if countryCode == "" {
		countryCode = DefaultCountryCode
	}

	rest, ok := strings.CutPrefix(normalized, "+"+countryCode)
	if !ok {
		return false
	}
	if len(rest) < 8 || len(rest) > 9 {
		return false
	}
	for _, r := range rest {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// Parse normalizes raw and validates the result.
func Parse(raw, countryCode string) (string, error) {
	normalized := Normalize(raw, countryCode)
	if !Valid(normalized, countryCode) {
		return "", fmt.Errorf("invalid phone: %s", raw)
	}
	return normalized, nil
}

package gateway

import (
	"errors"
	"strings"
)

var ErrInvalidPayerNumber = errors.New("invalid payer mobile number")

const countryCode = "233"

// NormalizeMSISDN canonicalizes a payer number to international format
// (233XXXXXXXXX). Local numbers with a leading 0 and bare subscriber
// numbers are both accepted; anything that does not reduce to a
// plausible 12-digit MSISDN is rejected.
func NormalizeMSISDN(phone string) (string, error) {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	cleaned := b.String()
	if cleaned == "" {
		return "", ErrInvalidPayerNumber
	}

	if strings.HasPrefix(cleaned, "0") {
		cleaned = countryCode + cleaned[1:]
	} else if !strings.HasPrefix(cleaned, countryCode) {
		cleaned = countryCode + cleaned
	}

	if len(cleaned) != 12 {
		return "", ErrInvalidPayerNumber
	}
	return cleaned, nil
}

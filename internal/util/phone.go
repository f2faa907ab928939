package util

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/nyaruka/phonenumbers"
)

var nonDialable = regexp.MustCompile(`[^\d\+]+`)

// NormalizePhone tries to normalize user input into E.164-like format.
// It never fails; use PhoneNormalizer when invalid input has to be rejected.
func NormalizePhone(raw string) string {
	s := nonDialable.ReplaceAllString(strings.TrimSpace(raw), "")

	if strings.HasPrefix(s, "00") {
		s = "+" + s[2:]
	}

	return s
}

const (
	ReasonNoDigits        = "no digits"
	ReasonTooFewDigits    = "too few digits"
	ReasonCountryMismatch = "country mismatch"
)

// NormalizationError is a permanent failure: retrying cannot fix the number.
type NormalizationError struct {
	Raw    string
	Reason string
}

func (e *NormalizationError) Error() string {
	return fmt.Sprintf("invalid phone number %q: %s", e.Raw, e.Reason)
}

func IsNormalizationError(err error) bool {
	var ne *NormalizationError
	return errors.As(err, &ne)
}

// PhoneNormalizer converts free-form input into the gateway's +<cc><nsn> format.
type PhoneNormalizer struct {
	countryCode     string
	nsnLength       int
	minDigits       int
	restrictCountry bool
}

// NewPhoneNormalizer builds a normalizer for the given ISO region (e.g. "PH").
func NewPhoneNormalizer(region string, minDigits int, restrictCountry bool) (*PhoneNormalizer, error) {
	region = strings.ToUpper(strings.TrimSpace(region))
	cc := phonenumbers.GetCountryCodeForRegion(region)
	if cc == 0 {
		return nil, fmt.Errorf("unknown phone region %q", region)
	}
	if minDigits <= 0 {
		minDigits = 10
	}

	return &PhoneNormalizer{
		countryCode:     strconv.Itoa(cc),
		nsnLength:       10,
		minDigits:       minDigits,
		restrictCountry: restrictCountry,
	}, nil
}

func (n *PhoneNormalizer) CountryCode() string { return n.countryCode }

// Normalize returns the number in +<cc><nsn> form or a *NormalizationError.
func (n *PhoneNormalizer) Normalize(raw string) (string, error) {
	s := NormalizePhone(raw)
	plus := strings.HasPrefix(s, "+")
	digits := strings.ReplaceAll(s, "+", "")

	if digits == "" {
		return "", &NormalizationError{Raw: raw, Reason: ReasonNoDigits}
	}

	switch {
	case !plus && strings.HasPrefix(digits, "0") && len(digits) == n.nsnLength+1:
		return "+" + n.countryCode + digits[1:], nil
	case !plus && !strings.HasPrefix(digits, "0") && len(digits) == n.nsnLength &&
		!strings.HasPrefix(digits, n.countryCode):
		return "+" + n.countryCode + digits, nil
	case strings.HasPrefix(digits, n.countryCode) && len(digits) == len(n.countryCode)+n.nsnLength:
		return "+" + digits, nil
	}

	if len(digits) < n.minDigits {
		return "", &NormalizationError{Raw: raw, Reason: ReasonTooFewDigits}
	}
	if n.restrictCountry {
		return "", &NormalizationError{Raw: raw, Reason: ReasonCountryMismatch}
	}

	return "+" + digits, nil
}

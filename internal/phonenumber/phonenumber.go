// Package phonenumber converts between human-entered, pretty-printed and
// normalized phone numbers.
//
// The normalized form is the lookup key of the contact directory. Two numbers
// belong to the same contact if and only if their normalized forms are equal.
package phonenumber

import (
	"regexp"
	"strings"
)

// northAmerican matches 10-digit numbers with an optional leading country
// code "1" and the usual separators, e.g. "+1 (613) 555-1234".
var northAmerican = regexp.MustCompile(`^\+?1?[ -]?\(?([0-9]{3})\)?[-. ]?([0-9]{3})[-. ]?([0-9]{4})$`)

// e164 matches a "+" followed by 7 to 15 digits, optionally separated by
// single spaces.
var e164 = regexp.MustCompile(`^\+(?:[0-9] ?){6,14}[0-9]$`)

// Strip removes every character from the number that is not a digit.
func Strip(number string) string {
	var b strings.Builder
	b.Grow(len(number))
	for _, r := range number {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ToPretty formats a North American number as "(613)555-1234". Any other
// input is returned unchanged.
func ToPretty(number string) string {
	m := northAmerican.FindStringSubmatch(number)
	if m == nil {
		return number
	}
	return "(" + m[1] + ")" + m[2] + "-" + m[3]
}

// ToNormalized returns the canonical form of a number: a "+" followed by
// digits only, with a "1" country code added to 10-digit numbers. It never
// fails, so callers should Validate user input first.
func ToNormalized(number string) string {
	digits := Strip(number)
	if len(digits) == 10 {
		digits = "1" + digits
	}
	return "+" + digits
}

// Validate reports whether the number looks like a North American or an
// E.164 phone number.
func Validate(number string) bool {
	return northAmerican.MatchString(number) || e164.MatchString(number)
}

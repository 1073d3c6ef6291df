package services

import (
	"strings"
	"unicode"
)

// Authorizer decides whether a sender or group is on the allow-list.
// It only gates inline replies; persistence and broadcasts never consult it.
type Authorizer struct {
	countryCode string
	numbers     map[string]struct{}
	groups      []string
}

// NewAuthorizer builds an Authorizer. Numbers are canonicalized with
// countryCode; groups are matched by substring.
func NewAuthorizer(numbers, groups []string, countryCode string) *Authorizer {
	a := &Authorizer{
		countryCode: strings.TrimLeft(countryCode, "+0"),
		numbers:     make(map[string]struct{}, len(numbers)),
	}
	for _, n := range numbers {
		if c := a.Canonical(n); c != "" {
			a.numbers[c] = struct{}{}
		}
	}
	for _, g := range groups {
		if g = strings.TrimSpace(g); g != "" {
			a.groups = append(a.groups, g)
		}
	}
	return a
}

// Canonical strips formatting and leading zeros and prefixes the country
// code to local numbers. "0803 123 4567" and "+234 803 123 4567" both become
// "2348031234567".
func (a *Authorizer) Canonical(number string) string {
	// chat transports append a domain to ids, e.g. "2348031234567@c.us"
	if at := strings.IndexByte(number, '@'); at >= 0 {
		number = number[:at]
	}
	international := strings.HasPrefix(strings.TrimSpace(number), "+")

	digits := strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) {
			return r
		}
		return -1
	}, number)

	if strings.HasPrefix(digits, "00") {
		return strings.TrimLeft(digits, "0")
	}
	if !international && strings.HasPrefix(digits, "0") {
		return a.countryCode + strings.TrimLeft(digits, "0")
	}
	return strings.TrimLeft(digits, "0")
}

// IsAllowedNumber reports whether number is on the allow-list.
func (a *Authorizer) IsAllowedNumber(number string) bool {
	c := a.Canonical(number)
	if c == "" {
		return false
	}
	_, ok := a.numbers[c]
	return ok
}

// IsAllowedGroup matches the display name case-insensitively, or the opaque
// group id by plain substring.
func (a *Authorizer) IsAllowedGroup(name, id string) bool {
	lowerName := strings.ToLower(name)
	for _, g := range a.groups {
		if name != "" && strings.Contains(lowerName, strings.ToLower(g)) {
			return true
		}
		if id != "" && strings.Contains(id, g) {
			return true
		}
	}
	return false
}

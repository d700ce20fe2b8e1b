package api

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// maxNameLen is the maximum length for first/last name fields.
const maxNameLen = 100

// maxEmailLen is the maximum length for email addresses (RFC 5321).
const maxEmailLen = 254

// minPasswordLen and maxPasswordLen bound account passwords.
const (
	minPasswordLen = 8
	maxPasswordLen = 256
)

// emailRe is a basic email format regex. Not exhaustive; validates structure only.
var emailRe = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

// digitsRe strips everything except digits from a phone number.
var digitsRe = regexp.MustCompile(`\D`)

// validateStringLen checks that a string does not exceed maxLen characters.
// Returns an error message if invalid, empty string if OK.
func validateStringLen(field, value string, maxLen int) string {
	if utf8.RuneCountInString(value) > maxLen {
		return field + " exceeds maximum length"
	}
	return ""
}

// validateRequiredStringLen checks that a non-empty string does not exceed maxLen.
func validateRequiredStringLen(field, value string, maxLen int) string {
	if value == "" {
		return field + " is required"
	}
	return validateStringLen(field, value, maxLen)
}

// validateEmail checks that a string is a valid-looking email address.
func validateEmail(field, value string) string {
	if value == "" {
		return field + " is required"
	}
	if len(value) > maxEmailLen {
		return field + " exceeds maximum length"
	}
	if !emailRe.MatchString(value) {
		return field + " is not a valid email address"
	}
	return ""
}

// validatePassword enforces password length bounds.
func validatePassword(field, value string) string {
	if len(value) < minPasswordLen {
		return field + " must be at least 8 characters"
	}
	if len(value) > maxPasswordLen {
		return field + " exceeds maximum length"
	}
	return ""
}

// normalizePhone converts a US phone number in common formats to E.164.
// Accepts 10 digits, 11 digits with a leading 1, or an already-normalized
// +1XXXXXXXXXX string. Returns "" when the input cannot be normalized.
func normalizePhone(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}

	hasPlus := strings.HasPrefix(raw, "+")
	digits := digitsRe.ReplaceAllString(raw, "")

	switch {
	case len(digits) == 10:
		return "+1" + digits
	case len(digits) == 11 && strings.HasPrefix(digits, "1"):
		return "+" + digits
	case hasPlus && len(digits) == 11 && strings.HasPrefix(digits, "1"):
		return "+" + digits
	}
	return ""
}

// validatePhone checks that a phone number normalizes to US E.164.
func validatePhone(field, value string) string {
	if value == "" {
		return field + " is required"
	}
	if normalizePhone(value) == "" {
		return field + " must be a valid US phone number"
	}
	return ""
}

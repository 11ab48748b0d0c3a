package ledger

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

var (
	emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	phonePattern = regexp.MustCompile(`^\+?[\d\s-]{10,}$`)
)

// ValidateEmail rejects addresses that are obviously malformed.
func ValidateEmail(field, address string) error {
	if !emailPattern.MatchString(strings.TrimSpace(address)) {
		return invalid(field, "not a valid email address")
	}
	return nil
}

// ValidatePhone requires at least ten digits, spaces or dashes with an optional leading plus.
func ValidatePhone(field, phone string) error {
	if !phonePattern.MatchString(strings.TrimSpace(phone)) {
		return invalid(field, "not a valid phone number")
	}
	return nil
}

// PhoneDigits strips everything but digits.
func PhoneDigits(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// NameFromAddress turns "jane.doe@example.com" into "Jane Doe".
func NameFromAddress(address string) string {
	local := strings.TrimSpace(address)
	if at := strings.Index(local, "@"); at >= 0 {
		local = local[:at]
	}
	local = strings.NewReplacer(".", " ", "_", " ").Replace(local)
	words := strings.Fields(local)
	for i, w := range words {
		r, size := utf8.DecodeRuneInString(w)
		words[i] = string(unicode.ToUpper(r)) + w[size:]
	}
	return strings.Join(words, " ")
}

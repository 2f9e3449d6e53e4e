package models

import (
	"strings"
	"unicode"
)

// WhatsApp JID suffixes stripped before normalization
var jidSuffixes = []string{"@c.us", "@s.whatsapp.net"}

// NormalizeContactID returns the canonical ledger key for a phone number or
// platform account id. Phone-like values lose whitespace and separators and
// get exactly one leading "+". Values containing letters are only trimmed.
// NormalizeContactID(NormalizeContactID(x)) == NormalizeContactID(x).
func NormalizeContactID(raw string) string {
	id := strings.TrimSpace(raw)
	for stripped := true; stripped; {
		stripped = false
		for _, suffix := range jidSuffixes {
			if strings.HasSuffix(id, suffix) {
				id = strings.TrimSpace(strings.TrimSuffix(id, suffix))
				stripped = true
			}
		}
	}
	if strings.TrimFunc(id, isSeparator) == "" {
		return ""
	}

	if !isPhoneLike(id) {
		return id
	}

	var b strings.Builder
	b.Grow(len(id) + 1)
	b.WriteByte('+')
	for _, r := range id {
		if unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func isSeparator(r rune) bool {
	switch r {
	case '+', '-', '.', '(', ')', '/':
		return true
	}
	return unicode.IsSpace(r)
}

// isPhoneLike reports whether s consists only of digits, "+" and separators
func isPhoneLike(s string) bool {
	digits := 0
	for _, r := range s {
		switch {
		case unicode.IsDigit(r):
			digits++
		case isSeparator(r):
		default:
			return false
		}
	}
	return digits > 0
}

// IsPhoneContact reports whether a normalized contact id is a phone number
func IsPhoneContact(contactID string) bool {
	return strings.HasPrefix(contactID, "+") && isPhoneLike(contactID)
}

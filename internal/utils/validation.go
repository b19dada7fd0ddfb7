package utils

import (
	"net/mail"
	"regexp"
	"strings"
	"unicode/utf8"
)

const accountPasswordSymbols = "~!@#$%^&*()_+-=`"

var (
	hangulNameRegex = regexp.MustCompile(`^[가-힣]{2,6}$`)
	letterRegex     = regexp.MustCompile(`[A-Za-z]`)
	digitRegex      = regexp.MustCompile(`[0-9]`)
)

// IsValidAccountPassword enforces the account password policy: 8 to 20
// characters with at least one letter, one digit and one symbol.
func IsValidAccountPassword(pw string) bool {
	n := utf8.RuneCountInString(pw)
	if n < 8 || n > 20 {
		return false
	}
	return letterRegex.MatchString(pw) &&
		digitRegex.MatchString(pw) &&
		strings.ContainsAny(pw, accountPasswordSymbols)
}

// IsHangulName reports whether name is 2 to 6 Hangul syllables.
func IsHangulName(name string) bool {
	return hangulNameRegex.MatchString(name)
}

// NormalizeEmail trims and lower-cases an address, returning false when it
// does not parse as a bare address.
func NormalizeEmail(e string) (string, bool) {
	e = strings.ToLower(strings.TrimSpace(e))
	addr, err := mail.ParseAddress(e)
	if err != nil || addr.Address != e {
		return "", false
	}
	return e, true
}

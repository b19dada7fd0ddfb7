package utils

import "strings"

const maskRune = '*'

// MaskEmail keeps the first three characters of the local part and replaces
// the rest of it with '*'. The domain is left untouched.
func MaskEmail(email string) string {
	at := strings.LastIndex(email, "@")
	if at < 0 {
		return email
	}
	local := []rune(email[:at])
	for i := 3; i < len(local); i++ {
		local[i] = maskRune
	}
	return string(local) + email[at:]
}

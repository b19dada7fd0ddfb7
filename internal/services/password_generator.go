package services

import (
	"crypto/rand"
	"math/big"
)

const (
	GeneratedPasswordLength = 10

	passwordLower   = "abcdefghijklmnopqrstuvwxyz"
	passwordUpper   = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	passwordDigits  = "0123456789"
	passwordSymbols = "#?!@$%^&*-"
)

// GeneratePassword returns a random password with at least one lowercase
// letter, one uppercase letter, one digit and one symbol.
func GeneratePassword() (string, error) {
	all := passwordLower + passwordUpper + passwordDigits + passwordSymbols
	out := make([]byte, 0, GeneratedPasswordLength)
	for _, set := range []string{passwordLower, passwordUpper, passwordDigits, passwordSymbols} {
		c, err := randomChar(set)
		if err != nil {
			return "", err
		}
		out = append(out, c)
	}
	for len(out) < GeneratedPasswordLength {
		c, err := randomChar(all)
		if err != nil {
			return "", err
		}
		out = append(out, c)
	}

	// Fisher-Yates so the required classes are not always up front.
	for i := len(out) - 1; i > 0; i-- {
		j, err := randomInt(i + 1)
		if err != nil {
			return "", err
		}
		out[i], out[j] = out[j], out[i]
	}
	return string(out), nil
}

func randomChar(set string) (byte, error) {
	i, err := randomInt(len(set))
	if err != nil {
		return 0, err
	}
	return set[i], nil
}

func randomInt(n int) (int, error) {
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0, err
	}
	return int(v.Int64()), nil
}

package utils

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	twilio "github.com/twilio/twilio-go"
	twilioclient "github.com/twilio/twilio-go/client"
	lookupsv2 "github.com/twilio/twilio-go/rest/lookups/v2"
)

// Korean mobile numbers, with or without dashes: 010-1234-5678, 0111234567 ...
var krMobileRegex = regexp.MustCompile(`^(01[016789])-?[0-9]{3,4}-?[0-9]{4}$`)

const krCountryCode = "+82"

var krCountry = "KR"

// NormalizeMobile returns the dash-free canonical form of a Korean mobile
// number, or false when the input is not one.
func NormalizeMobile(number string) (string, bool) {
	number = strings.TrimSpace(number)
	if !krMobileRegex.MatchString(number) {
		return "", false
	}
	return strings.ReplaceAll(number, "-", ""), true
}

// IsMobile reports whether number is an acceptable Korean mobile number.
func IsMobile(number string) bool {
	_, ok := NormalizeMobile(number)
	return ok
}

// ToE164 converts a canonical domestic number (01012345678) into E.164
// (+821012345678) for carrier delivery.
func ToE164(canonical string) string {
	return krCountryCode + strings.TrimPrefix(canonical, "0")
}

// ValidatePhoneNumber checks a canonical number.
//
//   - The local format check always runs.
//   - When validateWithTwilio is set and a client is given, a Twilio
//     Lookups v2 fetch confirms the number exists.
func ValidatePhoneNumber(
	ctx context.Context,
	canonical string,
	validateWithTwilio bool,
	tw *twilio.RestClient,
) (bool, error) {
	if !IsMobile(canonical) {
		return false, nil
	}
	if !validateWithTwilio || tw == nil {
		return true, nil
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	params := &lookupsv2.FetchPhoneNumberParams{CountryCode: &krCountry}
	_, err := tw.LookupsV2.FetchPhoneNumber(ToE164(canonical), params)
	if err == nil {
		return true, nil
	}

	if restErr, ok := err.(*twilioclient.TwilioRestError); ok {
		if restErr.Status == 404 {
			return false, nil
		}
		return false, fmt.Errorf("%w: twilio lookup failed: %d %s",
			ErrExternalServiceFailure, restErr.Status, restErr.Error())
	}
	return false, fmt.Errorf("%w: twilio lookup failed: %v", ErrExternalServiceFailure, err)
}

package momo

import (
	"fmt"
	"regexp"
	"strings"
)

// Rwandan mobile numbers: 25078/25079/25072/25073 plus seven digits.
var msisdnPattern = regexp.MustCompile(`^250(7[2389])[0-9]{7}$`)

// NormalizeMSISDN converts a Rwandan mobile number to the bare MSISDN form
// the MoMo API expects (2507XXXXXXXX, no plus sign). It accepts local
// (078...), international (+25078...) and already-normalized input.
func NormalizeMSISDN(phone string) (string, error) {
	s := strings.TrimSpace(phone)
	s = strings.ReplaceAll(s, " ", "")
	s = strings.TrimPrefix(s, "+")
	if strings.HasPrefix(s, "0") {
		s = "250" + s[1:]
	}
	if !msisdnPattern.MatchString(s) {
		return "", fmt.Errorf("invalid Rwandan mobile number: %q", phone)
	}
	return s, nil
}

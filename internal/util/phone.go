package util

import (
	"regexp"
	"strings"
)

var (
	e164Pattern = regexp.MustCompile(`^\+[1-9]\d{6,14}$`)
	nonDigits   = regexp.MustCompile(`\D`)
	phoneStrip  = strings.NewReplacer(" ", "", "-", "", "(", "", ")", "")
)

// NormalizePhone removes formatting characters so the same number always
// maps to the same rate-limit key and storage partition.
func NormalizePhone(phone string) string {
	return phoneStrip.Replace(strings.TrimSpace(phone))
}

// IsE164 reports whether the phone is in E.164 form (+ followed by 7-15 digits).
func IsE164(phone string) bool {
	return e164Pattern.MatchString(phone)
}

// DigitsOnly strips every non-digit character. Some SMS gateways reject
// the leading '+' of E.164 numbers.
func DigitsOnly(phone string) string {
	return nonDigits.ReplaceAllString(phone, "")
}

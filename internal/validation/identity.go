// Package validation holds the pure domain checks applied to entities
// extracted from a conversation: identity number (CPF) checksum, clinic
// business hours, slot granularity and date-in-future.
package validation

import "strings"

// Result is the outcome of a single field check. Message is a user-facing
// explanation and is empty when Valid is true.
type Result struct {
	Valid   bool   `json:"valid"`
	Message string `json:"message,omitempty"`
}

// OK is the zero-message valid result.
func OK() Result { return Result{Valid: true} }

// Invalid builds a failed result with the given explanation.
func Invalid(message string) Result { return Result{Valid: false, Message: message} }

// DigitsOnly strips everything that is not an ASCII digit.
func DigitsOnly(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ValidateIdentityNumber reports whether s is a well-formed CPF. Formatting
// characters are ignored. Eleven digits are required, repeated-digit
// sequences are rejected and both mod-11 check digits must match.
func ValidateIdentityNumber(s string) bool {
	digits := DigitsOnly(s)
	if len(digits) != 11 {
		return false
	}
	if strings.Count(digits, digits[:1]) == len(digits) {
		return false
	}

	d := make([]int, 11)
	for i := range digits {
		d[i] = int(digits[i] - '0')
	}

	if checkDigit(d[:9]) != d[9] {
		return false
	}
	return checkDigit(d[:10]) == d[10]
}

// checkDigit computes one CPF verifier over the given prefix. Weights run
// from len+1 down to 2; a remainder below 2 maps to 0.
func checkDigit(prefix []int) int {
	sum := 0
	weight := len(prefix) + 1
	for _, v := range prefix {
		sum += v * weight
		weight--
	}
	rem := sum % 11
	if rem < 2 {
		return 0
	}
	return 11 - rem
}

// FormatIdentityNumber renders eleven digits as 000.000.000-00. Inputs of any
// other length are returned unchanged.
func FormatIdentityNumber(s string) string {
	digits := DigitsOnly(s)
	if len(digits) != 11 {
		return s
	}
	return digits[0:3] + "." + digits[3:6] + "." + digits[6:9] + "-" + digits[9:11]
}

// MaskIdentityNumber hides all but the last two digits, for log lines and
// confirmations.
func MaskIdentityNumber(s string) string {
	digits := DigitsOnly(s)
	if len(digits) < 2 {
		return "***"
	}
	return "***.***.***-" + digits[len(digits)-2:]
}

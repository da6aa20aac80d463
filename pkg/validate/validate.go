package validate

import (
	"regexp"
	"strings"
	"unicode"
)

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// phonePattern accepts an optional leading + and digits with common
// separators. Significant digit count is checked separately.
var phonePattern = regexp.MustCompile(`^\+?[0-9][0-9 ()./-]*$`)

const minPhoneDigits = 8

// Name reports whether s is an acceptable person name: at least two
// visible characters after trimming.
func Name(s string) bool {
	trimmed := strings.TrimSpace(s)
	visible := 0
	for _, r := range trimmed {
		if !unicode.IsSpace(r) {
			visible++
		}
	}
	return visible >= 2
}

// Contact reports whether s looks like an email address or a phone
// number with at least minPhoneDigits significant digits.
func Contact(s string) bool {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return false
	}
	if emailPattern.MatchString(trimmed) {
		return true
	}
	if !phonePattern.MatchString(trimmed) {
		return false
	}
	digits := 0
	for _, r := range trimmed {
		if r >= '0' && r <= '9' {
			digits++
		}
	}
	return digits >= minPhoneDigits
}

package validation

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Size limits (in bytes)
const (
	MaxCodeSize        = 2 * 1024 * 1024  // generated document
	MaxArchiveSize     = 32 * 1024 * 1024 // version archive import
	MaxAudioSize       = 20 * 1024 * 1024 // recorded voice command
	MaxPayloadSize     = 256 * 1024       // single conduit payload
	MaxInstructionSize = 4 * 1024         // typed instruction
)

// String length limits
const (
	MaxEmailLength    = 255
	MaxPhoneLength    = 32
	MaxSelectorLength = 2048
	MaxErrorLength    = 4096
)

var (
	// EmailPattern is a basic email check
	EmailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
	// PhonePattern allows digits, spaces, dashes, dots, parentheses and a leading plus
	PhonePattern = regexp.MustCompile(`^\+?[0-9 ().-]{3,}$`)
)

// ValidateSize checks a byte slice against a limit.
func ValidateSize(data []byte, max int, fieldName string) error {
	if len(data) > max {
		return fmt.Errorf("%s size %d bytes exceeds maximum %d bytes", fieldName, len(data), max)
	}
	return nil
}

// ValidateString validates a string field with length and content checks
func ValidateString(value, fieldName string, minLen, maxLen int, required bool) error {
	if required && value == "" {
		return fmt.Errorf("%s is required", fieldName)
	}
	if value == "" {
		return nil
	}

	length := utf8.RuneCountInString(value)
	if length < minLen {
		return fmt.Errorf("%s must be at least %d characters", fieldName, minLen)
	}
	if length > maxLen {
		return fmt.Errorf("%s must not exceed %d characters", fieldName, maxLen)
	}
	if strings.Contains(value, "\x00") {
		return fmt.Errorf("%s contains invalid characters", fieldName)
	}
	return nil
}

// ValidateEmail validates an optional email address.
func ValidateEmail(email string) error {
	if err := ValidateString(email, "email", 0, MaxEmailLength, false); err != nil {
		return err
	}
	if email != "" && !EmailPattern.MatchString(email) {
		return fmt.Errorf("invalid email format")
	}
	return nil
}

// ValidatePhone validates an optional phone number.
func ValidatePhone(phone string) error {
	if err := ValidateString(phone, "phone", 0, MaxPhoneLength, false); err != nil {
		return err
	}
	if phone != "" && !PhonePattern.MatchString(phone) {
		return fmt.Errorf("invalid phone format")
	}
	return nil
}

// ValidateInstruction validates a typed instruction.
func ValidateInstruction(text string) error {
	return ValidateString(text, "instruction", 1, MaxInstructionSize, true)
}

// ValidateSelector validates a CSS selector coming from the inspector.
func ValidateSelector(selector string) error {
	return ValidateString(selector, "selector", 1, MaxSelectorLength, true)
}

// Truncate shortens s to at most n runes.
func Truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}

// Package validation provides reusable input validators shared by the
// orchestrator's public operations: generic string/limit/time-range checks,
// and escrow-domain-specific checks (transaction IDs, verification types).
package validation

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	transactionIDPattern = regexp.MustCompile(`^[a-z0-9-]+$`)

	// sqlInjectionPatterns screens for the same class of payloads regardless
	// of which field is being validated: SQL keywords paired with statement
	// terminators, comment markers, and script tags.
	sqlInjectionPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\bunion\b.*\bselect\b`),
		regexp.MustCompile(`(?i)\bdrop\b\s+\btable\b`),
		regexp.MustCompile(`--`),
		regexp.MustCompile(`(?i)<script`),
		regexp.MustCompile(`;`),
	}

	validVerificationTypes = map[string]bool{
		"TITLE_SEARCH": true,
		"INSPECTION":   true,
		"APPRAISAL":    true,
		"LENDING":      true,
	}

	timeRangePattern = regexp.MustCompile(`^\d+[mhd]$`)
)

func containsUnsafePattern(value string) bool {
	for _, pattern := range sqlInjectionPatterns {
		if pattern.MatchString(value) {
			return true
		}
	}
	return false
}

func containsControlCharacters(value string) bool {
	for _, r := range value {
		if r < 0x20 && r != '\t' && r != '\n' && r != '\r' {
			return true
		}
	}
	return false
}

// ValidateTransactionID checks that id is non-empty, bounded, and composed
// only of lowercase letters, digits, and hyphens. The charset excludes
// quotes, semicolons, whitespace, and angle brackets; a run of hyphens such
// as "--" is accepted, since ValidateStringInput's pattern screen is not
// applied here.
func ValidateTransactionID(id string) error {
	if id == "" {
		return fmt.Errorf("transaction id is required")
	}
	if len(id) > 64 {
		return fmt.Errorf("transaction id must be 64 characters or less")
	}
	if !transactionIDPattern.MatchString(id) {
		return fmt.Errorf("transaction id must contain only lowercase letters, digits, and hyphens")
	}
	return nil
}

// ValidateStringInput rejects values that are too long, contain control
// characters, or match a common SQL-injection / script-injection shape.
func ValidateStringInput(field, value string, maxLength int) error {
	if len(value) > maxLength {
		return fmt.Errorf("%s must be %d characters or less", field, maxLength)
	}
	if containsUnsafePattern(value) {
		return fmt.Errorf("%s contains potentially unsafe characters", field)
	}
	if containsControlCharacters(value) {
		return fmt.Errorf("%s contains invalid control characters", field)
	}
	return nil
}

// ValidateVerificationType checks membership in the closed verification-task
// type enum (§3 of the specification).
func ValidateVerificationType(t string) error {
	if containsUnsafePattern(t) {
		return fmt.Errorf("verification type contains potentially unsafe characters")
	}
	if !validVerificationTypes[t] {
		return fmt.Errorf("%q is not a recognized verification type", t)
	}
	return nil
}

// ValidateTimeRange checks a duration shorthand like "24h" or "7d" used by
// audit-trail and reporting queries.
func ValidateTimeRange(timeRange string) error {
	if containsUnsafePattern(timeRange) {
		return fmt.Errorf("time range contains potentially unsafe characters")
	}
	if !timeRangePattern.MatchString(timeRange) {
		return fmt.Errorf("time range must be in format like '24h', '7d', or '60m'")
	}
	return nil
}

// ValidateWindowMinutes bounds a reporting window to at most 7 days.
func ValidateWindowMinutes(minutes int) error {
	if minutes <= 0 {
		return fmt.Errorf("window minutes must be greater than 0")
	}
	if minutes > 10080 {
		return fmt.Errorf("window minutes must be 7 days (10080 minutes) or less")
	}
	return nil
}

// ValidateLimit bounds a page-size query parameter.
func ValidateLimit(limit int) error {
	if limit <= 0 {
		return fmt.Errorf("limit must be greater than 0")
	}
	if limit > 10000 {
		return fmt.Errorf("limit must be 10000 or less")
	}
	return nil
}

// SanitizeForLogging replaces control characters with '?' and truncates to
// 200 characters (appending "...") so untrusted input is safe to embed in a
// structured log line.
func SanitizeForLogging(input string) string {
	var b strings.Builder
	for _, r := range input {
		if r < 0x20 && r != '\t' && r != '\n' && r != '\r' {
			b.WriteRune('?')
			continue
		}
		b.WriteRune(r)
	}
	sanitized := b.String()

	const maxLen = 200
	if len(sanitized) > maxLen {
		return sanitized[:maxLen-3] + "..."
	}
	return sanitized
}

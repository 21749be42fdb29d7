// Package security validates user-supplied symbols and keeps credentials out
// of logs and command output.
package security

import (
	"io"
	"regexp"
	"strings"
	"unicode"

	apperrors "breakout-scanner/internal/errors"
)

var (
	// NSE/BSE trading symbols: uppercase letters, digits, & and -.
	symbolPattern = regexp.MustCompile(`^[A-Z0-9&-]{1,20}$`)

	// The Kite "token key:secret" header goes first; the key=value pattern
	// would otherwise consume the word token.
	sensitivePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)(token\s+)([A-Za-z0-9]{8,}:[A-Za-z0-9]{8,})`),
		regexp.MustCompile(`(?i)(api[_-]?key|api[_-]?secret|access[_-]?token|request[_-]?token|enctoken|authorization)(["']?\s*[=:]\s*["']?)([^\s"'&,}]+)`),
	}
)

// ValidateSymbol checks a trading symbol after upper-casing and trimming it.
func ValidateSymbol(symbol string) error {
	normalized := strings.TrimSpace(strings.ToUpper(symbol))

	switch {
	case normalized == "":
		return apperrors.NewValidationError("symbol", symbol, "symbol cannot be empty", apperrors.ErrInvalidSymbol)
	case len(normalized) > 20:
		return apperrors.NewValidationError("symbol", symbol, "symbol too long (max 20 characters)", apperrors.ErrInvalidSymbol)
	case !symbolPattern.MatchString(normalized):
		return apperrors.NewValidationError("symbol", symbol, "invalid symbol format", apperrors.ErrInvalidSymbol)
	}
	return nil
}

// SanitizeSymbol upper-cases a symbol and drops characters no symbol uses.
func SanitizeSymbol(symbol string) string {
	symbol = strings.TrimSpace(strings.ToUpper(symbol))

	var result strings.Builder
	for _, r := range symbol {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '&' || r == '-' {
			result.WriteRune(r)
		}
	}
	return result.String()
}

// MaskCredential masks a credential value for display.
func MaskCredential(value string) string {
	if len(value) == 0 {
		return ""
	}
	if len(value) <= 4 {
		return strings.Repeat("*", len(value))
	}
	if len(value) <= 8 {
		return value[:2] + strings.Repeat("*", len(value)-2)
	}
	return value[:4] + strings.Repeat("*", len(value)-8) + value[len(value)-4:]
}

// MaskSensitive masks credential values that appear as key=value, key: value
// or an Authorization "token key:secret" header inside free text.
func MaskSensitive(input string) string {
	result := input
	for _, pattern := range sensitivePatterns {
		result = pattern.ReplaceAllStringFunc(result, func(match string) string {
			parts := pattern.FindStringSubmatch(match)
			secret := parts[len(parts)-1]
			return strings.TrimSuffix(match, secret) + MaskCredential(secret)
		})
	}
	return result
}

// ContainsSensitiveData reports whether input would be changed by MaskSensitive.
func ContainsSensitiveData(input string) bool {
	for _, pattern := range sensitivePatterns {
		if pattern.MatchString(input) {
			return true
		}
	}
	return false
}

// RedactWriter masks credentials in everything written through it. Each
// Write is treated as a unit, which matches how zerolog emits one event per
// call.
type RedactWriter struct {
	w io.Writer
}

// NewRedactWriter wraps w.
func NewRedactWriter(w io.Writer) *RedactWriter {
	return &RedactWriter{w: w}
}

func (r *RedactWriter) Write(p []byte) (int, error) {
	s := string(p)
	if !ContainsSensitiveData(s) {
		return r.w.Write(p)
	}
	if _, err := io.WriteString(r.w, MaskSensitive(s)); err != nil {
		return 0, err
	}
	return len(p), nil
}

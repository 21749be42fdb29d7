package security

import (
	"bytes"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	apperrors "breakout-scanner/internal/errors"
)

func TestValidateSymbol(t *testing.T) {
	tests := []struct {
		symbol string
		valid  bool
	}{
		{"RELIANCE", true},
		{"m&m", true},
		{"BAJAJ-AUTO", true},
		{" infy ", true},
		{"", false},
		{"   ", false},
		{"NIFTY 50", false},
		{"TCS;DROP", false},
		{strings.Repeat("A", 21), false},
	}
	for _, tt := range tests {
		err := ValidateSymbol(tt.symbol)
		if (err == nil) != tt.valid {
			t.Errorf("ValidateSymbol(%q) = %v, want valid=%v", tt.symbol, err, tt.valid)
		}
		if err != nil && !apperrors.Is(err, apperrors.ErrInvalidSymbol) {
			t.Errorf("ValidateSymbol(%q) error %v is not ErrInvalidSymbol", tt.symbol, err)
		}
	}
}

func TestMaskSensitive(t *testing.T) {
	tests := []struct {
		in, secret string
	}{
		{`kite pull failed access_token=abcdefgh12345678 retry`, "abcdefgh12345678"},
		{`{"level":"info","api_key":"kitekey1234567"}`, "kitekey1234567"},
		{`Authorization: token apikey1234:accesstoken99`, "apikey1234:accesstoken99"},
	}
	for _, tt := range tests {
		got := MaskSensitive(tt.in)
		if strings.Contains(got, tt.secret) {
			t.Errorf("MaskSensitive(%q) = %q, secret still visible", tt.in, got)
		}
		if !ContainsSensitiveData(tt.in) {
			t.Errorf("ContainsSensitiveData(%q) = false", tt.in)
		}
	}

	plain := `pattern uptrend 5m level=101.50`
	if got := MaskSensitive(plain); got != plain {
		t.Errorf("MaskSensitive(%q) = %q, want unchanged", plain, got)
	}
}

func TestRedactWriter(t *testing.T) {
	var buf bytes.Buffer
	w := NewRedactWriter(&buf)

	line := []byte(`{"msg":"connect","access_token":"abcdefgh12345678"}` + "\n")
	n, err := w.Write(line)
	if err != nil || n != len(line) {
		t.Fatalf("Write = %d, %v", n, err)
	}
	if strings.Contains(buf.String(), "abcdefgh12345678") {
		t.Errorf("token leaked: %s", buf.String())
	}
	if !strings.Contains(buf.String(), "abcd********5678") {
		t.Errorf("masked token missing: %s", buf.String())
	}
}

// A masked credential never grows and never reveals more than its edges.
func TestProperty_MaskCredentialHidesMiddle(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("masking keeps length and hides the middle", prop.ForAll(
		func(value string) bool {
			masked := MaskCredential(value)
			if len(masked) != len(value) {
				return false
			}
			if len(value) > 8 {
				middle := masked[4 : len(masked)-4]
				return strings.Trim(middle, "*") == ""
			}
			return len(value) <= 4 && strings.Trim(masked, "*") == "" || masked[:2] == value[:2]
		},
		gen.AlphaString(),
	))

	properties.Property("sanitized symbols validate", prop.ForAll(
		func(raw string) bool {
			s := SanitizeSymbol(raw)
			if s == "" || len(s) > 20 {
				return true
			}
			return ValidateSymbol(s) == nil
		},
		gen.RegexMatch("[A-Za-z0-9&-]{0,24}"),
	))

	properties.TestingRun(t)
}

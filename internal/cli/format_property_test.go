package cli

import (
	"bytes"
	"fmt"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"breakout-scanner/internal/models"
)

// The bar width stays fixed and the filled share never exceeds the ratio.
func TestProperty_ProgressBarWidth(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("progress bar has constant width", prop.ForAll(
		func(current, total, width int) bool {
			bar := progressBar(current, total, width)
			end := strings.Index(bar, "]")
			if !strings.HasPrefix(bar, "[") || end < 0 {
				return false
			}
			cells := []rune(bar[1:end])
			if len(cells) != width {
				t.Logf("bar %q has %d cells, want %d", bar, len(cells), width)
				return false
			}
			filled := strings.Count(string(cells), "█")
			if current >= total && filled != width {
				return false
			}
			return filled*total <= max(current, 0)*width || current >= total
		},
		gen.IntRange(-10, 500),
		gen.IntRange(1, 400),
		gen.IntRange(1, 60),
	))

	properties.TestingRun(t)
}

func TestProperty_ParseTimeframeAcceptsFormatted(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("minutes parse in every accepted form", prop.ForAll(
		func(minutes int) bool {
			forms := []string{
				fmt.Sprint(minutes),
				fmt.Sprintf("%dm", minutes),
				fmt.Sprintf("%dh%dm", minutes/60, minutes%60),
			}
			for _, f := range forms {
				got, err := parseTimeframe(f)
				if err != nil || got != minutes {
					t.Logf("parseTimeframe(%q) = %d, %v", f, got, err)
					return false
				}
			}
			return true
		},
		gen.IntRange(1, 375),
	))

	properties.TestingRun(t)
}

func TestParseTimeframeRejects(t *testing.T) {
	for _, s := range []string{"", "0", "-5", "90s", "abc", "1.5m"} {
		if _, err := parseTimeframe(s); err == nil {
			t.Errorf("parseTimeframe(%q) succeeded", s)
		}
	}
}

func TestFormatAvailability(t *testing.T) {
	got := formatAvailability(models.Availability{
		Timeframe:           5,
		Available:           15,
		Required:            30,
		RemainingUntilClose: 300,
		LastError:           "timeout",
		ConsecutiveFailures: 2,
	})
	for _, want := range []string{"5m", " 50%", "15/30 candles", "300 to close", "last error: timeout, 2 failures"} {
		if !strings.Contains(got, want) {
			t.Errorf("formatAvailability() = %q, missing %q", got, want)
		}
	}
}

func TestFormatTimeframes(t *testing.T) {
	if got := formatTimeframes(nil); got != "-" {
		t.Errorf("formatTimeframes(nil) = %q", got)
	}
	if got := formatTimeframes([]int{5, 10, 80}); got != "5m, 10m, 1h20m" {
		t.Errorf("formatTimeframes() = %q", got)
	}
}

func TestTableRenderAlignsColumns(t *testing.T) {
	var buf bytes.Buffer
	out := newPlainOutput(&buf)
	table := NewTable(out, "TF", "Result")
	table.AddRow("5m", "BUY +₹2,500.00")
	table.AddRow("10m", "no breakout")
	table.Render()

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 4 {
		t.Fatalf("rendered %d lines, want 4:\n%s", len(lines), buf.String())
	}
	col := strings.Index(lines[0], "Result")
	if strings.Index(lines[2], "BUY") != col || strings.Index(lines[3], "no breakout") != col {
		t.Errorf("columns not aligned:\n%s", buf.String())
	}
}

// Package printer renders colored CLI output: success/warning lines, rich
// error blocks with suggestions, and the tier/health colorizers used by the
// task and status tables.
package printer

import (
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"

	"github.com/dyluth/warren/pkg/board"
)

func init() {
	// Force color output even when not connected to TTY
	// Users can disable with NO_COLOR environment variable
	if os.Getenv("NO_COLOR") == "" {
		color.NoColor = false
	}
}

var (
	green   = color.New(color.FgGreen)
	yellow  = color.New(color.FgYellow)
	red     = color.New(color.FgRed, color.Bold)
	magenta = color.New(color.FgMagenta, color.Bold)
	faint   = color.New(color.Faint)
)

// Success prints a success message in green with a checkmark prefix.
func Success(format string, a ...any) {
	msg := fmt.Sprintf(format, a...)
	if !strings.HasPrefix(msg, "✓") {
		green.Printf("✓ %s", msg)
	} else {
		green.Print(msg)
	}
}

// Info prints an informational message in the default color.
func Info(format string, a ...any) {
	fmt.Printf(format, a...)
}

// Warning prints a warning message in yellow with a warning emoji prefix.
func Warning(format string, a ...any) {
	msg := fmt.Sprintf(format, a...)
	if !strings.HasPrefix(msg, "⚠️") {
		yellow.Printf("⚠️  %s", msg)
	} else {
		yellow.Print(msg)
	}
}

// Error prints a formatted error block (title, explanation, suggestions) to
// stderr and returns an error carrying only the title. Cobra runs with
// SilenceErrors, so the returned error sets the exit code without printing
// the message a second time.
func Error(title string, explanation string, suggestions []string) error {
	red.Fprintf(os.Stderr, "%s\n\n", title)
	fmt.Fprintf(os.Stderr, "%s\n", explanation)

	if len(suggestions) > 0 {
		fmt.Fprintf(os.Stderr, "\n")
		if len(suggestions) == 1 {
			fmt.Fprintf(os.Stderr, "%s\n", suggestions[0])
		} else {
			fmt.Fprintf(os.Stderr, "Either:\n")
			for i, suggestion := range suggestions {
				fmt.Fprintf(os.Stderr, "  %d. %s\n", i+1, suggestion)
			}
		}
	}

	return fmt.Errorf("%s", title)
}

// Tier renders a risk tier in its own color for task tables.
func Tier(tier board.RiskTier) string {
	switch tier.OrGreen() {
	case board.TierYellow:
		return yellow.Sprint("yellow")
	case board.TierRed:
		return red.Sprint("red")
	case board.TierCritical:
		return magenta.Sprint("critical")
	default:
		return green.Sprint("green")
	}
}

// Health renders an agent health state in its own color for status tables.
func Health(status board.HealthStatus) string {
	switch status {
	case board.HealthStalled:
		return yellow.Sprint(string(status))
	case board.HealthUnresponsive:
		return red.Sprint(string(status))
	case board.HealthReplaced:
		return faint.Sprint(string(status))
	default:
		return green.Sprint(string(status))
	}
}

// Printf prints a plain formatted message.
func Printf(format string, a ...any) {
	fmt.Printf(format, a...)
}

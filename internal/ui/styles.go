package ui

import "fmt"

// ANSI256 color codes matching the Ayu palette.
const (
	colorAccent  = 74  // blue
	colorCmd     = 250 // light gray
	colorMuted   = 245 // medium gray
	colorOK      = 114 // green
	colorWarn    = 215 // orange
	colorDanger  = 203 // red
	colorNeutral = 245 // gray
)

var noColor bool

func render(code int, s string) string {
	if noColor {
		return s
	}
	return fmt.Sprintf("\x1b[38;5;%dm%s\x1b[0m", code, s)
}

// RenderAccent returns s in the accent (blue) color.
func RenderAccent(s string) string { return render(colorAccent, s) }

// RenderMuted returns s in the muted (gray) color.
func RenderMuted(s string) string { return render(colorMuted, s) }

// RenderCommand returns s styled as a command name (light gray).
func RenderCommand(s string) string { return render(colorCmd, s) }

// RenderState colors a backfill or health state by severity: green for
// healthy terminals, orange for paused, red for failures, gray otherwise.
func RenderState(state string) string {
	switch state {
	case "completed", "running", "ok":
		return render(colorOK, state)
	case "paused", "degraded":
		return render(colorWarn, state)
	case "aborted":
		return render(colorDanger, state)
	default:
		return render(colorNeutral, state)
	}
}

// ForceNoColor disables color output globally.
func ForceNoColor() {
	noColor = true
}

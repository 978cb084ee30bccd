// Package sym defines the glyphs cadence prints in CLI output and log lines.
// They are stable so operators can grep for them.
package sym

const (
	Pulse      = "꩜" // a job firing
	PulseOpen  = "✿" // startup and recovery
	PulseClose = "❀" // graceful shutdown
	DB         = "⊔" // database/storage layer
	Retry      = "↻" // delayed re-attempt
	Fail       = "✗" // terminal failure
	OK         = "✓" // completed attempt
)

// ForStatus returns the glyph used when rendering an attempt or job status
func ForStatus(status string) string {
	switch status {
	case "completed":
		return OK
	case "failed":
		return Fail
	case "retrying", "pending":
		return Retry
	case "running", "started", "scheduled":
		return Pulse
	default:
		return ""
	}
}

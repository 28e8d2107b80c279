package command

import "strings"

const (
	excerptLines = 20
	excerptBytes = 2048
)

// Excerpt trims tool output to its last lines so it fits in an error
// message or a failure log entry.
func Excerpt(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	lines := strings.Split(s, "\n")
	truncated := false
	if len(lines) > excerptLines {
		lines = lines[len(lines)-excerptLines:]
		truncated = true
	}
	out := strings.Join(lines, "\n")
	if len(out) > excerptBytes {
		out = out[len(out)-excerptBytes:]
		truncated = true
	}
	if truncated {
		return "..." + out
	}
	return out
}

// Package redact scrubs credentials from text before it reaches logs or
// the terminal. Deployment runs stream output from external tools (docker,
// certbot, apt) that may echo request headers back, so every streamed line
// passes through here.
package redact

import "regexp"

// Placeholder replaces scrubbed credential values.
const Placeholder = "<REDACTED>"

var patterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(authorization:\s*bearer\s+)[^\s"']+`),
	regexp.MustCompile(`(?i)(x-api-key:\s*)[^\s"']+`),
}

// Redact replaces credential values in s, keeping the header names so the
// output stays readable.
func Redact(s string) string {
	for _, p := range patterns {
		s = p.ReplaceAllString(s, "${1}"+Placeholder)
	}
	return s
}

// Mask hides a secret wholesale. Empty stays empty so summaries can tell
// "unset" apart from "set".
func Mask(secret string) string {
	if secret == "" {
		return ""
	}
	return Placeholder
}

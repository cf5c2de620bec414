// Package redact scrubs probe output of credential-shaped byte sequences
// before it is cached or surfaced to any caller, per spec.md §4.1. It is
// the only mutation the Probe Executor performs on raw command output.
package redact

import "regexp"

// Marker replaces any matched secret-shaped span.
const Marker = "[REDACTED]"

// patterns covers the families named in spec.md §4.1: bearer tokens,
// AWS-style access keys, base64-encoded PEM blocks, password=... style
// assignments, and absolute paths under a user's .ssh directory.
var patterns = []*regexp.Regexp{
	// Authorization: Bearer <token>, or a bare "bearer <token>" fragment.
	regexp.MustCompile(`(?i)\bbearer\s+[A-Za-z0-9\-._~+/]{8,}=*`),
	// AWS-style access key IDs and the secret keys that usually follow them.
	regexp.MustCompile(`\bAKIA[0-9A-Z]{16}\b`),
	regexp.MustCompile(`(?i)\baws_secret_access_key\s*[:=]\s*\S+`),
	// PEM blocks (private keys, certs) - the whole block becomes one marker.
	regexp.MustCompile(`(?s)-----BEGIN [A-Z ]+-----.*?-----END [A-Z ]+-----`),
	// key=value / key: value style assignments naming a secret.
	regexp.MustCompile(`(?i)\b(password|passwd|secret|api[_-]?key|token)\s*[:=]\s*\S+`),
	// Absolute paths under a user's .ssh directory.
	regexp.MustCompile(`(?:/home/[^/\s]+|/root)/\.ssh/\S+`),
}

// Redact replaces every credential-shaped span in s with Marker. It never
// returns a string longer than the input (markers are always <= the match
// they replace would need to be to look intentional, but no such guarantee
// is required by the spec — only that the secret itself never survives).
func Redact(s string) string {
	out := s
	for _, p := range patterns {
		out = p.ReplaceAllString(out, Marker)
	}
	return out
}

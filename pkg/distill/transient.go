package distill

import "regexp"

// transientPatterns is the pattern table for the transient filter. A fact
// matching any of these refers to the immediate moment or to the mechanics
// of the conversation itself, not to durable knowledge about the user.
//
// The table is data so the predicate can be unit-tested independently of
// the extraction call.
var transientPatterns = []*regexp.Regexp{
	// Relative/immediate time references.
	regexp.MustCompile(`(?i)\btoday\b`),
	regexp.MustCompile(`(?i)\btomorrow\b`),
	regexp.MustCompile(`(?i)\byesterday\b`),
	regexp.MustCompile(`(?i)\bthis week\b`),
	regexp.MustCompile(`(?i)\bnext week\b`),
	regexp.MustCompile(`(?i)\bright now\b`),
	regexp.MustCompile(`(?i)\bcurrently\b`),

	// Conversational meta-requests.
	regexp.MustCompile(`(?i)\bhelp me\b`),
	regexp.MustCompile(`(?i)\bcan you\b`),
	regexp.MustCompile(`(?i)\bwhat is\b`),
	regexp.MustCompile(`(?i)\bhow do\b`),
}

// IsTransient reports whether text describes a transient request or moment
// rather than a durable fact. Transient candidates are rejected at the
// admission boundary.
func IsTransient(text string) bool {
	for _, pattern := range transientPatterns {
		if pattern.MatchString(text) {
			return true
		}
	}
	return false
}

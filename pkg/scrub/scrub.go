// Package scrub redacts credential-shaped tokens from text that crosses
// the logging, memory-persistence, and tool-output boundaries.
package scrub

import "regexp"

const redacted = "[REDACTED]"

type pattern struct {
	name string
	re   *regexp.Regexp
}

// patterns are checked in order; each is applied independently so multiple
// families in the same string are all caught in a single pass.
var patterns = []pattern{
	{"openai_key", regexp.MustCompile(`sk-[a-zA-Z0-9_-]{16,}`)},
	{"slack_token", regexp.MustCompile(`xox[baps]-[a-zA-Z0-9-]{10,}`)},
	{"github_token", regexp.MustCompile(`gh[pu]_[a-zA-Z0-9]{30,}`)},
	{"huggingface_token", regexp.MustCompile(`hf_[a-zA-Z0-9]{20,}`)},
	{"gitlab_token", regexp.MustCompile(`glpat-[a-zA-Z0-9_-]{20,}`)},
	{"google_oauth_token", regexp.MustCompile(`ya29\.[a-zA-Z0-9_-]{20,}`)},
	{"google_api_key", regexp.MustCompile(`AIza[a-zA-Z0-9_-]{35}`)},
	{"bearer_header", regexp.MustCompile(`(?i)Authorization:\s*Bearer\s+\S+`)},
	{"api_key_form", regexp.MustCompile(`(?i)\\?"?api_key\\?"?\s*[=:]\s*\\?"?[^\s",}]+`)},
	{"access_token_form", regexp.MustCompile(`(?i)\\?"?access_token\\?"?\s*[=:]\s*\\?"?[^\s",}]+`)},
	{"refresh_token_form", regexp.MustCompile(`(?i)\\?"?refresh_token\\?"?\s*[=:]\s*\\?"?[^\s",}]+`)},
	{"id_token_form", regexp.MustCompile(`(?i)\\?"?id_token\\?"?\s*[=:]\s*\\?"?[^\s",}]+`)},
}

// Result carries the scrub outcome. Clean is true only when Text is the
// same string the caller passed in — callers that only care about the
// text can ignore the rest of the struct.
type Result struct {
	Text    string
	Clean   bool
	Matched []string
}

// Scan redacts every recognized credential pattern in text. When nothing
// matches, Result.Text aliases the input string unchanged — no allocation
// happens on the hot path where most content carries no secrets.
func Scan(text string) Result {
	var matched []string
	out := text
	for _, p := range patterns {
		if p.re.MatchString(out) {
			matched = append(matched, p.name)
			out = p.re.ReplaceAllString(out, redacted)
		}
	}
	if matched == nil {
		return Result{Text: text, Clean: true}
	}
	return Result{Text: out, Clean: false, Matched: matched}
}

// Text is a convenience wrapper for callers that only need the redacted
// string, matching the hot-path call shape used in logging and memory
// writeback.
func Text(s string) string {
	return Scan(s).Text
}

// Package textnorm normalizes section text before it is handed to a TTS
// backend. Synthesis engines stumble over typographic punctuation and ragged
// whitespace, so narration text is flattened to plain spoken form first.
package textnorm

import (
	"regexp"
	"strings"
)

const whitespaceRegexPattern = `\s+`

// Typographic characters replaced with spoken-friendly equivalents.
const (
	emDash       = "—"
	enDash       = "–"
	figureDash   = "‒"
	ellipsisChar = "…"
)

// Normalizer rewrites narration text into a form synthesis engines handle
// well. The zero value is not usable; construct with New.
type Normalizer struct {
	whitespacePattern    *regexp.Regexp
	punctuationReplacer  *strings.Replacer
	abbreviationReplacer *strings.Replacer
}

// New creates a Normalizer with compiled patterns and replacers.
func New() *Normalizer {
	abbreviations := []string{
		"Mr.", "Mister",
		"Mrs.", "Misses",
		"Ms.", "Miss",
		"Dr.", "Doctor",
		"St.", "Saint",
	}

	punctuation := []string{
		emDash, ", ",
		enDash, ", ",
		figureDash, "-",
		ellipsisChar, "...",
		"\r\n", " ",
		"\n", " ",
		"\t", " ",
	}

	return &Normalizer{
		whitespacePattern:    regexp.MustCompile(whitespaceRegexPattern),
		punctuationReplacer:  strings.NewReplacer(punctuation...),
		abbreviationReplacer: strings.NewReplacer(abbreviations...),
	}
}

// Normalize applies abbreviation expansion, punctuation flattening, and
// whitespace collapse. Empty input is returned unchanged.
func (n *Normalizer) Normalize(text string) string {
	if text == "" {
		return text
	}

	normalized := n.abbreviationReplacer.Replace(text)
	normalized = n.punctuationReplacer.Replace(normalized)
	normalized = n.whitespacePattern.ReplaceAllString(normalized, " ")

	return strings.TrimSpace(normalized)
}

package conditioning

import (
	"regexp"
	"strings"
	"unicode"
)

// MaxPromptRunes caps the prompt length handed to the text encoder.
const MaxPromptRunes = 512

const whitespaceRegexPattern = `\s+`

// Punctuation folded to ASCII before tokenisation.
const (
	emDash       = "—"
	enDash       = "–"
	figureDash   = "‒"
	ellipsis     = "..."
	ellipsisChar = "…"
)

// PromptNormalizer cleans free-text prompts so equivalent requests produce
// identical text conditioning.
type PromptNormalizer struct {
	whitespacePattern *regexp.Regexp
	punctuation       *strings.Replacer
}

// NewPromptNormalizer creates a normalizer with its patterns compiled once.
func NewPromptNormalizer() *PromptNormalizer {
	return &PromptNormalizer{
		whitespacePattern: regexp.MustCompile(whitespaceRegexPattern),
		punctuation: strings.NewReplacer(
			"“", `"`, "”", `"`,
			"‘", "'", "’", "'",
			emDash, "-", enDash, "-", figureDash, "-",
			ellipsisChar, ellipsis,
		),
	}
}

// Normalize folds punctuation, removes control characters, collapses
// whitespace, and truncates to MaxPromptRunes. An empty result means the
// caller should use its fallback prompt.
func (p *PromptNormalizer) Normalize(prompt string) string {
	if prompt == "" {
		return prompt
	}

	cleaned := p.punctuation.Replace(prompt)
	cleaned = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && !unicode.IsSpace(r) {
			return -1
		}

		return r
	}, cleaned)
	cleaned = strings.TrimSpace(p.whitespacePattern.ReplaceAllString(cleaned, " "))

	runes := []rune(cleaned)
	if len(runes) > MaxPromptRunes {
		cleaned = strings.TrimSpace(string(runes[:MaxPromptRunes]))
	}

	return cleaned
}

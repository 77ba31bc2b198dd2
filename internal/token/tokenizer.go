// Package token splits announcement text into an ordered sequence of
// word and pause tokens. Order is significant and preserved end-to-end.
package token

import (
	"regexp"
	"strings"
)

type Kind int

const (
	KindWord Kind = iota
	KindPause
)

// Default pause durations for punctuation mapped into explicit pause
// tokens at the punctuation's position.
const (
	PausePeriodMS   = 200
	PauseCommaMS    = 150
	PauseEllipsisMS = 250
	PauseDashMS     = 100
)

type Token struct {
	Word            string
	Kind            Kind
	PauseDurationMS int
}

// Invalid reports a word rejected during tokenization. Rejections are
// data, not errors: the caller decides whether to skip or fail.
type Invalid struct {
	Word   string
	Reason string
}

var wordPattern = regexp.MustCompile(`^[a-z0-9_-]+$`)

// Tokenizer is stateless and safe for concurrent reuse.
type Tokenizer struct {
	maxWordLength int
}

func New(maxWordLength int) *Tokenizer {
	if maxWordLength <= 0 {
		maxWordLength = 30
	}
	return &Tokenizer{maxWordLength: maxWordLength}
}

// Tokenize splits text on whitespace, lowercases and trims each word,
// maps trailing punctuation to pause tokens, and validates every word.
// Invalid words are reported, never silently dropped.
func (t *Tokenizer) Tokenize(text string) ([]Token, []Invalid) {
	var tokens []Token
	var invalid []Invalid

	for _, raw := range strings.Fields(text) {
		field := strings.ToLower(raw)

		pauseMS := trailingPause(field)
		word := trimPunct(field)

		if word != "" {
			if reason := t.validate(word); reason != "" {
				invalid = append(invalid, Invalid{Word: word, Reason: reason})
			} else {
				tokens = append(tokens, Token{Word: word, Kind: KindWord})
			}
		}
		if pauseMS > 0 {
			tokens = append(tokens, Token{Kind: KindPause, PauseDurationMS: pauseMS})
		}
	}

	return tokens, invalid
}

func (t *Tokenizer) validate(word string) string {
	if len(word) > t.maxWordLength {
		return "too long"
	}
	if !wordPattern.MatchString(word) {
		return "invalid characters"
	}
	return ""
}

// trailingPause maps punctuation at the end of a field to a pause
// duration. Ellipsis wins over a single period.
func trailingPause(field string) int {
	switch {
	case strings.HasSuffix(field, "..."), strings.HasSuffix(field, "…"):
		return PauseEllipsisMS
	case strings.HasSuffix(field, "."), strings.HasSuffix(field, "!"), strings.HasSuffix(field, "?"):
		return PausePeriodMS
	case strings.HasSuffix(field, ","), strings.HasSuffix(field, ";"), strings.HasSuffix(field, ":"):
		return PauseCommaMS
	case field == "-", field == "--", strings.HasSuffix(field, "—"), strings.HasSuffix(field, "–"):
		return PauseDashMS
	}
	return 0
}

// trimPunct strips leading/trailing punctuation and drops apostrophes,
// so contractions collapse ("don't" -> "dont"). Interior hyphens and
// underscores survive.
func trimPunct(field string) string {
	field = strings.ReplaceAll(field, "'", "")
	field = strings.ReplaceAll(field, "’", "")
	return strings.TrimFunc(field, func(r rune) bool {
		if r >= 'a' && r <= 'z' || r >= '0' && r <= '9' {
			return false
		}
		return true
	})
}

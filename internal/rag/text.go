package rag

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

var (
	sentenceSplitRe = regexp.MustCompile(`[.!?]\s*|\n+`)
	urlRe           = regexp.MustCompile(`https?://[^\s]+`)
	wwwRe           = regexp.MustCompile(`www\.[^\s]+`)
	accessDateRe    = regexp.MustCompile(`truy cập vào tháng \d+.*`)
	referenceRe     = regexp.MustCompile(`tham khảo.*`)
	symbolRunRe     = regexp.MustCompile(`[%#*]+`)
	spaceRunRe      = regexp.MustCompile(`\s+`)
)

// fold lowercases text in NFC so composed and decomposed Vietnamese
// diacritics compare equal.
func fold(s string) string {
	return strings.ToLower(norm.NFC.String(s))
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if w != "" && strings.Contains(s, w) {
			return true
		}
	}
	return false
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}

// truncateRunes cuts s to at most n runes.
func truncateRunes(s string, n int) string {
	if n < 0 {
		n = 0
	}
	if runeLen(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}

// Preview returns at most n runes of s, ending in "..." when it was cut.
func Preview(s string, n int) string {
	if runeLen(s) <= n {
		return s
	}
	if n <= 3 {
		return truncateRunes(s, n)
	}
	return truncateRunes(s, n-3) + "..."
}

func splitSentences(s string) []string {
	return sentenceSplitRe.Split(s, -1)
}

// cleanSentence strips links, dangling references and markup debris.
func cleanSentence(s string) string {
	s = urlRe.ReplaceAllString(s, "")
	s = wwwRe.ReplaceAllString(s, "")
	s = accessDateRe.ReplaceAllString(s, "")
	s = referenceRe.ReplaceAllString(s, "")
	s = symbolRunRe.ReplaceAllString(s, "")
	s = spaceRunRe.ReplaceAllString(s, " ")
	return strings.Trim(s, " .,;:")
}

// words splits on anything that is not a letter or digit.
func words(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

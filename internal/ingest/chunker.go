package ingest

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// ChunkText packs whole sentences into chunks of at most size runes. Each new
// chunk repeats the trailing sentences of the previous one, up to overlap
// runes. A sentence longer than size is cut into windows that overlap by the
// same amount.
func ChunkText(text string, size, overlap int) []string {
	if size <= 0 {
		return nil
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}

	var (
		chunks []string
		cur    []string
		curLen int
	)
	flush := func() {
		if len(cur) > 0 {
			chunks = append(chunks, strings.Join(cur, " "))
		}
	}
	for _, sentence := range splitSentences(text) {
		for _, piece := range window(sentence, size, overlap) {
			n := utf8.RuneCountInString(piece)
			if len(cur) > 0 && curLen+1+n > size {
				flush()
				cur, curLen = carry(cur, overlap)
				if len(cur) > 0 && curLen+1+n > size {
					cur, curLen = nil, 0
				}
			}
			if len(cur) > 0 {
				curLen++
			}
			cur = append(cur, piece)
			curLen += n
		}
	}
	flush()
	return chunks
}

// carry returns the longest suffix of sentences that fits in overlap runes.
func carry(sentences []string, overlap int) ([]string, int) {
	total := 0
	start := len(sentences)
	for i := len(sentences) - 1; i >= 0; i-- {
		n := utf8.RuneCountInString(sentences[i])
		if start < len(sentences) {
			n++
		}
		if total+n > overlap {
			break
		}
		total += n
		start = i
	}
	kept := append([]string(nil), sentences[start:]...)
	return kept, total
}

func window(s string, size, overlap int) []string {
	runes := []rune(s)
	if len(runes) <= size {
		return []string{s}
	}
	step := size - overlap
	var out []string
	for start := 0; start < len(runes); start += step {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		out = append(out, string(runes[start:end]))
		if end == len(runes) {
			break
		}
	}
	return out
}

// splitSentences cuts after terminal punctuation followed by whitespace and at
// blank lines. Whitespace inside a sentence is collapsed and words hyphenated
// across a line break are rejoined.
func splitSentences(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "-\n", "")
	runes := []rune(text)

	var (
		out []string
		sb  strings.Builder
	)
	emit := func() {
		if s := strings.Join(strings.Fields(sb.String()), " "); s != "" {
			out = append(out, s)
		}
		sb.Reset()
	}
	for i, r := range runes {
		sb.WriteRune(r)
		end := false
		switch r {
		case '.', '!', '?', '…', ';':
			end = i+1 == len(runes) || unicode.IsSpace(runes[i+1])
		case '\n':
			end = i+1 < len(runes) && runes[i+1] == '\n'
		}
		if end {
			emit()
		}
	}
	emit()
	return out
}

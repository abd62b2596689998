package rag

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"infosec-rag/internal/corpus"
)

const (
	minSentenceRunes  = 20
	maxSentenceRunes  = 500
	sentencesKept     = 3
	sentencesPerSrc   = 2
	minParagraphRunes = 50
	summaryRunes      = 200
)

// TemplateStrategy builds a deterministic answer from the best sentences of
// each source. It never fails.
type TemplateStrategy struct {
	lex *Lexicon
}

func NewTemplateStrategy(lex *Lexicon) *TemplateStrategy {
	return &TemplateStrategy{lex: lex}
}

func (s *TemplateStrategy) Name() string { return "template" }

func (s *TemplateStrategy) Answer(_ context.Context, question string, results []SearchResult) (Answer, error) {
	q := fold(question)
	topic := s.lex.Topic(q)
	style := s.lex.Style(q)
	keywords := s.lex.ScoringKeywords(q)

	top := results
	if style.Sources > 0 && len(top) > style.Sources {
		top = top[:style.Sources]
	}

	var lines []string
	lines = append(lines, fmt.Sprintf("**%s:**", s.title(topic, style)), "")

	for i, r := range top {
		header := fmt.Sprintf("**%d. Theo %s:**", i+1, corpus.DisplayName(r.Chunk.SourceDocument))
		sentences := s.importantSentences(r.Chunk.Content, keywords)
		if len(sentences) > 0 {
			lines = append(lines, header)
			if len(sentences) > sentencesPerSrc {
				sentences = sentences[:sentencesPerSrc]
			}
			for _, sentence := range sentences {
				cleaned := cleanSentence(strings.TrimSpace(sentence))
				if runeLen(cleaned) > minSentenceRunes {
					lines = append(lines, "• "+cleaned)
				}
			}
			lines = append(lines, "")
			continue
		}
		if summary := s.summary(r.Chunk.Content, keywords); summary != "" {
			lines = append(lines, header, "• "+summary, "")
		}
	}

	lines = append(lines, "---", "**Tóm lại:** "+topic.Conclusion)
	return Answer{
		Text:   strings.Join(lines, "\n"),
		Method: style.Name + "_template",
	}, nil
}

func (s *TemplateStrategy) title(topic Topic, style Style) string {
	name := cases.Title(language.Und).String(topic.Name)
	switch style.Name {
	case "definition":
		return topic.DefinitionTitle
	case "regulation":
		return "Quy định pháp lý về " + name
	case "standard":
		return "Tiêu chuẩn về " + name
	default:
		return "Thông tin về " + name
	}
}

type scoredSentence struct {
	text  string
	score int
}

// importantSentences scores each sentence by the keywords it contains (longer
// keywords weigh more), rewards definitional phrasing and penalises
// references. Only positive scores survive.
func (s *TemplateStrategy) importantSentences(content string, keywords []string) []string {
	var scored []scoredSentence
	for _, raw := range splitSentences(content) {
		sentence := strings.TrimSpace(raw)
		n := runeLen(sentence)
		if n < minSentenceRunes || n > maxSentenceRunes {
			continue
		}
		lower := fold(sentence)
		score := 0
		for _, kw := range keywords {
			if strings.Contains(lower, kw) {
				score += len(strings.Fields(kw))
			}
		}
		if containsAny(lower, s.lex.DefinitionMarkers) {
			score += 2
		}
		if containsAny(lower, s.lex.ReferenceMarkers) {
			score--
		}
		if score > 0 {
			scored = append(scored, scoredSentence{text: sentence, score: score})
		}
	}
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].score > scored[j].score
	})
	if len(scored) > sentencesKept {
		scored = scored[:sentencesKept]
	}
	out := make([]string, len(scored))
	for i, ss := range scored {
		out[i] = ss.text
	}
	return out
}

// summary picks the paragraph with the most keyword occurrences, or falls
// back to the head of the chunk.
func (s *TemplateStrategy) summary(content string, keywords []string) string {
	best := ""
	bestScore := 0
	for _, raw := range strings.Split(content, "\n") {
		paragraph := strings.TrimSpace(raw)
		if runeLen(paragraph) < minParagraphRunes {
			continue
		}
		lower := fold(paragraph)
		score := 0
		for _, kw := range keywords {
			score += strings.Count(lower, kw)
		}
		if score > bestScore {
			bestScore = score
			best = paragraph
		}
	}
	if best != "" {
		summary := cleanSentence(best)
		if runeLen(summary) > summaryRunes {
			summary = truncateRunes(summary, summaryRunes) + "..."
		}
		return summary
	}
	head := strings.TrimSpace(truncateRunes(content, summaryRunes))
	return cleanSentence(head) + "..."
}

package rag

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"

	"infosec-rag/internal/ai"
	"infosec-rag/internal/corpus"
)

// RewriteGeneration is stricter than DraftGeneration: a rewrite should stay
// close to its input.
var RewriteGeneration = ai.GenerationConfig{
	Temperature:       0.4,
	TopP:              0.9,
	TopK:              40,
	RepetitionPenalty: 1.3,
	NoRepeatNgramSize: 4,
	MaxNewTokens:      400,
}

const (
	RejectTooShort   = "too_short"
	RejectDrift      = "content_drift"
	RejectFailure    = "failure_phrase"
	RejectRepetition = "repetition"
)

type EnhancerOptions struct {
	Sources     int
	SourceChars int
	MaxWords    int
	Generation  ai.GenerationConfig
	Weights     Weights
}

// Enhancer is Stage 2: one LLM rewrite of the draft, accepted only if it
// passes validation.
type Enhancer struct {
	llm  Generator
	lex  *Lexicon
	opts EnhancerOptions
	stop map[string]struct{}
}

func NewEnhancer(llm Generator, lex *Lexicon, opts EnhancerOptions) *Enhancer {
	if opts.Sources <= 0 {
		opts.Sources = 2
	}
	if opts.SourceChars <= 0 {
		opts.SourceChars = 400
	}
	if opts.MaxWords <= 0 {
		opts.MaxWords = 300
	}
	if opts.Generation.MaxNewTokens <= 0 {
		opts.Generation = RewriteGeneration
	}
	if opts.Weights.MaxLength <= 0 {
		opts.Weights = DefaultWeights()
	}
	return &Enhancer{llm: llm, lex: lex, opts: opts, stop: lex.stopWordSet()}
}

// Enhance returns an error only when the LLM call itself fails or panics; the
// caller then passes the draft through. A rejected rewrite is not an error.
func (e *Enhancer) Enhance(ctx context.Context, draft RagDraft, question string) (final FinalAnswer, err error) {
	defer func() {
		if r := recover(); r != nil {
			final = PassThrough(draft)
			err = fmt.Errorf("enhance panic: %v", r)
		}
	}()

	prompt := e.prompt(draft, question)
	out, err := e.llm.Generate(ctx, prompt, e.opts.Generation)
	if err != nil {
		return PassThrough(draft), fmt.Errorf("%w: %v", ErrLLMUnavailable, err)
	}
	rewrite, reason := e.Validate(cleanModelOutput(out), draft.RawAnswer)
	if reason != "" {
		log.Printf("rewrite rejected: %s", reason)
		final = PassThrough(draft)
		final.RejectReason = reason
		return final, nil
	}

	return FinalAnswer{
		OriginalAnswer:     draft.RawAnswer,
		FinalAnswer:        rewrite,
		Confidence:         e.Confidence(draft, rewrite),
		EnhancementApplied: true,
	}, nil
}

func (e *Enhancer) prompt(draft RagDraft, question string) string {
	qt := e.lex.QuestionType(fold(question))

	var b strings.Builder
	b.WriteString("<|im_start|>system\n")
	b.WriteString("Bạn là biên tập viên chuyên về an toàn thông tin. Hãy viết lại câu trả lời dưới đây:\n")
	b.WriteString("1. Sửa lỗi chính tả và ngữ pháp.\n")
	b.WriteString("2. Trình bày rõ ràng, có cấu trúc.\n")
	b.WriteString("3. Giữ nguyên các thuật ngữ kỹ thuật.\n")
	b.WriteString("4. Không quá " + strconv.Itoa(e.opts.MaxWords) + " từ.\n")
	if qt.Instruction != "" {
		b.WriteString(qt.Instruction + "\n")
	}
	b.WriteString("Chỉ dùng thông tin trong tài liệu, không bịa thêm.\n<|im_end|>\n")

	b.WriteString("<|im_start|>user\nCâu hỏi: ")
	b.WriteString(strings.TrimSpace(question))
	b.WriteString("\n\nTài liệu:\n")
	n := len(draft.Sources)
	if n > e.opts.Sources {
		n = e.opts.Sources
	}
	for i, src := range draft.Sources[:n] {
		excerpt := strings.TrimSpace(truncateRunes(src.Chunk.Content, e.opts.SourceChars))
		fmt.Fprintf(&b, "[%d] %s: %s\n", i+1, corpus.DisplayName(src.Chunk.SourceDocument), excerpt)
	}
	b.WriteString("\nCâu trả lời cần viết lại:\n")
	b.WriteString(draft.RawAnswer)
	b.WriteString("\n<|im_end|>\n<|im_start|>assistant\n")
	return b.String()
}

// Validate checks a rewrite against the draft it came from. It returns the
// (possibly truncated) rewrite, or a non-empty reject reason.
func (e *Enhancer) Validate(rewrite, original string) (string, string) {
	w := e.opts.Weights
	rewrite = strings.TrimSpace(rewrite)
	if runeLen(rewrite) < w.MinLength {
		return "", RejectTooShort
	}
	if runeLen(rewrite) > w.MaxLength {
		rewrite = truncateRunes(rewrite, w.MaxLength)
	}

	lowered := fold(rewrite)
	if terms := e.keyTerms(original); len(terms) > 0 {
		missing := 0
		for _, t := range terms {
			if !strings.Contains(lowered, t) {
				missing++
			}
		}
		if float64(missing)/float64(len(terms)) >= w.KeyTermMissRatio {
			return "", RejectDrift
		}
	}

	if containsAny(lowered, e.lex.RewriteFailurePhrases) {
		return "", RejectFailure
	}
	if repeated(words(lowered)) > w.RepetitionRatio {
		return "", RejectRepetition
	}
	return rewrite, ""
}

// keyTerms are the distinct words of more than three runes that are not stop
// words.
func (e *Enhancer) keyTerms(text string) []string {
	seen := make(map[string]struct{})
	var terms []string
	for _, word := range words(fold(text)) {
		if runeLen(word) <= 3 {
			continue
		}
		if _, ok := e.stop[word]; ok {
			continue
		}
		if _, ok := seen[word]; ok {
			continue
		}
		seen[word] = struct{}{}
		terms = append(terms, word)
	}
	return terms
}

// repeated is the share of the most frequent word.
func repeated(ws []string) float64 {
	if len(ws) == 0 {
		return 0
	}
	counts := make(map[string]int, len(ws))
	top := 0
	for _, w := range ws {
		counts[w]++
		if counts[w] > top {
			top = counts[w]
		}
	}
	return float64(top) / float64(len(ws))
}

// Confidence recombines the draft confidence with the rewrite bonuses.
func (e *Enhancer) Confidence(draft RagDraft, rewrite string) float64 {
	total := draft.Confidence +
		e.enhancementBonus(draft.RawAnswer, rewrite) +
		e.qualityBonus(rewrite) +
		e.sourceBonus(draft.Sources, rewrite)
	return clamp01(total)
}

func (e *Enhancer) enhancementBonus(original, rewrite string) float64 {
	w := e.opts.Weights
	bonus := 0.0
	if n := runeLen(original); n > 0 {
		ratio := float64(runeLen(rewrite)) / float64(n)
		if ratio >= w.LengthRatioMin && ratio <= w.LengthRatioMax {
			bonus += w.ExpansionBonus
		} else {
			bonus -= w.ExpansionPenalty
		}
	}
	if containsAny(rewrite, e.lex.StructureMarkers) {
		bonus += w.StructureBonus
	}
	if containsAny(fold(rewrite), e.lex.AttributionMarkers) {
		bonus += w.AttributionBonus
	}
	return bonus
}

func (e *Enhancer) qualityBonus(rewrite string) float64 {
	w := e.opts.Weights
	bonus := 0.0
	if runeLen(rewrite) >= w.LongAnswerLength {
		bonus += w.LongAnswerBonus
	}
	if containsAny(rewrite, e.lex.StructureMarkers) {
		bonus += w.QualityStructureBonus
	}
	if containsAny(fold(rewrite), e.lex.ProfessionalPhrases) {
		bonus += w.ProfessionalBonus
	}
	return bonus
}

// sourceBonus counts distinct source-filename words that the rewrite mentions.
func (e *Enhancer) sourceBonus(sources []SearchResult, rewrite string) float64 {
	w := e.opts.Weights
	lowered := fold(rewrite)
	seen := make(map[string]struct{})
	mentions := 0
	for _, src := range sources {
		for _, word := range words(fold(corpus.DisplayName(src.Chunk.SourceDocument))) {
			if runeLen(word) <= 3 {
				continue
			}
			if _, ok := e.stop[word]; ok {
				continue
			}
			if _, ok := seen[word]; ok {
				continue
			}
			seen[word] = struct{}{}
			if strings.Contains(lowered, word) {
				mentions++
			}
			if mentions >= w.SourceMentionsLimit {
				break
			}
		}
		if mentions >= w.SourceMentionsLimit {
			break
		}
	}
	bonus := float64(mentions) * w.SourceMentionBonus
	if bonus > w.SourceMentionCap {
		bonus = w.SourceMentionCap
	}
	return bonus
}

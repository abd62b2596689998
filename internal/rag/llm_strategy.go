package rag

import (
	"context"
	"fmt"
	"strings"

	"infosec-rag/internal/ai"
)

// Generator is the LLM backend.
type Generator interface {
	Generate(ctx context.Context, prompt string, gen ai.GenerationConfig) (string, error)
}

const groundedSystemPrompt = `Bạn là một trợ lý AI an toàn thông tin. Chỉ trả lời người dùng dựa trên thông tin được cung cấp dưới đây. Nếu không biết, hãy trả lời: "Tôi không có thông tin về câu hỏi này." Không được bịa.`

// DraftGeneration is the Stage 1 sampling setup.
var DraftGeneration = ai.GenerationConfig{
	Temperature:       0.6,
	TopP:              0.9,
	TopK:              50,
	RepetitionPenalty: 1.2,
	NoRepeatNgramSize: 3,
	MaxNewTokens:      256,
}

type LLMStrategyOptions struct {
	ContextChunks  int
	ChunkChars     int
	MinAnswerRunes int
	Generation     ai.GenerationConfig
}

// LLMStrategy asks the model to answer from the top results only.
type LLMStrategy struct {
	llm  Generator
	lex  *Lexicon
	opts LLMStrategyOptions
}

func NewLLMStrategy(llm Generator, lex *Lexicon, opts LLMStrategyOptions) *LLMStrategy {
	if opts.ContextChunks <= 0 {
		opts.ContextChunks = 3
	}
	if opts.ChunkChars <= 0 {
		opts.ChunkChars = 800
	}
	if opts.MinAnswerRunes <= 0 {
		opts.MinAnswerRunes = 20
	}
	if opts.Generation.MaxNewTokens <= 0 {
		opts.Generation = DraftGeneration
	}
	return &LLMStrategy{llm: llm, lex: lex, opts: opts}
}

func (s *LLMStrategy) Name() string { return "llm" }

func (s *LLMStrategy) Answer(ctx context.Context, question string, results []SearchResult) (Answer, error) {
	out, err := s.llm.Generate(ctx, s.prompt(question, results), s.opts.Generation)
	if err != nil {
		return Answer{}, fmt.Errorf("%w: %v", ErrLLMUnavailable, err)
	}
	out = cleanModelOutput(out)
	if runeLen(out) < s.opts.MinAnswerRunes {
		return Answer{}, fmt.Errorf("llm answer too short (%d runes)", runeLen(out))
	}
	if containsAny(fold(out), s.lex.LLMFailurePhrases) {
		return Answer{}, fmt.Errorf("llm answer reports a failure")
	}
	return Answer{Text: out, Method: MethodLLM}, nil
}

func (s *LLMStrategy) prompt(question string, results []SearchResult) string {
	n := len(results)
	if n > s.opts.ContextChunks {
		n = s.opts.ContextChunks
	}
	parts := make([]string, 0, n)
	for _, r := range results[:n] {
		parts = append(parts, strings.TrimSpace(truncateRunes(r.Chunk.Content, s.opts.ChunkChars)))
	}

	var b strings.Builder
	b.WriteString("<|im_start|>system\n")
	b.WriteString(groundedSystemPrompt)
	b.WriteString("\n<|im_end|>\n<|im_start|>user\nThông tin:\n")
	b.WriteString(strings.Join(parts, "\n---\n"))
	b.WriteString("\n\nCâu hỏi: ")
	b.WriteString(strings.TrimSpace(question))
	b.WriteString("\n<|im_end|>\n<|im_start|>assistant\n")
	return b.String()
}

var chatMLTokens = strings.NewReplacer(
	"<|endoftext|>", "",
	"<|im_start|>", "",
	"<|im_end|>", "",
	"<|assistant|>", "",
	"<|user|>", "",
	"<|system|>", "",
)

// cleanModelOutput drops chat-template tokens and blank lines.
func cleanModelOutput(s string) string {
	s = chatMLTokens.Replace(s)
	lines := strings.Split(s, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if line = strings.TrimSpace(line); line != "" {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n")
}

// Package rag implements the two-stage answer pipeline: retrieval over the
// flat vector index, first-pass answer generation, and the optional rewrite
// pass with its validation and confidence recombination.
package rag

import (
	"infosec-rag/internal/model"
)

// SearchResult is one ranked chunk. Score is the index-native value and is
// not bounded to [0,1].
type SearchResult struct {
	Chunk    model.Chunk
	Score    float64
	Category model.Category
}

// RagDraft is the Stage 1 answer.
type RagDraft struct {
	RawAnswer  string
	Sources    []SearchResult
	Confidence float64
	Method     string
}

// FinalAnswer is the Stage 2 answer, or the draft passed through.
type FinalAnswer struct {
	OriginalAnswer     string
	FinalAnswer        string
	Confidence         float64
	EnhancementApplied bool
	// RejectReason is set when a rewrite was produced but discarded.
	RejectReason string
}

// PassThrough wraps a draft unchanged.
func PassThrough(draft RagDraft) FinalAnswer {
	return FinalAnswer{
		OriginalAnswer: draft.RawAnswer,
		FinalAnswer:    draft.RawAnswer,
		Confidence:     draft.Confidence,
	}
}

const (
	MethodLLM       = "llm_generation"
	MethodNoResults = "no_results"
	MethodError     = "error"
)

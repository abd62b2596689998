package rag

import "errors"

var (
	ErrValidation      = errors.New("invalid question")
	ErrEmbedding       = errors.New("embedding unavailable")
	ErrLLMUnavailable  = errors.New("llm unavailable")
	ErrIndexCorruption = errors.New("index position out of range")
	ErrNoResults       = errors.New("no results to answer from")
)

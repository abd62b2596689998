package rag

import (
	"context"
	"fmt"
	"log"
)

// Answer is what a Stage 1 strategy produces.
type Answer struct {
	Text   string
	Method string
}

// Strategy turns a question and its ranked results into an answer.
// results is never empty.
type Strategy interface {
	Name() string
	Answer(ctx context.Context, question string, results []SearchResult) (Answer, error)
}

type fallbackStrategy struct {
	primary  Strategy
	fallback Strategy
}

// TryPrimaryThenFallback runs primary and silently switches to fallback on any
// error or panic from it.
func TryPrimaryThenFallback(primary, fallback Strategy) Strategy {
	return &fallbackStrategy{primary: primary, fallback: fallback}
}

func (f *fallbackStrategy) Name() string {
	return f.primary.Name() + "+" + f.fallback.Name()
}

func (f *fallbackStrategy) Answer(ctx context.Context, question string, results []SearchResult) (Answer, error) {
	ans, err := f.tryPrimary(ctx, question, results)
	if err == nil {
		return ans, nil
	}
	log.Printf("%s strategy failed, using %s: %v", f.primary.Name(), f.fallback.Name(), err)
	// The fallback must not depend on a context the primary may have exhausted.
	return f.fallback.Answer(context.WithoutCancel(ctx), question, results)
}

func (f *fallbackStrategy) tryPrimary(ctx context.Context, question string, results []SearchResult) (ans Answer, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return f.primary.Answer(ctx, question, results)
}

// Answerer is Stage 1 of the pipeline.
type Answerer struct {
	strategy Strategy
	scale    DistanceScale
}

func NewAnswerer(strategy Strategy, scale DistanceScale) *Answerer {
	return &Answerer{strategy: strategy, scale: scale}
}

func (a *Answerer) Generate(ctx context.Context, question string, results []SearchResult) (RagDraft, error) {
	if len(results) == 0 {
		return RagDraft{}, ErrNoResults
	}
	ans, err := a.strategy.Answer(ctx, question, results)
	if err != nil {
		return RagDraft{}, fmt.Errorf("generate answer failed: %w", err)
	}
	return RagDraft{
		RawAnswer:  ans.Text,
		Sources:    results,
		Confidence: a.scale.Confidence(results),
		Method:     ans.Method,
	}, nil
}

package bootstrap

import (
	"context"
	"fmt"
	"log"
	"time"

	"infosec-rag/internal/ai"
	"infosec-rag/internal/app"
	"infosec-rag/internal/config"
	"infosec-rag/internal/corpus"
	"infosec-rag/internal/index"
	"infosec-rag/internal/rag"
)

// QueryEmbedder is the embedder the pipeline runs queries through; the redis
// cache and the plain HTTP client both satisfy it.
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	Model() string
}

// LLM is the generation backend. Ping decides whether it is used at all.
type LLM interface {
	rag.Generator
	Ping(ctx context.Context) error
}

func NewEmbedder(cfg *config.Config) *ai.Embedder {
	return ai.NewEmbedder(ai.EmbeddingConfig{
		BaseURL:       cfg.Embedding.BaseURL,
		APIKey:        cfg.Embedding.APIKey,
		Model:         cfg.Embedding.Model,
		QueryPrefix:   cfg.Embedding.QueryPrefix,
		PassagePrefix: cfg.Embedding.PassagePrefix,
		Timeout:       time.Duration(cfg.Embedding.TimeoutSeconds) * time.Second,
	})
}

// NewLLM returns nil when generation is disabled.
func NewLLM(cfg *config.Config) LLM {
	if !cfg.LLM.Enabled {
		return nil
	}
	return ai.NewLLMClient(ai.LLMConfig{
		BaseURL:          cfg.LLM.BaseURL,
		APIKey:           cfg.LLM.APIKey,
		Model:            cfg.LLM.Model,
		ExtendedSampling: cfg.LLM.ExtendedSampling,
		Timeout:          time.Duration(cfg.LLM.TimeoutSeconds) * time.Second,
	})
}

func Settings(cfg *config.Config) app.RAGSettings {
	return app.RAGSettings{
		ServiceName:         cfg.App.Name,
		Version:             cfg.App.Version,
		DefaultTopK:         cfg.RAG.DefaultTopK,
		SimilarityThreshold: cfg.RAG.SimilarityThreshold,
		MaxAnswerLength:     cfg.RAG.MaxAnswerLength,
		EnhancementEnabled:  cfg.RAG.EnhancementEnabled,
		QueryTimeout:        time.Duration(cfg.RAG.QueryTimeoutMS) * time.Millisecond,
	}
}

func Weights(s config.ScoringConfig) rag.Weights {
	return rag.Weights{
		MinLength:             s.MinEnhancedLength,
		MaxLength:             s.MaxEnhancedLength,
		KeyTermMissRatio:      s.KeyTermMissRatio,
		RepetitionRatio:       s.RepetitionRatio,
		LengthRatioMin:        s.LengthRatioMin,
		LengthRatioMax:        s.LengthRatioMax,
		ExpansionBonus:        s.ExpansionBonus,
		ExpansionPenalty:      s.ExpansionPenalty,
		StructureBonus:        s.StructureBonus,
		AttributionBonus:      s.AttributionBonus,
		LongAnswerLength:      s.LongAnswerLength,
		LongAnswerBonus:       s.LongAnswerBonus,
		QualityStructureBonus: s.QualityStructure,
		ProfessionalBonus:     s.ProfessionalBonus,
		SourceMentionBonus:    s.SourceMentionBonus,
		SourceMentionCap:      s.SourceMentionCap,
		SourceMentionsLimit:   s.SourceMentionsLimit,
	}
}

// NewPipelineBuilder loads everything a query needs from disk. llm may be nil,
// in which case Stage 1 always uses the template and Stage 2 is off.
func NewPipelineBuilder(cfg *config.Config, embedder QueryEmbedder, llm LLM) app.PipelineBuilder {
	return func(ctx context.Context) (*app.Pipeline, error) {
		lex, err := rag.LoadLexicon(cfg.RAG.LexiconFile)
		if err != nil {
			return nil, err
		}
		store, err := corpus.Load(cfg.Index.ChunksPath, nil)
		if err != nil {
			return nil, err
		}
		idx, err := index.Load(cfg.Index.IndexPath)
		if err != nil {
			return nil, err
		}
		if want, _ := index.ParseMetric(cfg.Index.Metric); want != idx.Metric() {
			log.Printf("index %s was built with metric %s, config says %s; using %s",
				cfg.Index.IndexPath, idx.Metric(), want, idx.Metric())
		}
		retriever, err := rag.NewRetriever(embedder, idx, store, cfg.Index.Normalize)
		if err != nil {
			return nil, fmt.Errorf("pair %s with %s failed: %w", cfg.Index.ChunksPath, cfg.Index.IndexPath, err)
		}

		llmAvailable := false
		if llm != nil {
			pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			if err := llm.Ping(pingCtx); err != nil {
				log.Printf("llm unavailable, template answers only: %v", err)
			} else {
				llmAvailable = true
			}
			cancel()
		}

		ceiling := cfg.Scoring.DistanceCeiling
		if idx.Metric() == index.MetricIP {
			ceiling = cfg.Scoring.CosineDistanceCeiling
		}

		template := rag.NewTemplateStrategy(lex)
		var strategy rag.Strategy = template
		if llmAvailable && cfg.RAG.UseLLMGeneration {
			strategy = rag.TryPrimaryThenFallback(rag.NewLLMStrategy(llm, lex, rag.LLMStrategyOptions{
				ContextChunks:  cfg.RAG.ContextChunks,
				ChunkChars:     cfg.RAG.ContextChunkChars,
				MinAnswerRunes: cfg.Scoring.MinLLMAnswerLength,
			}), template)
		}

		p := &app.Pipeline{
			Retriever:      retriever,
			Answerer:       rag.NewAnswerer(strategy, rag.DistanceScale{Metric: idx.Metric(), Ceiling: ceiling}),
			Stats:          store.Stats(),
			LLMAvailable:   llmAvailable,
			EmbeddingModel: embedder.Model(),
		}
		if llmAvailable {
			p.Enhancer = rag.NewEnhancer(llm, lex, rag.EnhancerOptions{
				Sources:     cfg.RAG.EnhanceSources,
				SourceChars: cfg.RAG.EnhanceSourceChars,
				MaxWords:    cfg.RAG.EnhanceMaxWords,
				Weights:     Weights(cfg.Scoring),
			})
		}
		return p, nil
	}
}

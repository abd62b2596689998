package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"infosec-rag/internal/corpus"
	"infosec-rag/internal/model"
	"infosec-rag/internal/rag"
)

const (
	noResultsAnswer = "Xin lỗi, tôi không tìm thấy thông tin liên quan trong cơ sở dữ liệu."
	errorAnswer     = "Xin lỗi, có lỗi khi xử lý câu hỏi: "
	previewRunes    = 300
	enhancedSuffix  = "_enhanced"
	publishTimeout  = 2 * time.Second
)

var (
	ErrNotReady = errors.New("rag service is not ready")
)

type Retriever interface {
	Search(ctx context.Context, query string, topK int, filter model.Category, threshold float64) ([]rag.SearchResult, error)
}

type Answerer interface {
	Generate(ctx context.Context, question string, results []rag.SearchResult) (rag.RagDraft, error)
}

type Enhancer interface {
	Enhance(ctx context.Context, draft rag.RagDraft, question string) (rag.FinalAnswer, error)
}

type QueryEventPublisher interface {
	Publish(ctx context.Context, event model.QueryEvent) error
}

type QueryObserver interface {
	ObserveQuery(method string, enhanced bool, confidence float64, elapsed time.Duration)
	ObserveRejection(reason string)
}

// Pipeline is everything a query needs, loaded once and then read-only.
type Pipeline struct {
	Retriever      Retriever
	Answerer       Answerer
	Enhancer       Enhancer
	Stats          corpus.Stats
	LLMAvailable   bool
	EmbeddingModel string
}

type PipelineBuilder func(ctx context.Context) (*Pipeline, error)

type RAGSettings struct {
	ServiceName         string
	Version             string
	DefaultTopK         int
	SimilarityThreshold float64
	MaxAnswerLength     int
	EnhancementEnabled  bool
	QueryTimeout        time.Duration
}

type QueryRequest struct {
	Question       string
	TopK           int
	FilterCategory string
	IncludeSources bool
	// nil means the configured default.
	SimilarityThreshold *float64
	UseEnhancement      bool
	ClientID            uint
}

type SourceView struct {
	Filename        string  `json:"filename"`
	DisplayName     string  `json:"display_name"`
	Category        string  `json:"category"`
	ContentPreview  string  `json:"content_preview"`
	SimilarityScore float64 `json:"similarity_score"`
	ContentLength   int     `json:"content_length"`
}

type QueryResponse struct {
	QueryID            string       `json:"query_id"`
	Question           string       `json:"question"`
	Answer             string       `json:"answer"`
	Sources            []SourceView `json:"sources"`
	TotalSources       int          `json:"total_sources"`
	Confidence         float64      `json:"confidence"`
	Method             string       `json:"method"`
	ProcessingTimeMS   int64        `json:"processing_time_ms"`
	FilterCategory     string       `json:"filter_category"`
	Timestamp          time.Time    `json:"timestamp"`
	EnhancementApplied bool         `json:"enhancement_applied"`
	OriginalResponse   string       `json:"original_response,omitempty"`
	ServiceVersion     string       `json:"service_version"`
	Error              string       `json:"error,omitempty"`
}

type DefaultSettings struct {
	TopK                int     `json:"top_k"`
	SimilarityThreshold float64 `json:"similarity_threshold"`
	MaxAnswerLength     int     `json:"max_answer_length"`
}

type ServiceStats struct {
	ServiceName          string                          `json:"service_name"`
	Version              string                          `json:"version"`
	Status               string                          `json:"status"`
	InitializationTimeMS int64                           `json:"initialization_time_ms"`
	TotalDocuments       int                             `json:"total_documents"`
	TotalChunks          int                             `json:"total_chunks"`
	Categories           map[string]corpus.CategoryStats `json:"categories"`
	LLMAvailable         bool                            `json:"llm_available"`
	EmbeddingModel       string                          `json:"embedding_model"`
	DefaultSettings      DefaultSettings                 `json:"default_settings"`
}

type CategoryInfo struct {
	Name   string `json:"name"`
	Chunks int    `json:"chunks"`
}

// RAGService is the query orchestrator. The pipeline is built lazily on first
// use; concurrent first callers share a single load.
type RAGService struct {
	build     PipelineBuilder
	settings  RAGSettings
	publisher QueryEventPublisher
	observer  QueryObserver

	mu          sync.RWMutex
	pipeline    *Pipeline
	initialized bool
	initTime    time.Duration
	loads       singleflight.Group
}

func NewRAGService(build PipelineBuilder, settings RAGSettings, publisher QueryEventPublisher, observer QueryObserver) *RAGService {
	if settings.DefaultTopK <= 0 {
		settings.DefaultTopK = 5
	}
	return &RAGService{
		build:     build,
		settings:  settings,
		publisher: publisher,
		observer:  observer,
	}
}

// Init loads the pipeline unless it is already loaded.
func (s *RAGService) Init(ctx context.Context) error {
	if s.ready() {
		return nil
	}
	_, err, _ := s.loads.Do("load", func() (interface{}, error) {
		if s.ready() {
			return nil, nil
		}
		return nil, s.load(ctx)
	})
	return err
}

// Reload rebuilds the pipeline, e.g. after the index files were rebuilt.
// Queries keep using the old pipeline until the new one is ready.
func (s *RAGService) Reload(ctx context.Context) error {
	_, err, _ := s.loads.Do("load", func() (interface{}, error) {
		return nil, s.load(ctx)
	})
	return err
}

func (s *RAGService) load(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("rag pipeline load panic: %v", r)
			err = fmt.Errorf("%w: load panic: %v", ErrNotReady, r)
		}
	}()
	start := time.Now()
	p, err := s.build(context.WithoutCancel(ctx))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNotReady, err)
	}
	elapsed := time.Since(start)

	s.mu.Lock()
	s.pipeline = p
	s.initialized = true
	s.initTime = elapsed
	s.mu.Unlock()

	log.Printf("rag pipeline loaded: documents=%d chunks=%d llm=%v in %s",
		p.Stats.TotalDocuments, p.Stats.TotalChunks, p.LLMAvailable, elapsed)
	return nil
}

func (s *RAGService) ready() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.initialized
}

func (s *RAGService) current() *Pipeline {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pipeline
}

// Query answers one question. The response is never nil; on failure it is
// error-shaped. The returned error is set only for invalid input, an
// unavailable embedder and a service that could not load.
func (s *RAGService) Query(ctx context.Context, req QueryRequest) (resp *QueryResponse, err error) {
	start := time.Now()
	resp = &QueryResponse{
		QueryID:        uuid.NewString(),
		Question:       strings.TrimSpace(req.Question),
		Sources:        []SourceView{},
		FilterCategory: filterLabel(req.FilterCategory),
		Timestamp:      start,
		ServiceVersion: s.settings.Version,
	}
	defer func() {
		if r := recover(); r != nil {
			log.Printf("rag query panic: %v", r)
			s.fail(resp, fmt.Errorf("internal error: %v", r))
			err = nil
		}
		resp.ProcessingTimeMS = time.Since(start).Milliseconds()
		s.observe(resp, time.Since(start))
	}()

	if resp.Question == "" {
		s.fail(resp, fmt.Errorf("question must not be empty"))
		return resp, fmt.Errorf("%w: question must not be empty", rag.ErrValidation)
	}
	if err := s.Init(ctx); err != nil {
		s.fail(resp, err)
		return resp, err
	}
	p := s.current()

	qctx := ctx
	if s.settings.QueryTimeout > 0 {
		var cancel context.CancelFunc
		qctx, cancel = context.WithTimeout(ctx, s.settings.QueryTimeout)
		defer cancel()
	}

	topK := req.TopK
	if topK <= 0 {
		topK = s.settings.DefaultTopK
	}
	threshold := s.settings.SimilarityThreshold
	if req.SimilarityThreshold != nil {
		threshold = *req.SimilarityThreshold
	}

	results, err := p.Retriever.Search(qctx, resp.Question, topK, rag.NormalizeCategory(req.FilterCategory), threshold)
	if err != nil {
		log.Printf("rag retrieval failed: %v", err)
		s.fail(resp, err)
		if errors.Is(err, rag.ErrEmbedding) {
			return resp, err
		}
		return resp, nil
	}
	if len(results) == 0 {
		resp.Answer = noResultsAnswer
		resp.Method = rag.MethodNoResults
		s.publish(ctx, req, resp, start)
		return resp, nil
	}

	draft, err := p.Answerer.Generate(qctx, resp.Question, results)
	if err != nil {
		log.Printf("rag generation failed: %v", err)
		s.fail(resp, err)
		return resp, nil
	}

	final := rag.PassThrough(draft)
	if req.UseEnhancement && s.settings.EnhancementEnabled && p.LLMAvailable && p.Enhancer != nil {
		enhanced, err := p.Enhancer.Enhance(qctx, draft, resp.Question)
		switch {
		case err != nil:
			log.Printf("rag enhancement skipped: %v", err)
		case enhanced.EnhancementApplied:
			final = enhanced
		case enhanced.RejectReason != "" && s.observer != nil:
			s.observer.ObserveRejection(enhanced.RejectReason)
		}
	}

	resp.Answer = final.FinalAnswer
	resp.Confidence = clampConfidence(final.Confidence)
	resp.Method = draft.Method
	resp.TotalSources = len(results)
	if final.EnhancementApplied {
		resp.Answer = s.capAnswer(final.FinalAnswer)
		resp.EnhancementApplied = true
		resp.OriginalResponse = final.OriginalAnswer
		resp.Method += enhancedSuffix
	}
	if req.IncludeSources {
		resp.Sources = sourceViews(results)
	}
	s.publish(ctx, req, resp, start)
	return resp, nil
}

func (s *RAGService) fail(resp *QueryResponse, err error) {
	resp.Answer = errorAnswer + err.Error()
	resp.Sources = []SourceView{}
	resp.TotalSources = 0
	resp.Confidence = 0
	resp.Method = rag.MethodError
	resp.EnhancementApplied = false
	resp.OriginalResponse = ""
	resp.Error = err.Error()
}

// capAnswer bounds rewritten text only; Stage 1 answers pass through intact.
func (s *RAGService) capAnswer(answer string) string {
	if s.settings.MaxAnswerLength <= 0 {
		return answer
	}
	return rag.Preview(answer, s.settings.MaxAnswerLength)
}

func (s *RAGService) publish(ctx context.Context, req QueryRequest, resp *QueryResponse, start time.Time) {
	if s.publisher == nil {
		return
	}
	files := make([]string, 0, len(resp.Sources))
	for _, src := range resp.Sources {
		files = append(files, src.Filename)
	}
	event := model.QueryEvent{
		QueryID:            resp.QueryID,
		ClientID:           req.ClientID,
		Question:           resp.Question,
		Method:             resp.Method,
		Confidence:         resp.Confidence,
		TotalSources:       resp.TotalSources,
		Sources:            files,
		FilterCategory:     resp.FilterCategory,
		EnhancementApplied: resp.EnhancementApplied,
		ProcessingTimeMS:   time.Since(start).Milliseconds(),
		CreatedAt:          start,
	}
	// Detached from the request so a dropped client is still logged.
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := s.publisher.Publish(pctx, event); err != nil {
		log.Printf("publish query event failed: %v", err)
	}
}

func (s *RAGService) observe(resp *QueryResponse, elapsed time.Duration) {
	if s.observer == nil {
		return
	}
	s.observer.ObserveQuery(resp.Method, resp.EnhancementApplied, resp.Confidence, elapsed)
}

// Stats loads the pipeline if needed and reports corpus and settings.
func (s *RAGService) Stats(ctx context.Context) (*ServiceStats, error) {
	if err := s.Init(ctx); err != nil {
		return nil, err
	}
	p := s.current()

	s.mu.RLock()
	initTime := s.initTime
	s.mu.RUnlock()

	return &ServiceStats{
		ServiceName:          s.settings.ServiceName,
		Version:              s.settings.Version,
		Status:               "ready",
		InitializationTimeMS: initTime.Milliseconds(),
		TotalDocuments:       p.Stats.TotalDocuments,
		TotalChunks:          p.Stats.TotalChunks,
		Categories:           p.Stats.Categories,
		LLMAvailable:         p.LLMAvailable,
		EmbeddingModel:       p.EmbeddingModel,
		DefaultSettings: DefaultSettings{
			TopK:                s.settings.DefaultTopK,
			SimilarityThreshold: s.settings.SimilarityThreshold,
			MaxAnswerLength:     s.settings.MaxAnswerLength,
		},
	}, nil
}

// Categories lists the categories present in the corpus, sorted by name.
func (s *RAGService) Categories(ctx context.Context) ([]CategoryInfo, error) {
	if err := s.Init(ctx); err != nil {
		return nil, err
	}
	stats := s.current().Stats
	out := make([]CategoryInfo, 0, len(stats.Categories))
	for name, c := range stats.Categories {
		out = append(out, CategoryInfo{Name: name, Chunks: c.Chunks})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func sourceViews(results []rag.SearchResult) []SourceView {
	views := make([]SourceView, 0, len(results))
	for _, r := range results {
		views = append(views, SourceView{
			Filename:        r.Chunk.SourceDocument,
			DisplayName:     corpus.DisplayName(r.Chunk.SourceDocument),
			Category:        string(r.Category),
			ContentPreview:  rag.Preview(r.Chunk.Content, previewRunes),
			SimilarityScore: r.Score,
			ContentLength:   r.Chunk.ContentLength,
		})
	}
	return views
}

func filterLabel(filter string) string {
	c := rag.NormalizeCategory(filter)
	if c == "" {
		return "all"
	}
	return string(c)
}

func clampConfidence(v float64) float64 {
	if v != v || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

package app

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
	"unicode"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"infosec-rag/internal/corpus"
	"infosec-rag/internal/index"
	"infosec-rag/internal/model"
	"infosec-rag/internal/rag"
)

type countingRetriever struct {
	results []rag.SearchResult
	err     error
	calls   int
}

func (r *countingRetriever) Search(context.Context, string, int, model.Category, float64) ([]rag.SearchResult, error) {
	r.calls++
	return r.results, r.err
}

type countingAnswerer struct {
	draft rag.RagDraft
	err   error
	panic bool
	calls int
}

func (a *countingAnswerer) Generate(context.Context, string, []rag.SearchResult) (rag.RagDraft, error) {
	a.calls++
	if a.panic {
		panic("template exploded")
	}
	return a.draft, a.err
}

type countingEnhancer struct {
	final rag.FinalAnswer
	err   error
	block bool
	calls int
}

func (e *countingEnhancer) Enhance(ctx context.Context, draft rag.RagDraft, _ string) (rag.FinalAnswer, error) {
	e.calls++
	if e.block {
		<-ctx.Done()
		return rag.PassThrough(draft), ctx.Err()
	}
	return e.final, e.err
}

type recordingPublisher struct {
	mu        sync.Mutex
	events    []model.QueryEvent
	ctxErrs   []error
	deadlines []bool
}

func (p *recordingPublisher) Publish(ctx context.Context, event model.QueryEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	p.ctxErrs = append(p.ctxErrs, ctx.Err())
	_, ok := ctx.Deadline()
	p.deadlines = append(p.deadlines, ok)
	return nil
}

type recordingObserver struct {
	methods    []string
	rejections []string
}

func (o *recordingObserver) ObserveQuery(method string, _ bool, _ float64, _ time.Duration) {
	o.methods = append(o.methods, method)
}

func (o *recordingObserver) ObserveRejection(reason string) {
	o.rejections = append(o.rejections, reason)
}

func oneResult() []rag.SearchResult {
	return []rag.SearchResult{{
		Chunk: model.Chunk{
			Content:        strings.Repeat("Tường lửa kiểm soát lưu lượng. ", 20),
			SourceDocument: "giao_trinh_mang.pdf",
			Category:       model.CategoryVietnamese,
			ContentLength:  620,
		},
		Score:    0.8,
		Category: model.CategoryVietnamese,
	}}
}

func stubDraft() rag.RagDraft {
	return rag.RagDraft{
		RawAnswer:  "Tường lửa là hệ thống kiểm soát truy cập mạng.",
		Sources:    oneResult(),
		Confidence: 0.8,
		Method:     "definition_template",
	}
}

func testSettings() RAGSettings {
	return RAGSettings{
		ServiceName:         "infosec-rag",
		Version:             "1.0.0",
		DefaultTopK:         5,
		SimilarityThreshold: 0.3,
		MaxAnswerLength:     2000,
		EnhancementEnabled:  true,
		QueryTimeout:        time.Second,
	}
}

func staticBuilder(p *Pipeline) PipelineBuilder {
	return func(context.Context) (*Pipeline, error) { return p, nil }
}

func defaultRequest(q string) QueryRequest {
	return QueryRequest{Question: q, IncludeSources: true, UseEnhancement: true}
}

func TestQueryEmptyRetrievalShortCircuits(t *testing.T) {
	retr := &countingRetriever{}
	ans := &countingAnswerer{draft: stubDraft()}
	enh := &countingEnhancer{}
	pub := &recordingPublisher{}
	svc := NewRAGService(staticBuilder(&Pipeline{Retriever: retr, Answerer: ans, Enhancer: enh, LLMAvailable: true}), testSettings(), pub, nil)

	resp, err := svc.Query(context.Background(), defaultRequest("Tường lửa là gì?"))
	require.NoError(t, err)
	assert.Equal(t, rag.MethodNoResults, resp.Method)
	assert.Equal(t, 0, resp.TotalSources)
	assert.Equal(t, 0.0, resp.Confidence)
	assert.Equal(t, noResultsAnswer, resp.Answer)
	assert.Empty(t, resp.Sources)
	assert.Equal(t, "all", resp.FilterCategory)
	assert.Equal(t, 1, retr.calls)
	assert.Equal(t, 0, ans.calls)
	assert.Equal(t, 0, enh.calls)
	require.Len(t, pub.events, 1)
	assert.Equal(t, resp.QueryID, pub.events[0].QueryID)
}

func TestQueryValidation(t *testing.T) {
	retr := &countingRetriever{}
	svc := NewRAGService(staticBuilder(&Pipeline{Retriever: retr}), testSettings(), nil, nil)

	resp, err := svc.Query(context.Background(), defaultRequest("   "))
	assert.ErrorIs(t, err, rag.ErrValidation)
	require.NotNil(t, resp)
	assert.Equal(t, rag.MethodError, resp.Method)
	assert.Equal(t, 0, retr.calls)
}

func TestQueryEnhancerFailurePassesDraftThrough(t *testing.T) {
	enh := &countingEnhancer{err: errors.New("llm down")}
	obs := &recordingObserver{}
	svc := NewRAGService(staticBuilder(&Pipeline{
		Retriever:    &countingRetriever{results: oneResult()},
		Answerer:     &countingAnswerer{draft: stubDraft()},
		Enhancer:     enh,
		LLMAvailable: true,
	}), testSettings(), nil, obs)

	resp, err := svc.Query(context.Background(), defaultRequest("Tường lửa là gì?"))
	require.NoError(t, err)
	assert.Equal(t, 1, enh.calls)
	assert.Equal(t, stubDraft().RawAnswer, resp.Answer)
	assert.False(t, resp.EnhancementApplied)
	assert.Empty(t, resp.OriginalResponse)
	assert.Equal(t, "definition_template", resp.Method)
	assert.Equal(t, 0.8, resp.Confidence)
	assert.Equal(t, []string{"definition_template"}, obs.methods)
}

func TestQueryRejectedRewriteIsObserved(t *testing.T) {
	final := rag.PassThrough(stubDraft())
	final.RejectReason = rag.RejectRepetition
	obs := &recordingObserver{}
	svc := NewRAGService(staticBuilder(&Pipeline{
		Retriever:    &countingRetriever{results: oneResult()},
		Answerer:     &countingAnswerer{draft: stubDraft()},
		Enhancer:     &countingEnhancer{final: final},
		LLMAvailable: true,
	}), testSettings(), nil, obs)

	resp, err := svc.Query(context.Background(), defaultRequest("q"))
	require.NoError(t, err)
	assert.False(t, resp.EnhancementApplied)
	assert.Equal(t, []string{rag.RejectRepetition}, obs.rejections)
}

func TestQueryEnhancementApplied(t *testing.T) {
	enh := &countingEnhancer{final: rag.FinalAnswer{
		OriginalAnswer:     stubDraft().RawAnswer,
		FinalAnswer:        "**Tường lửa** là hệ thống kiểm soát truy cập mạng theo chính sách.",
		Confidence:         1.4,
		EnhancementApplied: true,
	}}
	svc := NewRAGService(staticBuilder(&Pipeline{
		Retriever:    &countingRetriever{results: oneResult()},
		Answerer:     &countingAnswerer{draft: stubDraft()},
		Enhancer:     enh,
		LLMAvailable: true,
	}), testSettings(), nil, nil)

	resp, err := svc.Query(context.Background(), defaultRequest("Tường lửa là gì?"))
	require.NoError(t, err)
	assert.True(t, resp.EnhancementApplied)
	assert.Equal(t, "definition_template_enhanced", resp.Method)
	assert.Equal(t, stubDraft().RawAnswer, resp.OriginalResponse)
	assert.Equal(t, 1.0, resp.Confidence)
	require.Len(t, resp.Sources, 1)
	assert.Equal(t, "Giao Trinh Mang", resp.Sources[0].DisplayName)
	assert.Equal(t, 300, len([]rune(resp.Sources[0].ContentPreview)))
	assert.True(t, strings.HasSuffix(resp.Sources[0].ContentPreview, "..."))
}

func TestQueryEnhancementSkipped(t *testing.T) {
	cases := map[string]struct {
		llm      bool
		perCall  bool
		settings bool
	}{
		"per call off":      {llm: true, perCall: false, settings: true},
		"llm unavailable":   {llm: false, perCall: true, settings: true},
		"disabled globally": {llm: true, perCall: true, settings: false},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			enh := &countingEnhancer{}
			settings := testSettings()
			settings.EnhancementEnabled = tc.settings
			svc := NewRAGService(staticBuilder(&Pipeline{
				Retriever:    &countingRetriever{results: oneResult()},
				Answerer:     &countingAnswerer{draft: stubDraft()},
				Enhancer:     enh,
				LLMAvailable: tc.llm,
			}), settings, nil, nil)

			req := defaultRequest("q")
			req.UseEnhancement = tc.perCall
			resp, err := svc.Query(context.Background(), req)
			require.NoError(t, err)
			assert.Equal(t, 0, enh.calls)
			assert.Equal(t, stubDraft().RawAnswer, resp.Answer)
		})
	}
}

func TestQueryEmbeddingFailure(t *testing.T) {
	svc := NewRAGService(staticBuilder(&Pipeline{
		Retriever: &countingRetriever{err: fmt.Errorf("%w: connection refused", rag.ErrEmbedding)},
	}), testSettings(), nil, nil)

	resp, err := svc.Query(context.Background(), defaultRequest("q"))
	assert.ErrorIs(t, err, rag.ErrEmbedding)
	assert.Equal(t, rag.MethodError, resp.Method)
	assert.Equal(t, 0.0, resp.Confidence)
	assert.Empty(t, resp.Sources)
	assert.NotEmpty(t, resp.Error)
}

func TestQueryPanicBecomesErrorShape(t *testing.T) {
	svc := NewRAGService(staticBuilder(&Pipeline{
		Retriever: &countingRetriever{results: oneResult()},
		Answerer:  &countingAnswerer{panic: true},
	}), testSettings(), nil, nil)

	resp, err := svc.Query(context.Background(), defaultRequest("q"))
	require.NoError(t, err)
	assert.Equal(t, rag.MethodError, resp.Method)
	assert.Equal(t, 0, resp.TotalSources)
	assert.True(t, strings.HasPrefix(resp.Answer, errorAnswer))
}

func TestQueryTimeoutReturnsStage1(t *testing.T) {
	settings := testSettings()
	settings.QueryTimeout = 30 * time.Millisecond
	enh := &countingEnhancer{block: true}
	svc := NewRAGService(staticBuilder(&Pipeline{
		Retriever:    &countingRetriever{results: oneResult()},
		Answerer:     &countingAnswerer{draft: stubDraft()},
		Enhancer:     enh,
		LLMAvailable: true,
	}), settings, nil, nil)

	resp, err := svc.Query(context.Background(), defaultRequest("q"))
	require.NoError(t, err)
	assert.Equal(t, 1, enh.calls)
	assert.Equal(t, stubDraft().RawAnswer, resp.Answer)
	assert.False(t, resp.EnhancementApplied)
}

func TestInitLoadsOnceUnderConcurrency(t *testing.T) {
	var builds int32
	build := func(context.Context) (*Pipeline, error) {
		atomic.AddInt32(&builds, 1)
		time.Sleep(20 * time.Millisecond)
		return &Pipeline{Retriever: &countingRetriever{}}, nil
	}
	svc := NewRAGService(build, testSettings(), nil, nil)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, svc.Init(context.Background()))
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), atomic.LoadInt32(&builds))

	require.NoError(t, svc.Init(context.Background()))
	assert.Equal(t, int32(1), atomic.LoadInt32(&builds))

	require.NoError(t, svc.Reload(context.Background()))
	assert.Equal(t, int32(2), atomic.LoadInt32(&builds))
}

func TestQueryCapsOnlyEnhancedAnswers(t *testing.T) {
	settings := testSettings()
	settings.MaxAnswerLength = 40
	draft := stubDraft()
	draft.RawAnswer = strings.Repeat("Quy định về an toàn thông tin mạng. ", 10)

	svc := NewRAGService(staticBuilder(&Pipeline{
		Retriever: &countingRetriever{results: oneResult()},
		Answerer:  &countingAnswerer{draft: draft},
	}), settings, nil, nil)
	resp, err := svc.Query(context.Background(), defaultRequest("q"))
	require.NoError(t, err)
	assert.Equal(t, draft.RawAnswer, resp.Answer)

	enh := &countingEnhancer{final: rag.FinalAnswer{
		OriginalAnswer:     draft.RawAnswer,
		FinalAnswer:        strings.Repeat("Nội dung đã viết lại. ", 10),
		Confidence:         0.9,
		EnhancementApplied: true,
	}}
	svc = NewRAGService(staticBuilder(&Pipeline{
		Retriever:    &countingRetriever{results: oneResult()},
		Answerer:     &countingAnswerer{draft: draft},
		Enhancer:     enh,
		LLMAvailable: true,
	}), settings, nil, nil)
	resp, err = svc.Query(context.Background(), defaultRequest("q"))
	require.NoError(t, err)
	assert.True(t, resp.EnhancementApplied)
	assert.Equal(t, 40, len([]rune(resp.Answer)))
	assert.Equal(t, draft.RawAnswer, resp.OriginalResponse)
}

func TestQueryEventCarriesTotalsAndOutlivesRequest(t *testing.T) {
	pub := &recordingPublisher{}
	svc := NewRAGService(staticBuilder(&Pipeline{
		Retriever: &countingRetriever{results: oneResult()},
		Answerer:  &countingAnswerer{draft: stubDraft()},
	}), testSettings(), pub, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := defaultRequest("Tường lửa là gì?")
	req.IncludeSources = false
	resp, err := svc.Query(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, 1, resp.TotalSources)
	assert.Empty(t, resp.Sources)

	require.Len(t, pub.events, 1)
	assert.Equal(t, 1, pub.events[0].TotalSources)
	assert.Empty(t, pub.events[0].Sources)
	assert.NoError(t, pub.ctxErrs[0])
	assert.True(t, pub.deadlines[0])
}

func TestInitRecoversBuilderPanic(t *testing.T) {
	svc := NewRAGService(func(context.Context) (*Pipeline, error) {
		panic("makeslice: len out of range")
	}, testSettings(), nil, nil)

	err := svc.Init(context.Background())
	assert.ErrorIs(t, err, ErrNotReady)

	resp, err := svc.Query(context.Background(), defaultRequest("q"))
	assert.ErrorIs(t, err, ErrNotReady)
	assert.Equal(t, rag.MethodError, resp.Method)
}

func TestInitFailureIsRetried(t *testing.T) {
	attempts := 0
	build := func(context.Context) (*Pipeline, error) {
		attempts++
		if attempts == 1 {
			return nil, errors.New("index file missing")
		}
		return &Pipeline{Retriever: &countingRetriever{}}, nil
	}
	svc := NewRAGService(build, testSettings(), nil, nil)

	resp, err := svc.Query(context.Background(), defaultRequest("q"))
	assert.ErrorIs(t, err, ErrNotReady)
	assert.Equal(t, rag.MethodError, resp.Method)

	resp, err = svc.Query(context.Background(), defaultRequest("q"))
	require.NoError(t, err)
	assert.Equal(t, rag.MethodNoResults, resp.Method)
}

// hashEmbedder is a bag-of-words embedder: deterministic and good enough to
// make shared words dominate similarity.
type hashEmbedder struct{ dim int }

func (h hashEmbedder) vector(text string) []float32 {
	v := make([]float32, h.dim)
	for _, w := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		f := fnv.New32a()
		_, _ = f.Write([]byte(w))
		v[int(f.Sum32())%h.dim]++
	}
	return index.Normalize(v)
}

func (h hashEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	return h.vector(text), nil
}

func corpusRecords(withLegal bool) []corpus.DocumentRecord {
	var filler []string
	for i := 0; i < 99; i++ {
		filler = append(filler, fmt.Sprintf("Tài liệu số %d mô tả cấu hình máy chủ web", i))
	}
	records := []corpus.DocumentRecord{{PDFName: "giao_trinh_he_dieu_hanh.pdf", Chunks: filler}}
	if withLegal {
		records = append(records, corpus.DocumentRecord{
			PDFName: "Luat_An_toan_thong_tin_mang.pdf",
			Chunks:  []string{"Luật an toàn thông tin quy định về an toàn thông tin mạng."},
		})
	} else {
		records = append(records, corpus.DocumentRecord{
			PDFName: "bai_giang_mang.pdf",
			Chunks:  []string{"Bài giảng về an toàn thông tin mạng."},
		})
	}
	return records
}

func realService(t *testing.T, records []corpus.DocumentRecord) *RAGService {
	t.Helper()
	store := corpus.NewStore(records, nil)
	emb := hashEmbedder{dim: 256}
	idx, err := index.NewFlat(emb.dim, index.MetricIP)
	require.NoError(t, err)
	for i := 0; i < store.Len(); i++ {
		c, _ := store.At(i)
		require.NoError(t, idx.Add([][]float32{emb.vector(c.Content)}))
	}
	retr, err := rag.NewRetriever(emb, idx, store, true)
	require.NoError(t, err)

	lex := rag.DefaultLexicon()
	ans := rag.NewAnswerer(rag.NewTemplateStrategy(lex), rag.DistanceScale{Metric: index.MetricIP, Ceiling: 1})
	return NewRAGService(staticBuilder(&Pipeline{
		Retriever:      retr,
		Answerer:       ans,
		Stats:          store.Stats(),
		EmbeddingModel: "hash-bow",
	}), testSettings(), nil, nil)
}

func TestQueryFindsLegalDefinition(t *testing.T) {
	svc := realService(t, corpusRecords(true))
	req := defaultRequest("An toàn thông tin là gì?")
	req.TopK = 3

	resp, err := svc.Query(context.Background(), req)
	require.NoError(t, err)
	require.GreaterOrEqual(t, resp.TotalSources, 1)
	for _, src := range resp.Sources {
		assert.Contains(t, []string{"legal", "english", "vietnamese"}, src.Category)
		assert.GreaterOrEqual(t, src.SimilarityScore, 0.3)
	}
	assert.Equal(t, "Luat_An_toan_thong_tin_mang.pdf", resp.Sources[0].Filename)
	assert.NotEmpty(t, resp.Answer)
	assert.Greater(t, resp.Confidence, 0.0)
	assert.LessOrEqual(t, resp.Confidence, 1.0)
}

func TestQueryLegalFilterWithoutLegalDocuments(t *testing.T) {
	svc := realService(t, corpusRecords(false))
	req := defaultRequest("An toàn thông tin là gì?")
	req.FilterCategory = "legal"

	resp, err := svc.Query(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 0, resp.TotalSources)
	assert.Equal(t, noResultsAnswer, resp.Answer)
	assert.Equal(t, "legal", resp.FilterCategory)
}

func TestQueryNearMaximumThreshold(t *testing.T) {
	svc := realService(t, corpusRecords(true))
	threshold := 0.99
	req := defaultRequest("An toàn thông tin là gì?")
	req.SimilarityThreshold = &threshold

	resp, err := svc.Query(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 0, resp.TotalSources)
	assert.Equal(t, rag.MethodNoResults, resp.Method)
}

func TestQueryRepeatableWithoutEnhancement(t *testing.T) {
	svc := realService(t, corpusRecords(true))
	req := defaultRequest("An toàn thông tin là gì?")
	req.UseEnhancement = false

	first, err := svc.Query(context.Background(), req)
	require.NoError(t, err)
	second, err := svc.Query(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, first.Sources, second.Sources)
	assert.Equal(t, first.Confidence, second.Confidence)
	assert.Equal(t, first.Answer, second.Answer)
}

func TestStatsAndCategories(t *testing.T) {
	svc := realService(t, corpusRecords(true))

	stats, err := svc.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ready", stats.Status)
	assert.Equal(t, 2, stats.TotalDocuments)
	assert.Equal(t, 100, stats.TotalChunks)
	assert.Equal(t, 1, stats.Categories["legal"].Chunks)
	assert.Equal(t, 5, stats.DefaultSettings.TopK)
	assert.Equal(t, "hash-bow", stats.EmbeddingModel)

	cats, err := svc.Categories(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []CategoryInfo{{Name: "legal", Chunks: 1}, {Name: "vietnamese", Chunks: 99}}, cats)
}

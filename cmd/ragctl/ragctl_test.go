package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"infosec-rag/internal/app"
)

// embeddingServer puts firewall text on one axis and everything else on the
// other.
func embeddingServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Input []string `json:"input"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		type item struct {
			Index     int       `json:"index"`
			Embedding []float32 `json:"embedding"`
		}
		data := make([]item, len(req.Input))
		for i, in := range req.Input {
			vec := []float32{0, 1}
			if strings.Contains(strings.ToLower(in), "tường lửa") {
				vec = []float32{1, 0}
			}
			data[i] = item{Index: i, Embedding: vec}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"data": data})
	}))
}

func run(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	require.NoError(t, rootCmd.Execute(), out.String())
	return out.String()
}

func TestBuildThenQuery(t *testing.T) {
	srv := embeddingServer(t)
	defer srv.Close()

	dir := t.TempDir()
	docs := filepath.Join(dir, "docs")
	require.NoError(t, os.MkdirAll(docs, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(docs, "tuong_lua.txt"),
		[]byte("Tường lửa là thiết bị kiểm soát lưu lượng mạng theo chính sách an ninh."), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(docs, "Luat_an_toan_thong_tin.txt"),
		[]byte("Luật quy định trách nhiệm bảo đảm an toàn thông tin mạng của cơ quan, tổ chức."), 0o644))

	t.Setenv("CONFIG_FILE", filepath.Join(dir, "absent.toml"))
	t.Setenv("EMBEDDING_BASE_URL", srv.URL)
	t.Setenv("LLM_ENABLED", "false")
	t.Setenv("INDEX_CHUNKS_PATH", filepath.Join(dir, "data", "chunks.json"))
	t.Setenv("INDEX_PATH", filepath.Join(dir, "data", "flat.index"))

	out := run(t, "index", "build", "--docs", docs)
	assert.Contains(t, out, "indexed 2 documents, 2 chunks (dim 2, ip)")

	out = run(t, "query", "Tường lửa là gì?", "--json")
	var resp app.QueryResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Equal(t, 1, resp.TotalSources)
	assert.Equal(t, "tuong_lua.txt", resp.Sources[0].Filename)
	assert.True(t, strings.HasSuffix(resp.Method, "_template"), resp.Method)
	assert.False(t, resp.EnhancementApplied)

	out = run(t, "stats")
	assert.Contains(t, out, "2 documents, 2 chunks, llm=false")
	assert.Contains(t, out, "legal")
}

func TestPrintResponse(t *testing.T) {
	var buf bytes.Buffer
	printResponse(&buf, &app.QueryResponse{
		Answer:       "Mã hóa bảo vệ dữ liệu.",
		Method:       "general_template",
		Confidence:   0.456,
		TotalSources: 1,
		Sources:      []app.SourceView{{DisplayName: "Mat Ma", Category: "vietnamese", SimilarityScore: 0.81234}},
	})
	assert.Equal(t, "Mã hóa bảo vệ dữ liệu.\n\nmethod=general_template confidence=0.46 sources=1 time=0ms\n[1] Mat Ma (vietnamese, 0.812)\n", buf.String())
}

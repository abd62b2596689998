package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"infosec-rag/internal/app"
)

var (
	queryTopK      int
	queryCategory  string
	queryThreshold float64
	queryNoEnhance bool
	queryJSON      bool
)

var queryCmd = &cobra.Command{
	Use:   "query [question]",
	Short: "Answer one question against the local index",
	Args:  cobra.ExactArgs(1),
	RunE:  runQuery,
}

func init() {
	queryCmd.Flags().IntVarP(&queryTopK, "top-k", "k", 0, "number of sources (default rag.default_top_k)")
	queryCmd.Flags().StringVar(&queryCategory, "category", "", "legal, english or vietnamese")
	queryCmd.Flags().Float64Var(&queryThreshold, "threshold", 0, "similarity threshold (default rag.similarity_threshold)")
	queryCmd.Flags().BoolVar(&queryNoEnhance, "no-enhance", false, "skip the LLM rewrite")
	queryCmd.Flags().BoolVar(&queryJSON, "json", false, "print the full response as JSON")
	rootCmd.AddCommand(queryCmd)
}

func runQuery(cmd *cobra.Command, args []string) error {
	req := app.QueryRequest{
		Question:       args[0],
		TopK:           queryTopK,
		FilterCategory: queryCategory,
		IncludeSources: true,
		UseEnhancement: !queryNoEnhance,
	}
	if cmd.Flags().Changed("threshold") {
		req.SimilarityThreshold = &queryThreshold
	}

	resp, err := newRAGService().Query(cmd.Context(), req)
	if err != nil {
		return fmt.Errorf("query failed: %w", err)
	}
	if queryJSON {
		return writeJSON(cmd.OutOrStdout(), resp)
	}
	printResponse(cmd.OutOrStdout(), resp)
	return nil
}

func printResponse(w io.Writer, resp *app.QueryResponse) {
	fmt.Fprintln(w, resp.Answer)
	fmt.Fprintln(w)
	fmt.Fprintf(w, "method=%s confidence=%.2f sources=%d time=%dms\n",
		resp.Method, resp.Confidence, resp.TotalSources, resp.ProcessingTimeMS)
	for i, src := range resp.Sources {
		fmt.Fprintf(w, "[%d] %s (%s, %.3f)\n", i+1, src.DisplayName, src.Category, src.SimilarityScore)
	}
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"infosec-rag/internal/bootstrap"
	"infosec-rag/internal/index"
	"infosec-rag/internal/ingest"
)

var (
	indexDocsDir    string
	indexChunksPath string
	indexPath       string
	indexBatchSize  int
)

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Manage the chunk dump and vector index",
}

var indexBuildCmd = &cobra.Command{
	Use:   "build",
	Short: "Chunk and embed a directory of documents",
	Long: `Reads every .pdf, .txt and .md file under --docs, splits it into chunks,
embeds the chunks and writes the chunk dump and the vector index side by side.
A running server picks the new files up on POST /api/v1/rag/reload.`,
	Args: cobra.NoArgs,
	RunE: runIndexBuild,
}

func init() {
	indexBuildCmd.Flags().StringVar(&indexDocsDir, "docs", "", "directory of source documents")
	indexBuildCmd.Flags().StringVar(&indexChunksPath, "chunks", "", "chunk dump output (default index.chunks_path)")
	indexBuildCmd.Flags().StringVar(&indexPath, "index", "", "index output (default index.index_path)")
	indexBuildCmd.Flags().IntVar(&indexBatchSize, "batch", 10, "chunks per embedding request")
	_ = indexBuildCmd.MarkFlagRequired("docs")
	indexCmd.AddCommand(indexBuildCmd)
	rootCmd.AddCommand(indexCmd)
}

func runIndexBuild(cmd *cobra.Command, _ []string) error {
	chunksPath := orDefault(indexChunksPath, cfg.Index.ChunksPath)
	outPath := orDefault(indexPath, cfg.Index.IndexPath)

	metric, err := index.ParseMetric(cfg.Index.Metric)
	if err != nil {
		return err
	}
	docs, err := ingest.ReadDocuments(indexDocsDir)
	if err != nil {
		return err
	}

	builder := ingest.NewBuilder(bootstrap.NewEmbedder(cfg), ingest.Options{
		ChunkSize: cfg.Index.ChunkSize,
		Overlap:   cfg.Index.Overlap,
		BatchSize: indexBatchSize,
		Metric:    metric,
		Normalize: cfg.Index.Normalize,
	})
	result, err := builder.Build(cmd.Context(), docs)
	if err != nil {
		return fmt.Errorf("build index failed: %w", err)
	}
	if err := result.Save(chunksPath, outPath); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "indexed %d documents, %d chunks (dim %d, %s)\n",
		len(result.Records), result.Index.Size(), result.Index.Dim(), result.Index.Metric())
	fmt.Fprintf(cmd.OutOrStdout(), "chunks: %s\nindex:  %s\n", chunksPath, outPath)
	return nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

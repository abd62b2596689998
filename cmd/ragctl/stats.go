package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

var statsJSON bool

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Load the index and print corpus statistics",
	Args:  cobra.NoArgs,
	RunE:  runStats,
}

func init() {
	statsCmd.Flags().BoolVar(&statsJSON, "json", false, "print as JSON")
	rootCmd.AddCommand(statsCmd)
}

func runStats(cmd *cobra.Command, _ []string) error {
	stats, err := newRAGService().Stats(cmd.Context())
	if err != nil {
		return err
	}
	if statsJSON {
		return writeJSON(cmd.OutOrStdout(), stats)
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "%s %s: %d documents, %d chunks, llm=%v, embedding=%s\n",
		stats.ServiceName, stats.Version, stats.TotalDocuments, stats.TotalChunks, stats.LLMAvailable, stats.EmbeddingModel)
	names := make([]string, 0, len(stats.Categories))
	for name := range stats.Categories {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		c := stats.Categories[name]
		fmt.Fprintf(w, "  %-10s %6d chunks %9d chars\n", name, c.Chunks, c.TotalLength)
	}
	return nil
}

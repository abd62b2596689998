// Command ragctl builds the index and inspects the RAG pipeline without the
// HTTP server.
package main

import (
	"os"

	"github.com/spf13/cobra"

	"infosec-rag/internal/app"
	"infosec-rag/internal/bootstrap"
	"infosec-rag/internal/config"
)

var (
	configFile string
	cfg        *config.Config
)

var rootCmd = &cobra.Command{
	Use:          "ragctl",
	Short:        "Operate the infosec RAG service offline",
	SilenceUsage: true,
	PersistentPreRunE: func(*cobra.Command, []string) error {
		if configFile != "" {
			if err := os.Setenv("CONFIG_FILE", configFile); err != nil {
				return err
			}
		}
		loaded, err := config.Load()
		if err != nil {
			return err
		}
		cfg = loaded
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (default $CONFIG_FILE or configs/config.toml)")
}

// newRAGService builds a standalone query service: no audit trail, no
// metrics, no embedding cache.
func newRAGService() *app.RAGService {
	builder := bootstrap.NewPipelineBuilder(cfg, bootstrap.NewEmbedder(cfg), bootstrap.NewLLM(cfg))
	return app.NewRAGService(builder, bootstrap.Settings(cfg), nil, nil)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

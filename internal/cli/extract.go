package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/avolkau/evidentia/internal/extract"
)

var (
	extractScope       string
	extractLLM         bool
	extractLLMProvider string
	extractLLMModel    string
)

// extractCmd represents the extract command
var extractCmd = &cobra.Command{
	Use:   "extract <version-key>",
	Short: "Propose and record claims from a version's chunks",
	Long: `Extract runs the claim proposers over every chunk of a version. Proposed
quotes must appear verbatim in their chunk and their selectors must resolve
against the archived bytes, or they are refused.

Example:
  evidentia extract ver:v1:abc... --scope case-42
  evidentia extract ver:v1:abc... --scope case-42 --llm --llm-provider openai`,
	Args: cobra.ExactArgs(1),
	RunE: runExtract,
}

func init() {
	rootCmd.AddCommand(extractCmd)

	extractCmd.Flags().StringVar(&extractScope, "scope", "", "case scope to record claims into (required)")
	extractCmd.Flags().BoolVar(&extractLLM, "llm", false, "enable the LLM claim proposer")
	extractCmd.Flags().StringVar(&extractLLMProvider, "llm-provider", "openai", "LLM provider (openai, ollama)")
	extractCmd.Flags().StringVar(&extractLLMModel, "llm-model", "", "LLM model name")
	_ = extractCmd.MarkFlagRequired("scope")
}

func runExtract(cmd *cobra.Command, args []string) error {
	e, cfg, err := openEngine()
	if err != nil {
		return err
	}
	defer func() { _ = e.Close() }()

	if extractLLM {
		cfg.LLM.Provider = extractLLMProvider
		if extractLLMModel != "" {
			cfg.LLM.Model = extractLLMModel
		}
		if extractLLMProvider == "openai" {
			cfg.LLM.APIKey = os.Getenv("OPENAI_API_KEY")
			if cfg.LLM.APIKey == "" {
				return fmt.Errorf("OPENAI_API_KEY environment variable not set")
			}
		}
		if baseURL := os.Getenv("OLLAMA_BASE_URL"); baseURL != "" && extractLLMProvider == "ollama" {
			cfg.LLM.BaseURL = baseURL
		}
	} else {
		cfg.LLM.Provider = ""
	}

	proposers, err := extract.Proposers(cfg, newLogger(cfg))
	if err != nil {
		return err
	}

	summary, err := e.ExtractClaims(cmd.Context(), args[0], extractScope, proposers, actor)
	if err != nil {
		return err
	}
	return printJSON(summary)
}

package extract

import (
	"log/slog"

	"github.com/avolkau/evidentia/internal/model"
)

// Proposers assembles the configured proposer set. The keyword proposer is
// always active; the LLM proposer joins when a provider is configured.
func Proposers(cfg *model.Config, log *slog.Logger) ([]Proposer, error) {
	proposers := []Proposer{NewKeywordProposer(cfg.Anchor)}

	llm, err := NewLLMProposer(cfg.LLM, cfg.Anchor, cfg.HTTP, log)
	if err != nil {
		return nil, err
	}
	if llm != nil {
		proposers = append(proposers, llm)
	}
	return proposers, nil
}

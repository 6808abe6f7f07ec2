package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/avolkau/evidentia/internal/model"
)

const llmSystemPrompt = `You extract factual claims from a passage of text.
Return a JSON array. Each element:
{"quote": "...", "subject": "...", "predicate": "...", "object": "...",
 "modality": "confirmed|likely|alleged|denied|unknown",
 "speaker": "...", "time_start": "RFC3339 or empty", "time_end": "RFC3339 or empty"}

RULES:
1. "quote" MUST be copied verbatim from the passage. Never paraphrase,
   never fix spelling, never merge sentences.
2. "modality" reflects how the SOURCE frames the statement, not whether
   you believe it.
3. Leave subject/predicate/object empty when no clean structure exists.
4. Return [] when the passage contains no claims.
Output only the JSON array.`

// completer is the minimal LLM surface the proposer needs. Providers differ
// in transport, not in shape.
type completer interface {
	name() string
	complete(ctx context.Context, system, prompt string) (string, error)
}

// LLMProposer proposes claims through a language model. Its output is
// untrusted: any candidate whose quote is not a verbatim substring of the
// chunk is dropped before it reaches the store.
type LLMProposer struct {
	client       completer
	log          *slog.Logger
	contextRunes int
	timeout      time.Duration
}

// NewLLMProposer builds a proposer for the configured provider, or nil when
// no provider is set.
func NewLLMProposer(cfg model.LLMConfig, anchorCfg model.AnchorConfig, httpCfg model.HTTPConfig, log *slog.Logger) (*LLMProposer, error) {
	if log == nil {
		log = slog.Default()
	}
	var client completer
	switch strings.ToLower(cfg.Provider) {
	case "":
		return nil, nil
	case "openai":
		c, err := newOpenAICompleter(cfg)
		if err != nil {
			return nil, err
		}
		client = c
	case "ollama":
		client = newOllamaCompleter(cfg, httpCfg)
	default:
		return nil, fmt.Errorf("unknown LLM provider: %s (supported: openai, ollama)", cfg.Provider)
	}

	timeout := time.Duration(cfg.Timeout) * time.Second
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &LLMProposer{
		client:       client,
		log:          log,
		contextRunes: anchorCfg.ContextRunes,
		timeout:      timeout,
	}, nil
}

// Name identifies this proposer in claim provenance.
func (p *LLMProposer) Name() string {
	return "llm:" + p.client.name()
}

type llmCandidate struct {
	Quote     string `json:"quote"`
	Subject   string `json:"subject"`
	Predicate string `json:"predicate"`
	Object    string `json:"object"`
	Modality  string `json:"modality"`
	Speaker   string `json:"speaker"`
	TimeStart string `json:"time_start"`
	TimeEnd   string `json:"time_end"`
}

// Propose asks the model for claims and keeps only candidates whose quotes
// survive the verbatim check.
func (p *LLMProposer) Propose(ctx context.Context, chunk model.Chunk) ([]Candidate, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	raw, err := p.client.complete(ctx, llmSystemPrompt, chunk.Text)
	if err != nil {
		return nil, fmt.Errorf("llm completion: %w", err)
	}

	parsed, err := parseLLMResponse(raw)
	if err != nil {
		return nil, fmt.Errorf("llm response: %w", err)
	}

	var candidates []Candidate
	dropped := 0
	for _, c := range parsed {
		quote := strings.TrimSpace(c.Quote)
		if quote == "" {
			continue
		}
		selectors, ok := SelectorsFor(chunk, quote, p.contextRunes)
		if !ok {
			dropped++
			continue
		}
		candidates = append(candidates, Candidate{
			Quote:     quote,
			Selectors: selectors,
			Modality:  parseModality(c.Modality),
			Slots: model.Slots{
				Subject:   strings.TrimSpace(c.Subject),
				Predicate: strings.TrimSpace(c.Predicate),
				Object:    strings.TrimSpace(c.Object),
				Time:      parseLLMTime(c.TimeStart, c.TimeEnd),
			},
			Attribution: model.Attribution{
				Speaker:  strings.TrimSpace(c.Speaker),
				Reported: c.Speaker != "",
			},
			Heuristic: "llm",
		})
	}
	if dropped > 0 {
		log := p.log
		if log == nil {
			log = slog.Default()
		}
		log.Warn("dropped non-verbatim llm quotes",
			"chunk", chunk.Key, "dropped", dropped, "kept", len(candidates))
	}
	return candidates, nil
}

// parseLLMResponse tolerates prose or code fences around the JSON array.
func parseLLMResponse(raw string) ([]llmCandidate, error) {
	raw = strings.TrimSpace(raw)
	start := strings.Index(raw, "[")
	end := strings.LastIndex(raw, "]")
	if start < 0 || end < start {
		return nil, fmt.Errorf("no JSON array in output")
	}
	var parsed []llmCandidate
	if err := json.Unmarshal([]byte(raw[start:end+1]), &parsed); err != nil {
		return nil, fmt.Errorf("unmarshal: %w", err)
	}
	return parsed, nil
}

func parseModality(s string) model.Modality {
	switch model.Modality(strings.ToLower(strings.TrimSpace(s))) {
	case model.ModalityConfirmed:
		return model.ModalityConfirmed
	case model.ModalityLikely:
		return model.ModalityLikely
	case model.ModalityAlleged:
		return model.ModalityAlleged
	case model.ModalityDenied:
		return model.ModalityDenied
	default:
		return model.ModalityUnknown
	}
}

func parseLLMTime(startStr, endStr string) model.TimeRange {
	var tr model.TimeRange
	if t, err := time.Parse(time.RFC3339, startStr); err == nil {
		tr.Start = t
	}
	if t, err := time.Parse(time.RFC3339, endStr); err == nil {
		tr.End = t
	}
	return tr
}

// openaiCompleter calls the Chat Completions API.
type openaiCompleter struct {
	client    *openai.Client
	model     string
	maxTokens int
}

func newOpenAICompleter(cfg model.LLMConfig) (*openaiCompleter, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required")
	}
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	mdl := cfg.Model
	if mdl == "" {
		mdl = openai.GPT4oMini
	}
	maxTokens := cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = 1500
	}
	return &openaiCompleter{
		client:    openai.NewClientWithConfig(clientConfig),
		model:     mdl,
		maxTokens: maxTokens,
	}, nil
}

func (c *openaiCompleter) name() string { return "openai" }

func (c *openaiCompleter) complete(ctx context.Context, system, prompt string) (string, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		MaxTokens:   c.maxTokens,
		Temperature: 0.2,
	})
	if err != nil {
		return "", fmt.Errorf("OpenAI API error: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no response from OpenAI")
	}
	return resp.Choices[0].Message.Content, nil
}

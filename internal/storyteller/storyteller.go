// Package storyteller narrates eliminations through an LLM provider.
package storyteller

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/rs/zerolog"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/googleai"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

const systemPrompt = `You are the narrator of a werewolf game played in a remote mountain village. When a villager dies you tell a short atmospheric story about their fate. Keep it to 2-3 sentences. Never reveal the role of anyone still alive.`

const groqURL = "https://api.groq.com/openai/v1"

// Config selects a provider. An empty Provider disables narration.
type Config struct {
	Provider    string  // ollama | openai | claude | gemini | groq | openai-compatible
	Model       string
	OllamaURL   string
	URL         string  // base URL for openai-compatible
	APIKey      string  // token for groq and openai-compatible
	Temperature float64 // ignored when <= 0
	Thinking    string  // none | low | medium | high | auto
}

// Teller streams a story from an llms.Model.
type Teller struct {
	llm      llms.Model
	prompt   string
	callOpts []llms.CallOption
}

// NewTeller wraps an already constructed model.
func NewTeller(llm llms.Model, opts ...llms.CallOption) *Teller {
	return &Teller{llm: llm, prompt: systemPrompt, callOpts: opts}
}

// Tell asks for a short story about the latest events in history. Every streamed chunk is
// passed to onChunk; the trimmed full text is returned.
func (t *Teller) Tell(ctx context.Context, history []string, onChunk func(string)) (string, error) {
	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, t.prompt),
		llms.TextParts(llms.ChatMessageTypeHuman,
			"What happened so far:\n"+strings.Join(history, "\n")+
				"\n\nTell a short dramatic story (2-3 sentences) about the latest death."),
	}

	var full strings.Builder
	opts := append(slices.Clone(t.callOpts), llms.WithStreamingFunc(func(_ context.Context, chunk []byte) error {
		text := string(chunk)
		full.WriteString(text)
		if onChunk != nil {
			onChunk(text)
		}
		return nil
	}))

	resp, err := t.llm.GenerateContent(ctx, messages, opts...)
	if err != nil {
		return "", err
	}
	// Providers that ignore streaming still return the whole answer.
	if full.Len() == 0 && resp != nil && len(resp.Choices) > 0 {
		full.WriteString(resp.Choices[0].Content)
	}
	return strings.TrimSpace(full.String()), nil
}

// callOptions builds sampling options from cfg.
func callOptions(cfg Config, log zerolog.Logger) []llms.CallOption {
	var opts []llms.CallOption
	if cfg.Temperature > 0 {
		opts = append(opts, llms.WithTemperature(cfg.Temperature))
	}
	if cfg.Thinking != "" {
		mode := llms.ThinkingMode(cfg.Thinking)
		switch mode {
		case llms.ThinkingModeNone, llms.ThinkingModeLow, llms.ThinkingModeMedium, llms.ThinkingModeHigh, llms.ThinkingModeAuto:
			opts = append(opts, llms.WithThinkingMode(mode))
		default:
			log.Warn().Str("thinking", cfg.Thinking).Msg("storyteller: invalid thinking mode (none, low, medium, high, auto)")
		}
	}
	return opts
}

// New builds the configured storyteller. It returns nil, nil when narration is disabled.
func New(ctx context.Context, cfg Config, log zerolog.Logger) (*Teller, error) {
	var (
		llm llms.Model
		err error
	)
	switch cfg.Provider {
	case "":
		log.Info().Msg("storyteller: disabled (set storyteller_provider to enable)")
		return nil, nil
	case "ollama":
		llm, err = ollama.New(ollama.WithModel(cfg.Model), ollama.WithServerURL(cfg.OllamaURL))
	case "openai":
		llm, err = openai.New(openai.WithModel(cfg.Model))
	case "claude":
		llm, err = anthropic.New(anthropic.WithModel(cfg.Model))
	case "gemini":
		llm, err = googleai.New(ctx, googleai.WithDefaultModel(cfg.Model))
	case "groq":
		llm, err = openai.New(openai.WithModel(cfg.Model), openai.WithBaseURL(groqURL), openai.WithToken(cfg.APIKey))
	case "openai-compatible":
		if cfg.URL == "" {
			return nil, fmt.Errorf("storyteller: storyteller_url is required for openai-compatible")
		}
		opts := []openai.Option{openai.WithModel(cfg.Model), openai.WithBaseURL(cfg.URL)}
		if cfg.APIKey != "" {
			opts = append(opts, openai.WithToken(cfg.APIKey))
		}
		llm, err = openai.New(opts...)
	default:
		return nil, fmt.Errorf("storyteller: unknown provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("storyteller: init %s (%s): %w", cfg.Provider, cfg.Model, err)
	}
	log.Info().Str("provider", cfg.Provider).Str("model", cfg.Model).Msg("storyteller enabled")
	return NewTeller(llm, callOptions(cfg, log)...), nil
}

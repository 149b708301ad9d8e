package synthesis

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/propago/internal/common"
	"google.golang.org/genai"
)

// textGenerator is one LLM completion backend.
type textGenerator interface {
	Generate(ctx context.Context, system, prompt string) (string, error)
}

// newProvider builds the configured completion backend. Returns nil when the
// provider's API key is absent; the caller treats that as synthesis disabled.
func newProvider(config common.SynthesisConfig, logger arbor.ILogger) (textGenerator, error) {
	switch strings.ToLower(config.Provider) {
	case "", "claude":
		if config.ClaudeKey == "" {
			return nil, nil
		}
		return newClaudeProvider(config, logger), nil
	case "gemini":
		if config.GeminiKey == "" {
			return nil, nil
		}
		return newGeminiProvider(config, logger)
	default:
		return nil, fmt.Errorf("unknown synthesis provider %q", config.Provider)
	}
}

type claudeProvider struct {
	client      anthropic.Client
	model       string
	temperature float32
	logger      arbor.ILogger
}

func newClaudeProvider(config common.SynthesisConfig, logger arbor.ILogger) *claudeProvider {
	client := anthropic.NewClient(
		option.WithAPIKey(config.ClaudeKey),
	)
	logger.Debug().Str("model", config.ClaudeModel).Msg("Claude synthesis provider initialized")
	return &claudeProvider{
		client:      client,
		model:       config.ClaudeModel,
		temperature: config.Temperature,
		logger:      logger,
	}
}

func (p *claudeProvider) Generate(ctx context.Context, system, prompt string) (string, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model),
		MaxTokens: 4096,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}
	if p.temperature > 0 {
		params.Temperature = anthropic.Float(float64(p.temperature))
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	resp, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("claude completion failed: %w", err)
	}

	var out strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			out.WriteString(block.Text)
		}
	}
	if out.Len() == 0 {
		return "", fmt.Errorf("claude returned no text content")
	}
	return out.String(), nil
}

type geminiProvider struct {
	client      *genai.Client
	model       string
	temperature float32
	logger      arbor.ILogger
}

func newGeminiProvider(config common.SynthesisConfig, logger arbor.ILogger) (*geminiProvider, error) {
	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  config.GeminiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize genai client: %w", err)
	}
	logger.Debug().Str("model", config.GeminiModel).Msg("Gemini synthesis provider initialized")
	return &geminiProvider{
		client:      client,
		model:       config.GeminiModel,
		temperature: config.Temperature,
		logger:      logger,
	}, nil
}

func (p *geminiProvider) Generate(ctx context.Context, system, prompt string) (string, error) {
	cfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(p.temperature),
	}
	if system != "" {
		cfg.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}

	contents := []*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)}
	resp, err := p.client.Models.GenerateContent(ctx, p.model, contents, cfg)
	if err != nil {
		return "", fmt.Errorf("gemini completion failed: %w", err)
	}

	var out strings.Builder
	for _, candidate := range resp.Candidates {
		if candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if part.Text != "" {
				out.WriteString(part.Text)
			}
		}
		if out.Len() > 0 {
			break
		}
	}
	if out.Len() == 0 {
		return "", fmt.Errorf("gemini returned no text content")
	}
	return out.String(), nil
}

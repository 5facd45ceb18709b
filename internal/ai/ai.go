// Package ai dispatches completion requests to the configured model backend.
// Backend selection is layered: settings stored in the database override the
// static config, and the resolution happens at the start of every call so a
// settings change takes effect without a restart.
package ai

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/facturio/factura-cli/internal/config"
	"github.com/facturio/factura-cli/pkg/anthropic"
	"github.com/facturio/factura-cli/pkg/ollama"
	"github.com/facturio/factura-cli/pkg/openai"
)

// Backend names accepted for the provider setting.
const (
	ProviderOllama    = "ollama"
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
)

// Settings keys that override the static configuration.
const (
	SettingProvider        = "ai_provider"
	SettingAnthropicAPIKey = "anthropic_api_key"
	SettingOpenAIAPIKey    = "openai_api_key"
	SettingOllamaURL       = "ollama_url"
)

const maxTokens = 4096

// jsonSystemPrompt constrains backends without a native JSON mode toggle.
const jsonSystemPrompt = "Responde únicamente con un objeto JSON válido, sin texto adicional ni markdown."

var errNoChoices = eris.New("ai: completion returned no choices")

// SettingsSource exposes the stored runtime settings. A nil source means the
// static configuration is authoritative.
type SettingsSource interface {
	GetSetting(ctx context.Context, key string) (string, error)
}

// BackendConfig is the fully resolved backend selection for one call.
type BackendConfig struct {
	Provider        string
	OllamaURL       string
	OllamaModel     string
	AnthropicAPIKey string
	AnthropicModel  string
	OpenAIAPIKey    string
	OpenAIModel     string
}

// Orchestrator routes prompts to the resolved backend.
type Orchestrator struct {
	cfg      config.AIConfig
	settings SettingsSource

	// factories are indirected so tests can point clients at local servers.
	newOllama    func(url, model string) ollama.Client
	newAnthropic func(apiKey string) anthropic.Client
	newOpenAI    func(apiKey, model string) openai.Client
}

// New creates an Orchestrator. settings may be nil.
func New(cfg config.AIConfig, settings SettingsSource) *Orchestrator {
	return &Orchestrator{
		cfg:      cfg,
		settings: settings,
		newOllama: func(url, model string) ollama.Client {
			return ollama.NewClient(ollama.WithBaseURL(url), ollama.WithModel(model))
		},
		newAnthropic: func(apiKey string) anthropic.Client {
			return anthropic.NewClient(apiKey)
		},
		newOpenAI: func(apiKey, model string) openai.Client {
			return openai.NewClient(apiKey, openai.WithModel(model))
		},
	}
}

// Resolve builds the per-call backend configuration. Stored settings win over
// the static config key by key; a named cloud provider without its credential
// degrades to the local backend.
func (o *Orchestrator) Resolve(ctx context.Context) BackendConfig {
	bc := BackendConfig{
		Provider:        o.cfg.Provider,
		OllamaURL:       o.cfg.OllamaURL,
		OllamaModel:     o.cfg.OllamaModel,
		AnthropicAPIKey: o.cfg.AnthropicAPIKey,
		AnthropicModel:  o.cfg.AnthropicModel,
		OpenAIAPIKey:    o.cfg.OpenAIAPIKey,
		OpenAIModel:     o.cfg.OpenAIModel,
	}
	if bc.Provider == "" {
		bc.Provider = ProviderOllama
	}

	if o.settings != nil {
		if v := o.setting(ctx, SettingProvider); v != "" {
			bc.Provider = v
		}
		if v := o.setting(ctx, SettingAnthropicAPIKey); v != "" {
			bc.AnthropicAPIKey = v
		}
		if v := o.setting(ctx, SettingOpenAIAPIKey); v != "" {
			bc.OpenAIAPIKey = v
		}
		if v := o.setting(ctx, SettingOllamaURL); v != "" {
			bc.OllamaURL = v
		}
	}

	switch bc.Provider {
	case ProviderAnthropic:
		if bc.AnthropicAPIKey == "" {
			zap.L().Warn("ai: anthropic selected without api key, falling back to ollama")
			bc.Provider = ProviderOllama
		}
	case ProviderOpenAI:
		if bc.OpenAIAPIKey == "" {
			zap.L().Warn("ai: openai selected without api key, falling back to ollama")
			bc.Provider = ProviderOllama
		}
	case ProviderOllama:
	default:
		zap.L().Warn("ai: unknown provider, falling back to ollama", zap.String("provider", bc.Provider))
		bc.Provider = ProviderOllama
	}

	return bc
}

// Complete sends a prompt to the resolved backend and returns the raw
// completion text. Backend failures do not propagate: the error text becomes
// the result, and the reconciliation pass downstream turns unparseable
// results into fallback records carrying the reason.
func (o *Orchestrator) Complete(ctx context.Context, prompt string, structured bool) string {
	bc := o.Resolve(ctx)

	text, err := o.dispatch(ctx, bc, prompt, structured)
	if err != nil {
		zap.L().Error("ai: completion failed",
			zap.String("provider", bc.Provider),
			zap.Error(err),
		)
		return err.Error()
	}
	return text
}

func (o *Orchestrator) dispatch(ctx context.Context, bc BackendConfig, prompt string, structured bool) (string, error) {
	switch bc.Provider {
	case ProviderAnthropic:
		req := anthropic.MessageRequest{
			Model:     bc.AnthropicModel,
			MaxTokens: maxTokens,
			Messages:  []anthropic.Message{{Role: "user", Content: prompt}},
		}
		if structured {
			req.System = jsonSystemPrompt
		}
		resp, err := o.newAnthropic(bc.AnthropicAPIKey).CreateMessage(ctx, req)
		if err != nil {
			return "", err
		}
		return resp.Text(), nil

	case ProviderOpenAI:
		req := openai.ChatCompletionRequest{
			Model:    bc.OpenAIModel,
			Messages: []openai.Message{{Role: "user", Content: prompt}},
		}
		if structured {
			req.ResponseFormat = &openai.ResponseFormat{Type: "json_object"}
		}
		resp, err := o.newOpenAI(bc.OpenAIAPIKey, bc.OpenAIModel).ChatCompletion(ctx, req)
		if err != nil {
			return "", err
		}
		if len(resp.Choices) == 0 {
			return "", errNoChoices
		}
		return resp.Choices[0].Message.Content, nil

	default:
		req := ollama.GenerateRequest{
			Model:  bc.OllamaModel,
			Prompt: prompt,
		}
		if structured {
			req.Format = "json"
		}
		resp, err := o.newOllama(bc.OllamaURL, bc.OllamaModel).Generate(ctx, req)
		if err != nil {
			return "", err
		}
		return resp.Response, nil
	}
}

func (o *Orchestrator) setting(ctx context.Context, key string) string {
	v, err := o.settings.GetSetting(ctx, key)
	if err != nil {
		zap.L().Debug("ai: setting lookup failed", zap.String("key", key), zap.Error(err))
		return ""
	}
	return v
}

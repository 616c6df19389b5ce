package gateway

import (
	"fmt"
	"net/http"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/fyrsmithlabs/assistd/internal/config"
)

// Provider names accepted in gateway.provider.
const (
	ProviderOpenAI    = "openai"
	ProviderOllama    = "ollama"
	ProviderAnthropic = "anthropic"
)

// NewModel builds the langchaingo model for the configured provider.
// OpenAI-compatible servers (vLLM, LM Studio, llama.cpp) use the openai
// provider with base_url.
func NewModel(cfg config.GatewayConfig, httpClient *http.Client) (llms.Model, error) {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout.Duration()}
	}

	switch cfg.Provider {
	case ProviderOpenAI, "":
		opts := []openai.Option{openai.WithHTTPClient(httpClient)}
		if cfg.Model != "" {
			opts = append(opts, openai.WithModel(cfg.Model))
		}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		if cfg.APIKey.IsSet() {
			opts = append(opts, openai.WithToken(cfg.APIKey.Value()))
		}
		m, err := openai.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("%w: openai: %v", ErrInvalidConfig, err)
		}
		return m, nil

	case ProviderOllama:
		opts := []ollama.Option{ollama.WithHTTPClient(httpClient)}
		if cfg.Model != "" {
			opts = append(opts, ollama.WithModel(cfg.Model))
		}
		if cfg.BaseURL != "" {
			opts = append(opts, ollama.WithServerURL(cfg.BaseURL))
		}
		m, err := ollama.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("%w: ollama: %v", ErrInvalidConfig, err)
		}
		return m, nil

	case ProviderAnthropic:
		opts := []anthropic.Option{anthropic.WithHTTPClient(httpClient)}
		if cfg.Model != "" {
			opts = append(opts, anthropic.WithModel(cfg.Model))
		}
		if cfg.BaseURL != "" {
			opts = append(opts, anthropic.WithBaseURL(cfg.BaseURL))
		}
		if cfg.APIKey.IsSet() {
			opts = append(opts, anthropic.WithToken(cfg.APIKey.Value()))
		}
		m, err := anthropic.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("%w: anthropic: %v", ErrInvalidConfig, err)
		}
		return m, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, cfg.Provider)
	}
}

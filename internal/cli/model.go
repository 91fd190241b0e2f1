package cli

import (
	"fmt"

	sdk "github.com/anthropics/anthropic-sdk-go"

	"github.com/hupe1980/deckhand/config"
	"github.com/hupe1980/deckhand/model"
	"github.com/hupe1980/deckhand/model/anthropic"
	"github.com/hupe1980/deckhand/model/openai"
)

// buildModel creates the provider adapter named by cfg.Provider.
func buildModel(cfg config.Config) (model.Model, error) {
	switch cfg.Provider {
	case config.ProviderOpenAI:
		return openai.NewModel(func(o *openai.Options) {
			if cfg.Model != "" {
				o.Model = cfg.Model
			}
			o.APIKey = cfg.OpenAIAPIKey
			o.BaseURL = cfg.OpenAIBaseURL
		}), nil
	case config.ProviderAnthropic:
		return anthropic.NewModel(func(o *anthropic.Options) {
			if cfg.Model != "" {
				o.Model = sdk.Model(cfg.Model)
			}
			o.APIKey = cfg.AnthropicAPIKey
		}), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
	}
}

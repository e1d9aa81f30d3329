package responder

import (
	"fmt"

	"reflection-chat-be/pkg/llm"
	"reflection-chat-be/pkg/llm/factory"
)

type Config struct {
	// Provider is "reflection" or any provider known to the llm factory.
	Provider      string
	Model         string
	BaseURL       string
	APIKey        string
	ReflectionURL string
	SystemPrompt  string
}

func New(cfg Config, options ...llm.Option) (Responder, error) {
	if cfg.Provider == "reflection" {
		if cfg.ReflectionURL == "" {
			return nil, fmt.Errorf("reflection responder requires a backend URL")
		}
		return NewReflectionResponder(cfg.ReflectionURL), nil
	}

	provider, err := factory.NewLLMProvider(cfg.Provider, cfg.Model, cfg.BaseURL, cfg.APIKey)
	if err != nil {
		return nil, err
	}
	return NewLLMResponder(provider, cfg.SystemPrompt, options...), nil
}

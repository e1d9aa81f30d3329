package responder

import (
	"context"

	"reflection-chat-be/pkg/llm"
)

const defaultHistoryWindow = 20

// LLMResponder prompts a chat model with a fixed system prompt, the most
// recent history and the new user turn.
type LLMResponder struct {
	provider      llm.LLMProvider
	systemPrompt  string
	historyWindow int
	options       []llm.Option
}

func NewLLMResponder(provider llm.LLMProvider, systemPrompt string, options ...llm.Option) *LLMResponder {
	return &LLMResponder{
		provider:      provider,
		systemPrompt:  systemPrompt,
		historyWindow: defaultHistoryWindow,
		options:       options,
	}
}

func (r *LLMResponder) Respond(ctx context.Context, req Request) (string, error) {
	history := req.History
	if len(history) > r.historyWindow {
		history = history[len(history)-r.historyWindow:]
	}

	messages := make([]llm.Message, 0, len(history)+2)
	if r.systemPrompt != "" {
		messages = append(messages, llm.Message{Role: "system", Content: r.systemPrompt})
	}
	for _, turn := range history {
		messages = append(messages, llm.Message{Role: turn.Role, Content: turn.Content})
	}
	messages = append(messages, llm.Message{Role: "user", Content: req.UserText})

	return r.provider.Chat(ctx, messages, r.options...)
}

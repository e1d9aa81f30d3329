package responder

import (
	"context"
	"fmt"

	"github.com/go-resty/resty/v2"
)

// ReflectionResponder calls an external reflection backend that keeps its own
// conversation state per thread id. The session id is used as thread id.
type ReflectionResponder struct {
	client *resty.Client
}

type reflectionRequest struct {
	InputText string `json:"input_text"`
	ThreadId  string `json:"thread_id"`
}

type reflectionResponse struct {
	AiResponse *string `json:"ai_response"`
}

type reflectionError struct {
	Detail any `json:"detail"`
}

func NewReflectionResponder(baseURL string) *ReflectionResponder {
	return &ReflectionResponder{
		client: resty.New().
			SetBaseURL(baseURL).
			SetHeader("Content-Type", "application/json"),
	}
}

func (r *ReflectionResponder) Respond(ctx context.Context, req Request) (string, error) {
	var result reflectionResponse
	var apiErr reflectionError
	res, err := r.client.R().
		SetContext(ctx).
		SetBody(reflectionRequest{InputText: req.UserText, ThreadId: req.SessionId}).
		SetResult(&result).
		SetError(&apiErr).
		Post("/post")
	if err != nil {
		return "", fmt.Errorf("reflection backend request failed: %w", err)
	}

	if !res.IsSuccess() {
		if apiErr.Detail != nil {
			return "", fmt.Errorf("reflection backend error: status %d - %v", res.StatusCode(), apiErr.Detail)
		}
		return "", fmt.Errorf("reflection backend error: status %d", res.StatusCode())
	}

	if result.AiResponse == nil {
		return "", fmt.Errorf("%w: ai_response missing", ErrMalformedReply)
	}
	return *result.AiResponse, nil
}

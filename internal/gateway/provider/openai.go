package provider

import (
	"context"
	"errors"

	"github.com/go-resty/resty/v2"
	"github.com/tidwall/gjson"
)

// OpenAI speaks the chat-completions protocol, which DeepSeek, Qwen and most
// OpenAI-compatible gateways also implement.
type OpenAI struct {
	*base
	client *resty.Client
}

func NewOpenAI(cfg Settings, opts ...Option) *OpenAI {
	a := &OpenAI{client: newRestyClient(cfg)}
	a.base = newBase(cfg, a.send, opts...)
	return a
}

func (a *OpenAI) send(ctx context.Context, req Request) (Response, error) {
	messages := make([]map[string]string, 0, 2)
	if req.Context != "" {
		messages = append(messages, map[string]string{"role": "system", "content": req.Context})
	}
	messages = append(messages, map[string]string{"role": "user", "content": req.Prompt})
	body := map[string]any{
		"model":       modelFor(a.cfg, req),
		"messages":    messages,
		"temperature": req.Temperature,
	}
	if req.MaxTokens > 0 {
		body["max_tokens"] = req.MaxTokens
	}

	resp, err := a.client.R().
		SetContext(ctx).
		SetAuthToken(a.cfg.APIKey).
		SetBody(body).
		Post("/chat/completions")
	if err != nil {
		return Response{}, err
	}
	if resp.IsError() {
		return Response{}, statusError(resp)
	}
	raw := resp.Body()
	choice := gjson.GetBytes(raw, "choices.0.message.content")
	if !choice.Exists() {
		return Response{}, errors.New("chat completion without choices")
	}
	return Response{
		Content: choice.String(),
		Model:   gjson.GetBytes(raw, "model").String(),
		Usage:   parseUsage(raw, "usage.prompt_tokens", "usage.completion_tokens"),
	}, nil
}

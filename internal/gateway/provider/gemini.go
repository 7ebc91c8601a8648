package provider

import (
	"context"
	"errors"
	"net/url"

	"github.com/go-resty/resty/v2"
	"github.com/tidwall/gjson"
)

type Gemini struct {
	*base
	client *resty.Client
}

func NewGemini(cfg Settings, opts ...Option) *Gemini {
	a := &Gemini{client: newRestyClient(cfg)}
	a.base = newBase(cfg, a.send, opts...)
	return a
}

func (a *Gemini) send(ctx context.Context, req Request) (Response, error) {
	gen := map[string]any{"temperature": req.Temperature}
	if req.MaxTokens > 0 {
		gen["maxOutputTokens"] = req.MaxTokens
	}
	body := map[string]any{
		"contents": []map[string]any{
			{"role": "user", "parts": []map[string]string{{"text": req.Prompt}}},
		},
		"generationConfig": gen,
	}
	if req.Context != "" {
		body["systemInstruction"] = map[string]any{
			"parts": []map[string]string{{"text": req.Context}},
		}
	}

	model := modelFor(a.cfg, req)
	resp, err := a.client.R().
		SetContext(ctx).
		SetHeader("x-goog-api-key", a.cfg.APIKey).
		SetBody(body).
		Post("/models/" + url.PathEscape(model) + ":generateContent")
	if err != nil {
		return Response{}, err
	}
	if resp.IsError() {
		return Response{}, statusError(resp)
	}
	raw := resp.Body()
	parts := gjson.GetBytes(raw, "candidates.0.content.parts.#.text").Array()
	if len(parts) == 0 {
		reason := gjson.GetBytes(raw, "promptFeedback.blockReason").String()
		if reason != "" {
			return Response{}, errors.New("prompt blocked: " + reason)
		}
		return Response{}, errors.New("generateContent without candidates")
	}
	return Response{
		Content: joinText(parts),
		Model:   model,
		Usage:   parseUsage(raw, "usageMetadata.promptTokenCount", "usageMetadata.candidatesTokenCount"),
	}, nil
}

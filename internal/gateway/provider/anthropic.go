package provider

import (
	"context"
	"errors"

	"github.com/go-resty/resty/v2"
	"github.com/tidwall/gjson"
)

const (
	anthropicVersion   = "2023-06-01"
	anthropicMaxTokens = 1024
)

type Anthropic struct {
	*base
	client *resty.Client
}

func NewAnthropic(cfg Settings, opts ...Option) *Anthropic {
	a := &Anthropic{client: newRestyClient(cfg)}
	a.client.SetHeader("anthropic-version", anthropicVersion)
	a.base = newBase(cfg, a.send, opts...)
	return a
}

func (a *Anthropic) send(ctx context.Context, req Request) (Response, error) {
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		// messages 接口要求必须带 max_tokens
		maxTokens = anthropicMaxTokens
	}
	body := map[string]any{
		"model":       modelFor(a.cfg, req),
		"max_tokens":  maxTokens,
		"temperature": req.Temperature,
		"messages": []map[string]string{
			{"role": "user", "content": req.Prompt},
		},
	}
	if req.Context != "" {
		body["system"] = req.Context
	}

	resp, err := a.client.R().
		SetContext(ctx).
		SetHeader("x-api-key", a.cfg.APIKey).
		SetBody(body).
		Post("/messages")
	if err != nil {
		return Response{}, err
	}
	if resp.IsError() {
		return Response{}, statusError(resp)
	}
	raw := resp.Body()
	blocks := gjson.GetBytes(raw, `content.#(type=="text")#.text`).Array()
	if len(blocks) == 0 {
		return Response{}, errors.New("message without text content")
	}
	return Response{
		Content: joinText(blocks),
		Model:   gjson.GetBytes(raw, "model").String(),
		Usage:   parseUsage(raw, "usage.input_tokens", "usage.output_tokens"),
	}, nil
}

package provider

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/tidwall/gjson"
)

func newRestyClient(cfg Settings) *resty.Client {
	c := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	for k, v := range cfg.Headers {
		c.SetHeader(k, v)
	}
	return c
}

func statusError(resp *resty.Response) error {
	return &StatusError{
		Status:     resp.StatusCode(),
		Body:       string(resp.Body()),
		RetryAfter: parseRetryAfter(resp.Header().Get("Retry-After"), time.Now()),
	}
}

// parseRetryAfter 同时支持秒数与 HTTP-date 两种格式。
func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

func parseUsage(raw []byte, promptPath, completionPath string) *TokenUsage {
	p := gjson.GetBytes(raw, promptPath)
	c := gjson.GetBytes(raw, completionPath)
	if !p.Exists() && !c.Exists() {
		return nil
	}
	u := &TokenUsage{PromptTokens: int(p.Int()), CompletionTokens: int(c.Int())}
	u.TotalTokens = u.PromptTokens + u.CompletionTokens
	return u
}

func joinText(results []gjson.Result) string {
	var b strings.Builder
	for _, r := range results {
		b.WriteString(r.String())
	}
	return b.String()
}

func modelFor(cfg Settings, req Request) string {
	if req.Model != "" {
		return req.Model
	}
	return cfg.Model
}

package notifier

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const defaultTelegramAPI = "https://api.telegram.org"

// Telegram 通过 Bot API 推送 Markdown 消息，失败时最多重试 2 次。
type Telegram struct {
	chatID string
	client *resty.Client
}

type TelegramOption func(*resty.Client)

// WithRetryWait 调整重试间隔，主要用于测试。
func WithRetryWait(min, max time.Duration) TelegramOption {
	return func(c *resty.Client) {
		c.SetRetryWaitTime(min).SetRetryMaxWaitTime(max)
	}
}

func NewTelegram(apiBase, botToken, chatID string, opts ...TelegramOption) (*Telegram, error) {
	botToken = strings.TrimSpace(botToken)
	chatID = strings.TrimSpace(chatID)
	if botToken == "" || chatID == "" {
		return nil, fmt.Errorf("telegram requires bot token and chat id")
	}
	apiBase = strings.TrimRight(strings.TrimSpace(apiBase), "/")
	if apiBase == "" {
		apiBase = defaultTelegramAPI
	}
	client := resty.New().
		SetBaseURL(apiBase+"/bot"+botToken).
		SetTimeout(15*time.Second).
		SetHeader("Content-Type", "application/json").
		SetRetryCount(2).
		SetRetryWaitTime(time.Second).
		SetRetryMaxWaitTime(3 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			code := r.StatusCode()
			return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
		})
	for _, opt := range opts {
		opt(client)
	}
	return &Telegram{chatID: chatID, client: client}, nil
}

func (t *Telegram) SendText(ctx context.Context, text string) error {
	var out struct {
		OK          bool   `json:"ok"`
		Description string `json:"description"`
	}
	resp, err := t.client.R().
		SetContext(ctx).
		SetBody(map[string]any{
			"chat_id":    t.chatID,
			"text":       text,
			"parse_mode": "Markdown",
		}).
		SetResult(&out).
		SetError(&out).
		Post("/sendMessage")
	if err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	if resp.IsError() || !out.OK {
		return fmt.Errorf("telegram status=%d: %s", resp.StatusCode(), out.Description)
	}
	return nil
}

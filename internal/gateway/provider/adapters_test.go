package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serverSettings(kind, url string) Settings {
	return Settings{
		ID:         kind + "-test",
		Kind:       kind,
		BaseURL:    url,
		APIKey:     "secret",
		Model:      "model-x",
		Enabled:    true,
		MaxRetries: 1,
		Pricing:    Pricing{InputPer1K: 0.01, OutputPer1K: 0.03},
	}
}

func TestOpenAIAdapter(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.Equal(t, "yes", r.Header.Get("X-Extra"))
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "model-x", body["model"])
		assert.EqualValues(t, 128, body["max_tokens"])
		msgs := body["messages"].([]any)
		require.Len(t, msgs, 2)
		assert.Equal(t, "system", msgs[0].(map[string]any)["role"])

		if hits.Add(1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{"model":"model-x-2024","choices":[{"message":{"content":"{\"action\":\"BUY\"}"}}],"usage":{"prompt_tokens":1000,"completion_tokens":500}}`))
	}))
	defer srv.Close()

	cfg := serverSettings("openai", srv.URL)
	cfg.Headers = map[string]string{"X-Extra": "yes"}
	a := NewOpenAI(cfg, WithRetryBackoff(time.Millisecond, 2*time.Millisecond))
	resp, err := a.GenerateResponse(context.Background(), Request{Prompt: "analyze", Context: "you are a trader", Temperature: 0.3, MaxTokens: 128})
	require.NoError(t, err)
	assert.Equal(t, `{"action":"BUY"}`, resp.Content)
	assert.Equal(t, "model-x-2024", resp.Model)
	assert.Equal(t, "openai-test", resp.Provider)
	require.NotNil(t, resp.Usage)
	assert.Equal(t, 1500, resp.Usage.TotalTokens)
	assert.InDelta(t, 0.025, resp.Cost, 1e-9)
	assert.Equal(t, int32(2), hits.Load())
}

func TestOpenAIAdapter_ServerErrorSurfacesHTTPCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"invalid key"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	a := NewOpenAI(serverSettings("openai", srv.URL))
	_, err := a.GenerateResponse(context.Background(), Request{Prompt: "x"})
	require.Error(t, err)
	assert.Equal(t, Code("HTTP_401"), CodeOf(err))
	assert.False(t, IsRecoverable(err))
}

func TestOpenAIAdapter_TimeoutIsRecoverable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer srv.Close()

	cfg := serverSettings("openai", srv.URL)
	cfg.MaxRetries = 0
	cfg.Timeout = 50 * time.Millisecond
	a := NewOpenAI(cfg)
	_, err := a.GenerateResponse(context.Background(), Request{Prompt: "x"})
	require.Error(t, err)
	assert.Equal(t, CodeTimeout, CodeOf(err))
	assert.True(t, IsRecoverable(err))
}

func TestAnthropicAdapter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/messages", r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("x-api-key"))
		assert.Equal(t, anthropicVersion, r.Header.Get("anthropic-version"))
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.EqualValues(t, anthropicMaxTokens, body["max_tokens"])
		assert.Equal(t, "sys", body["system"])
		_, _ = w.Write([]byte(`{"model":"claude-x","content":[{"type":"text","text":"hel"},{"type":"tool_use","id":"t"},{"type":"text","text":"lo"}],"usage":{"input_tokens":2000,"output_tokens":1000}}`))
	}))
	defer srv.Close()

	a := NewAnthropic(serverSettings("anthropic", srv.URL))
	resp, err := a.GenerateResponse(context.Background(), Request{Prompt: "hi", Context: "sys"})
	require.NoError(t, err)
	assert.Equal(t, "hello", resp.Content)
	assert.Equal(t, "claude-x", resp.Model)
	assert.InDelta(t, 0.02+0.03, resp.Cost, 1e-9)
}

func TestGeminiAdapter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/models/model-x:generateContent", r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("x-goog-api-key"))
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"O"},{"text":"K"}]}}],"usageMetadata":{"promptTokenCount":10,"candidatesTokenCount":2}}`))
	}))
	defer srv.Close()

	a := NewGemini(serverSettings("gemini", srv.URL))
	assert.True(t, a.IsHealthy(context.Background()))
	m := a.Metrics()
	assert.Equal(t, int64(1), m.SuccessfulRequests)
}

func TestGeminiAdapter_BlockedPrompt(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"promptFeedback":{"blockReason":"SAFETY"}}`))
	}))
	defer srv.Close()

	a := NewGemini(serverSettings("gemini", srv.URL))
	_, err := a.GenerateResponse(context.Background(), Request{Prompt: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SAFETY")
	assert.Equal(t, CodeUnknown, CodeOf(err))
}

func TestFactory(t *testing.T) {
	a, err := New(Settings{ID: "ds", Kind: "DeepSeek", APIKey: "k", Model: "deepseek-chat", Enabled: true})
	require.NoError(t, err)
	assert.IsType(t, &OpenAI{}, a)
	assert.NoError(t, a.ValidateConfig())
	assert.Equal(t, "ds", a.ID())

	a, err = New(Settings{ID: "c", Kind: "anthropic"})
	require.NoError(t, err)
	assert.IsType(t, &Anthropic{}, a)

	a, err = New(Settings{ID: "d"})
	require.NoError(t, err)
	assert.IsType(t, &OpenAI{}, a)

	_, err = New(Settings{ID: "x", Kind: "llamafile"})
	assert.ErrorContains(t, err, "unsupported kind")

	assert.Equal(t, []string{"anthropic", "deepseek", "gemini", "openai", "qwen"}, Kinds())
}

func TestPromObserver(t *testing.T) {
	reg := prometheus.NewRegistry()
	obs := NewPromObserver(reg)
	b := newBase(testSettings(), func(ctx context.Context, req Request) (Response, error) {
		if req.Prompt == "fail" {
			return Response{}, &StatusError{Status: 400}
		}
		return Response{Content: "ok", Usage: &TokenUsage{PromptTokens: 1000}}, nil
	}, WithObserver(obs))
	b.cfg.Pricing = Pricing{InputPer1K: 1}

	_, _ = b.GenerateResponse(context.Background(), Request{Prompt: "hello"})
	_, _ = b.GenerateResponse(context.Background(), Request{Prompt: "fail"})

	assert.Equal(t, 1.0, testutil.ToFloat64(obs.requests.WithLabelValues("alpha", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(obs.requests.WithLabelValues("alpha", "failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(obs.failures.WithLabelValues("alpha", "HTTP_400")))
	assert.Equal(t, 1.0, testutil.ToFloat64(obs.cost.WithLabelValues("alpha")))
}

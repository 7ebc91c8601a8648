package notifier

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"quorum/internal/decision"
	"quorum/internal/gateway/exchange"
	"quorum/internal/risk"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTelegram_SendText(t *testing.T) {
	var calls atomic.Int32
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/bottoken/sendMessage", r.URL.Path)
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	tg, err := NewTelegram(srv.URL, "token", "42", WithRetryWait(time.Millisecond, 5*time.Millisecond))
	require.NoError(t, err)
	require.NoError(t, tg.SendText(context.Background(), "hello"))
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, "42", got["chat_id"])
	assert.Equal(t, "hello", got["text"])
}

func TestTelegram_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"ok":false,"description":"chat not found"}`))
	}))
	defer srv.Close()

	tg, err := NewTelegram(srv.URL, "token", "42")
	require.NoError(t, err)
	err = tg.SendText(context.Background(), "hello")
	assert.ErrorContains(t, err, "chat not found")

	_, err = NewTelegram("", "", "42")
	assert.Error(t, err)
	assert.NoError(t, Noop{}.SendText(context.Background(), "x"))
}

func TestMessages(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	d := decision.EnsembleDecision{
		ID:         "d1",
		Symbol:     "BTCUSDT",
		Action:     decision.ActionBuy,
		Confidence: 0.8,
		Consensus:  1,
		Signals: []decision.ProviderSignal{{
			TradingSignal: decision.TradingSignal{Provider: "gpt", Action: decision.ActionBuy, Confidence: 0.8},
			Weight:        1,
		}},
		CreatedAt: at,
	}
	intent := risk.TradeIntent{StopLoss: decimal.NewFromInt(90), TakeProfit: decimal.NewFromInt(120), RiskAmount: decimal.NewFromInt(20)}
	res := exchange.OrderResult{OrderID: "o1", Symbol: "BTCUSDT", Side: risk.SideBuy, Quantity: decimal.NewFromInt(2), AvgPrice: decimal.NewFromInt(100), Venue: "paper", FilledAt: at}

	fill := FillMessage(d, intent, res).RenderMarkdown()
	assert.True(t, strings.HasPrefix(fill, "✅ BTCUSDT BUY filled on paper"))
	assert.Contains(t, fill, "- gpt: BUY 0.80 (w=1.00)")
	assert.Contains(t, fill, "order o1")
	assert.Contains(t, fill, "time: 2026-01-02 03:04:05 UTC")

	rej := RejectionMessage(d, &risk.Rejection{Reason: risk.ReasonMaxPositions, Details: "3 open"}).RenderMarkdown()
	assert.Contains(t, rej, "rejected: MAX_POSITIONS")
	assert.Contains(t, rej, "- 3 open")

	ens := EnsembleErrorMessage(&decision.EnsembleError{Symbol: "ETHUSDT", ProvidersAttempted: []string{"gpt", "claude", "gemini"}, Cause: decision.ErrNoSignals}, at).RenderMarkdown()
	assert.Contains(t, ens, "responded 0/3")
	assert.Contains(t, ens, "providers: gpt, claude, gemini")

	long := StructuredMessage{Title: strings.Repeat("x", maxStructuredMessageLen+10)}.RenderMarkdown()
	assert.True(t, strings.HasSuffix(long, "..."))
	assert.Equal(t, "'''", sanitize("```"))
}

package exchange

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"quorum/internal/risk"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubFeed struct {
	ticker Ticker
	err    error
}

func (s stubFeed) Ticker(context.Context, string) (Ticker, error) { return s.ticker, s.err }

func (s stubFeed) Klines(context.Context, string, string, int) ([]Candle, error) {
	return nil, s.err
}

func intent(side risk.Side, qty string) risk.TradeIntent {
	return risk.TradeIntent{
		DecisionID: "d-1",
		Symbol:     "BTCUSDT",
		Side:       side,
		Quantity:   decimal.RequireFromString(qty),
	}
}

func TestPaper_BuyThenSell(t *testing.T) {
	feed := stubFeed{ticker: Ticker{Symbol: "BTCUSDT", Last: 100, Bid: 99, Ask: 101}}
	p := NewPaper(feed, "usdt", decimal.NewFromInt(1000))
	ctx := context.Background()

	res, err := p.PlaceOrder(ctx, intent(risk.SideBuy, "2"))
	require.NoError(t, err)
	assert.Equal(t, "FILLED", res.Status)
	assert.Equal(t, "paper", res.Venue)
	assert.True(t, res.AvgPrice.Equal(decimal.NewFromInt(101)))
	assert.True(t, res.Quote.Equal(decimal.NewFromInt(202)))

	cash, err := p.Balance(ctx, "USDT")
	require.NoError(t, err)
	assert.True(t, cash.Equal(decimal.NewFromInt(798)), cash.String())
	btc, _ := p.Balance(ctx, "btc")
	assert.True(t, btc.Equal(decimal.NewFromInt(2)))

	_, err = p.PlaceOrder(ctx, intent(risk.SideSell, "1"))
	require.NoError(t, err)
	cash, _ = p.Balance(ctx, "USDT")
	assert.True(t, cash.Equal(decimal.NewFromInt(897)), cash.String())
}

func TestPaper_Rejections(t *testing.T) {
	feed := stubFeed{ticker: Ticker{Last: 100}}
	p := NewPaper(feed, "", decimal.NewFromInt(50))
	ctx := context.Background()

	_, err := p.PlaceOrder(ctx, intent(risk.SideBuy, "1"))
	assert.ErrorIs(t, err, ErrInsufficientFunds)

	_, err = p.PlaceOrder(ctx, intent(risk.SideBuy, "0"))
	assert.ErrorIs(t, err, ErrInvalidOrder)

	_, err = p.PlaceOrder(ctx, risk.TradeIntent{Symbol: "BTCUSDT", Side: "HOLD", Quantity: decimal.NewFromInt(1)})
	assert.ErrorIs(t, err, ErrInvalidOrder)

	p = NewPaper(stubFeed{}, "USDT", decimal.NewFromInt(50))
	_, err = p.PlaceOrder(ctx, intent(risk.SideBuy, "0.1"))
	assert.ErrorIs(t, err, ErrNoPrice)
}

func TestDropUnclosed(t *testing.T) {
	now := time.UnixMilli(10_000)
	candles := []Candle{{CloseTime: 5_000}, {CloseTime: 9_999}, {CloseTime: 12_000}}
	assert.Len(t, dropUnclosed(candles, now), 2)
	assert.Len(t, dropUnclosed(candles[:2], now), 2)
	assert.Empty(t, dropUnclosed(nil, now))
}

func TestRoundToStep(t *testing.T) {
	got := roundToStep(decimal.RequireFromString("0.123456"), decimal.RequireFromString("0.001"))
	assert.Equal(t, "0.123", got.String())
	assert.Equal(t, "1.5", roundToStep(decimal.RequireFromString("1.5"), decimal.Zero).String())
	assert.LessOrEqual(t, len(clientOrderID("6f1c2a5e-8c1d-4b7e-9f0a-0c4b2d1e3f5a")), 36)
}

func newBinanceServer(t *testing.T) (*httptest.Server, *sync.Map) {
	t.Helper()
	seen := &sync.Map{}
	mux := http.NewServeMux()
	writeJSON := func(w http.ResponseWriter, v any) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(v)
	}
	mux.HandleFunc("/api/v3/ticker/24hr", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, []map[string]any{{
			"symbol":             r.URL.Query().Get("symbol"),
			"priceChangePercent": "2.5",
			"lastPrice":          "50000.10",
			"bidPrice":           "50000.00",
			"askPrice":           "50000.20",
			"highPrice":          "51000",
			"lowPrice":           "49000",
			"volume":             "1234.5",
			"quoteVolume":        "61725000",
			"closeTime":          1700000000000,
		}})
	})
	mux.HandleFunc("/api/v3/klines", func(w http.ResponseWriter, r *http.Request) {
		future := time.Now().Add(time.Hour).UnixMilli()
		writeJSON(w, [][]any{
			{1000, "1", "2", "0.5", "1.5", "10", 1999, "15", 7, "5", "7.5", "0"},
			{2000, "1.5", "2.5", "1", "2", "11", 2999, "22", 8, "5", "7.5", "0"},
			{3000, "2", "3", "1.5", "2.5", "12", future, "30", 9, "5", "7.5", "0"},
		})
	})
	mux.HandleFunc("/api/v3/exchangeInfo", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"symbols": []map[string]any{{
				"symbol": "BTCUSDT",
				"filters": []map[string]any{
					{"filterType": "LOT_SIZE", "minQty": "0.00001", "maxQty": "9000", "stepSize": "0.00001"},
				},
			}},
		})
	})
	mux.HandleFunc("/api/v3/order", func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		seen.Store("quantity", r.Form.Get("quantity"))
		seen.Store("side", r.Form.Get("side"))
		seen.Store("type", r.Form.Get("type"))
		writeJSON(w, map[string]any{
			"symbol":              "BTCUSDT",
			"orderId":             42,
			"transactTime":        1700000000000,
			"origQty":             r.Form.Get("quantity"),
			"executedQty":         "0.01",
			"cummulativeQuoteQty": "500.5",
			"status":              "FILLED",
			"type":                "MARKET",
			"side":                r.Form.Get("side"),
		})
	})
	mux.HandleFunc("/api/v3/account", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"balances": []map[string]any{
				{"asset": "BTC", "free": "0.5", "locked": "0"},
				{"asset": "USDT", "free": "1234.56", "locked": "10"},
			},
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, seen
}

func TestBinance_MarketData(t *testing.T) {
	srv, _ := newBinanceServer(t)
	b, err := NewBinance(BinanceConfig{BaseURL: srv.URL})
	require.NoError(t, err)
	ctx := context.Background()

	tk, err := b.Ticker(ctx, "btc/usdt")
	require.NoError(t, err)
	assert.Equal(t, "BTCUSDT", tk.Symbol)
	assert.InDelta(t, 50000.10, tk.Last, 1e-9)
	assert.InDelta(t, 61725000, tk.QuoteVolume, 1e-6)
	assert.InDelta(t, 2.5, tk.ChangePct, 1e-9)

	candles, err := b.Klines(ctx, "BTCUSDT", "1h", 3)
	require.NoError(t, err)
	require.Len(t, candles, 2)
	assert.InDelta(t, 2.0, candles[1].Close, 1e-9)
	assert.Equal(t, int64(8), candles[1].Trades)

	_, err = b.Klines(ctx, "BTCUSDT", "", 3)
	assert.Error(t, err)
}

func TestBinance_PlaceOrderAndBalance(t *testing.T) {
	srv, seen := newBinanceServer(t)
	b, err := NewBinance(BinanceConfig{APIKey: "k", SecretKey: "s", BaseURL: srv.URL, Testnet: true})
	require.NoError(t, err)
	assert.Equal(t, "binance-testnet", b.Name())
	ctx := context.Background()

	res, err := b.PlaceOrder(ctx, intent(risk.SideBuy, "0.0100049"))
	require.NoError(t, err)
	q, _ := seen.Load("quantity")
	assert.Equal(t, "0.01", q)
	side, _ := seen.Load("side")
	assert.Equal(t, "BUY", side)
	assert.Equal(t, "42", res.OrderID)
	assert.Equal(t, "FILLED", res.Status)
	assert.True(t, res.AvgPrice.Equal(decimal.NewFromInt(50050)), res.AvgPrice.String())

	bal, err := b.Balance(ctx, "usdt")
	require.NoError(t, err)
	assert.Equal(t, "1234.56", bal.String())
	missing, err := b.Balance(ctx, "ETH")
	require.NoError(t, err)
	assert.True(t, missing.IsZero())

	_, err = b.PlaceOrder(ctx, intent(risk.SideBuy, "0.000001"))
	assert.ErrorIs(t, err, ErrInvalidOrder)
}

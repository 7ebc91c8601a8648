package symbol

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParse(t *testing.T) {
	tests := []struct {
		in   string
		want Symbol
	}{
		{"BTCUSDT", Symbol{"BTC", "USDT"}},
		{"eth/usdt", Symbol{"ETH", "USDT"}},
		{"SOL-USDC", Symbol{"SOL", "USDC"}},
		{"BTC/USDT:USDT", Symbol{"BTC", "USDT"}},
		{"ETHBTC", Symbol{"ETH", "BTC"}},
		{"USDT", Symbol{}},
		{"", Symbol{}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, Parse(tt.in))
		})
	}
}

func TestNormalizeList(t *testing.T) {
	got := NormalizeList([]string{"btc/usdt", "BTCUSDT", " eth-usdt ", ""})
	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, got)
	assert.Equal(t, "BTC/USDT", Normalize("btcusdt"))
	assert.Equal(t, "FOO", ToExchange("foo"))
}

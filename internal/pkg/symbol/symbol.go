package symbol

import (
	"strings"
)

// quoteCurrencies 按优先级匹配，USDT 需排在 BTC/ETH 之前。
var quoteCurrencies = []string{"USDT", "FDUSD", "USDC", "BUSD", "TUSD", "BTC", "ETH", "BNB"}

type Symbol struct {
	Base  string
	Quote string
}

// Internal 返回 BASE/QUOTE 形式。
func (s Symbol) Internal() string {
	if s.Base == "" || s.Quote == "" {
		return ""
	}
	return s.Base + "/" + s.Quote
}

// Binance 返回交易所使用的无分隔形式，例如 BTCUSDT。
func (s Symbol) Binance() string {
	if s.Base == "" || s.Quote == "" {
		return ""
	}
	return s.Base + s.Quote
}

func (s Symbol) Valid() bool {
	return s.Base != "" && s.Quote != ""
}

// Parse 接受 BTCUSDT、BTC/USDT、btc-usdt、BTC/USDT:USDT 等写法。
func Parse(s string) Symbol {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return Symbol{}
	}
	if idx := strings.Index(s, ":"); idx >= 0 {
		s = s[:idx]
	}
	for _, sep := range []string{"/", "-", "_"} {
		if parts := strings.SplitN(s, sep, 2); len(parts) == 2 {
			return Symbol{
				Base:  strings.TrimSpace(parts[0]),
				Quote: strings.TrimSpace(parts[1]),
			}
		}
	}
	for _, quote := range quoteCurrencies {
		if strings.HasSuffix(s, quote) && len(s) > len(quote) {
			return Symbol{
				Base:  s[:len(s)-len(quote)],
				Quote: quote,
			}
		}
	}
	return Symbol{}
}

// ToExchange 转为 Binance 形式；无法识别时原样大写返回。
func ToExchange(s string) string {
	if sym := Parse(s); sym.Valid() {
		return sym.Binance()
	}
	return strings.ToUpper(strings.TrimSpace(s))
}

func Normalize(s string) string {
	return Parse(s).Internal()
}

// NormalizeList 去重并统一为交易所形式，保留输入顺序。
func NormalizeList(symbols []string) []string {
	if len(symbols) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(symbols))
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		norm := ToExchange(s)
		if norm == "" {
			continue
		}
		if _, ok := seen[norm]; ok {
			continue
		}
		seen[norm] = struct{}{}
		out = append(out, norm)
	}
	return out
}

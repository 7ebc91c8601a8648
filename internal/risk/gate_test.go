package risk

import (
	"context"
	"errors"
	"testing"

	"quorum/internal/decision"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func dec(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

func buyDecision(entry, stop float64) decision.EnsembleDecision {
	return decision.EnsembleDecision{
		ID:         "d-1",
		Symbol:     "BTCUSDT",
		Action:     decision.ActionBuy,
		EntryPrice: entry,
		StopLoss:   stop,
		TakeProfit: entry + 2*(entry-stop),
		Execution:  decision.ExecutionRecommendation{Execute: true},
	}
}

func defaultLimits() RiskLimits {
	return RiskLimits{
		RiskPerTradePct:        5,
		MaxDailyLossPct:        10,
		MaxConcurrentPositions: 3,
		MinTradeAmount:         10,
		MaxTradesPerHour:       5,
	}
}

func TestSize(t *testing.T) {
	sz, err := Size(dec(1000), 5, dec(50000), dec(49000))
	require.NoError(t, err)
	assert.True(t, sz.RiskAmount.Equal(dec(50)), sz.RiskAmount.String())
	assert.True(t, sz.Quantity.Equal(dec(0.05)), sz.Quantity.String())
	assert.True(t, sz.Notional.Equal(dec(2500)), sz.Notional.String())

	_, err = Size(dec(1000), 5, dec(100), dec(100))
	assert.Error(t, err)
}

func TestEvaluate_ApprovesSizedIntent(t *testing.T) {
	snap := PortfolioSnapshot{
		Value:            dec(1000),
		AvailableBalance: decimal.NewNullDecimal(dec(3000)),
	}
	intent, err := NewGate(defaultLimits()).Evaluate(buyDecision(50000, 49000), snap, defaultLimits())
	require.NoError(t, err)
	assert.Equal(t, SideBuy, intent.Side)
	assert.Equal(t, "d-1", intent.DecisionID)
	assert.True(t, intent.Quantity.Equal(dec(0.05)))
	assert.True(t, intent.RiskAmount.Equal(dec(50)))
	assert.True(t, intent.Notional.Equal(dec(2500)))
	assert.True(t, intent.TakeProfit.Equal(dec(52000)))
}

func TestEvaluate_Rejections(t *testing.T) {
	base := PortfolioSnapshot{Value: dec(1000)}
	cases := []struct {
		name   string
		d      decision.EnsembleDecision
		snap   PortfolioSnapshot
		limits func(*RiskLimits)
		want   Reason
	}{
		{
			name: "hold",
			d:    decision.EnsembleDecision{Action: decision.ActionHold, Execution: decision.ExecutionRecommendation{Execute: true}},
			snap: base,
			want: ReasonNoAction,
		},
		{
			name: "execute flag off",
			d: func() decision.EnsembleDecision {
				d := buyDecision(100, 90)
				d.Execution.Execute = false
				return d
			}(),
			snap: base,
			want: ReasonNoAction,
		},
		{
			name: "trade rate",
			d:    buyDecision(100, 90),
			snap: PortfolioSnapshot{Value: dec(1000), TradesInLastHour: 5, OpenPositions: 10},
			want: ReasonRateExceeded,
		},
		{
			name: "max positions",
			d:    buyDecision(100, 90),
			snap: PortfolioSnapshot{Value: dec(1000), OpenPositions: 3},
			want: ReasonMaxPositions,
		},
		{
			name: "missing stop",
			d:    buyDecision(100, 0),
			snap: base,
			want: ReasonInvalidPrices,
		},
		{
			name: "stop above entry on buy",
			d:    buyDecision(100, 101),
			snap: base,
			want: ReasonInvalidPrices,
		},
		{
			name:   "below minimum",
			d:      buyDecision(100, 90),
			snap:   base,
			limits: func(l *RiskLimits) { l.MinTradeAmount = 600 },
			want:   ReasonBelowMinSize,
		},
		{
			name: "insufficient balance",
			d:    buyDecision(50000, 49000),
			snap: base,
			want: ReasonInsufficientBalance,
		},
		{
			name: "explicit available balance",
			d:    buyDecision(100, 90),
			snap: PortfolioSnapshot{Value: dec(1000), AvailableBalance: decimal.NewNullDecimal(dec(100))},
			want: ReasonInsufficientBalance,
		},
		{
			name: "daily loss",
			d:    buyDecision(100, 90),
			snap: PortfolioSnapshot{Value: dec(1000), RealizedPnLToday: dec(-90)},
			want: ReasonDailyLossExceeded,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			limits := defaultLimits()
			if tc.limits != nil {
				tc.limits(&limits)
			}
			_, err := NewGate(limits).Evaluate(tc.d, tc.snap, limits)
			var rej *Rejection
			require.ErrorAs(t, err, &rej)
			assert.Equal(t, tc.want, rej.Reason)
			assert.NotEmpty(t, rej.Details)
		})
	}
}

func TestEvaluate_SellSide(t *testing.T) {
	d := buyDecision(100, 110)
	d.Action = decision.ActionSell
	intent, err := NewGate(defaultLimits()).Evaluate(d, PortfolioSnapshot{Value: dec(1000)}, defaultLimits())
	require.NoError(t, err)
	assert.Equal(t, SideSell, intent.Side)
	assert.True(t, intent.Quantity.Equal(dec(5)))
}

func TestEvaluate_DailyLossBoundary(t *testing.T) {
	// 50 + 50 == 100 is still allowed
	snap := PortfolioSnapshot{Value: dec(1000), RealizedPnLToday: dec(-50)}
	_, err := NewGate(defaultLimits()).Evaluate(buyDecision(100, 90), snap, defaultLimits())
	assert.NoError(t, err)

	snap.RealizedPnLToday = dec(200)
	assert.True(t, snap.TodaysRealizedLoss().IsZero())
}

type mockSource struct {
	mock.Mock
}

func (m *mockSource) PortfolioSnapshot(ctx context.Context) (PortfolioSnapshot, error) {
	args := m.Called(ctx)
	return args.Get(0).(PortfolioSnapshot), args.Error(1)
}

func TestEvaluateFrom(t *testing.T) {
	src := new(mockSource)
	src.On("PortfolioSnapshot", mock.Anything).Return(PortfolioSnapshot{Value: dec(1000)}, nil).Once()
	g := NewGate(defaultLimits())

	intent, err := g.EvaluateFrom(context.Background(), buyDecision(100, 90), src)
	require.NoError(t, err)
	assert.True(t, intent.Quantity.Equal(dec(5)))
	src.AssertExpectations(t)

	hold := decision.EnsembleDecision{Action: decision.ActionHold}
	_, err = g.EvaluateFrom(context.Background(), hold, src)
	var rej *Rejection
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, ReasonNoAction, rej.Reason)
	src.AssertNumberOfCalls(t, "PortfolioSnapshot", 1)

	failing := new(mockSource)
	failing.On("PortfolioSnapshot", mock.Anything).Return(PortfolioSnapshot{}, errors.New("db locked"))
	_, err = g.EvaluateFrom(context.Background(), buyDecision(100, 90), failing)
	assert.ErrorContains(t, err, "db locked")
	assert.False(t, errors.As(err, &rej))
}

func TestLimitsValidate(t *testing.T) {
	assert.NoError(t, defaultLimits().Validate())
	bad := defaultLimits()
	bad.RiskPerTradePct = 0
	assert.Error(t, bad.Validate())
	bad = defaultLimits()
	bad.MaxTradesPerHour = -1
	assert.Error(t, bad.Validate())
}

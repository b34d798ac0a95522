package liquidity

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"polymirror/internal/domain"
)

type stubProber struct {
	metrics *domain.LiquidityMetrics
	err     error
	calls   int
}

func (p *stubProber) ProbeLiquidity(ctx context.Context, tokenID string) (*domain.LiquidityMetrics, error) {
	p.calls++
	return p.metrics, p.err
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestGuardBlocksBelowMinimum(t *testing.T) {
	prober := &stubProber{metrics: &domain.LiquidityMetrics{Health: domain.LiquidityLow}}
	g := New(domain.LiquidityMedium, prober, discard())

	res := g.Check(context.Background(), "tok1")
	require.NotNil(t, res)
	assert.Equal(t, domain.ExecIlliquid, res.Status)
	assert.Equal(t, ReasonInsufficient, res.Reason)
}

func TestGuardPassesAtOrAboveMinimum(t *testing.T) {
	for _, h := range []domain.LiquidityHealth{domain.LiquidityMedium, domain.LiquidityHigh} {
		prober := &stubProber{metrics: &domain.LiquidityMetrics{Health: h}}
		g := New(domain.LiquidityMedium, prober, discard())
		assert.Nil(t, g.Check(context.Background(), "tok1"), "health %s should pass", h)
	}
}

func TestGuardPassesWithoutProber(t *testing.T) {
	g := New(domain.LiquidityHigh, nil, discard())
	assert.Nil(t, g.Check(context.Background(), "tok1"))
}

func TestGuardPassesOnProbeError(t *testing.T) {
	prober := &stubProber{err: domain.ErrNotFound}
	g := New(domain.LiquidityHigh, prober, discard())
	assert.Nil(t, g.Check(context.Background(), "tok1"))
	assert.Equal(t, 1, prober.calls)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		book domain.OrderBook
		side domain.SignalSide
		want domain.LiquidityHealth
	}{
		{
			name: "empty asks is critical",
			book: domain.OrderBook{Bids: []domain.PriceLevel{{Price: 0.4, Size: 100}}},
			side: domain.SideBuy,
			want: domain.LiquidityCritical,
		},
		{
			name: "thin book is low",
			book: domain.OrderBook{
				Bids: []domain.PriceLevel{{Price: 0.40, Size: 100}},
				Asks: []domain.PriceLevel{{Price: 0.42, Size: 120}},
			},
			side: domain.SideBuy,
			want: domain.LiquidityLow,
		},
		{
			name: "deep tight book is high",
			book: domain.OrderBook{
				Bids: []domain.PriceLevel{{Price: 0.40, Size: 5000}},
				Asks: []domain.PriceLevel{{Price: 0.41, Size: 5000}},
			},
			side: domain.SideBuy,
			want: domain.LiquidityHigh,
		},
		{
			name: "sell side reads bids",
			book: domain.OrderBook{
				Bids: []domain.PriceLevel{},
				Asks: []domain.PriceLevel{{Price: 0.41, Size: 5000}},
			},
			side: domain.SideSell,
			want: domain.LiquidityCritical,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := Classify(&tt.book, tt.side)
			assert.Equal(t, tt.want, m.Health)
		})
	}
}

func TestHealthOrdering(t *testing.T) {
	assert.True(t, domain.LiquidityCritical < domain.LiquidityLow)
	assert.True(t, domain.LiquidityLow < domain.LiquidityMedium)
	assert.True(t, domain.LiquidityMedium < domain.LiquidityHigh)
}
